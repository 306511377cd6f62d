// Package compliance evaluates requirement specifications against one meter and enforces
// the accuracy ordering on the verdicts.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/llmjson"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/reasoning"
)

// Error reasons reported on ComplianceReport.Error.
const (
	ReasonEmptyRequirements = "requirements are empty"
	ReasonNoMeterSpec       = "no meter specification available"
)

// Config holds comparator configuration.
type Config struct {
	ChunkSize   int
	ChunkDelay  time.Duration
	Threshold   float64
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns the comparison defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   10,
		ChunkDelay:  2 * time.Second,
		Threshold:   domain.DefaultComplianceThreshold,
		Temperature: 0.1,
		Timeout:     120 * time.Second,
	}
}

// ConfigFrom builds a comparator config from the application config.
func ConfigFrom(c config.ComparisonConfig) Config {
	cfg := DefaultConfig()
	if c.ChunkSize > 0 {
		cfg.ChunkSize = c.ChunkSize
	}
	if c.ChunkDelay >= 0 {
		cfg.ChunkDelay = c.ChunkDelay
	}
	if c.Threshold > 0 {
		cfg.Threshold = c.Threshold
	}
	if c.Temperature > 0 {
		cfg.Temperature = c.Temperature
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	return cfg
}

// Comparator asks the reasoning service for per-requirement verdicts and post-processes them.
type Comparator struct {
	svc    reasoning.Service
	config Config
	logger *observability.Logger
}

// NewComparator creates a new comparator.
func NewComparator(svc reasoning.Service, cfg Config, logger *observability.Logger) *Comparator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = domain.DefaultComplianceThreshold
	}
	return &Comparator{
		svc:    svc,
		config: cfg,
		logger: observability.OrNop(logger).WithComponent("comparator"),
	}
}

// Compare evaluates specifications against meter. It always returns a report: failures
// that prevent any comparison set Error, chunk-level failures become potential issues.
func (c *Comparator) Compare(ctx context.Context, specifications []string, meter *domain.MeterSpec, modelNumber string) domain.ComplianceReport {
	logger := c.logger.WithContext(ctx).WithOperation("compare")

	specs := make([]string, 0, len(specifications))
	for _, s := range specifications {
		if s = strings.TrimSpace(s); s != "" {
			specs = append(specs, s)
		}
	}
	if modelNumber == "" && meter != nil {
		modelNumber = meter.ModelNumber
	}
	if len(specs) == 0 {
		return domain.ErrorReport(modelNumber, ReasonEmptyRequirements)
	}
	if meter.IsEmpty() {
		return domain.ErrorReport(modelNumber, ReasonNoMeterSpec)
	}

	block := RenderMeter(meter)
	chunks := chunkSpecs(specs, c.config.ChunkSize)
	logger.Info().
		Str("model", modelNumber).
		Int("requirements", len(specs)).
		Int("chunks", len(chunks)).
		Msg("comparing requirements")

	report := domain.ComplianceReport{
		ModelNumber:     modelNumber,
		Analysis:        []domain.ComplianceItem{},
		AreasExceeding:  []string{},
		PotentialIssues: []string{},
	}

	var (
		failed  int
		lastErr error
		stages  []string
	)
	for i, chunk := range chunks {
		if i > 0 && c.config.ChunkDelay > 0 {
			if err := sleep(ctx, c.config.ChunkDelay); err != nil {
				report.PotentialIssues = domain.AppendUnique(report.PotentialIssues, fmt.Sprintf("comparison cancelled before chunk %d: %v", i+1, err))
				failed += len(chunks) - i
				lastErr = err
				break
			}
		}

		result, err := c.compareChunk(ctx, chunk, block, modelNumber, i+1, len(chunks))
		if err != nil {
			logger.Warn().Int("chunk", i+1).Err(err).Msg("chunk failed")
			report.PotentialIssues = domain.AppendUnique(report.PotentialIssues, fmt.Sprintf("Chunk %d failed: %v", i+1, err))
			failed++
			lastErr = err
			continue
		}

		report.Analysis = append(report.Analysis, result.Items...)
		report.AreasExceeding = domain.AppendUnique(report.AreasExceeding, result.Exceeding...)
		report.PotentialIssues = domain.AppendUnique(report.PotentialIssues, result.Issues...)
		stages = append(stages, result.Stage)
	}

	if failed == len(chunks) {
		report.Error = fmt.Sprintf("reasoning service failed: %v", lastErr)
		return report
	}
	report.ParseStage = worstStage(stages)

	corrections := Correct(&report, c.config.Threshold)
	report.Recompute(c.config.Threshold)

	logger.Info().
		Str("model", modelNumber).
		Int("items", len(report.Analysis)).
		Int("compliant", report.CompliantCount()).
		Int("corrections", corrections).
		Bool("overall", report.OverallCompliance).
		Str("parse_stage", report.ParseStage).
		Msg("comparison complete")

	return report
}

func (c *Comparator) compareChunk(ctx context.Context, chunk []string, meter, model string, n, total int) (chunkResult, error) {
	prompt, err := renderComparePrompt(chunk, meter, model, n, total)
	if err != nil {
		return chunkResult{}, err
	}

	response, err := c.svc.Invoke(ctx, prompt, reasoning.Options{
		Temperature: c.config.Temperature,
		Timeout:     c.config.Timeout,
	})
	if err != nil {
		return chunkResult{}, err
	}

	result := parseResponse(response)
	if result.Stage == StageFallback {
		c.logger.Warn().Int("chunk", n).Msg("response could not be parsed")
		return result, nil
	}

	recovered, missing := recoverMissing(response, result.Items, chunk)
	if len(recovered) > 0 {
		c.logger.Debug().Int("chunk", n).Int("recovered", len(recovered)).Msg("recovered missing items")
		result.Items = append(result.Items, recovered...)
	}
	for _, m := range missing {
		result.Issues = domain.AppendUnique(result.Issues, "Requirement not analysed: "+m)
	}
	return result, nil
}

func chunkSpecs(specs []string, size int) [][]string {
	if size <= 0 || len(specs) <= size {
		return [][]string{specs}
	}
	var out [][]string
	for start := 0; start < len(specs); start += size {
		end := start + size
		if end > len(specs) {
			end = len(specs)
		}
		out = append(out, specs[start:end])
	}
	return out
}

var stageRank = map[string]int{
	string(llmjson.StageDirect):    0,
	string(llmjson.StageCandidate): 1,
	string(llmjson.StageCleanup):   2,
	StageManual:                    3,
	StageFallback:                  4,
}

// worstStage reports the deepest repair stage any chunk needed.
func worstStage(stages []string) string {
	worst := ""
	for _, s := range stages {
		if worst == "" || stageRank[s] > stageRank[worst] {
			worst = s
		}
	}
	return worst
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

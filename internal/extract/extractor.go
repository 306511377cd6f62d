// Package extract turns tender document text into requirement records.
package extract

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/llmjson"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/reasoning"
)

// Config holds extractor configuration.
type Config struct {
	DedupeThreshold float64
	Temperature     float64
	Timeout         time.Duration
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig() Config {
	return Config{
		DedupeThreshold: DefaultDedupeThreshold,
		Temperature:     0.1,
		Timeout:         120 * time.Second,
	}
}

// SectionFailure reports a section dropped because its specs could not be extracted.
type SectionFailure struct {
	ClauseID string `json:"clause_id"`
	Err      error  `json:"-"`
}

func (f SectionFailure) Error() string {
	return fmt.Sprintf("clause %s: %v", f.ClauseID, f.Err)
}

// Extractor locates clause sections and asks the reasoning service for their specifications.
type Extractor struct {
	svc    reasoning.Service
	config Config
	logger *observability.Logger
}

// NewExtractor creates a new extractor.
func NewExtractor(svc reasoning.Service, cfg Config, logger *observability.Logger) *Extractor {
	if cfg.DedupeThreshold <= 0 {
		cfg.DedupeThreshold = DefaultDedupeThreshold
	}
	return &Extractor{
		svc:    svc,
		config: cfg,
		logger: observability.OrNop(logger).WithComponent("extractor"),
	}
}

type sectionResult struct {
	Specifications     []string `json:"specifications"`
	MeterType          string   `json:"meter_type"`
	HasSufficientSpecs bool     `json:"has_sufficient_specs"`
	Reasoning          string   `json:"reasoning"`
}

// Extract returns one requirement per section that yielded specifications. Sections whose
// reasoning call fails or returns nothing parseable are reported as failures and skipped.
// Only an empty document is an error.
func (e *Extractor) Extract(ctx context.Context, text string, selector ClauseSelector) ([]domain.Requirement, []SectionFailure, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, domain.ErrEmptyDocument
	}

	logger := e.logger.WithContext(ctx)
	sections := FindSections(text, selector)
	logger.Info().
		Int("sections", len(sections)).
		Bool("auto_detect", selector.IsAuto()).
		Msg("sections located")

	var (
		requirements []domain.Requirement
		failures     []SectionFailure
	)
	for _, section := range sections {
		if err := ctx.Err(); err != nil {
			return requirements, failures, err
		}

		req, err := e.extractSection(ctx, section)
		if err != nil {
			logger.Warn().Str("clause_id", section.ClauseID).Err(err).Msg("section dropped")
			failures = append(failures, SectionFailure{ClauseID: section.ClauseID, Err: err})
			continue
		}
		if len(req.Specifications) == 0 {
			logger.Info().Str("clause_id", section.ClauseID).Msg("section has no specifications")
			continue
		}
		requirements = append(requirements, req)
	}

	return requirements, failures, nil
}

func (e *Extractor) extractSection(ctx context.Context, section Section) (domain.Requirement, error) {
	titleType := MeterTypeFromTitle(append([]string{section.Title}, section.ChildTitles...)...)

	prompt, err := renderSectionPrompt(section, titleType)
	if err != nil {
		return domain.Requirement{}, err
	}

	response, err := e.svc.Invoke(ctx, prompt, reasoning.Options{
		Temperature: e.config.Temperature,
		Timeout:     e.config.Timeout,
	})
	if err != nil {
		return domain.Requirement{}, domain.ExtractionError("reasoning call failed", err)
	}

	var parsed sectionResult
	if _, err := llmjson.Decode(response, &parsed); err != nil {
		return domain.Requirement{}, domain.ExtractionError("unparseable extraction output", err)
	}

	meterType := titleType
	if meterType == "" {
		meterType = strings.TrimSpace(parsed.MeterType)
	}
	if meterType == "" {
		meterType = DefaultMeterType
	}

	specs := Dedupe(parsed.Specifications, e.config.DedupeThreshold)
	e.logger.Debug().
		Str("clause_id", section.ClauseID).
		Str("meter_type", meterType).
		Int("raw_specs", len(parsed.Specifications)).
		Int("unique_specs", len(specs)).
		Bool("sufficient", parsed.HasSufficientSpecs).
		Msg("section extracted")

	return domain.Requirement{
		ClauseID:       section.ClauseID,
		Title:          section.Title,
		MeterType:      meterType,
		Specifications: specs,
		SourceText:     section.Content,
	}, nil
}

var sectionPrompt = template.Must(template.New("section").Parse(`Analyze this tender clause {{.ClauseID}} and extract the electrical meter specifications.

Clause ID: {{.ClauseID}}
Clause Title: {{.Title}}
Clause Content:
{{.Content}}

CONTEXT:
This appears to be {{if .MainSection}}a main section{{else}}a subsection{{end}} in a tender document.
{{if .TitleType}}The title indicates this is about a {{.TitleType}}.
{{end}}
TASK:
1. Extract ONLY the technical specifications for electrical meters from this section
2. Format each specification as a clear, concise requirement
3. Combine related sub-points into a single coherent specification where appropriate
4. Focus on electrical, communication, accuracy and certification requirements
5. Do not repeat near-identical specifications

Skip general or procedural text that does not directly specify meter requirements.

REQUIRED OUTPUT FORMAT:
Return JSON only:
{
    "specifications": [
        "Voltage Accuracy ±0.1%",
        "Class A Power Analyzer with IEC 61000-4-30 compliance"
    ],
    "meter_type": "Power Quality Meter",
    "has_sufficient_specs": true,
    "reasoning": "short explanation"
}

If the title explicitly mentions a specific meter type, prefer that type.
`))

func renderSectionPrompt(section Section, titleType string) (string, error) {
	var b strings.Builder
	err := sectionPrompt.Execute(&b, struct {
		Section
		MainSection bool
		TitleType   string
	}{
		Section:     section,
		MainSection: len(strings.Split(section.ClauseID, ".")) <= 2,
		TitleType:   titleType,
	})
	if err != nil {
		return "", fmt.Errorf("render section prompt: %w", err)
	}
	return b.String(), nil
}

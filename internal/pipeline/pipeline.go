// Package pipeline sequences extraction, ranking, lookup and comparison for a tender document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/extract"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/storage"
)

// Clause error messages.
const (
	MsgSpecsNotFound = "specs not found"
	MsgNoCandidates  = "no candidate meters found"
)

// Extractor finds requirement records in document text.
type Extractor interface {
	Extract(ctx context.Context, text string, selector extract.ClauseSelector) ([]domain.Requirement, []extract.SectionFailure, error)
}

// Ranker orders candidate meters for a requirement.
type Ranker interface {
	Rank(ctx context.Context, req domain.Requirement) ([]domain.RankedMatch, error)
}

// Comparator evaluates requirement specifications against a meter.
type Comparator interface {
	Compare(ctx context.Context, specifications []string, meter *domain.MeterSpec, modelNumber string) domain.ComplianceReport
}

// Stage names reported to progress hooks.
type Stage string

const (
	StageExtracted Stage = "extracted"
	StageRanking   Stage = "ranking"
	StageLookup    Stage = "lookup"
	StageComparing Stage = "comparing"
	StageDone      Stage = "done"
)

// Event is one progress notification.
type Event struct {
	Stage    Stage
	ClauseID string
	Index    int
	Total    int
	Model    string
}

// Options tune one run.
type Options struct {
	// Overrides maps clause ids to a meter model that replaces the ranker's selection.
	Overrides map[string]string
	// Progress, when set, is called synchronously as clauses advance.
	Progress func(Event)
}

// ClauseResult is the outcome for one requirement. Error is set when any step failed.
type ClauseResult struct {
	Requirement domain.Requirement       `json:"requirement"`
	Matches     []domain.RankedMatch     `json:"matches"`
	Selected    string                   `json:"selected_model,omitempty"`
	Overridden  bool                     `json:"overridden,omitempty"`
	Spec        *domain.MeterSpec        `json:"meter_spec,omitempty"`
	SpecsFound  bool                     `json:"specs_found"`
	Report      *domain.ComplianceReport `json:"compliance,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Duration    time.Duration            `json:"duration"`
}

// Compliant reports whether the clause produced a compliant report.
func (c ClauseResult) Compliant() bool {
	return c.Error == "" && c.Report != nil && c.Report.OverallCompliance
}

// Failure is a section the extractor had to drop.
type Failure struct {
	ClauseID string `json:"clause_id"`
	Error    string `json:"error"`
}

// Result is the outcome of a full run.
type Result struct {
	RunID       string         `json:"run_id"`
	Clauses     []ClauseResult `json:"clauses"`
	Failures    []Failure      `json:"extraction_failures,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
}

// CompliantCount returns the number of compliant clauses.
func (r *Result) CompliantCount() int {
	n := 0
	for _, c := range r.Clauses {
		if c.Compliant() {
			n++
		}
	}
	return n
}

// Pipeline runs Extract, Rank, Find and Compare per requirement.
type Pipeline struct {
	extractor  Extractor
	ranker     Ranker
	store      storage.Store
	comparator Comparator
	logger     *observability.Logger
}

// New creates a pipeline.
func New(extractor Extractor, ranker Ranker, store storage.Store, comparator Comparator, logger *observability.Logger) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		ranker:     ranker,
		store:      store,
		comparator: comparator,
		logger:     observability.OrNop(logger).WithComponent("pipeline"),
	}
}

// Run processes text end to end. Only an empty document or cancellation is returned as an
// error; per-clause failures are recorded on the clause results.
func (p *Pipeline) Run(ctx context.Context, text string, selector extract.ClauseSelector, opts Options) (*Result, error) {
	ctx, runID := observability.EnsureRunID(ctx)
	logger := p.logger.WithContext(ctx).WithOperation("run")

	result := &Result{RunID: runID, Clauses: []ClauseResult{}, StartedAt: time.Now()}

	// Step 1: Extract requirements
	requirements, failures, err := p.extractor.Extract(ctx, text, selector)
	if err != nil {
		return nil, fmt.Errorf("extract requirements: %w", err)
	}
	for _, f := range failures {
		result.Failures = append(result.Failures, Failure{ClauseID: f.ClauseID, Error: f.Err.Error()})
	}
	logger.Info().
		Int("requirements", len(requirements)).
		Int("failures", len(failures)).
		Msg("requirements extracted")
	p.emit(opts, Event{Stage: StageExtracted, Total: len(requirements)})

	// Step 2: Rank, look up and compare each requirement
	for i, req := range requirements {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		clause := p.runClause(ctx, req, opts, i, len(requirements))
		result.Clauses = append(result.Clauses, clause)
		p.emit(opts, Event{Stage: StageDone, ClauseID: req.ClauseID, Index: i, Total: len(requirements), Model: clause.Selected})
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	logger.Info().
		Int("clauses", len(result.Clauses)).
		Int("compliant", result.CompliantCount()).
		Dur("duration", result.Duration).
		Msg("run completed")

	return result, nil
}

// Analyze runs ranking, lookup and comparison for one requirement.
func (p *Pipeline) Analyze(ctx context.Context, req domain.Requirement, override string) ClauseResult {
	ctx, _ = observability.EnsureRunID(ctx)
	opts := Options{}
	if override != "" {
		opts.Overrides = map[string]string{req.ClauseID: override}
	}
	return p.runClause(ctx, req, opts, 0, 1)
}

func (p *Pipeline) runClause(ctx context.Context, req domain.Requirement, opts Options, index, total int) (clause ClauseResult) {
	start := time.Now()
	logger := p.logger.WithContext(ctx).WithOperation("clause")
	clause = ClauseResult{Requirement: req, Matches: []domain.RankedMatch{}}
	defer func() { clause.Duration = time.Since(start) }()

	event := Event{ClauseID: req.ClauseID, Index: index, Total: total}

	override := strings.TrimSpace(opts.Overrides[req.ClauseID])
	if override != "" {
		clause.Selected = override
		clause.Overridden = true
		logger.Info().Str("clause_id", req.ClauseID).Str("model", override).Msg("using meter override")
	} else {
		event.Stage = StageRanking
		p.emit(opts, event)

		matches, err := p.ranker.Rank(ctx, req)
		if err != nil {
			logger.Warn().Str("clause_id", req.ClauseID).Err(err).Msg("ranking failed")
			clause.Error = fmt.Sprintf("ranking failed: %v", err)
			return clause
		}
		clause.Matches = matches
		if len(matches) == 0 {
			clause.Error = MsgNoCandidates
			return clause
		}
		clause.Selected = matches[0].ModelNumber
	}

	event.Stage = StageLookup
	event.Model = clause.Selected
	p.emit(opts, event)

	spec, err := p.store.Find(ctx, clause.Selected)
	if err != nil || spec.IsEmpty() {
		if err != nil && !errors.Is(err, domain.ErrSpecNotFound) {
			logger.Warn().Str("clause_id", req.ClauseID).Str("model", clause.Selected).Err(err).Msg("spec lookup failed")
		}
		clause.Error = MsgSpecsNotFound
		return clause
	}
	clause.Spec = spec
	clause.SpecsFound = true

	event.Stage = StageComparing
	p.emit(opts, event)

	report := p.comparator.Compare(ctx, req.Specifications, spec, clause.Selected)
	clause.Report = &report
	if report.Error != "" {
		clause.Error = "comparison failed: " + report.Error
	}

	logger.Info().
		Str("clause_id", req.ClauseID).
		Str("model", clause.Selected).
		Bool("compliant", report.OverallCompliance).
		Msg("clause analysed")
	return clause
}

func (p *Pipeline) emit(opts Options, e Event) {
	if opts.Progress != nil {
		opts.Progress(e)
	}
}

// ParseOverrides reads "clause=model" pairs.
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		clause, model, ok := strings.Cut(pair, "=")
		clause, model = strings.TrimSpace(clause), strings.TrimSpace(model)
		if !ok || clause == "" || model == "" {
			return nil, domain.ValidationError(fmt.Sprintf("invalid override %q, want clause=model", pair), nil)
		}
		out[clause] = model
	}
	return out, nil
}

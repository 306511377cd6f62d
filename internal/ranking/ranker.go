// Package ranking selects and orders candidate meters for a requirement.
package ranking

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

// CandidateSource returns catalogue products matching a filter.
type CandidateSource interface {
	Candidates(ctx context.Context, filter domain.CandidateFilter) ([]domain.Candidate, error)
}

// Config holds ranker configuration.
type Config struct {
	MaxResults       int
	CandidateLimit   int
	DescriptionChars int
	Temperature      float64
	Timeout          time.Duration
	KnownModels      []string
	CostSensitive    []TierAdjustment
	HighEnd          []TierAdjustment
	// SummarizeCompliance attaches a per-requirement verdict map to each returned match.
	SummarizeCompliance bool
}

// DefaultConfig returns the ranking defaults.
func DefaultConfig() Config {
	return Config{
		MaxResults:          5,
		CandidateLimit:      25,
		DescriptionChars:    120,
		Temperature:         0.2,
		Timeout:             120 * time.Second,
		KnownModels:         KnownModels,
		CostSensitive:       DefaultCostSensitive,
		HighEnd:             DefaultHighEnd,
		SummarizeCompliance: true,
	}
}

// ConfigFrom builds a ranker config from the application config.
func ConfigFrom(c config.RankingConfig, timeout time.Duration) Config {
	cfg := DefaultConfig()
	if c.MaxResults > 0 {
		cfg.MaxResults = c.MaxResults
	}
	if c.CandidateLimit > 0 {
		cfg.CandidateLimit = c.CandidateLimit
	}
	if c.DescriptionChars > 0 {
		cfg.DescriptionChars = c.DescriptionChars
	}
	if c.Temperature > 0 {
		cfg.Temperature = c.Temperature
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if len(c.KnownModels) > 0 {
		cfg.KnownModels = c.KnownModels
	}
	cfg.CostSensitive = AdjustmentsFromConfig(c.CostSensitive, DefaultCostSensitive)
	cfg.HighEnd = AdjustmentsFromConfig(c.HighEnd, DefaultHighEnd)
	return cfg
}

// Ranker ranks the catalogue pool and knowledge-base proposals for one requirement.
// Every returned model number is either in the candidate pool or in the known lineup.
type Ranker struct {
	svc      reasoning.Service
	source   CandidateSource
	proposer Proposer
	config   Config
	logger   *observability.Logger
}

// NewRanker creates a ranker. source and proposer may be nil.
func NewRanker(svc reasoning.Service, source CandidateSource, proposer Proposer, cfg Config, logger *observability.Logger) *Ranker {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 25
	}
	if cfg.KnownModels == nil {
		cfg.KnownModels = KnownModels
	}
	return &Ranker{
		svc:      svc,
		source:   source,
		proposer: proposer,
		config:   cfg,
		logger:   observability.OrNop(logger).WithComponent("ranker"),
	}
}

// Rank returns at most MaxResults matches, best first. Index 0 is the selection and the
// next two are alternatives. No candidates yields an empty slice.
func (r *Ranker) Rank(ctx context.Context, req domain.Requirement) ([]domain.RankedMatch, error) {
	logger := r.logger.WithContext(ctx).WithOperation("rank")
	signals := DetectSignals(req)

	pool := r.candidatePool(ctx, req)
	allow := newAllowList(pool, r.config.KnownModels)
	logger.Info().
		Str("clause_id", req.ClauseID).
		Str("meter_type", req.MeterType).
		Int("pool", len(pool)).
		Str("posture", signals.Posture()).
		Msg("ranking candidates")

	var dbMatches []domain.RankedMatch
	if len(pool) > 0 {
		dbMatches = r.rankPool(ctx, req, pool, allow, signals)
	}

	kbMatches := r.proposals(ctx, req, allow, signals)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := dedupeByModel(r.combine(ctx, req, signals, dbMatches, kbMatches))
	if len(all) > r.config.MaxResults {
		all = all[:r.config.MaxResults]
	}

	if r.config.SummarizeCompliance {
		for i := range all {
			all[i].SpecCompliance = r.summarize(ctx, req.Specifications, all[i].Description)
		}
	}

	logger.Info().
		Int("database_matches", len(dbMatches)).
		Int("knowledge_base_matches", len(kbMatches)).
		Int("returned", len(all)).
		Msg("ranking complete")

	if all == nil {
		all = []domain.RankedMatch{}
	}
	return all, nil
}

func (r *Ranker) options() reasoning.Options {
	return reasoning.Options{Temperature: r.config.Temperature, Timeout: r.config.Timeout}
}

// candidatePool tries the tier filter, then the generic filter, then an unfiltered query.
func (r *Ranker) candidatePool(ctx context.Context, req domain.Requirement) []domain.Candidate {
	if r.source == nil {
		return nil
	}

	filters := []domain.CandidateFilter{
		TierFilter(req.MeterType, r.config.CandidateLimit),
		GenericFilter(r.config.CandidateLimit),
		{Limit: r.config.CandidateLimit},
	}
	for i, f := range filters {
		if i == 0 && f.IsEmpty() {
			continue
		}
		pool, err := r.source.Candidates(ctx, f)
		if err != nil {
			r.logger.Warn().Err(err).Int("filter", i).Msg("candidate query failed")
			continue
		}
		if len(pool) > 0 {
			return pool
		}
	}
	return nil
}

type primaryRanking struct {
	Model              string   `json:"model"`
	Score              *float64 `json:"score"`
	ValueScore         *float64 `json:"value_score"`
	FitReasoning       string   `json:"fit_reasoning"`
	ValueReasoning     string   `json:"value_reasoning"`
	SpecificationMatch string   `json:"specification_match"`
}

type constrainedRanking struct {
	Model           string   `json:"model"`
	Score           *float64 `json:"score"`
	Reasoning       string   `json:"reasoning"`
	ValueAssessment string   `json:"value_assessment"`
}

// rankPool runs the primary ranking, then the constrained ranking, then rule-based selection.
func (r *Ranker) rankPool(ctx context.Context, req domain.Requirement, pool []domain.Candidate, allow *AllowList, signals Signals) []domain.RankedMatch {
	matches, err := r.primaryRank(ctx, req, pool, allow, signals)
	if err == nil && len(matches) > 0 {
		return matches
	}
	r.logger.Warn().Err(err).Str("clause_id", req.ClauseID).Msg("primary ranking unusable, retrying constrained")

	matches, err = r.constrainedRank(ctx, req, pool, allow, signals)
	if err == nil && len(matches) > 0 {
		return matches
	}
	r.logger.Warn().Err(err).Str("clause_id", req.ClauseID).Msg("constrained ranking unusable, using rule-based selection")

	return ruleBasedSelection(pool, signals)
}

func (r *Ranker) primaryRank(ctx context.Context, req domain.Requirement, pool []domain.Candidate, allow *AllowList, signals Signals) ([]domain.RankedMatch, error) {
	prompt := buildRankPrompt(req, pool, signals, r.config.DescriptionChars)
	response, err := r.svc.Invoke(ctx, prompt, r.options())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Analysis          string           `json:"analysis"`
		CostConsideration string           `json:"cost_consideration"`
		Rankings          []primaryRanking `json:"rankings"`
	}
	if _, err := llmjson.Decode(response, &parsed); err != nil {
		return nil, domain.ParseError("primary ranking", err)
	}

	var (
		out     []domain.RankedMatch
		invalid []string
	)
	for _, rk := range parsed.Rankings {
		c, ok := allow.InPool(strings.TrimSpace(rk.Model))
		if !ok {
			invalid = append(invalid, rk.Model)
			continue
		}
		score := 50.0
		if rk.Score != nil {
			score = *rk.Score
		}
		value := score
		if rk.ValueScore != nil {
			value = *rk.ValueScore
		}
		reasoningText := rk.FitReasoning
		if rk.ValueReasoning != "" {
			reasoningText += " Value consideration: " + rk.ValueReasoning
		}
		out = append(out, matchFromCandidate(c, int((score+value)/2), strings.TrimSpace(reasoningText)))
	}

	if len(invalid) > 0 {
		r.logger.Warn().Strs("models", invalid).Msg("discarded models outside the candidate pool")
	}
	if len(out) == 0 && len(invalid) > 0 {
		return nil, domain.HallucinationError(fmt.Sprintf("all %d ranked models are outside the candidate pool", len(invalid)), nil)
	}
	return dedupeByModel(out), nil
}

func (r *Ranker) constrainedRank(ctx context.Context, req domain.Requirement, pool []domain.Candidate, allow *AllowList, signals Signals) ([]domain.RankedMatch, error) {
	response, err := r.svc.Invoke(ctx, buildConstrainedPrompt(req, pool, signals), r.options())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Rankings []constrainedRanking `json:"rankings"`
	}
	if _, err := llmjson.Decode(response, &parsed); err != nil {
		return nil, domain.ParseError("constrained ranking", err)
	}

	var out []domain.RankedMatch
	for _, rk := range parsed.Rankings {
		c, ok := allow.InPool(strings.TrimSpace(rk.Model))
		if !ok {
			r.logger.Warn().Str("model", rk.Model).Msg("constrained ranking named a model outside the pool")
			continue
		}
		score := 50.0
		if rk.Score != nil {
			score = *rk.Score
		}
		reasoningText := rk.Reasoning
		if rk.ValueAssessment != "" {
			reasoningText += " Value assessment: " + rk.ValueAssessment
		}
		out = append(out, matchFromCandidate(c, int(score), strings.TrimSpace(reasoningText)))
	}
	return dedupeByModel(out), nil
}

// proposals returns the proposer's matches that pass the allow-list.
func (r *Ranker) proposals(ctx context.Context, req domain.Requirement, allow *AllowList, signals Signals) []domain.RankedMatch {
	if r.proposer == nil {
		return nil
	}
	proposed, err := r.proposer.Propose(ctx, req, signals)
	if err != nil {
		r.logger.Warn().Err(err).Str("clause_id", req.ClauseID).Msg("knowledge base proposal failed")
		return nil
	}

	var out []domain.RankedMatch
	for _, m := range proposed {
		if !allow.Allowed(m.ModelNumber) {
			r.logger.Warn().Str("model", m.ModelNumber).Msg("knowledge base proposed an unknown model")
			continue
		}
		out = append(out, m)
	}
	return out
}

type rerankResult struct {
	Index          *int     `json:"index"`
	FinalScore     *float64 `json:"final_score"`
	ValueReasoning string   `json:"value_reasoning"`
}

// combine merges both sources. A single source gets tier adjustments and a score sort;
// two sources are re-ranked together by the reasoning service.
func (r *Ranker) combine(ctx context.Context, req domain.Requirement, signals Signals, db, kb []domain.RankedMatch) []domain.RankedMatch {
	all := make([]domain.RankedMatch, 0, len(db)+len(kb))
	all = append(all, db...)
	all = append(all, kb...)
	if len(all) == 0 {
		return nil
	}

	if len(db) == 0 || len(kb) == 0 {
		var adjustments []TierAdjustment
		switch signals.Posture() {
		case "cost_sensitive":
			adjustments = r.config.CostSensitive
		case "high_end":
			adjustments = r.config.HighEnd
		}
		for i := range all {
			applyTier(&all[i], adjustments)
		}
		sortByScore(all)
		return all
	}

	reranked, err := r.rerank(ctx, req, signals, all)
	if err != nil {
		r.logger.Warn().Err(err).Msg("re-rank failed, ordering by score")
		sortByScore(all)
		return all
	}
	return reranked
}

func (r *Ranker) rerank(ctx context.Context, req domain.Requirement, signals Signals, all []domain.RankedMatch) ([]domain.RankedMatch, error) {
	prompt, err := buildRerankPrompt(req, all, signals)
	if err != nil {
		return nil, err
	}
	response, err := r.svc.Invoke(ctx, prompt, r.options())
	if err != nil {
		return nil, err
	}

	var parsed []rerankResult
	if _, err := llmjson.Decode(response, &parsed); err != nil {
		return nil, domain.ParseError("re-rank", err)
	}

	out := make([]domain.RankedMatch, 0, len(all))
	used := make(map[int]bool, len(all))
	for _, rr := range parsed {
		if rr.Index == nil || *rr.Index < 0 || *rr.Index >= len(all) || used[*rr.Index] {
			continue
		}
		idx := *rr.Index
		used[idx] = true
		m := all[idx]
		if rr.FinalScore != nil {
			m.Score = clampScore(int(*rr.FinalScore))
		}
		if rr.ValueReasoning != "" {
			m.Reasoning = strings.TrimSpace(m.Reasoning + " Value assessment: " + rr.ValueReasoning)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, domain.ParseError("re-rank named no valid index", nil)
	}
	for i, m := range all {
		if !used[i] {
			out = append(out, m)
		}
	}
	return out, nil
}

// dedupeByModel keeps the first match for each model number, ignoring case.
func dedupeByModel(matches []domain.RankedMatch) []domain.RankedMatch {
	if len(matches) < 2 {
		return matches
	}
	seen := make(map[string]bool, len(matches))
	out := matches[:0]
	for _, m := range matches {
		key := strings.ToUpper(strings.TrimSpace(m.ModelNumber))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

package ranking

import (
	"context"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/llmjson"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/reasoning"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/storage"
)

// DefaultProposalScore is used when a proposal carries no score.
const DefaultProposalScore = 60

// Proposer suggests matches from a secondary source. Returned model numbers are untrusted.
type Proposer interface {
	Propose(ctx context.Context, req domain.Requirement, signals Signals) ([]domain.RankedMatch, error)
}

// Catalogue lists the series a knowledge base can serve.
type Catalogue interface {
	Catalogue() []storage.SeriesSummary
}

// KnowledgeProposer asks the reasoning service to pick models from the knowledge-base catalogue.
type KnowledgeProposer struct {
	svc       reasoning.Service
	catalogue Catalogue
	options   reasoning.Options
	logger    *observability.Logger
}

// NewKnowledgeProposer creates a proposer over catalogue.
func NewKnowledgeProposer(svc reasoning.Service, catalogue Catalogue, opts reasoning.Options, logger *observability.Logger) *KnowledgeProposer {
	return &KnowledgeProposer{
		svc:       svc,
		catalogue: catalogue,
		options:   opts,
		logger:    observability.OrNop(logger).WithComponent("kb_proposer"),
	}
}

type proposal struct {
	Series          string `json:"series"`
	Model           string `json:"model"`
	Score           *int   `json:"score"`
	Reasoning       string `json:"reasoning"`
	ValueAssessment string `json:"value_assessment"`
}

// Propose returns the service's picks converted to knowledge-base matches.
func (p *KnowledgeProposer) Propose(ctx context.Context, req domain.Requirement, signals Signals) ([]domain.RankedMatch, error) {
	catalogue := p.catalogue.Catalogue()
	if len(catalogue) == 0 {
		return nil, nil
	}

	response, err := p.svc.Invoke(ctx, buildProposalPrompt(req, catalogue, signals), p.options)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Matches []proposal `json:"matches"`
	}
	if _, err := llmjson.Decode(response, &parsed); err != nil {
		return nil, domain.ParseError("knowledge-base proposal", err)
	}

	out := make([]domain.RankedMatch, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		model := strings.TrimSpace(m.Model)
		if model == "" {
			continue
		}
		score := DefaultProposalScore
		if m.Score != nil {
			score = *m.Score
		}
		reasoningText := m.Reasoning
		if m.ValueAssessment != "" {
			reasoningText = strings.TrimSpace(reasoningText + " Value consideration: " + m.ValueAssessment)
		}
		series := m.Series
		if series == "" {
			series = "Unknown Series"
		}
		out = append(out, domain.RankedMatch{
			ModelNumber: model,
			ProductID:   "KB_" + model,
			Description: "From " + series,
			Score:       clampScore(score),
			Reasoning:   reasoningText,
			Source:      domain.SourceKnowledgeBase,
		})
	}
	p.logger.Debug().Int("proposals", len(out)).Msg("knowledge base proposals received")
	return out, nil
}

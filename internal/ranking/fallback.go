package ranking

import (
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
)

// FallbackScore is the confidence given to rule-based selections.
const FallbackScore = 70

var familyOrder = map[string][]string{
	"cost_sensitive": {"PM2", "PM5", "IEM", "PM8", "ION"},
	"high_end":       {"PM8", "ION", "PM5", "PM2", "IEM"},
	"balanced":       {"PM5", "PM8", "PM2", "ION", "IEM"},
}

var fallbackReasoning = map[string]string{
	"cost_sensitive": "Selected for cost-effectiveness based on requirements",
	"high_end":       "Selected to meet advanced technical requirements",
	"balanced":       "Selected for balanced performance and value",
}

// ruleBasedSelection picks the first pool member of each family, in the order the
// requirement's posture prefers. It never calls the reasoning service.
func ruleBasedSelection(pool []domain.Candidate, signals Signals) []domain.RankedMatch {
	posture := signals.Posture()

	var out []domain.RankedMatch
	for _, family := range familyOrder[posture] {
		for _, c := range pool {
			if !strings.Contains(strings.ToUpper(c.ModelNumber), family) {
				continue
			}
			out = append(out, matchFromCandidate(c, FallbackScore, fallbackReasoning[posture]))
			break
		}
	}
	return out
}

func matchFromCandidate(c domain.Candidate, score int, reasoning string) domain.RankedMatch {
	source := c.Source
	if source == "" {
		source = domain.SourceDatabase
	}
	return domain.RankedMatch{
		ModelNumber: c.ModelNumber,
		ProductID:   c.ProductID,
		Description: c.Description,
		Score:       clampScore(score),
		Reasoning:   reasoning,
		Source:      source,
	}
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

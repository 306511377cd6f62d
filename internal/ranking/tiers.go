package ranking

import (
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
)

// TierAdjustment scales the score of models whose upper-cased number contains Prefix.
// Multipliers above 1 are capped at 100; those below 1 are floored at Floor.
type TierAdjustment struct {
	Prefix     string
	Multiplier float64
	Floor      int
	// Note is appended to the reasoning when the adjustment applies.
	Note string
}

// DefaultCostSensitive favours the lower-cost families.
var DefaultCostSensitive = []TierAdjustment{
	{Prefix: "PM2", Multiplier: 1.3, Note: " (Selected for cost-effectiveness)"},
	{Prefix: "PM5", Multiplier: 1.1},
	{Prefix: "PM8", Multiplier: 0.8, Floor: 30},
	{Prefix: "ION9", Multiplier: 0.6, Floor: 20},
}

// DefaultHighEnd favours the premium families.
var DefaultHighEnd = []TierAdjustment{
	{Prefix: "ION9", Multiplier: 1.3, Note: " (Selected for advanced capabilities)"},
	{Prefix: "PM8", Multiplier: 1.2},
	{Prefix: "PM5", Multiplier: 1.0},
	{Prefix: "PM2", Multiplier: 0.7, Floor: 30},
}

// AdjustmentsFromConfig converts configured adjustments, keeping defaults when none are set.
func AdjustmentsFromConfig(in []config.TierAdjustment, defaults []TierAdjustment) []TierAdjustment {
	if len(in) == 0 {
		return defaults
	}
	notes := make(map[string]string, len(defaults))
	for _, d := range defaults {
		notes[d.Prefix] = d.Note
	}
	out := make([]TierAdjustment, 0, len(in))
	for _, a := range in {
		prefix := strings.ToUpper(a.Prefix)
		out = append(out, TierAdjustment{Prefix: prefix, Multiplier: a.Multiplier, Floor: a.Floor, Note: notes[prefix]})
	}
	return out
}

// applyTier adjusts one match in place; the first adjustment whose prefix matches wins.
func applyTier(m *domain.RankedMatch, adjustments []TierAdjustment) {
	model := strings.ToUpper(m.ModelNumber)
	for _, a := range adjustments {
		if !strings.Contains(model, a.Prefix) {
			continue
		}
		score := int(float64(m.Score) * a.Multiplier)
		if a.Multiplier > 1 && score > 100 {
			score = 100
		}
		if a.Multiplier < 1 && score < a.Floor {
			score = a.Floor
		}
		m.Score = score
		m.Reasoning += a.Note
		return
	}
}

// sortByScore orders matches by descending score. Ties keep database matches ahead of
// knowledge-base matches, then input order.
func sortByScore(matches []domain.RankedMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Source == domain.SourceDatabase && matches[j].Source != domain.SourceDatabase
	})
}

// seriesLabel is the family label shown to the reasoning service during re-ranking.
func seriesLabel(model string) string {
	upper := strings.ToUpper(model)
	switch {
	case strings.Contains(upper, "PM2"):
		return "PM2000 (Basic)"
	case strings.Contains(upper, "PM5"):
		return "PM5000 (Standard)"
	case strings.Contains(upper, "PM8"):
		return "PM8000 (Advanced)"
	case strings.Contains(upper, "ION9"):
		return "ION9000 (Premium)"
	case strings.Contains(upper, "IEM"):
		return "iEM (Energy)"
	default:
		return "Unknown"
	}
}

// TierFilter returns the catalogue filter for a declared meter type, or an empty filter
// when the type names no family.
func TierFilter(meterType string, limit int) domain.CandidateFilter {
	t := strings.ToLower(meterType)
	f := domain.CandidateFilter{Limit: limit}
	switch {
	case strings.Contains(t, "quality"):
		f.ModelPatterns = []string{"pm8%", "ion%"}
		f.DescriptionPatterns = []string{"%harmonic%"}
	case strings.Contains(t, "energy") || strings.Contains(t, "billing"):
		f.ModelPatterns = []string{"iem%"}
	case strings.Contains(t, "basic"):
		f.ModelPatterns = []string{"pm2%"}
	case strings.Contains(t, "digital") || strings.Contains(t, "multi"):
		f.ModelPatterns = []string{"pm5%"}
	}
	return f
}

// GenericFilter is the broad description filter used when the tier filter finds nothing.
func GenericFilter(limit int) domain.CandidateFilter {
	return domain.CandidateFilter{
		DescriptionPatterns: []string{"%power%", "%meter%", "%quality%", "%monitoring%", "%energy%"},
		Limit:               limit,
	}
}

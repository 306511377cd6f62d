package ranking

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
)

// CostTerms mark a requirement as budget-driven.
var CostTerms = []string{"economic", "cost-effective", "basic", "simple", "budget", "affordable"}

// HighEndTerms mark a requirement as needing premium capability.
var HighEndTerms = []string{
	"precision", "high accuracy", "class 0.1", "advanced power quality",
	"extensive analysis", "comprehensive", "harmonic",
}

// highEndClass is the largest accuracy class number treated as high-end.
const highEndClass = 0.2

var classNumber = regexp.MustCompile(`class\s*(\d+(?:\.\d+)?)`)

// Signals are the budget posture of a requirement.
type Signals struct {
	CostSensitive bool `json:"cost_sensitive"`
	HighEnd       bool `json:"high_end"`
}

// Posture names the signal that drives tier adjustments. Cost sensitivity wins.
func (s Signals) Posture() string {
	switch {
	case s.CostSensitive:
		return "cost_sensitive"
	case s.HighEnd:
		return "high_end"
	default:
		return "balanced"
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// DetectSignals scans the specification text for cost and high-end keywords.
func DetectSignals(req domain.Requirement) Signals {
	text := req.SpecText()
	return Signals{
		CostSensitive: containsAny(text, CostTerms),
		HighEnd:       containsAny(text, HighEndTerms) || hasPrecisionClass(text),
	}
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func hasPrecisionClass(text string) bool {
	for _, m := range classNumber.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil && v > 0 && v <= highEndClass {
			return true
		}
	}
	return false
}

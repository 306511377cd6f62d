package ranking

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/storage"
)

const seriesGuide = `- PM2000 series: Basic monitoring (lowest cost)
- PM5000 series: Standard monitoring (moderate cost)
- PM8000 series: Advanced power quality monitoring (higher cost)
- iEM3000 series: Energy and billing applications
- ION9000 series: Premium power quality monitoring (highest cost)`

func bulletList(items []string) string {
	var b strings.Builder
	for _, s := range items {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func modelNames(pool []domain.Candidate, n int) string {
	names := make([]string, 0, n)
	for i, c := range pool {
		if i >= n {
			break
		}
		names = append(names, c.ModelNumber)
	}
	return strings.Join(names, ", ")
}

// buildRankPrompt asks for a value-aware ranking restricted to the pool.
func buildRankPrompt(req domain.Requirement, pool []domain.Candidate, signals Signals, descChars int) string {
	var options strings.Builder
	for _, c := range pool {
		fmt.Fprintf(&options, "- %s: %s\n", c.ModelNumber, truncate(c.Description, descChars))
	}

	return fmt.Sprintf(`You are an electrical engineer selecting the most APPROPRIATE power meters for an industrial application.
Consider both technical compliance AND value. Avoid over-engineering.

REQUIREMENT DETAILS:
Clause: %s
Application Type: %s
Cost-sensitive requirements: %s
High-end requirements: %s

SPECIFICATIONS REQUIRED:
%s
AVAILABLE METER OPTIONS:
%s
STRICT MODEL NUMBER CONSTRAINT:
You MUST ONLY select from these EXACT model numbers: %s
Do not modify, combine or invent model numbers.

SERIES GUIDELINES:
%s

VALUE GUIDELINES:
- A mid-range meter that is 90%% compliant is often a better choice than a premium meter that is 100%% compliant at a much higher cost.
- Recommend premium meters only when the requirements clearly demand their capabilities.
- When the requirements are silent on advanced features, prefer mid-range options.

Respond in JSON format:
{
    "analysis": "Brief analysis of the application requirements",
    "cost_consideration": "Appropriate price-performance point",
    "rankings": [
        {
            "model": "EXACT_MODEL_NUMBER_FROM_LIST",
            "score": 85,
            "value_score": 90,
            "fit_reasoning": "Why this meter is appropriate",
            "value_reasoning": "Why this is good value for these requirements",
            "specification_match": "How well it meets the key specifications"
        }
    ]
}
`,
		req.ClauseID,
		req.MeterType,
		yesNo(signals.CostSensitive),
		yesNo(signals.HighEnd),
		bulletList(req.Specifications),
		options.String(),
		modelNames(pool, 20),
		seriesGuide,
	)
}

// buildConstrainedPrompt is the shorter second attempt after the primary ranking failed.
func buildConstrainedPrompt(req domain.Requirement, pool []domain.Candidate, signals Signals) string {
	specs := req.Specifications
	if len(specs) > 5 {
		specs = specs[:5]
	}

	var options strings.Builder
	for i, c := range pool {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&options, "- %s: %s\n", c.ModelNumber, truncate(c.Description, 100))
	}

	return fmt.Sprintf(`Rank these power meters for the given requirements with VALUE CONSIDERATION.

Requirements: %s
Key Specifications: %s
Cost-sensitive requirements: %s
High-end requirements: %s

STRICT MODEL NUMBER CONSTRAINT:
You MUST ONLY select from these EXACT model numbers: %s

Available meters:
%s
SELECTION GUIDELINES:
%s

Respond with simple JSON:
{
    "rankings": [
        {"model": "EXACT_MODEL_FROM_LIST", "score": 85, "reasoning": "Good fit because...", "value_assessment": "Good value because..."}
    ]
}
`,
		req.MeterType,
		strings.Join(specs, "; "),
		yesNo(signals.CostSensitive),
		yesNo(signals.HighEnd),
		modelNames(pool, 15),
		options.String(),
		seriesGuide,
	)
}

// buildProposalPrompt asks the service to pick series and models from the catalogue.
func buildProposalPrompt(req domain.Requirement, catalogue []storage.SeriesSummary, signals Signals) string {
	specs := req.Specifications
	if len(specs) > 3 {
		specs = specs[:3]
	}

	var series strings.Builder
	for _, s := range catalogue {
		fmt.Fprintf(&series, "- %s (%s): %s\n", s.Key, strings.Join(s.Variants, ", "), truncate(s.Summary, 160))
	}

	return fmt.Sprintf(`Match these meter requirements against our product catalogue with VALUE CONSIDERATION.

REQUIREMENTS:
Type: %s
Specs:
%s
Cost-sensitive requirements: %s
High-end requirements: %s

AVAILABLE SERIES:
%s
SERIES VALUE COMPARISON:
%s

Return JSON with the top matches:
{
    "matches": [
        {"series": "PM5000_Series", "model": "PM5560", "score": 85, "reasoning": "Brief explanation", "value_assessment": "Meets requirements without excessive cost"}
    ]
}

Balance technical capability with cost-effectiveness. If the requirements are basic, favour lower-cost options.
`,
		req.MeterType,
		bulletList(specs),
		yesNo(signals.CostSensitive),
		yesNo(signals.HighEnd),
		series.String(),
		seriesGuide,
	)
}

type rerankEntry struct {
	Index       int    `json:"index"`
	Model       string `json:"model"`
	Series      string `json:"series"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Source      string `json:"source"`
}

// buildRerankPrompt asks for one ordering across database and knowledge-base matches.
func buildRerankPrompt(req domain.Requirement, matches []domain.RankedMatch, signals Signals) (string, error) {
	specs := req.Specifications
	if len(specs) > 3 {
		specs = specs[:3]
	}

	entries := make([]rerankEntry, 0, len(matches))
	for i, m := range matches {
		source := "Database"
		if m.Source == domain.SourceKnowledgeBase {
			source = "Knowledge Base"
		}
		entries = append(entries, rerankEntry{
			Index:       i,
			Model:       m.ModelNumber,
			Series:      seriesLabel(m.ModelNumber),
			Description: truncate(m.Description, 200),
			Score:       m.Score,
			Source:      source,
		})
	}
	listing, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal rerank entries: %w", err)
	}

	return fmt.Sprintf(`Rank these meter models on both TECHNICAL FIT and VALUE FOR MONEY.

REQUIREMENTS:
Type: %s
Specifications (partial):
%s
Cost-sensitive requirements: %s
Needs advanced features: %s

AVAILABLE METERS:
%s

SERIES VALUE COMPARISON:
%s

Return a JSON array in descending order of overall suitability:
[
    {"index": 2, "final_score": 95, "value_reasoning": "Best balance of features and cost"},
    {"index": 0, "final_score": 85, "value_reasoning": "Over-specified for these requirements"}
]
`,
		req.MeterType,
		bulletList(specs),
		yesNo(signals.CostSensitive),
		yesNo(signals.HighEnd),
		listing,
		seriesGuide,
	), nil
}

// buildSummaryPrompt asks for a per-requirement verdict against a catalogue description.
func buildSummaryPrompt(specs []string, description string) string {
	return fmt.Sprintf(`Analyze how well this meter meets the specific requirements.

REQUIREMENTS:
%s
METER DESCRIPTION:
%s

For each requirement, assess compliance and respond with JSON:
{
    "compliance": {
        "Requirement 1": "✓ Fully supported - explanation",
        "Requirement 2": "? Needs verification - explanation",
        "Requirement 3": "✗ Not supported - explanation"
    }
}

Use:
✓ = Clearly supported
? = Needs verification or unclear
✗ = Not supported
`, bulletList(specs), description)
}

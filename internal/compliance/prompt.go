package compliance

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
)

// RenderMeter serializes a specification into the multi-section block shown to the
// reasoning service. Empty sections are omitted.
func RenderMeter(m *domain.MeterSpec) string {
	var b strings.Builder

	header := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	header("MODEL", m.ModelNumber)
	header("PRODUCT", m.ProductName)
	header("SERIES", m.Series)
	header("VARIANT", m.Variant)
	header("DESCRIPTION", m.Description)

	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", title)
		for _, l := range lines {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	accuracy := make([]string, 0, len(m.Accuracy))
	for _, a := range m.Accuracy {
		line := a.Parameter + ": " + a.Accuracy
		if a.Standard != "" {
			line += " (" + a.Standard + ")"
		}
		accuracy = append(accuracy, line)
	}
	section("ACCURACY", accuracy)
	section("ACCURACY CLASSES", m.AccuracyClasses)

	technical := make([]string, 0, len(m.Technical))
	for _, k := range m.TechnicalKeys() {
		technical = append(technical, k+": "+m.Technical[k])
	}
	section("TECHNICAL", technical)
	section("COMMUNICATION", m.Communication)
	section("POWER QUALITY", m.PowerQuality)
	section("MEASUREMENTS", m.Measurements)
	section("CERTIFICATIONS", m.Certifications)
	section("APPLICATIONS", m.Applications)
	section("INPUTS/OUTPUTS", m.InputsOutputs)

	return strings.TrimSpace(b.String())
}

var comparePrompt = template.Must(template.New("compare").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(`### TASK
Analyze ALL {{len .Requirements}} requirements{{if gt .Chunks 1}} in chunk {{.Chunk}} of {{.Chunks}}{{end}} against the meter specifications and determine compliance.

### ACCURACY HIERARCHY
- Mark a requirement COMPLIANT if the meter meets OR EXCEEDS it.
- "Class X" means an accuracy of ±X%. "Class 0.5" means ±0.5%.
- A smaller class number is BETTER accuracy: Class 0.2 is better than Class 0.5.
- A smaller percentage is BETTER accuracy: ±0.1% is better than ±0.5%.
- "Class 0.5S" is better than "Class 0.5".
- When a value reads "Class 0.5S (±1%)" the class rating is the primary metric.

### REQUIREMENTS
{{range $i, $r := .Requirements}}{{inc $i}}. {{$r}}
{{end}}
### METER SPECIFICATIONS
Model: {{.Model}}
{{.Meter}}

### OUTPUT
Return valid JSON only, with one entry for EACH of the {{len .Requirements}} requirements:
{
  "compliance_analysis": [
    {"requirement": "requirement text", "spec_value": "meter specification", "complies": true, "justification": "reason based on the meter data"}
  ],
  "overall_compliance": true,
  "areas_exceeding_requirements": [],
  "potential_issues": []
}

Analyze ALL {{len .Requirements}} requirements. Do not skip any.
`))

func renderComparePrompt(requirements []string, meter, model string, chunk, chunks int) (string, error) {
	var b strings.Builder
	err := comparePrompt.Execute(&b, struct {
		Requirements []string
		Meter        string
		Model        string
		Chunk        int
		Chunks       int
	}{requirements, meter, model, chunk, chunks})
	if err != nil {
		return "", fmt.Errorf("render compare prompt: %w", err)
	}
	return b.String(), nil
}

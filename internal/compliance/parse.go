package compliance

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/llmjson"
)

const (
	// StageManual is the field-by-field regex extraction.
	StageManual = "manual"
	// StageFallback means nothing could be parsed.
	StageFallback = "fallback"

	// UnparseableIssue is recorded when every parse stage failed.
	UnparseableIssue = "Could not parse AI response due to JSON formatting errors"
)

// looseBool accepts true/false as JSON booleans or as strings such as "true" and "yes".
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = looseBool(t)
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		*b = looseBool(s == "true" || s == "yes" || s == "compliant")
	default:
		*b = false
	}
	return nil
}

// looseString accepts any JSON scalar or list and keeps a readable string form.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = looseString(stringify(v))
	return nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

type rawItem struct {
	Requirement   looseString `json:"requirement"`
	SpecValue     looseString `json:"spec_value"`
	Complies      looseBool   `json:"complies"`
	Justification looseString `json:"justification"`
}

type rawAnalysis struct {
	Analysis          []rawItem     `json:"compliance_analysis"`
	OverallCompliance looseBool     `json:"overall_compliance"`
	AreasExceeding    []looseString `json:"areas_exceeding_requirements"`
	PotentialIssues   []looseString `json:"potential_issues"`
}

// chunkResult is one parsed reasoning response.
type chunkResult struct {
	Items     []domain.ComplianceItem
	Exceeding []string
	Issues    []string
	Stage     string
}

func (r rawAnalysis) toChunk(stage string) chunkResult {
	out := chunkResult{Stage: stage}
	for _, it := range r.Analysis {
		req := strings.TrimSpace(string(it.Requirement))
		if req == "" {
			continue
		}
		out.Items = append(out.Items, domain.ComplianceItem{
			Requirement:   req,
			SpecValue:     strings.TrimSpace(string(it.SpecValue)),
			Complies:      bool(it.Complies),
			Justification: strings.TrimSpace(string(it.Justification)),
		})
	}
	for _, s := range r.AreasExceeding {
		out.Exceeding = domain.AppendUnique(out.Exceeding, strings.TrimSpace(string(s)))
	}
	for _, s := range r.PotentialIssues {
		out.Issues = domain.AppendUnique(out.Issues, strings.TrimSpace(string(s)))
	}
	return out
}

var (
	analysisSection  = regexp.MustCompile(`(?s)"compliance_analysis"\s*:\s*\[(.*?)\]`)
	itemBody         = regexp.MustCompile(`(?s)\{(.*?)\}`)
	requirementField = regexp.MustCompile(`"requirement"\s*:\s*"([^"]*)"`)
	specValueField   = regexp.MustCompile(`"spec_value"\s*:\s*"([^"]*)"`)
	compliesField    = regexp.MustCompile(`(?i)"complies"\s*:\s*(true|false)`)
	justifyField     = regexp.MustCompile(`"justification"\s*:\s*"([^"]*)"`)
)

// parseResponse runs the JSON repair cascade, then the manual field extraction, then the
// flagged empty fallback. It never invents verdicts.
func parseResponse(text string) chunkResult {
	var raw rawAnalysis
	if stage, err := llmjson.Decode(text, &raw); err == nil && len(raw.Analysis) > 0 {
		return raw.toChunk(string(stage))
	}

	if items := manualItems(text); len(items) > 0 {
		return chunkResult{Items: items, Stage: StageManual}
	}

	return chunkResult{Issues: []string{UnparseableIssue}, Stage: StageFallback}
}

// manualItems pulls requirement/spec_value/complies/justification fields out of each
// brace-delimited item of the compliance_analysis array.
func manualItems(text string) []domain.ComplianceItem {
	body := text
	if m := analysisSection.FindStringSubmatch(text); m != nil {
		body = m[1]
	}

	var items []domain.ComplianceItem
	for _, m := range itemBody.FindAllStringSubmatch(body, -1) {
		item, ok := itemFromFields(m[1])
		if ok {
			items = append(items, item)
		}
	}
	return items
}

func itemFromFields(text string) (domain.ComplianceItem, bool) {
	req := requirementField.FindStringSubmatch(text)
	if req == nil || strings.TrimSpace(req[1]) == "" {
		return domain.ComplianceItem{}, false
	}
	item := domain.ComplianceItem{Requirement: strings.TrimSpace(req[1])}
	if m := specValueField.FindStringSubmatch(text); m != nil {
		item.SpecValue = m[1]
	}
	if m := compliesField.FindStringSubmatch(text); m != nil {
		item.Complies = strings.EqualFold(m[1], "true")
	}
	if m := justifyField.FindStringSubmatch(text); m != nil {
		item.Justification = m[1]
	}
	return item, true
}

var leadingNumber = regexp.MustCompile(`^\d+\.\s*`)

// normalizeRequirement is the identity used to match analysis items to requirements:
// numbering removed, trimmed, first 50 characters.
func normalizeRequirement(s string) string {
	s = strings.TrimSpace(leadingNumber.ReplaceAllString(strings.TrimSpace(s), ""))
	r := []rune(s)
	if len(r) > 50 {
		r = r[:50]
	}
	return strings.ToLower(string(r))
}

// recoverMissing scans the raw response for items belonging to requirements the parsed
// analysis does not cover. It returns the recovered items and the requirements still missing.
func recoverMissing(raw string, parsed []domain.ComplianceItem, requirements []string) ([]domain.ComplianceItem, []string) {
	covered := make(map[string]bool, len(parsed))
	for _, it := range parsed {
		covered[normalizeRequirement(it.Requirement)] = true
	}

	missing := make(map[string]string)
	var order []string
	for _, r := range requirements {
		key := normalizeRequirement(r)
		if covered[key] {
			continue
		}
		if _, dup := missing[key]; !dup {
			missing[key] = r
			order = append(order, key)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	var recovered []domain.ComplianceItem
	for _, m := range itemBody.FindAllStringSubmatch(raw, -1) {
		item, ok := itemFromFields(m[1])
		if !ok {
			continue
		}
		key := normalizeRequirement(item.Requirement)
		if _, want := missing[key]; !want || covered[key] {
			continue
		}
		covered[key] = true
		recovered = append(recovered, item)
	}

	var still []string
	for _, key := range order {
		if !covered[key] {
			still = append(still, missing[key])
		}
	}
	return recovered, still
}

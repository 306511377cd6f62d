package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/llmjson"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
)

// SeriesEntry is one family in the knowledge-base document.
type SeriesEntry struct {
	Model                  string                     `json:"model"`
	Summary                string                     `json:"summary"`
	PerformanceAndAccuracy []PerformanceEntry         `json:"performance_and_accuracy"`
	TechnicalSpecs         map[string]json.RawMessage `json:"technical_specifications"`
	ModelBreakdown         []VariantEntry             `json:"model_breakdown"`
}

type PerformanceEntry struct {
	Parameter       string `json:"parameter"`
	Standard        string `json:"standard"`
	ClassOrAccuracy string `json:"class_or_accuracy"`
}

type VariantEntry struct {
	ModelName         string `json:"model_name"`
	KeyDifferentiator string `json:"key_differentiator"`
}

// SeriesSummary is the compact view of a series offered to the ranker.
type SeriesSummary struct {
	Key      string   `json:"series"`
	Model    string   `json:"model"`
	Summary  string   `json:"summary"`
	Variants []string `json:"variants"`
}

var (
	familyPrefix = regexp.MustCompile(`^([A-Za-z]+\d)`)
	classToken   = regexp.MustCompile(`(?i)class\s*[\d.]+\s*s?`)
)

// KnowledgeBase serves specifications from a series-keyed JSON document.
type KnowledgeBase struct {
	series map[string]SeriesEntry
	keys   []string
	logger *observability.Logger
}

// LoadKnowledgeBase reads and parses the document at path.
func LoadKnowledgeBase(path string, logger *observability.Logger) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError("read knowledge base", err)
	}
	return ParseKnowledgeBase(data, logger)
}

// ParseKnowledgeBase parses a document, tolerating trailing commas.
func ParseKnowledgeBase(data []byte, logger *observability.Logger) (*KnowledgeBase, error) {
	cleaned := llmjson.StripTrailingCommas(string(data))

	series := make(map[string]SeriesEntry)
	if err := json.Unmarshal([]byte(cleaned), &series); err != nil {
		return nil, domain.ParseError("parse knowledge base", err)
	}

	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &KnowledgeBase{
		series: series,
		keys:   keys,
		logger: observability.OrNop(logger).WithComponent("knowledge_base"),
	}, nil
}

// Len returns the number of series.
func (kb *KnowledgeBase) Len() int {
	return len(kb.series)
}

// Catalogue returns a summary of every series in key order.
func (kb *KnowledgeBase) Catalogue() []SeriesSummary {
	out := make([]SeriesSummary, 0, len(kb.keys))
	for _, k := range kb.keys {
		s := kb.series[k]
		summary := SeriesSummary{Key: k, Model: s.Model, Summary: s.Summary}
		for _, v := range s.ModelBreakdown {
			summary.Variants = append(summary.Variants, v.ModelName)
		}
		out = append(out, summary)
	}
	return out
}

// Models returns the first token of every variant name.
func (kb *KnowledgeBase) Models() []string {
	var out []string
	for _, k := range kb.keys {
		for _, v := range kb.series[k].ModelBreakdown {
			if name := firstToken(v.ModelName); name != "" {
				out = domain.AppendUnique(out, name)
			}
		}
	}
	return out
}

// Find resolves modelNumber. Order: exact variant, family prefix variant, PM8 digit rule,
// family aggregate, iEM family, substring scan. The first rule that matches wins.
func (kb *KnowledgeBase) Find(ctx context.Context, modelNumber string) (*domain.MeterSpec, error) {
	model := strings.TrimSpace(modelNumber)
	if model == "" {
		return nil, domain.ErrSpecNotFound
	}

	if key, v, ok := kb.exactVariant(model); ok {
		return kb.normalize(model, key, v), nil
	}

	var familyKey string
	if m := familyPrefix.FindStringSubmatch(model); m != nil {
		key := seriesKey(m[1])
		if _, ok := kb.series[key]; ok {
			familyKey = key
			if v, ok := kb.familyVariant(key, model); ok {
				return kb.normalize(model, key, v), nil
			}
		}
	}

	if strings.HasPrefix(strings.ToUpper(model), "PM8") && len(model) >= 4 {
		if _, ok := kb.series["PM8000_Series"]; ok {
			digits := model[2:4]
			for i, v := range kb.series["PM8000_Series"].ModelBreakdown {
				if strings.Contains(v.ModelName, digits) {
					return kb.normalize(model, "PM8000_Series", &kb.series["PM8000_Series"].ModelBreakdown[i]), nil
				}
			}
		}
	}

	if familyKey != "" {
		kb.logger.Debug().Str("model", model).Str("series", familyKey).Msg("no variant matched, using series data")
		return kb.normalize(model, familyKey, nil), nil
	}

	if strings.HasPrefix(strings.ToLower(model), "iem") {
		if _, ok := kb.series["iEM3000_Series"]; ok {
			return kb.normalize(model, "iEM3000_Series", nil), nil
		}
	}

	upper := strings.ToUpper(model)
	for _, key := range kb.keys {
		breakdown := kb.series[key].ModelBreakdown
		for i := range breakdown {
			if strings.Contains(strings.ToUpper(breakdown[i].ModelName), upper) {
				return kb.normalize(model, key, &breakdown[i]), nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s not in knowledge base", domain.ErrSpecNotFound, model)
}

func (kb *KnowledgeBase) exactVariant(model string) (string, *VariantEntry, bool) {
	for _, key := range kb.keys {
		breakdown := kb.series[key].ModelBreakdown
		for i := range breakdown {
			name := breakdown[i].ModelName
			if strings.EqualFold(name, model) || strings.EqualFold(firstToken(name), model) {
				return key, &breakdown[i], true
			}
		}
	}
	return "", nil, false
}

// seriesKey maps a family prefix such as "pm5" or "IEM3" to its series key.
func seriesKey(prefix string) string {
	letters := strings.TrimRight(prefix, "0123456789")
	digits := prefix[len(letters):]
	if strings.EqualFold(letters, "iem") {
		letters = "iEM"
	} else {
		letters = strings.ToUpper(letters)
	}
	return letters + digits + "000_Series"
}

func (kb *KnowledgeBase) familyVariant(key, model string) (*VariantEntry, bool) {
	breakdown := kb.series[key].ModelBreakdown
	for i := range breakdown {
		name := breakdown[i].ModelName
		if name == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(name), strings.ToUpper(model)) || strings.EqualFold(model, firstToken(name)) {
			return &breakdown[i], true
		}
		// PM53xx style wildcards.
		if stem := strings.TrimRight(firstToken(name), "xX"); stem != firstToken(name) && stem != "" &&
			strings.HasPrefix(strings.ToUpper(model), strings.ToUpper(stem)) {
			return &breakdown[i], true
		}
	}
	return nil, false
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// normalize flattens a series (and optional variant) into a MeterSpec.
func (kb *KnowledgeBase) normalize(model, key string, variant *VariantEntry) *domain.MeterSpec {
	s := kb.series[key]
	spec := &domain.MeterSpec{
		ModelNumber: model,
		ProductName: s.Model,
		Series:      key,
		Description: s.Summary,
		Source:      domain.SourceKnowledgeBase,
	}
	if variant != nil {
		spec.Variant = variant.ModelName
		if variant.KeyDifferentiator != "" {
			spec.Description = strings.TrimSpace(spec.Description + " " + variant.ModelName + ": " + variant.KeyDifferentiator)
		}
	}

	for _, p := range s.PerformanceAndAccuracy {
		spec.Accuracy = append(spec.Accuracy, domain.AccuracyEntry{
			Parameter: p.Parameter,
			Accuracy:  p.ClassOrAccuracy,
			Standard:  p.Standard,
		})
		for _, c := range classToken.FindAllString(p.ClassOrAccuracy, -1) {
			spec.AccuracyClasses = domain.AppendUnique(spec.AccuracyClasses, strings.TrimSpace(c))
		}
	}

	cats := make([]string, 0, len(s.TechnicalSpecs))
	for c := range s.TechnicalSpecs {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		for _, kv := range flattenCategory(cat, s.TechnicalSpecs[cat]) {
			routeTechnical(spec, cat, kv[0], kv[1])
		}
	}
	return spec
}

// flattenCategory turns {k:v}, [..] or scalar category values into label/value pairs,
// sorted by label.
func flattenCategory(cat string, raw json.RawMessage) [][2]string {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([][2]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, [2]string{cat + " / " + k, stringify(obj[k])})
		}
		return out
	}

	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		entries := make([][2]string, 0, len(list))
		for _, v := range list {
			entries = append(entries, [2]string{cat, stringify(v)})
		}
		return entries
	}

	var scalar interface{}
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return [][2]string{{cat, stringify(scalar)}}
	}
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
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, "; ")
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(t))
		for _, k := range keys {
			parts = append(parts, k+": "+stringify(t[k]))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// routeTechnical files a technical value under the section its category names.
func routeTechnical(spec *domain.MeterSpec, cat, label, value string) {
	if value == "" {
		return
	}
	lc := strings.ToLower(cat)
	entry := value
	if label != cat {
		entry = strings.TrimPrefix(label, cat+" / ") + ": " + value
	}

	switch {
	case strings.Contains(lc, "communication") || strings.Contains(lc, "protocol"):
		spec.Communication = domain.AppendUnique(spec.Communication, entry)
	case strings.Contains(lc, "power quality"):
		spec.PowerQuality = domain.AppendUnique(spec.PowerQuality, entry)
	case strings.Contains(lc, "certification") || strings.Contains(lc, "compliance"):
		spec.Certifications = domain.AppendUnique(spec.Certifications, entry)
	case strings.Contains(lc, "application"):
		spec.Applications = domain.AppendUnique(spec.Applications, entry)
	case strings.Contains(lc, "input") || strings.Contains(lc, "output") || strings.Contains(lc, "i/o"):
		spec.InputsOutputs = domain.AppendUnique(spec.InputsOutputs, entry)
	default:
		if spec.Technical == nil {
			spec.Technical = make(map[string]string)
		}
		spec.Technical[label] = value
	}
}

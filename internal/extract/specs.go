package extract

import (
	"regexp"
	"strings"
)

// DefaultDedupeThreshold is the token-overlap fraction above which a spec counts as a duplicate.
const DefaultDedupeThreshold = 0.7

// DefaultMeterType is used when neither the title nor the reasoning service names a type.
const DefaultMeterType = "Power Meter"

var nonWord = regexp.MustCompile(`[^\w\s]`)

// meterTypeKeywords is ordered; the first type with a keyword in the title wins.
var meterTypeKeywords = []struct {
	label    string
	keywords []string
}{
	{"Power Quality Meter", []string{"power quality meter", "pqm", "quality"}},
	{"Digital Power Meter", []string{"digital power meter", "dpm", "digital meter"}},
	{"Multi-Function Meter", []string{"multi-function", "multifunction", "multi function"}},
	{"Energy Meter", []string{"energy meter", "billing meter", "revenue meter"}},
	{"Basic Power Meter", []string{"basic meter", "basic power"}},
}

// MeterTypeFromTitle returns the meter type named by a header title, or "".
func MeterTypeFromTitle(titles ...string) string {
	for _, title := range titles {
		lower := strings.ToLower(title)
		if lower == "" {
			continue
		}
		for _, t := range meterTypeKeywords {
			for _, kw := range t.keywords {
				if strings.Contains(lower, kw) {
					return t.label
				}
			}
		}
	}
	return ""
}

func tokenSet(spec string) map[string]struct{} {
	simple := nonWord.ReplaceAllString(strings.ToLower(spec), "")
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(simple) {
		set[tok] = struct{}{}
	}
	return set
}

// Dedupe drops specs whose token set overlaps an already-kept spec by more than
// threshold of their own tokens. Order is preserved and blank specs are removed.
func Dedupe(specs []string, threshold float64) []string {
	if threshold <= 0 {
		threshold = DefaultDedupeThreshold
	}

	var (
		kept     []string
		keptSets []map[string]struct{}
	)
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		tokens := tokenSet(spec)

		duplicate := false
		for _, prev := range keptSets {
			shared := 0
			for tok := range tokens {
				if _, ok := prev[tok]; ok {
					shared++
				}
			}
			if float64(shared) > float64(len(tokens))*threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, spec)
		keptSets = append(keptSets, tokens)
	}
	return kept
}

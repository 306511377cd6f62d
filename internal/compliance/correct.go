package compliance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
)

// CorrectionPrefix marks every justification rewritten by Correct.
const CorrectionPrefix = "CORRECTED:"

var (
	classToken   = regexp.MustCompile(`class\s*([\d.]+)\s*(s?)`)
	percentToken = regexp.MustCompile(`±?(\d+\.?\d*)\s*%`)
)

// SuperiorityPhrases in a justification contradict a non-compliant verdict.
var SuperiorityPhrases = []string{
	"more stringent than",
	"exceeds requirement",
	"better than",
	"higher accuracy",
	"surpasses",
}

type accuracyValue struct {
	value float64
	label string
}

func parseClass(text string) (accuracyValue, bool) {
	m := classToken.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return accuracyValue{}, false
	}
	num := strings.TrimRight(m[1], ".")
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return accuracyValue{}, false
	}
	return accuracyValue{value: v, label: "Class " + num + strings.ToUpper(m[2])}, true
}

func parsePercent(text string) (accuracyValue, bool) {
	m := percentToken.FindStringSubmatch(text)
	if m == nil {
		return accuracyValue{}, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return accuracyValue{}, false
	}
	return accuracyValue{value: v, label: "±" + strconv.FormatFloat(v, 'f', -1, 64) + "%"}, true
}

// numericVerdict compares the accuracy in an item's requirement and spec value. The class
// rating is the primary metric; percentages are compared only when no class pair exists.
// ok is false when the texts carry no comparable pair.
func numericVerdict(item domain.ComplianceItem) (meterBetterOrEqual, strictlyBetter bool, message string, ok bool) {
	if req, found := parseClass(item.Requirement); found {
		if spec, found := parseClass(item.SpecValue); found {
			msg := fmt.Sprintf("Meter class %s is better than required %s (smaller class number = higher accuracy).", spec.label, req.label)
			return spec.value <= req.value, spec.value < req.value, msg, true
		}
	}
	if req, found := parsePercent(item.Requirement); found {
		if spec, found := parsePercent(item.SpecValue); found {
			msg := fmt.Sprintf("Meter accuracy %s is better than required %s (smaller percentage = higher accuracy).", spec.label, req.label)
			return spec.value <= req.value, spec.value < req.value, msg, true
		}
	}
	return false, false, "", false
}

func hasSuperiorityPhrase(justification string) bool {
	lower := strings.ToLower(justification)
	for _, p := range SuperiorityPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func amend(message, original string) string {
	original = strings.TrimSpace(original)
	if original == "" {
		return CorrectionPrefix + " " + message
	}
	return fmt.Sprintf("%s %s Original assessment: %s", CorrectionPrefix, message, original)
}

func exceedingEntry(item domain.ComplianceItem) string {
	return fmt.Sprintf("%s (%s)", item.Requirement, item.SpecValue)
}

// Correct flips non-compliant verdicts that the item's own numbers or wording contradict,
// and returns how many items it changed. Each flipped item is marked Corrected and its
// justification is prefixed with CORRECTED: while keeping the original text.
//
// Numeric evidence wins: a superiority phrase never flips an item whose accuracy numbers
// show the meter is worse. Compliant items whose numbers are strictly better are listed in
// AreasExceeding without counting as corrections. When anything changed, OverallCompliance
// is recomputed with threshold.
func Correct(report *domain.ComplianceReport, threshold float64) int {
	if report == nil {
		return 0
	}

	corrected := 0
	var exceeding []string
	for i := range report.Analysis {
		item := &report.Analysis[i]
		better, strictly, message, numeric := numericVerdict(*item)

		if item.Complies {
			if numeric && strictly {
				exceeding = append(exceeding, exceedingEntry(*item))
			}
			continue
		}

		switch {
		case numeric && better:
			item.Justification = amend(message, item.Justification)
		case !numeric && hasSuperiorityPhrase(item.Justification):
			item.Justification = fmt.Sprintf("%s %s (meter exceeds requirement)", CorrectionPrefix, strings.TrimSpace(item.Justification))
		default:
			continue
		}
		item.Complies = true
		item.Corrected = true
		exceeding = append(exceeding, exceedingEntry(*item))
		corrected++
	}

	report.AreasExceeding = domain.AppendUnique(report.AreasExceeding, exceeding...)
	if corrected > 0 {
		report.Corrections += corrected
		report.Recompute(threshold)
	}
	return corrected
}

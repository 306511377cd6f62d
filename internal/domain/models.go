// Package domain holds the records exchanged between the extractor, store, ranker and
// comparator.
package domain

import (
	"sort"
	"strings"
)

// DefaultComplianceThreshold is the fraction of compliant items at or above which a meter
// is considered compliant overall.
const DefaultComplianceThreshold = 0.8

// SpecSource identifies which backing store produced a record.
type SpecSource string

const (
	SourceDatabase      SpecSource = "database"
	SourceKnowledgeBase SpecSource = "knowledge_base"
)

// Requirement is one recognised clause of a tender document.
type Requirement struct {
	ClauseID       string   `json:"clause_id"`
	Title          string   `json:"title,omitempty"`
	MeterType      string   `json:"meter_type"`
	Specifications []string `json:"specifications"`
	SourceText     string   `json:"source_text"`
}

// SpecText joins the specification strings, lowercased, for keyword detection.
func (r Requirement) SpecText() string {
	return strings.ToLower(strings.Join(r.Specifications, " "))
}

// AccuracyEntry is one measured parameter with its accuracy rating.
type AccuracyEntry struct {
	Parameter string `json:"parameter"`
	Accuracy  string `json:"accuracy"`
	Standard  string `json:"standard,omitempty"`
}

// MeterSpec is the normalized specification record every store flattens into.
type MeterSpec struct {
	ModelNumber     string            `json:"model_number"`
	ProductName     string            `json:"product_name,omitempty"`
	Series          string            `json:"series,omitempty"`
	Variant         string            `json:"variant,omitempty"`
	Description     string            `json:"description"`
	Accuracy        []AccuracyEntry   `json:"accuracy,omitempty"`
	AccuracyClasses []string          `json:"accuracy_classes,omitempty"`
	Technical       map[string]string `json:"technical,omitempty"`
	Communication   []string          `json:"communication,omitempty"`
	PowerQuality    []string          `json:"power_quality,omitempty"`
	Measurements    []string          `json:"measurements,omitempty"`
	Certifications  []string          `json:"certifications,omitempty"`
	Applications    []string          `json:"applications,omitempty"`
	InputsOutputs   []string          `json:"inputs_outputs,omitempty"`
	Source          SpecSource        `json:"source"`
}

// IsEmpty reports whether the record carries no usable specification data.
func (m *MeterSpec) IsEmpty() bool {
	if m == nil {
		return true
	}
	return m.Description == "" &&
		len(m.Accuracy) == 0 &&
		len(m.AccuracyClasses) == 0 &&
		len(m.Technical) == 0 &&
		len(m.Communication) == 0 &&
		len(m.PowerQuality) == 0 &&
		len(m.Measurements) == 0 &&
		len(m.Certifications) == 0 &&
		len(m.Applications) == 0 &&
		len(m.InputsOutputs) == 0
}

// TechnicalKeys returns the technical mapping keys in sorted order.
func (m *MeterSpec) TechnicalKeys() []string {
	keys := make([]string, 0, len(m.Technical))
	for k := range m.Technical {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Candidate is a meter eligible for ranking against a requirement.
type Candidate struct {
	ModelNumber string     `json:"model_number"`
	Description string     `json:"description"`
	ProductID   string     `json:"product_id"`
	Source      SpecSource `json:"source"`
	Spec        *MeterSpec `json:"spec,omitempty"`
}

// RankedMatch is a candidate with a score and justification.
type RankedMatch struct {
	ModelNumber    string            `json:"model_number"`
	ProductID      string            `json:"product_id,omitempty"`
	Description    string            `json:"description,omitempty"`
	Score          int               `json:"score"`
	Reasoning      string            `json:"reasoning"`
	SpecCompliance map[string]string `json:"spec_compliance,omitempty"`
	Source         SpecSource        `json:"source"`
}

// ComplianceItem is the verdict for one requirement string against one meter.
type ComplianceItem struct {
	Requirement   string `json:"requirement"`
	SpecValue     string `json:"spec_value"`
	Complies      bool   `json:"complies"`
	Justification string `json:"justification"`
	Corrected     bool   `json:"corrected,omitempty"`
}

// ComplianceReport aggregates the items for one requirement/meter pair.
// A non-empty Error means the comparison could not be performed.
type ComplianceReport struct {
	ModelNumber       string           `json:"model_number,omitempty"`
	Analysis          []ComplianceItem `json:"compliance_analysis"`
	OverallCompliance bool             `json:"overall_compliance"`
	AreasExceeding    []string         `json:"areas_exceeding_requirements"`
	PotentialIssues   []string         `json:"potential_issues"`
	Corrections       int              `json:"corrections,omitempty"`
	ParseStage        string           `json:"parse_stage,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// ErrorReport builds an explicit error result.
func ErrorReport(modelNumber, reason string) ComplianceReport {
	return ComplianceReport{
		ModelNumber:     modelNumber,
		Analysis:        []ComplianceItem{},
		AreasExceeding:  []string{},
		PotentialIssues: []string{},
		Error:           reason,
	}
}

// CompliantCount returns the number of items marked compliant.
func (r *ComplianceReport) CompliantCount() int {
	n := 0
	for _, item := range r.Analysis {
		if item.Complies {
			n++
		}
	}
	return n
}

// Recompute derives OverallCompliance from the items.
func (r *ComplianceReport) Recompute(threshold float64) {
	r.OverallCompliance = OverallCompliance(r.Analysis, threshold)
}

// OverallCompliance is true iff compliant/total >= threshold. Empty input is never compliant.
func OverallCompliance(items []ComplianceItem, threshold float64) bool {
	if len(items) == 0 {
		return false
	}
	compliant := 0
	for _, item := range items {
		if item.Complies {
			compliant++
		}
	}
	return float64(compliant)/float64(len(items)) >= threshold
}

// AppendUnique appends values not already present, preserving order.
func AppendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(values))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// CandidateFilter narrows the product catalogue. Patterns are SQL LIKE patterns matched
// case-insensitively; a product matching any pattern is included.
type CandidateFilter struct {
	ModelPatterns       []string `json:"model_patterns,omitempty"`
	DescriptionPatterns []string `json:"description_patterns,omitempty"`
	Limit               int      `json:"limit,omitempty"`
}

// IsEmpty reports whether the filter has no patterns.
func (f CandidateFilter) IsEmpty() bool {
	return len(f.ModelPatterns) == 0 && len(f.DescriptionPatterns) == 0
}

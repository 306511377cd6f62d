// Package llmjson recovers JSON objects from free-form reasoning output.
package llmjson

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
)

// Stage names the step of the repair cascade that produced a value.
type Stage string

const (
	StageDirect    Stage = "direct"
	StageCandidate Stage = "candidate"
	StageCleanup   Stage = "cleanup"
	StageNone      Stage = ""
)

// ErrNoJSON is returned when no stage yields a parseable object.
var ErrNoJSON = errors.New("no parseable JSON object in response")

var (
	// Objects nested at most one level deep.
	balancedObject = regexp.MustCompile(`\{(?:[^{}]|(?:\{[^{}]*\}))*\}`)
	fencePattern   = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	unquotedKey    = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	pythonTrue     = regexp.MustCompile(`\bTrue\b`)
	pythonFalse    = regexp.MustCompile(`\bFalse\b`)
	pythonNone     = regexp.MustCompile(`\bNone\b`)
	// Single quotes acting as string delimiters, next to structural characters.
	openingSingle = regexp.MustCompile(`([{\[,:]\s*)'`)
	closingSingle = regexp.MustCompile(`'(\s*[}\],:])`)
)

// Decode parses text into dst, trying in order: the whole text, balanced-brace candidates
// longest first, the outermost array span, then an aggressively cleaned version of the text.
func Decode(text string, dst interface{}) (Stage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return StageNone, ErrNoJSON
	}

	if err := json.Unmarshal([]byte(trimmed), dst); err == nil {
		return StageDirect, nil
	}

	if fenced := StripFences(trimmed); fenced != trimmed {
		if err := json.Unmarshal([]byte(fenced), dst); err == nil {
			return StageDirect, nil
		}
	}

	for _, candidate := range Candidates(trimmed) {
		if err := json.Unmarshal([]byte(candidate), dst); err == nil {
			return StageCandidate, nil
		}
	}

	if arr := OuterArray(trimmed); arr != "" {
		if err := json.Unmarshal([]byte(arr), dst); err == nil {
			return StageCandidate, nil
		}
		if err := json.Unmarshal([]byte(StripTrailingCommas(arr)), dst); err == nil {
			return StageCleanup, nil
		}
	}

	cleaned := Cleanup(trimmed)
	if err := json.Unmarshal([]byte(cleaned), dst); err == nil {
		return StageCleanup, nil
	}

	return StageNone, ErrNoJSON
}

// Candidates returns balanced-brace substrings, longest first.
func Candidates(text string) []string {
	matches := balancedObject.FindAllString(text, -1)
	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i]) > len(matches[j])
	})
	return matches
}

// StripFences returns the content of the first markdown code fence, or text unchanged.
func StripFences(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// OuterObject trims text to the span between the first '{' and the last '}'.
func OuterObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

// OuterArray returns the span between the first '[' and the last ']', or "".
func OuterArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// Cleanup applies the aggressive repairs: fence removal, outer-object trim, key quoting,
// quote normalization, Python literals and trailing commas.
func Cleanup(text string) string {
	s := StripFences(text)
	s = strings.ReplaceAll(s, "```", "")
	s = OuterObject(s)
	s = unquotedKey.ReplaceAllString(s, `$1"$2":`)
	s = openingSingle.ReplaceAllString(s, `$1"`)
	s = closingSingle.ReplaceAllString(s, `"$1`)
	s = pythonTrue.ReplaceAllString(s, "true")
	s = pythonFalse.ReplaceAllString(s, "false")
	s = pythonNone.ReplaceAllString(s, "null")
	s = StripTrailingCommas(s)
	return s
}

// StripTrailingCommas removes commas directly before a closing brace or bracket.
func StripTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

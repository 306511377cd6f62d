package ranking

import (
	"context"
	"regexp"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/llmjson"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/reasoning"
)

var summaryWord = regexp.MustCompile(`[a-z0-9][a-z0-9.\-]{2,}`)

var summaryStopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "shall": {}, "must": {}, "meter": {},
	"meters": {}, "should": {}, "all": {}, "from": {}, "each": {}, "have": {}, "be": {},
}

// summarize returns a per-requirement ✓/?/✗ verdict for a catalogue description. Any
// reasoning or parse failure yields the keyword summary instead.
func (r *Ranker) summarize(ctx context.Context, specs []string, description string) map[string]string {
	if len(specs) == 0 {
		return nil
	}

	response, err := r.svc.Invoke(ctx, buildSummaryPrompt(specs, description), reasoning.Options{
		Temperature: r.config.Temperature,
		Timeout:     r.config.Timeout,
	})
	if err == nil {
		var parsed struct {
			Compliance map[string]string `json:"compliance"`
		}
		if _, perr := llmjson.Decode(response, &parsed); perr == nil && len(parsed.Compliance) > 0 {
			return parsed.Compliance
		}
	}

	r.logger.Debug().Err(err).Msg("compliance summary fell back to keywords")
	return KeywordSummary(specs, description)
}

// KeywordSummary marks a requirement supported when most of its significant words appear
// in the description, and unverified otherwise.
func KeywordSummary(specs []string, description string) map[string]string {
	desc := strings.ToLower(description)
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		var words, hits int
		for _, w := range summaryWord.FindAllString(strings.ToLower(spec), -1) {
			if _, stop := summaryStopWords[w]; stop {
				continue
			}
			words++
			if strings.Contains(desc, w) {
				hits++
			}
		}
		switch {
		case words > 0 && float64(hits)/float64(words) >= 0.6:
			out[spec] = "✓ Mentioned in product description"
		case hits > 0:
			out[spec] = "? Partially mentioned - needs verification"
		default:
			out[spec] = "? Not stated in product description - needs verification"
		}
	}
	return out
}

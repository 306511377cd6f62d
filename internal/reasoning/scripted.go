package reasoning

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Rule answers prompts containing Contains with Response, or fails with Err.
type Rule struct {
	Contains string
	Response string
	Err      error
}

// Scripted is a deterministic Service for tests and offline runs. Rules are matched in
// order against the prompt; the first match wins. Unmatched prompts get Default, or an
// ErrService failure when Default is empty.
type Scripted struct {
	Rules   []Rule
	Default string

	mu    sync.Mutex
	calls []Call
}

// Call records one invocation.
type Call struct {
	Prompt  string
	Options Options
}

// NewScripted builds a Scripted service from rules.
func NewScripted(rules ...Rule) *Scripted {
	return &Scripted{Rules: rules}
}

func (s *Scripted) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Prompt: prompt, Options: opts})
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", mapTransportError(err)
	}

	for _, r := range s.Rules {
		if strings.Contains(prompt, r.Contains) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Response, nil
		}
	}
	if s.Default != "" {
		return s.Default, nil
	}
	return "", fmt.Errorf("%w: no scripted response", ErrService)
}

// Calls returns a copy of the recorded invocations.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many prompts contained substr.
func (s *Scripted) CallCount(substr string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.Contains(c.Prompt, substr) {
			n++
		}
	}
	return n
}

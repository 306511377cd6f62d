package reasoning

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds a call when neither the wrapper nor the caller sets one.
const DefaultTimeout = 30 * time.Second

type timeoutService struct {
	inner   Service
	timeout time.Duration
}

// WithTimeout bounds every call to svc. The call runs on its own goroutine; when the bound
// elapses the caller gets ErrTimeout and the abandoned call is cancelled through its context.
// A per-call Options.Timeout overrides d.
func WithTimeout(svc Service, d time.Duration) Service {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutService{inner: svc, timeout: d}
}

type invokeResult struct {
	text string
	err  error
}

func (s *timeoutService) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	limit := s.timeout
	if opts.Timeout > 0 {
		limit = opts.Timeout
	}

	callCtx, cancel := context.WithCancel(ctx)
	done := make(chan invokeResult, 1)
	go func() {
		text, err := s.inner.Invoke(callCtx, prompt, opts)
		done <- invokeResult{text: text, err: err}
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case res := <-done:
		cancel()
		return res.text, res.err
	case <-timer.C:
		cancel()
		return "", fmt.Errorf("%w after %s", ErrTimeout, limit)
	case <-ctx.Done():
		cancel()
		return "", mapTransportError(ctx.Err())
	}
}

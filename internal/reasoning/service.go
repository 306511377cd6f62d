// Package reasoning wraps the external text-completion service used by the extractor,
// ranker and comparator.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
)

var (
	// ErrTimeout means the call did not complete within its bound.
	ErrTimeout = errors.New("reasoning call timed out")
	// ErrService means the remote service failed or returned a non-success status.
	ErrService = errors.New("reasoning service failure")
	// ErrEmptyResponse means the service answered without any content.
	ErrEmptyResponse = errors.New("reasoning service returned empty response")
)

// Options tune a single invocation.
type Options struct {
	Temperature float64
	Timeout     time.Duration
}

// Service answers a text prompt with text.
type Service interface {
	Invoke(ctx context.Context, prompt string, opts Options) (string, error)
}

// Func adapts a plain function to Service.
type Func func(ctx context.Context, prompt string, opts Options) (string, error)

func (f Func) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// StatusError carries a non-success HTTP status from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrService
}

// IsRetryable reports whether err is worth another attempt.
// Timeouts, rate limits and 5xx responses are; malformed output and client errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return shouldRetry(se.Code)
	}
	return false
}

// New builds the configured provider, bounded by the configured timeout and optionally cached.
func New(cfg config.ReasoningConfig, c cache.Client, logger *observability.Logger) (Service, error) {
	logger = observability.OrNop(logger).WithComponent("reasoning")
	retry := RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}

	var svc Service
	switch cfg.Provider {
	case "", "ollama":
		svc = NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Retry:   retry,
		}, logger)
	case "openrouter":
		client, err := NewOpenRouterClient(OpenRouterConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Retry:   retry,
		}, logger)
		if err != nil {
			return nil, err
		}
		svc = client
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}

	if c != nil {
		svc = NewCachedService(svc, c, cfg.Model, cfg.CacheTTL, logger)
	}
	return WithTimeout(svc, cfg.Timeout), nil
}

func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// mapTransportError folds deadline failures into ErrTimeout.
func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrService, err)
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

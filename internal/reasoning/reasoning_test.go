package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/config"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestOllamaClient_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 0.1, req.Options.Temperature)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)

		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"ok\":true}"}}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Retry: fastRetry()}, nil)
	out, err := client.Invoke(context.Background(), "hello", Options{Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestOllamaClient_RetriesOn503(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"content":"done"}}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Retry: fastRetry()}, nil)
	out, err := client.Invoke(context.Background(), "p", Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestOllamaClient_NoRetryOn400(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Retry: fastRetry()}, nil)
	_, err := client.Invoke(context.Background(), "p", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrService)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOllamaClient_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":"  "}}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Retry: fastRetry()}, nil)
	_, err := client.Invoke(context.Background(), "p", Options{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenRouterClient_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"answer"}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenRouterClient(OpenRouterConfig{APIKey: "secret", BaseURL: server.URL, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	out, err := client.Invoke(context.Background(), "q", Options{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestOpenRouterClient_RequiresKey(t *testing.T) {
	_, err := NewOpenRouterClient(OpenRouterConfig{}, nil)
	assert.Error(t, err)
}

func TestWithTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, prompt string, opts Options) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	svc := WithTimeout(slow, 20*time.Millisecond)
	start := time.Now()
	_, err := svc.Invoke(context.Background(), "p", Options{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, IsRetryable(err))

	fast := WithTimeout(Func(func(ctx context.Context, prompt string, opts Options) (string, error) {
		return "ok", nil
	}), time.Second)
	out, err := fast.Invoke(context.Background(), "p", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestCachedService(t *testing.T) {
	mem := cache.NewMemoryClient(10)
	defer mem.Close()

	var calls int32
	inner := Func(func(ctx context.Context, prompt string, opts Options) (string, error) {
		atomic.AddInt32(&calls, 1)
		if prompt == "fail" {
			return "", ErrService
		}
		return "resp:" + prompt, nil
	})

	svc := NewCachedService(inner, mem, "m", time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := svc.Invoke(ctx, "a", Options{Temperature: 0.1})
		require.NoError(t, err)
		assert.Equal(t, "resp:a", out)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err := svc.Invoke(ctx, "a", Options{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	for i := 0; i < 2; i++ {
		_, err = svc.Invoke(ctx, "fail", Options{})
		assert.Error(t, err)
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&StatusError{Code: 429}))
	assert.True(t, IsRetryable(&StatusError{Code: 502}))
	assert.False(t, IsRetryable(&StatusError{Code: 404}))
	assert.False(t, IsRetryable(ErrEmptyResponse))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
	assert.True(t, errors.Is(&StatusError{Code: 500}, ErrService))
}

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, time.Second, calculateBackoff(0, cfg))
	assert.Equal(t, 4*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 30*time.Second, calculateBackoff(10, cfg))
}

func TestScripted(t *testing.T) {
	s := NewScripted(
		Rule{Contains: "rank", Response: "ranked"},
		Rule{Contains: "boom", Err: ErrTimeout},
	)
	ctx := context.Background()

	out, err := s.Invoke(ctx, "please rank these", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ranked", out)

	_, err = s.Invoke(ctx, "boom", Options{})
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = s.Invoke(ctx, "unmatched", Options{})
	assert.ErrorIs(t, err, ErrService)

	assert.Len(t, s.Calls(), 3)
	assert.Equal(t, 1, s.CallCount("rank"))
}

func TestNew(t *testing.T) {
	svc, err := New(config.ReasoningConfig{Provider: "ollama", Timeout: time.Second}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)

	_, err = New(config.ReasoningConfig{Provider: "openrouter"}, nil, nil)
	assert.Error(t, err)

	_, err = New(config.ReasoningConfig{Provider: "bard"}, nil, nil)
	assert.Error(t, err)
}

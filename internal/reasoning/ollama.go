package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
)

// OllamaConfig configures the local Ollama chat endpoint.
type OllamaConfig struct {
	BaseURL string // Default: http://localhost:11434
	Model   string
	Retry   RetryConfig
}

// OllamaClient calls POST /api/chat without streaming.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	retry      RetryConfig
	logger     *observability.Logger
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(cfg OllamaConfig, logger *observability.Logger) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	return &OllamaClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		retry:      cfg.Retry.withDefaults(),
		logger:     observability.OrNop(logger),
	}
}

// Invoke sends the prompt as a single user message.
func (c *OllamaClient) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	reqBody := ollamaRequest{
		Model:    c.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
	}
	reqBody.Options.Temperature = opts.Temperature

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := withCallTimeout(ctx, opts.Timeout)
	defer cancel()

	return retryWithBackoff(ctx, c.retry, c.logger, func() (string, error) {
		return c.do(ctx, jsonBody)
	})
}

func (c *OllamaClient) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", mapTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", mapTransportError(err)
	}

	if !isSuccess(resp.StatusCode) {
		return "", &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var out ollamaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrService, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrService, out.Error)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Message.Content, nil
}

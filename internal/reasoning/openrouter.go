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

// OpenRouterConfig configures the hosted chat completions endpoint.
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string // Default: https://openrouter.ai/api/v1
	Model   string
	Retry   RetryConfig
}

// OpenRouterClient calls the OpenAI-compatible chat completions API.
type OpenRouterClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	retry      RetryConfig
	logger     *observability.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenRouterClient creates a new hosted reasoning client.
func NewOpenRouterClient(cfg OpenRouterConfig, logger *observability.Logger) (*OpenRouterClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" || strings.Contains(cfg.BaseURL, "11434") {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "google/gemini-2.5-flash"
	}

	return &OpenRouterClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		retry:      cfg.Retry.withDefaults(),
		logger:     observability.OrNop(logger),
	}, nil
}

func (c *OpenRouterClient) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	jsonBody, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := withCallTimeout(ctx, opts.Timeout)
	defer cancel()

	return retryWithBackoff(ctx, c.retry, c.logger, func() (string, error) {
		return c.do(ctx, jsonBody)
	})
}

func (c *OpenRouterClient) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://spherical.ai")
	req.Header.Set("X-Title", "Meter Compliance Engine")

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

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrService, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: %s (type: %s)", ErrService, out.Error.Message, out.Error.Type)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

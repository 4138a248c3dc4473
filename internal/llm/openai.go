package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v5"

	"github.com/resourcewise/resourcewise/internal/observability"
)

type OpenAIConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxConcurrent int
}

// OpenAIClient talks to any OpenAI-compatible /v1/chat/completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	sem     chan struct{}
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		sem:     make(chan struct{}, maxConcurrent),
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	start := time.Now()
	defer func() { observability.ObserveLLMCall(req.Purpose, time.Since(start)) }()

	operation := func() (Response, error) {
		return c.completeOnce(ctx, req)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2),
	)
}

func (c *OpenAIClient) completeOnce(ctx context.Context, req Request) (Response, error) {
	payload := map[string]any{
		"model":       c.model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, backoff.Permanent(fmt.Errorf("marshal chat payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, backoff.Permanent(fmt.Errorf("build chat request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, fmt.Errorf("chat completion failed status=%d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return Response{}, backoff.Permanent(fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawBody)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return Response{}, backoff.Permanent(fmt.Errorf("decode chat completion response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, backoff.Permanent(fmt.Errorf("empty chat completion choices"))
	}

	return Response{
		Content: parsed.Choices[0].Message.Content,
		Model:   c.model,
	}, nil
}

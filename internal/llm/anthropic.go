package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plf1996/simFocus/internal/models"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
	anthropicAPIVersion   = "2023-06-01"
)

// AnthropicProvider implements Provider for the Anthropic messages API.
type AnthropicProvider struct {
	name        string
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
}

func NewAnthropicProvider(name, apiKey, model string) *AnthropicProvider {
	if name == "" {
		name = "anthropic"
	}
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicProvider{
		name:    name,
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicAPIURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		retryConfig: DefaultRetryConfig(),
	}
}

func (p *AnthropicProvider) Name() string {
	return p.name
}

// Complete sends a single-shot completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	resp, err := p.makeAPICall(ctx, p.convertRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("Anthropic API call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Anthropic API error: %d - %s", resp.StatusCode, string(body))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var content string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &models.GenerationResult{
		Content:      content,
		TokensUsed:   apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		FinishReason: apiResp.StopReason,
	}, nil
}

// CompleteStream sends a streaming completion request.
func (p *AnthropicProvider) CompleteStream(ctx context.Context, req *models.GenerationRequest) (<-chan *models.GenerationChunk, error) {
	resp, err := p.makeAPICall(ctx, p.convertRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("Anthropic streaming API call failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("Anthropic API error: %d - %s", resp.StatusCode, string(body))
	}

	ch := make(chan *models.GenerationChunk)
	go func() {
		defer func() { _ = resp.Body.Close() }()
		defer close(ch)

		reader := bufio.NewReader(resp.Body)
		var totalTokens int

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					return
				}
				select {
				case ch <- &models.GenerationChunk{Err: fmt.Errorf("stream read failed: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			line = bytes.TrimPrefix(line, []byte("data: "))

			var event anthropicStreamEvent
			if err := json.Unmarshal(line, &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Text != "" {
					select {
					case ch <- &models.GenerationChunk{Content: event.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if event.Usage != nil {
					totalTokens += event.Usage.OutputTokens
				}
			case "message_stop":
				select {
				case ch <- &models.GenerationChunk{
					IsComplete:   true,
					FinishReason: "stop",
					TokensUsed:   totalTokens,
				}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return ch, nil
}

// HealthCheck verifies the API key is usable with a minimal request.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := p.Complete(ctx, &models.GenerationRequest{Prompt: "ping", MaxTokens: 1})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (p *AnthropicProvider) convertRequest(req *models.GenerationRequest, stream bool) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	return anthropicRequest{
		Model:       model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (p *AnthropicProvider) makeAPICall(ctx context.Context, req anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryConfig.backoff(attempt)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("retryable error: status %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

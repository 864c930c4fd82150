package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/plf1996/simFocus/internal/models"
)

const (
	openAIAPIURL       = "https://api.openai.com/v1/chat/completions"
	openAIModelsURL    = "https://api.openai.com/v1/models"
	openAIDefaultModel = "gpt-4o"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible APIs.
// Custom backends reuse it with a different base URL.
type OpenAIProvider struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	retryConfig RetryConfig
}

// RetryConfig defines transport retry behavior for API calls.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

type openAIRequest struct {
	Model         string              `json:"model"`
	Messages      []openAIMessage     `json:"messages"`
	Temperature   float64             `json:"temperature,omitempty"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
	StreamOptions *openAIStreamOption `json:"stream_options,omitempty"`
}

type openAIStreamOption struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIStreamResponse struct {
	ID      string               `json:"id"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage"`
}

type openAIStreamChoice struct {
	Index        int           `json:"index"`
	Delta        openAIMessage `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

// NewOpenAIProvider creates an OpenAI provider. An empty baseURL targets the
// public API; an empty model falls back to the default.
func NewOpenAIProvider(name, apiKey, baseURL, model string) *OpenAIProvider {
	if name == "" {
		name = "openai"
	}
	if baseURL == "" {
		baseURL = openAIAPIURL
	}
	if model == "" {
		model = openAIDefaultModel
	}
	return &OpenAIProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		retryConfig: DefaultRetryConfig(),
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

// Complete sends a single-shot completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	resp, err := p.makeAPICall(ctx, p.convertRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAI API error: %d - %s", resp.StatusCode, string(body))
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI response contained no choices")
	}

	return &models.GenerationResult{
		Content:      apiResp.Choices[0].Message.Content,
		TokensUsed:   apiResp.Usage.TotalTokens,
		FinishReason: apiResp.Choices[0].FinishReason,
	}, nil
}

// CompleteStream sends a streaming completion request. The returned channel
// is closed after the terminal chunk.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, req *models.GenerationRequest) (<-chan *models.GenerationChunk, error) {
	apiReq := p.convertRequest(req, true)

	resp, err := p.makeAPICall(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI streaming API call failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("OpenAI API error: %d - %s", resp.StatusCode, string(body))
	}

	ch := make(chan *models.GenerationChunk)
	go func() {
		defer func() { _ = resp.Body.Close() }()
		defer close(ch)

		reader := bufio.NewReader(resp.Body)
		var (
			finishReason string
			totalTokens  int
		)

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
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

			if string(line) == "[DONE]" {
				if finishReason == "" {
					finishReason = "stop"
				}
				select {
				case ch <- &models.GenerationChunk{
					IsComplete:   true,
					FinishReason: finishReason,
					TokensUsed:   totalTokens,
				}:
				case <-ctx.Done():
				}
				return
			}

			var streamResp openAIStreamResponse
			if err := json.Unmarshal(line, &streamResp); err != nil {
				continue
			}

			if streamResp.Usage != nil {
				totalTokens = streamResp.Usage.TotalTokens
			}

			if len(streamResp.Choices) > 0 {
				choice := streamResp.Choices[0]
				if choice.FinishReason != nil && *choice.FinishReason != "" {
					finishReason = *choice.FinishReason
				}
				if choice.Delta.Content != "" {
					select {
					case ch <- &models.GenerationChunk{Content: choice.Delta.Content}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// HealthCheck verifies provider connectivity.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := openAIModelsURL
	if p.baseURL != openAIAPIURL {
		url = strings.TrimSuffix(p.baseURL, "/chat/completions") + "/models"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *OpenAIProvider) convertRequest(req *models.GenerationRequest, stream bool) openAIRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	apiReq := openAIRequest{
		Model:       model,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
	if stream {
		apiReq.StreamOptions = &openAIStreamOption{IncludeUsage: true}
	}
	return apiReq
}

func (p *OpenAIProvider) makeAPICall(ctx context.Context, req openAIRequest) (*http.Response, error) {
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
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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

func (rc RetryConfig) backoff(attempt int) time.Duration {
	delay := rc.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * rc.Multiplier)
		if delay > rc.MaxDelay {
			delay = rc.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.1) // #nosec G404
	return delay + jitter
}

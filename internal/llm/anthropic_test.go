package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plf1996/simFocus/internal/models"
)

func TestAnthropicProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, anthropicDefaultModel, req.Model)
		assert.Equal(t, 500, req.MaxTokens, "max_tokens is mandatory and defaulted")
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{
				{Type: "text", Text: "partial "},
				{Type: "tool_use"},
				{Type: "text", Text: "answer"},
			},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider("anthropic", "test-key", "")
	p.baseURL = server.URL

	result, err := p.Complete(context.Background(), &models.GenerationRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "partial answer", result.Content, "only text blocks are concatenated")
	assert.Equal(t, 15, result.TokensUsed)
	assert.Equal(t, "end_turn", result.FinishReason)
}

func TestAnthropicProvider_CompleteStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	p := NewAnthropicProvider("anthropic", "k", "")
	p.baseURL = server.URL

	stream, err := p.CompleteStream(context.Background(), &models.GenerationRequest{Prompt: "hello"})
	require.NoError(t, err)

	var content string
	var terminal *models.GenerationChunk
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		if chunk.IsComplete {
			terminal = chunk
			continue
		}
		content += chunk.Content
	}
	assert.Equal(t, "Hello", content)
	require.NotNil(t, terminal)
	assert.Equal(t, 7, terminal.TokensUsed)
	assert.Equal(t, "stop", terminal.FinishReason)
}

func TestAnthropicProvider_CompleteStream_EndsWithoutMessageStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"cut\"}}\n\n")
	}))
	defer server.Close()

	p := NewAnthropicProvider("anthropic", "k", "")
	p.baseURL = server.URL

	stream, err := p.CompleteStream(context.Background(), &models.GenerationRequest{Prompt: "hello"})
	require.NoError(t, err)

	var chunks []*models.GenerationChunk
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	// EOF without message_stop closes the channel with no terminal chunk;
	// the consumer decides how to treat the truncated content.
	require.Len(t, chunks, 1)
	assert.Equal(t, "cut", chunks[0].Content)
}

func TestAnthropicProvider_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider("anthropic", "k", "")
	p.baseURL = server.URL

	_, err := p.Complete(context.Background(), &models.GenerationRequest{Prompt: "hello"})
	assert.ErrorContains(t, err, "400")
}

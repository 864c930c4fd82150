package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plf1996/simFocus/internal/models"
)

// fakeProvider is a scripted in-memory generation provider. Responses are
// served in order from Scripted; when exhausted it produces a counting
// default. Set Fail or FailStream to force errors, Delay to slow streams
// down for pause/stop timing tests.
type fakeProvider struct {
	mu         sync.Mutex
	name       string
	Scripted   []string
	Fail       bool
	FailStream bool
	Delay      time.Duration

	CompleteCalls []string
	StreamCalls   []string
	calls         int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) HealthCheck(ctx context.Context) error {
	if f.Fail {
		return fmt.Errorf("provider down")
	}
	return nil
}

func (f *fakeProvider) next(prompt string, calls *[]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	*calls = append(*calls, prompt)
	if f.Fail {
		return "", fmt.Errorf("generation failed")
	}
	f.calls++
	if len(f.Scripted) > 0 {
		out := f.Scripted[0]
		f.Scripted = f.Scripted[1:]
		return out, nil
	}
	return fmt.Sprintf("generated response %d", f.calls), nil
}

func (f *fakeProvider) Complete(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	content, err := f.next(req.Prompt, &f.CompleteCalls)
	if err != nil {
		return nil, err
	}
	return &models.GenerationResult{Content: content, TokensUsed: len(content) / 4}, nil
}

func (f *fakeProvider) CompleteStream(ctx context.Context, req *models.GenerationRequest) (<-chan *models.GenerationChunk, error) {
	f.mu.Lock()
	failStream := f.FailStream
	delay := f.Delay
	f.mu.Unlock()

	content, err := f.next(req.Prompt, &f.StreamCalls)
	if err != nil {
		return nil, err
	}

	ch := make(chan *models.GenerationChunk, 8)
	go func() {
		defer close(ch)
		if delay > 0 {
			select {
			case <-ctx.Done():
				ch <- &models.GenerationChunk{Err: ctx.Err()}
				return
			case <-time.After(delay):
			}
		}
		if failStream {
			ch <- &models.GenerationChunk{Err: fmt.Errorf("stream broke")}
			return
		}
		// Two content chunks then the terminal usage chunk.
		half := len(content) / 2
		ch <- &models.GenerationChunk{Content: content[:half]}
		ch <- &models.GenerationChunk{Content: content[half:]}
		ch <- &models.GenerationChunk{IsComplete: true, TokensUsed: len(content) / 4, FinishReason: "stop"}
	}()
	return ch, nil
}

// Package llm provides the uniform interface over pluggable text-generation
// backends and the named registry through which the engine resolves them.
package llm

import (
	"context"

	"github.com/plf1996/simFocus/internal/models"
)

// Provider is a single generation backend. Complete blocks until the full
// result is available; CompleteStream yields an ordered finite sequence of
// chunks terminated by a chunk with IsComplete set (or a chunk carrying Err
// on mid-stream failure). Providers perform no retries beyond transport-level
// ones; turn-level recovery belongs to the caller.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error)
	CompleteStream(ctx context.Context, req *models.GenerationRequest) (<-chan *models.GenerationChunk, error)
	HealthCheck(ctx context.Context) error
}

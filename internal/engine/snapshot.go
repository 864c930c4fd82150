package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/cache"
	"github.com/plf1996/simFocus/internal/models"
)

const (
	stateTTLRunning  = time.Hour
	stateTTLTerminal = 24 * time.Hour
)

func stateCacheKey(id uuid.UUID) string {
	return "discussion_state:" + id.String()
}

// refreshStateCache writes the progress snapshot for a discussion. Best
// effort: cache failures are logged, never propagated.
func refreshStateCache(ctx context.Context, c cache.Cache, d *models.Discussion, log *logrus.Logger) {
	ttl := stateTTLTerminal
	if d.Status == models.StatusRunning {
		ttl = stateTTLRunning
	}
	if err := c.Set(ctx, stateCacheKey(d.ID), Snapshot(d), ttl); err != nil {
		log.WithField("discussion_id", d.ID).WithError(err).Warn("Failed to refresh state cache")
	}
}

package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/config"
)

// Connect returns a Redis-backed cache, falling back to the in-process cache
// when Redis is unreachable.
func Connect(cfg *config.RedisConfig, log *logrus.Logger) Cache {
	rc := NewRedisCache(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rc.Ping(ctx); err != nil {
		log.WithError(err).Warn("Redis unreachable, using in-memory cache")
		_ = rc.Close()
		return NewMemoryCache()
	}

	log.WithField("addr", cfg.Host+":"+cfg.Port).Info("Connected to Redis cache")
	return rc
}

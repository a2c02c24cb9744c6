// Package cache provides a Redis-backed distributed lock the reaper uses to
// coalesce proxy-reload reconciliations across overlapping startup and
// steady-state passes, grounded on the teacher's api/internal/cache.Cache.
//
// Unlike the teacher's general-purpose Get/Set/TTL cache, the hub only
// needs one operation: a short-lived SetNX lock that lets one reconcile
// win and every other reconcile triggered within the same window skip the
// nginx reload and config regeneration entirely. When Redis is unreachable
// or disabled, AcquireReload always grants the caller the lock so the
// reaper degrades to reconciling on every trigger rather than failing.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextgendem/slicehub/internal/config"
	"github.com/nextgendem/slicehub/internal/logger"
)

const reloadLockKey = "slicehub:proxy-reload-lock"

// DebounceCache wraps a Redis client used solely to coalesce reload
// triggers. A nil client means caching is disabled and every acquire
// succeeds immediately.
type DebounceCache struct {
	client *redis.Client
	window time.Duration
}

// NewDebounceCache builds a DebounceCache from the hub's configuration. It
// does not dial eagerly: the client connects lazily on first command, so a
// Redis outage at startup never blocks the reaper from running.
func NewDebounceCache(cfg *config.Config) *DebounceCache {
	if !cfg.CacheEnabled {
		return &DebounceCache{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	window := cfg.ReaperPeriod
	if window <= 0 {
		window = 60 * time.Second
	}

	return &DebounceCache{client: client, window: window}
}

// AcquireReload reports whether the caller should proceed with a proxy
// reconciliation. It returns true when caching is disabled, when the lock
// key was successfully claimed, or when Redis itself errors (fail open, so
// a Redis outage never silently stops proxy reconciliation). It returns
// false only when another reconciler already holds the lock.
func (c *DebounceCache) AcquireReload(ctx context.Context) (bool, error) {
	if c.client == nil {
		return true, nil
	}

	acquired, err := c.client.SetNX(ctx, reloadLockKey, "1", c.window).Result()
	if err != nil {
		logger.Cache().Warn().Err(err).Msg("reload debounce lock unavailable, failing open")
		return true, err
	}
	return acquired, nil
}

// Close releases the underlying Redis connection, if any.
func (c *DebounceCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

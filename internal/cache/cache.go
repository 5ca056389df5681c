// Package cache is a read-through cache for hot aggregate queries, keyed by
// entity. It is an optimization, never a source of truth: every failure is
// logged and swallowed, and a nil Redis client degrades to a no-op so the
// triggering write or read proceeds against the database.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clubops/training-ops/internal/logger"
	"github.com/clubops/training-ops/internal/metrics"
)

// Keys for the cached aggregates. Writers invalidate these after a
// successful commit; readers fill them with a TTL.
const (
	KeyCycleStats = "stats:cycles"
	KeyLeadStats  = "stats:leads"
)

// CycleKey is the cache key for a single cycle row.
func CycleKey(id uint64) string { return "cycle:" + strconv.FormatUint(id, 10) }

// LeadKey is the cache key for a single lead row.
func LeadKey(id uint64) string { return "lead:" + strconv.FormatUint(id, 10) }

// Cache wraps the shared Redis client. Safe to use with a nil client.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds a Cache. rdb may be nil when Redis is unavailable.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// GetJSON loads key into dest and reports whether it was a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Get().Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		logger.Get().Warn().Err(err).Str("key", key).Msg("cache entry corrupt")
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}
	metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return true
}

// SetJSON stores v under key with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Get().Warn().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	if err := c.rdb.SetEx(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Get().Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Invalidate drops the given keys. Called after successful commits only;
// a failed delete leaves a stale aggregate until its TTL runs out, which is
// acceptable for dashboard numbers.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Get().Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

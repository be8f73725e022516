// Package cache memoises word lookups in Redis. Concurrent misses for the
// same key share one computation, and a failing backend degrades to a miss.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Backend is the key-value store behind the cache. *pkgredis.Client
// implements it.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Backend = (*pkgredis.Client)(nil)

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	if m == nil {
		m = metrics.NewNop()
	}
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) get(ctx context.Context, key string) ([]store.Hit, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var hits []store.Hit
	if err := json.Unmarshal([]byte(data), &hits); err != nil {
		c.logger.Warn("cache entry undecodable", "key", key, "error", err)
		return nil, false
	}
	return hits, true
}

func (c *QueryCache) set(ctx context.Context, key string, hits []store.Hit) {
	data, err := json.Marshal(hits)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, string(data), c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached hits for (word, limit) or computes and
// stores them. cached reports whether the value came from the backend.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	word string,
	limit int,
	compute func() ([]store.Hit, error),
) (hits []store.Hit, cached bool, err error) {
	key := buildKey(word, limit)
	if hits, ok := c.get(ctx, key); ok {
		c.metrics.CacheHitsTotal.Inc()
		return hits, true, nil
	}
	c.metrics.CacheMissesTotal.Inc()

	val, err, _ := c.group.Do(key, func() (any, error) {
		if hits, ok := c.get(ctx, key); ok {
			return hits, nil
		}
		hits, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, hits)
		return hits, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]store.Hit), false, nil
}

// Invalidate drops every cached lookup.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func buildKey(word string, limit int) string {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s:limit=%d", word, limit))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

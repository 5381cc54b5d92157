package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/metrics"
)

// Cache kinds, each with its own TTL
const (
	CacheKindQuote   = "quote"
	CacheKindHistory = "history"
	CacheKindIndices = "indices"
	CacheKindSearch  = "search"
	CacheKindOptions = "options"
)

// CacheTTLs carries the per-kind expiry durations
type CacheTTLs struct {
	Quote   time.Duration
	History time.Duration
	Indices time.Duration
	Search  time.Duration
	Options time.Duration
}

// DefaultCacheTTLs returns the standard expiry set
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Quote:   30 * time.Second,
		History: 300 * time.Second,
		Indices: 60 * time.Second,
		Search:  3600 * time.Second,
		Options: 120 * time.Second,
	}
}

// Cache provides Redis-backed caching for market data reads.
// A nil Cache is valid and behaves as a permanent miss.
type Cache struct {
	client *redis.Client
	ttls   CacheTTLs
}

// NewCache creates a market data cache. Returns nil when client is nil
// (Redis is optional, callers degrade to direct fetches).
func NewCache(client *redis.Client, ttls CacheTTLs) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttls: ttls}
}

// ttlFor returns the expiry for a cache kind
func (c *Cache) ttlFor(kind string) time.Duration {
	switch kind {
	case CacheKindQuote:
		return c.ttls.Quote
	case CacheKindHistory:
		return c.ttls.History
	case CacheKindIndices:
		return c.ttls.Indices
	case CacheKindSearch:
		return c.ttls.Search
	case CacheKindOptions:
		return c.ttls.Options
	default:
		return 60 * time.Second
	}
}

// buildKey creates a namespaced Redis key
func (c *Cache) buildKey(kind, key string) string {
	return fmt.Sprintf("tradeveda:market:%s:%s", kind, key)
}

// Get loads a cached value into out. Returns true on a hit.
// Errors are treated as misses so cache trouble never fails a read.
func (c *Cache) Get(ctx context.Context, kind, key string, out interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}

	cacheKey := c.buildKey(kind, key)

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, cacheKey).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", cacheKey).
				Msg("Redis get error - treating as cache miss")
		}
		metrics.RecordCacheMiss(kind)
		return false
	}

	if err := json.Unmarshal([]byte(cached), out); err != nil {
		log.Warn().
			Err(err).
			Str("key", cacheKey).
			Msg("Failed to unmarshal cached market data")
		metrics.RecordCacheMiss(kind)
		return false
	}

	metrics.RecordCacheHit(kind)
	log.Debug().Str("key", cacheKey).Msg("Market cache hit")
	return true
}

// Set stores a value under the kind's TTL. Failures are logged, never fatal.
func (c *Cache) Set(ctx context.Context, kind, key string, value interface{}) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to marshal market data for cache")
		return
	}

	cacheKey := c.buildKey(kind, key)
	ttl := c.ttlFor(kind)

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, cacheKey, data, ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", cacheKey).
			Msg("Failed to cache market data")
		return
	}

	log.Debug().
		Str("key", cacheKey).
		Dur("ttl", ttl).
		Msg("Cached market data")
}

// SetAsync writes to cache off the caller's path
func (c *Cache) SetAsync(kind, key string, value interface{}) {
	if c == nil || c.client == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Set(ctx, kind, key, value)
	}()
}

// Clear removes all market cache entries
func (c *Cache) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := c.client.Scan(cacheCtx, 0, "tradeveda:market:*", 0).Iterator()
	count := 0

	for iter.Next(cacheCtx) {
		if err := c.client.Del(cacheCtx, iter.Val()).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("key", iter.Val()).
				Msg("Failed to delete cache key")
		} else {
			count++
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan error: %w", err)
	}

	log.Info().Int("keys_deleted", count).Msg("Cleared market cache")
	return nil
}

// Health checks the Redis connection
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// cacheEntry wraps a cached context with its provenance metadata.
type cacheEntry struct {
	Data      Context   `json:"data"`
	Source    string    `json:"source"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheStats reports cache effectiveness for the status surface.
type CacheStats struct {
	HitRate     float64 `json:"hit_rate"`
	TotalHits   int64   `json:"total_hits"`
	TotalMisses int64   `json:"total_misses"`
	TotalSets   int64   `json:"total_sets"`
	ErrorCount  int64   `json:"error_count"`
	LastError   string  `json:"last_error,omitempty"`
}

// ContextCache is the warm store consulted before hitting the upstream
// market feed.
type ContextCache interface {
	Get(ctx context.Context, symbol string) (*Context, bool)
	Set(ctx context.Context, symbol string, mc *Context, ttl time.Duration) error
	Stats() CacheStats
	Close() error
}

// RedisCache keeps market contexts in Redis under a fusion-scoped prefix.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	source    string

	mu    sync.Mutex
	stats CacheStats
}

// NewRedisCache connects a cache to the given Redis endpoint.
func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &RedisCache{
		client:    client,
		keyPrefix: "fusion:mctx:",
		source:    "redis",
	}
}

// Get returns the cached context for symbol when present and unexpired.
func (r *RedisCache) Get(ctx context.Context, symbol string) (*Context, bool) {
	raw, err := r.client.Get(ctx, r.keyPrefix+symbol).Result()
	if err != nil {
		r.mu.Lock()
		if err == redis.Nil {
			r.stats.TotalMisses++
		} else {
			r.stats.ErrorCount++
			r.stats.LastError = fmt.Sprintf("get: %v", err)
		}
		r.mu.Unlock()
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.mu.Lock()
		r.stats.ErrorCount++
		r.stats.LastError = fmt.Sprintf("decode: %v", err)
		r.mu.Unlock()
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		r.mu.Lock()
		r.stats.TotalMisses++
		r.mu.Unlock()
		return nil, false
	}

	r.mu.Lock()
	r.stats.TotalHits++
	r.mu.Unlock()
	return &entry.Data, true
}

// Set stores the context under the symbol key with the given TTL.
func (r *RedisCache) Set(ctx context.Context, symbol string, mc *Context, ttl time.Duration) error {
	now := time.Now()
	entry := cacheEntry{
		Data:      *mc,
		Source:    r.source,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+symbol, payload, ttl).Err(); err != nil {
		r.mu.Lock()
		r.stats.ErrorCount++
		r.stats.LastError = fmt.Sprintf("set: %v", err)
		r.mu.Unlock()
		return fmt.Errorf("cache set %s: %w", symbol, err)
	}
	r.mu.Lock()
	r.stats.TotalSets++
	r.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (r *RedisCache) Stats() CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	if total := s.TotalHits + s.TotalMisses; total > 0 {
		s.HitRate = float64(s.TotalHits) / float64(total)
	}
	return s
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// MemoryCache is the in-process fallback used when no Redis endpoint is
// configured, and the implementation the tests run against.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	stats   CacheStats
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached context for symbol when present and unexpired.
func (m *MemoryCache) Get(_ context.Context, symbol string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[symbol]
	if !ok || time.Now().After(entry.ExpiresAt) {
		m.stats.TotalMisses++
		return nil, false
	}
	m.stats.TotalHits++
	data := entry.Data
	return &data, true
}

// Set stores the context under the symbol key with the given TTL.
func (m *MemoryCache) Set(_ context.Context, symbol string, mc *Context, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.entries[symbol] = cacheEntry{
		Data:      *mc,
		Source:    "memory",
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	m.stats.TotalSets++
	return nil
}

// Stats returns a snapshot of the cache counters.
func (m *MemoryCache) Stats() CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	if total := s.TotalHits + s.TotalMisses; total > 0 {
		s.HitRate = float64(s.TotalHits) / float64(total)
	}
	return s
}

// Close empties the store.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]cacheEntry)
	return nil
}

// NewCache picks Redis when an address is configured, otherwise the
// in-process fallback.
func NewCache(redisAddr, password string, db int) ContextCache {
	if redisAddr == "" {
		log.Info().Msg("no redis address configured, using in-memory market cache")
		return NewMemoryCache()
	}
	log.Info().Str("addr", redisAddr).Msg("using redis market cache")
	return NewRedisCache(redisAddr, password, db)
}

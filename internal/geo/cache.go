package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no fresh entry exists for an address.
var ErrCacheMiss = errors.New("geo cache miss")

// DefaultCacheTTL bounds how long a resolved location is reused.
const DefaultCacheTTL = time.Hour

// Cache stores resolved locations keyed by IP address.
type Cache interface {
	Get(ctx context.Context, ip string) (Location, error)
	Set(ctx context.Context, ip string, loc Location) error
}

type cachedLocation struct {
	location Location
	storedAt time.Time
}

// MemoryCache is a process-local Cache with TTL expiration.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedLocation
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an in-memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[string]cachedLocation),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, ip string) (Location, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cached, ok := c.entries[ip]; ok && c.now().Sub(cached.storedAt) < c.ttl {
		return cached.location, nil
	}
	return Location{}, ErrCacheMiss
}

func (c *MemoryCache) Set(_ context.Context, ip string, loc Location) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = cachedLocation{location: loc, storedAt: c.now()}
	return nil
}

const redisKeyPrefix = "gatekeeper:geo:"

// RedisCache persists resolved locations in Redis with TTL-based eviction.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache constructs a Redis-backed location cache.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get loads a cached location.
//
// Errors: returns ErrCacheMiss on miss; wraps Redis or JSON decode errors.
func (c *RedisCache) Get(ctx context.Context, ip string) (Location, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+ip).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Location{}, ErrCacheMiss
		}
		return Location{}, fmt.Errorf("find geo cache: %w", err)
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return Location{}, fmt.Errorf("decode geo cache: %w", err)
	}
	return loc, nil
}

// Set writes a location with TTL eviction, overwriting any existing entry.
func (c *RedisCache) Set(ctx context.Context, ip string, loc Location) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode geo cache: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+ip, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save geo cache: %w", err)
	}
	return nil
}

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"

	"github.com/sandwichfarm/zapthreads/internal/config"
)

// Cache stores resolved profiles between lookups
type Cache interface {
	Get(ctx context.Context, pubkey string) (Profile, bool, error)
	Set(ctx context.Context, profile Profile) error
	Close() error
}

// NewCache builds the cache selected in the configuration
func NewCache(cfg config.Metadata) (Cache, error) {
	switch cfg.Cache {
	case "", "memory":
		return NewMemoryCache(cfg.CacheTTL()), nil
	case "none":
		return NoCache{}, nil
	case "redis":
		return NewRedisCache(cfg.RedisURL, cfg.CacheTTL())
	default:
		return nil, fmt.Errorf("unknown cache engine: %s", cfg.Cache)
	}
}

// NoCache never hits
type NoCache struct{}

func (NoCache) Get(context.Context, string) (Profile, bool, error) { return Profile{}, false, nil }
func (NoCache) Set(context.Context, Profile) error                 { return nil }
func (NoCache) Close() error                                      { return nil }

type cached struct {
	profile Profile
	expires time.Time
}

// MemoryCache keeps profiles in process with a TTL
type MemoryCache struct {
	entries *xsync.MapOf[string, cached]
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an in-process cache. A zero ttl never expires.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: xsync.NewMapOf[string, cached](),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, pubkey string) (Profile, bool, error) {
	e, ok := c.entries.Load(pubkey)
	if !ok {
		return Profile{}, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.entries.Delete(pubkey)
		return Profile{}, false, nil
	}
	return e.profile, true, nil
}

// Set keeps the newer of the stored and given profile
func (c *MemoryCache) Set(_ context.Context, profile Profile) error {
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.entries.Compute(profile.Pubkey, func(old cached, loaded bool) (cached, bool) {
		if loaded && old.profile.CreatedAt > profile.CreatedAt {
			return old, false
		}
		return cached{profile: profile, expires: expires}, false
	})
	return nil
}

func (c *MemoryCache) Close() error {
	c.entries.Clear()
	return nil
}

const redisKeyPrefix = "zapthreads:profile:"

// RedisCache shares profiles across processes
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the redis server at url
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, pubkey string) (Profile, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+pubkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, false, fmt.Errorf("decode cached profile: %w", err)
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, profile Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+profile.Pubkey, raw, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

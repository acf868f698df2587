package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/types"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a profile is not cached.
var ErrMiss = errors.New("cache miss")

// ProfileCache stores serialized profiles in Redis under profile:<id>.
type ProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProfileCache connects to Redis. It returns nil when no address is
// configured, which callers treat as "no cache".
func NewProfileCache(ctx context.Context, cfg config.RedisConfig) (*ProfileCache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewProfileCacheWithClient(client, cfg.ProfileTTL), nil
}

// NewProfileCacheWithClient wraps an existing client.
func NewProfileCacheWithClient(client *redis.Client, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProfileCache{client: client, ttl: ttl}
}

func key(id string) string { return "profile:" + id }

func (c *ProfileCache) Get(ctx context.Context, id string) (types.Profile, error) {
	b, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Profile{}, ErrMiss
		}
		return types.Profile{}, err
	}
	var p types.Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return types.Profile{}, err
	}
	return p, nil
}

// Set stores p, replacing any cached copy.
func (c *ProfileCache) Set(ctx context.Context, p types.Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(p.ID), b, c.ttl).Err()
}

// Add stores p only when nothing is cached for its id.
func (c *ProfileCache) Add(ctx context.Context, p types.Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, key(p.ID), b, c.ttl).Err()
}

func (c *ProfileCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, key(id)).Err()
}

func (c *ProfileCache) Close() error {
	return c.client.Close()
}

package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"mediarelay/internal/models"
)

// ErrCacheMiss is returned when the key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache is an injectable read-through cache in front of the credential
// store. Implementations must bound entry lifetime; a stale access token
// must never outlive its expiry in cache.
type Cache interface {
	Get(ctx context.Context, ownerID, platform string) (*models.Credential, error)
	Set(ctx context.Context, cred *models.Credential, ttl time.Duration) error
	Delete(ctx context.Context, ownerID, platform string) error
}

// RedisCache stores msgpack-encoded credentials in Redis.
type RedisCache struct {
	client *goredis.Client
}

// NewRedisCache builds a cache from a redis:// URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("credential cache: invalid redis URL: %w", err)
	}
	return &RedisCache{client: goredis.NewClient(opts)}, nil
}

// NewRedisCacheFromClient wraps an existing client. Tests use miniredis.
func NewRedisCacheFromClient(client *goredis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(ownerID, platform string) string {
	return fmt.Sprintf("cred:%s:%s", platform, ownerID)
}

func (c *RedisCache) Get(ctx context.Context, ownerID, platform string) (*models.Credential, error) {
	data, err := c.client.Get(ctx, cacheKey(ownerID, platform)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var cred models.Credential
	if err := msgpack.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("credential cache: decode: %w", err)
	}
	return &cred, nil
}

func (c *RedisCache) Set(ctx context.Context, cred *models.Credential, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := msgpack.Marshal(cred)
	if err != nil {
		return fmt.Errorf("credential cache: encode: %w", err)
	}

	return c.client.Set(ctx, cacheKey(cred.OwnerID, cred.Platform), data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, ownerID, platform string) error {
	return c.client.Del(ctx, cacheKey(ownerID, platform)).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)

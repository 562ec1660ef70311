package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Cache stores raw replies by prompt hash.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis string keys.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache wraps client. Keys are namespaced with prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "concept:reply:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get returns the cached reply, if any.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "gateway: cache get")
	}
	return val, true, nil
}

// Set stores a reply. A zero ttl keeps it forever.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return eris.Wrap(err, "gateway: cache set")
	}
	return nil
}

// CacheKey hashes everything that determines a reply.
func CacheKey(provider, model, system, prompt string) string {
	h := sha256.New()
	for _, part := range []string{provider, model, system, prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

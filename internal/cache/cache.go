package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a namespaced view of redis used to track staged-file liveness:
// every file written to the staging directory gets a marker key with a TTL,
// and the janitor treats marker expiry as permission to delete.
type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
}

// Create Redis connection
func NewCache(namespace string, redisCl redis.UniversalClient) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
	}
}

// Store data to Redis with a TTL in seconds
func (c *Cache) Store(ctx context.Context, key string, ttl int, value interface{}) error {
	dur, err := time.ParseDuration(strconv.Itoa(ttl) + "s")
	if err != nil {
		return err
	}

	cmd := c.Redis.Set(ctx, c.Namespace+":"+key, value, dur)
	return cmd.Err()
}

// Delete key from Redis
func (c *Cache) Remove(ctx context.Context, key string) error {
	cmd := c.Redis.Del(ctx, c.Namespace+":"+key)
	return cmd.Err()
}

// Exists reports whether the key still lives in Redis.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.Redis.Exists(ctx, c.Namespace+":"+key).Result()
	return n > 0, err
}

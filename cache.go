package trustkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// LRUCache is an in-process PermissionCache with a size bound and TTL.
// Matrices are cloned on the way in and out.
type LRUCache struct {
	cache *lru.LRU[string, PermissionMatrix]
}

var _ PermissionCache = (*LRUCache)(nil)

// NewLRUCache creates a cache holding at most size users for ttl each.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1000
	}
	return &LRUCache{cache: lru.NewLRU[string, PermissionMatrix](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, userID string) (PermissionMatrix, bool) {
	m, ok := c.cache.Get(userID)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

func (c *LRUCache) Set(_ context.Context, userID string, m PermissionMatrix) {
	c.cache.Add(userID, m.Clone())
}

func (c *LRUCache) Invalidate(_ context.Context, userID string) {
	c.cache.Remove(userID)
}

func (c *LRUCache) Purge(_ context.Context) {
	c.cache.Purge()
}

// Len returns the number of cached users.
func (c *LRUCache) Len() int {
	return c.cache.Len()
}

// RedisCache is a PermissionCache shared by every service instance.
// Purge bumps a generation counter, which orphans every older key until
// its TTL expires. Redis errors are logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Logger
}

var _ PermissionCache = (*RedisCache)(nil)

// RedisCacheConfig configures NewRedisCache.
type RedisCacheConfig struct {
	URL      string        `yaml:"url"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	PoolSize int           `yaml:"pool_size"`
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig, log *logrus.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisCache(client, cfg.Prefix, cfg.TTL, log), nil
}

func newRedisCache(client *redis.Client, prefix string, ttl time.Duration, log *logrus.Logger) *RedisCache {
	if prefix == "" {
		prefix = "trustkit:perm"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.prefix+":gen").Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return strconv.ParseInt(gen, 10, 64)
}

func (c *RedisCache) key(ctx context.Context, userID string) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, userID), nil
}

func (c *RedisCache) Get(ctx context.Context, userID string) (PermissionMatrix, bool) {
	key, err := c.key(ctx, userID)
	if err != nil {
		c.log.WithError(err).Debug("permission cache generation lookup failed")
		return nil, false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Debug("permission cache get failed")
		return nil, false
	}

	var m PermissionMatrix
	if err := json.Unmarshal(data, &m); err != nil {
		// Corrupt entry; drop it and recompute.
		c.client.Del(ctx, key)
		return nil, false
	}
	return m, true
}

func (c *RedisCache) Set(ctx context.Context, userID string, m PermissionMatrix) {
	key, err := c.key(ctx, userID)
	if err != nil {
		c.log.WithError(err).Debug("permission cache generation lookup failed")
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("user_id", userID).Debug("permission cache set failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) {
	key, err := c.key(ctx, userID)
	if err == nil {
		err = c.client.Del(ctx, key).Err()
	}
	if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("permission cache invalidation failed")
	}
}

func (c *RedisCache) Purge(ctx context.Context) {
	if err := c.client.Incr(ctx, c.prefix+":gen").Err(); err != nil {
		c.log.WithError(err).Warn("permission cache purge failed")
	}
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

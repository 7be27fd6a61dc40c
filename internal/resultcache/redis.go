package resultcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisResultTTL = 24 * time.Hour

// Redis is a shared result cache for multi-instance deployments.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client, prefix: "result:"}, nil
}

func (c *Redis) key(hash string) string {
	return c.prefix + hash
}

func (c *Redis) Get(ctx context.Context, hash string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, c.key(hash)).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (c *Redis) Put(ctx context.Context, hash string, payload []byte) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, c.key(hash), payload, redisResultTTL).Err()
}

func (c *Redis) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

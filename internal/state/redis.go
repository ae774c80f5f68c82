package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix        = "launchwatch:"
	redisOperationTimeout = 2 * time.Second
)

// RedisBackend stores each document as a plain redis string without expiry.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(dsn string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	return NewRedisBackendFromClient(redis.NewClient(opts)), nil
}

func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: redisKeyPrefix}
}

func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOperationTimeout)
	defer cancel()
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *RedisBackend) Save(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, redisOperationTimeout)
	defer cancel()
	return b.client.Set(ctx, b.prefix+key, payload, 0).Err()
}

func (b *RedisBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

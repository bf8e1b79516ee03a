package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is a Backend backed by Redis string keys:
//
//	<prefix><path>  => raw bytes
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a RedisBackend.
// prefix is optional but recommended (e.g. "strata:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "strata:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

func (b *RedisBackend) key(path string) string {
	return b.prefix + path
}

func (b *RedisBackend) Put(ctx context.Context, path string, data []byte) error {
	return b.client.Set(ctx, b.key(path), data, 0).Err()
}

func (b *RedisBackend) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

func (b *RedisBackend) Exists(ctx context.Context, path string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(path)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

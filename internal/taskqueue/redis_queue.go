package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the Queue interface using Redis.
//
// It uses a single Redis list with key:
//
//	<prefix>tasks
//
// Values are encoded with EncodeTask. A popped task whose NotBefore lies in
// the future holds its consumer until then, as InMemoryQueue does.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "strata:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "strata:"
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
		logger: slog.Default().With(slog.String("component", "redis_queue")),
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a task onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		// BRPop returns [key, value]
		res, err := q.client.BRPop(ctx, 0, q.key).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		if len(res) != 2 {
			q.logger.WarnContext(ctx, "unexpected BRPOP result", slog.Any("result", res))
			continue
		}
		t, err := DecodeTask([]byte(res[1]))
		if err != nil {
			return nil, err
		}
		if wait := time.Until(t.NotBefore); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				// Push back on the consuming end so the task is next.
				if err := q.client.RPush(context.Background(), q.key, res[1]).Err(); err != nil {
					q.logger.Warn("requeue on cancel failed", slog.String("task", t.ID), slog.Any("error", err))
				}
				return nil, ctx.Err()
			}
		}
		return t, nil
	}
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.logger.Warn("LLEN failed", slog.Any("error", err))
		return 0
	}
	return int(n)
}

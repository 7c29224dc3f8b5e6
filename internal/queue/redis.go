package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey          = "hookrelay:deliveries"
	DefaultBlockTimeout = 2 * time.Second
)

// ErrMalformedID is returned by Dequeue when the list held something other
// than a delivery id. The entry is dropped.
var ErrMalformedID = errors.New("malformed delivery id in queue")

// RedisQueue is a reliable list queue of delivery ids. Dequeued ids sit in a
// processing list until acknowledged, so ids held by a crashed consumer can
// be recovered.
type RedisQueue struct {
	client       *redis.Client
	key          string
	processing   string
	blockTimeout time.Duration
}

type Option func(*RedisQueue)

func WithKey(key string) Option {
	return func(q *RedisQueue) {
		q.key = key
		q.processing = key + ":processing"
	}
}

func WithBlockTimeout(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}

// NewRedisQueue connects to the Redis server at url and verifies it answers.
func NewRedisQueue(ctx context.Context, url string, opts ...Option) (*RedisQueue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	q := NewRedisQueueFromClient(redis.NewClient(opt), opts...)
	if err := q.Ping(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func NewRedisQueueFromClient(client *redis.Client, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		key:          DefaultKey,
		processing:   DefaultKey + ":processing",
		blockTimeout: DefaultBlockTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, deliveryID uuid.UUID) error {
	if err := q.client.LPush(ctx, q.key, deliveryID.String()).Err(); err != nil {
		return fmt.Errorf("enqueue delivery %s: %w", deliveryID, err)
	}
	return nil
}

// Dequeue blocks up to the block timeout for the next id and moves it to the
// processing list. ok is false when the wait timed out.
func (q *RedisQueue) Dequeue(ctx context.Context) (id uuid.UUID, ok bool, err error) {
	raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.blockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("dequeue delivery: %w", err)
	}

	id, err = uuid.Parse(raw)
	if err != nil {
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
		return uuid.Nil, false, fmt.Errorf("%w: %q", ErrMalformedID, raw)
	}
	return id, true, nil
}

// Ack removes a processed id from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, deliveryID uuid.UUID) error {
	if err := q.client.LRem(ctx, q.processing, 1, deliveryID.String()).Err(); err != nil {
		return fmt.Errorf("ack delivery %s: %w", deliveryID, err)
	}
	return nil
}

// Nack puts an id back on the pending list for another attempt.
func (q *RedisQueue) Nack(ctx context.Context, deliveryID uuid.UUID) error {
	member := deliveryID.String()
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, member)
		p.RPush(ctx, q.key, member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("nack delivery %s: %w", deliveryID, err)
	}
	return nil
}

// Recover moves every id left in the processing list back to the pending
// list. Call it before consumers start.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover processing list: %w", err)
		}
		moved++
	}
}

// Len returns the number of ids waiting to be consumed.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

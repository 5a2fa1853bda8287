package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

// RedisTransport is a reliable queue on Redis lists. Received messages are
// moved atomically onto a processing list and only leave it on
// Acknowledge or Reject, so a crashed consumer loses nothing.
//
//	<prefix>:queue                  pending messages (LPUSH / BRPOPLPUSH)
//	<prefix>:processing[:<name>]    messages owned by a consumer
//	<prefix>:dead                   rejected messages
//
// Every process that receives should use its own processing list through
// ForConsumer, otherwise Recover on one process also takes messages that
// another is still handling.
type RedisTransport struct {
	client        *redis.Client
	prefix        string
	queueKey      string
	processingKey string
	deadKey       string
	closed        atomic.Bool
}

// NewRedisTransport creates a transport namespaced under prefix. The client
// is owned by the caller.
func NewRedisTransport(client *redis.Client, prefix string) *RedisTransport {
	return &RedisTransport{
		client:        client,
		prefix:        prefix,
		queueKey:      prefix + ":queue",
		processingKey: prefix + ":processing",
		deadKey:       prefix + ":dead",
	}
}

// ForConsumer returns a transport on the same queue whose in-flight
// messages live on a processing list owned by name. A stable name lets a
// restarted process reclaim what it held when it died.
func (t *RedisTransport) ForConsumer(name string) *RedisTransport {
	return &RedisTransport{
		client:        t.client,
		prefix:        t.prefix,
		queueKey:      t.queueKey,
		processingKey: t.prefix + ":processing:" + name,
		deadKey:       t.deadKey,
	}
}

func (t *RedisTransport) Send(ctx context.Context, msg *Message) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := t.client.LPush(ctx, t.queueKey, raw).Err(); err != nil {
		return fmt.Errorf("failed to push message %s: %w", msg.ID, err)
	}
	return nil
}

func (t *RedisTransport) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	raw, err := t.client.BRPopLPush(ctx, t.queueKey, t.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		// an undecodable entry can never be acknowledged, park it
		if moveErr := t.move(ctx, raw, t.deadKey, raw); moveErr != nil {
			return nil, errors.Join(err, moveErr)
		}
		return nil, err
	}
	return msg, nil
}

func (t *RedisTransport) Acknowledge(ctx context.Context, msg *Message) error {
	if err := t.client.LRem(ctx, t.processingKey, 1, msg.raw).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", msg.ID, err)
	}
	return nil
}

func (t *RedisTransport) Reject(ctx context.Context, msg *Message, requeue bool) error {
	if !requeue {
		if err := t.move(ctx, msg.raw, t.deadKey, msg.raw); err != nil {
			return fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
		}
		return nil
	}

	retry := *msg
	retry.Attempts++
	raw, err := encodeMessage(&retry)
	if err != nil {
		return err
	}
	if err := t.move(ctx, msg.raw, t.queueKey, raw); err != nil {
		return fmt.Errorf("failed to requeue message %s: %w", msg.ID, err)
	}
	return nil
}

// move removes raw from the processing list and pushes next onto dest in one transaction
func (t *RedisTransport) move(ctx context.Context, raw, dest, next string) error {
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, t.processingKey, 1, raw)
		pipe.LPush(ctx, dest, next)
		return nil
	})
	return err
}

// Recover returns messages stranded on this transport's processing list by
// a previous run to the queue. Other consumers' lists are left alone. Call
// it before starting consumers.
func (t *RedisTransport) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		err := t.client.RPopLPush(ctx, t.processingKey, t.queueKey).Err()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to recover messages: %w", err)
		}
		recovered++
	}
}

// Depth holds the lengths of the transport lists
type Depth struct {
	Queue      int64 `json:"queue"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// Depth reports how many messages sit on each list. Processing counts this
// transport's list only.
func (t *RedisTransport) Depth(ctx context.Context) (Depth, error) {
	var queueLen, processingLen, deadLen *redis.IntCmd
	_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		queueLen = pipe.LLen(ctx, t.queueKey)
		processingLen = pipe.LLen(ctx, t.processingKey)
		deadLen = pipe.LLen(ctx, t.deadKey)
		return nil
	})
	if err != nil {
		return Depth{}, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return Depth{
		Queue:      queueLen.Val(),
		Processing: processingLen.Val(),
		Dead:       deadLen.Val(),
	}, nil
}

// ReportDepth publishes the list lengths to the queue depth gauges
func (t *RedisTransport) ReportDepth(ctx context.Context, metrics *observability.Metrics) error {
	depth, err := t.Depth(ctx)
	if err != nil {
		return err
	}
	metrics.RecordQueueDepth("queue", depth.Queue)
	metrics.RecordQueueDepth("processing", depth.Processing)
	metrics.RecordQueueDepth("dead", depth.Dead)
	return nil
}

// Close stops the transport. The Redis client stays open.
func (t *RedisTransport) Close() error {
	t.closed.Store(true)
	return nil
}

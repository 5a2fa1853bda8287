package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/reindexer/pkg/queue"
)

// Publisher sends a payload on a topic
type Publisher interface {
	Send(ctx context.Context, topic string, payload interface{}) (string, error)
}

// NewRedisPublisher connects a producer to the queue at redisURL. The
// returned close func releases the connection.
func NewRedisPublisher(redisURL, prefix string) (Publisher, func() error, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return queue.NewProducer(queue.NewRedisTransport(client, prefix), nil), client.Close, nil
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

// Producer publishes JSON payloads onto a Transport
type Producer struct {
	transport Transport
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewProducer creates a producer. metrics may be nil.
func NewProducer(transport Transport, metrics *observability.Metrics) *Producer {
	return &Producer{
		transport: transport,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Send marshals payload and publishes it on topic, returning the message id.
// A []byte or json.RawMessage payload is sent as is.
func (p *Producer) Send(ctx context.Context, topic string, payload interface{}) (string, error) {
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case json.RawMessage:
		body = v
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
		}
		body = data
	}

	msg := &Message{
		ID:          uuid.New().String(),
		Topic:       topic,
		Body:        body,
		PublishedAt: p.now().UTC(),
	}
	if err := p.transport.Send(ctx, msg); err != nil {
		return "", err
	}

	p.metrics.RecordPublish(topic)
	return msg.ID, nil
}

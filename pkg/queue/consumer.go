package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

var consumerTracer = otel.Tracer("reindexer/queue/consumer")

// Processor handles one message and decides its fate
type Processor interface {
	Process(ctx context.Context, msg *Message) Verdict
}

// SubscribedProcessor is a Processor that declares the topics it handles
type SubscribedProcessor interface {
	Processor
	SubscribedTopics() []string
}

// ConsumerConfig tunes a Consumer
type ConsumerConfig struct {
	PollTimeout time.Duration
	// MaxAttempts caps redeliveries of a requeued message before it is dead-lettered
	MaxAttempts int
}

// Consumer routes messages from a Transport to the processor bound to their
// topic and applies the returned verdict.
type Consumer struct {
	transport  Transport
	logger     *observability.Logger
	metrics    *observability.Metrics
	config     ConsumerConfig
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewConsumer creates a consumer. logger and metrics may be nil.
func NewConsumer(transport Transport, cfg ConsumerConfig, logger *observability.Logger, metrics *observability.Metrics) *Consumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Consumer{
		transport:  transport,
		logger:     logger.WithField("component", "consumer"),
		metrics:    metrics,
		config:     cfg,
		processors: make(map[string]Processor),
	}
}

// Bind routes every topic p subscribes to onto p
func (c *Consumer) Bind(p SubscribedProcessor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	topics := p.SubscribedTopics()
	for _, topic := range topics {
		if _, exists := c.processors[topic]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTopic, topic)
		}
	}
	for _, topic := range topics {
		c.processors[topic] = p
	}
	return nil
}

// Topics returns the bound topics in sorted order
func (c *Consumer) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.processors))
	for topic := range c.processors {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// ConsumeOne waits up to the poll timeout for a message and handles it.
// It reports whether a message was handled.
func (c *Consumer) ConsumeOne(ctx context.Context) (bool, error) {
	msg, err := c.transport.Receive(ctx, c.config.PollTimeout)
	if err != nil {
		if errors.Is(err, ErrMalformedEnvelope) {
			c.logger.WithError(err).Error("Dropped malformed message")
			return false, nil
		}
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	verdict := c.handle(ctx, msg)
	// settle even when shutdown raced the processor
	return true, c.settle(context.WithoutCancel(ctx), msg, verdict)
}

// Consume handles messages until ctx is cancelled or the transport closes
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.ConsumeOne(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
				return nil
			}
			c.logger.WithError(err).Error("Failed to consume message")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// RunConsumers runs n concurrent Consume loops and waits for all of them
func (c *Consumer) RunConsumers(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return c.Consume(ctx)
		})
	}
	return g.Wait()
}

func (c *Consumer) handle(ctx context.Context, msg *Message) (verdict Verdict) {
	start := time.Now()
	logger := c.logger.WithField("message_id", msg.ID).WithField("topic", msg.Topic)

	ctx, span := consumerTracer.Start(ctx, "queue.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", msg.ID),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.attempts", msg.Attempts),
		),
	)
	defer func() {
		span.SetAttributes(attribute.String("messaging.verdict", verdict.String()))
		span.End()
		c.metrics.RecordMessage(msg.Topic, verdict.String(), time.Since(start))
	}()

	c.mu.RLock()
	processor, ok := c.processors[msg.Topic]
	c.mu.RUnlock()
	if !ok {
		logger.WithError(ErrUnknownTopic).Error("Rejecting unroutable message")
		return Reject
	}

	ctx = observability.WithMessageID(ctx, msg.ID)
	ctx = observability.WithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(logger, "message processing", r)
			verdict = Reject
		}
	}()
	return processor.Process(ctx, msg)
}

func (c *Consumer) settle(ctx context.Context, msg *Message, verdict Verdict) error {
	switch verdict {
	case Ack:
		return c.transport.Acknowledge(ctx, msg)
	case Requeue:
		if msg.Attempts+1 >= c.config.MaxAttempts {
			c.logger.WithField("message_id", msg.ID).
				WithField("attempts", msg.Attempts+1).
				Warn("Message exceeded max attempts, dead-lettering")
			return c.transport.Reject(ctx, msg, false)
		}
		return c.transport.Reject(ctx, msg, true)
	default:
		return c.transport.Reject(ctx, msg, false)
	}
}

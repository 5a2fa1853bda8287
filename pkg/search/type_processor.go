package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/reindexer/pkg/async"
	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/observability"
	"github.com/platinummonkey/reindexer/pkg/queue"
)

// TypeProcessorConfig tunes the split of a class into range messages
type TypeProcessorConfig struct {
	// BatchSize is the number of entities per range message
	BatchSize int
	// PublishWorkers bounds concurrent range message sends
	PublishWorkers int
	PublishTimeout time.Duration
}

// TypeProcessor splits every entity of a class into disjoint ranges and
// publishes one range message, each with its own delayed job, per range.
type TypeProcessor struct {
	managers  ManagerResolver
	jobs      ChunkJobRunner
	publisher Publisher
	config    TypeProcessorConfig
	logger    *observability.Logger
}

// NewTypeProcessor creates a TypeProcessor. logger may be nil.
func NewTypeProcessor(managers ManagerResolver, jobs ChunkJobRunner, publisher Publisher, cfg TypeProcessorConfig, logger *observability.Logger) *TypeProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.BatchSize > MaxRangeLimit {
		cfg.BatchSize = MaxRangeLimit
	}
	if cfg.PublishWorkers <= 0 {
		cfg.PublishWorkers = 4
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TypeProcessor{
		managers:  managers,
		jobs:      jobs,
		publisher: publisher,
		config:    cfg,
		logger:    logger.WithField("component", "type_processor"),
	}
}

func (p *TypeProcessor) SubscribedTopics() []string {
	return []string{TopicIndexEntitiesByType}
}

func (p *TypeProcessor) Process(ctx context.Context, msg *queue.Message) (verdict queue.Verdict) {
	logger := observability.UpdateLoggerWithTraceContext(ctx, p.logger.WithField("message_id", msg.ID))
	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(logger, "type processor", r)
			verdict = queue.Reject
		}
	}()

	req, err := ParseTypeRequest(msg.Body)
	if err != nil {
		logger.WithError(err).Error(logMessageNotValid)
		return queue.Reject
	}
	logger = logger.WithField("entity_class", req.EntityClass).WithField("job_id", req.JobID)

	result, err := p.jobs.RunDelayed(ctx, req.JobID, func(ctx context.Context, j *job.Job) job.Result {
		return p.split(ctx, logger, j, req.EntityClass)
	})
	if err != nil {
		logger.WithError(err).Error("Failed to run class indexing job")
		return queue.Reject
	}
	if !result.Success {
		return queue.Reject
	}
	return queue.Ack
}

// split creates the range jobs under the root of j, then publishes them
func (p *TypeProcessor) split(ctx context.Context, logger *observability.Logger, j *job.Job, entityClass string) job.Result {
	manager, err := p.managers.ManagerForClass(entityClass)
	if err != nil {
		logger.WithError(err).Errorf(logManagerNotFound, entityClass)
		return job.Failed(err.Error())
	}

	count, err := manager.Count(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to count entities")
		return job.Failed(fmt.Sprintf("count: %v", err))
	}

	requests := make([]RangeRequest, 0, count/p.config.BatchSize+1)
	for offset := 0; offset < count; offset += p.config.BatchSize {
		child, err := p.jobs.CreateDelayed(ctx, j.RootJobID, fmt.Sprintf("search_index_range:%s:%d", entityClass, offset))
		if err != nil {
			logger.WithError(err).Error("Failed to create range job")
			p.abandon(ctx, logger, requests, nil, "range job creation failed")
			return job.Failed(fmt.Sprintf("create range job: %v", err))
		}
		requests = append(requests, RangeRequest{
			EntityClass: entityClass,
			Offset:      offset,
			Limit:       p.config.BatchSize,
			JobID:       child.ID,
		})
	}

	var mu sync.Mutex
	published := make(map[int64]bool, len(requests))
	errs := async.Batch(ctx, logger, requests, p.config.PublishWorkers, "range publish", p.config.PublishTimeout,
		func(ctx context.Context, req RangeRequest) error {
			if _, err := p.publisher.Send(ctx, TopicIndexEntitiesByRange, req); err != nil {
				return err
			}
			mu.Lock()
			published[req.JobID] = true
			mu.Unlock()
			return nil
		})
	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.WithError(err).WithField("failed", len(errs)).Error("Failed to publish range messages")
		p.abandon(ctx, logger, requests, published, "range message was not published")
		return job.Failed(fmt.Sprintf("publish ranges: %v", err))
	}

	logger.WithFields(map[string]interface{}{
		"entities": count,
		"ranges":   len(requests),
	}).Info("Entity class split into ranges")
	return job.Succeeded()
}

// abandon fails the range jobs whose messages never reached the queue so the
// root job can still finish
func (p *TypeProcessor) abandon(ctx context.Context, logger *observability.Logger, requests []RangeRequest, published map[int64]bool, reason string) {
	for _, req := range requests {
		if published[req.JobID] {
			continue
		}
		if err := p.jobs.Abandon(ctx, req.JobID, reason); err != nil {
			logger.WithError(err).WithField("range_job_id", req.JobID).Error("Failed to abandon range job")
		}
	}
}

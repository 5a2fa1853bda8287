package search

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/observability"
	"github.com/platinummonkey/reindexer/pkg/queue"
)

var processorTracer = otel.Tracer("reindexer/search/processor")

// Log texts watched by monitoring; keep them byte for byte
const (
	logMessageNotValid   = "Message is not valid."
	logManagerNotFound   = `Entity manager is not defined for class: "%s"`
	reasonInvalidMessage = "message is not valid"
)

// RangeProcessor indexes one range of entities per message. Each message is
// handled under the delayed job named in it, so a reindex split across many
// range messages is tracked as one root job.
//
// The processor keeps no state between messages: the manager is resolved
// and the batch loaded afresh each time. It never requeues. Malformed input
// and unknown classes cannot heal, and retrying index failures is left to
// the job layer.
type RangeProcessor struct {
	managers ManagerResolver
	indexer  Indexer
	jobs     JobRunner
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRangeProcessor creates a RangeProcessor. logger and metrics may be nil.
func NewRangeProcessor(managers ManagerResolver, indexer Indexer, jobs JobRunner, logger *observability.Logger, metrics *observability.Metrics) *RangeProcessor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RangeProcessor{
		managers: managers,
		indexer:  indexer,
		jobs:     jobs,
		logger:   logger.WithField("component", "range_processor"),
		metrics:  metrics,
	}
}

// SubscribedTopics returns the single topic this processor handles
func (p *RangeProcessor) SubscribedTopics() []string {
	return []string{TopicIndexEntitiesByRange}
}

// Process handles one range message. It returns queue.Ack when the job
// reports success and queue.Reject otherwise.
func (p *RangeProcessor) Process(ctx context.Context, msg *queue.Message) (verdict queue.Verdict) {
	logger := observability.UpdateLoggerWithTraceContext(ctx, p.logger.WithField("message_id", msg.ID))

	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(logger, "range processor", r)
			verdict = queue.Reject
		}
	}()

	ctx, span := processorTracer.Start(ctx, "search.index_range",
		trace.WithAttributes(attribute.String("message_id", msg.ID)),
	)
	defer span.End()

	req, err := ParseRangeRequest(msg.Body)
	if err != nil {
		logger.WithError(err).Error(logMessageNotValid)
		span.SetStatus(codes.Error, reasonInvalidMessage)
		p.metrics.RecordIndexError("unknown", "invalid_message")

		// close the job out so the root does not wait on it forever
		if jobID, ok := JobIDFromPayload(msg.Body); ok {
			p.failInvalid(ctx, logger, jobID)
		}
		return queue.Reject
	}

	span.SetAttributes(
		attribute.String("entity_class", req.EntityClass),
		attribute.Int("offset", req.Offset),
		attribute.Int("limit", req.Limit),
		attribute.Int64("job_id", req.JobID),
	)
	logger = logger.WithFields(map[string]interface{}{
		"entity_class": req.EntityClass,
		"offset":       req.Offset,
		"limit":        req.Limit,
		"job_id":       req.JobID,
	})

	result, err := p.jobs.RunDelayed(ctx, req.JobID, func(ctx context.Context, _ *job.Job) job.Result {
		return p.indexRange(ctx, logger, req)
	})
	if err != nil {
		logger.WithError(err).Error("Failed to run range indexing job")
		span.RecordError(err)
		span.SetStatus(codes.Error, "job runner failed")
		return queue.Reject
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.Reason)
		return queue.Reject
	}

	span.SetStatus(codes.Ok, "range indexed")
	return queue.Ack
}

// failInvalid reports the failure of a job whose message could not be parsed
func (p *RangeProcessor) failInvalid(ctx context.Context, logger *observability.Logger, jobID int64) {
	_, err := p.jobs.RunDelayed(ctx, jobID, func(context.Context, *job.Job) job.Result {
		return job.Failed(reasonInvalidMessage)
	})
	if err != nil {
		logger.WithError(err).WithField("job_id", jobID).Warn("Failed to close job of invalid message")
	}
}

// indexRange is the body of the delayed job. It reports exactly one outcome
// and never panics past the runner.
func (p *RangeProcessor) indexRange(ctx context.Context, logger *observability.Logger, req RangeRequest) job.Result {
	manager, err := p.managers.ManagerForClass(req.EntityClass)
	if err != nil {
		logger.WithError(err).Errorf(logManagerNotFound, req.EntityClass)
		p.metrics.RecordIndexError(req.EntityClass, "manager_not_found")
		return job.Failed(err.Error())
	}

	batch, err := manager.LoadRange(ctx, req.Offset, req.Limit)
	if err != nil {
		logger.WithError(err).Error("Failed to load entity range")
		p.metrics.RecordIndexError(req.EntityClass, "load_failed")
		return job.Failed(fmt.Sprintf("load range: %v", err))
	}

	if err := p.indexer.IndexRange(ctx, req.EntityClass, batch); err != nil {
		logger.WithError(err).Error("Failed to index entity range")
		p.metrics.RecordIndexError(req.EntityClass, "index_failed")
		return job.Failed(err.Error())
	}

	logger.WithField("indexed", len(batch)).Debug("Entity range indexed")
	return job.Succeeded()
}

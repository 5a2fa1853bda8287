package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/observability"
	"github.com/platinummonkey/reindexer/pkg/queue"
)

// ReindexJobName is the unique root job name of a full reindex. Only one
// reindex can be active at a time.
const ReindexJobName = "search_reindex"

// ReindexProcessor starts a reindex: one unique root job, with one delayed
// child and one per-class message for every requested class.
type ReindexProcessor struct {
	classes   ClassResolver
	jobs      RootJobRunner
	publisher Publisher
	logger    *observability.Logger
}

// NewReindexProcessor creates a ReindexProcessor. logger may be nil.
func NewReindexProcessor(classes ClassResolver, jobs RootJobRunner, publisher Publisher, logger *observability.Logger) *ReindexProcessor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ReindexProcessor{
		classes:   classes,
		jobs:      jobs,
		publisher: publisher,
		logger:    logger.WithField("component", "reindex_processor"),
	}
}

func (p *ReindexProcessor) SubscribedTopics() []string {
	return []string{TopicReindex}
}

func (p *ReindexProcessor) Process(ctx context.Context, msg *queue.Message) (verdict queue.Verdict) {
	logger := observability.UpdateLoggerWithTraceContext(ctx, p.logger.WithField("message_id", msg.ID))
	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(logger, "reindex processor", r)
			verdict = queue.Reject
		}
	}()

	req, err := ParseReindexRequest(msg.Body)
	if err != nil {
		logger.WithError(err).Error(logMessageNotValid)
		return queue.Reject
	}

	classes := req.Classes
	if len(classes) == 0 {
		classes = p.classes.Classes()
	}
	for _, class := range classes {
		if _, err := p.classes.ManagerForClass(class); err != nil {
			logger.WithError(err).Errorf(logManagerNotFound, class)
			return queue.Reject
		}
	}

	root, err := p.jobs.RunUnique(ctx, msg.ID, ReindexJobName, func(ctx context.Context, root *job.Job) error {
		for _, class := range classes {
			child, err := p.jobs.CreateDelayed(ctx, root.ID, fmt.Sprintf("search_index_type:%s", class))
			if err != nil {
				return err
			}
			if _, err := p.publisher.Send(ctx, TopicIndexEntitiesByType, TypeRequest{EntityClass: class, JobID: child.ID}); err != nil {
				return fmt.Errorf("failed to publish %s: %w", class, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, job.ErrDuplicateJob) {
			logger.Warn("Reindex already running, request dropped")
		} else {
			logger.WithError(err).Error("Failed to start reindex")
		}
		return queue.Reject
	}

	logger.WithField("job_id", root.ID).WithField("classes", classes).Info("Reindex started")
	return queue.Ack
}

package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

// Scheduler publishes reindex requests on a cron schedule
type Scheduler struct {
	publisher Publisher
	request   ReindexRequest
	logger    *observability.Logger
	cron      *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// NewScheduler creates a scheduler that requests a reindex of classes (all
// classes when empty) on schedule, a standard five field cron expression.
func NewScheduler(schedule string, classes []string, publisher Publisher, logger *observability.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Scheduler{
		publisher: publisher,
		request:   ReindexRequest{Classes: classes},
		logger:    logger.WithField("component", "reindex_scheduler").WithField("schedule", schedule),
		cron:      cron.New(),
		ctx:       context.Background(),
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid reindex schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Reindex scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops the schedule and waits for a running tick
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce publishes one reindex request now and returns its message id
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	id, err := s.publisher.Send(ctx, TopicReindex, s.request)
	if err != nil {
		return "", fmt.Errorf("failed to publish reindex request: %w", err)
	}
	return id, nil
}

func (s *Scheduler) tick() {
	defer observability.RecoverPanic(s.logger, "reindex schedule tick")

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	id, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled reindex failed")
		return
	}
	s.logger.WithField("message_id", id).Info("Scheduled reindex requested")
}

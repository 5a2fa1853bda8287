package search

import (
	"context"

	"github.com/platinummonkey/reindexer/pkg/entity"
	"github.com/platinummonkey/reindexer/pkg/job"
)

// ManagerResolver finds the persistence manager of an entity class.
// entity.Registry implements it.
type ManagerResolver interface {
	ManagerForClass(entityClass string) (entity.Manager, error)
}

// ClassResolver is a ManagerResolver that can also list its classes
type ClassResolver interface {
	ManagerResolver
	Classes() []string
}

// JobRunner runs a delayed job exactly once per job id. fn is invoked
// synchronously, at most once, and its Result becomes the job outcome.
// job.Runner implements it.
type JobRunner interface {
	RunDelayed(ctx context.Context, jobID int64, fn job.DelayedFunc) (job.Result, error)
}

// DelayedJobCreator registers delayed jobs under a root job
type DelayedJobCreator interface {
	CreateDelayed(ctx context.Context, rootID int64, name string) (*job.Job, error)
}

// JobAbandoner fails a delayed job that will never be run
type JobAbandoner interface {
	Abandon(ctx context.Context, jobID int64, reason string) error
}

// ChunkJobRunner runs a delayed job that creates further delayed jobs
type ChunkJobRunner interface {
	JobRunner
	DelayedJobCreator
	JobAbandoner
}

// RootJobRunner starts unique root jobs and their children
type RootJobRunner interface {
	RunUnique(ctx context.Context, ownerID, name string, fn job.RootFunc) (*job.Job, error)
	DelayedJobCreator
}

// Publisher sends a payload on a topic. queue.Producer implements it.
type Publisher interface {
	Send(ctx context.Context, topic string, payload interface{}) (string, error)
}

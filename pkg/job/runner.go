package job

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

// RunnerConfig tunes a Runner
type RunnerConfig struct {
	// LockTTL bounds how long a crashed worker can hold a job
	LockTTL time.Duration
	// CacheSize and CacheTTL bound the cache of finished job results
	CacheSize int
	CacheTTL  time.Duration
}

// Runner creates jobs and executes delayed jobs exactly once
type Runner struct {
	store   Store
	locker  Locker
	logger  *observability.Logger
	metrics *observability.Metrics
	config  RunnerConfig
	results *expirable.LRU[int64, Result]
	now     func() time.Time
}

// NewRunner creates a Runner. logger and metrics may be nil.
func NewRunner(store Store, locker Locker, cfg RunnerConfig, logger *observability.Logger, metrics *observability.Metrics) *Runner {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{
		store:   store,
		locker:  locker,
		logger:  logger.WithField("component", "job_runner"),
		metrics: metrics,
		config:  cfg,
		results: expirable.NewLRU[int64, Result](cfg.CacheSize, nil, cfg.CacheTTL),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunUnique creates a unique root job named name and runs fn inside it. fn
// usually creates the delayed children that carry the real work. The root
// stays new while fn runs, so children finishing early cannot complete it,
// and then running until its last child finishes.
func (r *Runner) RunUnique(ctx context.Context, ownerID, name string, fn RootFunc) (*Job, error) {
	now := r.now()
	root := &Job{
		Name:      name,
		OwnerID:   ownerID,
		Status:    StatusNew,
		Unique:    true,
		CreatedAt: now,
		StartedAt: &now,
	}
	if err := r.store.Create(ctx, root); err != nil {
		return nil, err
	}
	r.metrics.RecordJobCreated("root")

	logger := r.logger.WithField("job_id", root.ID).WithField("job_name", name)
	logger.Info("Root job started")

	err := r.invokeRoot(observability.WithJobID(ctx, root.ID), root, fn)
	if err != nil {
		root.Status = StatusFailed
		root.Reason = err.Error()
		stopped := r.now()
		root.StoppedAt = &stopped
		if updateErr := r.store.Update(context.WithoutCancel(ctx), root); updateErr != nil {
			return root, errors.Join(err, updateErr)
		}
		r.metrics.RecordJobFinished(string(StatusFailed))
		logger.WithError(err).Error("Root job failed")
		return root, err
	}

	writeCtx := context.WithoutCancel(ctx)
	if root, err = r.store.Get(writeCtx, root.ID); err != nil {
		return nil, err
	}
	root.Status = StatusRunning
	if err := r.store.Update(writeCtx, root); err != nil {
		return root, err
	}
	if err := r.refreshRoot(writeCtx, root.ID); err != nil {
		return root, err
	}
	return r.store.Get(writeCtx, root.ID)
}

func (r *Runner) invokeRoot(ctx context.Context, root *Job, fn RootFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.LogPanic(r.logger, "root job "+root.Name, rec)
			err = observability.MustRecover(rec)
		}
	}()
	return fn(ctx, root)
}

// CreateDelayed creates a job in the new state. rootID 0 creates a
// standalone job.
func (r *Runner) CreateDelayed(ctx context.Context, rootID int64, name string) (*Job, error) {
	if rootID != 0 {
		if _, err := r.store.Get(ctx, rootID); err != nil {
			return nil, fmt.Errorf("failed to load root job: %w", err)
		}
	}

	j := &Job{
		Name:      name,
		Status:    StatusNew,
		RootJobID: rootID,
		CreatedAt: r.now(),
	}
	if err := r.store.Create(ctx, j); err != nil {
		return nil, err
	}
	r.metrics.RecordJobCreated("child")
	return j, nil
}

// RunDelayed executes fn as the job jobID and stores its outcome. A job that
// already finished returns its stored result without calling fn again. A job
// whose root was interrupted is cancelled without calling fn.
func (r *Runner) RunDelayed(ctx context.Context, jobID int64, fn DelayedFunc) (Result, error) {
	if result, ok := r.results.Get(jobID); ok {
		return result, nil
	}

	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if j.Status.Terminal() {
		return r.remember(j), nil
	}

	release, err := r.locker.Acquire(ctx, lockKey(jobID), r.config.LockTTL)
	if err != nil {
		return Result{}, err
	}
	writeCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := release(writeCtx); err != nil {
			r.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to release job lock")
		}
	}()

	// another worker may have finished the job before we got the lock
	if j, err = r.store.Get(ctx, jobID); err != nil {
		return Result{}, err
	}
	if j.Status.Terminal() {
		return r.remember(j), nil
	}

	logger := r.logger.WithField("job_id", jobID).WithField("job_name", j.Name)

	if j.RootJobID != 0 {
		root, err := r.store.Get(ctx, j.RootJobID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load root job: %w", err)
		}
		if root.Interrupted {
			logger.Info("Root job interrupted, cancelling")
			return r.finish(writeCtx, j, StatusCancelled, "root job interrupted")
		}
	}

	started := r.now()
	j.Status = StatusRunning
	j.StartedAt = &started
	if err := r.store.Update(ctx, j); err != nil {
		return Result{}, err
	}

	result := r.invokeDelayed(observability.WithJobID(ctx, jobID), j, fn)

	status := StatusSuccess
	if !result.Success {
		status = StatusFailed
	}
	logger.WithField("status", string(status)).Debug("Delayed job finished")
	return r.finish(writeCtx, j, status, result.Reason)
}

func (r *Runner) invokeDelayed(ctx context.Context, j *Job, fn DelayedFunc) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.LogPanic(r.logger, "delayed job "+j.Name, rec)
			result = Failed(observability.MustRecover(rec).Error())
		}
	}()
	return fn(ctx, j)
}

// finish stores the single terminal status of j and updates its root
func (r *Runner) finish(ctx context.Context, j *Job, status Status, reason string) (Result, error) {
	stopped := r.now()
	j.Status = status
	j.Reason = reason
	j.StoppedAt = &stopped
	if err := r.store.Update(ctx, j); err != nil {
		return Result{}, err
	}
	r.metrics.RecordJobFinished(string(status))

	if j.RootJobID != 0 {
		if err := r.refreshRoot(ctx, j.RootJobID); err != nil {
			r.logger.WithError(err).WithField("root_job_id", j.RootJobID).Error("Failed to update root job")
		}
	}
	return r.remember(j), nil
}

func (r *Runner) remember(j *Job) Result {
	result := resultOf(j)
	r.results.Add(j.ID, result)
	return result
}

// refreshRoot recomputes a root status from its children. Concurrent
// refreshes of the same root are serialized through the locker.
func (r *Runner) refreshRoot(ctx context.Context, rootID int64) error {
	release, err := acquireWait(ctx, r.locker, rootLockKey(rootID), 30*time.Second, 10*time.Second)
	if err != nil {
		return err
	}
	defer release(ctx) //nolint:errcheck

	root, err := r.store.Get(ctx, rootID)
	if err != nil {
		return err
	}
	if root.Status == StatusNew || root.Status.Terminal() {
		return nil
	}
	children, err := r.store.Children(ctx, rootID)
	if err != nil {
		return err
	}

	status := rootStatus(root, children)
	if status == root.Status {
		return nil
	}

	root.Status = status
	if status.Terminal() {
		stopped := r.now()
		root.StoppedAt = &stopped
		r.metrics.RecordJobFinished(string(status))
		r.logger.WithField("job_id", rootID).WithField("status", string(status)).Info("Root job finished")
	}
	return r.store.Update(ctx, root)
}

// Abandon finishes a job that will never run, such as a range whose message
// could not be published, as failed. Finished jobs are left alone.
func (r *Runner) Abandon(ctx context.Context, jobID int64, reason string) error {
	return r.settle(ctx, jobID, StatusFailed, reason)
}

// settle moves a new job straight to a terminal status under its job lock
func (r *Runner) settle(ctx context.Context, jobID int64, status Status, reason string) error {
	release, err := r.locker.Acquire(ctx, lockKey(jobID), r.config.LockTTL)
	if err != nil {
		return err
	}
	writeCtx := context.WithoutCancel(ctx)
	defer release(writeCtx) //nolint:errcheck

	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusNew {
		return nil
	}
	_, err = r.finish(writeCtx, j, status, reason)
	return err
}

// Interrupt flags a root job and cancels its children that have not started.
// Children already running finish normally.
func (r *Runner) Interrupt(ctx context.Context, rootID int64) error {
	root, err := r.store.Get(ctx, rootID)
	if err != nil {
		return err
	}
	if root.Status.Terminal() || root.Interrupted {
		return nil
	}
	root.Interrupted = true
	if err := r.store.Update(ctx, root); err != nil {
		return err
	}

	children, err := r.store.Children(ctx, rootID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Status != StatusNew {
			continue
		}
		// a locked child is being run and sees the interrupt itself
		if err := r.settle(ctx, child.ID, StatusCancelled, "root job interrupted"); err != nil && !isLocked(err) {
			return err
		}
	}
	return r.refreshRoot(ctx, rootID)
}

// Status returns a job with its children and a count of children per status
func (r *Runner) Status(ctx context.Context, jobID int64) (*JobStatus, error) {
	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status := &JobStatus{Job: j}
	if j.RootJobID != 0 || !j.Unique {
		return status, nil
	}

	children, err := r.store.Children(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status.Children = children
	status.Counts = make(map[Status]int)
	for _, child := range children {
		status.Counts[child.Status]++
	}
	return status, nil
}

func lockKey(jobID int64) string {
	return "job:" + strconv.FormatInt(jobID, 10)
}

func rootLockKey(rootID int64) string {
	return "root:" + strconv.FormatInt(rootID, 10)
}

func isLocked(err error) bool {
	return errors.Is(err, ErrJobLocked)
}

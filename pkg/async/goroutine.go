package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

// ErrPoolClosed is returned when submitting to a pool that no longer accepts work
var ErrPoolClosed = errors.New("worker pool shut down")

// SafeGo runs fn in its own goroutine bounded by timeout, or by parentCtx
// alone when timeout is zero. Errors and panics are logged against taskName
// and never propagate.
//
//	async.SafeGo(ctx, logger, 0, "mapping watcher", watcher.Run)
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		var ctx context.Context
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		} else {
			ctx, cancel = context.WithCancel(parentCtx)
		}
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of goroutines. Task
// errors, including recovered panics, are delivered on Errors.
type WorkerPool struct {
	workers  int
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	workCh    chan func(context.Context) error
	doneCh    chan struct{}
	errCh     chan error
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewWorkerPool starts workers goroutines that live until Drain or Shutdown
func NewWorkerPool(ctx context.Context, logger *observability.Logger, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("pool", taskName),
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.worker()
			}()
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task. It blocks while the queue is full and fails once the
// pool is closed or its context is done.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPoolClosed, err)
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("%w: %v", ErrPoolClosed, p.ctx.Err())
	}
}

func (p *WorkerPool) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()
	})
}

// Drain stops accepting work and blocks until every queued task has run
func (p *WorkerPool) Drain() {
	p.close()
	<-p.doneCh
	p.cancel()
}

// Shutdown stops accepting work and waits up to timeout for queued tasks
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.close()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}

// Errors returns the channel task errors are delivered on
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(fn)
		}
	}
}

func (p *WorkerPool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				observability.LogPanic(p.logger, p.taskName, r)
				err = observability.MustRecover(r)
			}
		}()
		err = fn(ctx)
	}()

	if err == nil {
		return
	}
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).Warn("Error channel full, dropping error")
	}
}

// Batch applies fn to every item on a pool of workers and returns the errors
// encountered, each wrapped with the index of its item. Submission stops at
// the first item the pool refuses.
//
//	errs := async.Batch(ctx, logger, ranges, 4, "range publish", 10*time.Second,
//	    func(ctx context.Context, r Range) error {
//	        _, err := producer.Send(ctx, topic, r)
//	        return err
//	    })
func Batch[T any](ctx context.Context, logger *observability.Logger, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, logger, workers, taskName, timeout)

	var errs []error
	var mu sync.Mutex
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i, item := range items {
		if err := pool.Submit(func(ctx context.Context) error {
			if err := fn(ctx, item); err != nil {
				record(fmt.Errorf("%s item %d: %w", taskName, i, err))
			}
			return nil
		}); err != nil {
			record(err)
			break
		}
	}

	pool.Drain()

	for {
		select {
		case err := <-pool.errCh:
			record(err)
		default:
			return errs
		}
	}
}

package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

func newTestRunner(t *testing.T) (*Runner, *MemoryStore, *observability.Metrics) {
	t.Helper()
	store := NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewRunner(store, NewMemoryLocker(), RunnerConfig{}, nil, metrics), store, metrics
}

func TestRunDelayed_Success(t *testing.T) {
	runner, store, metrics := newTestRunner(t)
	ctx := context.Background()
	store.Put(&Job{ID: 12345, Name: "index_range", Status: StatusNew})

	var seen Status
	result, err := runner.RunDelayed(ctx, 12345, func(ctx context.Context, j *Job) Result {
		seen = j.Status
		id, ok := observability.GetJobID(ctx)
		assert.True(t, ok)
		assert.Equal(t, int64(12345), id)
		return Succeeded()
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StatusRunning, seen)

	stored, err := store.Get(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.StoppedAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobsFinishedTotal.WithLabelValues("success")))
}

func TestRunDelayed_Failure(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	store.Put(&Job{ID: 1, Name: "index_range", Status: StatusNew})

	result, err := runner.RunDelayed(context.Background(), 1, func(ctx context.Context, j *Job) Result {
		return Failed("message is not valid")
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "message is not valid", result.Reason)

	stored, _ := store.Get(context.Background(), 1)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "message is not valid", stored.Reason)
}

func TestRunDelayed_RunsOncePerJob(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	store.Put(&Job{ID: 7, Name: "index_range", Status: StatusNew})

	calls := 0
	fn := func(ctx context.Context, j *Job) Result {
		calls++
		return Succeeded()
	}

	for i := 0; i < 3; i++ {
		result, err := runner.RunDelayed(context.Background(), 7, fn)
		require.NoError(t, err)
		assert.True(t, result.Success)
	}
	assert.Equal(t, 1, calls)

	// a fresh runner without the cache still sees the stored outcome
	fresh := NewRunner(store, NewMemoryLocker(), RunnerConfig{}, nil, nil)
	result, err := fresh.RunDelayed(context.Background(), 7, fn)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, calls)
}

func TestRunDelayed_ConcurrentCallersRunOnce(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	store.Put(&Job{ID: 9, Name: "index_range", Status: StatusNew})

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runner.RunDelayed(context.Background(), 9, func(ctx context.Context, j *Job) Result {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return Succeeded()
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrJobLocked)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestRunDelayed_NotFound(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	_, err := runner.RunDelayed(context.Background(), 404, func(ctx context.Context, j *Job) Result {
		t.Fatal("must not run")
		return Result{}
	})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunDelayed_Locked(t *testing.T) {
	store := NewMemoryStore()
	locker := NewMemoryLocker()
	runner := NewRunner(store, locker, RunnerConfig{}, nil, nil)
	store.Put(&Job{ID: 3, Name: "index_range", Status: StatusNew})

	release, err := locker.Acquire(context.Background(), lockKey(3), time.Minute)
	require.NoError(t, err)
	defer release(context.Background()) //nolint:errcheck

	_, err = runner.RunDelayed(context.Background(), 3, func(ctx context.Context, j *Job) Result {
		t.Fatal("must not run")
		return Result{}
	})
	assert.ErrorIs(t, err, ErrJobLocked)
}

func TestRunDelayed_PanicBecomesFailure(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	store.Put(&Job{ID: 5, Name: "index_range", Status: StatusNew})

	result, err := runner.RunDelayed(context.Background(), 5, func(ctx context.Context, j *Job) Result {
		panic("indexer exploded")
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "indexer exploded")

	stored, _ := store.Get(context.Background(), 5)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestRunUnique_RootFollowsChildren(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	ctx := context.Background()

	var children []*Job
	root, err := runner.RunUnique(ctx, "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		for _, name := range []string{"product", "customer"} {
			child, err := runner.CreateDelayed(ctx, root.ID, "index_type:"+name)
			if err != nil {
				return err
			}
			children = append(children, child)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, root.Status)

	_, err = runner.RunUnique(ctx, "msg-2", "search_reindex", func(ctx context.Context, root *Job) error { return nil })
	assert.ErrorIs(t, err, ErrDuplicateJob, "an active unique root blocks a second one")

	_, err = runner.RunDelayed(ctx, children[0].ID, func(ctx context.Context, j *Job) Result { return Succeeded() })
	require.NoError(t, err)
	status, err := runner.Status(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Job.Status)
	assert.Equal(t, map[Status]int{StatusSuccess: 1, StatusNew: 1}, status.Counts)

	_, err = runner.RunDelayed(ctx, children[1].ID, func(ctx context.Context, j *Job) Result { return Succeeded() })
	require.NoError(t, err)

	stored, err := store.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
	assert.NotNil(t, stored.StoppedAt)
}

func TestRunUnique_FailedChildFailsRoot(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	ctx := context.Background()

	var child *Job
	root, err := runner.RunUnique(ctx, "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		var err error
		child, err = runner.CreateDelayed(ctx, root.ID, "index_range")
		return err
	})
	require.NoError(t, err)

	_, err = runner.RunDelayed(ctx, child.ID, func(ctx context.Context, j *Job) Result { return Failed("boom") })
	require.NoError(t, err)

	stored, _ := store.Get(ctx, root.ID)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestRunUnique_NoChildrenSucceeds(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	root, err := runner.RunUnique(context.Background(), "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, root.Status)
}

func TestRunUnique_ErrorFailsRoot(t *testing.T) {
	runner, store, _ := newTestRunner(t)

	root, err := runner.RunUnique(context.Background(), "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		return errors.New("no classes registered")
	})
	require.Error(t, err)
	require.NotNil(t, root)

	stored, _ := store.Get(context.Background(), root.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "no classes registered", stored.Reason)
}

func TestInterrupt_CancelsPendingChildren(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	ctx := context.Background()

	var child *Job
	root, err := runner.RunUnique(ctx, "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		var err error
		child, err = runner.CreateDelayed(ctx, root.ID, "index_range")
		return err
	})
	require.NoError(t, err)

	require.NoError(t, runner.Interrupt(ctx, root.ID))

	result, err := runner.RunDelayed(ctx, child.ID, func(ctx context.Context, j *Job) Result {
		t.Fatal("cancelled child must not run")
		return Result{}
	})
	require.NoError(t, err)
	assert.False(t, result.Success)

	storedChild, _ := store.Get(ctx, child.ID)
	assert.Equal(t, StatusCancelled, storedChild.Status)
	storedRoot, _ := store.Get(ctx, root.ID)
	assert.Equal(t, StatusCancelled, storedRoot.Status)
}

func TestInterrupt_SettlesUndeliveredChildren(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	ctx := context.Background()

	var children []*Job
	root, err := runner.RunUnique(ctx, "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		for _, name := range []string{"range:0", "range:10"} {
			child, err := runner.CreateDelayed(ctx, root.ID, name)
			if err != nil {
				return err
			}
			children = append(children, child)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, root.Status)

	// the messages of these children are never delivered
	require.NoError(t, runner.Interrupt(ctx, root.ID))

	storedRoot, _ := store.Get(ctx, root.ID)
	assert.Equal(t, StatusCancelled, storedRoot.Status)
	for _, child := range children {
		stored, _ := store.Get(ctx, child.ID)
		assert.Equal(t, StatusCancelled, stored.Status)
	}

	_, err = runner.RunUnique(ctx, "msg-2", "search_reindex", func(context.Context, *Job) error { return nil })
	assert.NoError(t, err, "a cancelled root frees the unique name")
}

func TestInterrupt_LeavesLockedChildToItsWorker(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	ctx := context.Background()

	var child *Job
	root, err := runner.RunUnique(ctx, "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		var err error
		child, err = runner.CreateDelayed(ctx, root.ID, "index_range")
		return err
	})
	require.NoError(t, err)

	release, err := runner.locker.Acquire(ctx, lockKey(child.ID), time.Minute)
	require.NoError(t, err)
	require.NoError(t, runner.Interrupt(ctx, root.ID))

	stored, _ := store.Get(ctx, child.ID)
	assert.Equal(t, StatusNew, stored.Status)
	require.NoError(t, release(ctx))
}

func TestAbandon(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	ctx := context.Background()

	var pending, sent *Job
	root, err := runner.RunUnique(ctx, "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		var err error
		if pending, err = runner.CreateDelayed(ctx, root.ID, "range:0"); err != nil {
			return err
		}
		sent, err = runner.CreateDelayed(ctx, root.ID, "range:10")
		return err
	})
	require.NoError(t, err)

	require.NoError(t, runner.Abandon(ctx, pending.ID, "range message was not published"))
	stored, _ := store.Get(ctx, pending.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "range message was not published", stored.Reason)

	storedRoot, _ := store.Get(ctx, root.ID)
	assert.Equal(t, StatusRunning, storedRoot.Status, "the other range is still pending")

	result, err := runner.RunDelayed(ctx, sent.ID, func(context.Context, *Job) Result { return Succeeded() })
	require.NoError(t, err)
	assert.True(t, result.Success)

	storedRoot, _ = store.Get(ctx, root.ID)
	assert.Equal(t, StatusFailed, storedRoot.Status)

	// finished jobs are left alone
	require.NoError(t, runner.Abandon(ctx, sent.ID, "late"))
	stored, _ = store.Get(ctx, sent.ID)
	assert.Equal(t, StatusSuccess, stored.Status)

	assert.ErrorIs(t, runner.Abandon(ctx, 404, "missing"), ErrJobNotFound)
}

func TestCreateDelayed_UnknownRoot(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	_, err := runner.CreateDelayed(context.Background(), 404, "index_range")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRootStatus(t *testing.T) {
	tests := []struct {
		name        string
		interrupted bool
		children    []Status
		want        Status
	}{
		{name: "no children", want: StatusSuccess},
		{name: "pending child", children: []Status{StatusSuccess, StatusNew}, want: StatusRunning},
		{name: "running child wins over failure", children: []Status{StatusFailed, StatusRunning}, want: StatusRunning},
		{name: "failed child", children: []Status{StatusSuccess, StatusFailed}, want: StatusFailed},
		{name: "interrupted", interrupted: true, children: []Status{StatusCancelled, StatusSuccess}, want: StatusCancelled},
		{name: "interrupted with failure", interrupted: true, children: []Status{StatusFailed}, want: StatusFailed},
		{name: "interrupted with pending child", interrupted: true, children: []Status{StatusSuccess, StatusNew}, want: StatusCancelled},
		{name: "interrupted with running child", interrupted: true, children: []Status{StatusNew, StatusRunning}, want: StatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var children []*Job
			for _, s := range tt.children {
				children = append(children, &Job{Status: s})
			}
			assert.Equal(t, tt.want, rootStatus(&Job{Interrupted: tt.interrupted}, children))
		})
	}
}

func TestRunnerWithSQLStore(t *testing.T) {
	store := setupSQLiteStore(t)
	runner := NewRunner(store, NewMemoryLocker(), RunnerConfig{}, nil, nil)
	ctx := context.Background()

	var child *Job
	root, err := runner.RunUnique(ctx, "msg-1", "search_reindex", func(ctx context.Context, root *Job) error {
		var err error
		child, err = runner.CreateDelayed(ctx, root.ID, "index_range")
		return err
	})
	require.NoError(t, err)

	result, err := runner.RunDelayed(ctx, child.ID, func(ctx context.Context, j *Job) Result { return Succeeded() })
	require.NoError(t, err)
	assert.True(t, result.Success)

	status, err := runner.Status(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status.Job.Status)
	require.Len(t, status.Children, 1)
	assert.Equal(t, StatusSuccess, status.Children[0].Status)
}

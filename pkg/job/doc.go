// Package job tracks long-running indexing work as jobs.
//
// A unique root job represents one reindex request. Work is split into
// delayed child jobs that consumers execute independently; the root status
// follows its children:
//
//	runner := job.NewRunner(store, locker, job.RunnerConfig{}, logger, metrics)
//
//	root, err := runner.RunUnique(ctx, msg.ID, "search_reindex", func(ctx context.Context, root *job.Job) error {
//		child, err := runner.CreateDelayed(ctx, root.ID, "index_type:product")
//		...
//	})
//
//	result, err := runner.RunDelayed(ctx, child.ID, func(ctx context.Context, j *job.Job) job.Result {
//		return job.Succeeded()
//	})
//
// RunDelayed executes a job at most once: a finished job returns its stored
// result, and a per-job lock keeps concurrent consumers out.
//
// Jobs persist in a Store (SQLStore for PostgreSQL, MemoryStore for tests);
// locks come from a Locker (RedisLocker across processes, MemoryLocker
// within one).
package job

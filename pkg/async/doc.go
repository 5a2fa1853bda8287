// Package async provides goroutine helpers with panic recovery, timeouts and
// error collection.
//
// SafeGo runs a fire-and-forget task and logs its failure:
//
//	async.SafeGo(ctx, logger, 30*time.Second, "mapping reload", reload)
//
// WorkerPool runs tasks on a fixed set of workers:
//
//	pool := async.NewWorkerPool(ctx, logger, 4, "range publish", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//	pool.Submit(task)
//
// Batch fans a slice out over a pool and returns the per-item errors. The
// type processor uses it to publish the range messages of one entity class.
package async

// Package async provides panic-safe goroutines and small worker pools.
//
// SafeGo runs a function in a goroutine with panic recovery, an optional
// timeout and logging through the logger carried by the parent context:
//
//	async.SafeGo(ctx, 0, "session events", func(ctx context.Context) error {
//		return m.consume(ctx)
//	})
//
// A zero timeout means the task lives until the parent context is canceled.
//
// WorkerPool bounds concurrency for a stream of tasks:
//
//	pool := async.NewWorkerPool(ctx, 4, "leaf mounts", 5*time.Second)
//	defer pool.Shutdown(10 * time.Second)
//	pool.Submit(func(ctx context.Context) error {
//		return leaf.Mount(ctx)
//	})
//
// Batch is the common case of running one function per item and collecting
// the errors:
//
//	errs := async.Batch(ctx, leaves, 4, "mount leaves", 5*time.Second,
//		func(ctx context.Context, leaf *App) error {
//			return leaf.Mount(ctx)
//		})
package async

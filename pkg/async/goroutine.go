package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, 0, "session events", func(ctx context.Context) error {
//	    return m.foldEvents(ctx)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := withOptionalTimeout(parentCtx, timeout)
		defer cancel()

		logger := observability.FromContext(parentCtx).WithField("task", taskName)
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("stack", string(debug.Stack())).Errorf("panic in goroutine: %v", r)
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("goroutine returned an error")
		}
	}()
}

// withOptionalTimeout applies timeout when positive; zero means the task
// lives as long as parent
func withOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	logger       *observability.Logger
}

// NewWorkerPool creates a new worker pool.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 10, "leaf mount", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return machine.Mount(ctx)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10), // Larger buffer to avoid drops
		ctx:      ctx,
		cancel:   cancel,
		logger:   observability.FromContext(ctx).WithField("pool", taskName),
	}

	// Start workers and wait for them to finish in background
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool.
// Returns error if pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	// Check if already shut down
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// Try to submit work
	defer func() {
		if r := recover(); r != nil {
			// Recovered from panic (likely closed channel)
			// This happens if shutdown was called between the check above and the send below
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	// Ensure shutdown only happens once
	p.shutdownOnce.Do(func() {
		// Close work channel so workers can drain remaining tasks
		// Recover from panic if channel already closed (e.g., by Batch)
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Channel already closed, continue with shutdown
				}
			}()
			close(p.workCh)
		}()

		// Wait for workers to finish with timeout
		select {
		case <-p.doneCh:
			p.cancel() // Cancel context after workers are done
		case <-time.After(timeout):
			p.cancel() // Force cancel on timeout
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	defer func() {
		// Recover from panics first
		if r := recover(); r != nil {
			p.logger.WithField("worker", id).WithField("stack", string(debug.Stack())).Errorf("panic in worker: %v", r)
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}

			// Create context with timeout for this task
			ctx, cancel := context.WithTimeout(p.ctx, p.timeout)

			// Execute task with panic recovery
			func() {
				defer cancel()
				defer func() {
					if r := recover(); r != nil {
						err := fmt.Errorf("panic: %v", r)
						select {
						case p.errCh <- err:
						default:
							p.logger.WithError(err).Warn("error channel full, dropping error")
						}
					}
				}()

				if err := fn(ctx); err != nil {
					select {
					case p.errCh <- err:
					default:
						p.logger.WithError(err).Warn("error channel full, dropping error")
					}
				}
			}()
		}
	}
}

// Batch processes a slice of items concurrently using a worker pool.
// Returns all errors encountered.
//
// Example:
//
//	origins := []string{"http://localhost:3001", "http://localhost:3002"}
//	errs := Batch(ctx, origins, 4, "leaf mount", 10*time.Second, func(ctx context.Context, origin string) error {
//	    return mountLeaf(ctx, origin)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, workers, taskName, timeout)
	defer pool.Shutdown(5 * time.Second)

	// Submit all tasks
	for _, item := range items {
		item := item // Capture loop variable
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return []error{err}
		}
	}

	// Wait for completion by closing work channel first
	// This allows workers to drain all remaining tasks
	close(pool.workCh)
	<-pool.doneCh

	// Cancel context after all work is done
	pool.cancel()

	// Collect errors
	var errs []error
	for {
		select {
		case err := <-pool.errCh:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

package async

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
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
//	SafeGo(r.Context(), 5*time.Second, "entitlement cache invalidation", func(ctx context.Context) error {
//	    return cache.Invalidate(ctx, orgID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		// Create context with timeout
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		// Recover from panics
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		// Execute function
		if err := fn(ctx); err != nil {
			// Log error but don't crash
			// Caller can decide if this is critical or not
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
// Still provides panic recovery and context support.
//
// Example:
//
//	SafeGoNoError(r.Context(), 5*time.Second, "gauge refresh", func(ctx context.Context) {
//	    refreshOrganisationGauges(ctx)
//	})
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers   int
	taskName  string
	timeout   time.Duration
	workCh    chan func(context.Context) error
	doneCh    chan struct{}
	errCh     chan error
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 10, "usage snapshots", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return computeSnapshot(ctx, orgID)
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

	// A send can still race with Drain closing the channel; recover
	// from the resulting panic and report the pool as shut down.
	submitted := false
	func() {
		defer func() {
			recover()
		}()

		select {
		case p.workCh <- fn:
			submitted = true
		case <-p.doneCh:
		}
	}()

	if !submitted {
		return fmt.Errorf("worker pool shut down")
	}
	return nil
}

// Drain closes the work channel and blocks until workers have
// processed every queued task. Safe to call multiple times.
func (p *WorkerPool) Drain() {
	p.closeOnce.Do(func() {
		close(p.workCh)
	})
	<-p.doneCh
	p.cancel()
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.closeOnce.Do(func() {
		close(p.workCh)
	})

	// Wait for workers to finish with timeout
	select {
	case <-p.doneCh:
		p.cancel() // Cancel context after workers are done
		return nil
	case <-time.After(timeout):
		p.cancel() // Force cancel on timeout
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
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
			log.Printf("[WorkerPool] PANIC in worker %d (%s): %v\nStack trace:\n%s",
				id, p.taskName, r, string(debug.Stack()))
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
							log.Printf("[WorkerPool] Error channel full, dropping error: %v", err)
						}
					}
				}()

				if err := fn(ctx); err != nil {
					select {
					case p.errCh <- err:
					default:
						log.Printf("[WorkerPool] Error channel full, dropping error: %v", err)
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
//	errs := Batch(ctx, orgIDs, 5, "snapshot computation", 10*time.Second, func(ctx context.Context, orgID int64) error {
//	    return computeSnapshot(ctx, orgID)
//	})
//	if len(errs) > 0 {
//	    log.Printf("Failed to compute %d snapshots", len(errs))
//	}
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, workers, taskName, timeout)

	// Submit all tasks
	for _, item := range items {
		item := item // Capture loop variable
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return []error{err}
		}
	}

	// Let workers finish every queued task before collecting errors
	pool.Drain()

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

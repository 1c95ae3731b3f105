// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error collection.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, 30*time.Second, "cache invalidation", func(ctx context.Context) error {
//		// Task code with automatic panic recovery and timeout
//		return cache.Invalidate(ctx, orgID)
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, 10, "usage snapshots", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return computeSnapshot(ctx, orgID)
//	})
//
// Batch: Concurrent batch processing
//
//	errs := async.Batch(ctx, orgIDs, 5, "snapshot computation", 10*time.Second,
//		func(ctx context.Context, orgID int64) error {
//			return computeSnapshot(ctx, orgID)
//		})
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Context Cancellation: Respects context cancellation
// Error Collection: Non-blocking error channels
// Graceful Shutdown: Worker draining
//
// # Use Cases
//
// Cache invalidation, usage snapshot computation, audit archive exports
//
// # Related Packages
//
//   - pkg/entitlement: Uses SafeGo for cache invalidation
//   - cmd/warden-aggregator: Uses Batch for snapshot computation
package async

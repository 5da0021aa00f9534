// Package resource implements the Controller for global limits shared by a
// cache and its storage.
//
// The Controller manages four resource types:
//
//   - Memory: track and limit block cache memory (semaphore)
//   - Concurrency: limit background workers (cache warming)
//   - IO: rate-limit node storage IO (token bucket)
//   - Backend: rate-limit and bound in-flight backend fetches
//
// # Memory Management
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20,
//	})
//
//	if rc.TryAcquireMemory(4096) {
//	    defer rc.ReleaseMemory(4096)
//	}
//
// # Backend Fetches
//
//	rc := resource.NewController(resource.Config{
//	    BackendRequestsPerSec: 20,
//	    MaxConcurrentFetches:  4,
//	})
//
//	if err := rc.AcquireFetch(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseFetch()
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource

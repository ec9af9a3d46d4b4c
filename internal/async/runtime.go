// Package async provides a concurrency-limited runtime for background
// maintenance work (package-inventory refreshes, cache rebuilds) that must
// not block a compliance evaluation in flight.
package async

import (
	"context"
	"sync"
	"time"
)

// Job is one unit of background work. Jobs sharing a Key are deduplicated:
// while one is running, submitting another with the same Key is a no-op.
type Job struct {
	// Key identifies the resource the job maintains (e.g. a cache file
	// path). Two jobs with the same Key never run concurrently.
	Key string

	// Run performs the work. The context carries the runtime's deadline,
	// if one was configured.
	Run func(ctx context.Context) error
}

// Runtime executes submitted jobs with concurrency limiting, per-key
// deduplication, and an optional wall-clock budget per job.
type Runtime struct {
	// Timeout is the wall-clock budget for a single job. Zero means no
	// deadline.
	Timeout time.Duration

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]bool
}

// NewRuntime builds a Runtime running at most concurrency jobs at once.
func NewRuntime(concurrency int) *Runtime {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runtime{
		sem:      make(chan struct{}, concurrency),
		inflight: make(map[string]bool),
	}
}

// Submit schedules job for background execution. It returns false when a
// job with the same Key is already running or queued, true when the job
// was accepted. Errors from job.Run are swallowed: background maintenance
// is best-effort, and the foreground path that depends on its result
// detects staleness on its own.
func (rt *Runtime) Submit(job Job) bool {
	rt.mu.Lock()
	if rt.inflight[job.Key] {
		rt.mu.Unlock()
		return false
	}
	rt.inflight[job.Key] = true
	rt.mu.Unlock()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer func() {
			rt.mu.Lock()
			delete(rt.inflight, job.Key)
			rt.mu.Unlock()
		}()

		rt.sem <- struct{}{}
		defer func() { <-rt.sem }()

		ctx := context.Background()
		if rt.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, rt.Timeout)
			defer cancel()
		}
		_ = job.Run(ctx)
	}()
	return true
}

// Wait blocks until every submitted job has finished. Tests and the CLI's
// shutdown path use it so a process exit does not tear down a half-written
// cache file.
func (rt *Runtime) Wait() {
	rt.wg.Wait()
}

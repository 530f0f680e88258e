// Package worker provides a bounded goroutine pool for executing
// best-effort background jobs (presence publishes, registry sweeps) with
// controlled concurrency.
package worker

import (
	"sync"
)

// Pool manages a fixed number of goroutines that drain a shared job queue.
//
// Design choices:
//   - workerCount goroutines are started once and reused, avoiding the cost
//     of spawning a goroutine per presence publish.
//   - jobQueue is a buffered channel (capacity workerCount*4): workers can
//     pick up the next job immediately after finishing the current one.
//   - Submit blocks when the buffer is full; TrySubmit never does.  Session
//     read loops use TrySubmit so a saturated pool can never stall a
//     socket — a dropped presence publish is recoverable, a stalled reader
//     is not.
//   - Stop closes the channel and waits (via wg) for every in-flight job to
//     finish before returning, preventing goroutine leaks.
type Pool struct {
	workerCount int
	jobQueue    chan func()
	wg          sync.WaitGroup
}

// NewPool creates a Pool with workerCount goroutines ready to receive jobs.
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		jobQueue:    make(chan func(), workerCount*4),
	}
}

// Start launches the worker goroutines.  It must be called exactly once
// before any jobs are submitted.
func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			// Each worker drains the channel until it is closed.
			for job := range p.jobQueue {
				job()
			}
		}()
	}
}

// Submit enqueues job for execution by one of the pool's goroutines.  It
// blocks if the internal buffer is full, applying back-pressure to the
// caller.  Submit must not be called after Stop.
func (p *Pool) Submit(job func()) {
	p.jobQueue <- job
}

// TrySubmit enqueues job if the buffer has room and reports whether the job
// was accepted.  It never blocks; callers on latency-sensitive paths use it
// for best-effort work.
func (p *Pool) TrySubmit(job func()) bool {
	select {
	case p.jobQueue <- job:
		return true
	default:
		return false
	}
}

// Stop signals the pool to finish all queued jobs and then waits for all
// worker goroutines to exit.  No new jobs may be submitted after Stop is
// called.
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
}

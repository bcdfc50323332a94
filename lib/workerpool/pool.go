// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arclight-systems/spak/lib/clock"
)

type queuedJob struct {
	job      Job
	waitable *Waitable
	autoFree bool
}

// Pool runs submitted jobs on a fixed-size set of goroutines pulling
// from one FIFO queue. The zero value is not usable; construct with
// NewPool.
type Pool struct {
	mu      sync.Mutex
	queue   []queuedJob
	workers []*Worker
	wg      sync.WaitGroup

	nWorkers int
	started  bool

	slow     atomic.Bool
	lockBits atomic.Uint64

	clk clock.Clock
}

// NewPool constructs a pool sized to workers (clamped to the detected
// logical-processor count; workers <= 0 means "use all processors").
// A nil clk uses the real clock.
func NewPool(workers int, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.Real()
	}
	return &Pool{nWorkers: resolveWorkerCount(workers), clk: clk}
}

func resolveWorkerCount(workers int) int {
	n := runtime.NumCPU()
	if workers > 0 && workers < n {
		n = workers
	}
	return n
}

// WorkerCount returns the number of goroutines this pool runs.
func (p *Pool) WorkerCount() int { return p.nWorkers }

// Start spawns the pool's worker goroutines. A no-op if already
// started.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.workers = make([]*Worker, p.nWorkers)
	for i := 0; i < p.nWorkers; i++ {
		w := &Worker{pool: p, id: i}
		p.workers[i] = w
		p.wg.Add(1)
		go w.loop()
	}
}

// Stop cooperatively signals every worker to quit after its current
// job (if any), then joins them. Queued, untaken jobs are left in the
// queue — call Clear first if they must be drained instead.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	for _, w := range p.workers {
		w.working.Store(false)
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.workers = nil
	p.mu.Unlock()
}

// IsWorking reports whether the pool has been Started and not yet
// Stopped.
func (p *Pool) IsWorking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Slow switches the idle polling cadence: fast (~1ms) when false, slow
// (~1s) when true. Use slow when the pool is expected to sit idle for
// a while, to avoid burning CPU on pointless wakeups.
func (p *Pool) Slow(state bool) {
	p.slow.Store(state)
}

func (p *Pool) pollInterval() time.Duration {
	if p.slow.Load() {
		return slowPollInterval
	}
	return fastPollInterval
}

// takeJob scans the queue for the first job whose Check passes,
// removes and returns it. Called by a worker's loop; Check is
// therefore always evaluated with p.mu held, serializing every Check
// call across the whole pool (see the Job doc comment).
func (p *Pool) takeJob(w *Worker) (queuedJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return queuedJob{}, false
	}
	for i := range p.queue {
		if p.queue[i].job.Check(w) {
			qj := p.queue[i]
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return qj, true
		}
	}
	return queuedJob{}, false
}

// Clear drops every queued, untaken job. Jobs already handed to a
// worker (in-flight) are unaffected.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
}

// Submit enqueues job and returns its waitable immediately.
// autoFreeWaitable is accepted for API parity with
// original_source/src/scljobs.hpp's submitJob(autodelwt) — Go's
// garbage collector reclaims an unreferenced Waitable on its own, so
// the flag has no operational effect here.
func (p *Pool) Submit(job Job, autoFreeWaitable bool) *Waitable {
	wt := job.MakeWaitable()
	p.mu.Lock()
	p.queue = append(p.queue, queuedJob{job: job, waitable: wt, autoFree: autoFreeWaitable})
	p.mu.Unlock()
	return wt
}

// SubmitFunc wraps fn as a Job with no exclusivity requirement
// (Check always true) and submits it.
func (p *Pool) SubmitFunc(fn func(*Worker), autoFreeWaitable bool) *Waitable {
	return p.Submit(&funcJob{fn: fn}, autoFreeWaitable)
}

// Sync runs fn while holding the pool's mutex, guaranteeing no worker
// is concurrently taking a job from the queue. A no-op if the pool is
// not currently started.
func (p *Pool) Sync(fn func()) {
	if !p.IsWorking() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// WaitIdle blocks until the queue is empty and no worker is busy, or
// until timeout elapses (timeout <= 0 waits indefinitely). Returns
// true immediately if the pool isn't started.
func (p *Pool) WaitIdle(timeout time.Duration) bool {
	if !p.IsWorking() {
		return true
	}
	return waitUntil(p.clk, p.isIdle, timeout, slowPollInterval)
}

func (p *Pool) isIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		return false
	}
	for _, w := range p.workers {
		if w.Busy() {
			return false
		}
	}
	return true
}

// SetLockBits atomically ORs mask into the pool's shared lock-bit set.
func (p *Pool) SetLockBits(mask uint64) {
	for {
		old := p.lockBits.Load()
		if p.lockBits.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// UnsetLockBits atomically clears mask from the pool's shared
// lock-bit set.
func (p *Pool) UnsetLockBits(mask uint64) {
	for {
		old := p.lockBits.Load()
		if p.lockBits.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// HasLockBits reports whether every bit in mask is currently set.
func (p *Pool) HasLockBits(mask uint64) bool {
	return p.lockBits.Load()&mask == mask
}

// Multithread spawns workers goroutines (clamped as in NewPool)
// outside the pool, each calling fn(id, n), and blocks until all
// return. A transient helper for one-off fan-out work, matching
// original_source's static jobserver::multithread.
func (p *Pool) Multithread(fn func(id, n int), workers int) {
	Multithread(fn, workers)
}

// Multithread is the package-level form of Pool.Multithread, usable
// without constructing a Pool.
func Multithread(fn func(id, n int), workers int) {
	n := resolveWorkerCount(workers)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			fn(id, n)
		}(i)
	}
	wg.Wait()
}

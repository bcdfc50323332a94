// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

import "sync/atomic"

// Worker is one of a pool's persistent goroutines. State mirrors
// original_source's jobworker: an id, a working flag (armed; set
// false cooperatively by Stop), and a busy flag (currently inside
// Run).
type Worker struct {
	pool *Pool
	id   int

	working atomic.Bool
	busy    atomic.Bool
}

// ID returns the worker's index within its pool, stable for the
// worker's lifetime.
func (w *Worker) ID() int { return w.id }

// Working reports whether the worker is still armed (has not been
// asked to stop).
func (w *Worker) Working() bool { return w.working.Load() }

// Busy reports whether the worker is currently inside a Run call.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Sync runs fn under the owning pool's mutex, guaranteeing no worker
// is concurrently taking a job. Delegates to Pool.Sync.
func (w *Worker) Sync(fn func()) {
	w.pool.Sync(fn)
}

func (w *Worker) loop() {
	defer w.pool.wg.Done()
	w.working.Store(true)
	for {
		qj, found := w.pool.takeJob(w)
		if !found {
			// The pool check also catches a Stop that ran before the
			// Store above and was overwritten by it.
			if !w.working.Load() || !w.pool.IsWorking() {
				return
			}
			w.pool.clk.Sleep(w.pool.pollInterval())
			continue
		}

		w.busy.Store(true)
		qj.job.Run(qj.waitable, w)
		qj.waitable.Complete()
		w.busy.Store(false)

		if !w.working.Load() {
			return
		}
	}
}

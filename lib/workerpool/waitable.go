// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"sync/atomic"
	"time"

	"github.com/arclight-systems/spak/lib/clock"
)

// pollInterval selection, matching SCL_JOBS_FAST_SLEEP / _SLOW_SLEEP
// from original_source/src/scljobs.hpp.
const (
	fastPollInterval = time.Millisecond
	slowPollInterval = time.Second
)

// Waitable is the completion handle returned synchronously when a job
// is submitted; the submitter calls Wait to block until the job's Run
// has finished.
type Waitable struct {
	done atomic.Bool
}

// NewWaitable returns a fresh, incomplete Waitable.
func NewWaitable() *Waitable {
	return &Waitable{}
}

// Complete marks the waitable done. Called by the pool after Run
// returns; safe to call more than once.
func (w *Waitable) Complete() {
	w.done.Store(true)
}

// IsDone reports whether Complete has been called.
func (w *Waitable) IsDone() bool {
	return w.done.Load()
}

// Wait blocks until Complete is called or timeout elapses, polling at
// the pool's fast cadence. timeout <= 0 waits indefinitely. Returns
// whether the waitable completed (false only on timeout). A nil clk
// uses the real clock.
func (w *Waitable) Wait(clk clock.Clock, timeout time.Duration) bool {
	if clk == nil {
		clk = clock.Real()
	}
	return waitUntil(clk, w.IsDone, timeout, fastPollInterval)
}

// waitUntil polls predicate at interval until it returns true or
// timeout elapses (timeout <= 0 means no deadline), matching
// original_source's waitUntil(predicate, timeout, sleep) helper.
func waitUntil(clk clock.Clock, predicate func() bool, timeout, interval time.Duration) bool {
	hasDeadline := timeout > 0
	deadline := clk.Now().Add(timeout)
	for {
		if predicate() {
			return true
		}
		if hasDeadline && !clk.Now().Before(deadline) {
			return predicate()
		}
		clk.Sleep(interval)
	}
}

// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

// Job is submitted work. MakeWaitable allocates the completion handle
// returned synchronously from Submit. Check is a cooperative gate: a
// worker only takes a job from the queue if Check returns true for
// it, otherwise the job is left in place and the worker tries the
// next queued job. Run performs the work; the pool marks the
// waitable complete immediately after Run returns.
//
// Check is always invoked while the pool's internal mutex is held (it
// is called from inside the same critical section that scans and
// removes jobs from the queue), so a Job's Check may safely perform a
// read-then-write against pool-level lock bits without a separate
// compare-and-swap: no other worker's Check can interleave.
type Job interface {
	MakeWaitable() *Waitable
	Check(worker *Worker) bool
	Run(w *Waitable, worker *Worker)
}

// funcJob adapts a plain closure into a Job with no exclusivity
// requirement, for Pool.SubmitFunc — the Go analogue of
// original_source's funcJob wrapping a std::function.
type funcJob struct {
	fn func(*Worker)
}

func (j *funcJob) MakeWaitable() *Waitable    { return NewWaitable() }
func (j *funcJob) Check(*Worker) bool         { return true }
func (j *funcJob) Run(_ *Waitable, w *Worker) { j.fn(w) }

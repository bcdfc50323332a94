// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

// Package workerpool runs submitted jobs on a fixed-size pool of
// goroutines pulling from a single FIFO queue, generalizing
// original_source/src/scljobs.hpp's jobserver/jobworker pair (which
// spawned one OS thread per worker, each loop-polling a mutex-guarded
// std::queue) into a Go pool of goroutines guarded by a sync.Mutex.
//
// Jobs that need exclusive access to a resource identified by a small
// integer (the pack package's fetch jobs take one bit per archive
// member id, see SPEC_FULL.md §4.6.2)
// use the pool's lock-bit bitmask from within Job.Check to arbitrate
// without blocking the whole pool.
package workerpool

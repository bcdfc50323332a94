// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type closureJob struct {
	fn       func(*Worker)
	waitable *Waitable
	checkFn  func(*Worker) bool
}

func (j *closureJob) MakeWaitable() *Waitable {
	j.waitable = NewWaitable()
	return j.waitable
}

func (j *closureJob) Check(w *Worker) bool {
	if j.checkFn == nil {
		return true
	}
	return j.checkFn(w)
}

func (j *closureJob) Run(_ *Waitable, w *Worker) {
	j.fn(w)
}

func TestSubmitRunsJob(t *testing.T) {
	p := NewPool(2, nil)
	p.Start()
	defer p.Stop()

	var ran atomic.Bool
	wt := p.Submit(&closureJob{fn: func(*Worker) { ran.Store(true) }}, false)

	if !wt.Wait(nil, 2*time.Second) {
		t.Fatalf("job did not complete in time")
	}
	if !ran.Load() {
		t.Fatalf("job body did not run")
	}
}

func TestSubmitFuncRunsClosure(t *testing.T) {
	p := NewPool(2, nil)
	p.Start()
	defer p.Stop()

	var ran atomic.Bool
	wt := p.SubmitFunc(func(*Worker) { ran.Store(true) }, false)
	if !wt.Wait(nil, 2*time.Second) {
		t.Fatalf("closure job did not complete in time")
	}
	if !ran.Load() {
		t.Fatalf("closure did not run")
	}
}

func TestFIFOOrderWhenAllChecksPass(t *testing.T) {
	p := NewPool(1, nil) // single worker forces strict ordering
	p.Start()
	defer p.Stop()

	var mu sync.Mutex
	var order []int
	var waitables []*Waitable
	for i := 0; i < 5; i++ {
		i := i
		wt := p.Submit(&closureJob{fn: func(*Worker) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}}, false)
		waitables = append(waitables, wt)
	}
	for _, wt := range waitables {
		if !wt.Wait(nil, 2*time.Second) {
			t.Fatalf("job did not complete")
		}
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want strictly increasing", order)
		}
	}
}

func TestCheckFailureSkipsToNextJob(t *testing.T) {
	p := NewPool(1, nil)
	p.Start()
	defer p.Stop()

	blocked := make(chan struct{})
	var secondRan atomic.Bool

	first := &closureJob{
		checkFn: func(*Worker) bool {
			select {
			case <-blocked:
				return true
			default:
				return false
			}
		},
		fn: func(*Worker) {},
	}
	second := &closureJob{fn: func(*Worker) { secondRan.Store(true) }}

	wt1 := p.Submit(first, false)
	wt2 := p.Submit(second, false)

	if !wt2.Wait(nil, 2*time.Second) {
		t.Fatalf("second job (whose check always passes) never ran despite first blocking")
	}
	if !secondRan.Load() {
		t.Fatalf("second job body did not run")
	}

	close(blocked)
	if !wt1.Wait(nil, 2*time.Second) {
		t.Fatalf("first job never completed once unblocked")
	}
}

func TestWaitIdle(t *testing.T) {
	p := NewPool(4, nil)
	p.Start()
	defer p.Stop()

	for i := 0; i < 20; i++ {
		p.SubmitFunc(func(*Worker) { time.Sleep(time.Millisecond) }, false)
	}

	if !p.WaitIdle(5 * time.Second) {
		t.Fatalf("pool did not go idle in time")
	}
}

func TestClearDropsUntakenJobs(t *testing.T) {
	p := NewPool(1, nil)
	// Deliberately not started: jobs queue but nothing drains them.
	var ran atomic.Bool
	p.Submit(&closureJob{fn: func(*Worker) { ran.Store(true) }}, false)

	p.Clear()
	p.Start()
	defer p.Stop()

	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("cleared job ran anyway")
	}
}

func TestStopLeavesUntakenJobsByDefault(t *testing.T) {
	p := NewPool(1, nil)
	p.Start()

	block := make(chan struct{})
	p.SubmitFunc(func(*Worker) { <-block }, false)
	time.Sleep(10 * time.Millisecond) // let the first job be taken

	var secondRan atomic.Bool
	p.SubmitFunc(func(*Worker) { secondRan.Store(true) }, false)

	p.mu.Lock()
	queueLen := len(p.queue)
	p.mu.Unlock()
	if queueLen == 0 {
		t.Fatalf("expected the second job to still be queued before Stop")
	}

	close(block)
	p.Stop()

	if secondRan.Load() {
		t.Fatalf("leaked job should not have run without an explicit Clear+restart")
	}
}

func TestLockBits(t *testing.T) {
	p := NewPool(1, nil)

	p.SetLockBits(0b101)
	if !p.HasLockBits(0b100) {
		t.Fatalf("expected bit 2 set")
	}
	if p.HasLockBits(0b010) {
		t.Fatalf("bit 1 should not be set")
	}
	p.UnsetLockBits(0b001)
	if p.HasLockBits(0b001) {
		t.Fatalf("bit 0 should have been cleared")
	}
	if !p.HasLockBits(0b100) {
		t.Fatalf("bit 2 should remain set after clearing bit 0")
	}
}

func TestMultithread(t *testing.T) {
	var count atomic.Int32
	Multithread(func(id, n int) {
		count.Add(1)
	}, 4)
	if count.Load() == 0 {
		t.Fatalf("no goroutines ran")
	}
}

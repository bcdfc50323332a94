// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"sync"

	"github.com/arclight-systems/spak/lib/bytestream"
	"github.com/arclight-systems/spak/lib/reducestream"
)

// scratchPool is the mutex-protected free queue of reusable reduce
// scratch streams the write pipeline compresses each submission into.
// One is sized per worker at the start of a Write call; a write job
// blocks in acquire until one is free, matching the narrower
// "m_remux" mutex in the concurrency model — this guards only the
// scratch pool, never the entry table or submission order.
type scratchPool struct {
	mu   sync.Mutex
	cond *sync.Cond
	free []*reducestream.Stream
}

func newScratchPool(n, blockSize int) *scratchPool {
	p := &scratchPool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		var bs bytestream.Stream
		_ = bs.Reserve(int64(blockSize), false)
		p.free = append(p.free, reducestream.New(&bs))
	}
	return p
}

// acquire blocks until a scratch stream is available and returns it,
// removing it from the free queue.
func (p *scratchPool) acquire() *reducestream.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) == 0 {
		p.cond.Wait()
	}
	s := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return s
}

// release returns s to the free queue and wakes one waiting acquirer.
func (p *scratchPool) release(s *reducestream.Stream) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
	p.cond.Signal()
}

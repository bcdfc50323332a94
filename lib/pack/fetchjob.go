// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"io"

	"github.com/arclight-systems/spak/lib/bytestream"
	"github.com/arclight-systems/spak/lib/workerpool"
)

// fetchJob decompresses one entry's content out of its member's
// reduce stream into a freshly allocated byte stream, attaching the
// result to the entry's waitable. Check arbitrates exclusive access to
// the member's reduce stream via the pool's lock bits, keyed by member
// id modulo 64 — the lock-bit set is a single atomic word, so at most
// 64 distinct members can be mid-fetch at once without two sharing a
// bit; a shared bit only forces spurious Check failures (never
// corruption, since whichever job actually holds the bit still owns
// the stream alone), so this is a throughput bound, not a correctness
// one.
type fetchJob struct {
	pkg      *Packager
	entry    *Entry
	waitable *EntryWaitable

	memberID       int
	off            uint32
	compressedSize uint32
	originalSize   uint32
}

func fetchLockBit(memberID int) uint64 {
	return uint64(1) << uint(memberID%64)
}

func (j *fetchJob) MakeWaitable() *workerpool.Waitable { return j.waitable.Waitable }

func (j *fetchJob) Check(*workerpool.Worker) bool {
	bit := fetchLockBit(j.memberID)
	if j.pkg.pool.HasLockBits(bit) {
		return false
	}
	j.pkg.pool.SetLockBits(bit)
	return true
}

func (j *fetchJob) Run(_ *workerpool.Waitable, worker *workerpool.Worker) {
	pkg := j.pkg
	defer func() {
		pkg.pool.UnsetLockBits(fetchLockBit(j.memberID))
		pkg.mu.Lock()
		pkg.pendingWaiters--
		pkg.mu.Unlock()
	}()

	out := j.decompress(pkg)
	j.waitable.setStream(out)
	j.waitable.setWorkerID(worker.ID())
}

func (j *fetchJob) decompress(pkg *Packager) *bytestream.Stream {
	reduce, err := pkg.memberReader(j.memberID)
	if err != nil {
		pkg.log.Warn("pack: fetch could not open member", "path", j.entry.path, "member", j.memberID, "err", err)
		return &bytestream.Stream{}
	}

	parent := reduce.Parent()
	if _, err := parent.Seek(io.SeekStart, int64(j.off)); err != nil {
		pkg.log.Warn("pack: fetch seek failed", "path", j.entry.path, "member", j.memberID, "err", err)
		return &bytestream.Stream{}
	}
	if err := reduce.BeginDecompress(); err != nil {
		pkg.log.Warn("pack: fetch begin-decompress failed", "path", j.entry.path, "err", err)
		return &bytestream.Stream{}
	}

	out := &bytestream.Stream{}
	if err := out.Reserve(int64(j.originalSize), false); err != nil {
		pkg.log.Warn("pack: fetch reserve failed", "path", j.entry.path, "err", err)
	}
	read, err := out.WriteFrom(reduce, int64(j.originalSize))
	if err != nil {
		pkg.log.Warn("pack: fetch read failed", "path", j.entry.path, "err", err)
	} else if uint32(read) != j.originalSize {
		pkg.log.Warn("pack: fetch under-read", "path", j.entry.path, "want", j.originalSize, "got", read)
	}
	if err := reduce.End(); err != nil {
		pkg.log.Warn("pack: fetch end-decompress failed", "path", j.entry.path, "err", err)
	}

	return out
}

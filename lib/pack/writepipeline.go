// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arclight-systems/spak/lib/bytestream"
	"github.com/arclight-systems/spak/lib/workerpool"
)

// ProgressFunc is called once per successfully compressed entry, in
// submission order, before that entry's bytes are appended to disk.
type ProgressFunc func(index int, entry *Entry)

// Write drives the write pipeline over every currently submitted
// entry (spec: the multi-worker compress-ahead-of-a-single-
// coordinator model is canonical here — workers compress submissions
// concurrently into per-worker scratch streams while one coordinator
// goroutine lands their results strictly in submission order, sealing
// a member and opening the next whenever the per-member cap would be
// exceeded). ctx cancellation stops scheduling new write jobs and
// returns context.Canceled wrapped with how many submissions had
// already landed; entries already written remain valid. The
// submission order is cleared on return, success or failure.
func (p *Packager) Write(ctx context.Context, progress ProgressFunc) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrNotOpen
	}
	submissions := p.submissions
	p.submissions = nil
	memberID := p.nextMemberID
	p.mu.Unlock()

	if len(submissions) == 0 {
		return nil
	}

	workers := p.pool.WorkerCount()
	if workers > len(submissions) {
		workers = len(submissions)
	}

	p.mu.Lock()
	p.scratch = newScratchPool(workers, p.blockSize)
	p.mu.Unlock()
	p.pool.Slow(false)

	c := &writeCoordinator{pkg: p, submissions: submissions, progress: progress, memberID: memberID}
	return c.run(ctx)
}

// writeJob compresses one submitted entry into a scratch stream
// acquired from the packager's free queue. Any worker may take one
// (Check is unconditionally true); exclusivity for the scratch stream
// itself comes from the free-queue's own blocking acquire, not from
// the pool's lock bits.
type writeJob struct {
	pkg        *Packager
	entry      *Entry
	sourceHint *EntryWaitable // the entry's waitable before this write cycle, if any
}

func (j *writeJob) MakeWaitable() *workerpool.Waitable { return j.entry.Waitable().Waitable }
func (j *writeJob) Check(*workerpool.Worker) bool      { return true }

func (j *writeJob) Run(_ *workerpool.Waitable, worker *workerpool.Worker) {
	pkg := j.pkg
	e := j.entry

	scratch := pkg.scratch.acquire()

	src, ownsSrc := j.resolveSource()
	if src == nil {
		var s bytestream.Stream
		if err := s.Open(e.path, bytestream.ModeRead, true); err != nil {
			pkg.log.Error("pack: write job could not open source", "path", e.path, "err", err)
			pkg.scratch.release(scratch)
			return
		}
		src, ownsSrc = &s, true
	}

	size, _ := src.Seek(io.SeekEnd, 0)
	_, _ = src.Seek(io.SeekStart, 0)

	parent := scratch.Parent()
	_, _ = parent.Seek(io.SeekStart, 0)
	_ = parent.Reserve(size, false)

	if err := scratch.BeginCompress(pkg.compression, pkg.blockSize); err != nil {
		pkg.log.Error("pack: write job begin-compress failed", "path", e.path, "err", err)
		pkg.scratch.release(scratch)
		if ownsSrc {
			_ = src.Close()
		}
		return
	}
	if _, err := scratch.WriteFrom(src, size); err != nil {
		pkg.log.Error("pack: write job compress failed", "path", e.path, "err", err)
	}
	if err := scratch.End(); err != nil {
		pkg.log.Error("pack: write job end-compress failed", "path", e.path, "err", err)
	}

	compressedSize := uint32(parent.Tell())

	pkg.mu.Lock()
	e.compressedSize = compressedSize
	e.originalSize = uint32(size)
	pkg.mu.Unlock()

	_ = src.Close()

	wt := e.Waitable()
	wt.setStream(nil)
	wt.setWorkerID(worker.ID())
	wt.setScratch(scratch)
}

// resolveSource returns the stream the entry already carries, if it
// is a meaningful (non-placeholder) one, and whether the job owns it
// (always false for a pre-attached stream, so a BeginCompress failure
// leaves it open; once compression has run, Run closes the source
// either way).
func (j *writeJob) resolveSource() (*bytestream.Stream, bool) {
	if j.sourceHint == nil {
		return nil, false
	}
	s := j.sourceHint.Stream()
	if isPlaceholder(s) {
		return nil, false
	}
	_, _ = s.Seek(io.SeekStart, 0)
	return s, false
}

// writeCoordinator lands completed write jobs strictly in submission
// order into the current archive member, sealing and rotating members
// as the per-member cap demands.
type writeCoordinator struct {
	pkg         *Packager
	submissions []*Entry
	progress    ProgressFunc

	memberID    int
	archive     *bytestream.Stream
	currentOff  int64
	itabRecords []itabRecord
	nextIndex   int
}

func (c *writeCoordinator) run(ctx context.Context) error {
	pkg := c.pkg

	if err := c.openMember(); err != nil {
		return fmt.Errorf("pack: open member for write: %w", err)
	}

	workers := pkg.pool.WorkerCount()
	if workers > len(c.submissions) {
		workers = len(c.submissions)
	}
	for i := 0; i < workers; i++ {
		c.scheduleWrite(c.submissions[i])
	}
	c.nextIndex = workers

	for idx, e := range c.submissions {
		select {
		case <-ctx.Done():
			_ = c.archive.Close()
			return fmt.Errorf("pack: write canceled after %d of %d submissions: %w", idx, len(c.submissions), ctx.Err())
		default:
		}

		wt := e.Waitable()
		if !wt.Wait(pkg.clk, pkg.writeTimeout) {
			pkg.log.Warn("pack: write wait exceeded timeout", "path", e.path, "timeout", pkg.writeTimeout)
			wt.Wait(pkg.clk, 0)
		}

		if err := c.land(idx, e); err != nil {
			_ = c.archive.Close()
			return err
		}

		if c.nextIndex < len(c.submissions) {
			c.scheduleWrite(c.submissions[c.nextIndex])
			c.nextIndex++
		}
	}

	return c.finish()
}

func (c *writeCoordinator) scheduleWrite(e *Entry) {
	pkg := c.pkg
	pkg.mu.Lock()
	prev := e.waitable
	e.waitable = newEntryWaitable()
	pkg.mu.Unlock()

	pkg.pool.Submit(&writeJob{pkg: pkg, entry: e, sourceHint: prev}, true)
}

func (c *writeCoordinator) itabBytes() int64 {
	var total int64
	for _, r := range c.itabRecords {
		total += itabRecordFixedSize + int64(len(r.path))
	}
	return total
}

// land appends e's compressed bytes to the current member, sealing and
// rotating to a fresh member first if the per-member cap would
// otherwise be exceeded. Returns ErrEntryTooLarge if e alone overflows
// an empty member. The progress callback, if any, is called with idx
// once e's compressed data is in hand, before anything is appended.
func (c *writeCoordinator) land(idx int, e *Entry) error {
	pkg := c.pkg
	wt := e.Waitable()
	scratch := wt.takeScratch()
	if scratch == nil {
		return fmt.Errorf("pack: %q: write job produced no compressed data", e.path)
	}
	if c.progress != nil {
		c.progress(idx, e)
	}

	pkg.mu.Lock()
	compressedSize := int64(e.compressedSize)
	originalSize := e.originalSize
	pkg.mu.Unlock()

	recordBytes := int64(itabRecordFixedSize + len(e.path))

	if c.currentOff+compressedSize+c.itabBytes()+recordBytes > pkg.cap {
		if len(c.itabRecords) == 0 {
			pkg.scratch.release(scratch)
			return fmt.Errorf("pack: %q: %w", e.path, ErrEntryTooLarge)
		}
		if err := c.sealMember(); err != nil {
			pkg.scratch.release(scratch)
			return err
		}
		if err := c.openMember(); err != nil {
			pkg.scratch.release(scratch)
			return err
		}
		if c.currentOff+compressedSize+c.itabBytes()+recordBytes > pkg.cap {
			pkg.scratch.release(scratch)
			return fmt.Errorf("pack: %q: %w", e.path, ErrEntryTooLarge)
		}
	}

	off := c.currentOff
	parent := scratch.Parent()
	if _, err := parent.Seek(io.SeekStart, 0); err != nil {
		pkg.scratch.release(scratch)
		return fmt.Errorf("pack: seek scratch for %q: %w", e.path, err)
	}
	if _, err := c.archive.WriteFrom(parent, compressedSize); err != nil {
		pkg.scratch.release(scratch)
		return fmt.Errorf("pack: append %q: %w", e.path, err)
	}

	pkg.mu.Lock()
	e.off = uint32(off)
	e.memberID = c.memberID
	e.indexed = true
	pkg.mu.Unlock()

	c.itabRecords = append(c.itabRecords, itabRecord{
		path:           e.path,
		off:            uint32(off),
		compressedSize: uint32(compressedSize),
		originalSize:   originalSize,
	})
	c.currentOff += compressedSize

	pkg.scratch.release(scratch)
	return nil
}

func (c *writeCoordinator) openMember() error {
	pkg := c.pkg
	path := memberPath(pkg.dir, pkg.base, pkg.ext, c.memberID)
	var s bytestream.Stream
	if err := s.Open(path, bytestream.ModeReadWriteTruncate, true); err != nil {
		return fmt.Errorf("open member %s: %w", path, err)
	}
	hdr := encodeHeader(byte(c.memberID), 0)
	if err := s.Write(hdr[:], HeaderSize, 1, false); err != nil {
		_ = s.Close()
		return fmt.Errorf("write header %s: %w", path, err)
	}
	c.archive = &s
	c.currentOff = HeaderSize
	c.itabRecords = nil
	return nil
}

func (c *writeCoordinator) sealMember() error {
	itabBuf := encodeItab(c.itabRecords)
	if err := c.archive.Write(itabBuf, int64(len(itabBuf)), 1, false); err != nil {
		_ = c.archive.Close()
		return fmt.Errorf("write itab: %w", err)
	}
	if _, err := c.archive.Seek(io.SeekStart, 8); err != nil {
		_ = c.archive.Close()
		return fmt.Errorf("seek header for itab offset: %w", err)
	}
	var off [4]byte
	binary.LittleEndian.PutUint32(off[:], uint32(c.currentOff))
	if err := c.archive.Write(off[:], 4, 1, false); err != nil {
		_ = c.archive.Close()
		return fmt.Errorf("patch itab offset: %w", err)
	}
	if err := c.archive.Close(); err != nil {
		return fmt.Errorf("close member: %w", err)
	}
	c.memberID++
	return nil
}

func (c *writeCoordinator) finish() error {
	if err := c.sealMember(); err != nil {
		return err
	}
	c.pkg.mu.Lock()
	c.pkg.nextMemberID = c.memberID
	c.pkg.mu.Unlock()
	return nil
}

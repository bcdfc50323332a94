// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"sync"

	"github.com/arclight-systems/spak/lib/bytestream"
	"github.com/arclight-systems/spak/lib/reducestream"
	"github.com/arclight-systems/spak/lib/workerpool"
)

// EntryWaitable is the completion handle attached to an Entry for the
// duration of one fetch or one write cycle. Blocking on it through
// Wait (inherited from *workerpool.Waitable) waits for whichever
// operation is currently in flight.
type EntryWaitable struct {
	*workerpool.Waitable

	mu       sync.Mutex
	stream   *bytestream.Stream
	workerID int
	scratch  *reducestream.Stream // write-pipeline internal; never exposed publicly
}

func newEntryWaitable() *EntryWaitable {
	return &EntryWaitable{Waitable: workerpool.NewWaitable(), workerID: -1}
}

// Stream returns the byte stream attached to this waitable: for a
// fetch, the decompressed content; for a not-yet-written entry opened
// with OpenFile, the memory stream attached then. The waitable a write
// cycle installs carries no stream (nil). Callers that need the result
// should Wait first.
func (w *EntryWaitable) Stream() *bytestream.Stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stream
}

func (w *EntryWaitable) setStream(s *bytestream.Stream) {
	w.mu.Lock()
	w.stream = s
	w.mu.Unlock()
}

// WorkerID returns the id of the worker that processed this waitable,
// or -1 if none has yet. Used by the write pipeline to return scratch
// buffers to the free queue without extra bookkeeping.
func (w *EntryWaitable) WorkerID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workerID
}

func (w *EntryWaitable) setWorkerID(id int) {
	w.mu.Lock()
	w.workerID = id
	w.mu.Unlock()
}

func (w *EntryWaitable) setScratch(s *reducestream.Stream) {
	w.mu.Lock()
	w.scratch = s
	w.mu.Unlock()
}

// takeScratch returns and clears the scratch stream left by a write
// job, for the coordinator to land and return to the free queue.
func (w *EntryWaitable) takeScratch() *reducestream.Stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.scratch
	w.scratch = nil
	return s
}

// Entry is one named member of a pack family: a path, its location (if
// any) within a member, and the waitable tracking whatever operation
// is currently touching it. The owning Packager holds every Entry in
// a table keyed by path and guards the mutable fields below with its
// own mutex; Entry methods reach back through pkg rather than holding
// independent state, so Submit can be "ask the packager" instead of a
// cyclic ownership graph.
type Entry struct {
	pkg  *Packager
	path string

	// Guarded by pkg.mu.
	memberID       int // -1 if never written to a member
	off            uint32
	compressedSize uint32
	originalSize   uint32
	active         bool
	submitted      bool
	indexed        bool // true once a record for this entry exists on disk

	waitable *EntryWaitable
}

// Path returns the entry's path within its family.
func (e *Entry) Path() string { return e.path }

// CompressedSize returns the entry's on-disk compressed size. Zero
// until a write job has compressed this entry (the value is set before
// the coordinator lands it) or the entry was loaded from a member's
// itab.
func (e *Entry) CompressedSize() uint32 {
	e.pkg.mu.Lock()
	defer e.pkg.mu.Unlock()
	return e.compressedSize
}

// OriginalSize returns the entry's decompressed size.
func (e *Entry) OriginalSize() uint32 {
	e.pkg.mu.Lock()
	defer e.pkg.mu.Unlock()
	return e.originalSize
}

// Waitable returns the completion handle for whichever operation
// (fetch or write) is most recently in flight for this entry.
func (e *Entry) Waitable() *EntryWaitable {
	e.pkg.mu.Lock()
	defer e.pkg.mu.Unlock()
	return e.waitable
}

// Submit appends the entry to its packager's submission order, to be
// processed by the next Write. A no-op if already submitted.
func (e *Entry) Submit() {
	e.pkg.submit(e)
}

// Open re-opens the waitable's underlying byte stream against the
// entry's path with the given mode, replacing whatever stream (if any)
// was attached before. This is the explicit counterpart to the
// fallback the write pipeline applies automatically when an entry's
// waitable carries no meaningful stream yet.
func (e *Entry) Open(mode bytestream.Mode, binary bool) (*bytestream.Stream, error) {
	var s bytestream.Stream
	if err := s.Open(e.path, mode, binary); err != nil {
		return nil, err
	}
	e.Waitable().setStream(&s)
	return &s, nil
}

// Release frees the entry's attached byte stream and clears active,
// but only if the entry is active and its stream has not been
// modified since it was attached. An active entry whose stream was
// written to is left untouched — the caller presumably still needs it.
func (e *Entry) Release() error {
	return e.pkg.release(e)
}

// IsActive reports whether the entry currently holds an attached
// stream (via OpenFile or a pending write).
func (e *Entry) IsActive() bool {
	e.pkg.mu.Lock()
	defer e.pkg.mu.Unlock()
	return e.active
}

// isPlaceholder reports whether s is the untouched, zero-length
// memory buffer OpenFile attaches to a freshly registered, not-yet-
// indexed entry. The write pipeline treats a placeholder the same as
// "no stream yet" and reads the entry's real file from disk instead.
func isPlaceholder(s *bytestream.Stream) bool {
	if s == nil {
		return true
	}
	if s.IsOpen() {
		return false
	}
	return !s.IsModified() && len(s.Data()) == 0
}

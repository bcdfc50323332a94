// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/arclight-systems/spak/lib/bytestream"
	"github.com/arclight-systems/spak/lib/clock"
	"github.com/arclight-systems/spak/lib/reducestream"
	"github.com/arclight-systems/spak/lib/workerpool"
)

// defaultWriteTimeout is the generous per-entry wait the write
// coordinator allows before logging a warning and continuing to wait.
const defaultWriteTimeout = 15 * time.Second

// defaultBlockSize is the reduce-stream block size used by scratch
// streams when Options.BlockSize is unset.
const defaultBlockSize = reducestream.DefaultBlockSize

// Options configures a Packager. The zero value is usable; every
// field defaults to the values documented below.
type Options struct {
	// Workers sets the write/fetch pool size. 0 uses the runtime's
	// logical processor count.
	Workers int

	// Cap is the per-member byte budget. 0 uses DefaultCap.
	Cap int64

	// Compression selects the codec new writes use. Zero value is
	// CompressionNone; callers generally want CompressionLZ4.
	Compression reducestream.CompressionTag

	// BlockSize is the reduce-stream frame block size. 0 uses
	// reducestream.DefaultBlockSize.
	BlockSize int

	// WriteTimeout is the per-entry wait the coordinator allows before
	// warning and continuing to wait. 0 uses defaultWriteTimeout.
	WriteTimeout time.Duration

	// Clock abstracts time for the write coordinator's waits and the
	// pool's polling cadence. Nil uses clock.Real().
	Clock clock.Clock

	// Logger receives structured warnings for skipped members, short
	// reads, and wait timeouts. Nil uses slog.Default().
	Logger *slog.Logger
}

// Packager owns a pack family: its entry table, submission order, and
// the worker pool that drives both the write and fetch pipelines. The
// zero value is not usable; construct with New.
type Packager struct {
	mu sync.Mutex // "the class itself is the lock": guards everything below to submissions

	dir  string
	base string
	ext  string

	entries        map[string]*Entry
	submissions    []*Entry
	pendingWaiters int
	nextMemberID   int
	open           bool

	pool    *workerpool.Pool
	scratch *scratchPool

	memberMu      sync.Mutex
	memberReaders map[int]*reducestream.Stream

	cap          int64
	blockSize    int
	compression  reducestream.CompressionTag
	writeTimeout time.Duration

	clk clock.Clock
	log *slog.Logger
}

// New constructs a Packager from opts, not yet open against any
// family.
func New(opts Options) *Packager {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cap := opts.Cap
	if cap <= 0 {
		cap = DefaultCap
	}
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Packager{
		pool:         workerpool.NewPool(opts.Workers, clk),
		cap:          cap,
		blockSize:    blockSize,
		compression:  opts.Compression,
		writeTimeout: writeTimeout,
		clk:          clk,
		log:          logger,
	}
}

// Open derives the family's base name and extension from path, starts
// the worker pool in slow mode, and loads the index of every existing
// member, probing <base><ext>, <base>_1<ext>, … until a missing file
// is encountered. A member with a bad magic, unsupported version, or
// malformed itab is logged and skipped; probing continues past it, and
// entries already installed from earlier members remain valid.
func (p *Packager) Open(path string) error {
	p.mu.Lock()
	if p.open {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}
	p.dir, p.base, p.ext = splitFamily(path)
	p.entries = make(map[string]*Entry)
	p.submissions = nil
	p.pendingWaiters = 0
	p.open = true
	p.mu.Unlock()

	p.pool.Slow(true)
	p.pool.Start()

	memberCount := 0
	for id := 0; id <= MaxMemberID; id++ {
		mp := memberPath(p.dir, p.base, p.ext, id)
		if _, err := os.Stat(mp); err != nil {
			break
		}
		if err := p.loadMember(mp, id); err != nil {
			p.log.Warn("pack: skipping unreadable member", "path", mp, "err", err)
		}
		memberCount++
	}

	p.mu.Lock()
	p.nextMemberID = memberCount
	p.mu.Unlock()
	return nil
}

// loadMember reads one member's header and itab and installs its
// entries (inactive) into the entry table.
func (p *Packager) loadMember(path string, id int) error {
	var s bytestream.Stream
	if err := s.Open(path, bytestream.ModeRead, true); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer s.Close()

	var hdrBuf [HeaderSize]byte
	n, err := s.Read(hdrBuf[:], HeaderSize)
	if err != nil || n != HeaderSize {
		return fmt.Errorf("%w: could not read header", errBadMagic)
	}
	hdr, err := decodeHeader(hdrBuf[:])
	if err != nil {
		return err
	}
	if hdr.itabOffset == 0 {
		// Unsealed (or genuinely empty) member: no entries to index.
		return nil
	}

	end, err := s.Seek(io.SeekEnd, 0)
	if err != nil {
		return fmt.Errorf("seek end: %w", err)
	}
	itabLen := end - int64(hdr.itabOffset)
	if itabLen < 0 {
		return fmt.Errorf("%w: itab offset %d beyond EOF %d", errMalformedItab, hdr.itabOffset, end)
	}
	if _, err := s.Seek(io.SeekStart, int64(hdr.itabOffset)); err != nil {
		return fmt.Errorf("seek itab: %w", err)
	}
	itabBuf := make([]byte, itabLen)
	read, err := s.Read(itabBuf, itabLen)
	if err != nil || int64(read) != itabLen {
		return fmt.Errorf("%w: short itab read (%d of %d)", errMalformedItab, read, itabLen)
	}
	records, err := decodeItab(itabBuf)
	if err != nil {
		return err
	}

	p.mu.Lock()
	for _, r := range records {
		p.entries[r.path] = &Entry{
			pkg:            p,
			path:           r.path,
			memberID:       id,
			off:            r.off,
			compressedSize: r.compressedSize,
			originalSize:   r.originalSize,
			indexed:        true,
		}
	}
	p.mu.Unlock()
	return nil
}

// OpenFile returns the entry for path, creating one if it does not
// already exist. If the entry is already active, it is returned as-is.
// Otherwise it is (re)activated: if indexed in a member, a fetch job
// is scheduled to decompress its content in the background; if not, an
// empty placeholder stream is attached and the waitable completes
// immediately.
func (p *Packager) OpenFile(path string) (*Entry, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil, ErrNotOpen
	}
	e, exists := p.entries[path]
	if exists && e.active {
		p.mu.Unlock()
		return e, nil
	}
	if !exists {
		e = &Entry{pkg: p, path: path, memberID: -1}
		p.entries[path] = e
	}
	e.active = true
	e.submitted = false
	wt := newEntryWaitable()
	e.waitable = wt
	indexed := e.indexed
	memberID, off, compressedSize, originalSize := e.memberID, e.off, e.compressedSize, e.originalSize
	if indexed {
		p.pendingWaiters++
	}
	p.mu.Unlock()

	if indexed {
		p.pool.Submit(&fetchJob{
			pkg:            p,
			entry:          e,
			waitable:       wt,
			memberID:       memberID,
			off:            off,
			compressedSize: compressedSize,
			originalSize:   originalSize,
		}, true)
		return e, nil
	}

	var s bytestream.Stream
	wt.setStream(&s)
	wt.Complete()
	return e, nil
}

// OpenFiles calls OpenFile for every path in order, stopping at the
// first error.
func (p *Packager) OpenFiles(paths []string) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		e, err := p.OpenFile(path)
		if err != nil {
			return entries, fmt.Errorf("openFiles: %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// submit appends e to the submission order if not already submitted.
func (p *Packager) submit(e *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.submitted {
		return
	}
	e.submitted = true
	p.submissions = append(p.submissions, e)
}

// release implements Entry.Release.
func (p *Packager) release(e *Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !e.active {
		return ErrNotActive
	}
	if e.waitable != nil {
		if s := e.waitable.Stream(); s != nil {
			if s.IsModified() {
				return nil
			}
			_ = s.Close()
		}
	}
	e.active = false
	return nil
}

// Index returns a snapshot of the entry table, keyed by path.
func (p *Packager) Index() map[string]*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*Entry, len(p.entries))
	for k, v := range p.entries {
		out[k] = v
	}
	return out
}

// Close stops the worker pool, closes every active entry's attached
// stream and any cached member readers, and clears the packager's
// state. Safe to call on an already-closed packager.
func (p *Packager) Close() error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	p.open = false
	entries := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = nil
	p.submissions = nil
	p.mu.Unlock()

	p.pool.Stop()

	p.memberMu.Lock()
	for _, r := range p.memberReaders {
		_ = r.Close()
	}
	p.memberReaders = nil
	p.memberMu.Unlock()

	for _, e := range entries {
		if e.waitable == nil {
			continue
		}
		if s := e.waitable.Stream(); s != nil {
			_ = s.Close()
		}
	}
	return nil
}

// memberReader returns the cached reduce stream reading member id,
// opening and caching it on first use. The stream itself is guarded
// against concurrent fetches by the worker pool's lock bits (see
// fetchJob.Check), not by memberMu — memberMu protects only the cache
// map, mirroring the narrower scope of the scratch pool's mutex.
func (p *Packager) memberReader(id int) (*reducestream.Stream, error) {
	p.memberMu.Lock()
	defer p.memberMu.Unlock()
	if r, ok := p.memberReaders[id]; ok {
		return r, nil
	}

	var s bytestream.Stream
	path := memberPath(p.dir, p.base, p.ext, id)
	if err := s.Open(path, bytestream.ModeRead, true); err != nil {
		return nil, fmt.Errorf("open member %s: %w", path, err)
	}
	r := reducestream.New(&s)
	if p.memberReaders == nil {
		p.memberReaders = make(map[int]*reducestream.Stream)
	}
	p.memberReaders[id] = r
	return r, nil
}

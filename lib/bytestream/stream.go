// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package bytestream

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Mode is the abstract open mode a Stream is opened with. It maps
// onto the familiar C fopen mode strings without forcing callers to
// remember which letter means what.
type Mode int

const (
	// ModeRead opens an existing file for reading only. Fails if the
	// file does not exist.
	ModeRead Mode = iota
	// ModeWrite creates (or truncates) a file for writing only.
	ModeWrite
	// ModeReadWrite opens an existing file for reading and writing.
	// Fails if the file does not exist.
	ModeReadWrite
	// ModeReadWriteTruncate creates (or truncates) a file for reading
	// and writing.
	ModeReadWriteTruncate
	// ModeAppend creates (if needed) a file opened for write-only,
	// append-only access.
	ModeAppend
	// ModeReadAppend creates (if needed) a file opened for read and
	// append-only write access.
	ModeReadAppend
)

// pumpBufferSize is the size of the stack buffer WriteFrom pumps
// between two streams.
const pumpBufferSize = 8 * 1024

// defaultGrowth is the minimum capacity step used when a reserve or
// write forces a buffer reallocation with no explicit alignment.
const defaultGrowth = 4 * 1024

// ErrNotMemoryMode is returned by operations that only make sense on
// a memory-backed stream (Reserve, ReleaseBuffer, Data) when the
// stream is currently backed by a file.
var ErrNotMemoryMode = errors.New("bytestream: stream is not in memory mode")

// ErrAlreadyBacked is returned by Open/OpenFlag when the stream
// already has an open file. An existing memory buffer does not cause
// it: Open drops the buffer instead.
var ErrAlreadyBacked = errors.New("bytestream: stream already has a backing store")

// Stream is a uniform read/write/seek byte stream backed by either an
// open file or an in-memory buffer. The zero value is a ready-to-use
// empty memory-mode stream.
//
// Stream is not safe for concurrent use; callers that share a Stream
// across goroutines must serialize access themselves (see the
// concurrency model in SPEC_FULL.md §5 — the packager holds each
// stream for the narrow window of one append or one fetch).
type Stream struct {
	file *os.File

	buf  []byte // len(buf) is the logical size; cap(buf) is the reserved capacity
	pos  int64
	size int64 // file-mode size cache; authoritative for memory mode is len(buf)

	modified bool
	binary   bool

	appendMode bool // opened with O_APPEND: the OS places every write at end of file
}

// modeFlags translates a Mode into os.OpenFile flags and whether the
// file is required to already exist.
func modeFlags(mode Mode) (flags int, mustExist bool, err error) {
	switch mode {
	case ModeRead:
		return os.O_RDONLY, true, nil
	case ModeWrite:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, false, nil
	case ModeReadWrite:
		return os.O_RDWR, true, nil
	case ModeReadWriteTruncate:
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, false, nil
	case ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, false, nil
	case ModeReadAppend:
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, false, nil
	default:
		return 0, false, fmt.Errorf("bytestream: unknown mode %d", mode)
	}
}

// Open opens path with the given abstract mode. binary disables
// newline translation; Go performs no such translation on any
// platform, so this flag is accepted only for contract parity with
// the original stream and otherwise has no effect.
//
// If the stream currently holds a memory buffer, that buffer is
// flushed (a no-op — Flush only matters for semantic parity) and
// released before the file is opened, matching the "at most one
// backing store" contract.
func (s *Stream) Open(path string, mode Mode, binary bool) error {
	flags, mustExist, err := modeFlags(mode)
	if err != nil {
		return err
	}
	return s.openFlags(path, flags, mustExist, binary)
}

// OpenFlag opens path with raw os.O_* flags, for callers that need
// finer control than the abstract Mode enum provides. This is the Go
// analogue of the original stream's openMode(path, rawModeString).
func (s *Stream) OpenFlag(path string, flags int, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	mustExist := flags&os.O_CREATE == 0
	if err := s.openFlags(path, flags, mustExist, true); err != nil {
		return err
	}
	if perm != 0o644 {
		_ = s.file.Chmod(perm)
	}
	return nil
}

func (s *Stream) openFlags(path string, flags int, mustExist bool, binary bool) error {
	if s.file != nil {
		return ErrAlreadyBacked
	}
	if len(s.buf) > 0 || cap(s.buf) > 0 {
		// A stream holds at most one backing store: flush and free
		// any existing memory buffer before taking on a file.
		s.buf = nil
		s.size = 0
	}
	if mustExist {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("bytestream: open %s: %w", path, err)
		}
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("bytestream: open %s: %w", path, err)
	}

	s.file = file
	s.binary = binary
	s.pos = 0
	s.modified = false
	s.appendMode = flags&os.O_APPEND != 0

	if flags&os.O_APPEND != 0 {
		info, statErr := file.Stat()
		if statErr == nil {
			s.pos = info.Size()
			s.size = info.Size()
		}
	} else if info, statErr := file.Stat(); statErr == nil {
		s.size = info.Size()
	}

	return nil
}

// IsOpen reports whether the stream is backed by an open file. A
// memory-mode stream always reports false, matching the original
// contract: "is_open" answers "is this a live file handle", not
// "does this stream have any backing store at all".
func (s *Stream) IsOpen() bool {
	return s.file != nil
}

// IsModified reports whether the stream has been written to since
// construction or the last ResetModified.
func (s *Stream) IsModified() bool {
	return s.modified
}

// ResetModified clears the modified flag.
func (s *Stream) ResetModified() {
	s.modified = false
}

// Tell returns the current read/write position.
func (s *Stream) Tell() int64 {
	return s.pos
}

// Whence selects the origin for Seek, mirroring io.Seeker's constants
// (io.SeekStart, io.SeekCurrent, io.SeekEnd may be used directly).
type Whence = int

// Seek moves the read/write position and returns the new position.
// In memory mode, Seek(io.SeekEnd, 0) returns the current buffer size
// without growing it; seeking before the start clamps to 0.
func (s *Stream) Seek(whence Whence, offset int64) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = s.currentSize()
	default:
		return s.pos, fmt.Errorf("bytestream: invalid whence %d", whence)
	}

	newPos := base + offset
	if newPos < 0 {
		newPos = 0
	}
	s.pos = newPos
	return s.pos, nil
}

func (s *Stream) currentSize() int64 {
	if s.file != nil {
		return s.size
	}
	return int64(len(s.buf))
}

// Flush flushes internal buffers. Neither Go's os.File nor this
// package's memory buffer maintain a userspace write buffer beyond
// what the kernel already does, so Flush is a no-op kept for
// interface parity with streams that do buffer internally.
func (s *Stream) Flush() error {
	return nil
}

// Close closes the file handle (file mode) or releases the buffer
// (memory mode), then resets the stream to its zero value.
func (s *Stream) Close() error {
	var err error
	if s.file != nil {
		err = s.file.Close()
	}
	*s = Stream{}
	return err
}

// Data returns the stream's backing buffer in memory mode. The
// returned slice is a borrow: it is invalidated by the next call to
// Write, Reserve, or ReleaseBuffer. Returns nil in file mode.
func (s *Stream) Data() []byte {
	if s.file != nil {
		return nil
	}
	return s.buf
}

// ReleaseBuffer frees the memory buffer and resets the stream to its
// zero value. Valid only in memory mode.
func (s *Stream) ReleaseBuffer() error {
	if s.file != nil {
		return ErrNotMemoryMode
	}
	*s = Stream{}
	return nil
}

// Reserve ensures at least n bytes of capacity are available starting
// at the current position, growing the memory buffer if needed. By
// default it is a no-op when enough capacity already remains; force
// skips that check, but the buffer is still reallocated only when its
// total capacity is below the current position plus n, and it never
// shrinks. Reserve is only meaningful in memory mode
// and is a no-op in file mode (the file itself is the backing store).
func (s *Stream) Reserve(n int64, force bool) error {
	if s.file != nil {
		return nil
	}
	if n <= 0 {
		return nil
	}
	target := s.pos + n
	remaining := int64(cap(s.buf)) - s.pos
	if !force && remaining >= n {
		return nil
	}
	return s.growCapacity(target)
}

// growCapacity reallocates the memory buffer so that cap(buf) >=
// target, preserving existing contents and the logical size. A
// failed allocation leaves the buffer and position unchanged.
func (s *Stream) growCapacity(target int64) (err error) {
	if int64(cap(s.buf)) >= target {
		return nil
	}
	newCap := int64(cap(s.buf)) * 2
	if newCap < target {
		newCap = target
	}
	if newCap < defaultGrowth {
		newCap = defaultGrowth
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bytestream: buffer growth to %d bytes failed: %v", newCap, r)
		}
	}()

	grown := make([]byte, len(s.buf), newCap)
	copy(grown, s.buf)
	s.buf = grown
	return nil
}

// alignUp rounds n up to the nearest multiple of align. align <= 1 is
// treated as no alignment.
func alignUp(n int64, align int) int64 {
	if align <= 1 {
		return n
	}
	a := int64(align)
	if rem := n % a; rem != 0 {
		n += a - rem
	}
	return n
}

// Read reads up to n bytes into dst, returning the number of bytes
// actually read. n == -1 means "read to end of file" (file mode) or
// "read to the end of the buffer from the current position" (memory
// mode). Returns 0 at end of stream. On a file read error it returns
// the bytes read before the error together with the error. A short
// count is not an error.
func (s *Stream) Read(dst []byte, n int64) (int64, error) {
	remaining := s.currentSize() - s.pos
	if remaining < 0 {
		remaining = 0
	}
	if n < 0 || n > remaining {
		n = remaining
	}
	if n <= 0 {
		return 0, nil
	}
	if int64(len(dst)) < n {
		n = int64(len(dst))
	}

	if s.file != nil {
		read, err := s.file.ReadAt(dst[:n], s.pos)
		s.pos += int64(read)
		if err != nil && err != io.EOF {
			return int64(read), fmt.Errorf("bytestream: read: %w", err)
		}
		return int64(read), nil
	}

	copy(dst[:n], s.buf[s.pos:s.pos+n])
	s.pos += n
	return n, nil
}

// Write writes n bytes from src at the current position. In memory
// mode, writing past the current size grows the buffer, rounding the
// new capacity up to align (align <= 1 means no rounding). If
// flushAfter is true, Flush is called after the write.
func (s *Stream) Write(src []byte, n int64, align int, flushAfter bool) error {
	if n < 0 || int64(len(src)) < n {
		return fmt.Errorf("bytestream: write: n=%d exceeds source length %d", n, len(src))
	}

	if s.file != nil {
		if s.appendMode {
			// os.File rejects WriteAt on O_APPEND files; the OS appends.
			if _, err := s.file.Write(src[:n]); err != nil {
				return fmt.Errorf("bytestream: write: %w", err)
			}
			s.size += n
			s.pos = s.size
		} else {
			if _, err := s.file.WriteAt(src[:n], s.pos); err != nil {
				return fmt.Errorf("bytestream: write: %w", err)
			}
			s.pos += n
			if s.pos > s.size {
				s.size = s.pos
			}
		}
		s.modified = true
	} else {
		end := s.pos + n
		if end > int64(cap(s.buf)) {
			target := alignUp(end, align)
			if err := s.growCapacity(target); err != nil {
				return err
			}
		}
		if end > int64(len(s.buf)) {
			s.buf = s.buf[:end]
		}
		copy(s.buf[s.pos:end], src[:n])
		s.pos = end
		s.modified = true
	}

	if flushAfter {
		return s.Flush()
	}
	return nil
}

// Reader is the minimal read contract WriteFrom pumps from. Both
// *Stream and *reducestream.Stream satisfy it, which is what lets the
// write pipeline pump compressed bytes out of a reduce stream into a
// plain byte stream using the same WriteFrom without Go's lack of
// virtual dispatch getting in the way (see SPEC_FULL.md §9).
type Reader interface {
	Read(dst []byte, n int64) (int64, error)
}

// WriteFrom pumps bytes from src into s through a fixed-size stack
// buffer, stopping when src yields zero bytes or max bytes have been
// copied. max < 0 means unlimited. Returns the number of bytes
// copied.
func (s *Stream) WriteFrom(src Reader, max int64) (int64, error) {
	var total int64
	var buf [pumpBufferSize]byte

	for max < 0 || total < max {
		want := int64(pumpBufferSize)
		if max >= 0 {
			if left := max - total; left < want {
				want = left
			}
		}

		read, err := src.Read(buf[:], want)
		if err != nil {
			return total, err
		}
		if read == 0 {
			break
		}

		if err := s.Write(buf[:read], read, 1, false); err != nil {
			return total, err
		}
		total += read
	}

	return total, nil
}

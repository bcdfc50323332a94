// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package reducestream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arclight-systems/spak/lib/bytestream"
)

// State is the reduce stream's framing state.
type State int

const (
	// Idle is the initial state and the state after End. Raw,
	// uncompressed writes are only permitted here.
	Idle State = iota
	// Compressing accepts Write calls that feed the codec.
	Compressing
	// Decompressing accepts Read calls that feed the codec.
	Decompressing
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Compressing:
		return "compressing"
	case Decompressing:
		return "decompressing"
	default:
		return "unknown"
	}
}

// frameMagic identifies a spak reduce-stream frame header.
var frameMagic = [4]byte{'R', 'D', 'Z', '1'}

// frameHeaderSize is magic(4) + tag(1) + blockSize(4).
const frameHeaderSize = 9

// blockHeaderSize is compressedLen(4) + uncompressedLen(4).
const blockHeaderSize = 8

// DefaultBlockSize is used by BeginCompress callers that don't have a
// more specific size in mind. 256 KiB balances compression ratio
// (larger blocks see more redundancy) against the memory cost of
// holding one block of each scratch buffer per in-flight stream.
const DefaultBlockSize = 256 * 1024

// CodecError wraps a failure from the underlying block codec. The
// stream returns to Idle (or, for a failure mid-Compressing/
// Decompressing, is left in its current state since resuming is not
// defined — callers should Close and discard the stream).
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string { return fmt.Sprintf("reducestream: %s: %v", e.Op, e.Err) }
func (e *CodecError) Unwrap() error { return e.Err }

// ErrWrongState is returned when an operation is attempted in a state
// that does not support it (e.g. Write while Idle).
var ErrWrongState = errors.New("reducestream: operation not valid in current state")

// Stream wraps a *bytestream.Stream with framed compress/decompress
// sessions. It is not itself a bytestream.Stream — composition, not
// embedding, is used throughout because the compressing Write and the
// raw byte-stream Write have incompatible signatures, and Go has no
// virtual dispatch to resolve that the way the original C++ subclass
// did (see SPEC_FULL.md §9).
type Stream struct {
	parent *bytestream.Stream

	state State
	tag   CompressionTag

	blockSize int

	// compressing-mode buffering: bytes accumulated toward one block.
	inBuf []byte // len == bytes currently buffered
	outBuf []byte // reused output (compressed) scratch

	// decompressing-mode state.
	decompressed    []byte // decoded window for the current block
	decodedPos      int
	decodedLen      int
	compressedInBuf []byte // reused compressed-block scratch
	frameEnded      bool
}

// New wraps parent in a reduce stream, initially Idle.
func New(parent *bytestream.Stream) *Stream {
	return &Stream{parent: parent}
}

// Reset reassigns the underlying byte stream. The codec must be Idle;
// reusing a Stream mid-frame is a programming error.
func (s *Stream) Reset(parent *bytestream.Stream) error {
	if s.state != Idle {
		return fmt.Errorf("%w: Reset while %s", ErrWrongState, s.state)
	}
	s.parent = parent
	s.frameEnded = false
	s.decodedPos, s.decodedLen = 0, 0
	return nil
}

// Parent returns the underlying byte stream.
func (s *Stream) Parent() *bytestream.Stream { return s.parent }

// State returns the current framing state.
func (s *Stream) State() State { return s.state }

// BeginCompress allocates scratch buffers (if absent), writes a frame
// header at the current position, and moves to Compressing.
// blockSize <= 0 uses DefaultBlockSize.
func (s *Stream) BeginCompress(tag CompressionTag, blockSize int) error {
	if s.state != Idle {
		return fmt.Errorf("%w: BeginCompress while %s", ErrWrongState, s.state)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	s.tag = tag
	s.blockSize = blockSize
	if cap(s.inBuf) < blockSize {
		s.inBuf = make([]byte, 0, blockSize)
	} else {
		s.inBuf = s.inBuf[:0]
	}

	var header [frameHeaderSize]byte
	copy(header[0:4], frameMagic[:])
	header[4] = byte(tag)
	binary.LittleEndian.PutUint32(header[5:9], uint32(blockSize))
	if err := s.parent.Write(header[:], frameHeaderSize, 1, false); err != nil {
		return &CodecError{Op: "write frame header", Err: err}
	}

	s.state = Compressing
	return nil
}

// BeginDecompress reads the frame header at the current position to
// learn the compression tag and block size, allocates an output
// scratch buffer of that block size, and moves to Decompressing.
func (s *Stream) BeginDecompress() error {
	if s.state != Idle {
		return fmt.Errorf("%w: BeginDecompress while %s", ErrWrongState, s.state)
	}

	var header [frameHeaderSize]byte
	read, err := s.parent.Read(header[:], frameHeaderSize)
	if err != nil {
		return &CodecError{Op: "read frame header", Err: err}
	}
	if read != frameHeaderSize {
		return &CodecError{Op: "read frame header", Err: fmt.Errorf("short read: got %d of %d bytes", read, frameHeaderSize)}
	}
	if header[0] != frameMagic[0] || header[1] != frameMagic[1] || header[2] != frameMagic[2] || header[3] != frameMagic[3] {
		return &CodecError{Op: "read frame header", Err: fmt.Errorf("bad frame magic %q", header[0:4])}
	}

	s.tag = CompressionTag(header[4])
	s.blockSize = int(binary.LittleEndian.Uint32(header[5:9]))
	if s.blockSize <= 0 {
		return &CodecError{Op: "read frame header", Err: fmt.Errorf("invalid block size %d", s.blockSize)}
	}

	if cap(s.decompressed) < s.blockSize {
		s.decompressed = make([]byte, s.blockSize)
	}
	s.decodedPos, s.decodedLen = 0, 0
	s.frameEnded = false

	s.state = Decompressing
	return nil
}

// End finalizes the current frame and returns to Idle. While
// Compressing, this flushes any buffered partial block and writes the
// zero-length terminator block. While Decompressing, it releases the
// output scratch and clears window bookkeeping.
func (s *Stream) End() error {
	switch s.state {
	case Compressing:
		if err := s.flushBlock(); err != nil {
			return err
		}
		if err := s.writeBlockHeader(0, 0); err != nil {
			return &CodecError{Op: "write frame terminator", Err: err}
		}
		s.inBuf = s.inBuf[:0]
		s.state = Idle
		return nil

	case Decompressing:
		s.decompressed = nil
		s.decodedPos, s.decodedLen = 0, 0
		s.state = Idle
		return nil

	default:
		return fmt.Errorf("%w: End while %s", ErrWrongState, s.state)
	}
}

// Close forces End if a frame is in flight, then closes the parent
// stream. Scratch buffers are dropped with the Stream itself.
func (s *Stream) Close() error {
	if s.state != Idle {
		if err := s.End(); err != nil {
			return err
		}
	}
	return s.parent.Close()
}

// Write compresses buf[:n] into the frame currently being built.
// Valid only while Compressing. Input is chunked into units no larger
// than the frame's block size; completed blocks are compressed and
// appended to the parent stream immediately.
func (s *Stream) Write(buf []byte, n int64) error {
	if s.state != Compressing {
		return fmt.Errorf("%w: Write while %s", ErrWrongState, s.state)
	}
	if n < 0 || int64(len(buf)) < n {
		return fmt.Errorf("reducestream: write: n=%d exceeds buffer length %d", n, len(buf))
	}

	remaining := buf[:n]
	for len(remaining) > 0 {
		space := s.blockSize - len(s.inBuf)
		take := space
		if take > len(remaining) {
			take = len(remaining)
		}
		s.inBuf = append(s.inBuf, remaining[:take]...)
		remaining = remaining[take:]

		if len(s.inBuf) == s.blockSize {
			if err := s.flushBlock(); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFrom pumps up to max bytes (max < 0 means unlimited) from src
// into the compressing stream, stopping when src yields zero bytes.
// This is the cross-type analogue of bytestream.Stream.WriteFrom used
// by the write pipeline (SPEC_FULL.md §4.6.1): "begin(Compress) →
// write_from(source, n) → end".
func (s *Stream) WriteFrom(src bytestream.Reader, max int64) (int64, error) {
	var total int64
	var buf [8 * 1024]byte

	for max < 0 || total < max {
		want := int64(len(buf))
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
		if err := s.Write(buf[:read], read); err != nil {
			return total, err
		}
		total += read
	}
	return total, nil
}

// flushBlock compresses the buffered input (falling back to
// CompressionNone if compression does not shrink the block) and
// appends it to the parent stream as one length-prefixed block.
func (s *Stream) flushBlock() error {
	if len(s.inBuf) == 0 {
		return nil
	}

	stored := false
	compressed, err := compressBlock(s.inBuf, s.tag, s.outBuf)
	if err != nil {
		if IsIncompressible(err) {
			stored = true
			// Store the block as-is. A stored block is distinguished
			// on decode purely by compressedLen == uncompressedLen;
			// compressBlock itself only returns errIncompressible
			// when the compressed form would be >= the input length,
			// so a successful compression (which this branch is not)
			// always strictly shrinks the block and can never collide
			// with this marker.
			compressed = s.inBuf
		} else {
			return &CodecError{Op: "compress block", Err: err}
		}
	}
	// Retain the underlying array across calls; compressBlock may
	// have grown it. A stored block, or the output of CompressionNone,
	// is s.inBuf itself and is not retained, so outBuf never aliases
	// the input.
	if !stored && s.tag != CompressionNone && cap(compressed) > cap(s.outBuf) {
		s.outBuf = compressed[:0]
	}

	if err := s.writeBlockHeader(len(compressed), len(s.inBuf)); err != nil {
		return &CodecError{Op: "write block header", Err: err}
	}
	if err := s.parent.Write(compressed, int64(len(compressed)), 1, false); err != nil {
		return &CodecError{Op: "write block", Err: err}
	}
	// The tag is frame-wide (written once by BeginCompress); a block
	// carries only its two lengths.

	s.inBuf = s.inBuf[:0]
	return nil
}

func (s *Stream) writeBlockHeader(compressedLen, uncompressedLen int) error {
	var header [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(compressedLen))
	binary.LittleEndian.PutUint32(header[4:8], uint32(uncompressedLen))
	return s.parent.Write(header[:], blockHeaderSize, 1, false)
}

// Read decompresses up to n bytes into dst. Valid only while
// Decompressing. Bytes are served first from any undrained decoded
// window; once that is exhausted, the next compressed block is read
// from the parent stream and decoded. Read stops at n bytes, at the
// frame's end-of-frame marker, or when the parent stream is
// exhausted; none of those are errors.
func (s *Stream) Read(dst []byte, n int64) (int64, error) {
	if s.state != Decompressing {
		return 0, fmt.Errorf("%w: Read while %s", ErrWrongState, s.state)
	}
	if n < 0 {
		n = int64(len(dst))
	}
	if int64(len(dst)) < n {
		n = int64(len(dst))
	}

	var produced int64
	for produced < n {
		if s.decodedPos < s.decodedLen {
			take := int64(s.decodedLen - s.decodedPos)
			if take > n-produced {
				take = n - produced
			}
			copy(dst[produced:produced+take], s.decompressed[s.decodedPos:s.decodedPos+int(take)])
			s.decodedPos += int(take)
			produced += take
			continue
		}

		if s.frameEnded {
			break
		}

		ok, err := s.decodeNextBlock()
		if err != nil {
			return produced, err
		}
		if !ok {
			// Source exhausted before a terminator block arrived.
			break
		}
		if s.decodedLen == 0 {
			// Terminator block: end of frame.
			s.frameEnded = true
			break
		}
	}

	return produced, nil
}

// decodeNextBlock reads one block header and body from the parent
// stream and decodes it into s.decompressed. ok is false only when
// the parent stream yields no bytes at all (a truncated frame).
func (s *Stream) decodeNextBlock() (ok bool, err error) {
	var header [blockHeaderSize]byte
	read, readErr := s.parent.Read(header[:], blockHeaderSize)
	if readErr != nil {
		return false, &CodecError{Op: "read block header", Err: readErr}
	}
	if read == 0 {
		return false, nil
	}
	if read != blockHeaderSize {
		return false, &CodecError{Op: "read block header", Err: fmt.Errorf("short read: got %d of %d bytes", read, blockHeaderSize)}
	}

	compressedLen := int(binary.LittleEndian.Uint32(header[0:4]))
	uncompressedLen := int(binary.LittleEndian.Uint32(header[4:8]))

	if compressedLen == 0 && uncompressedLen == 0 {
		s.decodedPos, s.decodedLen = 0, 0
		return true, nil
	}

	if cap(s.compressedInBuf) < compressedLen {
		s.compressedInBuf = make([]byte, compressedLen)
	}
	compressedBuf := s.compressedInBuf[:compressedLen]
	read, readErr = s.parent.Read(compressedBuf, int64(compressedLen))
	if readErr != nil {
		return false, &CodecError{Op: "read block body", Err: readErr}
	}
	if read != int64(compressedLen) {
		return false, &CodecError{Op: "read block body", Err: fmt.Errorf("short read: got %d of %d bytes", read, compressedLen)}
	}

	if cap(s.decompressed) < uncompressedLen {
		s.decompressed = make([]byte, uncompressedLen)
	}

	var out []byte
	if compressedLen == uncompressedLen && s.tag != CompressionNone {
		// A block stored verbatim because compression did not shrink
		// it (see flushBlock) — never run it through the tag's codec.
		out = s.decompressed[:uncompressedLen]
		copy(out, compressedBuf)
	} else {
		out, err = decompressBlock(compressedBuf, s.tag, uncompressedLen, s.decompressed[:uncompressedLen])
		if err != nil {
			return false, &CodecError{Op: "decompress block", Err: err}
		}
	}
	s.decompressed = out[:cap(out)][:len(out)]
	s.decodedPos, s.decodedLen = 0, len(out)
	return true, nil
}

// WriteUncompressed bypasses the codec and appends raw bytes directly
// to the parent stream. Valid only while Idle — this is the
// mechanism by which a later BeginDecompress still parses a frame
// header correctly: raw writes never land inside a frame, because
// they are only permitted between frames.
func (s *Stream) WriteUncompressed(buf []byte, n int64, align int, flushAfter bool) error {
	if s.state != Idle {
		return fmt.Errorf("%w: WriteUncompressed while %s", ErrWrongState, s.state)
	}
	return s.parent.Write(buf, n, align, flushAfter)
}

// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package reducestream

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/arclight-systems/spak/lib/bytestream"
)

func newMemoryParent(t *testing.T) *bytestream.Stream {
	t.Helper()
	var s bytestream.Stream
	if err := s.Reserve(4096, false); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return &s
}

func roundtrip(t *testing.T, tag CompressionTag, blockSize int, data []byte) []byte {
	t.Helper()

	parent := newMemoryParent(t)
	rs := New(parent)

	if err := rs.BeginCompress(tag, blockSize); err != nil {
		t.Fatalf("BeginCompress: %v", err)
	}
	if err := rs.Write(data, int64(len(data))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rs.End(); err != nil {
		t.Fatalf("End (compress): %v", err)
	}

	if _, err := parent.Seek(0, 0); err != nil {
		t.Fatalf("seek to start: %v", err)
	}

	if err := rs.BeginDecompress(); err != nil {
		t.Fatalf("BeginDecompress: %v", err)
	}
	out := make([]byte, 0, len(data))
	buf := make([]byte, 777) // odd size to exercise partial reads
	for {
		n, err := rs.Read(buf, int64(len(buf)))
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, buf[:n]...)
		if n == 0 {
			break
		}
	}
	if err := rs.End(); err != nil {
		t.Fatalf("End (decompress): %v", err)
	}

	return out
}

func TestRoundtripNone(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	out := roundtrip(t, CompressionNone, 16, data)
	if !bytes.Equal(out, data) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", out, data)
	}
}

func TestRoundtripLZ4MultiBlock(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh-redundant-payload-"), 5000)
	out := roundtrip(t, CompressionLZ4, 4096, data)
	if !bytes.Equal(out, data) {
		t.Fatalf("roundtrip length mismatch: got %d bytes, want %d", len(out), len(data))
	}
}

func TestRoundtripZstd(t *testing.T) {
	data := bytes.Repeat([]byte("zstd handles text-like redundancy well. "), 2000)
	out := roundtrip(t, CompressionZstd, 8192, data)
	if !bytes.Equal(out, data) {
		t.Fatalf("roundtrip mismatch for zstd")
	}
}

func TestRoundtripBG4LZ4(t *testing.T) {
	values := make([]float32, 10000)
	r := rand.New(rand.NewSource(1))
	for i := range values {
		values[i] = r.Float32() * 100
	}
	data := float32SliceToBytes(values)
	out := roundtrip(t, CompressionBG4LZ4, 4096, data)
	if !bytes.Equal(out, data) {
		t.Fatalf("bg4_lz4 roundtrip mismatch")
	}
}

func TestRoundtripIncompressibleFallsBackToNone(t *testing.T) {
	// Random bytes rarely compress; this exercises the per-block
	// fallback to CompressionNone inside an LZ4-tagged frame.
	data := make([]byte, 8192)
	if _, err := rand.New(rand.NewSource(2)).Read(data); err != nil {
		t.Fatalf("rand read: %v", err)
	}
	out := roundtrip(t, CompressionLZ4, 1024, data)
	if !bytes.Equal(out, data) {
		t.Fatalf("roundtrip mismatch on incompressible data")
	}
}

func TestWriteUncompressedRequiresIdle(t *testing.T) {
	parent := newMemoryParent(t)
	rs := New(parent)

	if err := rs.BeginCompress(CompressionLZ4, 1024); err != nil {
		t.Fatalf("BeginCompress: %v", err)
	}
	if err := rs.WriteUncompressed([]byte("x"), 1, 1, false); err == nil {
		t.Fatalf("expected error writing uncompressed mid-frame")
	}
}

func TestMultipleFramesShareOneByteStream(t *testing.T) {
	parent := newMemoryParent(t)
	rs := New(parent)

	first := []byte("first entry payload")
	second := []byte("second entry payload, a bit longer than the first")

	if err := rs.BeginCompress(CompressionLZ4, 4096); err != nil {
		t.Fatalf("BeginCompress 1: %v", err)
	}
	if err := rs.Write(first, int64(len(first))); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := rs.End(); err != nil {
		t.Fatalf("End 1: %v", err)
	}

	secondFrameOffset, err := parent.Tell(), error(nil)
	_ = err

	if err := rs.BeginCompress(CompressionZstd, 4096); err != nil {
		t.Fatalf("BeginCompress 2: %v", err)
	}
	if err := rs.Write(second, int64(len(second))); err != nil {
		t.Fatalf("Write 2: %v", err)
	}
	if err := rs.End(); err != nil {
		t.Fatalf("End 2: %v", err)
	}

	if _, err := parent.Seek(0, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if err := rs.BeginDecompress(); err != nil {
		t.Fatalf("BeginDecompress 1: %v", err)
	}
	out1 := make([]byte, len(first))
	if _, err := rs.Read(out1, int64(len(out1))); err != nil {
		t.Fatalf("Read 1: %v", err)
	}
	if err := rs.End(); err != nil {
		t.Fatalf("End decompress 1: %v", err)
	}
	if !bytes.Equal(out1, first) {
		t.Fatalf("first frame mismatch: got %q, want %q", out1, first)
	}

	if _, err := parent.Seek(0, secondFrameOffset); err != nil {
		t.Fatalf("seek to second frame: %v", err)
	}
	if err := rs.BeginDecompress(); err != nil {
		t.Fatalf("BeginDecompress 2: %v", err)
	}
	out2 := make([]byte, len(second))
	if _, err := rs.Read(out2, int64(len(out2))); err != nil {
		t.Fatalf("Read 2: %v", err)
	}
	if err := rs.End(); err != nil {
		t.Fatalf("End decompress 2: %v", err)
	}
	if !bytes.Equal(out2, second) {
		t.Fatalf("second frame mismatch: got %q, want %q", out2, second)
	}
}

// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package reducestream

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm used to compress one block
// within a frame. The tag is stored once in the frame header — all
// blocks of a frame share the same algorithm.
type CompressionTag uint8

const (
	// CompressionNone stores the block unmodified. Used for data that
	// does not benefit from compression.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is block-mode LZ4: the fast default, good for
	// binary data of unknown shape. This is also what the reduce
	// stream's C++ ancestor hard-coded.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default speed level: better
	// ratios on text-like payloads at higher CPU cost.
	CompressionZstd CompressionTag = 2

	// CompressionBG4LZ4 transposes 4-byte groups (as for float32
	// arrays) before LZ4, exploiting the fact that adjacent values in
	// numeric payloads tend to share high-order bytes.
	CompressionBG4LZ4 CompressionTag = 3
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionBG4LZ4:
		return "bg4_lz4"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string form,
// as read from a config file.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "bg4_lz4":
		return CompressionBG4LZ4, nil
	default:
		return 0, fmt.Errorf("reducestream: unknown compression tag: %q", name)
	}
}

// blockBound returns a capacity guaranteed to hold the compressed
// form of an uncompressedLen-byte block under tag, so callers can
// size a reusable output buffer once and avoid a second allocation
// on the rare block that doesn't compress.
func blockBound(tag CompressionTag, uncompressedLen int) int {
	switch tag {
	case CompressionLZ4, CompressionBG4LZ4:
		return lz4.CompressBlockBound(uncompressedLen)
	default:
		return uncompressedLen
	}
}

// compressBlock compresses one block of data with the given
// algorithm, writing into (and possibly reallocating) dst, and
// returns the compressed slice. errIncompressible is returned with a
// nil slice if the compressed form would not be smaller than the
// input — callers fall back to CompressionNone for that block.
func compressBlock(data []byte, tag CompressionTag, dst []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		return compressLZ4(data, dst)

	case CompressionZstd:
		return compressZstd(data, dst)

	case CompressionBG4LZ4:
		return compressBG4LZ4(data, dst)

	default:
		return nil, fmt.Errorf("reducestream: unsupported compression tag: %d", tag)
	}
}

// decompressBlock reverses compressBlock. uncompressedLen must equal
// the original block's length exactly; a mismatch is an error.
func decompressBlock(compressed []byte, tag CompressionTag, uncompressedLen int, dst []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedLen {
			return nil, fmt.Errorf("reducestream: uncompressed block: size %d does not match expected %d",
				len(compressed), uncompressedLen)
		}
		return compressed, nil

	case CompressionLZ4:
		return decompressLZ4(compressed, uncompressedLen, dst)

	case CompressionZstd:
		return decompressZstd(compressed, uncompressedLen)

	case CompressionBG4LZ4:
		return decompressBG4LZ4(compressed, uncompressedLen, dst)

	default:
		return nil, fmt.Errorf("reducestream: unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte, dst []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	}
	dst = dst[:bound]

	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("reducestream: lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedLen int, dst []byte) ([]byte, error) {
	if cap(dst) < uncompressedLen {
		dst = make([]byte, uncompressedLen)
	}
	dst = dst[:uncompressedLen]

	read, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("reducestream: lz4 decompress: %w", err)
	}
	if read != uncompressedLen {
		return nil, fmt.Errorf("reducestream: lz4 decompress: got %d bytes, expected %d", read, uncompressedLen)
	}
	return dst, nil
}

// zstdEncoder and zstdDecoder are reused across calls. Both types are
// documented safe for concurrent use by klauspost/compress/zstd.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("reducestream: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("reducestream: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte, dst []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, dst[:0])
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedLen int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedLen))
	if err != nil {
		return nil, fmt.Errorf("reducestream: zstd decompress: %w", err)
	}
	if len(result) != uncompressedLen {
		return nil, fmt.Errorf("reducestream: zstd decompress: got %d bytes, expected %d", len(result), uncompressedLen)
	}
	return result, nil
}

func compressBG4LZ4(data []byte, dst []byte) ([]byte, error) {
	transposed := bg4Transpose(data)
	return compressLZ4(transposed, dst)
}

func decompressBG4LZ4(compressed []byte, uncompressedLen int, dst []byte) ([]byte, error) {
	transposed, err := decompressLZ4(compressed, uncompressedLen, dst)
	if err != nil {
		return nil, err
	}
	// bg4Untranspose writes into a fresh slice since it reads and
	// writes at different offsets of the same logical buffer.
	return bg4Untranspose(transposed), nil
}

// bg4Transpose rearranges data so that all byte-position-0 values
// come first, then all byte-position-1 values, and so on in groups of
// four. Trailing bytes (len(data) % 4) are appended unchanged.
func bg4Transpose(data []byte) []byte {
	length := len(data)
	groupCount := length / 4
	remainder := length % 4
	output := make([]byte, length)

	for i := 0; i < groupCount; i++ {
		output[i] = data[i*4]
		output[groupCount+i] = data[i*4+1]
		output[groupCount*2+i] = data[i*4+2]
		output[groupCount*3+i] = data[i*4+3]
	}
	for i := 0; i < remainder; i++ {
		output[groupCount*4+i] = data[groupCount*4+i]
	}
	return output
}

// bg4Untranspose reverses bg4Transpose.
func bg4Untranspose(data []byte) []byte {
	length := len(data)
	groupCount := length / 4
	remainder := length % 4
	output := make([]byte, length)

	for i := 0; i < groupCount; i++ {
		output[i*4] = data[i]
		output[i*4+1] = data[groupCount+i]
		output[i*4+2] = data[groupCount*2+i]
		output[i*4+3] = data[groupCount*3+i]
	}
	for i := 0; i < remainder; i++ {
		output[groupCount*4+i] = data[groupCount*4+i]
	}
	return output
}

// errIncompressible signals that a block's compressed form was not
// smaller than its input; the caller falls back to CompressionNone.
var errIncompressible = fmt.Errorf("reducestream: block is incompressible")

// IsIncompressible reports whether err indicates that a block could
// not be compressed smaller than its original size.
func IsIncompressible(err error) bool {
	return err == errIncompressible
}

// float32SliceToBytes converts float32 values to little-endian bytes.
// Used by tests exercising CompressionBG4LZ4 with realistic tensor-
// shaped data.
func float32SliceToBytes(values []float32) []byte {
	result := make([]byte, len(values)*4)
	for i, value := range values {
		binary.LittleEndian.PutUint32(result[i*4:], math.Float32bits(value))
	}
	return result
}

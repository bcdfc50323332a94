// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
)

// Magic identifies a spak member file.
var Magic = [4]byte{'S', 'P', 'K', 0x7f}

const (
	// HeaderSize is the fixed size of a member's header, in bytes.
	HeaderSize = 32

	// MajorVersion is the only header major version this package
	// reads. A magic match with a different major version is treated
	// as BadVersion and the member is skipped, never silently
	// upgraded.
	MajorVersion byte = 2

	// MinorVersion is written into new members.
	MinorVersion byte = 0

	// MaxMemberID is the highest member id a family may use; member
	// discovery is bounded at this id.
	MaxMemberID = 255

	// itabRecordFixedSize is the part of an itab record that doesn't
	// vary with path length: path_len(2) + off(4) + compressed_size(4)
	// + original_size(4).
	itabRecordFixedSize = 14

	// DefaultCap is SPK_MAX_PACK_SIZE from the original format: the
	// per-member byte budget used when no explicit cap is configured.
	DefaultCap int64 = 1<<30 - 1
)

// header is the decoded form of a member's 32-byte header.
type header struct {
	major, minor, memberID byte
	itabOffset             uint32
}

// encodeHeader renders a member header with the given member id and
// itab offset (0 for a freshly opened, not-yet-sealed member).
func encodeHeader(memberID byte, itabOffset uint32) [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:4], Magic[:])
	buf[4] = MajorVersion
	buf[5] = MinorVersion
	buf[6] = memberID
	binary.LittleEndian.PutUint32(buf[8:12], itabOffset)
	return buf
}

// decodeHeader parses a member header. Returns errBadMagic or
// errBadVersion for anything that doesn't match exactly.
func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, fmt.Errorf("%w: short header (%d bytes)", errBadMagic, len(buf))
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return header{}, errBadMagic
	}
	if buf[4] != MajorVersion {
		return header{}, fmt.Errorf("%w: major version %d", errBadVersion, buf[4])
	}
	return header{
		major:      buf[4],
		minor:      buf[5],
		memberID:   buf[6],
		itabOffset: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// itabRecord is one decoded index entry.
type itabRecord struct {
	path           string
	off            uint32
	compressedSize uint32
	originalSize   uint32
}

// encodeItab concatenates records into their on-disk itab form.
func encodeItab(records []itabRecord) []byte {
	size := 0
	for _, r := range records {
		size += itabRecordFixedSize + len(r.path)
	}
	buf := make([]byte, size)
	pos := 0
	for _, r := range records {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(len(r.path)))
		pos += 2
		pos += copy(buf[pos:], r.path)
		binary.LittleEndian.PutUint32(buf[pos:pos+4], r.off)
		binary.LittleEndian.PutUint32(buf[pos+4:pos+8], r.compressedSize)
		binary.LittleEndian.PutUint32(buf[pos+8:pos+12], r.originalSize)
		pos += 12
	}
	return buf
}

// decodeItab parses a concatenated itab buffer into records. Any
// truncation or inconsistency is reported as errMalformedItab.
func decodeItab(buf []byte) ([]itabRecord, error) {
	var records []itabRecord
	pos := 0
	for pos < len(buf) {
		if pos+2 > len(buf) {
			return nil, fmt.Errorf("%w: truncated path length at offset %d", errMalformedItab, pos)
		}
		pathLen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
		pos += 2
		if pos+pathLen+12 > len(buf) {
			return nil, fmt.Errorf("%w: truncated record at offset %d", errMalformedItab, pos)
		}
		path := string(buf[pos : pos+pathLen])
		pos += pathLen
		records = append(records, itabRecord{
			path:           path,
			off:            binary.LittleEndian.Uint32(buf[pos : pos+4]),
			compressedSize: binary.LittleEndian.Uint32(buf[pos+4 : pos+8]),
			originalSize:   binary.LittleEndian.Uint32(buf[pos+8 : pos+12]),
		})
		pos += 12
	}
	return records, nil
}

// splitFamily decomposes a family path into the directory, base name,
// and extension used to name its members.
func splitFamily(path string) (dir, base, ext string) {
	dir = filepath.Dir(path)
	name := filepath.Base(path)
	ext = filepath.Ext(name)
	base = strings.TrimSuffix(name, ext)
	return dir, base, ext
}

// memberPath renders the on-disk path of member id within a family.
func memberPath(dir, base, ext string, id int) string {
	name := base + ext
	if id > 0 {
		name = fmt.Sprintf("%s_%d%s", base, id, ext)
	}
	return filepath.Join(dir, name)
}

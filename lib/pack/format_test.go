// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"errors"
	"testing"
)

func TestHeaderRoundtrip(t *testing.T) {
	buf := encodeHeader(3, 12345)
	hdr, err := decodeHeader(buf[:])
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if hdr.major != MajorVersion || hdr.minor != MinorVersion {
		t.Fatalf("version mismatch: got %d.%d", hdr.major, hdr.minor)
	}
	if hdr.memberID != 3 {
		t.Fatalf("memberID: got %d, want 3", hdr.memberID)
	}
	if hdr.itabOffset != 12345 {
		t.Fatalf("itabOffset: got %d, want 12345", hdr.itabOffset)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := encodeHeader(0, 0)
	buf[0] = 'X'
	if _, err := decodeHeader(buf[:]); !errors.Is(err, errBadMagic) {
		t.Fatalf("expected errBadMagic, got %v", err)
	}
}

func TestDecodeHeaderBadVersion(t *testing.T) {
	buf := encodeHeader(0, 0)
	buf[4] = MajorVersion + 1
	if _, err := decodeHeader(buf[:]); !errors.Is(err, errBadVersion) {
		t.Fatalf("expected errBadVersion, got %v", err)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, err := decodeHeader([]byte{1, 2, 3}); !errors.Is(err, errBadMagic) {
		t.Fatalf("expected errBadMagic for short header, got %v", err)
	}
}

func TestItabRoundtrip(t *testing.T) {
	records := []itabRecord{
		{path: "a.txt", off: 32, compressedSize: 10, originalSize: 20},
		{path: "nested/b.bin", off: 42, compressedSize: 999, originalSize: 1000},
		{path: "", off: 0, compressedSize: 0, originalSize: 0},
	}
	buf := encodeItab(records)
	got, err := decodeItab(buf)
	if err != nil {
		t.Fatalf("decodeItab: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("record count: got %d, want %d", len(got), len(records))
	}
	for i, r := range records {
		if got[i] != r {
			t.Fatalf("record %d: got %+v, want %+v", i, got[i], r)
		}
	}
}

func TestDecodeItabTruncated(t *testing.T) {
	buf := encodeItab([]itabRecord{{path: "a.txt", off: 1, compressedSize: 2, originalSize: 3}})
	for l := 0; l < len(buf); l++ {
		if _, err := decodeItab(buf[:l]); !errors.Is(err, errMalformedItab) {
			t.Fatalf("decodeItab(%d bytes): expected errMalformedItab, got %v", l, err)
		}
	}
}

func TestSplitFamily(t *testing.T) {
	dir, base, ext := splitFamily("/data/assets/textures.spk")
	if dir != "/data/assets" || base != "textures" || ext != ".spk" {
		t.Fatalf("splitFamily: got (%q, %q, %q)", dir, base, ext)
	}
}

func TestMemberPath(t *testing.T) {
	if got := memberPath("/data", "textures", ".spk", 0); got != "/data/textures.spk" {
		t.Fatalf("member 0: got %q", got)
	}
	if got := memberPath("/data", "textures", ".spk", 1); got != "/data/textures_1.spk" {
		t.Fatalf("member 1: got %q", got)
	}
	if got := memberPath("/data", "textures", ".spk", 255); got != "/data/textures_255.spk" {
		t.Fatalf("member 255: got %q", got)
	}
}

// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arclight-systems/spak/lib/bytestream"
	"github.com/arclight-systems/spak/lib/reducestream"
	"github.com/arclight-systems/spak/lib/testutil"
)

func writeSourceFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write source %s: %v", path, err)
	}
	return data
}

func readEntry(t *testing.T, e *Entry) []byte {
	t.Helper()
	wt := e.Waitable()
	if !wt.Wait(nil, 0) {
		t.Fatalf("%s: wait never completed", e.Path())
	}
	s := wt.Stream()
	if s == nil {
		t.Fatalf("%s: no stream attached after fetch", e.Path())
	}
	if _, err := s.Seek(0, 0); err != nil {
		t.Fatalf("%s: seek: %v", e.Path(), err)
	}
	out := make([]byte, 0)
	tmp := make([]byte, 4096)
	for {
		n, err := s.Read(tmp, int64(len(tmp)))
		if err != nil {
			t.Fatalf("%s: read: %v", e.Path(), err)
		}
		out = append(out, tmp[:n]...)
		if n == 0 {
			break
		}
	}
	return out
}

func TestPackagerSingleEntryRoundtrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "hello.txt")
	data := writeSourceFile(t, srcPath, 4096)

	p := New(Options{Workers: 2, Compression: reducestream.CompressionLZ4})
	familyPath := filepath.Join(dir, "family.spk")
	if err := p.Open(familyPath); err != nil {
		t.Fatalf("Open: %v", err)
	}

	e, err := p.OpenFile(srcPath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	e.Submit()

	if err := p.Write(context.Background(), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen the family fresh and fetch the entry back out of the
	// member on disk.
	p2 := New(Options{Workers: 2})
	if err := p2.Open(familyPath); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	e2, err := p2.OpenFile(srcPath)
	if err != nil {
		t.Fatalf("OpenFile after reopen: %v", err)
	}
	got := readEntry(t, e2)
	if !bytes.Equal(got, data) {
		t.Fatalf("roundtrip mismatch: got %d bytes, want %d", len(got), len(data))
	}
	if e2.OriginalSize() != uint32(len(data)) {
		t.Fatalf("OriginalSize: got %d, want %d", e2.OriginalSize(), len(data))
	}
}

func TestPackagerSplitsAcrossMembers(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.bin")
	bPath := filepath.Join(dir, "b.bin")
	aData := writeSourceFile(t, aPath, 50)
	bData := writeSourceFile(t, bPath, 150)

	p := New(Options{Workers: 1, Cap: 300, Compression: reducestream.CompressionNone})
	familyPath := filepath.Join(dir, "split.spk")
	if err := p.Open(familyPath); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ea, err := p.OpenFile(aPath)
	if err != nil {
		t.Fatalf("OpenFile a: %v", err)
	}
	ea.Submit()
	eb, err := p.OpenFile(bPath)
	if err != nil {
		t.Fatalf("OpenFile b: %v", err)
	}
	eb.Submit()

	if err := p.Write(context.Background(), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(familyPath); err != nil {
		t.Fatalf("expected first member at %s: %v", familyPath, err)
	}
	secondMember := filepath.Join(dir, "split_1.spk")
	if _, err := os.Stat(secondMember); err != nil {
		t.Fatalf("expected second member at %s: %v", secondMember, err)
	}

	p2 := New(Options{Workers: 1})
	if err := p2.Open(familyPath); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	gotA := readEntry(t, mustOpenFile(t, p2, aPath))
	gotB := readEntry(t, mustOpenFile(t, p2, bPath))
	if !bytes.Equal(gotA, aData) {
		t.Fatalf("entry a mismatch")
	}
	if !bytes.Equal(gotB, bData) {
		t.Fatalf("entry b mismatch")
	}
}

func mustOpenFile(t *testing.T, p *Packager, path string) *Entry {
	t.Helper()
	e, err := p.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile %s: %v", path, err)
	}
	return e
}

func TestPackagerEntryTooLarge(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "big.bin")
	writeSourceFile(t, srcPath, 200)

	p := New(Options{Workers: 1, Cap: 64, Compression: reducestream.CompressionNone})
	familyPath := filepath.Join(dir, "toobig.spk")
	if err := p.Open(familyPath); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	e, err := p.OpenFile(srcPath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	e.Submit()

	err = p.Write(context.Background(), nil)
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}
}

func TestPackagerClosedRejectsOperations(t *testing.T) {
	dir := t.TempDir()
	p := New(Options{Workers: 1})
	familyPath := filepath.Join(dir, "closed.spk")
	if err := p.Open(familyPath); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := p.OpenFile(filepath.Join(dir, "whatever.bin")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := p.Write(context.Background(), nil); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen from Write, got %v", err)
	}
}

func TestPackagerConcurrentFetch(t *testing.T) {
	dir := t.TempDir()
	const n = 8
	paths := make([]string, n)
	contents := make([][]byte, n)
	for i := 0; i < n; i++ {
		paths[i] = filepath.Join(dir, testutil.UniqueID("entry")+".bin")
		contents[i] = writeSourceFile(t, paths[i], 2048+i*37)
	}

	p := New(Options{Workers: 4, Compression: reducestream.CompressionLZ4})
	familyPath := filepath.Join(dir, "many.spk")
	if err := p.Open(familyPath); err != nil {
		t.Fatalf("Open: %v", err)
	}

	entries, err := p.OpenFiles(paths)
	if err != nil {
		t.Fatalf("OpenFiles: %v", err)
	}
	for _, e := range entries {
		e.Submit()
	}
	if err := p.Write(context.Background(), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2 := New(Options{Workers: 4})
	if err := p2.Open(familyPath); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	fetched, err := p2.OpenFiles(paths)
	if err != nil {
		t.Fatalf("OpenFiles after reopen: %v", err)
	}
	for i, e := range fetched {
		got := readEntry(t, e)
		if !bytes.Equal(got, contents[i]) {
			t.Fatalf("entry %d (%s) mismatch: got %d bytes, want %d", i, e.Path(), len(got), len(contents[i]))
		}
	}
}

func TestPackagerWritesFromAttachedMemoryStream(t *testing.T) {
	dir := t.TempDir()
	// virtualPath never exists on disk; the write pipeline must pull
	// the entry's content from the stream already attached to its
	// waitable rather than falling back to disk.
	virtualPath := filepath.Join(dir, "no-such-source.bin")
	payload := []byte("content supplied entirely in memory, never touches the filesystem")

	p := New(Options{Workers: 1, Compression: reducestream.CompressionNone})
	familyPath := filepath.Join(dir, "memory.spk")
	if err := p.Open(familyPath); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	e, err := p.OpenFile(virtualPath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	s := e.Waitable().Stream()
	if s == nil {
		t.Fatalf("expected a placeholder stream attached by OpenFile")
	}
	if err := s.Write(payload, int64(len(payload)), 1, false); err != nil {
		t.Fatalf("write into placeholder stream: %v", err)
	}
	if isPlaceholder(s) {
		t.Fatalf("stream should no longer be a placeholder after a write")
	}
	e.Submit()

	if err := p.Write(context.Background(), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if e.OriginalSize() != uint32(len(payload)) {
		t.Fatalf("OriginalSize: got %d, want %d", e.OriginalSize(), len(payload))
	}
}

func TestIsPlaceholder(t *testing.T) {
	if !isPlaceholder(nil) {
		t.Fatalf("nil stream should be a placeholder")
	}
	var empty bytestream.Stream
	if !isPlaceholder(&empty) {
		t.Fatalf("fresh zero-value stream should be a placeholder")
	}
	var written bytestream.Stream
	_ = written.Write([]byte("x"), 1, 1, false)
	if isPlaceholder(&written) {
		t.Fatalf("written-to stream should not be a placeholder")
	}
}

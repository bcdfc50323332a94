// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package sxml

import (
	"errors"
	"strings"
	"testing"
)

// TestStructuredIndexRoundtrip is scenario S6: build an index tree
// with root SPK and 3 file children, serialize, parse, and assert
// attribute values are byte-identical and child order is preserved.
func TestStructuredIndexRoundtrip(t *testing.T) {
	doc := NewDocument()
	root := doc.NewElem("SPK", "")
	if err := doc.SetRoot(root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := doc.AddAttr(root, "version", "2"); err != nil {
		t.Fatalf("AddAttr: %v", err)
	}

	names := []string{"alpha.bin", "beta.bin", "gamma.bin"}
	offsets := []string{"0", "4096", "9000"}
	for i := range names {
		file := doc.NewElem("file", "")
		if err := doc.AddAttr(file, "path", names[i]); err != nil {
			t.Fatalf("AddAttr path: %v", err)
		}
		if err := doc.AddAttr(file, "offset", offsets[i]); err != nil {
			t.Fatalf("AddAttr offset: %v", err)
		}
		if err := doc.AddChild(root, file); err != nil {
			t.Fatalf("AddChild: %v", err)
		}
	}

	encoded, err := doc.Formatted()
	if err != nil {
		t.Fatalf("Formatted: %v", err)
	}

	parsed, err := ParseString(encoded)
	if err != nil {
		t.Fatalf("ParseString: %v\ninput:\n%s", err, encoded)
	}

	if parsed.Tag(parsed.Root()) != "SPK" {
		t.Fatalf("root tag = %q, want SPK", parsed.Tag(parsed.Root()))
	}
	children := parsed.Children(parsed.Root())
	if len(children) != 3 {
		t.Fatalf("got %d children, want 3", len(children))
	}
	for i, child := range children {
		if parsed.Tag(child) != "file" {
			t.Fatalf("child %d tag = %q, want file", i, parsed.Tag(child))
		}
		path, ok := parsed.Attr(child, "path")
		if !ok || path != names[i] {
			t.Fatalf("child %d path = %q, want %q", i, path, names[i])
		}
		offset, ok := parsed.Attr(child, "offset")
		if !ok || offset != offsets[i] {
			t.Fatalf("child %d offset = %q, want %q", i, offset, offsets[i])
		}
	}
}

func TestCompactHasNoWhitespace(t *testing.T) {
	doc := NewDocument()
	root := doc.NewElem("root", "hello")
	if err := doc.SetRoot(root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	out, err := doc.Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if out != "<root>hello</root>" {
		t.Fatalf("Compact = %q", out)
	}
}

func TestEntityRoundtrip(t *testing.T) {
	doc := NewDocument()
	root := doc.NewElem("root", `<tag> & "quoted" 'apos'`)
	if err := doc.SetRoot(root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	encoded, err := doc.Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if strings.Count(encoded, "<") != 2 {
		t.Fatalf("escaped text still contains raw '<': %q", encoded)
	}

	parsed, err := ParseString(encoded)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if got := parsed.Text(parsed.Root()); got != `<tag> & "quoted" 'apos'` {
		t.Fatalf("Text = %q", got)
	}
}

func TestTagMismatchRejectedInStrictMode(t *testing.T) {
	_, err := ParseString("<a><b></c></a>")
	if err == nil {
		t.Fatalf("expected error for mismatched tags")
	}
	var sxmlErr *Error
	if !errors.As(err, &sxmlErr) {
		t.Fatalf("expected *sxml.Error, got %T", err)
	}
	if sxmlErr.Kind != KindTagMismatch {
		t.Fatalf("Kind = %v, want KindTagMismatch", sxmlErr.Kind)
	}
}

func TestTagMismatchAcceptedInFastMode(t *testing.T) {
	doc, err := ParseFast("<a><b></c></a>")
	if err != nil {
		t.Fatalf("ParseFast: %v", err)
	}
	if doc.Tag(doc.Root()) != "a" {
		t.Fatalf("root tag = %q", doc.Tag(doc.Root()))
	}
}

func TestTextWithChildrenRejectedInStrictMode(t *testing.T) {
	_, err := ParseString("<a>text<b/></a>")
	if err == nil {
		t.Fatalf("expected error for text alongside children")
	}
	var sxmlErr *Error
	if !errors.As(err, &sxmlErr) || sxmlErr.Kind != KindSyntax {
		t.Fatalf("expected KindSyntax, got %v", err)
	}
}

func TestOrphanCloseRejected(t *testing.T) {
	_, err := ParseString("</a>")
	if err == nil {
		t.Fatalf("expected error for orphan closing tag")
	}
	var sxmlErr *Error
	if !errors.As(err, &sxmlErr) || sxmlErr.Kind != KindRoot {
		t.Fatalf("expected KindRoot, got %v", err)
	}
}

func TestBadEntityRejected(t *testing.T) {
	_, err := ParseString("<a>&nope;</a>")
	if err == nil {
		t.Fatalf("expected error for unknown entity")
	}
	var sxmlErr *Error
	if !errors.As(err, &sxmlErr) || sxmlErr.Kind != KindBadSpecial {
		t.Fatalf("expected KindBadSpecial, got %v", err)
	}
}

func TestSelfClosingElement(t *testing.T) {
	doc, err := ParseString(`<a><b x="1"/><b x="2"/></a>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	children := doc.Children(doc.Root())
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
	v0, _ := doc.Attr(children[0], "x")
	v1, _ := doc.Attr(children[1], "x")
	if v0 != "1" || v1 != "2" {
		t.Fatalf("attrs = %q, %q", v0, v1)
	}
}

func TestProcessingInstructionSkipped(t *testing.T) {
	doc, err := ParseString(`<?xml version="1.0"?><root>ok</root>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if doc.Text(doc.Root()) != "ok" {
		t.Fatalf("Text = %q", doc.Text(doc.Root()))
	}
}

func TestRemoveDetachesChild(t *testing.T) {
	doc := NewDocument()
	root := doc.NewElem("root", "")
	_ = doc.SetRoot(root)
	child := doc.NewElem("child", "")
	_ = doc.AddChild(root, child)

	if err := doc.Remove(child); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(doc.Children(root)) != 0 {
		t.Fatalf("child not detached")
	}
	if doc.Parent(child) != NoRef {
		t.Fatalf("child still reports a parent")
	}
}

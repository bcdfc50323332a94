// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package sxml

import (
	"fmt"
	"strings"
)

// Compact renders the document with no indentation or newlines.
func (d *Document) Compact() (string, error) {
	return d.render(false)
}

// Formatted renders the document with a leading XML declaration,
// 2-space indentation per depth, and a trailing newline after every
// element — the human-readable form used for a pack family's
// alternative itab encoding.
func (d *Document) Formatted() (string, error) {
	return d.render(true)
}

func (d *Document) render(format bool) (string, error) {
	if d.root == NoRef {
		return "", newError(KindSyntax, "document has no root element")
	}
	var b strings.Builder
	if format {
		b.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	}
	if err := d.printNode(&b, d.root, format, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (d *Document) printNode(b *strings.Builder, ref NodeRef, format bool, level int) error {
	if level < 0 {
		return newError(KindLevel, fmt.Sprintf("level=%d", level))
	}
	n := &d.nodes[ref]
	if n.tag == "" {
		return newError(KindSyntax, "element has no tag")
	}

	if format {
		for i := 0; i < level; i++ {
			b.WriteString("  ")
		}
	}
	b.WriteByte('<')
	b.WriteString(n.tag)
	for _, a := range n.attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		b.WriteString(escapeText(a.Value))
		b.WriteByte('"')
	}

	// The root element is always printed in open/close form even when
	// empty, matching original_source's "!m_parent || m_data ||
	// m_child" condition — every other empty leaf self-closes.
	selfClose := ref != d.root && n.text == "" && len(n.children) == 0
	if selfClose {
		b.WriteString("/>")
		if format {
			b.WriteByte('\n')
		}
		return nil
	}

	b.WriteByte('>')
	if n.text != "" {
		b.WriteString(escapeText(n.text))
	} else {
		if format {
			b.WriteByte('\n')
		}
		for _, c := range n.children {
			if err := d.printNode(b, c, format, level+1); err != nil {
				return err
			}
		}
		if format {
			for i := 0; i < level; i++ {
				b.WriteString("  ")
			}
		}
	}
	b.WriteString("</")
	b.WriteString(n.tag)
	b.WriteByte('>')
	if format {
		b.WriteByte('\n')
	}
	return nil
}

func escapeText(s string) string {
	if !strings.ContainsAny(s, "<>&'\"") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		case '\'':
			b.WriteString("&apos;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

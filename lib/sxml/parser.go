// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package sxml

import (
	"fmt"
	"os"
	"strings"
)

// parser holds the cursor state for one parse of a document. It is
// not reused across documents.
type parser struct {
	doc *Document
	src string
	pos int

	skipTagCheck       bool
	skipTextChildCheck bool
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isTagChar(c byte) bool {
	return c == '-' || c == '_' || c == ':' || c == '.' ||
		('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) parseTagName() (string, error) {
	start := p.pos
	for p.pos < len(p.src) && isTagChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", newError(KindSyntax, "expected tag name")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) parseAttr() (name, value string, err error) {
	name, err = p.parseTagName()
	if err != nil {
		return "", "", err
	}
	if p.pos >= len(p.src) || p.src[p.pos] != '=' {
		return "", "", newError(KindSyntax, "expected '=' after attribute "+name)
	}
	p.pos++
	if p.pos >= len(p.src) || (p.src[p.pos] != '"' && p.src[p.pos] != '\'') {
		return "", "", newError(KindSyntax, "expected quote after '=' in attribute "+name)
	}
	quote := p.src[p.pos]
	p.pos++
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != quote {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return "", "", newError(KindIncompleteNode, "unterminated attribute value "+name)
	}
	raw := p.src[start:p.pos]
	p.pos++ // consume closing quote

	value, err = unescape(raw)
	if err != nil {
		return "", "", err
	}
	return name, value, nil
}

// parseElement parses one element; p.pos must point at the opening
// '<'. Processing instructions ("<?...?>") preceding the element are
// skipped transparently, matching parse_pi in
// original_source/src/sclxml.hpp.
func (p *parser) parseElement() (NodeRef, error) {
	if p.pos >= len(p.src) || p.src[p.pos] != '<' {
		return NoRef, newError(KindIncompleteNode, "expected '<'")
	}
	p.pos++

	for p.pos < len(p.src) && p.src[p.pos] == '?' {
		idx := strings.Index(p.src[p.pos:], "?>")
		if idx < 0 {
			return NoRef, newError(KindIncompleteNode, "unterminated processing instruction")
		}
		p.pos += idx + 2
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '<' {
			return NoRef, newError(KindIncompleteNode, "expected '<' after processing instruction")
		}
		p.pos++
	}

	if p.pos < len(p.src) && p.src[p.pos] == '/' {
		return NoRef, newError(KindRoot, "closing tag with no matching open tag")
	}

	tag, err := p.parseTagName()
	if err != nil {
		return NoRef, err
	}
	ref := p.doc.NewElem(tag, "")

	p.skipSpace()
	for p.pos < len(p.src) && p.src[p.pos] != '>' && p.src[p.pos] != '/' {
		name, value, err := p.parseAttr()
		if err != nil {
			return NoRef, err
		}
		if err := p.doc.AddAttr(ref, name, value); err != nil {
			return NoRef, err
		}
		p.skipSpace()
	}

	if p.pos >= len(p.src) {
		return NoRef, newError(KindIncompleteNode, "unterminated start tag <"+tag)
	}

	if p.src[p.pos] == '/' {
		p.pos++
		if p.pos >= len(p.src) || p.src[p.pos] != '>' {
			return NoRef, newError(KindSyntax, "expected '>' after '/' in <"+tag)
		}
		p.pos++
		return ref, nil
	}

	p.pos++ // consume '>'

	hasText := false
	for {
		p.skipSpace()
		textStart := p.pos
		for p.pos < len(p.src) && p.src[p.pos] != '<' {
			p.pos++
		}
		text := p.src[textStart:p.pos]

		if p.pos >= len(p.src) {
			return NoRef, newError(KindIncompleteNode, "unterminated element <"+tag+">")
		}

		if p.pos+1 < len(p.src) && p.src[p.pos+1] == '/' {
			if err := p.applyText(ref, text, hasText, &hasText); err != nil {
				return NoRef, err
			}

			p.pos += 2 // consume "</"
			endTag, err := p.parseTagName()
			if err != nil {
				return NoRef, err
			}
			p.skipSpace()
			if p.pos >= len(p.src) || p.src[p.pos] != '>' {
				return NoRef, newError(KindSyntax, "expected '>' closing </"+endTag)
			}
			p.pos++

			if !p.skipTagCheck && endTag != tag {
				return NoRef, newError(KindTagMismatch, fmt.Sprintf("%s/%s", tag, endTag))
			}
			return ref, nil
		}

		if err := p.applyText(ref, text, hasText, &hasText); err != nil {
			return NoRef, err
		}

		child, err := p.parseElement()
		if err != nil {
			return NoRef, err
		}
		if hasText && !p.skipTextChildCheck {
			return NoRef, newError(KindSyntax, "text on element with children: "+tag)
		}
		if err := p.doc.AddChild(ref, child); err != nil {
			return NoRef, err
		}
	}
}

// applyText records trimmed text content on ref, enforcing the
// text-and-children exclusion rule (skippable via ParseFast).
func (p *parser) applyText(ref NodeRef, text string, hasText bool, out *bool) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if (hasText || len(p.doc.nodes[ref].children) > 0) && !p.skipTextChildCheck {
		return newError(KindSyntax, "text on element with children: "+p.doc.nodes[ref].tag)
	}
	expanded, err := unescape(trimmed)
	if err != nil {
		return err
	}
	p.doc.nodes[ref].text = expanded
	*out = true
	return nil
}

func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '&') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '&' {
			b.WriteByte(c)
			i++
			continue
		}
		switch {
		case strings.HasPrefix(s[i:], "&lt;"):
			b.WriteByte('<')
			i += 4
		case strings.HasPrefix(s[i:], "&gt;"):
			b.WriteByte('>')
			i += 4
		case strings.HasPrefix(s[i:], "&amp;"):
			b.WriteByte('&')
			i += 5
		case strings.HasPrefix(s[i:], "&apos;"):
			b.WriteByte('\'')
			i += 6
		case strings.HasPrefix(s[i:], "&quot;"):
			b.WriteByte('"')
			i += 6
		default:
			end := i + 6
			if end > len(s) {
				end = len(s)
			}
			return "", newError(KindBadSpecial, s[i:end])
		}
	}
	return b.String(), nil
}

func parseDocument(content string, skipTagCheck, skipTextChildCheck bool) (*Document, error) {
	p := &parser{doc: NewDocument(), src: content, skipTagCheck: skipTagCheck, skipTextChildCheck: skipTextChildCheck}
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, newError(KindIncompleteNode, "empty document")
	}

	root, err := p.parseElement()
	if err != nil {
		return nil, err
	}
	if err := p.doc.SetRoot(root); err != nil {
		return nil, err
	}
	return p.doc, nil
}

// ParseString parses content in strict mode: mismatched tags,
// text-on-elements-with-children, and orphan closing tags are all
// rejected.
func ParseString(content string) (*Document, error) {
	return parseDocument(content, false, false)
}

// ParseFast parses content skipping the tag-match and
// text-with-children checks (matching original_source's
// speed_optimze flag set), for trusted input where validation cost
// matters. Orphan closing tags are still rejected.
func ParseFast(content string) (*Document, error) {
	return parseDocument(content, true, true)
}

// ParseFile reads path and parses it in strict mode.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sxml: read %s: %w", path, err)
	}
	return ParseString(string(data))
}

// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"fmt"
	"strconv"

	"github.com/arclight-systems/spak/lib/sxml"
)

// EncodeIndexXML renders records as the alternative structured-index
// form: a root SPK element with one file child per record, carrying
// name/off/size/original attributes as decimal ASCII. This mirrors the
// binary itab one-for-one and exists for tooling that would rather
// inspect a family's contents with a text editor than a hex dump.
func EncodeIndexXML(records []itabRecord) (string, error) {
	doc := sxml.NewDocument()
	root := doc.NewElem("SPK", "")
	if err := doc.SetRoot(root); err != nil {
		return "", fmt.Errorf("pack: encode index xml: %w", err)
	}
	for _, r := range records {
		elem := doc.NewElem("file", "")
		if err := doc.AddAttr(elem, "name", r.path); err != nil {
			return "", fmt.Errorf("pack: encode index xml: %w", err)
		}
		if err := doc.AddAttr(elem, "off", strconv.FormatUint(uint64(r.off), 10)); err != nil {
			return "", fmt.Errorf("pack: encode index xml: %w", err)
		}
		if err := doc.AddAttr(elem, "size", strconv.FormatUint(uint64(r.compressedSize), 10)); err != nil {
			return "", fmt.Errorf("pack: encode index xml: %w", err)
		}
		if err := doc.AddAttr(elem, "original", strconv.FormatUint(uint64(r.originalSize), 10)); err != nil {
			return "", fmt.Errorf("pack: encode index xml: %w", err)
		}
		if err := doc.AddChild(root, elem); err != nil {
			return "", fmt.Errorf("pack: encode index xml: %w", err)
		}
	}
	return doc.Formatted()
}

// DecodeIndexXML parses content produced by EncodeIndexXML back into
// itab records. Every file child must carry all four attributes, each
// parseable as the type the binary itab would hold; a violation is
// reported as errMalformedItab, matching the binary decoder's own
// error for a truncated or inconsistent record.
func DecodeIndexXML(content string) ([]itabRecord, error) {
	doc, err := sxml.ParseString(content)
	if err != nil {
		return nil, fmt.Errorf("pack: decode index xml: %w", err)
	}
	root := doc.Root()
	if root == sxml.NoRef || doc.Tag(root) != "SPK" {
		return nil, fmt.Errorf("pack: decode index xml: %w: missing SPK root", errMalformedItab)
	}

	children := doc.Children(root)
	records := make([]itabRecord, 0, len(children))
	for _, child := range children {
		if doc.Tag(child) != "file" {
			continue
		}
		name, ok := doc.Attr(child, "name")
		if !ok {
			return nil, fmt.Errorf("pack: decode index xml: %w: file element missing name", errMalformedItab)
		}
		off, err := parseIndexAttr(doc, child, "off")
		if err != nil {
			return nil, err
		}
		size, err := parseIndexAttr(doc, child, "size")
		if err != nil {
			return nil, err
		}
		original, err := parseIndexAttr(doc, child, "original")
		if err != nil {
			return nil, err
		}
		records = append(records, itabRecord{
			path:           name,
			off:            uint32(off),
			compressedSize: uint32(size),
			originalSize:   uint32(original),
		})
	}
	return records, nil
}

func parseIndexAttr(doc *sxml.Document, ref sxml.NodeRef, name string) (uint64, error) {
	raw, ok := doc.Attr(ref, name)
	if !ok {
		return 0, fmt.Errorf("pack: decode index xml: %w: file element missing %s", errMalformedItab, name)
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("pack: decode index xml: %w: %s=%q: %v", errMalformedItab, name, raw, err)
	}
	return v, nil
}

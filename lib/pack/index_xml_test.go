// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import "testing"

func TestIndexXMLRoundtrip(t *testing.T) {
	records := []itabRecord{
		{path: "textures/brick.dds", off: 32, compressedSize: 512, originalSize: 2048},
		{path: "audio/hit.ogg", off: 544, compressedSize: 128, originalSize: 256},
	}

	xml, err := EncodeIndexXML(records)
	if err != nil {
		t.Fatalf("EncodeIndexXML: %v", err)
	}

	got, err := DecodeIndexXML(xml)
	if err != nil {
		t.Fatalf("DecodeIndexXML: %v\n%s", err, xml)
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

func TestIndexXMLEmpty(t *testing.T) {
	xml, err := EncodeIndexXML(nil)
	if err != nil {
		t.Fatalf("EncodeIndexXML: %v", err)
	}
	got, err := DecodeIndexXML(xml)
	if err != nil {
		t.Fatalf("DecodeIndexXML: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

func TestIndexXMLMissingAttrIsMalformed(t *testing.T) {
	_, err := DecodeIndexXML(`<SPK><file name="a.bin" off="0" size="1"/></SPK>`)
	if err == nil {
		t.Fatalf("expected error for missing original attribute")
	}
}

func TestIndexXMLMissingRootIsMalformed(t *testing.T) {
	_, err := DecodeIndexXML(`<notSPK/>`)
	if err == nil {
		t.Fatalf("expected error for wrong root tag")
	}
}

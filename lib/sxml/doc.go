// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

// Package sxml implements a minimal tag/attribute tree codec: a
// reduced XML dialect used as the human-readable alternative encoding
// for a pack family's itab (see SPEC_FULL.md §4.3 and §6).
//
// A Document owns every Node reachable from its root in one backing
// slice. Nodes reference their children by index into that slice and
// hold their attributes inline, rather than using pointers, so freeing a Document is a matter of letting
// the garbage collector reclaim one slice — the Go equivalent of the
// arena-allocator design this package is grounded on
// (original_source/src/sclxml.hpp's XmlPage bump allocator, freed in
// one shot at document destruction).
package sxml

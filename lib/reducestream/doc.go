// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

// Package reducestream layers a framed block-compression state
// machine on top of a [bytestream.Stream]. A Stream starts Idle; call
// BeginCompress or BeginDecompress to enter a framed session, Write or
// Read while in that session, and End to close the frame and return
// to Idle.
//
// A frame is a small fixed header (magic, compression tag, block
// size) followed by a sequence of length-prefixed compressed blocks,
// terminated by a zero-length block. Frames are self-contained: a
// decoder only needs the bytes at the frame's start, never out-of-
// band configuration, which is what lets a single pack family mix
// entries compressed with different algorithms (see SPEC_FULL.md
// §4.2).
package reducestream

// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

// Package bytestream provides a uniform read/write/seek abstraction
// over either an in-memory buffer or a file descriptor.
//
// A Stream owns exactly one backing store at a time: a *os.File (file
// mode) or a contiguous []byte buffer with independent size and
// capacity (memory mode). Both modes share a single read/write
// position and a modified flag that is set by any write and can be
// inspected (and cleared) by callers that need to know whether a
// stream has unflushed changes.
//
// Memory mode never straddles into file mode within one session:
// opening a file on a stream that is already holding a memory buffer
// first flushes and frees that buffer (see [Stream.Open]).
package bytestream

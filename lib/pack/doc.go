// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

// Package pack implements the spak archive format and the packager
// that drives it: a path-keyed table of entries, a parallel write
// pipeline that compresses many files at once into one or more
// capped-size members, and a fetch pipeline that decompresses
// individual entries back out of an existing member on demand.
//
// A family is a directory, base name, and extension; its members live
// on disk as <base><ext> (member 0) and <base>_<n><ext> (member n,
// 1 <= n <= 255). Each member is a 32-byte header followed by
// concatenated reduce-stream frames (see lib/reducestream) followed by
// an index table ("itab") of path/offset/size records.
package pack

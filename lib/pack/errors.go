// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import "errors"

var (
	// ErrEntryTooLarge is returned by Write when a single entry's
	// compressed size alone exceeds the member cap at the start of a
	// member. Fatal: the pipeline aborts.
	ErrEntryTooLarge = errors.New("pack: entry exceeds member cap")

	// ErrClosed is not returned by the Packager's methods: operations
	// attempted after Close report ErrNotOpen, as before Open.
	ErrClosed = errors.New("pack: packager is closed")

	// ErrNotOpen is returned by operations that require a prior Open.
	ErrNotOpen = errors.New("pack: packager is not open")

	// ErrAlreadyOpen is returned by Open on an already-open packager.
	ErrAlreadyOpen = errors.New("pack: packager is already open")

	// ErrNotActive is returned by Entry.Release on an entry that is
	// not currently active.
	ErrNotActive = errors.New("pack: entry is not active")

	// errBadMagic and errBadVersion mark a member header as unreadable;
	// the packager logs and skips the member rather than failing Open.
	errBadMagic   = errors.New("pack: bad magic")
	errBadVersion = errors.New("pack: unsupported major version")

	// errMalformedItab marks a member's index table as unreadable; the
	// member is skipped the same way as a bad header.
	errMalformedItab = errors.New("pack: malformed itab")
)

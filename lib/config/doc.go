// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for spak-based
// tools.
//
// Configuration is loaded from a single file specified by either the
// SPAK_CONFIG environment variable (via [Load]) or an explicit path
// (via [LoadFile]). There are no fallbacks and no automatic file
// search, matching the teacher's single-source-of-truth discipline.
//
// Key exports:
//
//   - [Config] -- LogLevel plus the packager's tunables under Pack
//   - [Default] -- a Config with sensible zero-values
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.PackOptions] -- resolves Config into pack.Options
//
// This package depends on lib/pack and lib/reducestream only.
package config

// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

// spak-pack is a thin, non-normative example of driving lib/pack from
// the command line. It is not part of the core module and exists only
// to demonstrate the three operations the packager supports: building
// a pack family from a set of files, listing a family's index, and
// extracting entries back out to disk.
//
// Usage:
//
//	spak-pack pack   --archive out.spk [--cap N] [--compression lz4] FILE...
//	spak-pack list   --archive out.spk
//	spak-pack unpack --archive out.spk --output DIR [NAME...]
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/arclight-systems/spak/lib/config"
	"github.com/arclight-systems/spak/lib/pack"
	"github.com/arclight-systems/spak/lib/reducestream"
	"github.com/arclight-systems/spak/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "spak-pack: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("missing subcommand")
	}

	switch args[0] {
	case "--version", "version":
		fmt.Println("spak-pack", version.Info())
		return nil
	case "--help", "help", "-h":
		printUsage()
		return nil
	case "pack":
		return runPack(args[1:])
	case "list":
		return runList(args[1:])
	case "unpack":
		return runUnpack(args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `spak-pack - build, inspect, and extract spak pack families

Usage:
  spak-pack pack   --archive out.spk [--cap N] [--compression lz4] FILE...
  spak-pack list   --archive out.spk
  spak-pack unpack --archive out.spk --output DIR [NAME...]

The pack subcommand accepts --config to load worker count, cap, compression,
and log level from a spak YAML config file instead of SPAK_CONFIG.
`)
}

// loadOptions resolves pack.Options from --config (or SPAK_CONFIG, if
// --config is empty and the variable happens to be set), falling back
// to the packager's built-in defaults when neither is present.
func loadOptions(configPath string) (pack.Options, error) {
	var cfg *config.Config
	var err error
	switch {
	case configPath != "":
		cfg, err = config.LoadFile(configPath)
	case os.Getenv("SPAK_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return pack.Options{}, err
	}
	return cfg.PackOptions()
}

func runPack(args []string) error {
	flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
	archive := flagSet.String("archive", "", "path to the pack family's first member (required)")
	configPath := flagSet.String("config", "", "path to a spak YAML config file")
	capBudget := flagSet.Int64("cap", 0, "per-member byte budget (0 uses the config/default cap)")
	compression := flagSet.String("compression", "", "none, lz4, zstd, or bg4_lz4 (overrides config)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *archive == "" {
		return fmt.Errorf("pack: --archive is required")
	}
	files := flagSet.Args()
	if len(files) == 0 {
		return fmt.Errorf("pack: at least one input file is required")
	}

	opts, err := loadOptions(*configPath)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	if *capBudget != 0 {
		opts.Cap = *capBudget
	}
	if *compression != "" {
		tag, err := reducestream.ParseCompressionTag(*compression)
		if err != nil {
			return fmt.Errorf("pack: --compression: %w", err)
		}
		opts.Compression = tag
	}

	p := pack.New(opts)
	if err := p.Open(*archive); err != nil {
		return fmt.Errorf("pack: open %s: %w", *archive, err)
	}
	defer p.Close()

	entries, err := p.OpenFiles(files)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	for _, e := range entries {
		e.Submit()
	}

	if err := p.Write(context.Background(), func(index int, entry *pack.Entry) {
		fmt.Fprintf(os.Stderr, "packed %d: %s\n", index, entry.Path())
	}); err != nil {
		fmt.Fprintln(os.Stderr)
		return fmt.Errorf("pack: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	return p.Close()
}

func runList(args []string) error {
	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	archive := flagSet.String("archive", "", "path to the pack family's first member (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *archive == "" {
		return fmt.Errorf("list: --archive is required")
	}

	p := pack.New(pack.Options{})
	if err := p.Open(*archive); err != nil {
		return fmt.Errorf("list: open %s: %w", *archive, err)
	}
	defer p.Close()

	for name, e := range p.Index() {
		fmt.Printf("%-40s %10d -> %10d\n", name, e.CompressedSize(), e.OriginalSize())
	}
	return nil
}

func runUnpack(args []string) error {
	flagSet := pflag.NewFlagSet("unpack", pflag.ContinueOnError)
	archive := flagSet.String("archive", "", "path to the pack family's first member (required)")
	output := flagSet.String("output", "", "directory to extract entries into (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *archive == "" || *output == "" {
		return fmt.Errorf("unpack: --archive and --output are required")
	}

	p := pack.New(pack.Options{})
	if err := p.Open(*archive); err != nil {
		return fmt.Errorf("unpack: open %s: %w", *archive, err)
	}
	defer p.Close()

	names := flagSet.Args()
	if len(names) == 0 {
		for name := range p.Index() {
			names = append(names, name)
		}
	}

	for _, name := range names {
		if err := extractOne(p, *output, name); err != nil {
			return fmt.Errorf("unpack: %s: %w", name, err)
		}
	}
	return nil
}

func extractOne(p *pack.Packager, outputDir, name string) error {
	entries, err := p.OpenFiles([]string{name})
	if err != nil {
		return err
	}
	e := entries[0]

	wt := e.Waitable()
	if !wt.Wait(nil, 0) {
		return fmt.Errorf("fetch never completed")
	}
	src := wt.Stream()
	if src == nil {
		return fmt.Errorf("no stream attached after fetch")
	}
	if _, err := src.Seek(0, 0); err != nil {
		return err
	}

	dest := filepath.Join(outputDir, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 256*1024)
	for {
		n, err := src.Read(buf, int64(len(buf)))
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package crosscheck compares the legacy encodings in
// an environment against an independent decoder.
package crosscheck

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"firefly-os.dev/opcodesdb/internal/cli"
	"firefly-os.dev/opcodesdb/internal/crosscheck"
)

var program = filepath.Base(os.Args[0])

// Main builds an environment and reports
// any instructions that decode to another
// mnemonic.
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("crosscheck", flag.ExitOnError)

	var help bool
	var strict bool
	var opts cli.Options
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	flags.BoolVar(&strict, "strict", false, "Fail if any instruction is mismatched.")
	opts.Register(flags)

	flags.Usage = func() {
		log.Printf("Usage:\n  %s %s [OPTIONS] CATALOGUE...\n\n", program, flags.Name())
		flags.PrintDefaults()
		os.Exit(2)
	}

	err := flags.Parse(args)
	if err != nil || help {
		flags.Usage()
	}

	catalogues := flags.Args()
	if len(catalogues) == 0 {
		flags.Usage()
	}

	logger, err := opts.Logger()
	if err != nil {
		return err
	}

	env, err := opts.Load(ctx, logger, catalogues)
	if err != nil {
		return err
	}

	report, err := crosscheck.Check(ctx, env, logger)
	if err != nil {
		return err
	}

	err = report.Print(w)
	if err != nil {
		return err
	}

	if strict && len(report.Mismatches) != 0 {
		return fmt.Errorf("%d instructions did not decode as expected", len(report.Mismatches))
	}

	return nil
}

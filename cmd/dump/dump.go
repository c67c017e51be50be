// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package dump prints the full Go structure of a
// built environment, for debugging.
package dump

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"firefly-os.dev/opcodesdb/internal/cli"
	"firefly-os.dev/opcodesdb/internal/x86"
)

var program = filepath.Base(os.Args[0])

var config = spew.ConfigState{
	Indent:                  "\t",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
	SortKeys:                true,
}

// Dump writes the instructions with the given
// mnemonics, or the whole environment if none
// are given.
func Dump(w io.Writer, env *x86.Environment, mnemonics []string) error {
	if len(mnemonics) == 0 {
		config.Fdump(w, env)
		return nil
	}

	for _, mnemonic := range mnemonics {
		insts := env.Lookup(mnemonic)
		if len(insts) == 0 {
			return fmt.Errorf("no instructions named %q", mnemonic)
		}

		config.Fdump(w, insts)
	}

	return nil
}

// Main dumps an environment.
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("dump", flag.ExitOnError)

	var help bool
	var mnemonics string
	var opts cli.Options
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	flags.StringVar(&mnemonics, "mnemonics", "", "A comma-separated list of mnemonics to dump (default: everything).")
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

	var names []string
	if mnemonics != "" {
		names = strings.Split(mnemonics, ",")
	}

	return Dump(w, env, names)
}

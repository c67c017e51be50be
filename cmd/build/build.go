// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package build normalises instruction catalogues
// into JSON records.
package build

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"firefly-os.dev/opcodesdb/internal/cli"
	"firefly-os.dev/opcodesdb/internal/x86"
)

var program = filepath.Base(os.Args[0])

// Main builds an environment from one or more
// catalogues and writes one JSON record per
// instruction.
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("build", flag.ExitOnError)

	var help bool
	var out string
	var opts cli.Options
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	flags.StringVar(&out, "o", "", "The file to write the records to (default: stdout).")
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

	if out == "" {
		return x86.WriteJSON(w, env)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}

	buf := bufio.NewWriter(f)
	err = x86.WriteJSON(buf, env)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %v", out, err)
	}

	err = buf.Flush()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %v", out, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("failed to close %s: %v", out, err)
	}

	logger.Info("wrote records", "file", out, "records", len(env.Instructions))

	return nil
}

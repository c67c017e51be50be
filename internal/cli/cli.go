// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package cli contains the options shared by
// the commands that build an environment.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/charmbracelet/log"

	"firefly-os.dev/opcodesdb/internal/logging"
	"firefly-os.dev/opcodesdb/internal/x86"
	"firefly-os.dev/opcodesdb/internal/x86/x86table"
)

// Options configures how an environment
// is loaded.
type Options struct {
	Tables  string
	Workers int
	Verbose bool
}

// Register adds the options to the flag set.
func (o *Options) Register(flags *flag.FlagSet) {
	flags.StringVar(&o.Tables, "tables", "", "The TOML tables to resolve against (default: the embedded x86 tables).")
	flags.IntVar(&o.Workers, "workers", runtime.NumCPU(), "The number of tuples to resolve in parallel.")
	flags.BoolVar(&o.Verbose, "v", false, "Log debug information.")
}

// Logger returns the logger the options
// describe, writing to stderr.
func (o *Options) Logger() (*log.Logger, error) {
	return logging.New(os.Stderr, o.Verbose)
}

// Load builds the environment from the named
// catalogues.
func (o *Options) Load(ctx context.Context, logger *log.Logger, catalogues []string) (*x86.Environment, error) {
	if o.Workers < 1 {
		return nil, fmt.Errorf("-workers must be positive, got %d", o.Workers)
	}

	env, err := x86table.LoadEnvironment(ctx, o.Tables, catalogues, x86.WithWorkers(o.Workers), x86.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return env, nil
}

// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"context"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

type options struct {
	workers int
	logger  *log.Logger
}

// Option configures Build.
type Option func(*options)

// WithWorkers sets the number of tuples
// resolved in parallel. The default is
// the number of CPUs.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger used to
// report progress. By default, nothing
// is logged.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Build resolves every tuple against the
// tables, checks the resulting set, and
// returns the finished Environment.
//
// If any problems are found, Build returns
// a nil Environment and an Errors listing
// every problem.
func Build(ctx context.Context, tables *Tables, tuples []Tuple, opts ...Option) (*Environment, error) {
	o := options{
		workers: runtime.NumCPU(),
		logger:  log.New(io.Discard),
	}

	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	syms, err := NewSymbols(tables)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("resolving tuples", "tuples", len(tuples), "workers", o.workers)

	// Each worker writes only to its own
	// slot, so the results need no lock.
	type result struct {
		inst *Instruction
		errs Errors
	}

	results := make([]result, len(tuples))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i := range tuples {
		if ctx.Err() != nil {
			break
		}

		i := i
		g.Go(func() error {
			inst, errs := syms.Resolve(i, tuples[i])
			results[i] = result{inst: inst, errs: errs}
			return nil
		})
	}

	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		insts []*Instruction
		errs  Errors
	)

	for _, r := range results {
		if r.inst != nil {
			insts = append(insts, r.inst)
		}

		errs = append(errs, r.errs...)
	}

	o.logger.Debug("resolved tuples", "instructions", len(insts), "errors", len(errs), "elapsed", time.Since(start))

	env, verrs := newEnvironment(syms, insts)
	errs = append(errs, verrs...)
	if len(errs) != 0 {
		o.logger.Warn("environment failed to build", "errors", len(errs))
		return nil, errs
	}

	o.logger.Info("built environment", "name", env.Name, "version", env.Version, "instructions", len(env.Instructions), "elapsed", time.Since(start))

	return env, nil
}

// Resolve turns a single raw tuple into an
// Instruction, checking it for internal
// consistency. The index is recorded in the
// instruction and in any errors.
//
// Resolve has no side effects, so resolving
// the same tuple twice produces equal
// instructions.
func (s *Symbols) Resolve(index int, t Tuple) (*Instruction, Errors) {
	var errs Errors
	mnemonic := strings.TrimSpace(t.Mnemonic)
	if !validMnemonic(mnemonic) {
		err := Errorf(MalformedField, t.Mnemonic, "invalid mnemonic")
		errs = append(errs, Errors{err}.within(index, mnemonic, FieldMnemonic)...)
	}

	ops, err := ParseOperands(t.Operands, s)
	errs = append(errs, errorList(err).within(index, mnemonic, FieldOperands)...)

	enc, err := ParseEncoding(t.Encoding, s)
	errs = append(errs, errorList(err).within(index, mnemonic, FieldEncoding)...)

	md, err := ParseMetadata(t.Metadata, s)
	errs = append(errs, errorList(err).within(index, mnemonic, FieldMetadata)...)

	if len(errs) != 0 {
		return nil, errs
	}

	inst := &Instruction{
		Index:    index,
		Mnemonic: mnemonic,
		Source:   t,
		Operands: ops,
		Encoding: enc,
		Metadata: md,
	}

	// Expose the EVEX annotations on
	// the encoding.
	for _, op := range ops {
		enc.Mask = enc.Mask || op.Mask != MaskNone
		enc.Zero = enc.Zero || op.Mask == MaskZero
		enc.Rounding = enc.Rounding || op.Rounding
		enc.Suppress = enc.Suppress || op.SAE || op.Rounding
		enc.Broadcast = enc.Broadcast || op.Broadcast != 0
	}

	if errs := checkInstruction(inst, s); len(errs) != 0 {
		return nil, errs.within(index, mnemonic, FieldEncoding)
	}

	return inst, nil
}

func validMnemonic(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}

	return true
}

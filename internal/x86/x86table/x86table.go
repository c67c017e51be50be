// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package x86table loads the auxiliary tables
// and instruction catalogues that are fed to
// the x86 package.
//
// Tables are written in TOML. A default set,
// covering the x86 and x64 architectures, is
// embedded in the package.
//
// Catalogues list the instruction tuples. A
// catalogue is either a YAML sequence of 3 or
// 4 element string sequences:
//
//	- [add, "r/m32, imm32", "mi:81 /0 id", "lock=hardware|legacy arith"]
//	- [nop, "", "90"]
//
// or a TOML file with an array of tables:
//
//	[[instruction]]
//	mnemonic = "add"
//	operands = "r/m32, imm32"
//	encoding = "mi:81 /0 id"
//	metadata = "lock=hardware|legacy arith"
package x86table

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"firefly-os.dev/opcodesdb/internal/x86"
)

//go:embed tables.toml
var tablesTOML []byte

// Default returns a fresh copy of the
// embedded tables.
func Default() (*x86.Tables, error) {
	tables, err := DecodeTables(bytes.NewReader(tablesTOML))
	if err != nil {
		return nil, fmt.Errorf("embedded tables: %v", err)
	}

	return tables, nil
}

// DecodeTables parses a set of tables in
// TOML.
func DecodeTables(r io.Reader) (*x86.Tables, error) {
	var tables x86.Tables
	md, err := toml.NewDecoder(r).Decode(&tables)
	if err != nil {
		return nil, err
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("unrecognised table key %q", undecoded[0].String())
	}

	return &tables, nil
}

// LoadTables reads a set of tables from
// the named TOML file. The empty name
// selects the embedded tables.
func LoadTables(name string) (*x86.Tables, error) {
	if name == "" {
		return Default()
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	tables, err := DecodeTables(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}

	return tables, nil
}

// Format is a catalogue encoding.
type Format uint8

const (
	YAML Format = iota
	TOML
)

func (f Format) String() string {
	switch f {
	case YAML:
		return "yaml"
	case TOML:
		return "toml"
	}

	return fmt.Sprintf("Format(%d)", f)
}

// FormatFor picks the catalogue format
// from a file's extension.
func FormatFor(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}

	return 0, fmt.Errorf("%s: unrecognised catalogue extension", name)
}

type tomlCatalogue struct {
	Instruction []x86.Tuple `toml:"instruction"`
}

// DecodeCatalogue parses a catalogue of
// instruction tuples.
func DecodeCatalogue(r io.Reader, format Format) ([]x86.Tuple, error) {
	switch format {
	case YAML:
		var rows [][]string
		err := yaml.NewDecoder(r).Decode(&rows)
		if err == io.EOF {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		tuples := make([]x86.Tuple, len(rows))
		for i, row := range rows {
			switch len(row) {
			case 4:
				tuples[i].Metadata = row[3]
				fallthrough
			case 3:
				tuples[i].Mnemonic = row[0]
				tuples[i].Operands = row[1]
				tuples[i].Encoding = row[2]
			default:
				return nil, fmt.Errorf("tuple %d: got %d elements, want 3 or 4", i, len(row))
			}
		}

		return tuples, nil
	case TOML:
		var cat tomlCatalogue
		md, err := toml.NewDecoder(r).Decode(&cat)
		if err != nil {
			return nil, err
		}

		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("unrecognised catalogue key %q", undecoded[0].String())
		}

		return cat.Instruction, nil
	}

	return nil, fmt.Errorf("unsupported catalogue format %v", format)
}

// LoadCatalogue reads the named catalogue
// files, in order, and returns their tuples
// concatenated.
func LoadCatalogue(names ...string) ([]x86.Tuple, error) {
	var tuples []x86.Tuple
	for _, name := range names {
		format, err := FormatFor(name)
		if err != nil {
			return nil, err
		}

		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}

		more, err := DecodeCatalogue(bytes.NewReader(data), format)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", name, err)
		}

		tuples = append(tuples, more...)
	}

	return tuples, nil
}

// LoadEnvironment loads the named tables and
// catalogues, then builds the environment.
// The empty tables name selects the embedded
// tables.
func LoadEnvironment(ctx context.Context, tables string, catalogues []string, opts ...x86.Option) (*x86.Environment, error) {
	if len(catalogues) == 0 {
		return nil, fmt.Errorf("no catalogues")
	}

	t, err := LoadTables(tables)
	if err != nil {
		return nil, err
	}

	tuples, err := LoadCatalogue(catalogues...)
	if err != nil {
		return nil, err
	}

	return x86.Build(ctx, t, tuples, opts...)
}

// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package schema prints the JSON schema of the
// records produced by the build command.
package schema

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"firefly-os.dev/opcodesdb/internal/x86"
)

var program = filepath.Base(os.Args[0])

// types lists the values whose schema
// can be printed.
var types = map[string]any{
	"instruction": &x86.Instruction{},
	"tables":      &x86.Tables{},
}

var (
	marshaler = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	encoding  = reflect.TypeOf(x86.Encoding{})
	lockSet   = reflect.TypeOf(x86.LockSet(0))
)

// mapper describes the enumerated types,
// which marshal to their names.
func mapper(t reflect.Type) *jsonschema.Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch {
	case t == encoding:
		return nil
	case t == lockSet:
		return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
	case t.Implements(marshaler) || reflect.PointerTo(t).Implements(marshaler):
		return &jsonschema.Schema{Type: "string"}
	}

	return nil
}

// Schema returns the JSON schema for the
// named type.
func Schema(name string) (*jsonschema.Schema, error) {
	v, ok := types[name]
	if !ok {
		return nil, fmt.Errorf("unrecognised type %q", name)
	}

	reflector := &jsonschema.Reflector{Mapper: mapper}

	return reflector.Reflect(v), nil
}

// Main prints a JSON schema.
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("schema", flag.ExitOnError)

	var help bool
	var name string
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	flags.StringVar(&name, "type", "instruction", "The record type (instruction, tables).")

	flags.Usage = func() {
		log.Printf("Usage:\n  %s %s [OPTIONS]\n\n", program, flags.Name())
		flags.PrintDefaults()
		os.Exit(2)
	}

	err := flags.Parse(args)
	if err != nil || help || flags.NArg() != 0 {
		flags.Usage()
	}

	schema, err := Schema(name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %v", err)
	}

	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

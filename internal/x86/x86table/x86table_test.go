// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86table

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"rsc.io/diff"

	"firefly-os.dev/opcodesdb/internal/x86"
)

func TestDefault(t *testing.T) {
	tables, err := Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}

	syms, err := x86.NewSymbols(tables)
	if err != nil {
		t.Fatalf("NewSymbols(): %v", err)
	}

	if arch := syms.Architecture("x64"); arch == nil || arch.Bits != 64 {
		t.Errorf("Architecture(x64): got %v", arch)
	}

	regs := []struct {
		Name  string
		Class string
		Slot  int
	}{
		{Name: "eax", Class: "r32", Slot: 0},
		{Name: "r15d", Class: "r32", Slot: 15},
		{Name: "spl", Class: "r8x", Slot: 4},
		{Name: "zmm31", Class: "zmm", Slot: 31},
		{Name: "cr8", Class: "creg", Slot: 8},
		{Name: "gs", Class: "sreg", Slot: 5},
	}

	for _, want := range regs {
		reg := syms.Register(want.Name)
		if reg == nil {
			t.Errorf("Register(%s): not found", want.Name)
			continue
		}

		if reg.Class.ID != want.Class || reg.Slot != want.Slot {
			t.Errorf("Register(%s): got %s slot %d, want %s slot %d", want.Name, reg.Class.ID, reg.Slot, want.Class, want.Slot)
		}
	}

	mxcsr := syms.FlagRegister("mxcsr")
	if mxcsr == nil {
		t.Fatalf("FlagRegister(mxcsr): not found")
	}

	if diff := cmp.Diff([]int{13, 14}, mxcsr.Positions("rc")); diff != "" {
		t.Errorf("mxcsr.Positions(rc): (-want, +got)\n%s", diff)
	}

	// Each call must return an independent
	// copy.
	again, err := Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}

	again.Architectures[0].ID = "changed"
	if tables.Architectures[0].ID != "x86" {
		t.Errorf("Default(): copies share state")
	}
}

func TestDecodeTables(t *testing.T) {
	tables, err := DecodeTables(strings.NewReader(`
name = "tiny"
version = "0.1"

[[architecture]]
id = "x64"
bits = 64

[[registerClass]]
id = "r64"
bits = 64
names = ["rax", "rcx"]

[features]
both = ["a", "b"]
`))
	if err != nil {
		t.Fatalf("DecodeTables(): %v", err)
	}

	want := &x86.Tables{
		Name:    "tiny",
		Version: "0.1",
		Architectures: []*x86.Architecture{
			{ID: "x64", Bits: 64},
		},
		RegisterClasses: []*x86.RegisterClass{
			{ID: "r64", Bits: 64, Names: []string{"rax", "rcx"}},
		},
		Features: map[string][]string{
			"both": {"a", "b"},
		},
	}

	if diff := cmp.Diff(want, tables, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("DecodeTables(): (-want, +got)\n%s", diff)
	}

	_, err = DecodeTables(strings.NewReader("colour = \"blue\"\n"))
	if err == nil || !strings.Contains(err.Error(), "colour") {
		t.Fatalf("DecodeTables(): got error %v, want unrecognised key", err)
	}
}

func TestLoadTables(t *testing.T) {
	tables, err := LoadTables("")
	if err != nil {
		t.Fatalf("LoadTables(): %v", err)
	}

	if tables.Name != "x86" {
		t.Fatalf("LoadTables(): got tables %q, want the embedded tables", tables.Name)
	}

	_, err = LoadTables(filepath.Join("testdata", "missing.toml"))
	if err == nil {
		t.Fatalf("LoadTables(missing): got no error")
	}
}

func TestLoadCatalogue(t *testing.T) {
	fromYAML, err := LoadCatalogue(filepath.Join("testdata", "catalogue.yaml"))
	if err != nil {
		t.Fatalf("LoadCatalogue(yaml): %v", err)
	}

	fromTOML, err := LoadCatalogue(filepath.Join("testdata", "catalogue.toml"))
	if err != nil {
		t.Fatalf("LoadCatalogue(toml): %v", err)
	}

	if len(fromYAML) != 14 {
		t.Fatalf("LoadCatalogue(yaml): got %d tuples, want 14", len(fromYAML))
	}

	if diff := cmp.Diff(fromYAML, fromTOML); diff != "" {
		t.Fatalf("LoadCatalogue(): (-yaml, +toml)\n%s", diff)
	}

	want := []x86.Tuple{
		{Mnemonic: "xchg", Operands: "<eax>, <eax>", Encoding: "90"},
		{Mnemonic: "nop", Operands: "", Encoding: "90", Metadata: "form=preferred"},
	}

	if diff := cmp.Diff(want, fromYAML[:2]); diff != "" {
		t.Fatalf("LoadCatalogue(): (-want, +got)\n%s", diff)
	}

	both, err := LoadCatalogue(filepath.Join("testdata", "catalogue.yaml"), filepath.Join("testdata", "catalogue.toml"))
	if err != nil {
		t.Fatalf("LoadCatalogue(yaml, toml): %v", err)
	}

	if len(both) != 28 {
		t.Fatalf("LoadCatalogue(yaml, toml): got %d tuples, want 28", len(both))
	}
}

func TestLoadCatalogueErrors(t *testing.T) {
	tests := []struct {
		Name string
		File string
		Want string
	}{
		{Name: "short tuple", File: "bad.yaml", Want: "tuple 0: got 2 elements"},
		{Name: "extension", File: "catalogue.json", Want: "unrecognised catalogue extension"},
		{Name: "missing", File: "missing.yaml", Want: "missing.yaml"},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			_, err := LoadCatalogue(filepath.Join("testdata", test.File))
			if err == nil {
				t.Fatalf("LoadCatalogue(%s): got no error", test.File)
			}

			if !strings.Contains(err.Error(), test.Want) {
				t.Fatalf("LoadCatalogue(%s): got error %q, want %q", test.File, err, test.Want)
			}
		})
	}
}

func TestFormatFor(t *testing.T) {
	for name, want := range map[string]Format{
		"a.yaml": YAML,
		"a.YML":  YAML,
		"a.toml": TOML,
	} {
		got, err := FormatFor(name)
		if err != nil {
			t.Errorf("FormatFor(%q): %v", name, err)
			continue
		}

		if got != want {
			t.Errorf("FormatFor(%q): got %v, want %v", name, got, want)
		}
	}
}

func TestBuildCatalogue(t *testing.T) {
	// Both encodings of the catalogue must
	// build to the same environment.
	render := func(name string) string {
		tables, err := Default()
		if err != nil {
			t.Fatalf("Default(): %v", err)
		}

		tuples, err := LoadCatalogue(filepath.Join("testdata", name))
		if err != nil {
			t.Fatalf("LoadCatalogue(%s): %v", name, err)
		}

		env, err := x86.Build(context.Background(), tables, tuples)
		if err != nil {
			t.Fatalf("Build(%s): %v", name, err)
		}

		var buf bytes.Buffer
		err = x86.WriteJSON(&buf, env)
		if err != nil {
			t.Fatalf("WriteJSON(%s): %v", name, err)
		}

		return buf.String()
	}

	fromYAML := render("catalogue.yaml")
	fromTOML := render("catalogue.toml")
	if fromYAML != fromTOML {
		t.Fatalf("catalogues differ:\n%s", diff.Format(fromYAML, fromTOML))
	}

	if n := strings.Count(fromYAML, "\n"); n != 14 {
		t.Fatalf("WriteJSON(): got %d records, want 14", n)
	}
}

func TestLoadEnvironment(t *testing.T) {
	ctx := context.Background()
	env, err := LoadEnvironment(ctx, "", []string{filepath.Join("testdata", "catalogue.yaml")}, x86.WithWorkers(1))
	if err != nil {
		t.Fatalf("LoadEnvironment(): %v", err)
	}

	if env.Name != "x86" || len(env.Instructions) != 14 {
		t.Fatalf("LoadEnvironment(): got %q with %d instructions", env.Name, len(env.Instructions))
	}

	// Loading a catalogue twice duplicates
	// every record.
	catalogue := filepath.Join("testdata", "catalogue.toml")
	_, err = LoadEnvironment(ctx, "", []string{catalogue, catalogue})
	if !errors.Is(err, x86.DuplicateDefinition) {
		t.Fatalf("LoadEnvironment(twice): got error %v, want %v", err, x86.DuplicateDefinition)
	}

	if _, err := LoadEnvironment(ctx, "", nil); err == nil {
		t.Fatalf("LoadEnvironment(): got no error with no catalogues")
	}
}

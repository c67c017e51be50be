// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Tables holds the auxiliary tables that
// instruction tuples are resolved against.
// Tables are plain data, typically loaded
// by the x86table package.
type Tables struct {
	Name            string              `toml:"name" json:"name"`
	Version         string              `toml:"version" json:"version"`
	Template        string              `toml:"template" json:"template"` // Default metadata clauses.
	Architectures   []*Architecture     `toml:"architecture" json:"architectures"`
	RegisterClasses []*RegisterClass    `toml:"registerClass" json:"registerClasses"`
	FlagRegisters   []*FlagRegister     `toml:"flagRegister" json:"flagRegisters"`
	Macros          map[string]string   `toml:"macros" json:"macros,omitempty"`   // Shortcut name to metadata clauses.
	Features        map[string][]string `toml:"features" json:"features,omitempty"` // Compound CPUID token to features.
}

// Architecture describes a target
// architecture.
type Architecture struct {
	ID   string `toml:"id" json:"id"`
	Bits int    `toml:"bits" json:"bits"` // Operand and address width.
}

func (a *Architecture) String() string { return a.ID }

// RegisterClass describes a class of
// registers. The index of each name
// is its encoding slot.
type RegisterClass struct {
	ID    string   `toml:"id" json:"id"`
	Bits  int      `toml:"bits" json:"bits"` // Zero for the platform width.
	Arch  string   `toml:"arch" json:"arch,omitempty"` // Any single architecture the class is limited to.
	Names []string `toml:"names" json:"names"`
}

func (c *RegisterClass) String() string { return c.ID }

// Size returns the class's size
// expression.
func (c *RegisterClass) Size() Size {
	if c.Bits == 0 {
		return Size{Kind: SizePlatform}
	}

	return Fixed(c.Bits)
}

// Register identifies a single named
// register within its class.
type Register struct {
	Name  string
	Class *RegisterClass
	Slot  int
}

func (r *Register) String() string    { return r.Name }
func (r *Register) UpperName() string { return strings.ToUpper(r.Name) }

// FlagRegister describes the bit layout
// of a status or control register. The
// index of each bit name is its bit
// position. Reserved bits have an empty
// name and multi-bit fields repeat their
// name.
type FlagRegister struct {
	ID    string   `toml:"id" json:"id"`
	Bits  int      `toml:"bits" json:"bits"`
	Names []string `toml:"names" json:"names"`
}

func (r *FlagRegister) String() string { return r.ID }

// Bit returns the canonical name of the
// given bit, matched without regard to
// case.
func (r *FlagRegister) Bit(name string) (canonical string, ok bool) {
	if name == "" {
		return "", false
	}

	for _, bit := range r.Names {
		if strings.EqualFold(bit, name) {
			return bit, true
		}
	}

	return "", false
}

// Positions returns the bit positions
// occupied by the named bit.
func (r *FlagRegister) Positions(name string) []int {
	var out []int
	for i, bit := range r.Names {
		if bit != "" && bit == name {
			out = append(out, i)
		}
	}

	return out
}

// vectorClasses are the register classes
// that vmm resolves to, by vector length.
var vectorClasses = map[int]string{
	128: "xmm",
	256: "ymm",
	512: "zmm",
}

// Symbols is the compiled, read-only
// form of a set of Tables, which the
// resolvers share. A Symbols is safe
// for concurrent use.
type Symbols struct {
	tables    *Tables
	archs     map[string]*Architecture
	classes   map[string]*RegisterClass
	registers map[string]*Register
	flags     map[string]*FlagRegister
	macros    map[string]string
	features  map[string][]string
	template  *Metadata
}

// NewSymbols checks and indexes the
// given tables. Any problems are
// reported as InvalidTables errors.
func NewSymbols(t *Tables) (*Symbols, error) {
	if t == nil {
		return nil, Errors{Errorf(InvalidTables, "", "no tables")}
	}

	s := &Symbols{
		tables:    t,
		archs:     make(map[string]*Architecture),
		classes:   make(map[string]*RegisterClass),
		registers: make(map[string]*Register),
		flags:     make(map[string]*FlagRegister),
		macros:    make(map[string]string),
		features:  make(map[string][]string),
	}

	var errs Errors
	invalid := func(clause, format string, v ...any) {
		errs = append(errs, Errorf(InvalidTables, clause, format, v...))
	}

	if t.Version != "" && !semver.IsValid(canonicalVersion(t.Version)) {
		invalid(t.Version, "version is not a semantic version")
	}

	if len(t.Architectures) == 0 {
		invalid("", "no architectures")
	}

	for _, arch := range t.Architectures {
		switch {
		case arch.ID == "":
			invalid("", "architecture has no id")
		case s.archs[arch.ID] != nil:
			invalid(arch.ID, "duplicate architecture")
		case arch.Bits != 32 && arch.Bits != 64:
			invalid(arch.ID, "architecture width %d is not 32 or 64", arch.Bits)
		default:
			s.archs[arch.ID] = arch
		}
	}

	for _, class := range t.RegisterClasses {
		switch {
		case class.ID == "":
			invalid("", "register class has no id")
			continue
		case s.classes[class.ID] != nil:
			invalid(class.ID, "duplicate register class")
			continue
		case class.Bits < 0:
			invalid(class.ID, "negative register width %d", class.Bits)
			continue
		case class.Arch != "" && s.archs[class.Arch] == nil:
			invalid(class.ID, "register class refers to unknown architecture %q", class.Arch)
			continue
		}

		s.classes[class.ID] = class
		for slot, name := range class.Names {
			if name == "" {
				invalid(class.ID, "register class has an empty register name at slot %d", slot)
				continue
			}

			// A register may appear in more
			// than one class (al is in r8 and
			// r8x); the first class wins.
			if s.registers[name] == nil {
				s.registers[name] = &Register{Name: name, Class: class, Slot: slot}
			}
		}
	}

	for _, reg := range t.FlagRegisters {
		switch {
		case reg.ID == "":
			invalid("", "flag register has no id")
		case s.flags[reg.ID] != nil:
			invalid(reg.ID, "duplicate flag register")
		case len(reg.Names) != reg.Bits:
			invalid(reg.ID, "flag register has %d bit names for %d bits", len(reg.Names), reg.Bits)
		default:
			s.flags[reg.ID] = reg
		}
	}

	for name, clauses := range t.Macros {
		if name == "" || strings.ContainsAny(name, "= \t") {
			invalid(name, "invalid macro name")
			continue
		}

		s.macros[name] = clauses
	}

	for token, features := range t.Features {
		if token == "" || len(features) == 0 {
			invalid(token, "feature alias has no features")
			continue
		}

		s.features[token] = features
	}

	if len(errs) != 0 {
		return nil, errs
	}

	// The template is resolved against
	// everything else, so it comes last.
	template, err := parseMetadata(t.Template, s, defaultMetadata())
	if err != nil {
		for _, e := range errorList(err) {
			e.Kind = InvalidTables
			e.Err = "template: " + e.Err
			errs = append(errs, e)
		}

		return nil, errs
	}

	s.template = template

	return s, nil
}

// canonicalVersion adds the leading v
// that semver expects.
func canonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}

	return "v" + v
}

// Tables returns the tables s was
// compiled from.
func (s *Symbols) Tables() *Tables { return s.tables }

// Template returns the resolved default
// metadata.
func (s *Symbols) Template() *Metadata { return s.template.clone() }

// Architecture returns the architecture
// with the given id, or nil.
func (s *Symbols) Architecture(id string) *Architecture { return s.archs[id] }

// RegisterClass returns the register
// class with the given id, or nil.
func (s *Symbols) RegisterClass(id string) *RegisterClass { return s.classes[id] }

// Register returns the named register,
// or nil.
func (s *Symbols) Register(name string) *Register { return s.registers[name] }

// FlagRegister returns the flag register
// with the given id, or nil.
func (s *Symbols) FlagRegister(id string) *FlagRegister { return s.flags[id] }

// archIDs returns the ids of every
// architecture, in table order.
func (s *Symbols) archIDs() []string {
	out := make([]string, len(s.tables.Architectures))
	for i, arch := range s.tables.Architectures {
		out[i] = arch.ID
	}

	return out
}

// family returns the registers in the
// same slot as the named 16-bit register
// across the 16, 32, and 64-bit classes.
func (s *Symbols) family(name string) ([]*Register, error) {
	reg := s.registers[name]
	if reg == nil || reg.Class.ID != "r16" {
		return nil, fmt.Errorf("%q is not a 16-bit general purpose register", name)
	}

	var out []*Register
	for _, id := range []string{"r16", "r32", "r64"} {
		class := s.classes[id]
		if class == nil || reg.Slot >= len(class.Names) {
			continue
		}

		out = append(out, s.registers[class.Names[reg.Slot]])
	}

	return out, nil
}

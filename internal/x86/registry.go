// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Environment is the immutable result of a
// successful Build: the instruction set and
// the tables it was resolved against.
type Environment struct {
	Name            string              `json:"name"`
	Version         string              `json:"version"`
	Architectures   []*Architecture     `json:"architectures"`
	RegisterClasses []*RegisterClass    `json:"registerClasses"`
	FlagRegisters   []*FlagRegister     `json:"flagRegisters"`
	Template        *Metadata           `json:"template"`
	Macros          map[string]string   `json:"macros,omitempty"`
	Features        map[string][]string `json:"features,omitempty"`
	Instructions    []*Instruction      `json:"instructions"`

	syms       *Symbols
	byMnemonic map[string][]*Instruction
	byOpcode   map[OpcodeKey][]*Instruction
	byFeature  map[string][]*Instruction
}

// OpcodeKey identifies an opcode byte in
// an opcode map on an architecture.
type OpcodeKey struct {
	Arch   string
	Map    OpcodeMap
	Opcode byte
}

func (k OpcodeKey) String() string {
	return fmt.Sprintf("%s:%s:%02x", k.Arch, k.Map, k.Opcode)
}

// shapeKey identifies instructions that
// would be indistinguishable to an
// assembler.
type shapeKey struct {
	Mnemonic string
	Shape    string
	Arch     string
}

// newEnvironment performs the whole-set
// checks and builds the indices.
func newEnvironment(syms *Symbols, insts []*Instruction) (*Environment, Errors) {
	t := syms.Tables()
	env := &Environment{
		Name:            t.Name,
		Version:         t.Version,
		Architectures:   t.Architectures,
		RegisterClasses: t.RegisterClasses,
		FlagRegisters:   t.FlagRegisters,
		Template:        syms.Template(),
		Macros:          maps.Clone(syms.macros),
		Features:        maps.Clone(syms.features),
		Instructions:    insts,
		syms:            syms,
		byMnemonic:      make(map[string][]*Instruction),
		byOpcode:        make(map[OpcodeKey][]*Instruction),
		byFeature:       make(map[string][]*Instruction),
	}

	for _, inst := range insts {
		env.byMnemonic[inst.Mnemonic] = append(env.byMnemonic[inst.Mnemonic], inst)
	}

	var errs Errors
	errs = append(errs, checkDuplicates(insts)...)
	errs = append(errs, checkAliases(insts, env.byMnemonic)...)
	if len(errs) != 0 {
		return nil, errs
	}

	for _, inst := range insts {
		enc := inst.Encoding
		opcodes := []byte{enc.Opcode}
		if enc.AddendIndex() == enc.OpcodeIndex {
			opcodes = opcodes[:0]
			for i := 0; i < 8; i++ {
				opcodes = append(opcodes, enc.Opcode+byte(i))
			}
		}

		for _, arch := range enc.Archs {
			for _, opcode := range opcodes {
				key := OpcodeKey{Arch: arch, Map: enc.Map, Opcode: opcode}
				env.byOpcode[key] = append(env.byOpcode[key], inst)
			}
		}

		for _, feature := range env.expandFeatures(inst.Metadata.CPUID.Features()) {
			env.byFeature[feature] = append(env.byFeature[feature], inst)
		}
	}

	for _, insts := range env.byOpcode {
		SortCandidates(insts)
	}

	return env, nil
}

// checkDuplicates checks that instructions
// sharing a mnemonic, operand shape, and
// architecture are distinguished by their
// form tags. Every untagged member of such
// a group is a duplicate, as is any reuse
// of a form value.
func checkDuplicates(insts []*Instruction) Errors {
	var keys []shapeKey
	groups := make(map[shapeKey][]*Instruction)
	for _, inst := range insts {
		shapes := make([]string, len(inst.Operands))
		for i, op := range inst.Operands {
			shapes[i] = op.Shape()
		}

		shape := strings.Join(shapes, ", ")
		for _, arch := range inst.Encoding.Archs {
			key := shapeKey{Mnemonic: inst.Mnemonic, Shape: shape, Arch: arch}
			if groups[key] == nil {
				keys = append(keys, key)
			}

			groups[key] = append(groups[key], inst)
		}
	}

	// Each instruction is blamed once, on
	// the first clash found.
	clashes := make(map[*Instruction]*Instruction)
	for _, key := range keys {
		members := groups[key]
		if len(members) < 2 {
			continue
		}

		forms := make(map[FormTag]*Instruction)
		for _, inst := range members {
			form := inst.Metadata.Form
			var clash *Instruction
			switch {
			case form == FormNone:
				clash = members[0]
				if clash == inst {
					clash = members[1]
				}
			case forms[form] != nil:
				clash = forms[form]
			default:
				forms[form] = inst
			}

			if clash != nil && clashes[inst] == nil {
				clashes[inst] = clash
			}
		}
	}

	var errs Errors
	for _, inst := range insts {
		clash := clashes[inst]
		if clash == nil {
			continue
		}

		err := Errorf(DuplicateDefinition, inst.Metadata.Form.String(), "%s duplicates tuple %d (%s)", summary(inst), clash.Index, summary(clash))
		errs = append(errs, Errors{err}.within(inst.Index, inst.Mnemonic, FieldNone)...)
	}

	return errs
}

// checkAliases checks that every alias
// refers to another instruction.
func checkAliases(insts []*Instruction, byMnemonic map[string][]*Instruction) Errors {
	var errs Errors
	for _, inst := range insts {
		target := inst.Metadata.AliasOf
		if target == "" {
			continue
		}

		found := false
		for _, other := range byMnemonic[target] {
			if other != inst {
				found = true
				break
			}
		}

		if !found {
			err := Errorf(DanglingAlias, "aliasOf="+target, "no other instruction has mnemonic %q", target)
			errs = append(errs, Errors{err}.within(inst.Index, inst.Mnemonic, FieldMetadata)...)
		}
	}

	return errs
}

// expandFeatures replaces any compound
// CPUID tokens with the features they
// stand for, keeping the compound token
// too.
func (env *Environment) expandFeatures(features []string) []string {
	var out []string
	var walk func(feature string, depth int)
	walk = func(feature string, depth int) {
		if slices.Contains(out, feature) {
			return
		}

		out = append(out, feature)
		if depth > len(env.Features) {
			return
		}

		for _, member := range env.Features[feature] {
			walk(member, depth+1)
		}
	}

	for _, feature := range features {
		walk(feature, 0)
	}

	return out
}

// Lookup returns the instructions with the
// given mnemonic, in input order.
func (env *Environment) Lookup(mnemonic string) []*Instruction {
	return slices.Clone(env.byMnemonic[strings.ToLower(mnemonic)])
}

// Mnemonics returns every mnemonic, sorted.
func (env *Environment) Mnemonics() []string {
	out := maps.Keys(env.byMnemonic)
	slices.Sort(out)

	return out
}

// Decode returns the instructions whose
// primary opcode byte is the given byte
// in the given map, preferred forms first.
func (env *Environment) Decode(arch string, m OpcodeMap, opcode byte) []*Instruction {
	return slices.Clone(env.byOpcode[OpcodeKey{Arch: arch, Map: m, Opcode: opcode}])
}

// Match returns the legacy instructions
// whose encodings match the machine code,
// preferred forms first.
func (env *Environment) Match(arch string, code []byte) []*Instruction {
	var out []*Instruction
	seen := make(map[*Instruction]bool)
	for _, insts := range env.byOpcode {
		for _, inst := range insts {
			if seen[inst] || !inst.Supports(arch) {
				continue
			}

			seen[inst] = true
			if inst.Encoding.MatchesMachineCode(code) == Match {
				out = append(out, inst)
			}
		}
	}

	SortCandidates(out)

	return out
}

// OpcodeKeys returns every populated
// opcode key, sorted.
func (env *Environment) OpcodeKeys() []OpcodeKey {
	out := maps.Keys(env.byOpcode)
	slices.SortFunc(out, func(a, b OpcodeKey) int {
		switch {
		case a.Arch != b.Arch:
			return strings.Compare(a.Arch, b.Arch)
		case a.Map != b.Map:
			return int(a.Map) - int(b.Map)
		}

		return int(a.Opcode) - int(b.Opcode)
	})

	return out
}

// WithFeature returns the instructions whose
// CPUID requirement mentions the feature,
// directly or through a feature alias.
func (env *Environment) WithFeature(feature string) []*Instruction {
	return slices.Clone(env.byFeature[feature])
}

// FeatureNames returns every CPUID feature
// mentioned by an instruction, sorted.
func (env *Environment) FeatureNames() []string {
	out := maps.Keys(env.byFeature)
	slices.Sort(out)

	return out
}

// Supports reports whether inst can be used
// on a processor with the given features.
// Compound tokens are satisfied either
// directly or by all of the features they
// stand for.
func (env *Environment) Supports(inst *Instruction, features []string) bool {
	have := make(map[string]bool, len(features))
	for _, feature := range features {
		have[feature] = true
	}

	var has func(feature string, depth int) bool
	has = func(feature string, depth int) bool {
		if have[feature] {
			return true
		}

		members := env.Features[feature]
		if len(members) == 0 || depth > len(env.Features) {
			return false
		}

		for _, member := range members {
			if !has(member, depth+1) {
				return false
			}
		}

		return true
	}

	return inst.Metadata.CPUID.Eval(func(feature string) bool {
		return has(feature, 0)
	})
}

// Architecture returns the architecture
// with the given id, or nil.
func (env *Environment) Architecture(id string) *Architecture {
	return env.syms.Architecture(id)
}

// RegisterClass returns the register class
// with the given id, or nil.
func (env *Environment) RegisterClass(id string) *RegisterClass {
	return env.syms.RegisterClass(id)
}

// Register returns the named register, or
// nil.
func (env *Environment) Register(name string) *Register {
	return env.syms.Register(name)
}

// FlagRegister returns the flag register
// with the given id, or nil.
func (env *Environment) FlagRegister(id string) *FlagRegister {
	return env.syms.FlagRegister(id)
}

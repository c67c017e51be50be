// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Metadata holds the descriptive properties
// of an instruction.
type Metadata struct {
	CPUID        CPUID                  `json:"cpuid,omitempty"`        // The CPUID features required.
	Lock         LockSet                `json:"lock,omitempty"`         // The ways the instruction may be locked.
	Level        int                    `json:"level"`                  // The privilege level required (0-3).
	Branch       BranchType             `json:"branchType"`             // Any control flow change.
	StackPtr     *Delta                 `json:"stackPtr,omitempty"`     // Any change to the stack pointer.
	FPUStackPtr  *Delta                 `json:"fpuStackPtr,omitempty"`  // Any change to the x87 stack top.
	AliasOf      string                 `json:"aliasOf,omitempty"`      // Any mnemonic this is an alias of.
	Form         FormTag                `json:"form,omitempty"`         // Any preferred or alternative tag.
	Vendor       string                 `json:"vendor,omitempty"`       // Any vendor the instruction is limited to.
	Deprecated   bool                   `json:"deprecated,omitempty"`   // Whether the instruction is deprecated.
	Abandoned    bool                   `json:"abandoned,omitempty"`    // Whether the extension was abandoned.
	Undocumented bool                   `json:"undocumented,omitempty"` // Whether the instruction is undocumented.
	BND          bool                   `json:"bnd,omitempty"`          // Whether a BND prefix is allowed.
	Rep          bool                   `json:"rep,omitempty"`          // Whether a REP prefix is allowed.
	RepE         bool                   `json:"repe,omitempty"`         // Whether a REPE prefix is allowed.
	RepNE        bool                   `json:"repne,omitempty"`        // Whether a REPNE prefix is allowed.
	Flags        map[string]FlagEffects `json:"flags,omitempty"`        // Flag register id to effects.
}

// FlagEffects maps bit names to their
// effects.
type FlagEffects map[string]Effect

// defaultMetadata returns the values that
// apply before the template.
func defaultMetadata() *Metadata {
	return &Metadata{Level: 3, Branch: BranchNone}
}

// Effect returns the effect on the named
// bit of the given flag register.
func (m *Metadata) Effect(reg, bit string) Effect {
	return m.Flags[reg][bit]
}

func (m *Metadata) clone() *Metadata {
	out := *m
	if m.CPUID != nil {
		out.CPUID = make(CPUID, len(m.CPUID))
		for i, all := range m.CPUID {
			out.CPUID[i] = slices.Clone(all)
		}
	}

	if m.StackPtr != nil {
		delta := *m.StackPtr
		out.StackPtr = &delta
	}

	if m.FPUStackPtr != nil {
		delta := *m.FPUStackPtr
		out.FPUStackPtr = &delta
	}

	out.Flags = nil
	if m.Flags != nil {
		out.Flags = make(map[string]FlagEffects, len(m.Flags))
		for reg, effects := range m.Flags {
			out.Flags[reg] = maps.Clone(effects)
		}
	}

	return &out
}

// Effect describes what an instruction does
// to a flag bit.
type Effect uint8

const (
	EffectUnspecified Effect = iota
	EffectTest               // T
	EffectModify             // M
	EffectClear              // C
	EffectSet                // S
	EffectUndefined          // U
	EffectNone               // N
	EffectTestModify         // X
)

var Effects = map[string]Effect{
	"T": EffectTest,
	"M": EffectModify,
	"C": EffectClear,
	"S": EffectSet,
	"U": EffectUndefined,
	"N": EffectNone,
	"X": EffectTestModify,
}

func (e Effect) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *Effect) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	got, ok := Effects[s]
	if !ok {
		return fmt.Errorf("invalid flag effect %q", s)
	}

	*e = got

	return nil
}

func (e Effect) String() string {
	switch e {
	case EffectUnspecified:
		return ""
	case EffectTest:
		return "T"
	case EffectModify:
		return "M"
	case EffectClear:
		return "C"
	case EffectSet:
		return "S"
	case EffectUndefined:
		return "U"
	case EffectNone:
		return "N"
	case EffectTestModify:
		return "X"
	default:
		return fmt.Sprintf("Effect(%d)", e)
	}
}

// LockSet is the set of ways an instruction
// can be locked.
type LockSet uint8

const (
	LockHardware LockSet = 1 << iota
	LockLegacy
	LockImplied
	LockExplicit
	LockIgnore
)

var LockSets = map[string]LockSet{
	"hardware": LockHardware,
	"legacy":   LockLegacy,
	"implied":  LockImplied,
	"explicit": LockExplicit,
	"ignore":   LockIgnore,
}

var lockOrder = []string{"hardware", "legacy", "implied", "explicit", "ignore"}

// Names returns the names of the locks
// in the set, in a fixed order.
func (l LockSet) Names() []string {
	var out []string
	for _, name := range lockOrder {
		if l&LockSets[name] != 0 {
			out = append(out, name)
		}
	}

	return out
}

func (l LockSet) String() string {
	return strings.Join(l.Names(), "|")
}

func (l LockSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Names())
}

// BranchType describes an instruction's
// control flow.
type BranchType uint8

const (
	BranchNone BranchType = iota
	BranchShort
	BranchNear
	BranchFar
)

var BranchTypes = map[string]BranchType{
	"none":  BranchNone,
	"short": BranchShort,
	"near":  BranchNear,
	"far":   BranchFar,
}

func (b BranchType) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b BranchType) String() string {
	switch b {
	case BranchNone:
		return "none"
	case BranchShort:
		return "short"
	case BranchNear:
		return "near"
	case BranchFar:
		return "far"
	default:
		return fmt.Sprintf("BranchType(%d)", b)
	}
}

// FormTag distinguishes the preferred
// encoding of an instruction from its
// alternatives.
type FormTag uint8

const (
	FormNone FormTag = iota
	FormPreferred
	FormAlternative
)

var FormTags = map[string]FormTag{
	"preferred":   FormPreferred,
	"alternative": FormAlternative,
}

func (f FormTag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f FormTag) String() string {
	switch f {
	case FormNone:
		return ""
	case FormPreferred:
		return "preferred"
	case FormAlternative:
		return "alternative"
	default:
		return fmt.Sprintf("FormTag(%d)", f)
	}
}

// Delta is a change to a stack pointer:
// a constant plus a multiple of the
// operand size in bytes.
type Delta struct {
	Const int `json:"const,omitempty"`
	OS    int `json:"os,omitempty"` // The multiple of the operand size.
}

// Bytes returns the change, given the
// operand size in bytes.
func (d Delta) Bytes(operandSize int) int {
	return d.Const + d.OS*operandSize
}

func (d Delta) String() string {
	var b strings.Builder
	term := func(n int, unit string) {
		switch {
		case n < 0:
			b.WriteByte('-')
			n = -n
		case b.Len() > 0:
			b.WriteByte('+')
		}

		switch {
		case unit == "":
			b.WriteString(strconv.Itoa(n))
		case n == 1:
			b.WriteString(unit)
		default:
			fmt.Fprintf(&b, "%d*%s", n, unit)
		}
	}

	if d.OS != 0 {
		term(d.OS, "os")
	}

	if d.Const != 0 || d.OS == 0 {
		term(d.Const, "")
	}

	return b.String()
}

// ParseDelta parses a stack pointer delta,
// such as -os, +2*os, -8, or -os+8.
func ParseDelta(s string) (*Delta, error) {
	if s == "" {
		return nil, fmt.Errorf("empty delta")
	}

	d := new(Delta)
	rest := s
	for rest != "" {
		sign := 1
		switch rest[0] {
		case '-':
			sign = -1
			rest = rest[1:]
		case '+':
			rest = rest[1:]
		default:
			if rest != s {
				return nil, fmt.Errorf("missing sign in %q", s)
			}
		}

		end := strings.IndexAny(rest, "+-")
		if end < 0 {
			end = len(rest)
		}

		term := rest[:end]
		rest = rest[end:]
		factor, unit, isMultiple := strings.Cut(term, "*")
		switch {
		case term == "os":
			d.OS += sign
		case isMultiple && unit == "os" && isDigits(factor):
			n, _ := strconv.Atoi(factor)
			d.OS += sign * n
		case isDigits(term):
			n, _ := strconv.Atoi(term)
			d.Const += sign * n
		default:
			return nil, fmt.Errorf("invalid term %q", term)
		}
	}

	return d, nil
}

// CPUID is a CPUID requirement: a disjunction
// of conjunctions of feature tokens. An empty
// CPUID has no requirements.
type CPUID [][]string

// ParseCPUID parses a CPUID expression, where
// '|' separates alternatives and '+' joins the
// features of an alternative.
func ParseCPUID(s string) (CPUID, error) {
	var out CPUID
	for _, alt := range strings.Split(s, "|") {
		var all []string
		for _, feature := range strings.Split(alt, "+") {
			if !validFeature(feature) {
				return nil, fmt.Errorf("invalid feature %q", feature)
			}

			all = append(all, feature)
		}

		out = append(out, all)
	}

	return out, nil
}

func validFeature(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z',
			'A' <= r && r <= 'Z',
			'0' <= r && r <= '9',
			r == '_', r == '-', r == '.':
		default:
			return false
		}
	}

	return true
}

func (c CPUID) String() string {
	alts := make([]string, len(c))
	for i, all := range c {
		alts[i] = strings.Join(all, "+")
	}

	return strings.Join(alts, "|")
}

// Features returns every feature token in
// the expression, without duplicates.
func (c CPUID) Features() []string {
	var out []string
	for _, all := range c {
		for _, feature := range all {
			if !slices.Contains(out, feature) {
				out = append(out, feature)
			}
		}
	}

	return out
}

// Eval reports whether the requirement is
// met, given a predicate for single tokens.
func (c CPUID) Eval(has func(feature string) bool) bool {
	if len(c) == 0 {
		return true
	}

	for _, all := range c {
		ok := true
		for _, feature := range all {
			if !has(feature) {
				ok = false
				break
			}
		}

		if ok {
			return true
		}
	}

	return false
}

// metadataKeys lists the keys of key=value
// clauses.
var metadataKeys = []string{
	"cpuid",
	"level",
	"branchType",
	"stackPtr",
	"fpuStackPtr",
	"aliasOf",
	"form",
	"lock",
	"vendor",
}

// ParseMetadata parses a metadata string,
// starting from the template held in syms.
// Shortcut macros are expanded first. All
// problems are reported.
func ParseMetadata(s string, syms *Symbols) (*Metadata, error) {
	return parseMetadata(s, syms, syms.template)
}

func parseMetadata(s string, syms *Symbols, base *Metadata) (*Metadata, error) {
	fields, err := Fields(s)
	if err != nil {
		return nil, err
	}

	clauses, err := syms.expand(fields, nil)
	if err != nil {
		return nil, err
	}

	md := base.clone()
	var errs Errors
	seen := make(map[string]string)
	for _, clause := range clauses {
		key, _, _ := strings.Cut(clause, "=")
		if prev, ok := seen[key]; ok {
			errs = append(errs, Errorf(MalformedField, clause, "repeats clause %q", prev))
			continue
		}

		seen[key] = clause
		if err := syms.applyClause(md, clause); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return nil, errs
	}

	return md, nil
}

// expand replaces shortcut macros with
// their clauses, recursively. The stack
// holds the macros being expanded.
func (s *Symbols) expand(clauses, stack []string) ([]string, error) {
	var out []string
	for _, clause := range clauses {
		body, ok := s.macros[clause]
		if !ok {
			out = append(out, clause)
			continue
		}

		path := append(slices.Clone(stack), clause)
		if slices.Contains(stack, clause) {
			return nil, Errorf(MacroCycle, clause, "%s", strings.Join(path, " -> "))
		}

		expanded, err := s.expand(strings.Fields(body), path)
		if err != nil {
			return nil, err
		}

		out = append(out, expanded...)
	}

	return out, nil
}

// applyClause applies a single metadata
// clause to md.
func (s *Symbols) applyClause(md *Metadata, clause string) *Error {
	key, value, isPair := strings.Cut(clause, "=")
	if !isPair {
		switch clause {
		case "deprecated":
			md.Deprecated = true
		case "abandoned":
			md.Abandoned = true
		case "undocumented":
			md.Undocumented = true
		case "bnd":
			md.BND = true
		case "rep":
			md.Rep = true
		case "repe":
			md.RepE = true
		case "repne":
			md.RepNE = true
		default:
			return Errorf(UnknownMetadataKey, clause, "unknown flag")
		}

		return nil
	}

	badValue := func(format string, v ...any) *Error {
		return Errorf(UnknownMetadataKey, clause, "invalid %s value: %s", key, fmt.Sprintf(format, v...))
	}

	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return s.applyFlag(md, clause, key[:i], key[i+1:], value)
	}

	if value == "" && key != "aliasOf" {
		return badValue("empty")
	}

	switch key {
	case "cpuid":
		cpuid, err := ParseCPUID(value)
		if err != nil {
			return badValue("%v", err)
		}

		md.CPUID = cpuid
	case "level":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 3 {
			return badValue("must be 0 to 3")
		}

		md.Level = n
	case "branchType":
		branch, ok := BranchTypes[value]
		if !ok {
			return badValue("unknown branch type %q", value)
		}

		md.Branch = branch
	case "stackPtr", "fpuStackPtr":
		delta, err := ParseDelta(value)
		if err != nil {
			return badValue("%v", err)
		}

		if key == "stackPtr" {
			md.StackPtr = delta
		} else {
			md.FPUStackPtr = delta
		}
	case "aliasOf":
		if value == "" {
			return badValue("empty")
		}

		md.AliasOf = value
	case "form":
		form, ok := FormTags[value]
		if !ok {
			return badValue("unknown form %q", value)
		}

		md.Form = form
	case "lock":
		var set LockSet
		for _, name := range strings.Split(value, "|") {
			lock, ok := LockSets[name]
			if !ok {
				return badValue("unknown lock attribute %q", name)
			}

			set |= lock
		}

		md.Lock = set
	case "vendor":
		switch value {
		case "intel", "amd":
		default:
			return badValue("unknown vendor %q", value)
		}

		md.Vendor = value
	default:
		return Errorf(UnknownMetadataKey, clause, "unknown key %q, want one of %s", key, strings.Join(metadataKeys, ", "))
	}

	return nil
}

// applyFlag applies a flag register effect
// clause, such as eflags.cf=M.
func (s *Symbols) applyFlag(md *Metadata, clause, reg, bit, value string) *Error {
	flags := s.FlagRegister(reg)
	if flags == nil {
		return Errorf(UnknownMetadataKey, clause, "unknown flag register %q", reg)
	}

	name, ok := flags.Bit(bit)
	if !ok {
		return Errorf(UnknownFlagBit, clause, "%s has no bit %q", reg, bit)
	}

	effect, ok := Effects[value]
	if !ok {
		return Errorf(UnknownMetadataKey, clause, "invalid flag effect %q", value)
	}

	if md.Flags == nil {
		md.Flags = make(map[string]FlagEffects)
	}

	if md.Flags[reg] == nil {
		md.Flags[reg] = make(FlagEffects)
	}

	md.Flags[reg][name] = effect

	return nil
}

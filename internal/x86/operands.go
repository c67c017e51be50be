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

	"golang.org/x/exp/slices"
)

// Operand describes one operand to an instruction.
type Operand struct {
	Access    Access `json:"access"`              // How the operand is accessed.
	Explicit  bool   `json:"explicit,omitempty"`  // Whether the access mode was written out.
	Implicit  bool   `json:"implicit,omitempty"`  // Whether the operand is implied and not written.
	Forms     []Form `json:"forms"`               // The alternative forms the operand can take.
	Broadcast int    `json:"broadcast,omitempty"` // Any broadcast element size in bits.
	Mask      Mask   `json:"mask,omitempty"`      // Any opmask support.
	Rounding  bool   `json:"rounding,omitempty"`  // Embedded rounding control.
	SAE       bool   `json:"sae,omitempty"`       // Suppress all exceptions.
	Dup       bool   `json:"dup,omitempty"`       // Duplicate fill.
}

// String returns the operand's canonical
// token.
func (op *Operand) String() string {
	if !op.Explicit {
		return op.Shape()
	}

	return op.Access.prefix() + op.Shape()
}

// Shape returns the canonical token without
// any access mode.
func (op *Operand) Shape() string {
	alts := make([]string, 0, len(op.Forms)+1)
	for _, form := range op.Forms {
		alts = append(alts, form.String())
	}

	if op.Broadcast != 0 {
		alts = append(alts, "b"+strconv.Itoa(op.Broadcast))
	}

	body := strings.Join(alts, "/")
	if op.Implicit {
		body = "<" + body + ">"
	}

	var b strings.Builder
	b.WriteString(body)
	switch op.Mask {
	case MaskMerge:
		b.WriteString(" {k}")
	case MaskZero:
		b.WriteString(" {kz}")
	}

	if op.Rounding {
		b.WriteString(" {er}")
	}

	if op.SAE {
		b.WriteString(" {sae}")
	}

	if op.Dup {
		b.WriteString(" {dup}")
	}

	return b.String()
}

// HasMemory returns whether any of the
// operand's forms refers to memory.
func (op *Operand) HasMemory() bool {
	for _, form := range op.Forms {
		if form.Class.Memory() {
			return true
		}
	}

	return op.Broadcast != 0
}

// HasAddressable returns whether any of
// the operand's forms is a memory operand
// addressed through the ModR/M byte.
func (op *Operand) HasAddressable() bool {
	for _, form := range op.Forms {
		if form.Class.Addressable() {
			return true
		}
	}

	return op.Broadcast != 0
}

// HasRegister returns whether any of the
// operand's forms is a register.
func (op *Operand) HasRegister() bool {
	for _, form := range op.Forms {
		if form.Class == ClassRegister || form.Class == ClassFixedRegister {
			return true
		}
	}

	return false
}

// Form returns the first form of the given
// class, or nil.
func (op *Operand) Form(class Class) *Form {
	for i := range op.Forms {
		if op.Forms[i].Class == class {
			return &op.Forms[i]
		}
	}

	return nil
}

// Form is one alternative of an operand.
type Form struct {
	Class     Class  `json:"class"`
	Size      Size   `json:"size"`
	Register  string `json:"register,omitempty"`  // Register class, register name, or VSIB index class.
	Segment   string `json:"segment,omitempty"`   // Any segment of an implicit memory operand.
	Family    bool   `json:"family,omitempty"`    // Whether Register stands for its 16/32/64-bit family.
	Index     Size   `json:"index"`               // The index register width of a VSIB operand.
	Parts     []int  `json:"parts,omitempty"`     // The component sizes of a far or dual operand.
	Value     int    `json:"value,omitempty"`     // The value of a constant.
	PrintOnly bool   `json:"printOnly,omitempty"` // Whether an immediate is printed but not encoded.
}

func (f *Form) String() string {
	switch f.Class {
	case ClassRegister:
		if f.Register == "vmm" {
			return "vmm" + f.Size.suffix()
		}

		return f.Register
	case ClassFixedRegister:
		if f.Family {
			return "*" + f.Register
		}

		return f.Register
	case ClassMemory:
		switch f.Size.Kind {
		case SizeNone:
			return "mem"
		case SizeVector, SizeVectorLow:
			return "vm" + f.Size.suffix()
		}

		return fmt.Sprintf("m%d", f.Size.Bits)
	case ClassFarMemory:
		return fmt.Sprintf("m%d:%d", f.Parts[0], f.Parts[1])
	case ClassDualMemory:
		return fmt.Sprintf("m%d&%d", f.Parts[0], f.Parts[1])
	case ClassVSIB:
		return fmt.Sprintf("vm%d%c", f.Size.Bits, f.Index.vsibLetter())
	case ClassImmediate:
		if f.PrintOnly {
			return fmt.Sprintf("pimm%d", f.Size.Bits)
		}

		return fmt.Sprintf("imm%d", f.Size.Bits)
	case ClassConstant:
		return strconv.Itoa(f.Value)
	case ClassRelative:
		return fmt.Sprintf("rel%d", f.Size.Bits)
	case ClassMemoryOffset:
		return fmt.Sprintf("moffs%d", f.Size.Bits)
	case ClassFarPointer:
		return fmt.Sprintf("ptr%d:%d", f.Parts[0], f.Parts[1])
	case ClassImplicitMemory:
		var b strings.Builder
		if f.Size.Kind == SizeFixed {
			fmt.Fprintf(&b, "m%d", f.Size.Bits)
		}

		b.WriteByte('[')
		if f.Segment != "" {
			b.WriteString(f.Segment)
			b.WriteByte(':')
		}

		if f.Family {
			b.WriteByte('*')
		}

		b.WriteString(f.Register)
		b.WriteByte(']')

		return b.String()
	default:
		return fmt.Sprintf("Class(%d)", f.Class)
	}
}

// Class categorises an operand form.
type Class uint8

const (
	_                   Class = iota
	ClassRegister             // A register from a register class.
	ClassFixedRegister        // A specific named register.
	ClassMemory               // A memory address expression.
	ClassFarMemory            // A memory far pointer (m16:32).
	ClassDualMemory           // A pair of memory values (m16&32).
	ClassVSIB                 // A vector SIB memory expression.
	ClassImmediate            // An integer literal.
	ClassConstant             // A fixed integer value.
	ClassRelative             // An address offset from the instruction pointer.
	ClassMemoryOffset         // A memory offset expression.
	ClassFarPointer           // A segment selector and absolute address pair.
	ClassImplicitMemory       // A memory address held in a fixed register.
)

var Classes = map[string]Class{
	"register":         ClassRegister,
	"fixed register":   ClassFixedRegister,
	"memory":           ClassMemory,
	"far memory":       ClassFarMemory,
	"dual memory":      ClassDualMemory,
	"vsib":             ClassVSIB,
	"immediate":        ClassImmediate,
	"constant":         ClassConstant,
	"relative":         ClassRelative,
	"memory offset":    ClassMemoryOffset,
	"far pointer":      ClassFarPointer,
	"implicit memory":  ClassImplicitMemory,
}

func (c Class) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Class) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	got, ok := Classes[s]
	if !ok {
		return fmt.Errorf("invalid operand class %q", s)
	}

	*c = got

	return nil
}

func (c Class) String() string {
	switch c {
	case ClassRegister:
		return "register"
	case ClassFixedRegister:
		return "fixed register"
	case ClassMemory:
		return "memory"
	case ClassFarMemory:
		return "far memory"
	case ClassDualMemory:
		return "dual memory"
	case ClassVSIB:
		return "vsib"
	case ClassImmediate:
		return "immediate"
	case ClassConstant:
		return "constant"
	case ClassRelative:
		return "relative"
	case ClassMemoryOffset:
		return "memory offset"
	case ClassFarPointer:
		return "far pointer"
	case ClassImplicitMemory:
		return "implicit memory"
	default:
		return fmt.Sprintf("Class(%d)", c)
	}
}

// Memory returns whether the class refers
// to memory.
func (c Class) Memory() bool {
	switch c {
	case ClassMemory, ClassFarMemory, ClassDualMemory, ClassVSIB, ClassMemoryOffset, ClassImplicitMemory:
		return true
	}

	return false
}

// Addressable returns whether the class is
// a memory operand encoded in the ModR/M
// byte.
func (c Class) Addressable() bool {
	switch c {
	case ClassMemory, ClassFarMemory, ClassDualMemory, ClassVSIB:
		return true
	}

	return false
}

// Access describes how an operand is
// used.
type Access uint8

const (
	_ Access = iota
	AccessRead
	AccessWrite
	AccessReadWrite
)

var Accesses = map[string]Access{
	"read":      AccessRead,
	"write":     AccessWrite,
	"readwrite": AccessReadWrite,
}

func (a Access) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Access) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	got, ok := Accesses[s]
	if !ok {
		return fmt.Errorf("invalid access %q", s)
	}

	*a = got

	return nil
}

func (a Access) String() string {
	switch a {
	case 0:
		return ""
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("Access(%d)", a)
	}
}

func (a Access) prefix() string {
	switch a {
	case AccessRead:
		return "R:"
	case AccessWrite:
		return "W:"
	case AccessReadWrite:
		return "X:"
	}

	return ""
}

// Mask describes an operand's opmask
// support.
type Mask uint8

const (
	MaskNone  Mask = iota
	MaskMerge      // {k}
	MaskZero       // {kz}
)

func (m Mask) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m Mask) String() string {
	switch m {
	case MaskNone:
		return "none"
	case MaskMerge:
		return "merge"
	case MaskZero:
		return "zero"
	default:
		return fmt.Sprintf("Mask(%d)", m)
	}
}

// SizeKind categorises a size expression.
type SizeKind uint8

const (
	SizeNone      SizeKind = iota // Unsized.
	SizeFixed                     // A fixed number of bits.
	SizePlatform                  // The architecture's width.
	SizeVector                    // The vector length, divided by Div.
	SizeVectorLow                 // The low half of the vector length.
)

// Size is an operand size expression.
type Size struct {
	Kind SizeKind
	Bits int // For SizeFixed.
	Div  int // For SizeVector.
}

// Fixed returns a fixed size of the given
// number of bits.
func Fixed(bits int) Size { return Size{Kind: SizeFixed, Bits: bits} }

// Vector returns a size of the vector
// length divided by div.
func Vector(div int) Size { return Size{Kind: SizeVector, Div: div} }

// Resolve returns the size in bits, given
// the platform width and vector length.
func (s Size) Resolve(platform, vl int) int {
	switch s.Kind {
	case SizeFixed:
		return s.Bits
	case SizePlatform:
		return platform
	case SizeVector:
		return vl / s.Div
	case SizeVectorLow:
		return vl / 2
	}

	return 0
}

func (s Size) String() string {
	switch s.Kind {
	case SizeNone:
		return ""
	case SizeFixed:
		return strconv.Itoa(s.Bits)
	case SizePlatform:
		return "platform"
	case SizeVector:
		if s.Div == 1 {
			return "vl"
		}

		return "vl/" + strconv.Itoa(s.Div)
	case SizeVectorLow:
		return "vl.low"
	default:
		return fmt.Sprintf("SizeKind(%d)", s.Kind)
	}
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// suffix returns the token suffix for a
// VL-relative size.
func (s Size) suffix() string {
	switch s.Kind {
	case SizeVector:
		if s.Div != 1 {
			return "." + strconv.Itoa(s.Div)
		}
	case SizeVectorLow:
		return ".low"
	}

	return ""
}

// vsibLetter returns the VSIB token letter
// for an index register size.
func (s Size) vsibLetter() byte {
	switch s.Kind {
	case SizeFixed:
		switch s.Bits {
		case 128:
			return 'x'
		case 256:
			return 'y'
		case 512:
			return 'z'
		}
	case SizeVector:
		return 'v'
	case SizeVectorLow:
		return 'l'
	}

	return '?'
}

// registerClassTokens is the vocabulary of
// register class shorthands.
var registerClassTokens = map[string]bool{
	"r8":   true,
	"r8x":  true,
	"r16":  true,
	"r32":  true,
	"r64":  true,
	"reg":  true,
	"mm":   true,
	"xmm":  true,
	"ymm":  true,
	"zmm":  true,
	"k":    true,
	"bnd":  true,
	"sreg": true,
	"creg": true,
	"dreg": true,
	"st":   true,
	"tmm":  true,
}

var (
	memorySizes    = []int{8, 16, 32, 48, 64, 80, 128, 256, 512}
	immediateSizes = []int{4, 8, 16, 32, 64}
	relativeSizes  = []int{8, 16, 32}
	offsetSizes    = []int{8, 16, 32, 64}
	broadcastSizes = []int{16, 32, 64}
	vectorDivisors = []int{2, 4, 8}
)

// sized parses tokens like m32, returning
// the size if it is one of allowed.
func sized(tok, prefix string, allowed []int) (int, bool) {
	rest, ok := strings.CutPrefix(tok, prefix)
	if !ok || !isDigits(rest) {
		return 0, false
	}

	n, err := strconv.Atoi(rest)
	if err != nil || !slices.Contains(allowed, n) {
		return 0, false
	}

	return n, true
}

// pair parses tokens like m16:32.
func pair(tok, prefix string, sep byte, first int, second []int) (int, bool) {
	rest, ok := strings.CutPrefix(tok, prefix)
	if !ok {
		return 0, false
	}

	a, b, ok := strings.Cut(rest, string(sep))
	if !ok || a != strconv.Itoa(first) {
		return 0, false
	}

	n, ok := sized(b, "", second)
	return n, ok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || '9' < r {
			return false
		}
	}

	return true
}

// vectorSuffix parses the size suffix of a
// VL-sized token.
func vectorSuffix(tok, base string) (Size, bool) {
	rest, ok := strings.CutPrefix(tok, base)
	if !ok {
		return Size{}, false
	}

	switch rest {
	case "":
		return Vector(1), true
	case ".low":
		return Size{Kind: SizeVectorLow}, true
	}

	div, ok := sized(rest, ".", vectorDivisors)
	if !ok {
		return Size{}, false
	}

	return Vector(div), true
}

// ParseOperands parses a comma-separated
// operand list and resolves the access
// mode of every operand. All problems are
// reported, not just the first.
func ParseOperands(list string, syms *Symbols) ([]*Operand, error) {
	parts, err := Split(list, ',')
	if err != nil {
		return nil, err
	}

	var errs Errors
	ops := make([]*Operand, 0, len(parts))
	for i, part := range parts {
		op, err := ParseOperand(part, syms)
		if err != nil {
			for _, e := range errorList(err) {
				e.Operand = i + 1
				errs = append(errs, e)
			}

			continue
		}

		ops = append(ops, op)
	}

	if len(errs) != 0 {
		return nil, errs
	}

	ResolveAccess(ops)

	return ops, nil
}

// ResolveAccess fills in the access mode
// of each operand that did not declare
// one. The first operand is read and
// written; the rest are only read.
func ResolveAccess(ops []*Operand) {
	for i, op := range ops {
		if op.Explicit {
			continue
		}

		if i == 0 {
			op.Access = AccessReadWrite
		} else {
			op.Access = AccessRead
		}
	}
}

// ParseOperand parses a single operand
// token. The access mode is left unset
// unless the token declares it.
func ParseOperand(tok string, syms *Symbols) (*Operand, error) {
	s := strings.TrimSpace(tok)
	if s == "" {
		return nil, Errorf(MalformedField, tok, "empty operand")
	}

	op := new(Operand)
	if len(s) > 2 && s[1] == ':' {
		switch s[0] {
		case 'R':
			op.Access = AccessRead
		case 'W':
			op.Access = AccessWrite
		case 'X':
			op.Access = AccessReadWrite
		default:
			return nil, Errorf(UnknownOperandToken, tok, "invalid access mode %q", s[:2])
		}

		op.Explicit = true
		s = strings.TrimSpace(s[2:])
	}

	// Annotations.
	for strings.HasSuffix(s, "}") {
		i := strings.LastIndexByte(s, '{')
		if i < 0 {
			return nil, Errorf(MalformedField, tok, "unexpected '}'")
		}

		ann := s[i+1 : len(s)-1]
		s = strings.TrimSpace(s[:i])
		dup := false
		switch ann {
		case "k", "kz":
			dup = op.Mask != MaskNone
			op.Mask = MaskMerge
			if ann == "kz" {
				op.Mask = MaskZero
			}
		case "er":
			dup = op.Rounding
			op.Rounding = true
		case "sae":
			dup = op.SAE
			op.SAE = true
		case "dup":
			dup = op.Dup
			op.Dup = true
		default:
			return nil, Errorf(UnknownOperandToken, tok, "unknown annotation {%s}", ann)
		}

		if dup {
			return nil, Errorf(UnknownOperandToken, tok, "repeated annotation {%s}", ann)
		}
	}

	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		op.Implicit = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	alts, err := Split(s, '/')
	if err != nil {
		return nil, err
	}

	if len(alts) == 0 {
		return nil, Errorf(MalformedField, tok, "empty operand")
	}

	regMem := -1 // The index of any r in r/mN.
	for _, alt := range alts {
		if alt == "" {
			return nil, Errorf(MalformedField, tok, "empty alternative")
		}

		if alt == "r" {
			if regMem >= 0 {
				return nil, Errorf(UnknownOperandToken, tok, "repeated r alternative")
			}

			regMem = len(op.Forms)
			continue
		}

		if bits, ok := sized(alt, "b", broadcastSizes); ok {
			if op.Broadcast != 0 {
				return nil, Errorf(UnknownOperandToken, tok, "repeated broadcast")
			}

			op.Broadcast = bits
			continue
		}

		form, err := parseForm(alt, syms)
		if err != nil {
			err.Clause = alt
			return nil, err
		}

		op.Forms = append(op.Forms, form)
	}

	if regMem >= 0 {
		form, err := registerForMemory(op.Forms, syms)
		if err != nil {
			return nil, err
		}

		op.Forms = slices.Insert(op.Forms, regMem, form)
	}

	if len(op.Forms) == 0 {
		return nil, Errorf(UnknownOperandToken, tok, "broadcast without an operand form")
	}

	return op, nil
}

// registerForMemory returns the general
// purpose register form matching the size
// of the memory form in an r/mN operand.
func registerForMemory(forms []Form, syms *Symbols) (Form, error) {
	for _, form := range forms {
		if form.Class != ClassMemory || form.Size.Kind != SizeFixed {
			continue
		}

		id := "r" + strconv.Itoa(form.Size.Bits)
		class := syms.RegisterClass(id)
		if class == nil {
			return Form{}, Errorf(UnknownOperandToken, "r", "no register class %q to match m%d", id, form.Size.Bits)
		}

		return Form{Class: ClassRegister, Register: id, Size: class.Size()}, nil
	}

	return Form{}, Errorf(UnknownOperandToken, "r", "r must be paired with a sized memory operand")
}

// parseForm resolves a single alternative
// against the vocabulary.
func parseForm(tok string, syms *Symbols) (Form, *Error) {
	unknown := func(format string, v ...any) (Form, *Error) {
		return Form{}, Errorf(UnknownOperandToken, tok, format, v...)
	}

	if bits, ok := sized(tok, "m", memorySizes); ok {
		return Form{Class: ClassMemory, Size: Fixed(bits)}, nil
	}

	if bits, ok := sized(tok, "imm", immediateSizes); ok {
		return Form{Class: ClassImmediate, Size: Fixed(bits)}, nil
	}

	if bits, ok := sized(tok, "pimm", immediateSizes); ok {
		return Form{Class: ClassImmediate, Size: Fixed(bits), PrintOnly: true}, nil
	}

	if bits, ok := sized(tok, "rel", relativeSizes); ok {
		return Form{Class: ClassRelative, Size: Fixed(bits)}, nil
	}

	if bits, ok := sized(tok, "moffs", offsetSizes); ok {
		return Form{Class: ClassMemoryOffset, Size: Fixed(bits)}, nil
	}

	if bits, ok := pair(tok, "m", ':', 16, []int{16, 32, 64}); ok {
		return Form{Class: ClassFarMemory, Size: Fixed(16 + bits), Parts: []int{16, bits}}, nil
	}

	if bits, ok := pair(tok, "m", '&', 16, []int{16, 32, 64}); ok {
		return Form{Class: ClassDualMemory, Size: Fixed(16 + bits), Parts: []int{16, bits}}, nil
	}

	if bits, ok := pair(tok, "m", '&', 32, []int{32}); ok {
		return Form{Class: ClassDualMemory, Size: Fixed(32 + bits), Parts: []int{32, bits}}, nil
	}

	if bits, ok := pair(tok, "ptr", ':', 16, []int{16, 32}); ok {
		return Form{Class: ClassFarPointer, Size: Fixed(16 + bits), Parts: []int{16, bits}}, nil
	}

	if tok == "mem" {
		return Form{Class: ClassMemory}, nil
	}

	if size, ok := vectorSuffix(tok, "vmm"); ok {
		if syms.RegisterClass("xmm") == nil {
			return unknown("vmm requires the xmm register class")
		}

		return Form{Class: ClassRegister, Register: "vmm", Size: size}, nil
	}

	if size, ok := vectorSuffix(tok, "vm"); ok {
		return Form{Class: ClassMemory, Size: size}, nil
	}

	if form, ok := vsib(tok); ok {
		return form, nil
	}

	if isDigits(tok) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return unknown("invalid constant: %v", err)
		}

		return Form{Class: ClassConstant, Value: n}, nil
	}

	if strings.HasSuffix(tok, "]") {
		return implicitMemory(tok, syms)
	}

	if name, ok := strings.CutPrefix(tok, "*"); ok {
		if _, err := syms.family(name); err != nil {
			return unknown("%v", err)
		}

		return Form{Class: ClassFixedRegister, Register: name, Family: true, Size: Size{Kind: SizePlatform}}, nil
	}

	if registerClassTokens[tok] {
		class := syms.RegisterClass(tok)
		if class == nil {
			return unknown("register class is not defined by the tables")
		}

		return Form{Class: ClassRegister, Register: tok, Size: class.Size()}, nil
	}

	if reg := syms.Register(tok); reg != nil {
		return Form{Class: ClassFixedRegister, Register: tok, Size: reg.Class.Size()}, nil
	}

	return unknown("no such operand")
}

// vsib parses tokens like vm32x.
func vsib(tok string) (Form, bool) {
	if len(tok) != len("vm32x") || !strings.HasPrefix(tok, "vm") {
		return Form{}, false
	}

	bits, ok := sized(tok[:4], "vm", []int{32, 64})
	if !ok {
		return Form{}, false
	}

	form := Form{Class: ClassVSIB, Size: Fixed(bits)}
	switch tok[4] {
	case 'x':
		form.Register = vectorClasses[128]
		form.Index = Fixed(128)
	case 'y':
		form.Register = vectorClasses[256]
		form.Index = Fixed(256)
	case 'z':
		form.Register = vectorClasses[512]
		form.Index = Fixed(512)
	case 'v':
		form.Register = "vmm"
		form.Index = Vector(1)
	case 'l':
		form.Register = "vmm"
		form.Index = Size{Kind: SizeVectorLow}
	default:
		return Form{}, false
	}

	return form, true
}

// implicitMemory parses tokens like
// m8[es:*di].
func implicitMemory(tok string, syms *Symbols) (Form, *Error) {
	unknown := func(format string, v ...any) (Form, *Error) {
		return Form{}, Errorf(UnknownOperandToken, tok, format, v...)
	}

	i := strings.IndexByte(tok, '[')
	if i < 0 {
		return unknown("missing '['")
	}

	form := Form{Class: ClassImplicitMemory}
	if size := tok[:i]; size != "" {
		bits, ok := sized(size, "m", memorySizes)
		if !ok {
			return unknown("invalid memory size %q", size)
		}

		form.Size = Fixed(bits)
	}

	inner := tok[i+1 : len(tok)-1]
	if seg, reg, ok := strings.Cut(inner, ":"); ok {
		sreg := syms.Register(seg)
		if sreg == nil || sreg.Class.ID != "sreg" {
			return unknown("%q is not a segment register", seg)
		}

		form.Segment = seg
		inner = reg
	}

	if name, ok := strings.CutPrefix(inner, "*"); ok {
		if _, err := syms.family(name); err != nil {
			return unknown("%v", err)
		}

		form.Register = name
		form.Family = true

		return form, nil
	}

	if syms.Register(inner) == nil {
		return unknown("no such register %q", inner)
	}

	form.Register = inner

	return form, nil
}

// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Encoding includes the textual description of
// an instruction's encoding, plus a structured
// representation of the same information.
type Encoding struct {
	// The textual representation.
	Syntax string

	Archs  []string  // The architectures the encoding applies to.
	Tag    string    // The operand encoding letters, one per explicit operand.
	Tuple  TupleType // Any EVEX memory tuple type.
	Prefix Prefix    // The prefix family and its fields. Never nil.

	// The opcode text, in order.
	Elements []Element

	// Encoding environment qualifiers.
	OperandSize int           // Any required operand size (os16/os32/os64).
	AddressSize int           // Any required address size (as16/as32/as64).
	VL          VLRestriction // Any vector length restriction.

	// Derived from Elements.
	Bytes             []byte         // The literal opcode bytes.
	PrefixOpcodes     []byte         // Any opcodes that must prefix the instruction (such as fwait).
	MandatoryPrefixes []LegacyPrefix // Any mandatory prefixes that precede the opcode.
	Map               OpcodeMap      // The opcode map.
	Opcode            byte           // The primary opcode byte.
	OpcodeIndex       int            // The index of the primary opcode byte in Bytes.
	RegisterModifier  int            // The Bytes index where a register is added to the opcode, plus one. Zero for no modifier.
	StackIndex        int            // The Bytes index where the FPU stack index is added, plus one. Zero for no index.
	ModRM             bool           // Whether a ModR/M byte is always required.
	ModRMreg          uint8          // Any fixed value used as the ModR/M byte's reg field, plus one. Zero for no value.
	Immediates        []int          // The size in bits of each encoded immediate, in order.
	CodeOffset        int            // The size in bits of any code offset.
	MemoryOffset      int            // The size in bits of any memory offset.
	Is4               bool           // Whether a register is encoded in the 4-bit immediate.
	ImpliedImmediate  []byte         // Any immediate bytes fixed by the encoding.

	// EVEX features, taken from the
	// operand annotations.
	Mask      bool // Any EVEX opmask support.
	Zero      bool // Any EVEX zeroing support.
	Rounding  bool // Any EVEX embedded rounding support.
	Suppress  bool // Any EVEX suppress all exceptions support.
	Broadcast bool // Any EVEX memory broadcast support.
}

// Family returns the encoding's prefix
// family.
func (e *Encoding) Family() PrefixFamily {
	return e.Prefix.Family()
}

// Supports returns whether the encoding
// applies to the given architecture.
func (e *Encoding) Supports(arch string) bool {
	for _, got := range e.Archs {
		if got == arch {
			return true
		}
	}

	return false
}

// AddendIndex returns the index in Bytes of
// the opcode byte that takes a register or
// FPU stack index, or -1 if there is none.
func (e *Encoding) AddendIndex() int {
	switch {
	case e.RegisterModifier != 0:
		return e.RegisterModifier - 1
	case e.StackIndex != 0:
		return e.StackIndex - 1
	}

	return -1
}

// VectorSize returns the instruction's fixed
// vector size, if any.
func (e *Encoding) VectorSize() int {
	switch p := e.Prefix.(type) {
	case VEXPrefix:
		return p.Length.Bits()
	case EVEXPrefix:
		return p.Length.Bits()
	case XOPPrefix:
		return p.Length.Bits()
	}

	return 0
}

// W returns whether the encoding's
// prefix sets a W bit of one.
func (e *Encoding) W() bool {
	switch p := e.Prefix.(type) {
	case REXPrefix:
		return p.W
	case VEXPrefix:
		return p.W == W1
	case EVEXPrefix:
		return p.W == W1
	case XOPPrefix:
		return p.W == W1
	}

	return false
}

// ElementKind categorises one token of
// opcode text.
type ElementKind uint8

const (
	_                      ElementKind = iota
	ElementByte                        // A literal opcode byte.
	ElementRegisterAddend              // A register added to the preceding byte (+r).
	ElementStackAddend                 // An x87 stack index added to the preceding byte (+i).
	ElementExtension                   // An opcode extension in ModR/M.reg (/digit).
	ElementModRM                       // A ModR/M byte with a register operand (/r).
	ElementImmediate                   // An immediate value (ib).
	ElementCodeOffset                  // A relative code offset (ob).
	ElementMemoryOffset                // An absolute memory offset (mb).
	ElementIs4                         // A register in the immediate's upper bits (/is4).
)

// Element is one token of opcode text.
type Element struct {
	Kind  ElementKind
	Value int // The byte or extension digit.
	Bits  int // The size of a placeholder or addend register. Zero for the platform width.
}

var immediateSuffixes = map[byte]int{'b': 8, 'w': 16, 'd': 32, 'q': 64}

func sizeSuffix(bits int) string {
	for suffix, n := range immediateSuffixes {
		if n == bits {
			return string(suffix)
		}
	}

	return ""
}

func (e Element) String() string {
	switch e.Kind {
	case ElementByte:
		return fmt.Sprintf("%02x", e.Value)
	case ElementRegisterAddend:
		return "+r" + sizeSuffix(e.Bits)
	case ElementStackAddend:
		return "+i"
	case ElementExtension:
		return "/" + strconv.Itoa(e.Value)
	case ElementModRM:
		return "/r"
	case ElementImmediate:
		return "i" + sizeSuffix(e.Bits)
	case ElementCodeOffset:
		return "o" + sizeSuffix(e.Bits)
	case ElementMemoryOffset:
		return "m" + sizeSuffix(e.Bits)
	case ElementIs4:
		return "/is4"
	default:
		return fmt.Sprintf("ElementKind(%d)", e.Kind)
	}
}

// LegacyPrefix represents a legacy x86 prefix.
type LegacyPrefix byte

const (
	PrefixNone        LegacyPrefix = 0
	PrefixLock        LegacyPrefix = 0xf0
	PrefixRepeatNot   LegacyPrefix = 0xf2
	PrefixRepeat      LegacyPrefix = 0xf3
	PrefixOperandSize LegacyPrefix = 0x66
	PrefixAddressSize LegacyPrefix = 0x67
)

func (p LegacyPrefix) String() string {
	switch p {
	case PrefixNone:
		return "np"
	case PrefixLock:
		return "lock"
	case PrefixRepeatNot:
		return "repnz/repne"
	case PrefixRepeat:
		return "rep/repe/repz"
	case PrefixOperandSize:
		return "data16/data32"
	case PrefixAddressSize:
		return "addr16/addr32"
	default:
		return fmt.Sprintf("Prefix(%#02x)", byte(p))
	}
}

// token returns the prefix as a VEX pp
// sub-token.
func (p LegacyPrefix) token() string {
	if p == PrefixNone {
		return "np"
	}

	return fmt.Sprintf("%02x", byte(p))
}

// OpcodeMap identifies an opcode map.
type OpcodeMap uint8

const (
	MapLegacy OpcodeMap = iota // The one-byte map.
	Map0F
	Map0F38
	Map0F3A
	Map5
	Map6
	MapXOP8
	MapXOP9
	MapXOP10
)

var OpcodeMaps = map[string]OpcodeMap{
	"legacy": MapLegacy,
	"0f":     Map0F,
	"0f38":   Map0F38,
	"0f3a":   Map0F3A,
	"map5":   Map5,
	"map6":   Map6,
	"m8":     MapXOP8,
	"m9":     MapXOP9,
	"m10":    MapXOP10,
}

func (m OpcodeMap) String() string {
	switch m {
	case MapLegacy:
		return "legacy"
	case Map0F:
		return "0f"
	case Map0F38:
		return "0f38"
	case Map0F3A:
		return "0f3a"
	case Map5:
		return "map5"
	case Map6:
		return "map6"
	case MapXOP8:
		return "m8"
	case MapXOP9:
		return "m9"
	case MapXOP10:
		return "m10"
	default:
		return fmt.Sprintf("OpcodeMap(%d)", m)
	}
}

// VectorLength is the vector length field
// of a VEX, EVEX, or XOP prefix.
type VectorLength uint8

const (
	LengthNone    VectorLength = iota // Not specified.
	Length128                         // 128 or l0.
	Length256                         // 256 or l1.
	Length512                         // 512.
	LengthZero                        // lz: L must be zero.
	LengthIgnored                     // lig.
	LengthVL                          // vl: any supported length.
)

func (l VectorLength) String() string {
	switch l {
	case LengthNone:
		return ""
	case Length128:
		return "128"
	case Length256:
		return "256"
	case Length512:
		return "512"
	case LengthZero:
		return "lz"
	case LengthIgnored:
		return "lig"
	case LengthVL:
		return "vl"
	default:
		return fmt.Sprintf("VectorLength(%d)", l)
	}
}

// Bits returns the fixed vector size, or
// zero.
func (l VectorLength) Bits() int {
	switch l {
	case Length128, LengthZero:
		return 128
	case Length256:
		return 256
	case Length512:
		return 512
	}

	return 0
}

// WBit is the W field of a VEX, EVEX,
// or XOP prefix.
type WBit uint8

const (
	WNone WBit = iota
	W0
	W1
	WIG
)

func (w WBit) String() string {
	switch w {
	case WNone:
		return ""
	case W0:
		return "w0"
	case W1:
		return "w1"
	case WIG:
		return "wig"
	default:
		return fmt.Sprintf("WBit(%d)", w)
	}
}

// VVVV describes the role of the register
// encoded in a prefix's vvvv field.
type VVVV uint8

const (
	VVVVNone VVVV = iota
	VVVVNDS       // Non-destructive source.
	VVVVNDD       // Non-destructive destination.
	VVVVDDS       // Destination and source.
)

func (v VVVV) String() string {
	switch v {
	case VVVVNone:
		return ""
	case VVVVNDS:
		return "nds"
	case VVVVNDD:
		return "ndd"
	case VVVVDDS:
		return "dds"
	default:
		return fmt.Sprintf("VVVV(%d)", v)
	}
}

// VLRestriction limits the vector lengths
// an encoding may be used with.
type VLRestriction uint8

const (
	VLAny VLRestriction = iota // No restriction given.
	VLX                        // vx: 128-bit vectors only.
	VLU                        // vu: 128, 256, and 512-bit vectors.
)

func (v VLRestriction) String() string {
	switch v {
	case VLAny:
		return ""
	case VLX:
		return "vx"
	case VLU:
		return "vu"
	default:
		return fmt.Sprintf("VLRestriction(%d)", v)
	}
}

// PrefixFamily identifies a kind of prefix.
type PrefixFamily uint8

const (
	FamilyNone PrefixFamily = iota
	FamilyREX
	FamilyVEX
	FamilyEVEX
	FamilyXOP
	FamilyDREX
)

func (f PrefixFamily) String() string {
	switch f {
	case FamilyNone:
		return "none"
	case FamilyREX:
		return "rex"
	case FamilyVEX:
		return "vex"
	case FamilyEVEX:
		return "evex"
	case FamilyXOP:
		return "xop"
	case FamilyDREX:
		return "drex"
	default:
		return fmt.Sprintf("PrefixFamily(%d)", f)
	}
}

// Prefix is the prefix part of an encoding.
// The set of implementations is closed:
// NoPrefix, REXPrefix, VEXPrefix, EVEXPrefix,
// XOPPrefix, and DREXPrefix.
type Prefix interface {
	Family() PrefixFamily
	String() string
	isPrefix()
}

// NoPrefix is the prefix of a legacy
// encoding.
type NoPrefix struct{}

// REXPrefix is a mandatory REX prefix.
type REXPrefix struct {
	W bool
}

// VEXPrefix is a VEX prefix.
type VEXPrefix struct {
	VVVV   VVVV
	Length VectorLength
	PP     LegacyPrefix
	Map    OpcodeMap
	W      WBit
}

// EVEXPrefix is an EVEX prefix.
type EVEXPrefix struct {
	VVVV   VVVV
	Length VectorLength
	PP     LegacyPrefix
	Map    OpcodeMap
	W      WBit
}

// XOPPrefix is an AMD XOP prefix.
type XOPPrefix struct {
	VVVV   VVVV
	Length VectorLength
	Map    OpcodeMap
	W      WBit
}

// DREXPrefix is an AMD SSE5 DREX byte.
type DREXPrefix struct {
	OC uint8 // The OC0 bit plus one. Zero for unspecified.
}

func (NoPrefix) Family() PrefixFamily   { return FamilyNone }
func (REXPrefix) Family() PrefixFamily  { return FamilyREX }
func (VEXPrefix) Family() PrefixFamily  { return FamilyVEX }
func (EVEXPrefix) Family() PrefixFamily { return FamilyEVEX }
func (XOPPrefix) Family() PrefixFamily  { return FamilyXOP }
func (DREXPrefix) Family() PrefixFamily { return FamilyDREX }

func (NoPrefix) isPrefix()   {}
func (REXPrefix) isPrefix()  {}
func (VEXPrefix) isPrefix()  {}
func (EVEXPrefix) isPrefix() {}
func (XOPPrefix) isPrefix()  {}
func (DREXPrefix) isPrefix() {}

func (NoPrefix) String() string { return "" }

func (p REXPrefix) String() string {
	if p.W {
		return "rex.w"
	}

	return "rex"
}

// joinFields renders a prefix keyword and
// its non-empty sub-tokens.
func joinFields(keyword string, fields ...string) string {
	parts := []string{keyword}
	for _, field := range fields {
		if field != "" {
			parts = append(parts, field)
		}
	}

	return strings.Join(parts, ".")
}

func (p VEXPrefix) String() string {
	return joinFields("vex", p.VVVV.String(), p.Length.String(), p.PP.token(), p.Map.String(), p.W.String())
}

func (p EVEXPrefix) String() string {
	return joinFields("evex", p.VVVV.String(), p.Length.String(), p.PP.token(), p.Map.String(), p.W.String())
}

func (p XOPPrefix) String() string {
	return joinFields("xop", p.VVVV.String(), p.Length.String(), p.Map.String(), p.W.String())
}

func (p DREXPrefix) String() string {
	switch p.OC {
	case 1:
		return "drex.oc0"
	case 2:
		return "drex.oc1"
	}

	return "drex"
}

// vexFields holds the sub-tokens shared
// by the VEX family of prefixes.
type vexFields struct {
	vvvv   VVVV
	length VectorLength
	pp     LegacyPrefix
	ppSet  bool
	m      OpcodeMap
	mapSet bool
	w      WBit
	vl     VLRestriction
}

// parseVEXFields parses the dot-separated
// sub-tokens of a VEX, EVEX, or XOP prefix
// keyword.
func parseVEXFields(keyword string, subs []string) (*vexFields, error) {
	f := new(vexFields)
	seen := make(map[string]string)
	once := func(field, sub string) error {
		if prev, ok := seen[field]; ok {
			return fmt.Errorf("%s given twice (%s and %s)", field, prev, sub)
		}

		seen[field] = sub
		return nil
	}

	xop := keyword == "xop"
	for _, sub := range subs {
		var field string
		switch sub {
		case "nds", "ndd", "dds":
			field = "vvvv"
			f.vvvv = map[string]VVVV{"nds": VVVVNDS, "ndd": VVVVNDD, "dds": VVVVDDS}[sub]
		case "128", "l0":
			field = "length"
			f.length = Length128
		case "256", "l1":
			field = "length"
			f.length = Length256
		case "512":
			if keyword != "evex" {
				return nil, fmt.Errorf("512-bit vector length requires evex")
			}

			field = "length"
			f.length = Length512
		case "lz":
			field = "length"
			f.length = LengthZero
		case "lig":
			field = "length"
			f.length = LengthIgnored
		case "vl":
			field = "length"
			f.length = LengthVL
		case "np", "66", "f2", "f3":
			if xop {
				return nil, fmt.Errorf("xop has no pp field")
			}

			field = "pp"
			f.ppSet = true
			f.pp = map[string]LegacyPrefix{"np": PrefixNone, "66": PrefixOperandSize, "f2": PrefixRepeatNot, "f3": PrefixRepeat}[sub]
		case "0f", "0f38", "0f3a", "map5", "map6":
			if xop {
				return nil, fmt.Errorf("opcode map %q is not an xop map", sub)
			}

			if (sub == "map5" || sub == "map6") && keyword != "evex" {
				return nil, fmt.Errorf("opcode map %q requires evex", sub)
			}

			field = "map"
			f.mapSet = true
			f.m = OpcodeMaps[sub]
		case "m8", "m9", "m10":
			if !xop {
				return nil, fmt.Errorf("opcode map %q is only valid with xop", sub)
			}

			field = "map"
			f.mapSet = true
			f.m = OpcodeMaps[sub]
		case "w0":
			field = "w"
			f.w = W0
		case "w1":
			field = "w"
			f.w = W1
		case "wig":
			field = "w"
			f.w = WIG
		case "vx":
			field = "vl restriction"
			f.vl = VLX
		case "vu":
			field = "vl restriction"
			f.vl = VLU
		default:
			return nil, fmt.Errorf("bad %s sub-token %q", keyword, sub)
		}

		if err := once(field, sub); err != nil {
			return nil, err
		}
	}

	if !f.mapSet {
		return nil, fmt.Errorf("missing %s opcode map", keyword)
	}

	return f, nil
}

// ParseEncoding processes the textual description
// of an instruction's encoding, producing a
// structured representation of the same
// information.
//
// The description has the form
//
//	[arch:][tag:][tuple:]opcode
//
// where the opcode text is a sequence of
// whitespace-separated tokens. All problems
// are reported as InvalidOpcodeGrammar errors.
func ParseEncoding(s string, syms *Symbols) (*Encoding, error) {
	bad := func(clause, format string, v ...any) (*Encoding, error) {
		return nil, Errorf(InvalidOpcodeGrammar, clause, format, v...)
	}

	parts, err := Split(s, ':')
	if err != nil {
		return nil, err
	}

	if len(parts) == 0 {
		return bad(s, "empty encoding")
	}

	if len(parts) > 4 {
		return bad(s, "too many ':'-separated fields")
	}

	e := &Encoding{
		Syntax: s,
		Prefix: NoPrefix{},
	}

	const (
		stageArch = iota
		stageTag
		stageTuple
		stageDone
	)

	stage := stageArch
	for _, head := range parts[:len(parts)-1] {
		tuple, isTuple := TupleTypes[head]
		switch {
		case head == "":
			return bad(s, "empty encoding field")
		case syms.Architecture(head) != nil:
			if stage > stageArch {
				return bad(head, "architecture must come first")
			}

			e.Archs = []string{head}
			stage = stageTag
		case isTag(head):
			if stage > stageTag {
				return bad(head, "operand encoding must precede the tuple type")
			}

			e.Tag = head
			stage = stageTuple
		case isTuple && tuple != TupleNone:
			if stage > stageTuple {
				return bad(head, "repeated tuple type")
			}

			if e.Tag == "" {
				return bad(head, "tuple type requires an operand encoding")
			}

			e.Tuple = tuple
			stage = stageDone
		case strings.HasPrefix(head, "x86") || strings.HasPrefix(head, "x64"):
			return bad(head, "unknown architecture")
		default:
			return bad(head, "unknown encoding field")
		}
	}

	if e.Archs == nil {
		e.Archs = syms.archIDs()
	}

	text := parts[len(parts)-1]
	if text == "" {
		return bad(s, "missing opcode")
	}

	qualifiers := make(map[string]bool)
	for _, raw := range strings.Fields(text) {
		tok := strings.ToLower(raw)
		keyword, rest, _ := strings.Cut(tok, ".")
		switch keyword {
		case "rex", "vex", "evex", "xop", "drex":
			if e.Prefix.Family() != FamilyNone {
				return bad(raw, "second prefix keyword after %q", e.Prefix)
			}

			if !prefixPosition(keyword, e.Elements) {
				return bad(raw, "%s prefix must precede the opcode", keyword)
			}

			prefix, vl, err := parsePrefix(keyword, rest)
			if err != nil {
				return bad(raw, "%v", err)
			}

			e.Prefix = prefix
			e.VL = vl
			continue
		}

		switch tok {
		case "os16", "os32", "os64", "as16", "as32", "as64":
			if qualifiers[tok[:2]] {
				return bad(raw, "repeated %s qualifier", tok[:2])
			}

			qualifiers[tok[:2]] = true
			bits, _ := strconv.Atoi(tok[2:])
			if tok[0] == 'o' {
				e.OperandSize = bits
			} else {
				e.AddressSize = bits
			}

			continue
		case "/r":
			e.Elements = append(e.Elements, Element{Kind: ElementModRM})
			continue
		case "/0", "/1", "/2", "/3", "/4", "/5", "/6", "/7":
			e.Elements = append(e.Elements, Element{Kind: ElementExtension, Value: int(tok[1] - '0')})
			continue
		case "/is4":
			e.Elements = append(e.Elements, Element{Kind: ElementIs4})
			continue
		case "ib", "iw", "id", "iq":
			e.Elements = append(e.Elements, Element{Kind: ElementImmediate, Bits: immediateSuffixes[tok[1]]})
			continue
		case "ob", "ow", "od":
			e.Elements = append(e.Elements, Element{Kind: ElementCodeOffset, Bits: immediateSuffixes[tok[1]]})
			continue
		case "mb", "mw", "md", "mq":
			e.Elements = append(e.Elements, Element{Kind: ElementMemoryOffset, Bits: immediateSuffixes[tok[1]]})
			continue
		}

		// Opcode bytes, possibly with
		// an attached addend.
		opcode, addend, hasAddend := strings.Cut(tok, "+")
		if opcode != "" {
			if len(opcode) != 2 {
				return bad(raw, "unrecognised token")
			}

			b, err := strconv.ParseUint(opcode, 16, 8)
			if err != nil {
				return bad(raw, "unrecognised token")
			}

			e.Elements = append(e.Elements, Element{Kind: ElementByte, Value: int(b)})
		}

		if !hasAddend {
			continue
		}

		if len(e.Elements) == 0 || e.Elements[len(e.Elements)-1].Kind != ElementByte {
			return bad(raw, "addend must follow an opcode byte")
		}

		switch addend {
		case "r":
			e.Elements = append(e.Elements, Element{Kind: ElementRegisterAddend})
		case "rb", "rw", "rd", "rq":
			e.Elements = append(e.Elements, Element{Kind: ElementRegisterAddend, Bits: immediateSuffixes[addend[1]]})
		case "i":
			e.Elements = append(e.Elements, Element{Kind: ElementStackAddend})
		default:
			return bad(raw, "unrecognised addend")
		}
	}

	if err := e.derive(); err != nil {
		return bad(s, "%v", err)
	}

	if e.Tuple != TupleNone && e.Family() != FamilyEVEX {
		return bad(s, "tuple type %s requires an evex prefix", e.Tuple)
	}

	return e, nil
}

// prefixPosition returns whether a prefix
// keyword may follow the given elements.
// A REX prefix may follow legacy prefix
// bytes, but no prefix may follow an
// opcode byte.
func prefixPosition(keyword string, elements []Element) bool {
	if keyword != "rex" {
		return len(elements) == 0
	}

	for _, el := range elements {
		if el.Kind != ElementByte {
			return false
		}

		switch el.Value {
		case 0x66, 0x67, 0xf0, 0xf2, 0xf3, 0x9b:
		default:
			return false
		}
	}

	return true
}

// isTag returns whether s is a sequence
// of operand encoding letters.
func isTag(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if !strings.ContainsRune("xrmvido", r) {
			return false
		}
	}

	return true
}

// parsePrefix parses a prefix keyword and
// its dot-separated sub-tokens.
func parsePrefix(keyword, rest string) (Prefix, VLRestriction, error) {
	var subs []string
	if rest != "" {
		subs = strings.Split(rest, ".")
	}

	switch keyword {
	case "rex":
		switch rest {
		case "":
			return REXPrefix{}, VLAny, nil
		case "w":
			return REXPrefix{W: true}, VLAny, nil
		}

		return nil, VLAny, fmt.Errorf("bad rex sub-token %q", rest)
	case "drex":
		switch rest {
		case "":
			return DREXPrefix{}, VLAny, nil
		case "oc0":
			return DREXPrefix{OC: 1}, VLAny, nil
		case "oc1":
			return DREXPrefix{OC: 2}, VLAny, nil
		}

		return nil, VLAny, fmt.Errorf("bad drex sub-token %q", rest)
	}

	f, err := parseVEXFields(keyword, subs)
	if err != nil {
		return nil, VLAny, err
	}

	switch keyword {
	case "vex":
		return VEXPrefix{VVVV: f.vvvv, Length: f.length, PP: f.pp, Map: f.m, W: f.w}, f.vl, nil
	case "evex":
		return EVEXPrefix{VVVV: f.vvvv, Length: f.length, PP: f.pp, Map: f.m, W: f.w}, f.vl, nil
	default:
		return XOPPrefix{VVVV: f.vvvv, Length: f.length, Map: f.m, W: f.w}, f.vl, nil
	}
}

// derive fills in the fields that follow
// from the opcode elements.
func (e *Encoding) derive() error {
	for _, el := range e.Elements {
		switch el.Kind {
		case ElementByte:
			// Some specialised instructions
			// hard-code an immediate value
			// after the ModR/M byte, such as
			// the 3DNow! opcode suffixes.
			if e.ModRM {
				e.ImpliedImmediate = append(e.ImpliedImmediate, byte(el.Value))
				continue
			}

			if len(e.Immediates) != 0 {
				return fmt.Errorf("opcode byte %s after an immediate", el)
			}

			e.Bytes = append(e.Bytes, byte(el.Value))
		case ElementRegisterAddend:
			if e.RegisterModifier != 0 || e.StackIndex != 0 {
				return fmt.Errorf("second opcode addend")
			}

			e.RegisterModifier = len(e.Bytes)
		case ElementStackAddend:
			if e.RegisterModifier != 0 || e.StackIndex != 0 {
				return fmt.Errorf("second opcode addend")
			}

			e.StackIndex = len(e.Bytes)
		case ElementExtension:
			if e.ModRM {
				return fmt.Errorf("%s with another ModR/M token", el)
			}

			e.ModRM = true
			e.ModRMreg = uint8(el.Value) + 1
		case ElementModRM:
			if e.ModRM {
				return fmt.Errorf("%s with another ModR/M token", el)
			}

			e.ModRM = true
		case ElementImmediate:
			e.Immediates = append(e.Immediates, el.Bits)
		case ElementCodeOffset:
			if e.CodeOffset != 0 {
				return fmt.Errorf("second code offset")
			}

			e.CodeOffset = el.Bits
		case ElementMemoryOffset:
			if e.MemoryOffset != 0 {
				return fmt.Errorf("second memory offset")
			}

			e.MemoryOffset = el.Bits
		case ElementIs4:
			if e.Is4 {
				return fmt.Errorf("second /is4")
			}

			e.Is4 = true
		}
	}

	if len(e.Bytes) == 0 {
		return fmt.Errorf("no opcode bytes")
	}

	if (e.RegisterModifier != 0 || e.StackIndex != 0) && e.ModRM {
		return fmt.Errorf("opcode addend cannot be combined with a ModR/M byte")
	}

	switch p := e.Prefix.(type) {
	case VEXPrefix:
		e.Map = p.Map
	case EVEXPrefix:
		e.Map = p.Map
	case XOPPrefix:
		e.Map = p.Map
	default:
		e.legacyMap()
	}

	e.Opcode = e.Bytes[e.OpcodeIndex]
	if e.RegisterModifier != 0 && e.RegisterModifier-1 != e.OpcodeIndex {
		return fmt.Errorf("register addend is not on the primary opcode byte")
	}

	return nil
}

// legacyMap separates any mandatory prefix
// bytes and escape bytes from the primary
// opcode byte.
func (e *Encoding) legacyMap() {
	b := e.Bytes
	i := 0
prefixes:
	for i < len(b)-1 {
		switch b[i] {
		case 0x66, 0x67, 0xf0, 0xf2, 0xf3:
			e.MandatoryPrefixes = append(e.MandatoryPrefixes, LegacyPrefix(b[i]))
		case 0x9b:
			e.PrefixOpcodes = append(e.PrefixOpcodes, b[i])
		default:
			break prefixes
		}

		i++
	}

	e.Map = MapLegacy
	e.OpcodeIndex = i
	if b[i] != 0x0f || i+1 == len(b) {
		return
	}

	switch {
	case b[i+1] == 0x38 && i+2 < len(b):
		e.Map = Map0F38
		e.OpcodeIndex = i + 2
	case b[i+1] == 0x3a && i+2 < len(b):
		e.Map = Map0F3A
		e.OpcodeIndex = i + 2
	default:
		e.Map = Map0F
		e.OpcodeIndex = i + 1
	}
}

// MachineCodeMatch indicates whether a machine code
// sequence matched an instruction encoding, according
// to Encoding.MatchesMachineCode.
type MachineCodeMatch uint8

const (
	Match MachineCodeMatch = iota
	MismatchNoMachineCode
	MismatchVectorPrefix
	MismatchNoPrefixOpcode
	MismatchMissingMandatoryPrefix
	MismatchMissingREXPrefix
	MismatchMissingREX_W
	MismatchWrongOpcode
	MismatchWrongModifiedOpcode
	MismatchMissingModRM
	MismatchWrongModRMreg
)

func (m MachineCodeMatch) String() string {
	switch m {
	case Match:
		return "match"
	case MismatchNoMachineCode:
		return "no machine code"
	case MismatchVectorPrefix:
		return "vector prefix encodings are not matched"
	case MismatchNoPrefixOpcode:
		return "no prefix opcode"
	case MismatchMissingMandatoryPrefix:
		return "missing mandatory prefix"
	case MismatchMissingREXPrefix:
		return "missing REX prefix"
	case MismatchMissingREX_W:
		return "missing REX.W"
	case MismatchWrongOpcode:
		return "wrong opcode"
	case MismatchWrongModifiedOpcode:
		return "wrong modified opcode"
	case MismatchMissingModRM:
		return "missing Mod/RM byte"
	case MismatchWrongModRMreg:
		return "wrong ModR/M.reg"
	default:
		return fmt.Sprintf("MachineCodeMatch(%d)", m)
	}
}

// MatchesMachineCode indicates whether the given
// machine code could be produced by encoding this
// instruction. Only legacy and REX encodings are
// matched, using their prefixes and opcodes, so
// missing or incorrect operands will not be
// identified.
func (e *Encoding) MatchesMachineCode(code []byte) MachineCodeMatch {
	switch e.Family() {
	case FamilyNone, FamilyREX:
	default:
		return MismatchVectorPrefix
	}

	// We must have at least some machine code.
	if len(code) == 0 {
		return MismatchNoMachineCode
	}

	// Make sure that we have any mandatory
	// prefix opcodes.
	var ok bool
	code, ok = bytes.CutPrefix(code, e.PrefixOpcodes)
	if !ok {
		return MismatchNoPrefixOpcode
	}

	// Mandatory prefixes must appear in
	// order.
	for _, want := range e.MandatoryPrefixes {
		if len(code) == 0 || code[0] != byte(want) {
			return MismatchMissingMandatoryPrefix
		}

		code = code[1:]
	}

	// Check for any mandatory REX prefix.
	if rex, ok := e.Prefix.(REXPrefix); ok {
		if len(code) == 0 || code[0]>>4 != 0b0100 {
			return MismatchMissingREXPrefix
		}

		if rex.W && (code[0]>>3)&1 == 0 {
			return MismatchMissingREX_W
		}

		code = code[1:]
	}

	start := len(e.PrefixOpcodes) + len(e.MandatoryPrefixes)
	opcode := e.Bytes[start:]
	if len(code) < len(opcode) {
		return MismatchWrongOpcode
	}

	addend := -1
	if i := e.AddendIndex(); i >= 0 {
		addend = i - start
	}

	for i, want := range opcode {
		got := code[i]
		if i == addend {
			// The modified opcode byte can
			// be up to 7 more than the base.
			if got < want || got-want > 7 {
				return MismatchWrongModifiedOpcode
			}

			continue
		}

		if got != want {
			return MismatchWrongOpcode
		}
	}

	code = code[len(opcode):]

	if e.ModRM && len(code) == 0 {
		return MismatchMissingModRM
	}

	// Check that any fixed ModR/M.reg
	// field is present.
	if e.ModRMreg != 0 {
		reg := (code[0] >> 3) & 0b111
		if reg != e.ModRMreg-1 {
			return MismatchWrongModRMreg
		}
	}

	// Any implied immediate is not
	// checked, as it follows the
	// variable-length addressing bytes.

	return Match
}

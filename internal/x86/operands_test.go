// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseOperand(t *testing.T) {
	tests := []struct {
		Name  string
		Token string
		Want  *Operand
	}{
		{
			Name:  "register class",
			Token: "xmm",
			Want: &Operand{
				Forms: []Form{{Class: ClassRegister, Register: "xmm", Size: Fixed(128)}},
			},
		},
		{
			Name:  "register or memory",
			Token: "W:r32/m32",
			Want: &Operand{
				Access:   AccessWrite,
				Explicit: true,
				Forms: []Form{
					{Class: ClassRegister, Register: "r32", Size: Fixed(32)},
					{Class: ClassMemory, Size: Fixed(32)},
				},
			},
		},
		{
			Name:  "paired register",
			Token: "r/m16",
			Want: &Operand{
				Forms: []Form{
					{Class: ClassRegister, Register: "r16", Size: Fixed(16)},
					{Class: ClassMemory, Size: Fixed(16)},
				},
			},
		},
		{
			Name:  "platform register",
			Token: "reg",
			Want: &Operand{
				Forms: []Form{{Class: ClassRegister, Register: "reg", Size: Size{Kind: SizePlatform}}},
			},
		},
		{
			Name:  "broadcast with annotations",
			Token: "zmm/m512/b64 {k} {er}",
			Want: &Operand{
				Forms: []Form{
					{Class: ClassRegister, Register: "zmm", Size: Fixed(512)},
					{Class: ClassMemory, Size: Fixed(512)},
				},
				Broadcast: 64,
				Mask:      MaskMerge,
				Rounding:  true,
			},
		},
		{
			Name:  "zeroing mask",
			Token: "X:vmm {kz}",
			Want: &Operand{
				Access:   AccessReadWrite,
				Explicit: true,
				Forms:    []Form{{Class: ClassRegister, Register: "vmm", Size: Vector(1)}},
				Mask:     MaskZero,
			},
		},
		{
			Name:  "vector fraction",
			Token: "vmm.2/vm.2",
			Want: &Operand{
				Forms: []Form{
					{Class: ClassRegister, Register: "vmm", Size: Vector(2)},
					{Class: ClassMemory, Size: Vector(2)},
				},
			},
		},
		{
			Name:  "implicit register",
			Token: "<al>",
			Want: &Operand{
				Implicit: true,
				Forms:    []Form{{Class: ClassFixedRegister, Register: "al", Size: Fixed(8)}},
			},
		},
		{
			Name:  "implicit string memory",
			Token: "R:<m8[ds:*si]>",
			Want: &Operand{
				Access:   AccessRead,
				Explicit: true,
				Implicit: true,
				Forms: []Form{{
					Class:    ClassImplicitMemory,
					Size:     Fixed(8),
					Segment:  "ds",
					Register: "si",
					Family:   true,
				}},
			},
		},
		{
			Name:  "register family",
			Token: "*ax",
			Want: &Operand{
				Forms: []Form{{Class: ClassFixedRegister, Register: "ax", Family: true, Size: Size{Kind: SizePlatform}}},
			},
		},
		{
			Name:  "vsib",
			Token: "vm64y",
			Want: &Operand{
				Forms: []Form{{Class: ClassVSIB, Size: Fixed(64), Register: "ymm", Index: Fixed(256)}},
			},
		},
		{
			Name:  "far pointer",
			Token: "ptr16:32",
			Want: &Operand{
				Forms: []Form{{Class: ClassFarPointer, Size: Fixed(48), Parts: []int{16, 32}}},
			},
		},
		{
			Name:  "far memory",
			Token: "m16:64",
			Want: &Operand{
				Forms: []Form{{Class: ClassFarMemory, Size: Fixed(80), Parts: []int{16, 64}}},
			},
		},
		{
			Name:  "constant",
			Token: "1",
			Want: &Operand{
				Forms: []Form{{Class: ClassConstant, Value: 1}},
			},
		},
		{
			Name:  "print only immediate",
			Token: "pimm8",
			Want: &Operand{
				Forms: []Form{{Class: ClassImmediate, Size: Fixed(8), PrintOnly: true}},
			},
		},
		{
			Name:  "memory offset",
			Token: "moffs64",
			Want: &Operand{
				Forms: []Form{{Class: ClassMemoryOffset, Size: Fixed(64)}},
			},
		},
	}

	syms := testSymbols(t)
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			got, err := ParseOperand(test.Token, syms)
			if err != nil {
				t.Fatalf("ParseOperand(%q): got unexpected error: %v", test.Token, err)
			}

			if diff := cmp.Diff(test.Want, got); diff != "" {
				t.Fatalf("ParseOperand(%q): (-want, +got)\n%s", test.Token, diff)
			}
		})
	}
}

func TestOperandString(t *testing.T) {
	// Each token is parsed and printed.
	// Canonical tokens must come back
	// unchanged.
	tests := []struct {
		Token string
		Want  string
	}{
		{Token: "xmm", Want: "xmm"},
		{Token: "W:r32/m32", Want: "W:r32/m32"},
		{Token: "r/m64", Want: "r64/m64"},
		{Token: "zmm/m512/b64 {k} {er}", Want: "zmm/m512/b64 {k} {er}"},
		{Token: "xmm {er} {k}", Want: "xmm {k} {er}"},
		{Token: "X:vmm.4 {kz}", Want: "X:vmm.4 {kz}"},
		{Token: "vm.low", Want: "vm.low"},
		{Token: "<m8[es:*di]>", Want: "<m8[es:*di]>"},
		{Token: "<[zsi]>", Want: "<[zsi]>"},
		{Token: "vm32l", Want: "vm32l"},
		{Token: "m16&32", Want: "m16&32"},
		{Token: "rel8", Want: "rel8"},
		{Token: "st0", Want: "st0"},
		{Token: "3", Want: "3"},
		{Token: "mem", Want: "mem"},
	}

	syms := testSymbols(t)
	for _, test := range tests {
		t.Run(test.Token, func(t *testing.T) {
			op, err := ParseOperand(test.Token, syms)
			if err != nil {
				t.Fatalf("ParseOperand(%q): got unexpected error: %v", test.Token, err)
			}

			if got := op.String(); got != test.Want {
				t.Fatalf("ParseOperand(%q).String(): got %q, want %q", test.Token, got, test.Want)
			}

			again, err := ParseOperand(op.String(), syms)
			if err != nil {
				t.Fatalf("ParseOperand(%q): got unexpected error: %v", op.String(), err)
			}

			if diff := cmp.Diff(op, again); diff != "" {
				t.Fatalf("ParseOperand(%q): round trip (-first, +second)\n%s", test.Token, diff)
			}
		})
	}
}

func TestParseOperandErrors(t *testing.T) {
	tests := []struct {
		Name  string
		Token string
		Want  Kind
	}{
		{Name: "unknown", Token: "foo", Want: UnknownOperandToken},
		{Name: "bad access", Token: "Q:xmm", Want: UnknownOperandToken},
		{Name: "unknown annotation", Token: "xmm {q}", Want: UnknownOperandToken},
		{Name: "repeated annotation", Token: "xmm {k} {kz}", Want: UnknownOperandToken},
		{Name: "unpaired r", Token: "r/xmm", Want: UnknownOperandToken},
		{Name: "lone broadcast", Token: "b32", Want: UnknownOperandToken},
		{Name: "undefined class", Token: "tmm", Want: UnknownOperandToken},
		{Name: "bad segment", Token: "m8[ax:*di]", Want: UnknownOperandToken},
		{Name: "not a family", Token: "*eax", Want: UnknownOperandToken},
		{Name: "bad memory size", Token: "m24", Want: UnknownOperandToken},
		{Name: "unbalanced", Token: "m8[es:*di", Want: MalformedField},
		{Name: "empty alternative", Token: "xmm/", Want: MalformedField},
		{Name: "empty", Token: " ", Want: MalformedField},
	}

	syms := testSymbols(t)
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			op, err := ParseOperand(test.Token, syms)
			if err == nil {
				t.Fatalf("ParseOperand(%q): got %v, want error", test.Token, op)
			}

			if kinds := errorKinds(err); len(kinds) != 1 || kinds[0] != test.Want {
				t.Fatalf("ParseOperand(%q): got error %v, want %v", test.Token, err, test.Want)
			}
		})
	}
}

func TestParseOperands(t *testing.T) {
	syms := testSymbols(t)
	ops, err := ParseOperands("r/m32, <cl>, W:imm8", syms)
	if err != nil {
		t.Fatalf("ParseOperands(): got unexpected error: %v", err)
	}

	var got []Access
	for _, op := range ops {
		got = append(got, op.Access)
	}

	want := []Access{AccessReadWrite, AccessRead, AccessWrite}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ParseOperands(): access (-want, +got)\n%s", diff)
	}

	ops, err = ParseOperands("", syms)
	if err != nil || len(ops) != 0 {
		t.Fatalf("ParseOperands(\"\"): got %v, %v", ops, err)
	}

	_, err = ParseOperands("al, foo, xmm {z}", syms)
	errs, ok := err.(Errors)
	if !ok || len(errs) != 2 {
		t.Fatalf("ParseOperands(): got error %v, want 2 errors", err)
	}

	if errs[0].Operand != 2 || errs[1].Operand != 3 {
		t.Fatalf("ParseOperands(): got operands %d and %d, want 2 and 3", errs[0].Operand, errs[1].Operand)
	}
}

func TestResolveAccess(t *testing.T) {
	ops := []*Operand{
		{},
		{Access: AccessWrite, Explicit: true},
		{},
	}

	ResolveAccess(ops)
	got := []Access{ops[0].Access, ops[1].Access, ops[2].Access}
	want := []Access{AccessReadWrite, AccessWrite, AccessRead}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ResolveAccess(): (-want, +got)\n%s", diff)
	}
}

func TestSizeResolve(t *testing.T) {
	tests := []struct {
		Size Size
		Want int
	}{
		{Size: Fixed(16), Want: 16},
		{Size: Size{Kind: SizePlatform}, Want: 64},
		{Size: Vector(1), Want: 256},
		{Size: Vector(4), Want: 64},
		{Size: Size{Kind: SizeVectorLow}, Want: 128},
		{Size: Size{}, Want: 0},
	}

	for _, test := range tests {
		if got := test.Size.Resolve(64, 256); got != test.Want {
			t.Errorf("%v.Resolve(64, 256): got %d, want %d", test.Size, got, test.Want)
		}
	}
}

// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package crosscheck

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"firefly-os.dev/opcodesdb/internal/x86"
	"firefly-os.dev/opcodesdb/internal/x86/x86table"
)

func testTables(t *testing.T) *x86.Tables {
	t.Helper()
	tables, err := x86table.Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}

	return tables
}

func TestSynthesise(t *testing.T) {
	tests := []struct {
		Name     string
		Encoding string
		Bits     int
		Memory   bool
		Want     string
	}{
		{Name: "immediate", Encoding: "mi:81 /0 id", Bits: 64, Want: "81c000000000"},
		{Name: "memory", Encoding: "mi:81 /0 id", Bits: 64, Memory: true, Want: "810000000000"},
		{Name: "rex.w", Encoding: "x64:oi:rex.w b8+r iq", Bits: 64, Want: "48b80000000000000000"},
		{Name: "mandatory prefix", Encoding: "rm:66 0f 58 /r", Bits: 32, Want: "660f58c0"},
		{Name: "operand size", Encoding: "oi:os16 b8+r iw", Bits: 32, Want: "66b80000"},
		{Name: "prefix opcode", Encoding: "9b d9 /7", Bits: 32, Want: "d9f8"},
		{Name: "implied immediate", Encoding: "0f 0f /r b4", Bits: 32, Want: "0f0fc0b4"},
		{Name: "stack addend", Encoding: "d8+i", Bits: 32, Want: "d8"},
	}

	syms, err := x86.NewSymbols(testTables(t))
	if err != nil {
		t.Fatalf("NewSymbols(): %v", err)
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			enc, err := x86.ParseEncoding(test.Encoding, syms)
			if err != nil {
				t.Fatalf("ParseEncoding(%q): %v", test.Encoding, err)
			}

			got, err := Synthesise(enc, test.Bits, test.Memory)
			if err != nil {
				t.Fatalf("Synthesise(%q): %v", test.Encoding, err)
			}

			if diff := cmp.Diff(test.Want, hex.EncodeToString(got)); diff != "" {
				t.Fatalf("Synthesise(%q): (-want, +got)\n%s", test.Encoding, diff)
			}
		})
	}

	enc, err := x86.ParseEncoding("rvm:vex.nds.256.66.0f.wig 58 /r", syms)
	if err != nil {
		t.Fatalf("ParseEncoding(): %v", err)
	}

	if _, err := Synthesise(enc, 64, false); !errors.Is(err, ErrVectorPrefix) {
		t.Fatalf("Synthesise(vex): got error %v, want %v", err, ErrVectorPrefix)
	}
}

func TestCheck(t *testing.T) {
	tuples := []x86.Tuple{
		/* 0 */ {Mnemonic: "add", Operands: "r/m32, imm32", Encoding: "mi:81 /0 id"},
		/* 1 */ {Mnemonic: "sub", Operands: "r/m32, imm32", Encoding: "mi:81 /0 id"},
		/* 2 */ {Mnemonic: "shl", Operands: "r/m32", Encoding: "m:d1 /4"},
		/* 3 */ {Mnemonic: "sal", Operands: "r/m32", Encoding: "m:d1 /4", Metadata: "aliasOf=shl"},
		/* 4 */ {Mnemonic: "mov", Operands: "W:r64, imm64", Encoding: "x64:oi:rex.w b8+r iq"},
		/* 5 */ {Mnemonic: "pause", Encoding: "f3 90"},
		/* 6 */ {Mnemonic: "vaddpd", Operands: "W:ymm, ymm, ymm/m256", Encoding: "rvm:vex.nds.256.66.0f.wig 58 /r", Metadata: "cpuid=avx"},
		/* 7 */ {Mnemonic: "addpd", Operands: "xmm, xmm/m128", Encoding: "rm:66 0f 58 /r", Metadata: "cpuid=sse2"},
	}

	env, err := x86.Build(context.Background(), testTables(t), tuples)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}

	report, err := Check(context.Background(), env, nil)
	if err != nil {
		t.Fatalf("Check(): %v", err)
	}

	if report.Checked != 13 || report.Skipped != 2 {
		t.Errorf("Check(): got %d checked and %d skipped, want 13 and 2", report.Checked, report.Skipped)
	}

	type mismatch struct {
		Index   int
		Arch    string
		Decoded string
	}

	var got []mismatch
	for _, res := range report.Mismatches {
		got = append(got, mismatch{Index: res.Instruction.Index, Arch: res.Arch, Decoded: res.Decoded})
	}

	want := []mismatch{
		{Index: 1, Arch: "x86", Decoded: "add"},
		{Index: 1, Arch: "x64", Decoded: "add"},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Check(): (-want, +got)\n%s", diff)
	}

	var buf bytes.Buffer
	err = report.Print(&buf)
	if err != nil {
		t.Fatalf("Print(): %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "decodes as add") || !strings.HasSuffix(out, "checked 13, skipped 2, mismatched 2\n") {
		t.Fatalf("Print(): unexpected output:\n%s", out)
	}
}

func TestCheckCancelled(t *testing.T) {
	env, err := x86.Build(context.Background(), testTables(t), []x86.Tuple{{Mnemonic: "pause", Encoding: "f3 90"}})
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Check(ctx, env, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Check(): got error %v, want %v", err, context.Canceled)
	}
}

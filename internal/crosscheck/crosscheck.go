// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package crosscheck compares an instruction
// environment against an independent decoder.
//
// For each legacy or REX encoded instruction,
// a minimal machine code sequence is built
// and decoded with golang.org/x/arch/x86/x86asm.
// Records whose decoded mnemonic differs are
// reported. The results are advisory and do
// not affect the environment.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/arch/x86/x86asm"

	"firefly-os.dev/opcodesdb/internal/x86"
)

// ErrVectorPrefix is returned when asked to
// synthesise a VEX, EVEX, XOP, or DREX encoding.
var ErrVectorPrefix = errors.New("vector prefix encodings are not synthesised")

// Synthesise returns a minimal machine code
// sequence for the encoding in a processor
// mode of the given width. Operands are all
// zero. If memory is set, any ModR/M byte
// selects a memory operand with no
// displacement; otherwise it selects a
// register.
//
// Any prefix opcodes, such as fwait, are
// left out, as they decode as separate
// instructions.
func Synthesise(enc *x86.Encoding, bits int, memory bool) ([]byte, error) {
	switch enc.Family() {
	case x86.FamilyNone, x86.FamilyREX:
	default:
		return nil, ErrVectorPrefix
	}

	if bits != 16 && bits != 32 && bits != 64 {
		return nil, fmt.Errorf("invalid processor mode %d", bits)
	}

	mandatory := func(p x86.LegacyPrefix) bool {
		for _, got := range enc.MandatoryPrefixes {
			if got == p {
				return true
			}
		}

		return false
	}

	var code []byte
	if enc.OperandSize == 16 && bits != 16 && !mandatory(x86.PrefixOperandSize) {
		code = append(code, byte(x86.PrefixOperandSize))
	}

	if enc.OperandSize == 32 && bits == 16 && !mandatory(x86.PrefixOperandSize) {
		code = append(code, byte(x86.PrefixOperandSize))
	}

	if enc.AddressSize != 0 && enc.AddressSize != bits && !mandatory(x86.PrefixAddressSize) {
		code = append(code, byte(x86.PrefixAddressSize))
	}

	for _, prefix := range enc.MandatoryPrefixes {
		code = append(code, byte(prefix))
	}

	if rex, ok := enc.Prefix.(x86.REXPrefix); ok {
		b := byte(0x40)
		if rex.W {
			b |= 0x08
		}

		code = append(code, b)
	}

	code = append(code, enc.Bytes[len(enc.PrefixOpcodes)+len(enc.MandatoryPrefixes):]...)

	if enc.ModRM {
		var modrm byte
		if !memory {
			modrm = 0b11 << 6
		}

		if enc.ModRMreg != 0 {
			modrm |= (enc.ModRMreg - 1) << 3
		}

		code = append(code, modrm)
	}

	zeros := func(bits int) {
		code = append(code, make([]byte, bits/8)...)
	}

	for _, imm := range enc.Immediates {
		zeros(imm)
	}

	zeros(enc.CodeOffset)
	zeros(enc.MemoryOffset)
	if enc.Is4 {
		zeros(8)
	}

	code = append(code, enc.ImpliedImmediate...)

	return code, nil
}

// Result describes one instruction that
// did not decode as expected.
type Result struct {
	Instruction *x86.Instruction
	Arch        string
	Code        []byte
	Decoded     string // Any mnemonic decoded, in lower case.
	Err         error  // Any decoding error.
}

func (r *Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s (tuple %d): % x: %v", r.Arch, r.Instruction.Syntax(), r.Instruction.Index, r.Code, r.Err)
	}

	return fmt.Sprintf("%s: %s (tuple %d): % x decodes as %s", r.Arch, r.Instruction.Syntax(), r.Instruction.Index, r.Code, r.Decoded)
}

// Report summarises a cross-check.
type Report struct {
	Checked    int // Instruction and architecture pairs decoded.
	Skipped    int // Pairs with a vector prefix.
	Mismatches []*Result
}

// Print writes the report in a readable
// form.
func (r *Report) Print(w io.Writer) error {
	for _, res := range r.Mismatches {
		if _, err := fmt.Fprintln(w, res); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "checked %d, skipped %d, mismatched %d\n", r.Checked, r.Skipped, len(r.Mismatches))
	return err
}

// Check decodes each legacy instruction
// in env, on each of its architectures.
// The logger may be nil.
func Check(ctx context.Context, env *x86.Environment, logger *log.Logger) (*Report, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	report := new(Report)
	for _, inst := range env.Instructions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, id := range inst.Encoding.Archs {
			arch := env.Architecture(id)
			if arch == nil {
				return nil, fmt.Errorf("tuple %d: unknown architecture %q", inst.Index, id)
			}

			res, err := check(inst, arch)
			if errors.Is(err, ErrVectorPrefix) {
				report.Skipped++
				continue
			}

			if err != nil {
				return nil, fmt.Errorf("tuple %d: %v", inst.Index, err)
			}

			report.Checked++
			if res != nil {
				logger.Debug("mismatch", "arch", id, "instruction", inst.Syntax(), "decoded", res.Decoded)
				report.Mismatches = append(report.Mismatches, res)
			}
		}
	}

	logger.Info("cross-checked environment", "checked", report.Checked, "skipped", report.Skipped, "mismatches", len(report.Mismatches))

	return report, nil
}

// check returns a Result if inst does not
// decode to its own mnemonic or the one it
// is an alias of.
func check(inst *x86.Instruction, arch *x86.Architecture) (*Result, error) {
	forms := []bool{false}
	if inst.Encoding.ModRM {
		forms = append(forms, true)
	}

	var res *Result
	for _, memory := range forms {
		code, err := Synthesise(inst.Encoding, arch.Bits, memory)
		if err != nil {
			return nil, err
		}

		res = &Result{Instruction: inst, Arch: arch.ID, Code: code}
		decoded, err := x86asm.Decode(code, arch.Bits)
		if err != nil {
			res.Err = err
			continue
		}

		res.Decoded = strings.ToLower(decoded.Op.String())
		if decoded.Len != len(code) {
			res.Err = fmt.Errorf("decoded %d of %d bytes as %s", decoded.Len, len(code), res.Decoded)
			continue
		}

		if res.Decoded == inst.Mnemonic || (inst.Metadata.AliasOf != "" && res.Decoded == inst.Metadata.AliasOf) {
			return nil, nil
		}
	}

	return res, nil
}

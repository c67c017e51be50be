// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"fmt"
)

// checkInstruction performs various sanity checks
// on the instruction to identify logical errors.
// Every problem found is returned.
func checkInstruction(inst *Instruction, syms *Symbols) Errors {
	var errs Errors
	errorf := func(operand int, format string, v ...any) {
		err := Errorf(InconsistentEncoding, "", format, v...)
		err.Operand = operand
		err.Field = FieldEncoding
		errs = append(errs, err)
	}

	enc := inst.Encoding
	errs = append(errs, checkTag(inst)...)

	// EVEX memory operands need a tuple
	// type to scale displacements.
	evex := enc.Family() == FamilyEVEX
	if evex && enc.Tuple == TupleNone {
		for i, op := range inst.Operands {
			if op.HasAddressable() {
				errorf(i+1, "evex encoding with memory operand %s has no tuple type", op.Shape())
			}
		}
	}

	if enc.Tuple == Tuple1Scalar && inst.DataSize() == 0 {
		errorf(0, "instruction has tuple type %s but no data operation size", enc.Tuple)
	}

	// Annotations that only EVEX can
	// express.
	if !evex {
		for i, op := range inst.Operands {
			switch {
			case op.Mask != MaskNone:
				errorf(i+1, "opmask on a %s encoding", enc.Family())
			case op.Rounding:
				errorf(i+1, "embedded rounding on a %s encoding", enc.Family())
			case op.SAE:
				errorf(i+1, "suppress all exceptions on a %s encoding", enc.Family())
			case op.Broadcast != 0:
				errorf(i+1, "broadcast on a %s encoding", enc.Family())
			}
		}
	}

	if inst.Metadata.Lock != 0 {
		if len(inst.Operands) == 0 || !inst.Operands[0].HasAddressable() {
			err := Errorf(InconsistentEncoding, "lock="+inst.Metadata.Lock.String(), "lockable instruction has no memory destination")
			err.Field = FieldMetadata
			errs = append(errs, err)
		}
	}

	// Check that nothing limited to
	// one architecture is used by an
	// encoding for another.
	for _, arch := range enc.Archs {
		a := syms.Architecture(arch)
		if a == nil {
			continue
		}

		if enc.Family() == FamilyREX && a.Bits != 64 {
			errorf(0, "%s prefix on %d-bit architecture %s", enc.Prefix, a.Bits, arch)
		}

		if enc.OperandSize == 64 && a.Bits != 64 {
			errorf(0, "os64 on %d-bit architecture %s", a.Bits, arch)
		}

		for i, op := range inst.Operands {
			for _, form := range op.Forms {
				class := formClass(&form, syms)
				if class != nil && class.Arch != "" && class.Arch != arch {
					errorf(i+1, "operand %s uses register class %s, which is limited to %s, on %s", form.String(), class.ID, class.Arch, arch)
				}
			}
		}
	}

	return errs
}

// formClass returns the register class
// used by a register form, or nil.
func formClass(form *Form, syms *Symbols) *RegisterClass {
	switch form.Class {
	case ClassRegister:
		return syms.RegisterClass(form.Register)
	case ClassFixedRegister:
		if form.Family {
			return nil
		}

		if reg := syms.Register(form.Register); reg != nil {
			return reg.Class
		}
	}

	return nil
}

// checkTag checks the operand encoding
// letters against the operands and the
// opcode text.
func checkTag(inst *Instruction) Errors {
	enc := inst.Encoding
	if enc.Tag == "" {
		return nil
	}

	var errs Errors
	errorf := func(operand int, format string, v ...any) {
		err := Errorf(InconsistentEncoding, enc.Tag, format, v...)
		err.Operand = operand
		err.Field = FieldEncoding
		errs = append(errs, err)
	}

	explicit := make([]int, 0, len(inst.Operands)) // Operand indices.
	for i, op := range inst.Operands {
		if !op.Implicit {
			explicit = append(explicit, i)
		}
	}

	if len(enc.Tag) != len(explicit) {
		errorf(0, "operand encoding %q expects %d operands, found %d", enc.Tag, len(enc.Tag), len(explicit))
		return errs
	}

	var (
		seen       = make(map[rune]int)
		immediates []int
	)

	for j, letter := range enc.Tag {
		i := explicit[j]
		op := inst.Operands[i]
		seen[letter]++
		if letter != 'i' && letter != 'x' && seen[letter] > 1 {
			errorf(i+1, "found second operand encoded as %q", letter)
			continue
		}

		switch letter {
		case 'r':
			if !op.HasRegister() {
				errorf(i+1, "operand %s is encoded in ModR/M.reg but is not a register", op.Shape())
			}

			if !enc.ModRM {
				errorf(i+1, "operand %s is encoded in ModR/M.reg but the encoding has no ModR/M byte", op.Shape())
			}

			if enc.ModRMreg != 0 {
				errorf(i+1, "found register operand %s and fixed value /%d encoded in ModR/M.reg", op.Shape(), enc.ModRMreg-1)
			}
		case 'm':
			if !op.HasRegister() && !op.HasAddressable() {
				errorf(i+1, "operand %s is encoded in ModR/M.rm but is neither a register nor memory", op.Shape())
			}

			if !enc.ModRM {
				errorf(i+1, "operand %s is encoded in ModR/M.rm but the encoding has no ModR/M byte", op.Shape())
			}
		case 'v':
			if !op.HasRegister() {
				errorf(i+1, "operand %s is encoded in vvvv but is not a register", op.Shape())
			}

			switch enc.Family() {
			case FamilyVEX, FamilyEVEX, FamilyXOP, FamilyDREX:
			default:
				errorf(i+1, "operand %s is encoded in vvvv but the encoding has a %s prefix", op.Shape(), enc.Family())
			}
		case 'i':
			if imm := op.Form(ClassImmediate); imm != nil {
				if !imm.PrintOnly {
					immediates = append(immediates, imm.Size.Bits)
				}

				continue
			}

			if op.Form(ClassConstant) != nil {
				continue
			}

			if !enc.Is4 || !op.HasRegister() {
				errorf(i+1, "operand %s is encoded as an immediate but is not one", op.Shape())
			}
		case 'd':
			rel := op.Form(ClassRelative)
			moffs := op.Form(ClassMemoryOffset)
			switch {
			case rel != nil && enc.CodeOffset == 0:
				errorf(i+1, "a relative code offset parameter %s is included but no code offset is encoded", op.Shape())
			case rel != nil && rel.Size.Bits != enc.CodeOffset:
				errorf(i+1, "code offset parameter %s has size %d bits but expected %d bits", op.Shape(), rel.Size.Bits, enc.CodeOffset)
			case moffs != nil && enc.MemoryOffset == 0:
				errorf(i+1, "a memory offset parameter %s is included but no memory offset is encoded", op.Shape())
			case rel == nil && moffs == nil:
				errorf(i+1, "operand %s is encoded as an offset but is not one", op.Shape())
			}
		case 'o':
			if !op.HasRegister() {
				errorf(i+1, "operand %s is encoded in the opcode but is not a register", op.Shape())
			}

			if enc.RegisterModifier == 0 && enc.StackIndex == 0 {
				errorf(i+1, "operand %s is encoded in the opcode but the encoding has no addend", op.Shape())
			}
		}
	}

	if len(immediates) != len(enc.Immediates) {
		errorf(0, "found %d immediate operands but expected %d from the encoding %s", len(immediates), len(enc.Immediates), enc.Syntax)
	} else {
		for i := range immediates {
			if immediates[i] != enc.Immediates[i] {
				errorf(0, "immediate operand %d of %d has size %d bits but expected %d bits from the encoding %s", i+1, len(immediates), immediates[i], enc.Immediates[i], enc.Syntax)
			}
		}
	}

	if (enc.RegisterModifier != 0 || enc.StackIndex != 0) && seen['o'] == 0 {
		errorf(0, "found an opcode addend but no operand encoded in the opcode")
	}

	return errs
}

// summary is used in error messages.
func summary(inst *Instruction) string {
	return fmt.Sprintf("%s [%s]", inst.Syntax(), inst.Encoding.Syntax)
}

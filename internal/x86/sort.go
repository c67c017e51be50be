// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"sort"
)

// SortCandidates sorts a set of
// instructions that share an opcode
// so that the most likely decoding
// comes first.
func SortCandidates(insts []*Instruction) {
	// It's important that we get this right
	// so that a disassembler picks the
	// canonical form when several forms
	// match the same bytes.
	//
	// When sorting, we prefer preferred
	// forms over untagged ones over
	// alternatives, then simpler prefixes,
	// then shorter opcodes. Input order
	// breaks any remaining ties.
	sort.SliceStable(insts, func(i, j int) bool {
		inst1 := insts[i]
		inst2 := insts[j]

		form1 := formPriority(inst1.Metadata.Form)
		form2 := formPriority(inst2.Metadata.Form)
		if form1 != form2 {
			return form1 < form2
		}

		family1 := familyPriority(inst1.Encoding.Family())
		family2 := familyPriority(inst2.Encoding.Family())
		if family1 != family2 {
			return family1 < family2
		}

		len1 := len(inst1.Encoding.Bytes)
		len2 := len(inst2.Encoding.Bytes)
		if len1 != len2 {
			return len1 < len2 // Prefer shorter opcodes.
		}

		vector1 := inst1.Encoding.VectorSize()
		vector2 := inst2.Encoding.VectorSize()
		if vector1 != vector2 {
			return vector1 < vector2 // Prefer smaller vector sizes.
		}

		return inst1.Index < inst2.Index
	})
}

func formPriority(f FormTag) int {
	switch f {
	case FormPreferred:
		return 0
	case FormNone:
		return 1
	}

	return 2
}

func familyPriority(f PrefixFamily) int {
	switch f {
	case FamilyNone:
		return 0
	case FamilyREX:
		return 1
	case FamilyVEX:
		return 2
	case FamilyXOP, FamilyDREX:
		return 3
	}

	return 4 // EVEX.
}

// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package x86 normalizes x86 and x64 instruction
// definitions into structured information.
//
// Each definition is a Tuple of four strings: the
// mnemonic, the operand list, the encoding, and
// the metadata. Build resolves a set of tuples
// against a set of Tables, checks them, and
// returns an immutable Environment.
package x86

import (
	"encoding/json"
	"fmt"
)

// Tuple is a raw instruction definition.
type Tuple struct {
	Mnemonic string `json:"mnemonic" yaml:"mnemonic" toml:"mnemonic"`
	Operands string `json:"operands" yaml:"operands" toml:"operands"`
	Encoding string `json:"encoding" yaml:"encoding" toml:"encoding"`
	Metadata string `json:"metadata" yaml:"metadata" toml:"metadata"`
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s %s [%s] %s", t.Mnemonic, t.Operands, t.Encoding, t.Metadata)
}

// Instruction includes structured information
// about an instruction.
type Instruction struct {
	Index    int        `json:"index"`    // The index of the tuple in the input.
	Mnemonic string     `json:"mnemonic"` // The instruction's name, in lower case.
	Source   Tuple      `json:"source"`   // The raw tuple.
	Operands []*Operand `json:"operands"` // Any parameters to the instruction.
	Encoding *Encoding  `json:"encoding"` // The information on how to encode the instruction.
	Metadata *Metadata  `json:"metadata"` // The instruction's properties, merged with the template.
}

// Syntax returns the instruction's mnemonic
// and canonical operands.
func (inst *Instruction) Syntax() string {
	s := inst.Mnemonic
	for i, op := range inst.Operands {
		if i == 0 {
			s += " "
		} else {
			s += ", "
		}

		s += op.Shape()
	}

	return s
}

// Supports returns whether inst is supported
// on the given architecture.
func (inst *Instruction) Supports(arch string) bool {
	return inst.Encoding.Supports(arch)
}

// HasCPUID returns whether inst's CPUID
// mentions the given feature.
func (inst *Instruction) HasCPUID(feature string) bool {
	for _, all := range inst.Metadata.CPUID {
		for _, got := range all {
			if got == feature {
				return true
			}
		}
	}

	return false
}

// Explicit returns the operands that are
// written out, in order.
func (inst *Instruction) Explicit() []*Operand {
	out := make([]*Operand, 0, len(inst.Operands))
	for _, op := range inst.Operands {
		if !op.Implicit {
			out = append(out, op)
		}
	}

	return out
}

// DataSize returns the size in bits of the
// instruction's first fixed-size memory
// operand, or zero.
func (inst *Instruction) DataSize() int {
	for _, op := range inst.Operands {
		for _, form := range op.Forms {
			if form.Class.Addressable() && form.Size.Kind == SizeFixed {
				return form.Size.Bits
			}
		}
	}

	return 0
}

// DisplacementCompression returns
// the value N for the instruction,
// as described in Intel x86 manuals,
// Volume 2A, Section 2.7.5.
//
// vl is the vector length in use, which
// is needed for encodings with a length
// of vl.
func (inst *Instruction) DisplacementCompression(broadcast bool, vl int) (n int64, err error) {
	var inputSize int64
	if inst.Encoding.W() {
		inputSize = 64
	} else {
		inputSize = 32
	}

	vectorSize := int64(inst.Encoding.VectorSize())
	if vectorSize == 0 {
		vectorSize = int64(vl)
	}

	if vectorSize == 0 || inst.Encoding.Family() != FamilyEVEX {
		return 1, nil
	}

	switch inst.Encoding.Tuple {
	case TupleNone:
		return 1, nil
	case TupleFull:
		if broadcast {
			return inputSize / 8, nil
		}

		return vectorSize / 8, nil
	case TupleHalf:
		if broadcast {
			return 4, nil
		}

		return vectorSize / 16, nil
	case TupleFullMem:
		return vectorSize / 8, nil
	case Tuple1Scalar:
		size := inst.DataSize()
		if size == 0 {
			return 1, fmt.Errorf("instruction %s has tuple type %s but no data size", inst.Mnemonic, inst.Encoding.Tuple)
		}

		return int64(size) / 8, nil
	case Tuple1Fixed:
		return inputSize / 8, nil
	case Tuple1_4X:
		return 16, nil
	case Tuple2:
		return inputSize / 4, nil
	case Tuple4:
		return inputSize / 2, nil
	case Tuple8:
		return inputSize / 1, nil
	case TupleHalfMem:
		return vectorSize / 16, nil
	case TupleQuarterMem:
		return vectorSize / 32, nil
	case TupleEighthMem:
		return vectorSize / 64, nil
	case TupleMem128:
		return 16, nil
	case TupleMOVDDUP:
		switch vectorSize {
		case 128:
			return 8, nil
		case 256:
			return 32, nil
		case 512:
			return 64, nil
		}

		return 1, fmt.Errorf("instruction %s has invalid vector size %d", inst.Mnemonic, vectorSize)
	default:
		return 1, fmt.Errorf("unknown tuple type: %s", inst.Encoding.Tuple)
	}
}

// TupleType contains an EVEX instruction
// tuple kind, as defined in Intel x86,
// Volume 2A, Section 2.6.5.
type TupleType uint8

const (
	TupleNone TupleType = iota
	TupleFull
	TupleHalf
	TupleFullMem
	Tuple1Scalar
	Tuple1Fixed
	Tuple1_4X
	Tuple2
	Tuple4
	Tuple8
	TupleHalfMem
	TupleQuarterMem
	TupleEighthMem
	TupleMem128
	TupleMOVDDUP
)

var TupleTypes = map[string]TupleType{
	"":      TupleNone,
	"fv":    TupleFull,
	"hv":    TupleHalf,
	"fvm":   TupleFullMem,
	"t1s":   Tuple1Scalar,
	"t1f":   Tuple1Fixed,
	"t1_4x": Tuple1_4X,
	"t2":    Tuple2,
	"t4":    Tuple4,
	"t8":    Tuple8,
	"hvm":   TupleHalfMem,
	"qvm":   TupleQuarterMem,
	"ovm":   TupleEighthMem,
	"m128":  TupleMem128,
	"dup":   TupleMOVDDUP,
}

func (t TupleType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TupleType) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	got, ok := TupleTypes[s]
	if !ok {
		return fmt.Errorf("invalid tuple type %q", s)
	}

	*t = got

	return nil
}

func (t TupleType) String() string {
	switch t {
	case TupleNone:
		return ""
	case TupleFull:
		return "fv"
	case TupleHalf:
		return "hv"
	case TupleFullMem:
		return "fvm"
	case Tuple1Scalar:
		return "t1s"
	case Tuple1Fixed:
		return "t1f"
	case Tuple1_4X:
		return "t1_4x"
	case Tuple2:
		return "t2"
	case Tuple4:
		return "t4"
	case Tuple8:
		return "t8"
	case TupleHalfMem:
		return "hvm"
	case TupleQuarterMem:
		return "qvm"
	case TupleEighthMem:
		return "ovm"
	case TupleMem128:
		return "m128"
	case TupleMOVDDUP:
		return "dup"
	default:
		return fmt.Sprintf("TupleType(%d)", t)
	}
}

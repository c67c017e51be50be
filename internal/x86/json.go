// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

type jsonEncoding struct {
	// The textual representation.
	Syntax string `json:"syntax"`

	Archs  []string    `json:"archs"`
	Tag    string      `json:"tag,omitempty"`
	Tuple  TupleType   `json:"tuple,omitempty"`
	Prefix *jsonPrefix `json:"prefix,omitempty"`

	// The opcode text.
	Elements []string `json:"elements"`

	// Encoding environment qualifiers.
	OperandSize int    `json:"operandSize,omitempty"`
	AddressSize int    `json:"addressSize,omitempty"`
	VL          string `json:"vl,omitempty"`

	// Derived data.
	Bytes             string   `json:"bytes"`
	PrefixOpcodes     []int    `json:"prefixOpcodes,omitempty"`
	MandatoryPrefixes []string `json:"mandatoryPrefixes,omitempty"`
	Map               string   `json:"map"`
	Opcode            int      `json:"opcode"`
	OpcodeIndex       int      `json:"opcodeIndex"`
	RegisterModifier  int      `json:"registerModifier,omitempty"`
	StackIndex        int      `json:"stackIndex,omitempty"`
	ModRM             bool     `json:"modRm,omitempty"`
	ModRMreg          uint8    `json:"modRmReg,omitempty"`
	Immediates        []int    `json:"immediates,omitempty"`
	CodeOffset        int      `json:"codeOffset,omitempty"`
	MemoryOffset      int      `json:"memoryOffset,omitempty"`
	Is4               bool     `json:"is4,omitempty"`
	ImpliedImmediate  string   `json:"impliedImmediate,omitempty"`

	// EVEX features.
	Mask      bool `json:"mask,omitempty"`
	Zero      bool `json:"zero,omitempty"`
	Rounding  bool `json:"rounding,omitempty"`
	Suppress  bool `json:"suppress,omitempty"`
	Broadcast bool `json:"broadcast,omitempty"`
}

// jsonPrefix flattens each of the prefix
// types into a single record.
type jsonPrefix struct {
	Family string `json:"family"`
	VVVV   string `json:"vvvv,omitempty"`
	Length string `json:"length,omitempty"`
	PP     string `json:"pp,omitempty"`
	Map    string `json:"map,omitempty"`
	W      string `json:"w,omitempty"`
	OC     uint8  `json:"oc,omitempty"`
}

func newJSONPrefix(p Prefix) *jsonPrefix {
	j := &jsonPrefix{Family: p.Family().String()}
	switch p := p.(type) {
	case NoPrefix:
		return nil
	case REXPrefix:
		if p.W {
			j.W = W1.String()
		}
	case VEXPrefix:
		j.VVVV = p.VVVV.String()
		j.Length = p.Length.String()
		j.PP = p.PP.token()
		j.Map = p.Map.String()
		j.W = p.W.String()
	case EVEXPrefix:
		j.VVVV = p.VVVV.String()
		j.Length = p.Length.String()
		j.PP = p.PP.token()
		j.Map = p.Map.String()
		j.W = p.W.String()
	case XOPPrefix:
		j.VVVV = p.VVVV.String()
		j.Length = p.Length.String()
		j.Map = p.Map.String()
		j.W = p.W.String()
	case DREXPrefix:
		j.OC = p.OC
	}

	return j
}

// JSONSchemaAlias returns the type whose
// structure matches an encoding's JSON form.
func (Encoding) JSONSchemaAlias() any { return jsonEncoding{} }

func (e *Encoding) MarshalJSON() ([]byte, error) {
	j := jsonEncoding{
		Syntax: e.Syntax,

		Archs: e.Archs,
		Tag:   e.Tag,
		Tuple: e.Tuple,
		// Prefix is handled separately.

		// Elements is handled separately.

		OperandSize: e.OperandSize,
		AddressSize: e.AddressSize,
		VL:          e.VL.String(),

		Bytes: hex.EncodeToString(e.Bytes),
		// PrefixOpcodes is handled separately.
		// MandatoryPrefixes is handled separately.
		Map:              e.Map.String(),
		Opcode:           int(e.Opcode),
		OpcodeIndex:      e.OpcodeIndex,
		RegisterModifier: e.RegisterModifier,
		StackIndex:       e.StackIndex,
		ModRM:            e.ModRM,
		ModRMreg:         e.ModRMreg,
		Immediates:       e.Immediates,
		CodeOffset:       e.CodeOffset,
		MemoryOffset:     e.MemoryOffset,
		Is4:              e.Is4,
		// ImpliedImmediate is handled separately.

		Mask:      e.Mask,
		Zero:      e.Zero,
		Rounding:  e.Rounding,
		Suppress:  e.Suppress,
		Broadcast: e.Broadcast,
	}

	if e.Prefix != nil {
		j.Prefix = newJSONPrefix(e.Prefix)
	}

	j.Elements = make([]string, len(e.Elements))
	for i, elt := range e.Elements {
		j.Elements[i] = elt.String()
	}

	if len(e.PrefixOpcodes) > 0 {
		j.PrefixOpcodes = make([]int, len(e.PrefixOpcodes))
		for i, op := range e.PrefixOpcodes {
			j.PrefixOpcodes[i] = int(op)
		}
	}

	if len(e.MandatoryPrefixes) > 0 {
		j.MandatoryPrefixes = make([]string, len(e.MandatoryPrefixes))
		for i, prefix := range e.MandatoryPrefixes {
			j.MandatoryPrefixes[i] = prefix.token()
		}
	}

	if len(e.ImpliedImmediate) > 0 {
		j.ImpliedImmediate = hex.EncodeToString(e.ImpliedImmediate)
	}

	return json.Marshal(j)
}

// WriteJSON writes the environment's
// instructions to w, one JSON record
// per line, in input order.
func WriteJSON(w io.Writer, env *Environment) error {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	for _, inst := range env.Instructions {
		if err := enc.Encode(inst); err != nil {
			return fmt.Errorf("failed to encode %s: %v", inst.Mnemonic, err)
		}
	}

	return buf.Flush()
}

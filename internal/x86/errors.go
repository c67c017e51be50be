// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorises a build error.
type Kind uint8

const (
	_ Kind = iota
	MalformedField
	UnknownOperandToken
	InvalidOpcodeGrammar
	UnknownMetadataKey
	UnknownFlagBit
	InconsistentEncoding
	DanglingAlias
	DuplicateDefinition
	MacroCycle
	InvalidTables
)

func (k Kind) String() string {
	switch k {
	case MalformedField:
		return "malformed field"
	case UnknownOperandToken:
		return "unknown operand token"
	case InvalidOpcodeGrammar:
		return "invalid opcode grammar"
	case UnknownMetadataKey:
		return "unknown metadata key"
	case UnknownFlagBit:
		return "unknown flag bit"
	case InconsistentEncoding:
		return "inconsistent encoding"
	case DanglingAlias:
		return "dangling alias"
	case DuplicateDefinition:
		return "duplicate definition"
	case MacroCycle:
		return "macro cycle"
	case InvalidTables:
		return "invalid tables"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error makes a Kind usable as a target
// for errors.Is.
func (k Kind) Error() string {
	return k.String()
}

// Field identifies the part of a raw tuple
// that an Error relates to.
type Field uint8

const (
	FieldNone Field = iota
	FieldMnemonic
	FieldOperands
	FieldEncoding
	FieldMetadata
)

func (f Field) String() string {
	switch f {
	case FieldNone:
		return ""
	case FieldMnemonic:
		return "mnemonic"
	case FieldOperands:
		return "operands"
	case FieldEncoding:
		return "encoding"
	case FieldMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("Field(%d)", f)
	}
}

// Error describes a single problem found while
// building an Environment.
type Error struct {
	Kind     Kind
	Index    int    // The tuple index, or -1 if the error is not tied to a tuple.
	Mnemonic string // The tuple's mnemonic, if any.
	Field    Field  // The tuple field containing the problem.
	Operand  int    // The operand index plus one. Zero for no operand.
	Clause   string // The offending token or clause.
	Err      string // The error message.
}

func (err *Error) Error() string {
	var b strings.Builder
	if err.Index >= 0 {
		fmt.Fprintf(&b, "tuple %d", err.Index)
		if err.Mnemonic != "" {
			fmt.Fprintf(&b, " (%s)", err.Mnemonic)
		}

		if err.Field != FieldNone {
			fmt.Fprintf(&b, " %s", err.Field)
		}

		if err.Operand != 0 {
			fmt.Fprintf(&b, " operand %d", err.Operand)
		}

		b.WriteString(": ")
	}

	b.WriteString(err.Kind.String())
	if err.Clause != "" {
		fmt.Fprintf(&b, " %q", err.Clause)
	}

	if err.Err != "" {
		b.WriteString(": ")
		b.WriteString(err.Err)
	}

	return b.String()
}

// Is reports whether target is err's Kind.
func (err *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && kind == err.Kind
}

// Errorf returns an Error that is not yet
// tied to a tuple.
func Errorf(kind Kind, clause string, format string, v ...any) *Error {
	return &Error{
		Kind:   kind,
		Index:  -1,
		Clause: clause,
		Err:    fmt.Sprintf(format, v...),
	}
}

// Errors is the full set of problems found
// while building an Environment, in tuple
// order.
type Errors []*Error

func (errs Errors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d errors:", len(errs))
	for _, err := range errs {
		b.WriteString("\n\t")
		b.WriteString(err.Error())
	}

	return b.String()
}

// Is reports whether any of the errors
// matches target.
func (errs Errors) Is(target error) bool {
	for _, err := range errs {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// Kind returns the subset of errs with
// the given kind.
func (errs Errors) Kind(kind Kind) Errors {
	var out Errors
	for _, err := range errs {
		if err.Kind == kind {
			out = append(out, err)
		}
	}

	return out
}

// errorList flattens err into an Errors,
// wrapping any foreign error as a malformed
// field.
func errorList(err error) Errors {
	if err == nil {
		return nil
	}

	var errs Errors
	if errors.As(err, &errs) {
		return errs
	}

	var e *Error
	if errors.As(err, &e) {
		return Errors{e}
	}

	return Errors{Errorf(MalformedField, "", "%v", err)}
}

// within attaches tuple context to any
// errors that do not yet have it.
func (errs Errors) within(index int, mnemonic string, field Field) Errors {
	for _, err := range errs {
		if err.Index < 0 {
			err.Index = index
			err.Mnemonic = mnemonic
		}

		if err.Field == FieldNone {
			err.Field = field
		}
	}

	return errs
}

// orNil returns nil if errs is empty, so
// that a typed nil never reaches an error
// interface.
func (errs Errors) orNil() error {
	if len(errs) == 0 {
		return nil
	}

	return errs
}

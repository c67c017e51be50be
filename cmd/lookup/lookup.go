// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package lookup prints information about the
// instructions and registers in an environment.
package lookup

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"firefly-os.dev/opcodesdb/internal/cli"
	"firefly-os.dev/opcodesdb/internal/x86"
)

var program = filepath.Base(os.Args[0])

// Main prints information about each query,
// which can be a mnemonic, a register name,
// an opcode (ARCH:MAP:BYTE, like x64:0f:58),
// or machine code (ARCH:HEX, like x86:f390).
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("lookup", flag.ExitOnError)

	var help bool
	var opts cli.Options
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	opts.Register(flags)

	flags.Usage = func() {
		log.Printf("Usage:\n  %s %s [OPTIONS] CATALOGUE QUERY...\n\n", program, flags.Name())
		flags.PrintDefaults()
		os.Exit(2)
	}

	err := flags.Parse(args)
	if err != nil || help || flags.NArg() < 2 {
		flags.Usage()
	}

	logger, err := opts.Logger()
	if err != nil {
		return err
	}

	env, err := opts.Load(ctx, logger, flags.Args()[:1])
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for i, query := range flags.Args()[1:] {
		if i > 0 {
			// Add a spacer.
			fmt.Fprintln(&buf)
		}

		err = Print(&buf, env, query)
		if err != nil {
			return err
		}
	}

	_, err = w.Write(buf.Bytes())
	return err
}

// Print writes the result of a single query.
func Print(w io.Writer, env *x86.Environment, query string) error {
	parts := strings.Split(query, ":")
	switch len(parts) {
	case 3:
		m, ok := x86.OpcodeMaps[parts[1]]
		if !ok {
			return fmt.Errorf("%s: unrecognised opcode map %q", query, parts[1])
		}

		opcode, err := strconv.ParseUint(parts[2], 16, 8)
		if err != nil {
			return fmt.Errorf("%s: invalid opcode %q", query, parts[2])
		}

		if env.Architecture(parts[0]) == nil {
			return fmt.Errorf("%s: unrecognised architecture %q", query, parts[0])
		}

		printInstructions(w, query, env.Decode(parts[0], m, byte(opcode)))
		return nil
	case 2:
		code, err := hex.DecodeString(parts[1])
		if err != nil {
			return fmt.Errorf("%s: invalid machine code %q", query, parts[1])
		}

		if env.Architecture(parts[0]) == nil {
			return fmt.Errorf("%s: unrecognised architecture %q", query, parts[0])
		}

		printInstructions(w, query, env.Match(parts[0], code))
		return nil
	case 1:
	default:
		return fmt.Errorf("invalid query %q", query)
	}

	// See whether it's a register first.
	if reg := env.Register(query); reg != nil {
		fmt.Fprintf(w, "%s: &Register{\n", query)
		fmt.Fprintf(w, "	Class: %q,\n", reg.Class.ID)
		fmt.Fprintf(w, "	Slot:  %d,\n", reg.Slot)
		fmt.Fprintf(w, "	Size:  %s,\n", reg.Class.Size())
		if reg.Class.Arch != "" {
			fmt.Fprintf(w, "	Arch:  %q,\n", reg.Class.Arch)
		}
		fmt.Fprintf(w, "}\n")
		return nil
	}

	insts := env.Lookup(query)
	if len(insts) == 0 {
		fmt.Fprintf(w, "%s: no instruction data found\n", query)
		return nil
	}

	printInstructions(w, query, insts)

	return nil
}

func printInstructions(w io.Writer, name string, insts []*x86.Instruction) {
	if len(insts) == 0 {
		fmt.Fprintf(w, "%s: no instructions\n", name)
		return
	}

	fmt.Fprintf(w, "%s: []*Instruction{\n", name)
	for _, inst := range insts {
		enc := inst.Encoding
		fmt.Fprintf(w, "	{\n")
		fmt.Fprintf(w, "		Index:    %d,\n", inst.Index)
		fmt.Fprintf(w, "		Syntax:   %q,\n", inst.Syntax())
		fmt.Fprintf(w, "		Encoding: %q,\n", enc.Syntax)
		fmt.Fprintf(w, "		Archs:    %q,\n", enc.Archs)
		if family := enc.Family(); family != x86.FamilyNone {
			fmt.Fprintf(w, "		Prefix:   %s,\n", family)
		}
		fmt.Fprintf(w, "		Map:      %s,\n", enc.Map)
		fmt.Fprintf(w, "		Opcode:   %#02x,\n", enc.Opcode)
		if enc.ModRMreg != 0 {
			fmt.Fprintf(w, "		ModRM.reg: %d,\n", enc.ModRMreg-1)
		}
		if len(inst.Operands) > 0 {
			fmt.Fprintf(w, "		Operands: [\n")
			for _, op := range inst.Operands {
				fmt.Fprintf(w, "			%s %s,\n", op.Access, op.Shape())
			}
			fmt.Fprintf(w, "		],\n")
		}

		md := inst.Metadata
		if len(md.CPUID) > 0 {
			fmt.Fprintf(w, "		CPUID:    %q,\n", md.CPUID.String())
		}
		if md.Lock != 0 {
			fmt.Fprintf(w, "		Lock:     %q,\n", md.Lock.String())
		}
		if md.AliasOf != "" {
			fmt.Fprintf(w, "		AliasOf:  %q,\n", md.AliasOf)
		}
		if md.Form != x86.FormNone {
			fmt.Fprintf(w, "		Form:     %s,\n", md.Form)
		}
		fmt.Fprintf(w, "		Level:    %d,\n", md.Level)
		fmt.Fprintf(w, "	},\n")
	}
	fmt.Fprintf(w, "}\n")
}

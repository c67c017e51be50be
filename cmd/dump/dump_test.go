// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package dump

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"firefly-os.dev/opcodesdb/internal/x86"
	"firefly-os.dev/opcodesdb/internal/x86/x86table"
)

func TestDump(t *testing.T) {
	tables, err := x86table.Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}

	tuples := []x86.Tuple{
		{Mnemonic: "add", Operands: "r/m32, imm32", Encoding: "mi:81 /0 id", Metadata: "lock=hardware|legacy arith"},
		{Mnemonic: "pause", Encoding: "f3 90"},
	}

	env, err := x86.Build(context.Background(), tables, tuples)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}

	var buf bytes.Buffer
	err = Dump(&buf, env, []string{"ADD"})
	if err != nil {
		t.Fatalf("Dump(): %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `Mnemonic: (string) (len=3) "add"`) {
		t.Fatalf("Dump(): unexpected output:\n%s", out)
	}

	if strings.Contains(out, "pause") {
		t.Fatalf("Dump(): included an unrequested instruction:\n%s", out)
	}

	buf.Reset()
	err = Dump(&buf, env, nil)
	if err != nil {
		t.Fatalf("Dump(): %v", err)
	}

	if !strings.Contains(buf.String(), `"pause"`) {
		t.Fatalf("Dump(): environment is missing pause")
	}

	err = Dump(&buf, env, []string{"sub"})
	if err == nil {
		t.Fatalf("Dump(sub): got no error")
	}
}

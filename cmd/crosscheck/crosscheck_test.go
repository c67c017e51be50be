// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package crosscheck

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCrosscheckCommand(t *testing.T) {
	tests := []struct {
		Name      string
		Catalogue string
		Strict    bool
		WantErr   bool
	}{
		{
			Name:      "consistent",
			Catalogue: "- [pause, \"\", \"f3 90\"]\n- [add, \"r/m32, imm32\", \"mi:81 /0 id\"]\n",
			Strict:    true,
		},
		{
			Name:      "advisory",
			Catalogue: "- [sub, \"r/m32, imm32\", \"mi:81 /0 id\"]\n",
		},
		{
			Name:      "strict",
			Catalogue: "- [sub, \"r/m32, imm32\", \"mi:81 /0 id\"]\n",
			Strict:    true,
			WantErr:   true,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			name := filepath.Join(t.TempDir(), "catalogue.yaml")
			err := os.WriteFile(name, []byte(test.Catalogue), 0o644)
			if err != nil {
				t.Fatalf("failed to write catalogue: %v", err)
			}

			args := []string{"-workers", "1", name}
			if test.Strict {
				args = append([]string{"-strict"}, args...)
			}

			var buf bytes.Buffer
			err = Main(context.Background(), &buf, args)
			if test.WantErr {
				if err == nil {
					t.Fatalf("Main(): got no error")
				}
			} else if err != nil {
				t.Fatalf("Main(): %v", err)
			}

			if !strings.Contains(buf.String(), "checked ") {
				t.Fatalf("Main(): missing summary in:\n%s", buf.String())
			}
		})
	}
}

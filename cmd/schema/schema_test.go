// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestSchema(t *testing.T) {
	for name := range types {
		t.Run(name, func(t *testing.T) {
			schema, err := Schema(name)
			if err != nil {
				t.Fatalf("Schema(%q): %v", name, err)
			}

			if _, err := json.Marshal(schema); err != nil {
				t.Fatalf("Schema(%q): failed to marshal: %v", name, err)
			}
		})
	}

	if _, err := Schema("register"); err == nil {
		t.Fatalf("Schema(register): got no error")
	}
}

func TestSchemaCommand(t *testing.T) {
	var buf bytes.Buffer
	err := Main(context.Background(), &buf, nil)
	if err != nil {
		t.Fatalf("Main(): %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"mnemonic"`, `"encoding"`, `"operands"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Main(): schema is missing %s", want)
		}
	}

	var v map[string]any
	if err := json.Unmarshal(buf.Bytes(), &v); err != nil {
		t.Fatalf("Main(): invalid JSON: %v", err)
	}
}

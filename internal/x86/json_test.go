// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fieldNames(typ reflect.Type) []string {
	fields := make([]string, typ.NumField())
	for i := range fields {
		fields[i] = typ.Field(i).Name
	}

	return fields
}

func TestJSON(t *testing.T) {
	// Make sure that all types we encode
	// to JSON remain synchronised as fields
	// are added and removed.
	tests := []struct {
		Name string
		Base any
		JSON any
	}{
		{
			Name: "Encoding",
			Base: Encoding{},
			JSON: jsonEncoding{},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			base := reflect.TypeOf(test.Base)
			json := reflect.TypeOf(test.JSON)
			baseFields := fieldNames(base)
			jsonFields := fieldNames(json)

			if diff := cmp.Diff(jsonFields, baseFields); diff != "" {
				t.Fatalf("%s: (-json, +base)\n%s", test.Name, diff)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	tuples := []Tuple{
		{"add", "r/m32, imm32", "mi:81 /0 id", "lock=hardware|legacy eflags.cf=M"},
		{"vaddpd", "W:zmm {kz}, zmm, zmm/m512/b64 {er}", "rvm:fv:evex.nds.512.66.0f.w1 58 /r", "cpuid=avx512f"},
	}

	env, err := Build(context.Background(), testTables(), tuples)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}

	var buf bytes.Buffer
	err = WriteJSON(&buf, env)
	if err != nil {
		t.Fatalf("WriteJSON(): %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(tuples) {
		t.Fatalf("WriteJSON(): got %d records, want %d:\n%s", len(lines), len(tuples), buf.String())
	}

	type record struct {
		Index    int    `json:"index"`
		Mnemonic string `json:"mnemonic"`
		Encoding struct {
			Syntax string   `json:"syntax"`
			Archs  []string `json:"archs"`
			Bytes  string   `json:"bytes"`
			Map    string   `json:"map"`
			Tuple  string   `json:"tuple"`
			Prefix *struct {
				Family string `json:"family"`
				Length string `json:"length"`
				W      string `json:"w"`
			} `json:"prefix"`
		} `json:"encoding"`
	}

	var got []record
	for _, line := range lines {
		var r record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("invalid record %q: %v", line, err)
		}

		got = append(got, r)
	}

	if got[0].Index != 0 || got[0].Mnemonic != "add" || got[0].Encoding.Bytes != "81" || got[0].Encoding.Prefix != nil {
		t.Errorf("WriteJSON(): bad add record: %+v", got[0])
	}

	if diff := cmp.Diff([]string{"x86", "x64"}, got[0].Encoding.Archs); diff != "" {
		t.Errorf("WriteJSON(): add architectures (-want, +got)\n%s", diff)
	}

	evex := got[1].Encoding
	if evex.Prefix == nil || evex.Prefix.Family != "evex" || evex.Prefix.Length != "512" || evex.Prefix.W != "w1" {
		t.Errorf("WriteJSON(): bad vaddpd prefix: %+v", evex.Prefix)
	}

	if evex.Map != "0f" || evex.Tuple != "fv" {
		t.Errorf("WriteJSON(): bad vaddpd encoding: %+v", evex)
	}
}

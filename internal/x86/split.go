// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package x86

import (
	"strings"
	"unicode"
)

// closers maps each opening bracket to
// its closing bracket.
var closers = map[rune]rune{
	'[': ']',
	'<': '>',
	'{': '}',
}

// Split divides s at each top-level
// occurrence of sep, ignoring any
// separators nested inside brackets.
// Each part is trimmed of surrounding
// whitespace. An empty s produces no
// parts.
//
// Split returns a MalformedField error
// if the brackets in s are unbalanced.
func Split(s string, sep rune) ([]string, error) {
	return split(s, func(r rune) bool { return r == sep })
}

// Fields divides s at each top-level
// run of whitespace.
func Fields(s string) ([]string, error) {
	parts, err := split(s, unicode.IsSpace)
	if err != nil {
		return nil, err
	}

	// Runs of whitespace leave empty
	// parts behind.
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}

	return out, nil
}

func split(s string, isSep func(rune) bool) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var (
		parts []string
		stack []rune
		start int
	)

	for i, r := range s {
		if closer, ok := closers[r]; ok {
			stack = append(stack, closer)
			continue
		}

		switch r {
		case ']', '>', '}':
			if len(stack) == 0 {
				return nil, Errorf(MalformedField, s, "unexpected %q at offset %d", r, i)
			}

			if want := stack[len(stack)-1]; want != r {
				return nil, Errorf(MalformedField, s, "found %q at offset %d, expected %q", r, i, want)
			}

			stack = stack[:len(stack)-1]
			continue
		}

		if len(stack) == 0 && isSep(r) {
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + len(string(r))
		}
	}

	if len(stack) != 0 {
		return nil, Errorf(MalformedField, s, "missing %q", stack[len(stack)-1])
	}

	parts = append(parts, strings.TrimSpace(s[start:]))

	return parts, nil
}

// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package logging configures the structured
// logger used by the opcodesdb commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// EnvLevel is the environment variable that
// sets the default log level.
const EnvLevel = "OPCODESDB_LOG_LEVEL"

// Prefix is shown on every log record.
const Prefix = "opcodesdb"

// ParseLevel parses a level name. The
// empty string is the info level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	}

	return 0, fmt.Errorf("invalid log level %q", s)
}

// New returns a logger writing to w. The
// level comes from EnvLevel, unless verbose
// is set, in which case debug records are
// always shown.
func New(w io.Writer, verbose bool) (*log.Logger, error) {
	level, err := ParseLevel(os.Getenv(EnvLevel))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", EnvLevel, err)
	}

	if verbose {
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          Prefix,
		ReportTimestamp: verbose,
		TimeFormat:      time.Kitchen,
	})

	return logger, nil
}

// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromString(t *testing.T) {
	testCases := map[string]struct {
		in   string
		want slog.Level
	}{
		"debug":          {in: "debug", want: slog.LevelDebug},
		"info":           {in: "info", want: slog.LevelInfo},
		"warn":           {in: "warn", want: slog.LevelWarn},
		"error":          {in: "error", want: slog.LevelError},
		"mixed case":     {in: "DeBuG", want: slog.LevelDebug},
		"empty":          {in: "", want: slog.LevelInfo},
		"numeric":        {in: "8", want: slog.LevelError},
		"unknown string": {in: "verbose", want: slog.LevelInfo},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, LevelFromString(tc.in, slog.LevelInfo))
		})
	}
}

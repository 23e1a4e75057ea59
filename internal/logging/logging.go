// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package logging constructs the loggers used by the bare server.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// Flag is the flag name for setting the logging level.
	Flag = "log-level"
	// DefaultFlagValue is the default value for the log level flag.
	DefaultFlagValue = "info"
	// FlagInfo is the info string for the log level flag.
	FlagInfo = "set logging level (debug, info, warn, error, or a number)"
)

// NewLogger returns a new [*slog.Logger] at the given log level.
// The logger writes to [os.Stderr] and uses the JSON format.
func NewLogger(logLevel string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: LevelFromString(logLevel, slog.LevelInfo),
	}))
}

// NewFileLogger returns a new [*slog.Logger] that writes to a rotated
// file as well as the given writer.
func NewFileLogger(logLevel string, output io.Writer, filename string) *slog.Logger {
	writer := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100, // megabytes
		MaxBackups: 2,
		MaxAge:     14, // days
	}
	return slog.New(slog.NewJSONHandler(io.MultiWriter(writer, output), &slog.HandlerOptions{
		Level: LevelFromString(logLevel, slog.LevelInfo),
	}))
}

// LevelFromString converts a string to a [slog.Level].
// If the given string cannot be translated to a [slog.Level], or is not a number,
// the given fallback is used instead.
func LevelFromString(s string, fallback slog.Level) slog.Level {
	var level slog.Level
	switch strings.ToLower(s) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		numericLevel, err := strconv.Atoi(s)
		if err != nil {
			numericLevel = int(fallback)
		}
		level = slog.Level(numericLevel)
	}

	return level
}

// NewLogWrapper wraps the given [*slog.Logger] in a [*log.Logger].
// All messages written to the returned [*log.Logger] will be written to the error level of the given [*slog.Logger].
func NewLogWrapper(slogger *slog.Logger) *log.Logger {
	return log.New(loggerWrapper{slogger}, "", 0)
}

// loggerWrapper implements [io.Writer] by writing any data to the error level of the embedded slog logger.
type loggerWrapper struct {
	*slog.Logger
}

func (l loggerWrapper) Write(p []byte) (n int, err error) {
	l.Error(string(p))
	return len(p), nil
}

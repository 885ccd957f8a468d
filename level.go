// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clrauto

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LogLevel is the level of the logger a [Profiler] creates from the
// environment.
type LogLevel string

const (
	logLevelUndefined LogLevel = ""
	// LogLevelDebug logs every resolved module, skipped module and rewritten
	// function.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs attach, detach and configuration changes.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs only warning and error messages.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs only errors, such as recovered callback panics.
	LogLevelError LogLevel = "error"
)

var errInvalidLogLevel = errors.New("invalid LogLevel")

var slogLevels = map[LogLevel]slog.Level{
	LogLevelDebug: slog.LevelDebug,
	LogLevelInfo:  slog.LevelInfo,
	LogLevelWarn:  slog.LevelWarn,
	LogLevelError: slog.LevelError,
}

func (l LogLevel) String() string {
	if _, ok := slogLevels[l]; ok || l == logLevelUndefined {
		return string(l)
	}
	return fmt.Sprintf("LogLevel(%s)", string(l))
}

// Level returns the [slog.Level] of l. An undefined or invalid LogLevel
// maps to [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	if lvl, ok := slogLevels[l]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// UnmarshalText sets l to the case insensitive level name in text. l is
// left unchanged if text is not a level name.
func (l *LogLevel) UnmarshalText(text []byte) error {
	lvl := LogLevel(strings.ToLower(strings.TrimSpace(string(text))))
	if _, ok := slogLevels[lvl]; !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, text)
	}
	*l = lvl
	return nil
}

// ParseLogLevel returns the LogLevel named by text, such as "debug" or
// "WARN".
func ParseLogLevel(text string) (LogLevel, error) {
	var l LogLevel
	err := l.UnmarshalText([]byte(text))
	return l, err
}

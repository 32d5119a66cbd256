// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// zap logger construction. Components take a *zap.Logger explicitly; the
// package-level logger is only a convenience for the command line program.

package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnvVar selects the log level when none is given explicitly.
// Empty means silent.
const LevelEnvVar = "HIOLOAD_LOG_LEVEL"

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a console logger writing to stderr. An empty level falls back
// to LevelEnvVar; if that is empty too the logger discards everything.
func New(level string) (*zap.Logger, error) {
	if level == "" {
		level = os.Getenv(LevelEnvVar)
	}
	if level == "" || level == "off" {
		return zap.NewNop(), nil
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

// Initialize builds a logger with New and installs it as the package-level
// default.
func Initialize(level string) (*zap.Logger, error) {
	l, err := New(level)
	if err != nil {
		return nil, err
	}
	ReplaceGlobal(l)
	return l, nil
}

// ReplaceGlobal installs l as the package-level default.
func ReplaceGlobal(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	global = l
	mu.Unlock()
}

// L returns the package-level logger. It never returns nil.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes the package-level logger.
func Sync() {
	_ = L().Sync()
}

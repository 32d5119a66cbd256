// File: internal/logging/logging_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewSilentByDefault(t *testing.T) {
	t.Setenv(LevelEnvVar, "")
	l, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("empty level should produce a nop logger")
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(LevelEnvVar, "warn")
	l, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) || !l.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("env level not applied")
	}
}

func TestInitializeReplacesGlobal(t *testing.T) {
	defer ReplaceGlobal(nil)
	l, err := Initialize("debug")
	if err != nil {
		t.Fatal(err)
	}
	if L() != l {
		t.Fatal("global logger not replaced")
	}
	ReplaceGlobal(nil)
	if L() == nil {
		t.Fatal("L() must never be nil")
	}
}

/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "Default values"},
		{name: "Debug level JSON format", logLevel: "debug", logFormat: "json"},
		{name: "Warn level console format", logLevel: "warn", logFormat: "console"},
		{name: "Invalid format defaults to console", logLevel: "info", logFormat: "invalid"},
		{name: "Invalid level defaults to info", logLevel: "invalid", logFormat: "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.logLevel)
			t.Setenv("LOG_FORMAT", tt.logFormat)

			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}
			defer Close()

			if Logger == nil {
				t.Error("Logger should not be nil after initialization")
			}
			if Sugar == nil {
				t.Error("Sugar should not be nil after initialization")
			}
		})
	}
}

func TestLoggingFunctions(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	originalLogger := Logger
	Logger = zap.New(core)
	defer func() { Logger = originalLogger }()

	fields := func(entry observer.LoggedEntry) map[string]interface{} {
		out := make(map[string]interface{})
		for _, field := range entry.Context {
			switch field.Type {
			case zapcore.StringType:
				out[field.Key] = field.String
			case zapcore.Int64Type, zapcore.Uint64Type:
				out[field.Key] = field.Integer
			}
		}
		return out
	}

	t.Run("LogTurn", func(t *testing.T) {
		LogTurn(7, "transcribing", zap.Int("samples", 1600))

		logs := recorded.All()
		entry := logs[len(logs)-1]
		if entry.Message != "Turn" {
			t.Errorf("Expected message 'Turn', got %q", entry.Message)
		}
		f := fields(entry)
		if f["component"] != "worker" {
			t.Errorf("Expected component 'worker', got %v", f["component"])
		}
		if f["turn"] != int64(7) {
			t.Errorf("Expected turn 7, got %v", f["turn"])
		}
		if f["stage"] != "transcribing" {
			t.Errorf("Expected stage 'transcribing', got %v", f["stage"])
		}
		if f["samples"] != int64(1600) {
			t.Errorf("Expected samples 1600, got %v", f["samples"])
		}
	})

	t.Run("LogCapability", func(t *testing.T) {
		LogCapability("whisper", "loaded", zap.String("model", "ggml-base.bin"))

		logs := recorded.All()
		entry := logs[len(logs)-1]
		f := fields(entry)
		if f["component"] != "stt" || f["backend"] != "whisper" || f["action"] != "loaded" {
			t.Errorf("Unexpected capability fields: %v", f)
		}
	})

	t.Run("LogError", func(t *testing.T) {
		LogError(errors.New("boom"), "turn failed")

		logs := recorded.All()
		entry := logs[len(logs)-1]
		if entry.Level != zapcore.ErrorLevel {
			t.Errorf("Expected error level, got %v", entry.Level)
		}
		if entry.Message != "turn failed" {
			t.Errorf("Expected message 'turn failed', got %q", entry.Message)
		}
	})

	t.Run("LogWarn", func(t *testing.T) {
		LogWarn("ignoring frame", zap.String("reason", "no length"))

		logs := recorded.All()
		entry := logs[len(logs)-1]
		if entry.Level != zapcore.WarnLevel {
			t.Errorf("Expected warn level, got %v", entry.Level)
		}
	})
}

func TestLoggingFunctions_NilLogger(t *testing.T) {
	originalLogger := Logger
	Logger = nil
	defer func() { Logger = originalLogger }()

	// None of these should panic
	LogTurn(1, "awaiting_frame")
	LogCapability("mock", "loaded")
	LogError(errors.New("x"), "x")
	LogWarn("x")
	Sync()

	if Named("worker") == nil {
		t.Error("Named should return a no-op logger when uninitialized")
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("LOQA_TEST_LOGGING_KEY", "value")
	if got := getEnvOrDefault("LOQA_TEST_LOGGING_KEY", "fallback"); got != "value" {
		t.Errorf("getEnvOrDefault() = %q, want %q", got, "value")
	}
	if got := getEnvOrDefault("LOQA_TEST_LOGGING_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnvOrDefault() = %q, want %q", got, "fallback")
	}
}

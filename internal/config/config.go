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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SampleRate is the only PCM rate the worker accepts.
const SampleRate = 16000

// Backend names accepted by model.backend
const (
	BackendWhisper = "whisper"
	BackendExec    = "exec"
	BackendMock    = "mock"
)

// Config holds all configuration for the transcription worker
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	VAD       VADConfig       `yaml:"vad"`
	Worker    WorkerConfig    `yaml:"worker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ModelConfig describes the speech model loaded once at startup
type ModelConfig struct {
	Backend     string `yaml:"backend"`      // whisper, exec, mock
	Path        string `yaml:"path"`         // explicit model file, overrides Dir/Size
	Dir         string `yaml:"dir"`          // directory holding ggml model files
	Size        string `yaml:"size"`         // tiny, base, small, medium, large-v3
	Device      string `yaml:"device"`       // cpu, auto
	ComputeType string `yaml:"compute_type"` // int8, float16, float32
	Language    string `yaml:"language"`
	Threads     int    `yaml:"threads"`
	Command     string `yaml:"command"` // exec backend command line
}

// VADConfig tunes the voice-activity filter applied before decoding
type VADConfig struct {
	Threshold float32       `yaml:"threshold"` // RMS level in [0,1] counted as speech
	Window    time.Duration `yaml:"window"`
	MinSpeech time.Duration `yaml:"min_speech"`
	SpeechPad time.Duration `yaml:"speech_pad"`
}

// WorkerConfig holds protocol limits
type WorkerConfig struct {
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
	SampleRate      int   `yaml:"sample_rate"`
}

// TelemetryConfig selects where turn traces go
type TelemetryConfig struct {
	Trace        string `yaml:"trace"` // off, stderr, otlp
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration the worker runs with when nothing is set.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Backend:     BackendWhisper,
			Dir:         "./models",
			Size:        "base",
			Device:      "cpu",
			ComputeType: "int8",
			Language:    "auto",
		},
		VAD: VADConfig{
			Threshold: 0.01,
			Window:    30 * time.Millisecond,
			MinSpeech: 250 * time.Millisecond,
			SpeechPad: 200 * time.Millisecond,
		},
		Worker: WorkerConfig{
			MaxPayloadBytes: 64 << 20,
			SampleRate:      SampleRate,
		},
		Telemetry: TelemetryConfig{
			Trace:        "off",
			ServiceName:  "loqa-whisper-worker",
			OTLPInsecure: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the optional YAML file at path, then applies environment
// variable overrides and validates the result.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	c.Model.Backend = getEnvString("LOQA_STT_BACKEND", c.Model.Backend)
	c.Model.Path = getEnvString("LOQA_STT_MODEL_PATH", c.Model.Path)
	c.Model.Dir = getEnvString("LOQA_STT_MODEL_DIR", c.Model.Dir)
	c.Model.Size = getEnvString("LOQA_STT_MODEL_SIZE", c.Model.Size)
	c.Model.Device = getEnvString("LOQA_STT_DEVICE", c.Model.Device)
	c.Model.ComputeType = getEnvString("LOQA_STT_COMPUTE_TYPE", c.Model.ComputeType)
	c.Model.Language = getEnvString("LOQA_STT_LANGUAGE", c.Model.Language)
	c.Model.Threads = getEnvInt("LOQA_STT_THREADS", c.Model.Threads)
	c.Model.Command = getEnvString("LOQA_STT_COMMAND", c.Model.Command)

	c.VAD.Threshold = getEnvFloat32("LOQA_VAD_THRESHOLD", c.VAD.Threshold)
	c.VAD.Window = getEnvDuration("LOQA_VAD_WINDOW", c.VAD.Window)
	c.VAD.MinSpeech = getEnvDuration("LOQA_VAD_MIN_SPEECH", c.VAD.MinSpeech)
	c.VAD.SpeechPad = getEnvDuration("LOQA_VAD_SPEECH_PAD", c.VAD.SpeechPad)

	c.Worker.MaxPayloadBytes = getEnvInt64("LOQA_WORKER_MAX_PAYLOAD", c.Worker.MaxPayloadBytes)

	c.Telemetry.Trace = getEnvString("LOQA_TRACE", c.Telemetry.Trace)
	c.Telemetry.OTLPEndpoint = getEnvString("LOQA_TRACE_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.OTLPInsecure = getEnvBool("LOQA_TRACE_OTLP_INSECURE", c.Telemetry.OTLPInsecure)

	c.Logging.Level = getEnvString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvString("LOG_FORMAT", c.Logging.Format)
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	switch c.Model.Backend {
	case BackendWhisper:
		if c.Model.Path == "" && (c.Model.Dir == "" || c.Model.Size == "") {
			return fmt.Errorf("model.path or model.dir and model.size must be provided")
		}
	case BackendExec:
		if strings.TrimSpace(c.Model.Command) == "" {
			return fmt.Errorf("model.command must be set when backend=exec")
		}
	case BackendMock:
	default:
		return fmt.Errorf("model.backend must be one of whisper|exec|mock, got %q", c.Model.Backend)
	}

	switch c.Model.ComputeType {
	case "int8", "float16", "float32", "default":
	default:
		return fmt.Errorf("unsupported compute type: %q", c.Model.ComputeType)
	}

	if c.Model.Threads < 0 {
		return fmt.Errorf("model.threads must be >= 0: %d", c.Model.Threads)
	}

	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		return fmt.Errorf("vad.threshold must be between 0 and 1, got %f", c.VAD.Threshold)
	}

	if c.VAD.Window <= 0 {
		return fmt.Errorf("vad.window must be positive: %s", c.VAD.Window)
	}

	if c.VAD.MinSpeech < 0 || c.VAD.SpeechPad < 0 {
		return fmt.Errorf("vad durations must not be negative")
	}

	if c.Worker.MaxPayloadBytes <= 0 {
		return fmt.Errorf("worker.max_payload_bytes must be positive: %d", c.Worker.MaxPayloadBytes)
	}

	if c.Worker.SampleRate != SampleRate {
		return fmt.Errorf("worker.sample_rate must be %d, got %d", SampleRate, c.Worker.SampleRate)
	}

	switch c.Telemetry.Trace {
	case "off", "stderr":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint must be set when trace=otlp")
		}
	default:
		return fmt.Errorf("telemetry.trace must be one of off|stderr|otlp, got %q", c.Telemetry.Trace)
	}

	return nil
}

// ModelPath resolves the model file for the whisper backend. An explicit
// Path wins; otherwise the ggml file name is derived from Size and ComputeType.
func (m ModelConfig) ModelPath() string {
	if m.Path != "" {
		return m.Path
	}
	name := "ggml-" + m.Size
	if m.ComputeType == "int8" {
		name += "-q8_0"
	}
	return filepath.Join(m.Dir, name+".bin")
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

//go:build !whisper

package stt

import (
	"context"

	"github.com/pkg/errors"

	"github.com/loqalabs/loqa-whisper-worker/internal/config"
)

// WhisperTranscriber stub implementation when whisper is disabled
type WhisperTranscriber struct{}

// NewWhisperTranscriber fails when whisper is disabled, so the worker
// reports an initialization failure instead of serving empty turns.
func NewWhisperTranscriber(cfg config.ModelConfig) (*WhisperTranscriber, error) {
	if err := checkDevice(cfg.Device); err != nil {
		return nil, err
	}
	return nil, errors.WithStack(ErrBackendDisabled)
}

// Transcribe stub implementation
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) Segments {
	return Failed(errors.WithStack(ErrBackendDisabled))
}

// Close stub implementation
func (wt *WhisperTranscriber) Close() error {
	return nil
}

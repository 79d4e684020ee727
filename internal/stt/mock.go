/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-whisper-worker/internal/audio"
)

// mockTranscriber reports one placeholder segment spanning the audio it
// receives. It lets the worker protocol run without model assets.
type mockTranscriber struct{}

// NewMockTranscriber creates the model-free backend
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) Segments {
	return func(yield func(Segment, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(Segment{}, err)
			return
		}
		if len(samples) == 0 {
			return
		}
		yield(Segment{
			Text:       fmt.Sprintf("[transcript samples=%d]", len(samples)),
			Start:      0,
			End:        audio.Seconds(len(samples), opts.SampleRate),
			Confidence: 0,
		}, nil)
	}
}

func (m *mockTranscriber) Close() error {
	return nil
}

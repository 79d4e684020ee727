/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package stt

import (
	"context"

	"github.com/loqalabs/loqa-whisper-worker/internal/audio"
	"github.com/loqalabs/loqa-whisper-worker/internal/vad"
)

// VADTranscriber runs the wrapped backend only over detected speech
// regions, one region at a time, and maps segment timing back onto the
// submitted buffer. Segments of early regions are yielded before later
// regions are decoded.
type VADTranscriber struct {
	inner    Transcriber
	detector *vad.Detector
}

// NewVADTranscriber wraps inner with voice-activity filtering
func NewVADTranscriber(inner Transcriber, detector *vad.Detector) *VADTranscriber {
	return &VADTranscriber{inner: inner, detector: detector}
}

// Transcribe implements Transcriber
func (v *VADTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) Segments {
	if !opts.VADFilter {
		return v.inner.Transcribe(ctx, samples, opts)
	}

	return func(yield func(Segment, error) bool) {
		for _, region := range v.detector.Regions(samples, opts.MinSilence) {
			if err := ctx.Err(); err != nil {
				yield(Segment{}, err)
				return
			}
			offset := audio.Seconds(region.Start, opts.SampleRate)
			chunk := samples[region.Start:region.End]
			for seg, err := range Offset(v.inner.Transcribe(ctx, chunk, opts), offset) {
				if !yield(seg, err) || err != nil {
					return
				}
			}
		}
	}
}

// Close closes the wrapped backend
func (v *VADTranscriber) Close() error {
	return v.inner.Close()
}

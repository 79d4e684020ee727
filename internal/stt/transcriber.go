/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package stt

import (
	"context"
	"iter"
	"time"
)

// Segment is one recognized span of speech. Start and End are seconds from
// the beginning of the submitted audio; Confidence is the average token
// log-probability reported by the model (higher is more confident).
type Segment struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
}

// Options are the decoding parameters applied to one Transcribe call
type Options struct {
	BeamSize   int
	VADFilter  bool
	MinSilence time.Duration
	Language   string
	SampleRate int
}

// Worker decoding policy. These are fixed, not negotiated per request.
const (
	DefaultBeamSize   = 5
	DefaultMinSilence = 500 * time.Millisecond
	DefaultSampleRate = 16000
)

// DefaultOptions returns the decoding policy used for every turn
func DefaultOptions() Options {
	return Options{
		BeamSize:   DefaultBeamSize,
		VADFilter:  true,
		MinSilence: DefaultMinSilence,
		SampleRate: DefaultSampleRate,
	}
}

// Segments is a forward-only, single-use sequence of segments for one
// Transcribe call. A non-nil error ends the sequence.
type Segments = iter.Seq2[Segment, error]

// Transcriber defines the interface for speech-to-text transcription services
type Transcriber interface {
	// Transcribe converts normalized mono samples into segments. Segments
	// are produced lazily where the backend allows it.
	Transcribe(ctx context.Context, samples []float32, opts Options) Segments

	// Close cleans up resources
	Close() error
}

// Failed returns a sequence that yields only err
func Failed(err error) Segments {
	return func(yield func(Segment, error) bool) {
		yield(Segment{}, err)
	}
}

// Collect drains seq into a slice, stopping at the first error
func Collect(seq Segments) ([]Segment, error) {
	var out []Segment
	for seg, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, seg)
	}
	return out, nil
}

/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package stt

import (
	stderrors "errors"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/loqalabs/loqa-whisper-worker/internal/config"
	"github.com/loqalabs/loqa-whisper-worker/internal/vad"
)

// ErrBackendDisabled is returned when the binary was built without whisper support
var ErrBackendDisabled = stderrors.New("whisper transcription disabled (build with -tags whisper to enable)")

// Open constructs the configured backend and wraps it with the VAD filter.
func Open(cfg *config.Config) (Transcriber, error) {
	var (
		inner Transcriber
		err   error
	)

	switch cfg.Model.Backend {
	case config.BackendWhisper:
		var wt *WhisperTranscriber
		wt, err = NewWhisperTranscriber(cfg.Model)
		if err == nil {
			inner = wt
		}
	case config.BackendExec:
		inner, err = NewExecTranscriber(cfg.Model)
	case config.BackendMock:
		inner = NewMockTranscriber()
	default:
		err = errors.Errorf("unknown stt backend %q", cfg.Model.Backend)
	}
	if err != nil {
		return nil, err
	}

	detector, err := vad.NewDetector(vad.Config{
		SampleRate: cfg.Worker.SampleRate,
		Threshold:  cfg.VAD.Threshold,
		Window:     cfg.VAD.Window,
		MinSpeech:  cfg.VAD.MinSpeech,
		SpeechPad:  cfg.VAD.SpeechPad,
	})
	if err != nil {
		_ = inner.Close()
		return nil, errors.Wrap(err, "configure vad")
	}

	return NewVADTranscriber(inner, detector), nil
}

func checkDevice(device string) error {
	switch strings.ToLower(device) {
	case "", "cpu", "auto":
		return nil
	default:
		return errors.Errorf("device %q is not supported", device)
	}
}

// avgLogProb averages the natural log of token probabilities
func avgLogProb(probs []float32) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range probs {
		sum += math.Log(math.Max(float64(p), 1e-10))
	}
	return sum / float64(len(probs))
}

// isSpecialToken matches whisper control tokens such as [_BEG_] and <|en|>
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}

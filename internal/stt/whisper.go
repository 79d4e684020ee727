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

//go:build whisper

package stt

import (
	"context"
	"os"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-whisper-worker/internal/config"
	"github.com/loqalabs/loqa-whisper-worker/internal/logging"
)

// WhisperTranscriber handles speech-to-text using whisper.cpp
type WhisperTranscriber struct {
	model     whisper.Model
	modelPath string
	cfg       config.ModelConfig
}

// NewWhisperTranscriber loads the ggml model described by cfg
func NewWhisperTranscriber(cfg config.ModelConfig) (*WhisperTranscriber, error) {
	if err := checkDevice(cfg.Device); err != nil {
		return nil, err
	}

	modelPath := cfg.ModelPath()
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, errors.Errorf("whisper model not found at %s", modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load whisper model")
	}

	logging.LogCapability(config.BackendWhisper, "loaded",
		zap.String("model", modelPath),
		zap.String("device", cfg.Device),
		zap.String("compute_type", cfg.ComputeType),
		zap.Bool("multilingual", model.IsMultilingual()),
	)

	return &WhisperTranscriber{
		model:     model,
		modelPath: modelPath,
		cfg:       cfg,
	}, nil
}

// Transcribe decodes samples and yields segments in model order
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) Segments {
	return func(yield func(Segment, error) bool) {
		if wt.model == nil {
			yield(Segment{}, errors.New("whisper model not initialized"))
			return
		}
		if len(samples) == 0 {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(Segment{}, err)
			return
		}

		wctx, err := wt.model.NewContext()
		if err != nil {
			yield(Segment{}, errors.Wrap(err, "failed to create whisper context"))
			return
		}

		language := opts.Language
		if language == "" {
			language = wt.cfg.Language
		}
		if language != "" && wt.model.IsMultilingual() {
			if err := wctx.SetLanguage(language); err != nil {
				yield(Segment{}, errors.Wrapf(err, "set language %q", language))
				return
			}
		}
		if opts.BeamSize > 0 {
			wctx.SetBeamSize(opts.BeamSize)
		}
		if wt.cfg.Threads > 0 {
			wctx.SetThreads(uint(wt.cfg.Threads))
		}

		// Segments are handed over from the new-segment callback while the
		// model is still decoding the rest of the audio.
		decoded := Streamed(ctx, func(emit func(Segment)) error {
			err := wctx.Process(samples, nil, func(segment whisper.Segment) {
				emit(Segment{
					Text:       segment.Text,
					Start:      segment.Start.Seconds(),
					End:        segment.End.Seconds(),
					Confidence: avgLogProb(tokenProbs(segment.Tokens)),
				})
			}, nil)
			return errors.Wrap(err, "failed to process audio")
		})
		for seg, err := range decoded {
			if !yield(seg, err) || err != nil {
				return
			}
		}
	}
}

// Close cleans up the Whisper model
func (wt *WhisperTranscriber) Close() error {
	if wt.model != nil {
		logging.LogCapability(config.BackendWhisper, "closed", zap.String("model", wt.modelPath))
		return wt.model.Close()
	}
	return nil
}

func tokenProbs(tokens []whisper.Token) []float32 {
	probs := make([]float32, 0, len(tokens))
	for _, token := range tokens {
		if isSpecialToken(token.Text) {
			continue
		}
		probs = append(probs, token.P)
	}
	return probs
}

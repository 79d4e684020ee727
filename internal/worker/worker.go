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

package worker

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"runtime/debug"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-whisper-worker/internal/audio"
	"github.com/loqalabs/loqa-whisper-worker/internal/logging"
	"github.com/loqalabs/loqa-whisper-worker/internal/protocol"
	"github.com/loqalabs/loqa-whisper-worker/internal/stt"
	"github.com/loqalabs/loqa-whisper-worker/internal/telemetry"
)

// Opener constructs the transcription backend at startup
type Opener func() (stt.Transcriber, error)

// Option configures a Worker
type Option func(*Worker)

// WithLogger replaces the worker logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithOptions replaces the decoding policy
func WithOptions(opts stt.Options) Option {
	return func(w *Worker) { w.opts = opts }
}

// WithMaxPayload limits the byte count a single frame may declare
func WithMaxPayload(n int64) Option {
	return func(w *Worker) { w.maxPayload = n }
}

// WithTracer replaces the tracer used for turn spans
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) { w.tracer = tracer }
}

// Worker serves transcription turns read from one input stream, strictly
// one at a time, writing results to one output stream.
type Worker struct {
	in          *bufio.Reader
	out         *protocol.Encoder
	transcriber stt.Transcriber
	opts        stt.Options
	maxPayload  int64
	logger      *zap.Logger
	tracer      trace.Tracer

	state     State
	readiness Readiness
	turns     uint64
}

// New creates a worker around an already constructed transcriber
func New(in io.Reader, out *protocol.Encoder, transcriber stt.Transcriber, opts ...Option) *Worker {
	w := &Worker{
		in:          bufio.NewReader(in),
		out:         out,
		transcriber: transcriber,
		opts:        stt.DefaultOptions(),
		logger:      logging.Named("worker"),
		tracer:      telemetry.Tracer(),
		state:       StateAwaitingFrame,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Serve runs the whole worker lifecycle: construct the backend, signal
// readiness, then serve frames until exit or end of input. A backend that
// fails to start is reported once on out and returned as *InitError.
func Serve(ctx context.Context, in io.Reader, out io.Writer, open Opener, opts ...Option) error {
	enc := protocol.NewEncoder(out)

	transcriber, err := openSafely(open)
	if err != nil {
		logging.LogError(err, "Transcription backend failed to initialize")
		if werr := enc.Encode(protocol.NewInitError(err)); werr != nil {
			return errors.Wrap(werr, "report initialization failure")
		}
		return &InitError{Cause: err}
	}
	defer func() {
		if err := transcriber.Close(); err != nil {
			logging.LogWarn("Failed to close transcription backend", zap.Error(err))
		}
	}()

	w := New(in, enc, transcriber, opts...)
	if err := w.Announce(); err != nil {
		return err
	}
	return w.Run(ctx)
}

func openSafely(open Opener) (transcriber stt.Transcriber, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return open()
}

// Announce emits the readiness message. Only the first call writes.
func (w *Worker) Announce() error {
	if !w.readiness.MarkReady() {
		return nil
	}
	w.logger.Info("🎙️ Transcription worker ready",
		zap.Int("beam_size", w.opts.BeamSize),
		zap.Bool("vad_filter", w.opts.VADFilter),
		zap.Duration("min_silence", w.opts.MinSilence),
	)
	return w.emit(protocol.NewReady())
}

// Ready reports whether the readiness message has been emitted
func (w *Worker) Ready() bool {
	return w.readiness.IsReady()
}

// State returns the current loop state
func (w *Worker) State() State {
	return w.state
}

// Run reads frames until an exit command, end of input or ctx is done.
// Per-turn failures are reported on the output stream and never end the
// loop; only read failures of the input itself and write failures of the
// output are returned.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateTerminated)

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker canceled")
			return nil
		}

		w.setState(StateAwaitingFrame)
		line, readErr := w.in.ReadBytes('\n')
		if len(line) == 0 && readErr != nil {
			if readErr == io.EOF || ctx.Err() != nil {
				w.logger.Info("Input closed, worker terminating", zap.Uint64("turns", w.turns))
				return nil
			}
			return errors.Wrap(readErr, "read frame")
		}

		exit, err := w.serveFrame(ctx, bytes.TrimRight(line, "\r\n"))
		if err != nil {
			return err
		}
		if exit {
			w.logger.Info("Exit requested, worker terminating", zap.Uint64("turns", w.turns))
			return nil
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return errors.Wrap(readErr, "read frame")
		}
	}
}

// serveFrame handles one header line. The returned error is non-nil only
// when the output stream failed.
func (w *Worker) serveFrame(ctx context.Context, line []byte) (bool, error) {
	frame, err := protocol.ParseFrame(line)
	if err != nil {
		return false, w.fail(0, err)
	}
	if frame.IsExit() {
		return true, nil
	}

	n, ok, err := frame.PayloadLength(w.maxPayload)
	if err != nil {
		return false, w.fail(0, err)
	}
	if !ok {
		w.logger.Debug("Ignoring frame without length", zap.String("command", frame.Command))
		return false, nil
	}

	return false, w.serveTurn(ctx, n)
}

func (w *Worker) serveTurn(ctx context.Context, n int64) error {
	w.turns++
	turn := w.turns

	ctx, span := w.tracer.Start(ctx, "worker.turn", trace.WithAttributes(
		attribute.Int64("turn", int64(turn)),
		attribute.Int64("payload.bytes", n),
	))
	defer span.End()

	count, err := w.runTurn(ctx, n)
	span.SetAttributes(attribute.Int("segments", count))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isOutputError(err) {
			return err
		}
		return w.fail(turn, err)
	}

	logging.LogTurn(turn, "completed", zap.Int("segments", count), zap.Int64("bytes", n))
	return nil
}

// runTurn reads one payload, transcribes it and streams the results,
// finishing with the end-of-audio marker. Panics raised by the backend
// are returned as errors.
func (w *Worker) runTurn(ctx context.Context, n int64) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	w.setState(StateReadingPayload)
	payload := make([]byte, n)
	if got, err := io.ReadFull(w.in, payload); err != nil {
		return 0, errors.Wrapf(err, "short payload: read %d of %d bytes", got, n)
	}

	w.setState(StateTranscribing)
	samples, err := audio.DecodePCM16LE(payload)
	if err != nil {
		return 0, err
	}

	for seg, err := range stt.Ordered(w.transcriber.Transcribe(ctx, samples, w.opts)) {
		if err != nil {
			return count, errors.Wrap(err, "transcription failed")
		}
		w.setState(StateEmitting)
		if err := w.emit(protocol.Transcription{
			Type:       protocol.TypeTranscription,
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: seg.Confidence,
		}); err != nil {
			return count, err
		}
		count++
		w.setState(StateTranscribing)
	}

	w.setState(StateEmitting)
	return count, w.emit(protocol.NewEndOfAudio())
}

// fail reports a per-turn error. It returns an error only if the report
// itself could not be written.
func (w *Worker) fail(turn uint64, err error) error {
	w.logger.Warn("Turn failed", zap.Uint64("turn", turn), zap.Error(err))
	return w.emit(protocol.TurnError{Error: err.Error(), Trace: traceOf(err)})
}

// emit writes one message. A message that cannot be encoded fails only the
// current turn; a failing writer ends the loop.
func (w *Worker) emit(v interface{}) error {
	err := w.out.Encode(v)
	if err == nil {
		return nil
	}
	var marshalErr *protocol.MarshalError
	if errors.As(err, &marshalErr) {
		return err
	}
	return &outputError{err: err}
}

func (w *Worker) setState(s State) {
	if w.state == s {
		return
	}
	w.state = s
	logging.LogTurn(w.turns, s.String())
}

/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"

	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-whisper-worker/internal/audio"
	"github.com/loqalabs/loqa-whisper-worker/internal/config"
	"github.com/loqalabs/loqa-whisper-worker/internal/logging"
)

// execTranscriber runs an external recognizer once per call. The command
// receives a WAV file and prints one JSON segment per line on stdout:
//
//	{"text":" hello","start":0.0,"end":0.8,"confidence":-0.21}
//
// Lines are decoded as they arrive, so segments stream through.
type execTranscriber struct {
	cmd []string
	cfg config.ModelConfig
}

type execSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// NewExecTranscriber parses the configured command line
func NewExecTranscriber(cfg config.ModelConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, errors.Wrap(err, "parse stt command")
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, errors.Wrapf(err, "stt command %q", args[0])
	}

	logging.LogCapability(config.BackendExec, "configured", zap.Strings("command", args))
	return &execTranscriber{cmd: args, cfg: cfg}, nil
}

func (r *execTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) Segments {
	return func(yield func(Segment, error) bool) {
		if len(samples) == 0 {
			return
		}

		file, err := os.CreateTemp("", "loqa_stt_*.wav")
		if err != nil {
			yield(Segment{}, errors.Wrap(err, "temp file"))
			return
		}
		defer os.Remove(file.Name())

		err = audio.WriteWAV(file, audio.EncodePCM16LE(samples), opts.SampleRate, 1)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			yield(Segment{}, err)
			return
		}

		command := exec.CommandContext(ctx, r.cmd[0], r.args(file.Name(), opts)...)
		var stderr bytes.Buffer
		command.Stderr = &stderr
		stdout, err := command.StdoutPipe()
		if err != nil {
			yield(Segment{}, errors.Wrap(err, "stt stdout pipe"))
			return
		}
		if err := command.Start(); err != nil {
			yield(Segment{}, errors.Wrap(err, "start stt command"))
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var seg execSegment
			if err := json.Unmarshal(line, &seg); err != nil {
				_ = command.Process.Kill()
				_ = command.Wait()
				yield(Segment{}, errors.Wrapf(err, "decode stt output %q", line))
				return
			}
			if !yield(Segment(seg), nil) {
				_ = command.Process.Kill()
				_ = command.Wait()
				return
			}
		}
		scanErr := scanner.Err()

		if err := command.Wait(); err != nil {
			yield(Segment{}, errors.Wrapf(err, "stt command failed: %s", bytes.TrimSpace(stderr.Bytes())))
			return
		}
		if scanErr != nil {
			yield(Segment{}, errors.Wrap(scanErr, "read stt output"))
		}
	}
}

func (r *execTranscriber) args(wavPath string, opts Options) []string {
	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", wavPath)
	if r.cfg.Path != "" {
		args = append(args, "--model", r.cfg.Path)
	}
	language := opts.Language
	if language == "" {
		language = r.cfg.Language
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	if opts.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(opts.BeamSize))
	}
	return args
}

func (r *execTranscriber) Close() error {
	return nil
}

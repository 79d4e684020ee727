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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-whisper-worker/internal/audio"
	"github.com/loqalabs/loqa-whisper-worker/internal/config"
	"github.com/loqalabs/loqa-whisper-worker/internal/engine"
	"github.com/loqalabs/loqa-whisper-worker/internal/logging"
	"github.com/loqalabs/loqa-whisper-worker/internal/stt"
)

const defaultWorker = "whisper-worker"

func main() {
	var (
		workerCmd  = flag.String("worker", defaultWorker, "Command line used to start the transcription worker")
		configPath = flag.String("config", "", "Worker config file, passed as LOQA_WORKER_CONFIG")
		timeout    = flag.Duration("timeout", 2*time.Minute, "Time allowed per file")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] file.wav...\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Transcribes 16 kHz mono 16-bit WAV files through a whisper worker.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := logging.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	if err := run(*workerCmd, *configPath, *timeout, flag.Args()); err != nil {
		logging.LogError(err, "worker-client failed")
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		logging.Close()
		os.Exit(1)
	}
}

func run(workerCmd, configPath string, timeout time.Duration, files []string) error {
	command, err := shellwords.Parse(workerCmd)
	if err != nil {
		return errors.Wrap(err, "parse worker command")
	}

	var env []string
	if configPath != "" {
		env = append(env, "LOQA_WORKER_CONFIG="+configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := engine.Spawn(ctx, command, env...)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			logging.LogWarn("Worker did not shut down cleanly", zap.Error(err))
		}
	}()

	failed := 0
	for _, path := range files {
		if err := transcribeFile(ctx, client, path, timeout); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", path, err)
			var werr *engine.WorkerError
			if errors.As(err, &werr) && werr.Trace != "" {
				logging.Logger.Debug("Worker trace", zap.String("file", path), zap.String("trace", werr.Trace))
			}
		}
	}

	if failed > 0 {
		return errors.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func transcribeFile(ctx context.Context, client *engine.Client, path string, timeout time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	pcm, format, err := audio.ReadWAV(f)
	if err != nil {
		return err
	}
	if format.SampleRate != config.SampleRate || format.Channels != 1 {
		return errors.Errorf("need %d Hz mono audio, got %d Hz with %d channels",
			config.SampleRate, format.SampleRate, format.Channels)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fmt.Printf("📄 %s (%s)\n", path, audio.Duration(len(pcm)/2, config.SampleRate))
	segments, err := client.Transcribe(ctx, pcm, func(seg stt.Segment) {
		fmt.Printf("  [%7.2fs → %7.2fs] %s\n", seg.Start, seg.End, seg.Text)
	})
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		fmt.Println("  (no speech)")
	}
	return nil
}

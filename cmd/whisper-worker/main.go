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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-whisper-worker/internal/config"
	"github.com/loqalabs/loqa-whisper-worker/internal/logging"
	"github.com/loqalabs/loqa-whisper-worker/internal/protocol"
	"github.com/loqalabs/loqa-whisper-worker/internal/stt"
	"github.com/loqalabs/loqa-whisper-worker/internal/telemetry"
	"github.com/loqalabs/loqa-whisper-worker/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv("LOQA_WORKER_CONFIG"))
	if err != nil {
		if lerr := logging.Initialize(); lerr != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", lerr)
		}
		return fatalInit(err)
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		return fatalInit(err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fatalInit(errors.Wrap(err, "telemetry"))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logging.LogWarn("Failed to flush traces", zap.Error(err))
		}
	}()

	// A blocked frame read only returns once stdin is closed.
	go func() {
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()

	logging.Sugar.Infow("🚀 loqa-whisper-worker starting",
		"backend", cfg.Model.Backend,
		"model", cfg.Model.ModelPath(),
		"device", cfg.Model.Device,
		"compute_type", cfg.Model.ComputeType,
		"trace", cfg.Telemetry.Trace,
	)

	err = worker.Serve(ctx, os.Stdin, os.Stdout,
		func() (stt.Transcriber, error) { return stt.Open(cfg) },
		worker.WithOptions(stt.DefaultOptions()),
		worker.WithMaxPayload(cfg.Worker.MaxPayloadBytes),
	)

	var initErr *worker.InitError
	switch {
	case errors.As(err, &initErr):
		return 1
	case err != nil:
		logging.LogError(err, "Worker stopped")
		return 1
	}
	return 0
}

// fatalInit reports a startup failure on the protocol stream before any
// backend has been constructed.
func fatalInit(err error) int {
	logging.LogError(err, "Worker initialization failed")
	if werr := protocol.NewEncoder(os.Stdout).Encode(protocol.NewInitError(err)); werr != nil {
		fmt.Fprintf(os.Stderr, "Failed to report initialization failure: %v\n", werr)
	}
	return 1
}

/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package engine

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-whisper-worker/internal/logging"
	"github.com/loqalabs/loqa-whisper-worker/internal/protocol"
	"github.com/loqalabs/loqa-whisper-worker/internal/stt"
)

// DefaultMaxPayload matches the worker's default payload limit
const DefaultMaxPayload = 64 << 20

// ErrWorkerClosed is returned once the worker output has ended
var ErrWorkerClosed = stderrors.New("worker output closed")

// WorkerError is a failure reported by the worker for one turn
type WorkerError struct {
	Message string
	Trace   string
}

func (e *WorkerError) Error() string {
	return e.Message
}

// Client drives one transcription worker over its stdin/stdout streams.
// Turns are serialized; the worker handles one at a time.
type Client struct {
	mu         sync.Mutex
	in         io.Writer
	enc        *protocol.Encoder
	out        *bufio.Reader
	maxPayload int64

	cmd    *exec.Cmd
	stdin  io.Closer
	stdout io.Closer

	logger *zap.Logger
}

// NewClient wraps an already running worker. w is the worker's input and
// r its output.
func NewClient(r io.Reader, w io.Writer) *Client {
	c := &Client{
		in:         w,
		enc:        protocol.NewEncoder(w),
		out:        bufio.NewReader(r),
		maxPayload: DefaultMaxPayload,
		logger:     logging.Named("engine"),
	}
	if closer, ok := w.(io.Closer); ok {
		c.stdin = closer
	}
	if closer, ok := r.(io.Closer); ok {
		c.stdout = closer
	}
	return c
}

// Spawn starts the worker process and waits until it reports readiness.
// The worker's stderr is passed through so its logs stay visible.
func Spawn(ctx context.Context, command []string, env ...string) (*Client, error) {
	if len(command) == 0 {
		return nil, errors.New("worker command is empty")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "worker stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start worker %s", command[0])
	}

	c := NewClient(stdout, stdin)
	c.cmd = cmd
	c.logger.Info("Spawned transcription worker",
		zap.Strings("command", command),
		zap.Int("pid", cmd.Process.Pid),
	)

	if err := c.WaitReady(ctx); err != nil {
		_ = c.kill()
		return nil, err
	}
	return c, nil
}

// SetMaxPayload changes the largest payload Transcribe will send
func (c *Client) SetMaxPayload(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxPayload = n
}

// WaitReady blocks until the worker announces readiness or reports that
// initialization failed.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.interrupt)
	defer stop()

	for {
		msg, err := c.next(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for worker readiness")
		}
		switch msg.Kind() {
		case protocol.KindReady:
			c.logger.Info("Transcription worker ready")
			return nil
		case protocol.KindError:
			return &WorkerError{Message: msg.Error, Trace: msg.Trace}
		default:
			c.logger.Debug("Ignoring message before readiness", zap.String("kind", msg.Kind().String()))
		}
	}
}

// Transcribe sends one turn of s16le audio and collects its segments.
// onSegment, if set, is called as each segment arrives.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, onSegment func(stt.Segment)) ([]stt.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxPayload > 0 && int64(len(pcm)) > c.maxPayload {
		return nil, errors.Errorf("payload of %d bytes exceeds limit of %d", len(pcm), c.maxPayload)
	}

	stop := context.AfterFunc(ctx, c.interrupt)
	defer stop()

	requestID := uuid.NewString()
	length := int64(len(pcm))
	started := time.Now()

	if err := c.enc.Encode(protocol.Header{
		Command:   protocol.CommandTranscribe,
		Length:    &length,
		RequestID: requestID,
		Timestamp: started.UnixMilli(),
	}); err != nil {
		return nil, errors.Wrap(err, "send header")
	}
	if len(pcm) > 0 {
		if _, err := c.in.Write(pcm); err != nil {
			return nil, errors.Wrap(err, "send payload")
		}
	}

	var segments []stt.Segment
	for {
		msg, err := c.next(ctx)
		if err != nil {
			return segments, err
		}
		switch msg.Kind() {
		case protocol.KindTranscription:
			seg := stt.Segment{Text: msg.Text, Start: msg.Start, End: msg.End, Confidence: msg.Confidence}
			segments = append(segments, seg)
			if onSegment != nil {
				onSegment(seg)
			}
		case protocol.KindEndOfAudio:
			c.logger.Debug("Transcription completed",
				zap.String("request_id", requestID),
				zap.Int("segments", len(segments)),
				zap.Duration("elapsed", time.Since(started)),
			)
			return segments, nil
		case protocol.KindError:
			c.logger.Warn("Worker reported turn failure",
				zap.String("request_id", requestID),
				zap.String("error", msg.Error),
			)
			return segments, &WorkerError{Message: msg.Error, Trace: msg.Trace}
		default:
			c.logger.Debug("Ignoring unexpected worker message", zap.String("kind", msg.Kind().String()))
		}
	}
}

// Shutdown asks the worker to exit, closes its input and waits for a
// spawned process to finish. The process is killed if ctx ends first.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.Encode(protocol.Header{Command: protocol.CommandExit}); err != nil {
		c.logger.Debug("Failed to send exit command", zap.Error(err))
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "worker exited")
		}
		return nil
	case <-ctx.Done():
		_ = c.cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

// next reads one output line. A read cut short by interrupt reports the
// context error.
func (c *Client) next(ctx context.Context) (protocol.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Message{}, err
		}
		line, err := c.out.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.Message{}, ctxErr
			}
			if err == io.EOF {
				return protocol.Message{}, ErrWorkerClosed
			}
			return protocol.Message{}, errors.Wrap(err, "read worker output")
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		return protocol.DecodeMessage(line)
	}
}

// interrupt unblocks a pending read when a call's context ends. A spawned
// worker is killed, since it may be stuck decoding; otherwise the output
// stream is closed. The client is unusable afterwards.
func (c *Client) interrupt() {
	c.logger.Warn("Interrupting transcription worker")
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		return
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
}

func (c *Client) kill() error {
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	_ = c.cmd.Process.Kill()
	return c.cmd.Wait()
}

package engine

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/loqalabs/loqa-whisper-worker/internal/protocol"
	"github.com/loqalabs/loqa-whisper-worker/internal/stt"
	"github.com/loqalabs/loqa-whisper-worker/internal/worker"
)

// startWorker runs an in-process worker connected to a client through pipes
func startWorker(t *testing.T, open worker.Opener) (*Client, <-chan error) {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		err := worker.Serve(context.Background(), inR, outW, open, worker.WithLogger(zaptest.NewLogger(t)))
		_ = outW.Close()
		_ = inR.Close()
		done <- err
	}()

	return NewClient(outR, inW), done
}

func mockOpener() (stt.Transcriber, error) {
	return stt.NewMockTranscriber(), nil
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
		return nil
	}
}

func TestClient_TranscribeRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, done := startWorker(t, mockOpener)
	require.NoError(t, client.WaitReady(ctx))

	var streamed []stt.Segment
	segments, err := client.Transcribe(ctx, make([]byte, 3200), func(seg stt.Segment) {
		streamed = append(streamed, seg)
	})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, segments, streamed)
	assert.Equal(t, "[transcript samples=1600]", segments[0].Text)
	assert.InDelta(t, 0.1, segments[0].End, 1e-9)

	empty, err := client.Transcribe(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, client.Shutdown(ctx))
	assert.NoError(t, wait(t, done))
}

func TestClient_WorkerErrorKeepsSession(t *testing.T) {
	ctx := context.Background()
	client, done := startWorker(t, mockOpener)
	require.NoError(t, client.WaitReady(ctx))

	_, err := client.Transcribe(ctx, []byte{1, 2, 3}, nil)
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Contains(t, werr.Message, "not aligned")
	assert.NotEmpty(t, werr.Trace)

	segments, err := client.Transcribe(ctx, make([]byte, 320), nil)
	require.NoError(t, err)
	assert.Len(t, segments, 1)

	require.NoError(t, client.Shutdown(ctx))
	assert.NoError(t, wait(t, done))
}

func TestClient_InitFailure(t *testing.T) {
	client, done := startWorker(t, func() (stt.Transcriber, error) {
		return nil, errors.New("no model")
	})

	err := client.WaitReady(context.Background())
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, protocol.InitFailurePrefix+"no model", werr.Message)

	var initErr *worker.InitError
	assert.ErrorAs(t, wait(t, done), &initErr)
}

func TestClient_PayloadLimit(t *testing.T) {
	client := NewClient(strings.NewReader(""), io.Discard)
	client.SetMaxPayload(4)

	_, err := client.Transcribe(context.Background(), make([]byte, 10), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestClient_WorkerClosed(t *testing.T) {
	client := NewClient(strings.NewReader("\n"), io.Discard)

	err := client.WaitReady(context.Background())
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func TestClient_CanceledContext(t *testing.T) {
	client := NewClient(strings.NewReader(`{"status":"ready"}`+"\n"), io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, client.WaitReady(ctx), context.Canceled)
}

func TestSpawn(t *testing.T) {
	script := `echo '{"status":"ready"}'; cat > /dev/null`
	client, err := Spawn(context.Background(), []string{"/bin/sh", "-c", script})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, client.Shutdown(ctx))
}

func TestSpawn_InitFailure(t *testing.T) {
	script := `echo '{"error":"Initialization failed: model not found"}'; exit 1`
	_, err := Spawn(context.Background(), []string{"/bin/sh", "-c", script})

	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Contains(t, werr.Message, "model not found")
}

func TestSpawn_EmptyCommand(t *testing.T) {
	_, err := Spawn(context.Background(), nil)
	assert.Error(t, err)
}

func TestClient_DeadlineInterruptsStalledWorker(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	defer inW.Close()
	go func() {
		_, _ = io.WriteString(outW, `{"status":"ready"}`+"\n")
		_, _ = io.Copy(io.Discard, inR)
		_ = outW.Close()
	}()

	client := NewClient(outR, inW)
	require.NoError(t, client.WaitReady(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := client.Transcribe(ctx, make([]byte, 320), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestSpawn_DeadlineKillsStalledWorker(t *testing.T) {
	script := `echo '{"status":"ready"}'; exec sleep 30`
	client, err := Spawn(context.Background(), []string{"/bin/sh", "-c", script})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err = client.Transcribe(ctx, make([]byte, 320), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = client.Shutdown(shutdownCtx)
}

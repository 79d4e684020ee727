package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/loqalabs/loqa-whisper-worker/internal/config"
)

func TestSetupOff(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Trace: "off"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}

func TestSetupStderr(t *testing.T) {
	original := otel.GetTracerProvider()
	defer otel.SetTracerProvider(original)

	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Trace: "stderr", ServiceName: "test-worker"})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "test.span")
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupUnknownMode(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Trace: "carrier-pigeon"})
	assert.Error(t, err)
}

package telemetry_test

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/kiranshivaraju/agentbazaar/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.TelemetryConfig{ServiceName: "agentbazaar"}, "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	_, span := telemetry.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInit_WithEndpoint(t *testing.T) {
	cfg := config.TelemetryConfig{Endpoint: "127.0.0.1:4318", ServiceName: "agentbazaar", Insecure: true}
	shutdown, err := telemetry.Init(context.Background(), cfg, "test")
	require.NoError(t, err)

	counter, err := telemetry.Meter("test").Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The collector is not running; shutdown only has to return.
	_ = shutdown(ctx)
}

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := New(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.OpIngested(ctx, "StoreRecord")
	m.OpIngested(ctx, "StoreEntry")
	m.OpDropped(ctx, "counterfeit")
	m.OpRejected(ctx, "StoreRecord", "sys")
	m.OpIntegrated(ctx, "StoreRecord", "rejected")
	m.OpsDeintegrated(ctx, 3)
	m.OpsDeintegrated(ctx, 0)
	m.ReceiptSent(ctx)
	m.ReceiptFailed(ctx)

	totals, err := Snapshot(ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		OpsIngested:     2,
		OpsDropped:      1,
		OpsRejected:     1,
		OpsIntegrated:   1,
		OpsDeintegrated: 3,
		ReceiptsSent:    1,
		ReceiptsFailed:  1,
	}, totals)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.OpIngested(ctx, "x")
	m.OpDropped(ctx, "x")
	m.OpRejected(ctx, "x", "sys")
	m.OpIntegrated(ctx, "x", "valid")
	m.OpsDeintegrated(ctx, 1)
	m.ReceiptSent(ctx)
	m.ReceiptFailed(ctx)
}

func TestInitMeterProvider(t *testing.T) {
	ctx := context.Background()
	reader, shutdown := InitMeterProvider()
	defer shutdown(ctx)

	m, err := FromGlobal()
	require.NoError(t, err)
	m.OpIngested(ctx, "StoreRecord")

	totals, err := Snapshot(ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals[OpsIngested])
}

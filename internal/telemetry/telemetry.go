// Package telemetry counts pipeline events with OpenTelemetry metrics.
//
// Instruments are created from whatever MeterProvider is installed. The CLI
// installs an SDK provider with a manual reader and logs the totals on
// shutdown; tests install their own reader and inspect Snapshot.
package telemetry

import (
	"context"
	"fmt"

	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/Daironode/aingle-sub000/pipeline"

// Counter names.
const (
	OpsIngested     = "aingle_ops_ingested_total"
	OpsDropped      = "aingle_ops_dropped_total"
	OpsRejected     = "aingle_ops_rejected_total"
	OpsIntegrated   = "aingle_ops_integrated_total"
	OpsDeintegrated = "aingle_ops_deintegrated_total"
	ReceiptsSent    = "aingle_receipts_sent_total"
	ReceiptsFailed  = "aingle_receipts_failed_total"
)

// Common attribute keys for metrics.
var (
	AttrOpType = attribute.Key("op_type")
	AttrReason = attribute.Key("reason")
	AttrStage  = attribute.Key("stage")
	AttrStatus = attribute.Key("status")
)

// Metrics holds the pipeline counters. A nil *Metrics records nothing, so
// stages can be built without telemetry.
type Metrics struct {
	ingested     metric.Int64Counter
	dropped      metric.Int64Counter
	rejected     metric.Int64Counter
	integrated   metric.Int64Counter
	deintegrated metric.Int64Counter
	sent         metric.Int64Counter
	failed       metric.Int64Counter
}

// New creates the counters on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ingested, OpsIngested, "Ops admitted into validation limbo"},
		{&m.dropped, OpsDropped, "Ops dropped at ingestion (counterfeit, malformed, duplicate)"},
		{&m.rejected, OpsRejected, "Ops given a rejected verdict"},
		{&m.integrated, OpsIntegrated, "Ops committed to the integrated index"},
		{&m.deintegrated, OpsDeintegrated, "Integrated ops withdrawn for re-validation"},
		{&m.sent, ReceiptsSent, "Validation receipts delivered"},
		{&m.failed, ReceiptsFailed, "Validation receipt deliveries that failed"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = ctr
	}
	return m, nil
}

// FromGlobal creates the counters on the global MeterProvider.
func FromGlobal() (*Metrics, error) {
	return New(otelglobal.Meter(meterName))
}

// InitMeterProvider installs an SDK MeterProvider backed by a manual reader
// as the global provider. Returns the reader for Snapshot and a shutdown func.
func InitMeterProvider() (*sdkmetric.ManualReader, func(context.Context) error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otelglobal.SetMeterProvider(provider)
	return reader, provider.Shutdown
}

// OpIngested records an admitted op.
func (m *Metrics) OpIngested(ctx context.Context, opType string) {
	if m == nil {
		return
	}
	m.ingested.Add(ctx, 1, metric.WithAttributes(AttrOpType.String(opType)))
}

// OpDropped records an op discarded at ingestion.
func (m *Metrics) OpDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(AttrReason.String(reason)))
}

// OpRejected records a rejected verdict from a stage.
func (m *Metrics) OpRejected(ctx context.Context, opType, stage string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(AttrOpType.String(opType), AttrStage.String(stage)))
}

// OpIntegrated records an integration.
func (m *Metrics) OpIntegrated(ctx context.Context, opType, status string) {
	if m == nil {
		return
	}
	m.integrated.Add(ctx, 1, metric.WithAttributes(AttrOpType.String(opType), AttrStatus.String(status)))
}

// OpsDeintegrated records n withdrawn ops.
func (m *Metrics) OpsDeintegrated(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deintegrated.Add(ctx, int64(n))
}

// ReceiptSent records a delivered receipt.
func (m *Metrics) ReceiptSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.sent.Add(ctx, 1)
}

// ReceiptFailed records a failed receipt delivery.
func (m *Metrics) ReceiptFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1)
}

// Snapshot collects reader and returns the total of every int64 sum,
// summed across attribute sets and keyed by instrument name.
func Snapshot(ctx context.Context, reader sdkmetric.Reader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	return totals, nil
}

package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestMetricsSnapshot(t *testing.T) {
	ctx := context.Background()
	m, err := InitMetrics("revops-test")
	if err != nil {
		t.Fatalf("InitMetrics() error = %v", err)
	}
	defer m.Shutdown(ctx)

	meter := otel.Meter("telemetry_test")
	outcomes, err := meter.Int64Counter("revops.delivery.outcomes")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	latency, err := meter.Float64Histogram("revops.delivery.latency")
	if err != nil {
		t.Fatalf("Float64Histogram() error = %v", err)
	}

	outcomes.Add(ctx, 2, metric.WithAttributes(attribute.String("outcome", "DELIVERED")))
	outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "FAILED")))
	latency.Record(ctx, 12.5)
	latency.Record(ctx, 7.5)

	points, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %+v, want 3", points)
	}
	if p := points[0]; p.Name != "revops.delivery.latency" || p.Count != 2 || p.Value != 20 {
		t.Errorf("histogram point = %+v", p)
	}
	if p := points[1]; p.Attributes["outcome"] != "DELIVERED" || p.Value != 2 {
		t.Errorf("first counter point = %+v", p)
	}
	if p := points[2]; p.Attributes["outcome"] != "FAILED" || p.Value != 1 {
		t.Errorf("second counter point = %+v", p)
	}
}

func TestInitTracer(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("revops-test", &buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "pipeline.ingest")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("pipeline.ingest")) {
		t.Errorf("span not exported: %s", buf.String())
	}
}

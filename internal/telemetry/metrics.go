package telemetry

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Metrics is an in-process meter provider whose counters can be read back
// on demand, for the admin API.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// Point is one collected data point.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	// Count is set for histograms; Value is then the sum.
	Count uint64 `json:"count,omitempty"`
}

// InitMetrics installs a meter provider backed by a manual reader.
func InitMetrics(serviceName string) (*Metrics, error) {
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return &Metrics{provider: mp, reader: reader}, nil
}

// Snapshot collects the current value of every instrument, sorted by name
// and attributes.
func (m *Metrics) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: metric.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: metric.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: metric.Name, Attributes: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return attrKey(out[i].Attributes) < attrKey(out[j].Attributes)
	})
	return out, nil
}

// Shutdown flushes and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func attrKey(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

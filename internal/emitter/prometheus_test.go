package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/astra/types"
)

func newTestEmitter(t *testing.T) (*PrometheusEmitter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e, err := newPrometheusEmitter(provider)
	require.NoError(t, err)
	return e, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestPrometheusEmitter_DatabaseInfo(t *testing.T) {
	e, reader := newTestEmitter(t)

	err := e.Emit(context.Background(), Inventory{
		Provider: "astra",
		Databases: []types.Database{
			makeDatabase("a", types.StatusActive),
			makeDatabase("b", types.StatusHibernated),
		},
		Duration: 250 * time.Millisecond,
	})
	require.NoError(t, err)

	metrics := collect(t, reader)

	info := metrics["astra_database_info"].Data.(metricdata.Gauge[int64])
	require.Len(t, info.DataPoints, 2)

	dispositions := map[string]string{}
	for _, dp := range info.DataPoints {
		id, _ := dp.Attributes.Value(attribute.Key("id"))
		disposition, _ := dp.Attributes.Value(attribute.Key("disposition"))
		dispositions[id.AsString()] = disposition.AsString()
		assert.Equal(t, int64(1), dp.Value)
	}
	assert.Equal(t, map[string]string{"a": "ready", "b": "dormant"}, dispositions)

	assert.Equal(t, int64(2), sumValue(t, metrics["astra_inventory_databases_total"]))

	duration := metrics["astra_inventory_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.Len(t, duration.DataPoints, 1)
	assert.InDelta(t, 0.25, duration.DataPoints[0].Sum, 0.001)

	// baseline inventory produces no change events
	_, hasChanges := metrics["astra_database_changes_total"]
	assert.False(t, hasChanges)
}

func TestPrometheusEmitter_Changes(t *testing.T) {
	e, reader := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Inventory{Provider: "astra", Databases: []types.Database{
		makeDatabase("a", types.StatusActive),
		makeDatabase("b", types.StatusActive),
	}}))
	require.NoError(t, e.Emit(ctx, Inventory{Provider: "astra", Databases: []types.Database{
		makeDatabase("a", types.StatusHibernated),
	}}))

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumValue(t, metrics["astra_database_changes_total"]))

	info := metrics["astra_database_info"].Data.(metricdata.Gauge[int64])
	require.Len(t, info.DataPoints, 1)
	status, _ := info.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "HIBERNATED", status.AsString())
}

func TestPrometheusEmitter_ErrorKeepsLastInventory(t *testing.T) {
	e, reader := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Inventory{Provider: "astra", Databases: []types.Database{
		makeDatabase("a", types.StatusActive),
	}}))
	require.NoError(t, e.Emit(ctx, Inventory{Provider: "astra", Error: errors.New("devops unavailable")}))

	metrics := collect(t, reader)
	assert.Equal(t, int64(1), sumValue(t, metrics["astra_inventory_errors_total"]))

	info := metrics["astra_database_info"].Data.(metricdata.Gauge[int64])
	assert.Len(t, info.DataPoints, 1)
}

func TestPrometheusEmitter_Close(t *testing.T) {
	e, _ := newTestEmitter(t)
	assert.NoError(t, e.Close())
}

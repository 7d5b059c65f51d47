package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds keepalive metrics using OTEL semantic conventions
type DaemonMetrics struct {
	cycles           metric.Int64Counter
	cycleDuration    metric.Float64Histogram
	targetsActive    metric.Int64Gauge
	targetFailures   metric.Int64Counter
	housekeepingRuns metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter("astra.keepalive")

	cycles, err := meter.Int64Counter(
		"astra.keepalive.cycles",
		metric.WithDescription("Number of keepalive cycles run"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"astra.keepalive.cycle.duration",
		metric.WithDescription("Duration of keepalive cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	targetsActive, err := meter.Int64Gauge(
		"astra.keepalive.targets.active",
		metric.WithDescription("Number of keepalive targets active after the last cycle"),
		metric.WithUnit("{database}"),
	)
	if err != nil {
		return nil, err
	}

	targetFailures, err := meter.Int64Counter(
		"astra.keepalive.target.failures",
		metric.WithDescription("Number of keepalive activations that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	housekeepingRuns, err := meter.Int64Counter(
		"astra.keepalive.housekeeping",
		metric.WithDescription("Number of journal prune and history compaction runs"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		cycles:           cycles,
		cycleDuration:    cycleDuration,
		targetsActive:    targetsActive,
		targetFailures:   targetFailures,
		housekeepingRuns: housekeepingRuns,
	}, nil
}

// RecordCycle records a finished cycle and how many targets ended active
func (m *DaemonMetrics) RecordCycle(ctx context.Context, status string, durationSeconds float64, active int64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, durationSeconds, attrs)
	m.targetsActive.Record(ctx, active)
}

// RecordTargetFailure records one failed activation
func (m *DaemonMetrics) RecordTargetFailure(ctx context.Context, selector string, outcome string) {
	m.targetFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("activation.selector", selector),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordHousekeeping records a journal prune or history compaction
func (m *DaemonMetrics) RecordHousekeeping(ctx context.Context, operation string, status string, errorType string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", status),
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}

	m.housekeepingRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ActivationMetrics holds the instruments recorded by activations
type ActivationMetrics struct {
	// Counters
	Activations    metric.Int64Counter
	StatusPolls    metric.Int64Counter
	ResumeRequests metric.Int64Counter
	Creations      metric.Int64Counter

	// Histograms
	ActivationDuration metric.Float64Histogram
}

// InitActivationMetrics creates the activation instruments on meter
func InitActivationMetrics(meter metric.Meter) (*ActivationMetrics, error) {
	m := &ActivationMetrics{}

	if err := m.initCounters(meter); err != nil {
		return nil, err
	}

	if err := m.initHistograms(meter); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ActivationMetrics) initCounters(meter metric.Meter) error {
	var err error

	m.Activations, err = meter.Int64Counter(
		"astra.activations.total",
		metric.WithDescription("Total number of activation requests by outcome"),
		metric.WithUnit("activations"),
	)
	if err != nil {
		return err
	}

	m.StatusPolls, err = meter.Int64Counter(
		"astra.status.polls.total",
		metric.WithDescription("Total number of status polls while waiting for ACTIVE"),
		metric.WithUnit("polls"),
	)
	if err != nil {
		return err
	}

	m.ResumeRequests, err = meter.Int64Counter(
		"astra.resume.requests.total",
		metric.WithDescription("Total number of resume requests sent to hibernated databases"),
		metric.WithUnit("requests"),
	)
	if err != nil {
		return err
	}

	m.Creations, err = meter.Int64Counter(
		"astra.databases.created.total",
		metric.WithDescription("Total number of databases created by activations"),
		metric.WithUnit("databases"),
	)
	if err != nil {
		return err
	}

	return nil
}

func (m *ActivationMetrics) initHistograms(meter metric.Meter) error {
	var err error

	m.ActivationDuration, err = meter.Float64Histogram(
		"astra.activation.duration.seconds",
		metric.WithDescription("Time from activation request to ACTIVE or failure"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordActivation records a finished activation
func (m *ActivationMetrics) RecordActivation(
	ctx context.Context,
	path string,
	outcome string,
	durationSeconds float64,
) {
	attrs := metric.WithAttributeSet(attribute.NewSet(
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	))
	m.Activations.Add(ctx, 1, attrs)
	m.ActivationDuration.Record(ctx, durationSeconds, attrs)
}

// RecordStatusPoll records one control plane status read
func (m *ActivationMetrics) RecordStatusPoll(ctx context.Context, status string) {
	m.StatusPolls.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("status", status),
		)),
	)
}

// RecordResumeRequest records a resume nudge and whether it failed
func (m *ActivationMetrics) RecordResumeRequest(ctx context.Context, outcome string) {
	m.ResumeRequests.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("outcome", outcome),
		)),
	)
}

// RecordCreation records a database created on absence
func (m *ActivationMetrics) RecordCreation(ctx context.Context, cloud string, region string) {
	m.Creations.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("cloud", cloud),
			attribute.String("region", region),
		)),
	)
}

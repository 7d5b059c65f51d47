package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ActivationSpan represents one EnsureActive call
type ActivationSpan struct {
	span trace.Span
}

// StartActivation starts a new activation span
func StartActivation(
	ctx context.Context,
	tracer trace.Tracer,
	runID string,
	selector string,
	cloud string,
	region string,
) (context.Context, *ActivationSpan) {
	ctx, span := tracer.Start(ctx, "activation",
		trace.WithAttributes(
			attribute.String("activation.run_id", runID),
			attribute.String("activation.selector", selector),
			attribute.String("cloud", cloud),
			attribute.String("region", region),
		),
	)

	return ctx, &ActivationSpan{span: span}
}

// SetDatabase records which database the activation resolved to
func (a *ActivationSpan) SetDatabase(id string, status string) {
	a.span.SetAttributes(
		attribute.String("database.id", id),
		attribute.String("database.initial_status", status),
	)
}

// SetPath records the branch taken (noop, wait, resume, create)
func (a *ActivationSpan) SetPath(path string) {
	a.span.SetAttributes(attribute.String("activation.path", path))
}

// End ends the span, marking it failed when err is non-nil
func (a *ActivationSpan) End(err error) {
	if err != nil {
		a.span.RecordError(err)
		a.span.SetStatus(codes.Error, err.Error())
	}
	a.span.End()
}

// StartWait starts the polling phase span
func StartWait(ctx context.Context, tracer trace.Tracer, id string, ceiling time.Duration) (context.Context, trace.Span) {
	return tracer.Start(ctx, "wait_active",
		trace.WithAttributes(
			attribute.String("database.id", id),
			attribute.Float64("ceiling.seconds", ceiling.Seconds()),
		),
	)
}

// EndWait ends the polling span with the poll count and last status seen
func EndWait(span trace.Span, polls int64, lastStatus string, elapsed time.Duration) {
	span.SetAttributes(
		attribute.Int64("polls", polls),
		attribute.String("status.last", lastStatus),
		attribute.Float64("elapsed.seconds", elapsed.Seconds()),
	)
	span.End()
}

// RecordStatusPolledEvent adds a span event for one status read
func RecordStatusPolledEvent(span trace.Span, id string, status string, elapsed time.Duration) {
	if span == nil {
		return
	}

	span.AddEvent("database.status.polled", trace.WithAttributes(
		attribute.String("database.id", id),
		attribute.String("status", status),
		attribute.Float64("elapsed.seconds", elapsed.Seconds()),
	))
}

// RecordResumeTriggeredEvent adds a span event for a resume nudge
func RecordResumeTriggeredEvent(span trace.Span, id string, err error) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("database.id", id),
		attribute.Bool("failed", err != nil),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	span.AddEvent("database.resume.triggered", trace.WithAttributes(attrs...))
}

// RecordCreatedEvent adds a span event for a database created on absence
func RecordCreatedEvent(span trace.Span, id string, name string) {
	if span == nil {
		return
	}

	span.AddEvent("database.created", trace.WithAttributes(
		attribute.String("database.id", id),
		attribute.String("database.name", name),
	))
}

package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/types"
)

// PrometheusEmitter emits inventories as metrics via OTEL.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger *telemetry.Logger

	databaseInfo      metric.Int64ObservableGauge
	inventoryDuration metric.Float64Histogram
	databasesTotal    metric.Int64Counter
	inventoryErrors   metric.Int64Counter
	databaseChanges   metric.Int64Counter

	// State for observable gauge
	mu        sync.RWMutex
	databases []types.Database

	diffTracker *DiffTracker
}

// NewPrometheusEmitter creates a Prometheus emitter on the global meter provider.
func NewPrometheusEmitter() (*PrometheusEmitter, error) {
	return newPrometheusEmitter(otel.GetMeterProvider())
}

func newPrometheusEmitter(provider metric.MeterProvider) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:       provider.Meter("astra.inventory"),
		logger:      telemetry.NewLogger("inventory"),
		diffTracker: NewDiffTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.databaseInfo, err = e.meter.Int64ObservableGauge(
		"astra_database_info",
		metric.WithDescription("Non-terminated databases and their status"),
		metric.WithInt64Callback(e.observeDatabases),
	)
	if err != nil {
		return fmt.Errorf("create database_info gauge: %w", err)
	}

	e.inventoryDuration, err = e.meter.Float64Histogram(
		"astra_inventory_duration_seconds",
		metric.WithDescription("Time taken to list databases"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create inventory_duration histogram: %w", err)
	}

	e.databasesTotal, err = e.meter.Int64Counter(
		"astra_inventory_databases_total",
		metric.WithDescription("Total databases listed"),
	)
	if err != nil {
		return fmt.Errorf("create inventory_databases counter: %w", err)
	}

	e.inventoryErrors, err = e.meter.Int64Counter(
		"astra_inventory_errors_total",
		metric.WithDescription("Total failed listings"),
	)
	if err != nil {
		return fmt.Errorf("create inventory_errors counter: %w", err)
	}

	e.databaseChanges, err = e.meter.Int64Counter(
		"astra_database_changes_total",
		metric.WithDescription("Total database changes detected between listings"),
	)
	if err != nil {
		return fmt.Errorf("create database_changes counter: %w", err)
	}

	return nil
}

// Emit records the inventory as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, inv Inventory) error {
	attrs := metric.WithAttributes(attribute.String("provider", inv.Provider))
	logger := e.logger.WithContext(ctx)

	e.inventoryDuration.Record(ctx, inv.Duration.Seconds(), attrs)

	if inv.Error != nil {
		e.inventoryErrors.Add(ctx, 1, attrs)
		logger.Error().
			Err(inv.Error).
			Str("provider", inv.Provider).
			Msg("inventory error")
		return nil // the previous inventory stays published
	}

	e.databasesTotal.Add(ctx, int64(len(inv.Databases)), attrs)

	e.emitDiffs(ctx, inv)

	e.mu.Lock()
	e.databases = inv.Databases
	e.mu.Unlock()

	e.diffTracker.Update(inv.Databases)

	logger.Debug().
		Str("provider", inv.Provider).
		Int("databases", len(inv.Databases)).
		Dur("duration", inv.Duration).
		Msg("inventory complete")

	return nil
}

// emitDiffs counts and logs changes since the previous inventory.
func (e *PrometheusEmitter) emitDiffs(ctx context.Context, inv Inventory) {
	changes := e.diffTracker.ComputeDiff(inv.Databases)
	if changes == nil {
		return
	}

	for _, change := range changes {
		db := change.Database
		e.databaseChanges.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", inv.Provider),
			attribute.String("cloud", string(db.CloudProvider)),
			attribute.String("region", db.Region),
			attribute.String("change_type", string(change.Type)),
		))

		event := e.logger.WithContext(ctx).Info().
			Str("database_id", db.ID).
			Str("name", db.Name).
			Str("status", string(db.Status)).
			Str("change", string(change.Type))

		for field, fc := range change.Fields {
			event = event.
				Str(field+".from", fc.Previous).
				Str(field+".to", fc.Current)
		}

		event.Msg("database changed")
	}
}

// observeDatabases is the callback for the database_info gauge.
func (e *PrometheusEmitter) observeDatabases(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, db := range e.databases {
		attrs := []attribute.KeyValue{
			attribute.String("id", db.ID),
			attribute.String("status", string(db.Status)),
			attribute.String("disposition", db.Status.Disposition().String()),
			attribute.String("cloud", string(db.CloudProvider)),
			attribute.String("region", db.Region),
		}
		if db.Name != "" {
			attrs = append(attrs, attribute.String("name", db.Name))
		}
		if db.Tier != "" {
			attrs = append(attrs, attribute.String("tier", db.Tier))
		}

		o.Observe(1, metric.WithAttributes(attrs...))
	}

	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}

// Package daemon keeps a set of databases awake by activating them on an
// interval, and serves metrics and health endpoints while doing so.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/astra/internal/emitter"
	"github.com/yairfalse/astra/orchestrator"
	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

const shutdownTimeout = 5 * time.Second

// Activator brings one database to ACTIVE
type Activator interface {
	EnsureActive(ctx context.Context, sel types.Selector, cloud types.CloudProvider, region string) (*types.Database, error)
}

// JournalPruner drops journal files past their retention
type JournalPruner interface {
	Prune() (wal.PruneStats, error)
}

// Lister lists the fleet for inventory emission
type Lister interface {
	Name() string
	ListNonTerminated(ctx context.Context) ([]types.Database, error)
}

// Target is a database kept awake by the daemon
type Target struct {
	Selector types.Selector
	Cloud    types.CloudProvider
	Region   string
}

// Config holds daemon configuration
type Config struct {
	Interval       time.Duration
	MetricsPort    int // 0 picks a free port, negative disables the server
	MaxConcurrency int
	Targets        []Target

	// Records kept by history compaction; 0 disables compaction
	HistoryKeep int64
}

// Daemon runs keepalive cycles
type Daemon struct {
	config    Config
	activator Activator
	compactor storage.Compactor
	pruner    JournalPruner
	lister    Lister
	emitter   emitter.Emitter
	metrics   *DaemonMetrics
	logger    *telemetry.Logger

	startTime   time.Time
	cycleCount  atomic.Int64
	ready       atomic.Bool
	metricsPort atomic.Int32
}

// TargetResult is the outcome of one activation in a cycle
type TargetResult struct {
	Target   Target
	Database *types.Database
	Outcome  storage.Outcome
	Err      error
}

// CycleResult summarises one keepalive cycle
type CycleResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Results   []TargetResult
	Active    int
	Failed    int
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, activator Activator) (*Daemon, error) {
	if activator == nil {
		return nil, fmt.Errorf("daemon: activator is required")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("daemon: interval must be positive")
	}
	if len(config.Targets) == 0 {
		return nil, fmt.Errorf("daemon: no databases to keep alive")
	}
	for i, t := range config.Targets {
		if err := t.Selector.Validate(); err != nil {
			return nil, fmt.Errorf("daemon: target %d: %w", i, err)
		}
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("daemon: metrics: %w", err)
	}

	return &Daemon{
		config:    config,
		activator: activator,
		metrics:   metrics,
		logger:    telemetry.NewLogger("keepalive"),
		startTime: time.Now(),
	}, nil
}

// WithCompactor compacts c after every cycle, keeping Config.HistoryKeep records
func (d *Daemon) WithCompactor(c storage.Compactor) *Daemon {
	d.compactor = c
	return d
}

// WithJournalPruner prunes the journal after every cycle
func (d *Daemon) WithJournalPruner(p JournalPruner) *Daemon {
	d.pruner = p
	return d
}

// WithInventory lists the fleet after every cycle and hands it to e
func (d *Daemon) WithInventory(l Lister, e emitter.Emitter) *Daemon {
	d.lister = l
	d.emitter = e
	return d
}

// Start runs cycles until ctx is done or the process receives SIGINT or
// SIGTERM. Both count as a clean shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	g.Add(func() error {
		return d.loop(ctx)
	}, func(error) {
		cancel()
	})

	if d.config.MetricsPort >= 0 {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", d.config.MetricsPort))
		if err != nil {
			return fmt.Errorf("daemon: metrics listener: %w", err)
		}
		d.metricsPort.Store(int32(listener.Addr().(*net.TCPAddr).Port))

		server := &http.Server{
			Handler:           d.Handler(),
			ReadHeaderTimeout: shutdownTimeout,
		}
		g.Add(func() error {
			d.logger.Info().Str("addr", listener.Addr().String()).Msg("starting metrics server")
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	d.logger.Info().
		Dur("interval", d.config.Interval).
		Int("targets", len(d.config.Targets)).
		Int("max_concurrency", d.config.MaxConcurrency).
		Msg("keepalive daemon starting")

	err := g.Run()

	var sigErr run.SignalError
	switch {
	case errors.As(err, &sigErr):
		d.logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	case err == nil, errors.Is(err, context.Canceled):
		d.logger.Info().Msg("shutting down")
		return nil
	}
	return err
}

func (d *Daemon) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		d.RunCycle(ctx)
		d.Inventory(ctx)
		d.housekeeping(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle activates every target once, at most MaxConcurrency at a time.
// Failures are logged and counted; they never stop the other targets.
func (d *Daemon) RunCycle(ctx context.Context) CycleResult {
	result := CycleResult{
		StartedAt: time.Now(),
		Results:   make([]TargetResult, len(d.config.Targets)),
	}

	var g errgroup.Group
	g.SetLimit(d.config.MaxConcurrency)

	for i, target := range d.config.Targets {
		g.Go(func() error {
			db, err := d.activator.EnsureActive(ctx, target.Selector, target.Cloud, target.Region)
			result.Results[i] = TargetResult{
				Target:   target,
				Database: db,
				Outcome:  orchestrator.OutcomeOf(err),
				Err:      err,
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range result.Results {
		if r.Err == nil {
			result.Active++
			continue
		}
		result.Failed++
		d.metrics.RecordTargetFailure(ctx, r.Target.Selector.String(), string(r.Outcome))
		d.logger.WithContext(ctx).Warn().
			Err(r.Err).
			Str("selector", r.Target.Selector.String()).
			Str("outcome", string(r.Outcome)).
			Msg("keepalive activation failed")
	}
	result.Duration = time.Since(result.StartedAt)

	status := "success"
	if result.Failed > 0 {
		status = "partial"
	}
	d.metrics.RecordCycle(ctx, status, result.Duration.Seconds(), int64(result.Active))
	d.cycleCount.Add(1)
	d.ready.Store(true)

	d.logger.Info().
		Int("active", result.Active).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("keepalive cycle complete")

	return result
}

// Inventory lists every non-terminated database and emits the listing.
// It does nothing unless WithInventory was called.
func (d *Daemon) Inventory(ctx context.Context) {
	if d.lister == nil || d.emitter == nil {
		return
	}

	start := time.Now()
	dbs, err := d.lister.ListNonTerminated(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}

	inv := emitter.Inventory{
		Provider:  d.lister.Name(),
		Databases: dbs,
		Duration:  time.Since(start),
		Error:     err,
	}
	if err := d.emitter.Emit(ctx, inv); err != nil {
		d.logger.Warn().Err(err).Msg("inventory emit failed")
	}
}

// housekeeping prunes the journal and compacts history
func (d *Daemon) housekeeping(ctx context.Context) {
	if d.pruner != nil {
		stats, err := d.pruner.Prune()
		if err != nil {
			d.metrics.RecordHousekeeping(ctx, "journal_prune", "error", fmt.Sprintf("%T", err))
			d.logger.Warn().Err(err).Msg("journal prune failed")
		} else {
			d.metrics.RecordHousekeeping(ctx, "journal_prune", "success", "")
		}
		if stats.FilesRemoved > 0 {
			d.logger.Info().
				Int("files_removed", stats.FilesRemoved).
				Int64("bytes_freed", stats.BytesFreed).
				Time("oldest_removed", stats.OldestRemoved).
				Msg("journal pruned")
		}
	}

	if d.compactor != nil && d.config.HistoryKeep > 0 {
		if err := d.compactor.Compact(d.config.HistoryKeep); err != nil {
			d.metrics.RecordHousekeeping(ctx, "history_compact", "error", fmt.Sprintf("%T", err))
			d.logger.Warn().Err(err).Msg("history compaction failed")
		} else {
			d.metrics.RecordHousekeeping(ctx, "history_compact", "success", "")
		}
	}
}

// Handler serves /metrics and the health endpoints
func (d *Daemon) Handler() http.Handler {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if telemetry.PrometheusRegistry != nil {
		gatherer = telemetry.PrometheusRegistry
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleReady)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := d.Health()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "%s (uptime %ds, cycles %d)\n", health.Status, health.Uptime, health.Cycles)
}

func (d *Daemon) handleReady(w http.ResponseWriter, r *http.Request) {
	if !d.ready.Load() {
		http.Error(w, "first keepalive cycle not finished", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Cycles: d.cycleCount.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string
	Uptime int64
	Cycles int64
}

// CycleCount returns total keepalive cycles run
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}

// MetricsPort returns the port the metrics server listens on, or 0
func (d *Daemon) MetricsPort() int {
	return int(d.metricsPort.Load())
}

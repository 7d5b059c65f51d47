package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/astra/internal/daemon"
	"github.com/yairfalse/astra/internal/emitter"
)

var (
	keepaliveInterval    time.Duration
	keepaliveMetricsPort int
	keepaliveOnce        bool
)

// keepaliveCmd runs the keepalive daemon
var keepaliveCmd = &cobra.Command{
	Use:   "keepalive",
	Short: "Keep configured databases awake",
	Long: `Run Astra in daemon mode, activating every database listed under
keepalive.databases on an interval so hibernated ones are resumed before
traffic arrives.

Features:
- Bounded concurrent activations (keepalive.max_concurrency)
- Prometheus metrics on /metrics endpoint
- Health checks on /health, /-/healthy, /-/ready
- Fleet inventory metrics (astra_database_info) with change tracking
- Journal pruning and history compaction after every cycle
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  astra keepalive                    # Run with config defaults
  astra keepalive --interval 5m      # Activate every 5 minutes
  astra keepalive --once             # One cycle, then exit`,
	Args: cobra.NoArgs,
	RunE: runKeepalive,
}

func init() {
	rootCmd.AddCommand(keepaliveCmd)

	keepaliveCmd.Flags().DurationVar(&keepaliveInterval, "interval", 0, "Override keepalive.interval")
	keepaliveCmd.Flags().IntVar(&keepaliveMetricsPort, "metrics-port", 0, "Override keepalive.metrics_port (-1 disables)")
	keepaliveCmd.Flags().BoolVar(&keepaliveOnce, "once", false, "Run one cycle and exit")
}

func runKeepalive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	config, err := keepaliveConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.openState(ctx); err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	d, err := daemon.NewDaemon(config, a.orchestrator(a.pollPolicy(0, 0)))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	d.WithJournalPruner(a.journal)
	if a.history != nil {
		d.WithCompactor(a.history)
	}

	fleet, err := inventoryEmitter(a)
	if err != nil {
		return err
	}
	defer func() { _ = fleet.Close() }()
	d.WithInventory(a.controlPlane, fleet)

	if keepaliveOnce {
		result := d.RunCycle(ctx)
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d databases not active", result.Failed, len(result.Results))
		}
		return nil
	}

	return d.Start(ctx)
}

// inventoryEmitter publishes fleet listings as metrics and journals changes
func inventoryEmitter(a *app) (emitter.Emitter, error) {
	metrics, err := emitter.NewPrometheusEmitter()
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory metrics: %w", err)
	}
	if a.journal == nil {
		return metrics, nil
	}
	return emitter.NewMultiEmitter(metrics, emitter.NewJournalEmitter(a.journal, "keepalive")), nil
}

// keepaliveConfig turns the keepalive section into daemon config
func keepaliveConfig() (daemon.Config, error) {
	config := daemon.Config{
		Interval:       cfg.Keepalive.Interval,
		MetricsPort:    cfg.Keepalive.MetricsPort,
		MaxConcurrency: cfg.Keepalive.MaxConcurrency,
		HistoryKeep:    cfg.History.KeepRecords,
	}
	if keepaliveInterval > 0 {
		config.Interval = keepaliveInterval
	}
	if keepaliveMetricsPort != 0 {
		config.MetricsPort = keepaliveMetricsPort
	}

	for _, target := range cfg.Keepalive.Databases {
		config.Targets = append(config.Targets, daemon.Target{
			Selector: target.Selector(),
			Cloud:    target.CloudProvider(),
			Region:   target.Region,
		})
	}
	if len(config.Targets) == 0 {
		return config, fmt.Errorf("no databases configured under keepalive.databases")
	}
	return config, nil
}

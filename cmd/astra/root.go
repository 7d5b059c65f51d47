package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/astra/config"
	"github.com/yairfalse/astra/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool
	outputFmt  string

	cfg          *config.Config
	otelShutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "astra",
		Short: "Bring Astra DB databases to ACTIVE",
		Long: `Astra - bring serverless databases to ACTIVE

Astra finds a database by name or id, creates it when a name matches
nothing, resumes it when it is hibernated, and waits until the control
plane reports it ACTIVE. Every activation is journaled and kept in a
local history.`,
		Version:            version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
)

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Astra {{.Version}}
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ASTRA_CONFIG"), "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
}

// setup loads config and wires logging and telemetry for every command
func setup(cmd *cobra.Command, args []string) error {
	if outputFmt != "table" && outputFmt != "json" {
		return fmt.Errorf("invalid output format: %s (must be one of: table, json)", outputFmt)
	}

	telemetry.Output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	if err := telemetry.SetLevel(level); err != nil {
		return err
	}

	shutdown, err := telemetry.InitOTEL(cmd.Context(), telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: version,
		OTELEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	otelShutdown = shutdown
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if otelShutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := otelShutdown(ctx)
	otelShutdown = nil
	return err
}

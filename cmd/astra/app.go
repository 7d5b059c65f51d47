package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/astra/config"
	"github.com/yairfalse/astra/orchestrator"
	"github.com/yairfalse/astra/policy"
	"github.com/yairfalse/astra/providers"
	"github.com/yairfalse/astra/providers/astra"
	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/wal"
)

// app holds the clients and local state a command works with
type app struct {
	cfg          *config.Config
	controlPlane providers.ControlPlane
	dataPlane    *astra.DataPlane
	journal      *wal.WAL
	history      *storage.ActivationHistory
	guard        *policy.PolicyEngine
}

// newApp builds the API clients. Local state is opened separately.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}

	cp, err := providers.GetProvider(ctx, "astra", providers.ProviderConfig{
		Token:     cfg.Token,
		BaseURL:   cfg.DevOps.URL,
		Timeout:   cfg.DevOps.Timeout,
		RateLimit: cfg.DevOps.RateLimit,
		Burst:     cfg.DevOps.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create control plane client: %w", err)
	}

	return &app{
		cfg:          cfg,
		controlPlane: cp,
		dataPlane: astra.NewDataPlane(cfg.Token,
			astra.WithEndpointTemplate(cfg.DataPlane.EndpointTemplate),
			astra.WithResumeTimeout(cfg.DataPlane.ResumeTimeout),
		),
	}, nil
}

// openState opens the journal, the history and the create guard. History
// is best effort: a history held by another astra process only costs the
// record of this run. On error nothing is left open.
func (a *app) openState(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	journal, err := wal.OpenWithConfig(a.cfg.Journal.Dir, wal.Config{
		FilePrefix:    wal.DefaultConfig().FilePrefix,
		RetentionDays: a.cfg.Journal.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	a.journal = journal

	history, err := storage.NewActivationHistory(a.cfg.History.Path)
	if err != nil {
		telemetry.NewLogger("astra-cli").Warn().
			Err(err).
			Str("path", a.cfg.History.Path).
			Msg("activation history unavailable, continuing without it")
	} else {
		a.history = history
	}

	if a.cfg.Activation.PolicyFile != "" {
		guard, err := policy.LoadGuard(ctx, a.cfg.Activation.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load create policy: %w", err)
		}
		a.guard = guard
	}
	return nil
}

// orchestrator builds an orchestrator over the app's clients and state
func (a *app) orchestrator(poll orchestrator.PollPolicy) *orchestrator.Orchestrator {
	orch := orchestrator.NewOrchestrator(a.controlPlane, a.dataPlane, poll).
		WithDefaultKeyspace(a.cfg.Activation.DefaultKeyspace)
	if a.journal != nil {
		orch.WithJournal(a.journal)
	}
	if a.history != nil {
		orch.WithHistory(a.history)
	}
	if a.guard != nil {
		orch.WithCreateGuard(a.guard)
	}
	return orch
}

// pollPolicy is the configured policy with flag overrides applied
func (a *app) pollPolicy(interval, ceiling time.Duration) orchestrator.PollPolicy {
	poll := orchestrator.PollPolicy{
		Interval: a.cfg.Activation.PollInterval,
		Ceiling:  a.cfg.Activation.Ceiling,
	}
	if interval > 0 {
		poll.Interval = interval
	}
	if ceiling > 0 {
		poll.Ceiling = ceiling
	}
	return poll
}

func (a *app) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
		a.journal = nil
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
		a.history = nil
	}
	return errors.Join(errs...)
}

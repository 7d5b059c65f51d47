// Package orchestrator brings databases to ACTIVE: it resolves a selector,
// creates or resumes the database when needed, and waits for it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/yairfalse/astra/providers"
	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

// Orchestrator coordinates lookup → create/resume → wait. It keeps no state
// between calls; journal, history and metrics are written, never read.
type Orchestrator struct {
	controlPlane    providers.ControlPlane
	resumer         Resumer
	policy          PollPolicy
	clock           clock.Clock
	defaultKeyspace string

	journal Journal
	history History
	guard   CreateGuard

	metrics *telemetry.ActivationMetrics
	logger  *telemetry.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(cp providers.ControlPlane, resumer Resumer, policy PollPolicy) *Orchestrator {
	metrics, err := telemetry.InitActivationMetrics(telemetry.Meter)
	if err != nil {
		metrics, _ = telemetry.InitActivationMetrics(noop.Meter{})
	}

	return &Orchestrator{
		controlPlane:    cp,
		resumer:         resumer,
		policy:          policy.withDefaults(),
		clock:           clock.RealClock{},
		defaultKeyspace: types.DefaultKeyspace,
		metrics:         metrics,
		logger:          telemetry.NewLogger("orchestrator"),
	}
}

// WithClock sets the clock the wait loop measures and sleeps with
func (o *Orchestrator) WithClock(c clock.Clock) *Orchestrator {
	o.clock = c
	return o
}

// WithJournal records every step to j
func (o *Orchestrator) WithJournal(j Journal) *Orchestrator {
	o.journal = j
	return o
}

// WithHistory records one summary per activation to h
func (o *Orchestrator) WithHistory(h History) *Orchestrator {
	o.history = h
	return o
}

// WithCreateGuard consults g before creating a database
func (o *Orchestrator) WithCreateGuard(g CreateGuard) *Orchestrator {
	o.guard = g
	return o
}

// WithDefaultKeyspace sets the keyspace of databases created on absence
func (o *Orchestrator) WithDefaultKeyspace(keyspace string) *Orchestrator {
	if keyspace != "" {
		o.defaultKeyspace = keyspace
	}
	return o
}

// WithMetrics replaces the activation instruments
func (o *Orchestrator) WithMetrics(m *telemetry.ActivationMetrics) *Orchestrator {
	o.metrics = m
	return o
}

// PollPolicy returns the wait loop settings in effect
func (o *Orchestrator) PollPolicy() PollPolicy {
	return o.policy
}

// activation is the bookkeeping of one EnsureActive or AwaitActive call
type activation struct {
	runID      string
	selector   types.Selector
	cloud      types.CloudProvider
	region     string
	name       string
	databaseID string
	path       Path
	polls      int
	lastStatus types.Status
	startedAt  time.Time
	span       *telemetry.ActivationSpan
}

// EnsureActive brings the selected database to ACTIVE and returns it.
//
// A name that matches nothing is created with cloud and region; an id that
// matches nothing is an error. Dormant databases are resumed, transitional
// ones waited on, terminal ones rejected. Calling it again for a database
// that is already ACTIVE is a no-op.
func (o *Orchestrator) EnsureActive(ctx context.Context, sel types.Selector, cloud types.CloudProvider, region string) (*types.Database, error) {
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("ensure active: %w", err)
	}

	a := o.begin(sel, cloud, region)
	ctx, a.span = telemetry.StartActivation(ctx, telemetry.Tracer, a.runID, sel.String(), string(cloud), region)
	if sel.Kind() == types.SelectByName {
		a.name = sel.Value()
	}

	db, err := o.ensureActive(ctx, a)
	o.finish(ctx, a, db, err)
	return db, err
}

// AwaitActive polls the database until it is ACTIVE, using the poll policy
func (o *Orchestrator) AwaitActive(ctx context.Context, id string) (*types.Database, error) {
	sel := types.ByID(id)
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("await active: %w", err)
	}

	a := o.begin(sel, "", "")
	ctx, a.span = telemetry.StartActivation(ctx, telemetry.Tracer, a.runID, sel.String(), "", "")
	a.databaseID = id
	a.path = PathWait

	db, err := o.await(ctx, a, id)
	o.finish(ctx, a, db, err)
	return db, err
}

func (o *Orchestrator) begin(sel types.Selector, cloud types.CloudProvider, region string) *activation {
	return &activation{
		runID:     uuid.NewString(),
		selector:  sel,
		cloud:     cloud,
		region:    region,
		startedAt: o.clock.Now(),
	}
}

func (o *Orchestrator) ensureActive(ctx context.Context, a *activation) (*types.Database, error) {
	current, found, err := o.resolve(ctx, a)
	if err != nil {
		return nil, err
	}

	if !found {
		return o.createAndAwait(ctx, a)
	}

	a.databaseID = current.ID
	a.name = current.Name
	a.lastStatus = current.Status
	a.span.SetDatabase(current.ID, string(current.Status))

	switch current.Status.Disposition() {
	case types.Ready:
		a.path = PathNoop
		return &current, nil

	case types.Transitional:
		a.path = PathWait
		return o.await(ctx, a, current.ID)

	case types.Dormant:
		a.path = PathResume
		if err := o.resume(ctx, a, current); err != nil {
			return nil, err
		}
		return o.await(ctx, a, current.ID)

	default:
		return nil, &types.UnrecoverableStateError{ID: current.ID, Status: current.Status}
	}
}

// resolve looks the selector up. found is false only for a name that
// matches nothing; an unknown id is an error.
func (o *Orchestrator) resolve(ctx context.Context, a *activation) (types.Database, bool, error) {
	var (
		db    types.Database
		found bool
	)

	switch a.selector.Kind() {
	case types.SelectByName:
		lookup, err := o.controlPlane.FindByName(ctx, a.selector.Value())
		if err != nil {
			return types.Database{}, false, fmt.Errorf("lookup %s: %w", a.selector, err)
		}

		switch l := lookup.(type) {
		case types.NoMatch:
		case types.OneMatch:
			db, found = l.Database, true
		case types.ManyMatches:
			return types.Database{}, false, &types.AmbiguousResourceError{Name: a.selector.Value(), IDs: l.IDs()}
		default:
			return types.Database{}, false, fmt.Errorf("lookup %s: unexpected result %T", a.selector, lookup)
		}

	case types.SelectByID:
		var err error
		db, found, err = o.controlPlane.FindByID(ctx, a.selector.Value())
		if err != nil {
			return types.Database{}, false, fmt.Errorf("lookup %s: %w", a.selector, err)
		}
		if !found {
			return types.Database{}, false, &types.ResourceNotFoundError{Selector: a.selector}
		}
	}

	o.journalAppend(ctx, wal.EntryLookup, a, db.ID, lookupEntry{
		Selector: a.selector.String(),
		Found:    found,
		Status:   db.Status,
	})

	return db, found, nil
}

func (o *Orchestrator) createAndAwait(ctx context.Context, a *activation) (*types.Database, error) {
	a.path = PathCreate

	spec := types.DatabaseSpec{
		Name:          a.selector.Value(),
		CloudProvider: a.cloud,
		Region:        a.region,
		Keyspace:      o.defaultKeyspace,
	}.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("create %s: %w", spec.Name, err)
	}

	if o.guard != nil {
		if err := o.guard.Check(ctx, spec); err != nil {
			return nil, err
		}
	}

	id, err := o.controlPlane.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", spec.Name, err)
	}

	a.databaseID = id
	a.span.SetDatabase(id, "")
	o.metrics.RecordCreation(ctx, string(spec.CloudProvider), spec.Region)
	telemetry.RecordCreatedEvent(trace.SpanFromContext(ctx), id, spec.Name)
	o.journalAppend(ctx, wal.EntryCreated, a, id, spec)

	o.logger.WithContext(ctx).Info().
		Str("run_id", a.runID).
		Str("database_id", id).
		Str("name", spec.Name).
		Str("cloud", string(spec.CloudProvider)).
		Str("region", spec.Region).
		Msg("database created, waiting for it to become active")

	return o.await(ctx, a, id)
}

func (o *Orchestrator) resume(ctx context.Context, a *activation, db types.Database) error {
	err := o.resumer.Resume(ctx, db)

	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	o.metrics.RecordResumeRequest(ctx, outcome)

	telemetry.RecordResumeTriggeredEvent(trace.SpanFromContext(ctx), db.ID, err)

	if err != nil {
		if o.journal != nil {
			if jerr := o.journal.AppendError(wal.EntryResumeTriggered, a.runID, db.ID, db.Status, err); jerr != nil {
				o.logger.LogAuditError(ctx, "journal", jerr)
			}
		}
		return err
	}

	o.journalAppend(ctx, wal.EntryResumeTriggered, a, db.ID, lookupEntry{
		Selector: a.selector.String(),
		Found:    true,
		Status:   db.Status,
	})

	o.logger.WithContext(ctx).Info().
		Str("run_id", a.runID).
		Str("database_id", db.ID).
		Str("status", string(db.Status)).
		Msg("resume triggered")

	return nil
}

// finish records the outcome of an activation to logs, metrics, journal
// and history
func (o *Orchestrator) finish(ctx context.Context, a *activation, db *types.Database, err error) {
	elapsed := o.clock.Since(a.startedAt)
	outcome := OutcomeOf(err)

	a.span.SetPath(string(a.path))
	a.span.End(err)
	o.metrics.RecordActivation(ctx, string(a.path), string(outcome), elapsed.Seconds())

	if err == nil {
		o.journalAppend(ctx, wal.EntryActive, a, db.ID, pollEntry{
			Status:  db.Status,
			Poll:    a.polls,
			Elapsed: elapsed.String(),
		})
		o.logger.LogActivated(ctx, db.ID, string(a.path), elapsed)
	} else {
		if o.journal != nil {
			if jerr := o.journal.AppendError(wal.EntryFailed, a.runID, a.databaseID, failureEntry{
				Selector: a.selector.String(),
				Path:     a.path,
				Outcome:  outcome,
			}, err); jerr != nil {
				o.logger.LogAuditError(ctx, "journal", jerr)
			}
		}
		o.logger.LogActivationFailed(ctx, a.selector.String(), err)
	}

	if o.history == nil {
		return
	}

	record := storage.ActivationRecord{
		RunID:      a.runID,
		Selector:   a.selector.String(),
		Name:       a.name,
		DatabaseID: a.databaseID,
		Cloud:      string(a.cloud),
		Region:     a.region,
		Path:       string(a.path),
		Outcome:    outcome,
		LastStatus: string(a.lastStatus),
		Polls:      a.polls,
		StartedAt:  a.startedAt,
		Duration:   elapsed,
	}
	if db != nil {
		record.Name = db.Name
		record.LastStatus = string(db.Status)
	}
	if err != nil {
		record.Error = err.Error()
	}

	// The caller's context may be the reason we are finishing
	if _, herr := o.history.Record(context.WithoutCancel(ctx), record); herr != nil {
		o.logger.LogAuditError(ctx, "history", herr)
	}
}

func (o *Orchestrator) journalAppend(ctx context.Context, entryType wal.EntryType, a *activation, databaseID string, data interface{}) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Append(entryType, a.runID, databaseID, data); err != nil {
		o.logger.LogAuditError(ctx, "journal", err)
	}
}

// OutcomeOf classifies the error returned by EnsureActive or AwaitActive
func OutcomeOf(err error) storage.Outcome {
	var (
		ambiguous     *types.AmbiguousResourceError
		notFound      *types.ResourceNotFoundError
		unrecoverable *types.UnrecoverableStateError
		timeout       *types.ActivationTimeoutError
		resumeFailed  *types.ResumeFailedError
		denied        *types.CreateDeniedError
		transport     *types.TransportError
	)

	switch {
	case err == nil:
		return storage.OutcomeActive
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return storage.OutcomeCancelled
	case errors.As(err, &ambiguous):
		return storage.OutcomeAmbiguous
	case errors.As(err, &notFound):
		return storage.OutcomeNotFound
	case errors.As(err, &unrecoverable):
		return storage.OutcomeUnrecoverable
	case errors.As(err, &timeout):
		return storage.OutcomeTimeout
	case errors.As(err, &resumeFailed):
		return storage.OutcomeResumeFailed
	case errors.As(err, &denied):
		return storage.OutcomeCreateDenied
	case errors.As(err, &transport):
		return storage.OutcomeTransport
	}
	return storage.OutcomeError
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

// await polls id until it reports ACTIVE.
//
// Polls run back to back at the policy interval. The ceiling is checked
// after each poll and the last sleep is shortened so the final poll lands
// on the ceiling. Elapsed time is measured from the first poll.
func (o *Orchestrator) await(ctx context.Context, a *activation, id string) (*types.Database, error) {
	ctx, span := telemetry.StartWait(ctx, telemetry.Tracer, id, o.policy.Ceiling)
	start := o.clock.Now()
	polls := 0
	defer func() {
		telemetry.EndWait(span, int64(polls), string(a.lastStatus), o.clock.Since(start))
	}()

	logger := o.logger.WithContext(ctx)
	logger.Debug().
		Str("run_id", a.runID).
		Str("database_id", id).
		Dur("interval", o.policy.Interval).
		Dur("ceiling", o.policy.Ceiling).
		Msg("waiting for database to become active")

	for {
		db, found, err := o.controlPlane.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("poll database %s: %w", id, err)
		}
		polls++
		a.polls++

		if !found {
			return nil, &types.ResourceNotFoundError{Selector: types.ByID(id)}
		}

		elapsed := o.clock.Since(start)
		a.lastStatus = db.Status
		o.metrics.RecordStatusPoll(ctx, string(db.Status))
		telemetry.RecordStatusPolledEvent(span, id, string(db.Status), elapsed)
		o.logger.LogStatusPolled(ctx, id, string(db.Status), elapsed)
		o.journalAppend(ctx, wal.EntryPolled, a, id, pollEntry{
			Status:  db.Status,
			Poll:    polls,
			Elapsed: elapsed.String(),
		})

		switch db.Status.Disposition() {
		case types.Ready:
			return &db, nil
		case types.Terminal:
			return nil, &types.UnrecoverableStateError{ID: id, Status: db.Status}
		}

		if elapsed >= o.policy.Ceiling {
			return nil, &types.ActivationTimeoutError{
				ID:         id,
				LastStatus: db.Status,
				Elapsed:    elapsed,
				Ceiling:    o.policy.Ceiling,
			}
		}

		if err := o.sleep(ctx, min(o.policy.Interval, o.policy.Ceiling-elapsed)); err != nil {
			return nil, fmt.Errorf("wait for database %s: %w", id, err)
		}
	}
}

// sleep blocks for d or until ctx is done
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := o.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

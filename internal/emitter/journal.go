package emitter

import (
	"context"
	"fmt"

	"github.com/yairfalse/astra/wal"
)

// Journal is the part of the write-ahead log the emitter writes to
type Journal interface {
	Append(entryType wal.EntryType, runID, databaseID string, data interface{}) error
}

type fleetChangeEntry struct {
	Change string                 `json:"change"`
	Name   string                 `json:"name"`
	Status string                 `json:"status"`
	Fields map[string]FieldChange `json:"fields,omitempty"`
}

// JournalEmitter records fleet changes in the activation journal so they
// show up next to the activations that caused them.
type JournalEmitter struct {
	journal     Journal
	runID       string
	diffTracker *DiffTracker
}

// NewJournalEmitter creates an emitter tagging its entries with runID
func NewJournalEmitter(journal Journal, runID string) *JournalEmitter {
	return &JournalEmitter{
		journal:     journal,
		runID:       runID,
		diffTracker: NewDiffTracker(),
	}
}

// Emit appends one entry per change since the previous inventory.
func (e *JournalEmitter) Emit(_ context.Context, inv Inventory) error {
	if inv.Error != nil {
		return nil
	}

	changes := e.diffTracker.ComputeDiff(inv.Databases)
	e.diffTracker.Update(inv.Databases)

	for _, change := range changes {
		entry := fleetChangeEntry{
			Change: string(change.Type),
			Name:   change.Database.Name,
			Status: string(change.Database.Status),
			Fields: change.Fields,
		}
		if err := e.journal.Append(wal.EntryFleetChange, e.runID, change.Database.ID, entry); err != nil {
			return fmt.Errorf("journal %s change of %s: %w", change.Type, change.Database.ID, err)
		}
	}
	return nil
}

// Close is a no-op; the journal is owned by the caller.
func (e *JournalEmitter) Close() error {
	return nil
}

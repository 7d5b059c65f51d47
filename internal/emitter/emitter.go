// Package emitter publishes the database fleet seen by the keepalive daemon.
package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/astra/types"
)

// Inventory is one listing of non-terminated databases
type Inventory struct {
	Provider  string
	Databases []types.Database
	Duration  time.Duration
	Error     error
}

// Emitter outputs inventories to a backend.
type Emitter interface {
	// Emit sends an inventory to the backend.
	Emit(ctx context.Context, inv Inventory) error

	// Close cleans up resources.
	Close() error
}

// ChangeType classifies a difference between two inventories
type ChangeType string

const (
	ChangeAppeared    ChangeType = "appeared"
	ChangeModified    ChangeType = "modified"
	ChangeDisappeared ChangeType = "disappeared"
)

// FieldChange is the before and after of one field
type FieldChange struct {
	Previous string `json:"from"`
	Current  string `json:"to"`
}

// Change is one database that differs from the previous inventory
type Change struct {
	Type     ChangeType
	Database types.Database
	Previous *types.Database
	Fields   map[string]FieldChange
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that writes to all provided emitters.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, stopping at the first failure.
func (m *MultiEmitter) Emit(ctx context.Context, inv Inventory) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters and returns every failure.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

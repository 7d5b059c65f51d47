package storage

import (
	"context"
	"time"
)

// HistoryWriter records finished activations
type HistoryWriter interface {
	Record(ctx context.Context, record ActivationRecord) (revision int64, err error)
}

// HistoryReader queries recorded activations
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]ActivationRecord, error)
	ListSince(ctx context.Context, since time.Time) ([]ActivationRecord, error)
	Latest(name string) (ActivationRecord, bool)
	LatestAll() []ActivationRecord
}

// Compactor handles storage compaction
type Compactor interface {
	Compact(keepRecords int64) error
}

// StorageStats provides operational metrics
type StorageStats interface {
	Stats() (records int, currentRev int64, dbSizeBytes int64)
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}

// Storage is the complete storage interface combining all capabilities
type Storage interface {
	HistoryWriter
	HistoryReader
	Compactor
	StorageStats
	Lifecycle
}

// Package storage keeps the activation history: one summarized record per
// activation, in bbolt, with an in-memory btree of the newest record per
// database name.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var (
	bucketActivations = []byte("activations")
	bucketMeta        = []byte("meta")

	keyCurrentRevision = []byte("current_revision")
)

// ActivationHistory implements Storage on a bbolt file
type ActivationHistory struct {
	mu sync.RWMutex

	// Newest record per database name
	index *btree.BTreeG[*latestEntry]

	db *bbolt.DB

	currentRev int64
	count      int
	path       string
}

var _ Storage = (*ActivationHistory)(nil)

// NewActivationHistory opens (or creates) the history database at path
func NewActivationHistory(path string) (*ActivationHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketActivations, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	h := &ActivationHistory{
		index: btree.NewG[*latestEntry](32, func(a, b *latestEntry) bool {
			return a.key < b.key
		}),
		db:   db,
		path: path,
	}

	if err := h.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	return h, nil
}

// Close closes the storage
func (h *ActivationHistory) Close() error {
	return h.db.Close()
}

// Record stores one activation summary and returns its revision
func (h *ActivationHistory) Record(ctx context.Context, record ActivationRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rev := h.currentRev + 1
	record.Revision = rev

	err := h.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(record)
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketActivations).Put(int64ToBytes(rev), value); err != nil {
			return err
		}

		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record activation %s: %w", record.RunID, err)
	}

	h.currentRev = rev
	h.count++
	h.index.ReplaceOrInsert(&latestEntry{key: record.indexKey(), record: record})

	return rev, nil
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (h *ActivationHistory) List(ctx context.Context, limit int) ([]ActivationRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var records []ActivationRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketActivations).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var record ActivationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode revision %d: %w", bytesToInt64(k), err)
			}
			records = append(records, record)

			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})
	return records, err
}

// ListSince returns records started at or after since, oldest first
func (h *ActivationHistory) ListSince(ctx context.Context, since time.Time) ([]ActivationRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var records []ActivationRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketActivations).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			var record ActivationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode revision %d: %w", bytesToInt64(k), err)
			}
			if !record.StartedAt.Before(since) {
				records = append(records, record)
			}
			return nil
		})
	})
	return records, err
}

// Latest returns the newest record for a database name
func (h *ActivationHistory) Latest(name string) (ActivationRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, found := h.index.Get(&latestEntry{key: name})
	if !found {
		return ActivationRecord{}, false
	}
	return entry.record, true
}

// LatestAll returns the newest record of every database, ordered by name
func (h *ActivationHistory) LatestAll() []ActivationRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := make([]ActivationRecord, 0, h.index.Len())
	h.index.Ascend(func(entry *latestEntry) bool {
		records = append(records, entry.record)
		return true
	})
	return records
}

// Compact drops all but the newest keepRecords records
func (h *ActivationHistory) Compact(keepRecords int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.currentRev - keepRecords
	if cutoff <= 0 {
		return nil // Nothing to compact
	}

	removed := 0
	err := h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketActivations)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil && bytesToInt64(k) <= cutoff; k, _ = c.Next() {
			toDelete = append(toDelete, k)
		}

		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		removed = len(toDelete)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to compact history: %w", err)
	}

	// The latest-per-name index is left as is: the newest record for a name
	// stays meaningful after older rows are gone.
	h.count -= removed
	return nil
}

// Stats returns the record count, current revision and file size
func (h *ActivationHistory) Stats() (int, int64, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var size int64
	_ = h.db.View(func(tx *bbolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return h.count, h.currentRev, size
}

// rebuildIndex loads the revision and latest-per-name index from disk
func (h *ActivationHistory) rebuildIndex() error {
	return h.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyCurrentRevision); data != nil {
			h.currentRev = bytesToInt64(data)
		}

		return tx.Bucket(bucketActivations).ForEach(func(k, v []byte) error {
			var record ActivationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode revision %d: %w", bytesToInt64(k), err)
			}
			h.count++
			h.index.ReplaceOrInsert(&latestEntry{key: record.indexKey(), record: record})
			return nil
		})
	})
}

// Revisions are stored big-endian so bbolt's byte order is revision order
func int64ToBytes(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func bytesToInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

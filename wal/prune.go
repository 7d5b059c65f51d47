package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PruneStats reports what Prune removed
type PruneStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

func (s *PruneStats) add(info os.FileInfo) {
	s.FilesRemoved++
	s.BytesFreed += info.Size()

	mod := info.ModTime()
	if s.OldestRemoved.IsZero() || mod.Before(s.OldestRemoved) {
		s.OldestRemoved = mod
	}
	if mod.After(s.NewestRemoved) {
		s.NewestRemoved = mod
	}
}

// Prune removes journal files last written before the retention window.
// The file this WAL appends to is never removed, whatever its age.
// A retention of zero days keeps everything.
func (w *WAL) Prune() (PruneStats, error) {
	if w.retentionDays <= 0 {
		return PruneStats{}, nil
	}

	w.mu.Lock()
	current := w.file.Name()
	w.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)
	return pruneBefore(w.dir, w.prefix, cutoff, current)
}

// pruneBefore removes every journal file modified before cutoff except keep.
// Removal goes on past a failed file; all failures are returned together.
func pruneBefore(dir, prefix string, cutoff time.Time, keep string) (PruneStats, error) {
	var (
		stats PruneStats
		errs  []error
	)

	for _, path := range findAllWALFiles(dir, prefix) {
		if path == keep {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		stats.add(info)
	}

	return stats, errors.Join(errs...)
}

// findAllWALFiles returns the journal files in dir, oldest name first
func findAllWALFiles(dir, prefix string) []string {
	if prefix == "" {
		prefix = DefaultConfig().FilePrefix
	}
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.wal"))
	if err != nil {
		return nil
	}
	return files
}

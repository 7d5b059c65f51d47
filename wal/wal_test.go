package wal

import (
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"
)

type pollData struct {
	Status  string `json:"status"`
	Elapsed string `json:"elapsed"`
}

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	steps := []struct {
		entryType EntryType
		status    string
	}{
		{EntryLookup, "HIBERNATED"},
		{EntryResumeTriggered, "HIBERNATED"},
		{EntryPolled, "RESUMING"},
		{EntryActive, "ACTIVE"},
	}

	for _, step := range steps {
		if err := w.Append(step.entryType, "run-1", "abc-123", pollData{Status: step.status}); err != nil {
			t.Fatalf("Failed to append %s entry: %v", step.entryType, err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "activations-*.wal"))
	if len(files) != 1 {
		t.Fatalf("Expected 1 WAL file, got %d", len(files))
	}

	reader, err := NewReader(files[0])
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer func() { _ = reader.Close() }()

	for i, step := range steps {
		entry, err := reader.Next()
		if err != nil {
			t.Fatalf("Failed to read entry %d: %v", i, err)
		}

		if entry.Type != step.entryType {
			t.Errorf("Entry %d: expected type %s, got %s", i, step.entryType, entry.Type)
		}
		if entry.Sequence != int64(i+1) {
			t.Errorf("Entry %d: expected sequence %d, got %d", i, i+1, entry.Sequence)
		}
		if entry.RunID != "run-1" || entry.DatabaseID != "abc-123" {
			t.Errorf("Entry %d: unexpected ids %q/%q", i, entry.RunID, entry.DatabaseID)
		}

		var data pollData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			t.Fatalf("Entry %d: failed to decode data: %v", i, err)
		}
		if data.Status != step.status {
			t.Errorf("Entry %d: expected status %s, got %s", i, step.status, data.Status)
		}
	}

	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF after last entry, got %v", err)
	}
}

func TestWAL_AppendError(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	failure := errors.New("database abc-123 not active after 3m0s")
	if err := w.AppendError(EntryFailed, "run-2", "abc-123", pollData{Status: "PENDING"}, failure); err != nil {
		t.Fatalf("Failed to append error entry: %v", err)
	}
	_ = w.Close()

	var entries []*Entry
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Type != EntryFailed {
		t.Errorf("Expected failed entry, got %s", entries[0].Type)
	}
	if entries[0].Error != failure.Error() {
		t.Errorf("Expected error %q, got %q", failure.Error(), entries[0].Error)
	}
}

func TestWAL_Replay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	_ = w.Append(EntryLookup, "run-1", "", map[string]string{"selector": "name=demo-db"})
	time.Sleep(10 * time.Millisecond)
	checkpoint := time.Now()
	time.Sleep(10 * time.Millisecond)
	_ = w.Append(EntryCreated, "run-1", "abc-123", nil)
	_ = w.Append(EntryActive, "run-1", "abc-123", nil)
	_ = w.Close()

	var seen []EntryType
	err = Replay(dir, checkpoint, func(e *Entry) error {
		seen = append(seen, e.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(seen) != 2 || seen[0] != EntryCreated || seen[1] != EntryActive {
		t.Errorf("Expected [created active] after checkpoint, got %v", seen)
	}
}

func TestWAL_ReplayHandlerError(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(dir)
	_ = w.Append(EntryLookup, "run-1", "", nil)
	_ = w.Append(EntryPolled, "run-1", "abc-123", nil)
	_ = w.Close()

	stop := errors.New("stop")
	calls := 0
	err := Replay(dir, time.Time{}, func(e *Entry) error {
		calls++
		return stop
	})

	if !errors.Is(err, stop) {
		t.Errorf("Expected handler error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected replay to stop after first entry, got %d calls", calls)
	}
}

func TestWAL_CustomPrefix(t *testing.T) {
	dir := t.TempDir()
	config := Config{FilePrefix: "keepalive", RetentionDays: 7}

	w, err := OpenWithConfig(dir, config)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	_ = w.Append(EntryPolled, "run-1", "abc-123", nil)
	_ = w.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "keepalive-*.wal"))
	if len(files) != 1 {
		t.Fatalf("Expected 1 keepalive WAL file, got %d", len(files))
	}

	count := 0
	_ = Replay(dir, time.Time{}, func(*Entry) error { count++; return nil })
	if count != 0 {
		t.Errorf("Default replay should not read other prefixes, got %d entries", count)
	}

	_ = ReplayWithConfig(dir, config, time.Time{}, func(*Entry) error { count++; return nil })
	if count != 1 {
		t.Errorf("Expected 1 entry with matching prefix, got %d", count)
	}
}

func TestWAL_UnmarshalableData(t *testing.T) {
	w, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Append(EntryPolled, "run-1", "abc-123", make(chan int)); err == nil {
		t.Error("Expected marshal error for channel data")
	}
	if w.Sequence() != 0 {
		t.Errorf("Failed append must not consume a sequence number, got %d", w.Sequence())
	}
}

// Package wal is the activation journal: an append-only, JSON-lines
// write-ahead log of every step an activation takes.
package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

// MaxErrorLength caps the error text stored with an entry
const MaxErrorLength = 4096

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryLookup          EntryType = "lookup"
	EntryCreated         EntryType = "created"
	EntryResumeTriggered EntryType = "resume_triggered"
	EntryPolled          EntryType = "polled"
	EntryActive          EntryType = "active"
	EntryFailed          EntryType = "failed"
	EntryFleetChange     EntryType = "fleet_change"
)

// Entry represents a single WAL entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	RunID      string          `json:"run_id,omitempty"`
	DatabaseID string          `json:"database_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
}

// Config controls file naming and retention
type Config struct {
	FilePrefix    string
	RetentionDays int
}

// DefaultConfig returns the journal defaults
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "activations",
		RetentionDays: 30,
	}
}

// WAL provides Write-Ahead Logging for audit and recovery
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	prefix   string

	retentionDays int
}

// Open creates or opens a WAL in the specified directory
func Open(dir string) (*WAL, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig opens a WAL using config's file prefix
func OpenWithConfig(dir string, config Config) (*WAL, error) {
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{
		dir:           dir,
		prefix:        config.FilePrefix,
		retentionDays: config.RetentionDays,
	}

	// Sequence numbers continue across files, so scan before creating ours
	if err := w.loadSequence(); err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s-%s.wal", config.FilePrefix, time.Now().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	w.file = file
	w.writer = bufio.NewWriter(file)

	return w, nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, runID, databaseID string, data interface{}) error {
	return w.append(entryType, runID, databaseID, data, nil)
}

// AppendError adds an error entry to the WAL
func (w *WAL) AppendError(entryType EntryType, runID, databaseID string, data interface{}, errToLog error) error {
	return w.append(entryType, runID, databaseID, data, errToLog)
}

func (w *WAL) append(entryType EntryType, runID, databaseID string, data interface{}, errToLog error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	w.sequence++
	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   w.sequence,
		Type:       entryType,
		RunID:      runID,
		DatabaseID: databaseID,
		Data:       jsonData,
	}
	if errToLog != nil {
		entry.Error = truncateError(errToLog.Error())
	}

	return w.writeEntry(entry)
}

// truncateError keeps the head of msg within MaxErrorLength bytes without
// splitting a UTF-8 sequence
func truncateError(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	const marker = " ...[truncated]"
	cut := MaxErrorLength - len(marker)
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + marker
}

// writeEntry writes a single entry to the WAL
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

// Sequence returns the last sequence number written
func (w *WAL) Sequence() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence
}

// loadSequence finds the highest sequence number in existing files
func (w *WAL) loadSequence() error {
	w.sequence = 0
	for _, file := range findAllWALFiles(w.dir, w.prefix) {
		err := readFile(file, func(entry *Entry) error {
			if entry.Sequence > w.sequence {
				w.sequence = entry.Sequence
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to load sequence from %s: %w", file, err)
		}
	}
	return nil
}

// Reader provides WAL replay functionality. Lines have no length limit.
type Reader struct {
	reader *bufio.Reader
	file   *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Reader{
		reader: bufio.NewReader(file),
		file:   file,
	}, nil
}

// Next reads the next entry from the WAL, skipping blank lines
func (r *Reader) Next() (*Entry, error) {
	for {
		line, err := r.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read entry: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, io.EOF
			}
			continue
		}

		var entry Entry
		if jerr := json.Unmarshal(line, &entry); jerr != nil {
			if err != nil {
				// torn final write
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to unmarshal entry: %w", jerr)
		}
		return &entry, nil
	}
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// readFile calls handler for every entry of one file
func readFile(path string, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handler(entry); err != nil {
			return err
		}
	}
}

// Replay replays journal entries written after since, oldest file first
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	return ReplayWithConfig(dir, DefaultConfig(), since, handler)
}

// ReplayWithConfig is Replay for journals opened with a custom prefix
func ReplayWithConfig(dir string, config Config, since time.Time, handler func(*Entry) error) error {
	for _, file := range findAllWALFiles(dir, config.FilePrefix) {
		err := readFile(file, func(entry *Entry) error {
			if entry.Timestamp.After(since) {
				return handler(entry)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

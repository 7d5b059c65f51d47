package orchestrator

import (
	"context"
	"time"

	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

// Default wait loop settings
const (
	DefaultPollInterval = 5 * time.Second
	DefaultCeiling      = 180 * time.Second
)

// PollPolicy controls the wait loop. Polls are fixed-interval, with no
// jitter or backoff.
type PollPolicy struct {
	Interval time.Duration
	Ceiling  time.Duration
}

// DefaultPollPolicy polls every 5s for at most 180s
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: DefaultPollInterval, Ceiling: DefaultCeiling}
}

// withDefaults fills zero fields
func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	if p.Ceiling <= 0 {
		p.Ceiling = DefaultCeiling
	}
	return p
}

// Path is the branch an activation took after resolving its selector
type Path string

const (
	PathNone   Path = ""
	PathNoop   Path = "noop"
	PathWait   Path = "wait"
	PathResume Path = "resume"
	PathCreate Path = "create"
)

// Resumer wakes a hibernated database. Only an explicit rejection is an
// error; anything inconclusive returns nil.
type Resumer interface {
	Resume(ctx context.Context, db types.Database) error
}

// Journal receives every activation step
type Journal interface {
	Append(entryType wal.EntryType, runID, databaseID string, data interface{}) error
	AppendError(entryType wal.EntryType, runID, databaseID string, data interface{}, err error) error
}

// History stores one summary per activation
type History interface {
	Record(ctx context.Context, record storage.ActivationRecord) (int64, error)
}

// CreateGuard approves database creation. A refusal is a
// *types.CreateDeniedError.
type CreateGuard interface {
	Check(ctx context.Context, spec types.DatabaseSpec) error
}

// lookupEntry is the journal payload of a lookup step
type lookupEntry struct {
	Selector string       `json:"selector"`
	Found    bool         `json:"found"`
	Status   types.Status `json:"status,omitempty"`
}

// pollEntry is the journal payload of a status poll
type pollEntry struct {
	Status  types.Status `json:"status"`
	Poll    int          `json:"poll"`
	Elapsed string       `json:"elapsed"`
}

// failureEntry is the journal payload of a failed activation
type failureEntry struct {
	Selector string          `json:"selector"`
	Path     Path            `json:"path,omitempty"`
	Outcome  storage.Outcome `json:"outcome"`
}

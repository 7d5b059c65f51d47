package storage

import (
	"time"
)

// Outcome summarizes how an activation ended
type Outcome string

const (
	OutcomeActive        Outcome = "active"
	OutcomeAmbiguous     Outcome = "ambiguous"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeUnrecoverable Outcome = "unrecoverable"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeResumeFailed  Outcome = "resume_failed"
	OutcomeCreateDenied  Outcome = "create_denied"
	OutcomeTransport     Outcome = "transport"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeError         Outcome = "error"
)

// ActivationRecord is the summary of one EnsureActive call
type ActivationRecord struct {
	Revision   int64         `json:"revision"`
	RunID      string        `json:"run_id"`
	Selector   string        `json:"selector"`
	Name       string        `json:"name,omitempty"`
	DatabaseID string        `json:"database_id,omitempty"`
	Cloud      string        `json:"cloud,omitempty"`
	Region     string        `json:"region,omitempty"`
	Path       string        `json:"path,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	LastStatus string        `json:"last_status,omitempty"`
	Polls      int           `json:"polls"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the database ended ACTIVE
func (r ActivationRecord) Succeeded() bool {
	return r.Outcome == OutcomeActive
}

// indexKey is what the latest-record index is keyed by: the database name
// when known, otherwise the selector
func (r ActivationRecord) indexKey() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Selector
}

// latestEntry is a btree item holding the newest record for one key
type latestEntry struct {
	key    string
	record ActivationRecord
}

package types

import "strings"

// Status is the lifecycle state of a database as reported by the control plane
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusPending      Status = "PENDING"
	StatusPreparing    Status = "PREPARING"
	StatusPrepared     Status = "PREPARED"
	StatusInitializing Status = "INITIALIZING"
	StatusMaintenance  Status = "MAINTENANCE"
	StatusResizing     Status = "RESIZING"
	StatusResuming     Status = "RESUMING"
	StatusHibernating  Status = "HIBERNATING"
	StatusHibernated   Status = "HIBERNATED"
	StatusTerminating  Status = "TERMINATING"
	StatusTerminated   Status = "TERMINATED"
	StatusError        Status = "ERROR"
	StatusUnknown      Status = "UNKNOWN"
)

// Disposition groups statuses by what an activation has to do about them
type Disposition int

const (
	// Ready databases serve traffic now
	Ready Disposition = iota + 1
	// Transitional databases are moving towards ACTIVE on their own
	Transitional
	// Dormant databases need a resume nudge before they move
	Dormant
	// Terminal databases will never become ACTIVE again
	Terminal
)

func (d Disposition) String() string {
	switch d {
	case Ready:
		return "ready"
	case Transitional:
		return "transitional"
	case Dormant:
		return "dormant"
	case Terminal:
		return "terminal"
	}
	return "invalid"
}

// AllStatuses returns every status the model knows about
func AllStatuses() []Status {
	return []Status{
		StatusActive,
		StatusPending,
		StatusPreparing,
		StatusPrepared,
		StatusInitializing,
		StatusMaintenance,
		StatusResizing,
		StatusResuming,
		StatusHibernating,
		StatusHibernated,
		StatusTerminating,
		StatusTerminated,
		StatusError,
		StatusUnknown,
	}
}

// ParseStatus maps a provider string onto the closed status set.
// Anything unrecognised becomes StatusUnknown.
func ParseStatus(s string) Status {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStatuses() {
		if candidate == known {
			return known
		}
	}
	return StatusUnknown
}

// Disposition classifies the status. Every member of AllStatuses has a case;
// the zero Disposition is returned only for values outside the set.
func (s Status) Disposition() Disposition {
	switch s {
	case StatusActive:
		return Ready
	case StatusPending,
		StatusPreparing,
		StatusPrepared,
		StatusInitializing,
		StatusMaintenance,
		StatusResizing,
		StatusResuming:
		return Transitional
	case StatusHibernating, StatusHibernated:
		return Dormant
	case StatusTerminating, StatusTerminated, StatusError, StatusUnknown:
		return Terminal
	}
	return 0
}

// IsTerminated reports whether the database is gone. TERMINATING databases
// still count as live for name lookups.
func (s Status) IsTerminated() bool {
	return s == StatusTerminated
}

func (s Status) String() string {
	return string(s)
}

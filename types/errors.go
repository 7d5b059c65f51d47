package types

import (
	"fmt"
	"strings"
	"time"
)

// AmbiguousResourceError is returned when a name matches more than one
// non-terminated database. Nothing was created, resumed or deleted.
type AmbiguousResourceError struct {
	Name string
	IDs  []string
}

func (e *AmbiguousResourceError) Error() string {
	return fmt.Sprintf("name %q matches %d non-terminated databases (%s)",
		e.Name, len(e.IDs), strings.Join(e.IDs, ", "))
}

// ResourceNotFoundError is returned when an id matches nothing, or the
// database disappeared while being waited on
type ResourceNotFoundError struct {
	Selector Selector
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("database %s not found", e.Selector)
}

// UnrecoverableStateError is returned for databases in a terminal or error
// state. No activation is attempted.
type UnrecoverableStateError struct {
	ID     string
	Status Status
}

func (e *UnrecoverableStateError) Error() string {
	return fmt.Sprintf("database %s is %s and cannot be activated", e.ID, e.Status)
}

// ActivationTimeoutError is returned when the poll ceiling passes without the
// database reaching ACTIVE. The database may still get there; retrying is safe.
type ActivationTimeoutError struct {
	ID         string
	LastStatus Status
	Elapsed    time.Duration
	Ceiling    time.Duration
}

func (e *ActivationTimeoutError) Error() string {
	return fmt.Sprintf("database %s not active after %s (last status %s, ceiling %s)",
		e.ID, e.Elapsed, e.LastStatus, e.Ceiling)
}

// ResumeFailedError is returned when the data plane explicitly rejected a
// resume request
type ResumeFailedError struct {
	ID         string
	StatusCode int
	Body       string
}

func (e *ResumeFailedError) Error() string {
	msg := fmt.Sprintf("resume of database %s failed with HTTP %d", e.ID, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// TransportError is a network-level failure talking to the provider
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CreateDeniedError is returned when the create policy refuses a new database
type CreateDeniedError struct {
	Name    string
	Reasons []string
}

func (e *CreateDeniedError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("creation of database %q denied by policy", e.Name)
	}
	return fmt.Sprintf("creation of database %q denied by policy: %s",
		e.Name, strings.Join(e.Reasons, "; "))
}

package types

import "fmt"

// SelectorKind says how a Selector identifies a database
type SelectorKind int

const (
	SelectByName SelectorKind = iota + 1
	SelectByID
)

// Selector identifies the database an activation targets.
// Build one with ByName or ByID.
type Selector struct {
	kind  SelectorKind
	value string
}

// ByName selects the single non-terminated database carrying name
func ByName(name string) Selector {
	return Selector{kind: SelectByName, value: name}
}

// ByID selects a database by its control-plane id
func ByID(id string) Selector {
	return Selector{kind: SelectByID, value: id}
}

// Kind returns how the selector matches
func (s Selector) Kind() SelectorKind {
	return s.kind
}

// Value returns the name or id being selected
func (s Selector) Value() string {
	return s.value
}

// Validate rejects zero-value and empty selectors
func (s Selector) Validate() error {
	if s.kind != SelectByName && s.kind != SelectByID {
		return fmt.Errorf("selector must be built with ByName or ByID")
	}
	if s.value == "" {
		return fmt.Errorf("selector value is required")
	}
	return nil
}

func (s Selector) String() string {
	switch s.kind {
	case SelectByName:
		return "name=" + s.value
	case SelectByID:
		return "id=" + s.value
	}
	return "invalid"
}

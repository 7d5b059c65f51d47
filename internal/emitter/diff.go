package emitter

import (
	"slices"
	"strings"
	"sync"

	"github.com/yairfalse/astra/types"
)

// DiffTracker tracks databases between inventories and detects changes.
type DiffTracker struct {
	mu          sync.RWMutex
	previous    map[string]types.Database
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]types.Database),
	}
}

// ComputeDiff compares current databases against the previous inventory.
// Returns nil on the first inventory (baseline establishment) and an empty
// slice if nothing changed.
func (d *DiffTracker) ComputeDiff(current []types.Database) []Change {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	currentMap := indexDatabases(current)
	changes := make([]Change, 0)
	changes = append(changes, d.findDisappearedAndModified(currentMap)...)
	changes = append(changes, d.findAppeared(currentMap)...)

	slices.SortFunc(changes, func(a, b Change) int {
		return strings.Compare(a.Database.ID, b.Database.ID)
	})
	return changes
}

func indexDatabases(dbs []types.Database) map[string]types.Database {
	m := make(map[string]types.Database, len(dbs))
	for _, db := range dbs {
		m[db.ID] = db
	}
	return m
}

func (d *DiffTracker) findDisappearedAndModified(currentMap map[string]types.Database) []Change {
	var changes []Change
	for id, prev := range d.previous {
		prevCopy := prev
		curr, exists := currentMap[id]
		if !exists {
			changes = append(changes, Change{
				Type:     ChangeDisappeared,
				Database: prev,
				Previous: &prevCopy,
			})
			continue
		}
		if fields := detectChanges(prev, curr); len(fields) > 0 {
			changes = append(changes, Change{
				Type:     ChangeModified,
				Database: curr,
				Previous: &prevCopy,
				Fields:   fields,
			})
		}
	}
	return changes
}

func (d *DiffTracker) findAppeared(currentMap map[string]types.Database) []Change {
	var changes []Change
	for id, curr := range currentMap {
		if _, exists := d.previous[id]; !exists {
			changes = append(changes, Change{
				Type:     ChangeAppeared,
				Database: curr,
			})
		}
	}
	return changes
}

// Update stores the current databases as the baseline for the next comparison.
func (d *DiffTracker) Update(current []types.Database) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.previous = indexDatabases(current)
	d.initialized = true
}

// detectChanges compares the fields an operator cares about
func detectChanges(prev, curr types.Database) map[string]FieldChange {
	fields := make(map[string]FieldChange)

	if prev.Name != curr.Name {
		fields["name"] = FieldChange{Previous: prev.Name, Current: curr.Name}
	}
	if prev.Status != curr.Status {
		fields["status"] = FieldChange{Previous: string(prev.Status), Current: string(curr.Status)}
	}
	if !slices.Equal(prev.Keyspaces, curr.Keyspaces) {
		fields["keyspaces"] = FieldChange{
			Previous: strings.Join(prev.Keyspaces, ","),
			Current:  strings.Join(curr.Keyspaces, ","),
		}
	}

	return fields
}

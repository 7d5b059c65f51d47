package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/astra/types"
)

func makeDatabase(id string, status types.Status) types.Database {
	return types.Database{
		ID:            id,
		Name:          "db-" + id,
		Status:        status,
		CloudProvider: types.CloudGCP,
		Region:        "us-east1",
		Keyspaces:     []string{types.DefaultKeyspace},
	}
}

func TestDiffTracker_FirstInventory(t *testing.T) {
	tracker := NewDiffTracker()

	dbs := []types.Database{makeDatabase("a", types.StatusActive)}

	// No baseline yet
	assert.Nil(t, tracker.ComputeDiff(dbs))
}

func TestDiffTracker_NoChanges(t *testing.T) {
	tracker := NewDiffTracker()

	dbs := []types.Database{
		makeDatabase("a", types.StatusActive),
		makeDatabase("b", types.StatusHibernated),
	}
	tracker.Update(dbs)

	diffs := tracker.ComputeDiff(dbs)
	require.NotNil(t, diffs)
	assert.Empty(t, diffs)
}

func TestDiffTracker_Appeared(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Database{makeDatabase("a", types.StatusActive)})

	diffs := tracker.ComputeDiff([]types.Database{
		makeDatabase("a", types.StatusActive),
		makeDatabase("b", types.StatusPending),
	})

	require.Len(t, diffs, 1)
	assert.Equal(t, ChangeAppeared, diffs[0].Type)
	assert.Equal(t, "b", diffs[0].Database.ID)
	assert.Nil(t, diffs[0].Previous)
}

func TestDiffTracker_Disappeared(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Database{
		makeDatabase("a", types.StatusActive),
		makeDatabase("b", types.StatusTerminating),
	})

	diffs := tracker.ComputeDiff([]types.Database{makeDatabase("a", types.StatusActive)})

	require.Len(t, diffs, 1)
	assert.Equal(t, ChangeDisappeared, diffs[0].Type)
	assert.Equal(t, "b", diffs[0].Database.ID)
	require.NotNil(t, diffs[0].Previous)
	assert.Equal(t, types.StatusTerminating, diffs[0].Previous.Status)
}

func TestDiffTracker_StatusChanged(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Database{makeDatabase("a", types.StatusActive)})

	diffs := tracker.ComputeDiff([]types.Database{makeDatabase("a", types.StatusHibernated)})

	require.Len(t, diffs, 1)
	assert.Equal(t, ChangeModified, diffs[0].Type)

	status, ok := diffs[0].Fields["status"]
	require.True(t, ok)
	assert.Equal(t, "ACTIVE", status.Previous)
	assert.Equal(t, "HIBERNATED", status.Current)
}

func TestDiffTracker_NameAndKeyspacesChanged(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Database{makeDatabase("a", types.StatusActive)})

	renamed := makeDatabase("a", types.StatusActive)
	renamed.Name = "orders"
	renamed.Keyspaces = []string{types.DefaultKeyspace, "analytics"}

	diffs := tracker.ComputeDiff([]types.Database{renamed})

	require.Len(t, diffs, 1)
	assert.Equal(t, FieldChange{Previous: "db-a", Current: "orders"}, diffs[0].Fields["name"])
	assert.Equal(t, "default_keyspace,analytics", diffs[0].Fields["keyspaces"].Current)
	assert.NotContains(t, diffs[0].Fields, "status")
}

func TestDiffTracker_MixedChangesSortedByID(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Database{
		makeDatabase("a", types.StatusActive),
		makeDatabase("b", types.StatusActive),
		makeDatabase("c", types.StatusActive),
	})

	diffs := tracker.ComputeDiff([]types.Database{
		makeDatabase("a", types.StatusHibernating), // modified
		// b gone
		makeDatabase("c", types.StatusActive),  // unchanged
		makeDatabase("d", types.StatusPending), // new
	})

	require.Len(t, diffs, 3)
	assert.Equal(t, "a", diffs[0].Database.ID)
	assert.Equal(t, ChangeModified, diffs[0].Type)
	assert.Equal(t, "b", diffs[1].Database.ID)
	assert.Equal(t, ChangeDisappeared, diffs[1].Type)
	assert.Equal(t, "d", diffs[2].Database.ID)
	assert.Equal(t, ChangeAppeared, diffs[2].Type)
}

func TestDiffTracker_UpdateReplacesBaseline(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Database{makeDatabase("a", types.StatusActive)})
	tracker.Update([]types.Database{makeDatabase("b", types.StatusActive)})

	diffs := tracker.ComputeDiff([]types.Database{makeDatabase("b", types.StatusActive)})
	assert.Empty(t, diffs)
}

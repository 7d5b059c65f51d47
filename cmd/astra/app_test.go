package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/astra/config"
	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

func TestOpenState_ReleasesStateOnPolicyError(t *testing.T) {
	server := fakeDevOps(t)
	c, err := config.Load(writeConfig(t, server.URL))
	require.NoError(t, err)
	c.Activation.PolicyFile = filepath.Join(t.TempDir(), "missing.rego")

	a := &app{cfg: c}
	err = a.openState(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create policy")
	assert.Nil(t, a.journal)
	assert.Nil(t, a.history)

	// the bbolt lock was released, so a second open does not time out
	history, err := storage.NewActivationHistory(c.History.Path)
	require.NoError(t, err)
	require.NoError(t, history.Close())
}

func TestOpenState_HistoryHeldElsewhere(t *testing.T) {
	server := fakeDevOps(t)
	c, err := config.Load(writeConfig(t, server.URL))
	require.NoError(t, err)

	held, err := storage.NewActivationHistory(c.History.Path)
	require.NoError(t, err)
	defer func() { _ = held.Close() }()

	a := &app{cfg: c}
	require.NoError(t, a.openState(context.Background()))
	defer func() { _ = a.Close() }()

	assert.NotNil(t, a.journal)
	assert.Nil(t, a.history)
}

func TestCLI_EnsureActive_HistoryHeldElsewhere(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t, devopsDoc("db-1", "orders", "ACTIVE"))
	cfgPath := writeConfig(t, server.URL)

	// another astra process, e.g. a running keepalive daemon
	held, err := storage.NewActivationHistory(filepath.Join(filepath.Dir(cfgPath), "history.db"))
	require.NoError(t, err)

	out, err := runCLI(t, "--config", cfgPath, "db", "ensure-active", "orders", "-o", "json")
	require.NoError(t, err)

	var db types.Database
	require.NoError(t, json.Unmarshal([]byte(out), &db))
	assert.Equal(t, "db-1", db.ID)

	records, err := held.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, held.Close())

	// the journal still has the run
	out, err = runCLI(t, "--config", cfgPath, "journal", "-o", "json")
	require.NoError(t, err)

	var entries []wal.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, wal.EntryActive, entries[1].Type)
}

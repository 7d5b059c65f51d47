package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/astra/config"
	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

// devopsDoc is a database document as the DevOps API returns it
func devopsDoc(id, name, status string) map[string]interface{} {
	return map[string]interface{}{
		"id":     id,
		"status": status,
		"info": map[string]interface{}{
			"name":          name,
			"keyspace":      types.DefaultKeyspace,
			"cloudProvider": "GCP",
			"region":        "us-east1",
			"tier":          "serverless",
		},
	}
}

func fakeDevOps(t *testing.T, docs ...map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v2/databases" && r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(docs)
			return
		}
		for _, doc := range docs {
			if r.URL.Path == "/v2/databases/"+doc["id"].(string) {
				_ = json.NewEncoder(w).Encode(doc)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeConfig(t *testing.T, devopsURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "astra.yaml")
	content := fmt.Sprintf(`devops:
  url: %s
activation:
  poll_interval: 1s
  ceiling: 2s
journal:
  dir: %s
history:
  path: %s
`, devopsURL, filepath.Join(dir, "journal"), filepath.Join(dir, "history.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// resetFlags puts every flag back to its default between runs
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	// Cobra only hands the execution context to a subcommand whose ctx is
	// nil, so clear the one left behind by the previous (cancelled) run.
	cmd.SetContext(nil)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestCLI_DBList(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t,
		devopsDoc("db-1", "orders", "ACTIVE"),
		devopsDoc("db-2", "users", "HIBERNATED"),
		devopsDoc("db-3", "old", "TERMINATED"),
	)
	cfgPath := writeConfig(t, server.URL)

	out, err := runCLI(t, "--config", cfgPath, "db", "list", "-o", "json")
	require.NoError(t, err)

	var dbs []types.Database
	require.NoError(t, json.Unmarshal([]byte(out), &dbs))
	require.Len(t, dbs, 2)
	assert.Equal(t, "orders", dbs[0].Name)

	out, err = runCLI(t, "--config", cfgPath, "db", "list", "--status", "hibernated")
	require.NoError(t, err)
	assert.Contains(t, out, "users")
	assert.NotContains(t, out, "orders")
}

func TestCLI_DBGet_NotFound(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t)

	_, err := runCLI(t, "--config", writeConfig(t, server.URL), "db", "get", "missing")
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestCLI_EnsureActive_AlreadyActive(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t, devopsDoc("db-1", "orders", "ACTIVE"))
	cfgPath := writeConfig(t, server.URL)

	out, err := runCLI(t, "--config", cfgPath, "db", "ensure-active", "orders", "-o", "json")
	require.NoError(t, err)

	var db types.Database
	require.NoError(t, json.Unmarshal([]byte(out), &db))
	assert.Equal(t, "db-1", db.ID)
	assert.Equal(t, types.StatusActive, db.Status)

	out, err = runCLI(t, "--config", cfgPath, "history", "-o", "json")
	require.NoError(t, err)

	var records []storage.ActivationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "noop", records[0].Path)
	assert.Equal(t, storage.OutcomeActive, records[0].Outcome)

	out, err = runCLI(t, "--config", cfgPath, "journal", "-o", "json")
	require.NoError(t, err)

	var entries []wal.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, wal.EntryLookup, entries[0].Type)
	assert.Equal(t, wal.EntryActive, entries[1].Type)
	assert.Equal(t, records[0].RunID, entries[0].RunID)
}

func TestCLI_EnsureActive_Ambiguous(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t,
		devopsDoc("db-1", "orders", "ACTIVE"),
		devopsDoc("db-2", "orders", "PENDING"),
	)

	_, err := runCLI(t, "--config", writeConfig(t, server.URL), "db", "ensure-active", "--name", "orders")

	var ambiguous *types.AmbiguousResourceError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, exitAmbiguous, exitCode(err))
}

func TestCLI_EnsureActive_Unrecoverable(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t, devopsDoc("db-1", "orders", "ERROR"))

	_, err := runCLI(t, "--config", writeConfig(t, server.URL), "db", "ensure-active", "--id", "db-1")
	require.Error(t, err)
	assert.Equal(t, exitUnrecoverable, exitCode(err))
}

func withKeepalive(t *testing.T, cfgPath string, targets ...string) {
	t.Helper()
	section := "keepalive:\n  databases:\n"
	for _, target := range targets {
		section += "    - " + target + "\n"
	}

	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(section)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestCLI_KeepaliveOnce(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t,
		devopsDoc("db-1", "orders", "ACTIVE"),
		devopsDoc("db-2", "users", "ACTIVE"),
	)
	cfgPath := writeConfig(t, server.URL)
	withKeepalive(t, cfgPath, "name: orders", "id: db-2")

	_, err := runCLI(t, "--config", cfgPath, "keepalive", "--once")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", cfgPath, "history", "-o", "json")
	require.NoError(t, err)

	var records []storage.ActivationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 2)
}

func TestCLI_KeepaliveOnce_Failure(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t,
		devopsDoc("db-1", "orders", "ACTIVE"),
		devopsDoc("db-2", "users", "ERROR"),
	)
	cfgPath := writeConfig(t, server.URL)
	withKeepalive(t, cfgPath, "name: orders", "name: users")

	_, err := runCLI(t, "--config", cfgPath, "keepalive", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 databases not active")
}

func TestCLI_KeepaliveWithoutTargets(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t)

	_, err := runCLI(t, "--config", writeConfig(t, server.URL), "keepalive", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keepalive.databases")
}

func TestCLI_DeleteRequiresConfirmation(t *testing.T) {
	t.Setenv(config.EnvToken, "test-token")
	server := fakeDevOps(t)

	_, err := runCLI(t, "--config", writeConfig(t, server.URL), "db", "delete", "db-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestCLI_MissingToken(t *testing.T) {
	t.Setenv(config.EnvToken, "")
	server := fakeDevOps(t)

	_, err := runCLI(t, "--config", writeConfig(t, server.URL), "db", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvToken)
}

func TestCLI_InvalidOutput(t *testing.T) {
	server := fakeDevOps(t)

	_, err := runCLI(t, "--config", writeConfig(t, server.URL), "history", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), exitError},
		{&types.AmbiguousResourceError{Name: "x"}, exitAmbiguous},
		{fmt.Errorf("wrapped: %w", &types.ResourceNotFoundError{Selector: types.ByID("x")}), exitNotFound},
		{&types.UnrecoverableStateError{ID: "x", Status: types.StatusError}, exitUnrecoverable},
		{&types.ActivationTimeoutError{ID: "x"}, exitTimeout},
		{&types.ResumeFailedError{ID: "x", StatusCode: 500}, exitResumeFailed},
		{&types.CreateDeniedError{Name: "x"}, exitCreateDenied},
		{fmt.Errorf("wait: %w", context.Canceled), exitCancelled},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestSelectorFrom(t *testing.T) {
	sel, err := selectorFrom([]string{"orders"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, types.ByName("orders"), sel)

	sel, err = selectorFrom(nil, "", "db-1")
	require.NoError(t, err)
	assert.Equal(t, types.ByID("db-1"), sel)

	_, err = selectorFrom([]string{"orders"}, "", "db-1")
	assert.Error(t, err)

	_, err = selectorFrom(nil, "", "")
	assert.Error(t, err)
}

func TestPrintDatabases(t *testing.T) {
	dbs := []types.Database{{ID: "db-1", Name: "orders", Status: types.StatusActive, CloudProvider: types.CloudGCP, Region: "us-east1"}}

	var table bytes.Buffer
	require.NoError(t, printDatabases(&table, "table", dbs))
	assert.Contains(t, table.String(), "ID")
	assert.Contains(t, table.String(), "orders")
	assert.Contains(t, table.String(), "us-east1")

	var empty bytes.Buffer
	require.NoError(t, printDatabases(&empty, "json", nil))
	assert.JSONEq(t, "[]", empty.String())
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/astra/internal/emitter"
	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

type fakeActivator struct {
	mu       sync.Mutex
	calls    []types.Selector
	failures map[string]error
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeActivator) EnsureActive(ctx context.Context, sel types.Selector, cloud types.CloudProvider, region string) (*types.Database, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, sel)
	err := f.failures[sel.Value()]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &types.Database{ID: sel.Value(), Name: sel.Value(), Status: types.StatusActive, CloudProvider: cloud, Region: region}, nil
}

func (f *fakeActivator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCompactor struct {
	kept atomic.Int64
	runs atomic.Int32
}

func (c *fakeCompactor) Compact(keepRecords int64) error {
	c.kept.Store(keepRecords)
	c.runs.Add(1)
	return nil
}

type fakeLister struct {
	dbs []types.Database
	err error
}

func (l *fakeLister) Name() string { return "astra" }

func (l *fakeLister) ListNonTerminated(ctx context.Context) ([]types.Database, error) {
	return l.dbs, l.err
}

type recordingEmitter struct {
	mu          sync.Mutex
	inventories []emitter.Inventory
}

func (e *recordingEmitter) Emit(_ context.Context, inv emitter.Inventory) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inventories = append(e.inventories, inv)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

func targets(names ...string) []Target {
	out := make([]Target, 0, len(names))
	for _, name := range names {
		out = append(out, Target{Selector: types.ByName(name), Cloud: types.CloudGCP, Region: "us-east1"})
	}
	return out
}

func TestNewDaemon(t *testing.T) {
	config := Config{
		Interval:    5 * time.Minute,
		MetricsPort: -1,
		Targets:     targets("orders"),
	}

	daemon, err := NewDaemon(config, &fakeActivator{})
	require.NoError(t, err)
	assert.Equal(t, config.Interval, daemon.config.Interval)
	assert.Equal(t, 1, daemon.config.MaxConcurrency)
	assert.NotNil(t, daemon.metrics)
}

func TestNewDaemon_InvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		activator Activator
	}{
		{"no activator", Config{Interval: time.Minute, Targets: targets("orders")}, nil},
		{"no interval", Config{Targets: targets("orders")}, &fakeActivator{}},
		{"no targets", Config{Interval: time.Minute}, &fakeActivator{}},
		{"empty selector", Config{Interval: time.Minute, Targets: []Target{{}}}, &fakeActivator{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDaemon(tt.config, tt.activator)
			assert.Error(t, err)
		})
	}
}

func TestDaemon_RunCycle(t *testing.T) {
	activator := &fakeActivator{failures: map[string]error{
		"broken": &types.UnrecoverableStateError{ID: "broken", Status: types.StatusError},
	}}
	daemon, err := NewDaemon(Config{
		Interval:       time.Minute,
		MetricsPort:    -1,
		MaxConcurrency: 2,
		Targets:        targets("orders", "broken", "users"),
	}, activator)
	require.NoError(t, err)

	result := daemon.RunCycle(context.Background())

	assert.Equal(t, 2, result.Active)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "orders", result.Results[0].Database.ID)
	assert.Equal(t, storage.OutcomeUnrecoverable, result.Results[1].Outcome)
	assert.Equal(t, storage.OutcomeActive, result.Results[2].Outcome)
	assert.Equal(t, int64(1), daemon.CycleCount())
	assert.Equal(t, 3, activator.callCount())
}

func TestDaemon_RunCycle_BoundedConcurrency(t *testing.T) {
	activator := &fakeActivator{delay: 20 * time.Millisecond}
	daemon, err := NewDaemon(Config{
		Interval:       time.Minute,
		MetricsPort:    -1,
		MaxConcurrency: 2,
		Targets:        targets("a", "b", "c", "d", "e"),
	}, activator)
	require.NoError(t, err)

	result := daemon.RunCycle(context.Background())

	assert.Equal(t, 5, result.Active)
	assert.LessOrEqual(t, activator.maxInFlight.Load(), int32(2))
}

func TestDaemon_Start(t *testing.T) {
	daemon, err := NewDaemon(Config{
		Interval:    time.Minute,
		MetricsPort: -1,
		Targets:     targets("orders"),
	}, &fakeActivator{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Start(ctx)
	}()

	require.Eventually(t, func() bool { return daemon.CycleCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("daemon exited early: %v", err)
	default:
	}

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shutdown within timeout")
	}
}

func TestDaemon_KeepaliveLoop(t *testing.T) {
	activator := &fakeActivator{}
	daemon, err := NewDaemon(Config{
		Interval:    50 * time.Millisecond,
		MetricsPort: -1,
		Targets:     targets("orders"),
	}, activator)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = daemon.Start(ctx)
	}()

	require.Eventually(t, func() bool { return daemon.CycleCount() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, activator.callCount(), 3)
}

type fakePruner struct {
	runs  atomic.Int32
	stats wal.PruneStats
	err   error
}

func (p *fakePruner) Prune() (wal.PruneStats, error) {
	p.runs.Add(1)
	return p.stats, p.err
}

func TestDaemon_Housekeeping(t *testing.T) {
	compactor := &fakeCompactor{}
	pruner := &fakePruner{stats: wal.PruneStats{FilesRemoved: 2, BytesFreed: 4096}}
	daemon, err := NewDaemon(Config{
		Interval:    time.Minute,
		MetricsPort: -1,
		Targets:     targets("orders"),
		HistoryKeep: 500,
	}, &fakeActivator{})
	require.NoError(t, err)
	daemon.WithCompactor(compactor).WithJournalPruner(pruner)

	daemon.housekeeping(context.Background())

	assert.Equal(t, int32(1), pruner.runs.Load())
	assert.Equal(t, int64(500), compactor.kept.Load())
	assert.Equal(t, int32(1), compactor.runs.Load())
}

func TestDaemon_Housekeeping_PruneErrorDoesNotStopCompaction(t *testing.T) {
	compactor := &fakeCompactor{}
	pruner := &fakePruner{err: errors.New("permission denied")}
	daemon, err := NewDaemon(Config{
		Interval:    time.Minute,
		MetricsPort: -1,
		Targets:     targets("orders"),
		HistoryKeep: 10,
	}, &fakeActivator{})
	require.NoError(t, err)
	daemon.WithCompactor(compactor).WithJournalPruner(pruner)

	daemon.housekeeping(context.Background())

	assert.Equal(t, int32(1), pruner.runs.Load())
	assert.Equal(t, int32(1), compactor.runs.Load())
}

func TestDaemon_Housekeeping_RealJournal(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "activations-20200101-000000.wal")
	require.NoError(t, os.WriteFile(old, []byte(`{"sequence":1,"type":"active","data":null}`+"\n"), 0600))
	oldTime := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	journal, err := wal.OpenWithConfig(dir, wal.Config{RetentionDays: 30})
	require.NoError(t, err)
	defer func() { _ = journal.Close() }()

	daemon, err := NewDaemon(Config{
		Interval:    time.Minute,
		MetricsPort: -1,
		Targets:     targets("orders"),
	}, &fakeActivator{})
	require.NoError(t, err)
	daemon.WithJournalPruner(journal)

	daemon.housekeeping(context.Background())

	_, err = os.Stat(old)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	require.NoError(t, journal.Append(wal.EntryLookup, "run-1", "", nil))
}

func TestDaemon_Health(t *testing.T) {
	daemon, err := NewDaemon(Config{
		Interval:    5 * time.Minute,
		MetricsPort: -1,
		Targets:     targets("orders"),
	}, &fakeActivator{})
	require.NoError(t, err)

	health := daemon.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.Uptime, int64(0))
	assert.Zero(t, health.Cycles)
}

func TestDaemon_HealthEndpoints(t *testing.T) {
	activator := &fakeActivator{delay: 200 * time.Millisecond}
	daemon, err := NewDaemon(Config{
		Interval:    5 * time.Minute,
		MetricsPort: 0,
		Targets:     targets("orders"),
	}, activator)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = daemon.Start(ctx)
	}()

	require.Eventually(t, func() bool { return daemon.MetricsPort() > 0 }, 2*time.Second, 10*time.Millisecond)
	base := fmt.Sprintf("http://localhost:%d", daemon.MetricsPort())

	get := func(path string) int {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusOK, get("/-/healthy"))
	assert.Equal(t, http.StatusOK, get("/metrics"))

	require.Eventually(t, func() bool { return get("/-/ready") == http.StatusOK }, 2*time.Second, 20*time.Millisecond)
}

func TestDaemon_Inventory(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Minute, Targets: targets("orders")}, &fakeActivator{})
	require.NoError(t, err)

	// no lister configured
	d.Inventory(context.Background())

	lister := &fakeLister{dbs: []types.Database{
		{ID: "a", Name: "orders", Status: types.StatusActive},
		{ID: "b", Name: "users", Status: types.StatusHibernated},
	}}
	rec := &recordingEmitter{}
	d.WithInventory(lister, rec)

	d.Inventory(context.Background())

	lister.err = errors.New("devops unavailable")
	d.Inventory(context.Background())

	require.Len(t, rec.inventories, 2)
	assert.Equal(t, "astra", rec.inventories[0].Provider)
	assert.Len(t, rec.inventories[0].Databases, 2)
	assert.NoError(t, rec.inventories[0].Error)
	assert.EqualError(t, rec.inventories[1].Error, "devops unavailable")
}

func TestDaemon_Inventory_CancelledSkipsEmit(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Minute, Targets: targets("orders")}, &fakeActivator{})
	require.NoError(t, err)

	rec := &recordingEmitter{}
	d.WithInventory(&fakeLister{err: context.Canceled}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Inventory(ctx)

	assert.Empty(t, rec.inventories)
}

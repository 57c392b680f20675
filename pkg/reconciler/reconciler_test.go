package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamcloud/lustre-fleet/pkg/types"
)

type fakeStore struct {
	mu sync.Mutex

	names          []string
	mgsFqdn        map[string]string
	intervals      map[string]*types.SnapshotInterval
	retentions     map[string]*types.SnapshotRetention
	snapshots      map[string][]types.Snapshot
	capacity       map[string][2]uint64
	intervalRuns   []int64
	retentionRuns  []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mgsFqdn:    map[string]string{},
		intervals:  map[string]*types.SnapshotInterval{},
		retentions: map[string]*types.SnapshotRetention{},
		snapshots:  map[string][]types.Snapshot{},
		capacity:   map[string][2]uint64{},
	}
}

func (f *fakeStore) FilesystemNames(ctx context.Context) ([]string, error) { return f.names, nil }

func (f *fakeStore) ActiveMgsHostFqdn(ctx context.Context, fsname string) (string, bool, error) {
	fqdn, ok := f.mgsFqdn[fsname]
	return fqdn, ok, nil
}

func (f *fakeStore) SnapshotInterval(ctx context.Context, fsname string) (*types.SnapshotInterval, bool, error) {
	iv, ok := f.intervals[fsname]
	return iv, ok, nil
}

func (f *fakeStore) UpdateIntervalLastRun(ctx context.Context, id int64, when time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervalRuns = append(f.intervalRuns, id)
	return nil
}

func (f *fakeStore) SnapshotRetention(ctx context.Context, fsname string) (*types.SnapshotRetention, bool, error) {
	r, ok := f.retentions[fsname]
	return r, ok, nil
}

func (f *fakeStore) UpdateRetentionLastRun(ctx context.Context, id int64, when time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retentionRuns = append(f.retentionRuns, id)
	return nil
}

func (f *fakeStore) Snapshots(ctx context.Context, fsname string) ([]types.Snapshot, error) {
	return f.snapshots[fsname], nil
}

func (f *fakeStore) ScanLocked(ctx context.Context, fsname, snapshotName string) (bool, error) {
	return false, nil
}

func (f *fakeStore) FilesystemCapacity(ctx context.Context, fsname string) (uint64, uint64, error) {
	c := f.capacity[fsname]
	return c[0], c[1], nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDispatcher) ActionStart(ctx context.Context, fqdn, action string, args json.RawMessage) (chan types.ActionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, action)
	f.mu.Unlock()

	reply := make(chan types.ActionResult, 1)
	reply <- types.ActionResult{OK: true, Value: []byte("null")}
	return reply, nil
}

type fakeLeader struct{ leader bool }

func (f *fakeLeader) IsLeader() bool { return f.leader }

func TestReconcileFiresCadenceAndRecordsLastRun(t *testing.T) {
	store := newFakeStore()
	store.names = []string{"fs1"}
	store.mgsFqdn["fs1"] = "mgs1.example.com"
	store.intervals["fs1"] = &types.SnapshotInterval{ID: 1, FilesystemName: "fs1", Interval: time.Hour}

	dispatcher := &fakeDispatcher{}
	r := NewReconciler(store, dispatcher, &fakeLeader{leader: true})

	require.NoError(t, r.reconcile(context.Background()))

	assert.Contains(t, dispatcher.calls, "snapshot_create")
	assert.Equal(t, []int64{1}, store.intervalRuns)
}

func TestReconcileSkipsFilesystemWithoutMgs(t *testing.T) {
	store := newFakeStore()
	store.names = []string{"fs1"}
	store.intervals["fs1"] = &types.SnapshotInterval{ID: 1, FilesystemName: "fs1", Interval: time.Hour}

	dispatcher := &fakeDispatcher{}
	r := NewReconciler(store, dispatcher, &fakeLeader{leader: true})

	require.NoError(t, r.reconcile(context.Background()))

	assert.Empty(t, dispatcher.calls)
	assert.Empty(t, store.intervalRuns)
}

func TestReconcileRunsRetentionAndRecordsLastRun(t *testing.T) {
	store := newFakeStore()
	store.names = []string{"fs1"}
	store.mgsFqdn["fs1"] = "mgs1.example.com"
	store.retentions["fs1"] = &types.SnapshotRetention{
		ID:             9,
		FilesystemName: "fs1",
		ReserveUnit:    types.ReservePercent,
		ReserveValue:   50,
		KeepNum:        1,
	}
	store.capacity["fs1"] = [2]uint64{100, 10} // 10% free, below the 50% reserve
	now := time.Now()
	store.snapshots["fs1"] = []types.Snapshot{
		{FilesystemName: "fs1", SnapshotName: "snap1", CreateTime: now.Add(-2 * time.Hour)},
		{FilesystemName: "fs1", SnapshotName: "snap2", CreateTime: now.Add(-1 * time.Hour)},
	}

	dispatcher := &fakeDispatcher{}
	r := NewReconciler(store, dispatcher, &fakeLeader{leader: true})

	require.NoError(t, r.reconcile(context.Background()))

	assert.Contains(t, dispatcher.calls, "snapshot_destroy")
	assert.Equal(t, []int64{9}, store.retentionRuns)
}

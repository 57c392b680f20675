package snapshot

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

type fakeDispatcher struct {
	mu            sync.Mutex
	destroyCount  int
	unmountCount  int
	createCount   int
	failUnmount   map[string]bool
	failOnce      map[string]bool
	calledActions []string
}

func (f *fakeDispatcher) ActionStart(ctx context.Context, fqdn, action string, args json.RawMessage) (chan types.ActionResult, error) {
	f.mu.Lock()
	f.calledActions = append(f.calledActions, action)
	var name string
	var decoded map[string]any
	_ = json.Unmarshal(args, &decoded)
	if n, ok := decoded["name"].(string); ok {
		name = n
	}

	reply := make(chan types.ActionResult, 1)
	switch action {
	case "snapshot_create":
		f.createCount++
		f.mu.Unlock()
		reply <- types.ActionResult{OK: true}
	case "snapshot_unmount":
		f.unmountCount++
		fail := f.failUnmount[name]
		f.mu.Unlock()
		if fail {
			reply <- types.ActionResult{OK: false, Err: "unmount refused"}
		} else {
			reply <- types.ActionResult{OK: true}
		}
	case "snapshot_destroy":
		once := f.failOnce[name]
		if once {
			f.failOnce[name] = false
		} else {
			f.destroyCount++
		}
		f.mu.Unlock()
		if once {
			reply <- types.ActionResult{OK: false, Err: "busy"}
		} else {
			reply <- types.ActionResult{OK: true}
		}
	default:
		f.mu.Unlock()
		reply <- types.ActionResult{OK: true}
	}
	return reply, nil
}

func (f *fakeDispatcher) destroysSoFar() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyCount
}

func namedSnapshots(n int, base time.Time) []types.Snapshot {
	out := make([]types.Snapshot, n)
	for i := 0; i < n; i++ {
		out[i] = types.Snapshot{
			FilesystemName: "fs1",
			SnapshotName:   "s" + string(rune('1'+i)),
			CreateTime:     base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

// TestRunRetentionScenarioS6 reproduces scenario S6: keep_num=3,
// reserve=20%, current free=10%, snapshots s1..s8 by age ascending (none
// mounted). Expected: destroy s1..s5 in order, stopping once free
// reaches 20% after destroying s5, leaving s6, s7, s8.
func TestRunRetentionScenarioS6(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshots := namedSnapshots(8, base)

	fd := &fakeDispatcher{failUnmount: map[string]bool{}, failOnce: map[string]bool{}}

	retention := types.SnapshotRetention{
		FilesystemName: "fs1",
		ReserveValue:   20,
		ReserveUnit:    types.ReservePercent,
		KeepNum:        3,
	}

	capacity := func(ctx context.Context) (CapacityInfo, error) {
		n := fd.destroysSoFar()
		freePercent := 10 + 2*n
		total := uint64(1000)
		free := total * uint64(freePercent) / 100
		return CapacityInfo{TotalBytes: total, FreeBytes: free}, nil
	}

	destroyed, err := RunRetention(context.Background(), fd, "mgs1", retention, snapshots, capacity, func(string) bool { return false })
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5"}, destroyed)
	assert.Equal(t, 5, fd.destroysSoFar())
}

func TestReserveSatisfiedUnits(t *testing.T) {
	assert.True(t, ReserveSatisfied(CapacityInfo{TotalBytes: 1000, FreeBytes: 250}, types.SnapshotRetention{ReserveValue: 20, ReserveUnit: types.ReservePercent}))
	assert.False(t, ReserveSatisfied(CapacityInfo{TotalBytes: 1000, FreeBytes: 100}, types.SnapshotRetention{ReserveValue: 20, ReserveUnit: types.ReservePercent}))
	assert.True(t, ReserveSatisfied(CapacityInfo{FreeBytes: 3 * gibibyte}, types.SnapshotRetention{ReserveValue: 2, ReserveUnit: types.ReserveGibibytes}))
	assert.False(t, ReserveSatisfied(CapacityInfo{FreeBytes: 1 * tebibyte}, types.SnapshotRetention{ReserveValue: 2, ReserveUnit: types.ReserveTebibytes}))
}

// TestRunRetentionSkipsScanLocked checks the ScanLock resolution: a
// busy snapshot is skipped like an unmountable one rather than blocking
// retention forever.
func TestRunRetentionSkipsScanLocked(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshots := namedSnapshots(4, base)

	fd := &fakeDispatcher{failUnmount: map[string]bool{}, failOnce: map[string]bool{}}
	retention := types.SnapshotRetention{FilesystemName: "fs1", ReserveValue: 90, ReserveUnit: types.ReservePercent, KeepNum: 1}
	capacity := func(ctx context.Context) (CapacityInfo, error) {
		return CapacityInfo{TotalBytes: 1000, FreeBytes: 0}, nil
	}
	locked := func(name string) bool { return name == "s1" }

	destroyed, err := RunRetention(context.Background(), fd, "mgs1", retention, snapshots, capacity, locked)
	require.NoError(t, err)

	assert.NotContains(t, destroyed, "s1")
	assert.Equal(t, []string{"s2", "s3", "s4"}, destroyed)
}

// TestRunRetentionUnmountsThenRetries checks that a mounted candidate
// is unmounted and retried in place rather than skipped outright.
func TestRunRetentionUnmountsThenRetries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshots := namedSnapshots(3, base)
	snapshots[0].Mounted = true

	fd := &fakeDispatcher{failUnmount: map[string]bool{}, failOnce: map[string]bool{}}
	retention := types.SnapshotRetention{FilesystemName: "fs1", ReserveValue: 90, ReserveUnit: types.ReservePercent, KeepNum: 0}
	capacity := func(ctx context.Context) (CapacityInfo, error) {
		return CapacityInfo{TotalBytes: 1000, FreeBytes: 0}, nil
	}

	destroyed, err := RunRetention(context.Background(), fd, "mgs1", retention, snapshots, capacity, func(string) bool { return false })
	require.NoError(t, err)

	assert.Equal(t, 1, fd.unmountCount)
	assert.Equal(t, []string{"s1", "s2", "s3"}, destroyed)
}

func TestShouldFireCadence(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, ShouldFireCadence(types.SnapshotInterval{Interval: time.Hour}, now))

	last := now.Add(-30 * time.Minute)
	assert.False(t, ShouldFireCadence(types.SnapshotInterval{Interval: time.Hour, LastRun: &last}, now))

	last2 := now.Add(-2 * time.Hour)
	assert.True(t, ShouldFireCadence(types.SnapshotInterval{Interval: time.Hour, LastRun: &last2}, now))
}

func TestFireCadenceSkipsWhenInFlight(t *testing.T) {
	fd := &fakeDispatcher{failUnmount: map[string]bool{}, failOnce: map[string]bool{}}
	fired, err := FireCadence(context.Background(), fd, "mgs1", types.SnapshotInterval{FilesystemName: "fs1", Interval: time.Hour}, time.Now(), true)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, 0, fd.createCount)
}

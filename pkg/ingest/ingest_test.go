package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamcloud/lustre-fleet/pkg/changebus"
	"github.com/whamcloud/lustre-fleet/pkg/storage"
	"github.com/whamcloud/lustre-fleet/pkg/types"
	"github.com/whamcloud/lustre-fleet/pkg/wire"
)

type fakeCheckpoints struct {
	seqs map[string]uint64
}

func newFakeCheckpoints() *fakeCheckpoints { return &fakeCheckpoints{seqs: map[string]uint64{}} }

func (f *fakeCheckpoints) Get(host string) (uint64, bool, error) {
	s, ok := f.seqs[host]
	return s, ok, nil
}

func (f *fakeCheckpoints) Set(host string, seq uint64) error {
	f.seqs[host] = seq
	return nil
}

type fakeWriter struct{ s *fakeStore }

func (w fakeWriter) UpsertDevices(ctx context.Context, devices []types.Device) error {
	for _, d := range devices {
		w.s.devices[d.ID] = d
	}
	return nil
}

func (w fakeWriter) DeleteDevices(ctx context.Context, ids []types.DeviceID) error {
	for _, id := range ids {
		delete(w.s.devices, id)
	}
	return nil
}

func (w fakeWriter) UpsertDeviceHosts(ctx context.Context, hosts []types.DeviceHost) error {
	for _, h := range hosts {
		w.s.deviceHosts[h.Key()] = h
	}
	return nil
}

func (w fakeWriter) DeleteDeviceHosts(ctx context.Context, hosts []types.DeviceHost) error {
	for _, h := range hosts {
		delete(w.s.deviceHosts, h.Key())
	}
	return nil
}

func (w fakeWriter) UpsertTargets(ctx context.Context, targets []types.Target) error {
	for _, t := range targets {
		w.s.targets[t.Key()] = t
	}
	return nil
}

func (w fakeWriter) DeleteTargets(ctx context.Context, targets []types.Target) error {
	for _, t := range targets {
		delete(w.s.targets, t.Key())
	}
	return nil
}

func (w fakeWriter) PublishChange(ctx context.Context, channel string, delta changebus.Delta) error {
	w.s.published = append(w.s.published, delta)
	return nil
}

type fakeStore struct {
	registeredHosts map[string]int64
	devices         map[types.DeviceID]types.Device
	deviceHosts     map[[2]string]types.DeviceHost
	targets         map[[2]string]types.Target
	alerts          map[string]types.AlertState
	published       []changebus.Delta
	txCount         int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		registeredHosts: map[string]int64{},
		devices:         map[types.DeviceID]types.Device{},
		deviceHosts:     map[[2]string]types.DeviceHost{},
		targets:         map[[2]string]types.Target{},
		alerts:          map[string]types.AlertState{},
	}
}

func (s *fakeStore) HostID(ctx context.Context, fqdn string) (int64, bool, error) {
	id, ok := s.registeredHosts[fqdn]
	return id, ok, nil
}

func (s *fakeStore) IngestTransaction(ctx context.Context, fn func(w storage.IngestWriter) error) error {
	s.txCount++
	return fn(fakeWriter{s: s})
}

func (s *fakeStore) AllDevices(ctx context.Context) ([]types.Device, error) {
	out := make([]types.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) AllDeviceHosts(ctx context.Context) ([]types.DeviceHost, error) {
	out := make([]types.DeviceHost, 0, len(s.deviceHosts))
	for _, dh := range s.deviceHosts {
		out = append(out, dh)
	}
	return out, nil
}

func (s *fakeStore) ActiveAlert(ctx context.Context, kind types.AlertRecordType, itemRef string) (*types.AlertState, error) {
	if a, ok := s.alerts[string(kind)+"|"+itemRef]; ok && a.Active {
		cp := a
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) Insert(ctx context.Context, a types.AlertState) error {
	s.alerts[string(a.Kind)+"|"+a.ItemRef] = a
	return nil
}

func (s *fakeStore) CloseActive(ctx context.Context, kinds []types.AlertRecordType, itemRef string, end time.Time) (int, error) {
	closed := 0
	for _, k := range kinds {
		key := string(k) + "|" + itemRef
		if a, ok := s.alerts[key]; ok && a.Active {
			a.Active = false
			a.End = &end
			s.alerts[key] = a
			closed++
		}
	}
	return closed, nil
}

func inventoryMsg(host string, seq uint64, deviceID, devPath, target, opts string) Message {
	return Message{
		HostFqdn: host,
		Seq:      seq,
		Frame: wire.InventoryFrame{
			Devices: map[types.DeviceID]wire.DeviceFrame{
				types.DeviceID(deviceID): {Kind: types.DeviceKindZpool},
			},
			Mounts: []wire.MountFrame{
				{Source: types.DevicePath(devPath), Target: target, FsType: "lustre", Opts: opts},
			},
		},
	}
}

func TestApplyLearnsAndPersistsTarget(t *testing.T) {
	store := newFakeStore()
	store.registeredHosts["oss1"] = 1
	ing := New(store, newFakeCheckpoints())

	msg := inventoryMsg("oss1", 1, "ost0-dev", "/dev/mapper/ost0", "/lustre/fs1/ost0", "svname=fs1-OST0000")

	require.NoError(t, ing.apply(context.Background(), msg))

	require.Len(t, store.targets, 1)
	for _, target := range store.targets {
		assert.Equal(t, "fs1-OST0000", target.Name)
		assert.Equal(t, types.TargetKindOST, target.Kind)
		assert.Equal(t, types.TargetMounted, target.State)
	}
	assert.Len(t, store.devices, 1)
	assert.Len(t, store.deviceHosts, 1)
	assert.NotEmpty(t, store.published)
	assert.Equal(t, 1, store.txCount)
}

func TestApplyDropsReportForUnregisteredHost(t *testing.T) {
	store := newFakeStore()
	ing := New(store, newFakeCheckpoints())

	msg := inventoryMsg("unknown-host", 1, "ost0-dev", "/dev/mapper/ost0", "/lustre/fs1/ost0", "svname=fs1-OST0000")
	require.NoError(t, ing.apply(context.Background(), msg))

	assert.Empty(t, store.targets)
	assert.Equal(t, 0, store.txCount)
}

func TestSubmitProcessesDifferentHostsIndependently(t *testing.T) {
	store := newFakeStore()
	store.registeredHosts["oss1"] = 1
	store.registeredHosts["oss2"] = 2
	ing := New(store, newFakeCheckpoints())
	defer ing.Stop()

	ctx := context.Background()
	require.NoError(t, ing.Submit(ctx, inventoryMsg("oss1", 1, "ost0-dev", "/dev/mapper/ost0", "/lustre/fs1/ost0", "svname=fs1-OST0000")))
	require.NoError(t, ing.Submit(ctx, inventoryMsg("oss2", 1, "ost1-dev", "/dev/mapper/ost1", "/lustre/fs1/ost1", "svname=fs1-OST0001")))

	assert.Eventually(t, func() bool {
		return len(store.targets) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestApplyDetectsSequenceGap(t *testing.T) {
	store := newFakeStore()
	store.registeredHosts["oss1"] = 1
	checkpoints := newFakeCheckpoints()
	checkpoints.seqs["oss1"] = 5

	ing := New(store, checkpoints)
	msg := inventoryMsg("oss1", 9, "ost0-dev", "/dev/mapper/ost0", "/lustre/fs1/ost0", "svname=fs1-OST0000")
	require.NoError(t, ing.apply(context.Background(), msg))

	seq, ok, err := checkpoints.Get("oss1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), seq)
}

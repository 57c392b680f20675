package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/whamcloud/lustre-fleet/pkg/devicegraph"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

func graphWithDevice(id, host string, path types.DevicePath) devicegraph.Graph {
	inv := devicegraph.HostInventory{
		Fqdn: host,
		Devices: map[types.DeviceID]types.Device{
			types.DeviceID(id): {ID: types.DeviceID(id), Kind: types.DeviceKindZpool, Paths: []types.DevicePath{path}},
		},
		Mounts: []types.Mount{{Source: path, Target: "/lustre/fs1/ost0", FsType: "lustre", Opts: "svname=fs1-OST0000"}},
	}
	return devicegraph.Merge([]devicegraph.HostInventory{inv})
}

func TestClassify(t *testing.T) {
	kind, fs, ok := classify("MGS")
	assert.True(t, ok)
	assert.Equal(t, types.TargetKindMGT, kind)
	assert.Empty(t, fs)

	kind, fs, ok = classify("testfs-MDT0000")
	assert.True(t, ok)
	assert.Equal(t, types.TargetKindMDT, kind)
	assert.Equal(t, "testfs", fs)

	kind, fs, ok = classify("testfs-OST0001")
	assert.True(t, ok)
	assert.Equal(t, types.TargetKindOST, kind)
	assert.Equal(t, "testfs", fs)

	_, _, ok = classify("not-a-target")
	assert.False(t, ok)
}

func TestLearnSingleActiveHost(t *testing.T) {
	graph := graphWithDevice("ost0-dev", "oss1", "/dev/mapper/ost0")

	hostMounts := []HostMounts{{
		Fqdn: "oss1",
		Mounts: []types.Mount{
			{Source: "/dev/mapper/ost0", Target: "/lustre/fs1/ost0", FsType: "lustre", Opts: "svname=fs1-OST0000"},
		},
	}}

	learned, conflicts := Learn(graph, hostMounts, nil)

	assert.Empty(t, conflicts)
	assert.Len(t, learned, 1)
	target := learned[0]
	assert.Equal(t, "fs1-OST0000", target.Name)
	assert.Equal(t, types.TargetKindOST, target.Kind)
	assert.Equal(t, []string{"fs1"}, target.Filesystems)
	assert.Equal(t, types.TargetMounted, target.State)
}

// TestLearnConflict checks §4.3's tie-break rule: two hosts
// simultaneously claiming the same target are both retained and a
// conflict is surfaced rather than one silently winning.
func TestLearnConflict(t *testing.T) {
	inv1 := devicegraph.HostInventory{
		Fqdn: "oss1",
		Devices: map[types.DeviceID]types.Device{
			"shared-dev": {ID: "shared-dev", Kind: types.DeviceKindZpool, Paths: []types.DevicePath{"/dev/mapper/shared"}},
		},
		Mounts: []types.Mount{{Source: "/dev/mapper/shared", Target: "/lustre/fs1/ost0", FsType: "lustre", Opts: "svname=fs1-OST0000"}},
	}
	inv2 := devicegraph.HostInventory{
		Fqdn: "oss2",
		Devices: map[types.DeviceID]types.Device{
			"shared-dev": {ID: "shared-dev", Kind: types.DeviceKindZpool, Paths: []types.DevicePath{"/dev/mapper/shared"}},
		},
		Mounts: []types.Mount{{Source: "/dev/mapper/shared", Target: "/lustre/fs1/ost0", FsType: "lustre", Opts: "svname=fs1-OST0000"}},
	}
	graph := devicegraph.Merge([]devicegraph.HostInventory{inv1, inv2})

	hostMounts := []HostMounts{
		{Fqdn: "oss1", Mounts: inv1.Mounts},
		{Fqdn: "oss2", Mounts: inv2.Mounts},
	}

	learned, conflicts := Learn(graph, hostMounts, nil)

	assert.Len(t, learned, 1)
	assert.Len(t, conflicts, 1)
	assert.ElementsMatch(t, []string{"oss1", "oss2"}, conflicts[0].HostFqdns)
}

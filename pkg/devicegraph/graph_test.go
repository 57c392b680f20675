package devicegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

func disk(id string) types.Device {
	return types.Device{ID: types.DeviceID(id), Kind: types.DeviceKindScsiDevice}
}

func zpool(id string, parents ...string) types.Device {
	ps := make([]types.DeviceID, len(parents))
	for i, p := range parents {
		ps[i] = types.DeviceID(p)
	}
	return types.Device{ID: types.DeviceID(id), Kind: types.DeviceKindZpool, Parents: ps}
}

// TestVirtualPropagation reproduces scenario S3: two hosts share a
// zpool; it propagates non-locally once both parent disks are present
// on the peer, and retracts when a parent disappears there while the
// origin host's row stays intact.
func TestVirtualPropagation(t *testing.T) {
	oss1 := HostInventory{
		Fqdn: "oss1",
		Devices: map[types.DeviceID]types.Device{
			"disk1": disk("disk1"),
			"disk2": disk("disk2"),
			"pool0": zpool("pool0", "disk1", "disk2"),
		},
	}
	oss2Round1 := HostInventory{
		Fqdn: "oss2",
		Devices: map[types.DeviceID]types.Device{
			"disk1": disk("disk1"),
			"disk2": disk("disk2"),
		},
	}

	graph := Merge([]HostInventory{oss1, oss2Round1})

	oss2Pool, ok := graph.DeviceHosts[deviceHostKey{"pool0", "oss2"}]
	require.True(t, ok, "pool0 should propagate to oss2")
	assert.False(t, oss2Pool.Local)

	oss1Pool, ok := graph.DeviceHosts[deviceHostKey{"pool0", "oss1"}]
	require.True(t, ok)
	assert.True(t, oss1Pool.Local)

	// Round 2: oss2 loses disk2.
	oss2Round2 := HostInventory{
		Fqdn: "oss2",
		Devices: map[types.DeviceID]types.Device{
			"disk1": disk("disk1"),
		},
	}

	graph2 := Merge([]HostInventory{oss1, oss2Round2})

	_, stillPresent := graph2.DeviceHosts[deviceHostKey{"pool0", "oss2"}]
	assert.False(t, stillPresent, "non-local pool0 row on oss2 must be retracted")

	oss1PoolAfter, ok := graph2.DeviceHosts[deviceHostKey{"pool0", "oss1"}]
	require.True(t, ok, "oss1's local row must remain intact")
	assert.True(t, oss1PoolAfter.Local)
}

// TestMaxDepthComputation checks invariant 3: max_depth(d) = 1 +
// max(max_depth(parents(d))), leaves at 0.
func TestMaxDepthComputation(t *testing.T) {
	inv := HostInventory{
		Fqdn: "host1",
		Devices: map[types.DeviceID]types.Device{
			"disk1": disk("disk1"),
			"disk2": disk("disk2"),
			"pool0": zpool("pool0", "disk1", "disk2"),
		},
	}

	graph := Merge([]HostInventory{inv})

	assert.Equal(t, 0, graph.Devices["disk1"].MaxDepth)
	assert.Equal(t, 0, graph.Devices["disk2"].MaxDepth)
	assert.Equal(t, 1, graph.Devices["pool0"].MaxDepth)
}

// TestNonLocalRequiresAllParents checks invariant 2: a non-local
// DeviceHost exists only if all of the device's parents have a
// DeviceHost row on that host.
func TestNonLocalRequiresAllParents(t *testing.T) {
	oss1 := HostInventory{
		Fqdn: "oss1",
		Devices: map[types.DeviceID]types.Device{
			"disk1": disk("disk1"),
			"disk2": disk("disk2"),
			"pool0": zpool("pool0", "disk1", "disk2"),
		},
	}
	// oss2 only has one of the two parents.
	oss2 := HostInventory{
		Fqdn: "oss2",
		Devices: map[types.DeviceID]types.Device{
			"disk1": disk("disk1"),
		},
	}

	graph := Merge([]HostInventory{oss1, oss2})

	for key, row := range graph.DeviceHosts {
		if row.Local {
			continue
		}
		dev := graph.Devices[key.device]
		for _, p := range dev.Parents {
			_, ok := graph.DeviceHosts[deviceHostKey{p, key.host}]
			assert.True(t, ok, "parent %s must have a row on %s for non-local device %s", p, key.host, key.device)
		}
	}

	_, pool0OnOss2 := graph.DeviceHosts[deviceHostKey{"pool0", "oss2"}]
	assert.False(t, pool0OnOss2)
}

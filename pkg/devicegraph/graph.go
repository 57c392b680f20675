// Package devicegraph implements the Device Graph Merger (C2): folding
// per-host device inventories into one content-addressed graph and
// deciding which devices are present — locally or by virtual
// propagation — on which hosts.
package devicegraph

import (
	"sort"

	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// HostInventory is one host's latest reported device/mount snapshot, as
// maintained by the Host Inventory Ingest (C1) cache.
type HostInventory struct {
	Fqdn    string
	Devices map[types.DeviceID]types.Device
	Mounts  []types.Mount
}

// Graph is the merged, content-addressed device graph plus the
// DeviceHost presence rows derived from it. Callers hold the owning
// mutex (the "devices" lock named in §5) around Merge and any read of
// the result.
type Graph struct {
	Devices     map[types.DeviceID]types.Device
	DeviceHosts map[deviceHostKey]types.DeviceHost
}

type deviceHostKey struct {
	device types.DeviceID
	host   string
}

// Merge runs the full C2 algorithm — union, local materialization,
// virtual propagation, retraction — over the given per-host inventories
// and returns the new graph to replace the stored one atomically.
func Merge(inventories []HostInventory) Graph {
	devices := unionDevices(inventories)
	computeDepths(devices)

	hosts := make(map[deviceHostKey]types.DeviceHost)

	// Local materialization: every (host, device_id) observed directly.
	for _, inv := range inventories {
		for id, dev := range inv.Devices {
			mountPath := mountPathForDevice(dev, inv.Mounts)
			hosts[deviceHostKey{id, inv.Fqdn}] = types.DeviceHost{
				DeviceID:  id,
				HostFqdn:  inv.Fqdn,
				MountPath: mountPath,
				Paths:     dev.Paths,
				Local:     true,
			}
		}
	}

	allFqdns := make([]string, 0, len(inventories))
	for _, inv := range inventories {
		allFqdns = append(allFqdns, inv.Fqdn)
	}
	sort.Strings(allFqdns)

	ordered := devicesByAscendingDepth(devices)

	// Virtual propagation: parents before children, by construction of
	// the ascending max_depth order.
	for _, id := range ordered {
		if !isVirtualCandidate(devices[id]) {
			continue
		}
		for _, origin := range allFqdns {
			originRow, ok := hosts[deviceHostKey{id, origin}]
			if !ok || !originRow.Local {
				continue
			}
			for _, candidate := range allFqdns {
				if candidate == origin {
					continue
				}
				key := deviceHostKey{id, candidate}
				if _, exists := hosts[key]; exists {
					continue
				}
				if parentsAvailable(devices, hosts, id, candidate) {
					hosts[key] = types.DeviceHost{
						DeviceID:  id,
						HostFqdn:  candidate,
						MountPath: originRow.MountPath,
						Paths:     originRow.Paths,
						Local:     false,
					}
				}
			}
		}
	}

	// Retraction: drop non-local rows whose parent-availability
	// predicate no longer holds.
	for key, row := range hosts {
		if row.Local {
			continue
		}
		if !parentsAvailable(devices, hosts, key.device, key.host) {
			delete(hosts, key)
		}
	}

	return Graph{Devices: devices, DeviceHosts: hosts}
}

// isVirtualCandidate reports whether a device's kind can ever be
// virtually propagated. Per the glossary, a "virtual device" is one
// visible by virtue of shared storage or replication — a property of
// aggregate/pooled device kinds (md raid, multipath, volume groups,
// logical volumes, zpools, datasets), never of a bare SCSI device or
// partition, which are only ever present where directly attached. This
// resolves an edge case the algorithm description in §4.2 leaves
// implicit: a zero-parent ScsiDevice would otherwise vacuously satisfy
// the parent-availability predicate on every host and propagate
// everywhere, which the S3 scenario and the glossary both rule out.
func isVirtualCandidate(dev types.Device) bool {
	switch dev.Kind {
	case types.DeviceKindScsiDevice, types.DeviceKindPartition, types.DeviceKindRoot:
		return false
	default:
		return true
	}
}

// unionDevices takes the union of all hosts' device maps. Equal ids are
// assumed structurally equal across hosts (content-hash identity
// guarantees this); the first observation wins if they ever disagree.
func unionDevices(inventories []HostInventory) map[types.DeviceID]types.Device {
	out := make(map[types.DeviceID]types.Device)
	for _, inv := range inventories {
		for id, dev := range inv.Devices {
			if _, exists := out[id]; !exists {
				out[id] = dev
			}
		}
	}
	return out
}

// computeDepths sets MaxDepth on every device to 1 + max(depth of
// parents), with leaves (no parents) at 0. Assumes the parent relation
// is acyclic, per invariant 3.
func computeDepths(devices map[types.DeviceID]types.Device) {
	memo := make(map[types.DeviceID]int)
	var depth func(id types.DeviceID) int
	depth = func(id types.DeviceID) int {
		if d, ok := memo[id]; ok {
			return d
		}
		dev, ok := devices[id]
		if !ok || len(dev.Parents) == 0 {
			memo[id] = 0
			return 0
		}
		max := 0
		for _, p := range dev.Parents {
			if d := depth(p); d > max {
				max = d
			}
		}
		memo[id] = max + 1
		return max + 1
	}
	for id := range devices {
		d := depth(id)
		dev := devices[id]
		dev.MaxDepth = d
		devices[id] = dev
	}
}

func devicesByAscendingDepth(devices map[types.DeviceID]types.Device) []types.DeviceID {
	ids := make([]types.DeviceID, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		di, dj := devices[ids[i]].MaxDepth, devices[ids[j]].MaxDepth
		if di != dj {
			return di < dj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// parentsAvailable runs the breadth-first parent-availability predicate:
// every ancestor of device id, reached by walking parents breadth-first,
// must have a DeviceHost row (local or virtual) for host.
func parentsAvailable(devices map[types.DeviceID]types.Device, hosts map[deviceHostKey]types.DeviceHost, id types.DeviceID, host string) bool {
	if _, ok := devices[id]; !ok {
		return false
	}
	seen := map[types.DeviceID]bool{id: true}
	queue := []types.DeviceID{id}
	for len(queue) > 0 {
		dev := devices[queue[0]]
		queue = queue[1:]
		for _, parent := range dev.Parents {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			if _, present := hosts[deviceHostKey{parent, host}]; !present {
				return false
			}
			queue = append(queue, parent)
		}
	}
	return true
}

// mountPathForDevice finds the mount, if any, whose source resolves to
// one of this device's observed paths on the reporting host.
func mountPathForDevice(dev types.Device, mounts []types.Mount) string {
	for _, m := range mounts {
		if deviceMatchesSource(dev, m.Source) {
			return m.Target
		}
	}
	return ""
}

// deviceMatchesSource reports whether a mount's source path is one of
// the paths this device is known by on the reporting host.
func deviceMatchesSource(dev types.Device, source types.DevicePath) bool {
	for _, p := range dev.Paths {
		if p == source {
			return true
		}
	}
	return false
}

// Package targets implements the Target Learner (C3): deriving Lustre
// target records (MGT/MDT/OST) from merged devices, device-host
// presence, and per-host mount/MGS-filesystem reports.
package targets

import (
	"regexp"

	"github.com/whamcloud/lustre-fleet/pkg/devicegraph"
	"github.com/whamcloud/lustre-fleet/pkg/devicepath"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

var svnameRe = regexp.MustCompile(`svname=(\S+)`)
var mdtRe = regexp.MustCompile(`^(.+)-MDT[0-9a-fA-F]{4}$`)
var ostRe = regexp.MustCompile(`^(.+)-OST[0-9a-fA-F]{4}$`)

// HostMounts is one host's reported mount set.
type HostMounts struct {
	Fqdn   string
	Mounts []types.Mount
}

// Conflict records two hosts simultaneously claiming the active mount
// of the same target; callers raise this as an alert rather than
// silently picking one, per §4.3's tie-break rule.
type Conflict struct {
	TargetName string
	TargetUUID string
	HostFqdns  []string
}

type candidate struct {
	mount    types.Mount
	hostFqdn string
	deviceID types.DeviceID
}

// Learn derives Target records from the merged device graph, every
// host's mounts, and the per-host MGS filesystem lists. It returns the
// learned targets (deduplicated and tie-broken per §4.3) plus any
// active-host conflicts that must be surfaced as alerts.
func Learn(graph devicegraph.Graph, hostMounts []HostMounts, mgsFilesystems map[string][]string) ([]types.Target, []Conflict) {
	resolve := devicePathResolver(graph)

	byKey := make(map[[2]string][]candidate)

	for _, hm := range hostMounts {
		for _, m := range hm.Mounts {
			if m.FsType != "lustre" && m.FsType != "zfs" {
				continue
			}
			name, ok := parseName(m.Opts)
			if !ok {
				continue
			}
			deviceID, ok := resolve(hm.Fqdn, m.Source)
			if !ok {
				continue // source does not resolve to a known Device
			}
			uuid := string(deviceID)
			key := [2]string{name, uuid}
			byKey[key] = append(byKey[key], candidate{mount: m, hostFqdn: hm.Fqdn, deviceID: deviceID})
		}
	}

	var learned []types.Target
	var conflicts []Conflict

	for key, cands := range byKey {
		name, uuid := key[0], key[1]
		kind, fsname, ok := classify(name)
		if !ok {
			continue // discarded with a warning by the caller's logger
		}

		// Tie-break when the same (name, uuid) appears through multiple
		// mounts: prefer the one whose source sorts smallest.
		best := cands[0]
		for _, c := range cands[1:] {
			if devicepath.Less(c.mount.Source, best.mount.Source) {
				best = c
			}
		}

		hostIDs := hostFqdnsForDevice(graph, best.deviceID)

		var activeHosts []string
		for _, c := range cands {
			activeHosts = append(activeHosts, c.hostFqdn)
		}
		activeHosts = dedupeStrings(activeHosts)

		target := types.Target{
			Name:      name,
			UUID:      uuid,
			Kind:      kind,
			State:     types.TargetUnmounted,
			MountPath: best.mount.Target,
			DevPath:   best.mount.Source,
			FsType:    best.mount.FsType,
		}

		if kind == types.TargetKindMGT {
			target.Filesystems = unionMgsFilesystems(mgsFilesystems, hostIDs)
		} else {
			target.Filesystems = []string{fsname}
		}

		switch len(activeHosts) {
		case 0:
			// unreachable: cands is non-empty by construction
		case 1:
			target.State = types.TargetMounted
		default:
			// Both retained as candidate active hosts; conflict surfaced
			// rather than silently choosing one.
			target.State = types.TargetMounted
			conflicts = append(conflicts, Conflict{TargetName: name, TargetUUID: uuid, HostFqdns: activeHosts})
		}

		learned = append(learned, target)
	}

	return learned, conflicts
}

// parseName extracts the svname= value from a mount's opts string.
func parseName(opts string) (string, bool) {
	m := svnameRe.FindStringSubmatch(opts)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// classify maps a target name to its kind and (for MDT/OST) the
// filesystem name parsed from the name.
func classify(name string) (types.TargetKind, string, bool) {
	if name == "MGS" {
		return types.TargetKindMGT, "", true
	}
	if m := mdtRe.FindStringSubmatch(name); m != nil {
		return types.TargetKindMDT, m[1], true
	}
	if m := ostRe.FindStringSubmatch(name); m != nil {
		return types.TargetKindOST, m[1], true
	}
	return "", "", false
}

// devicePathResolver returns a function resolving a (host, DevicePath)
// pair to the DeviceID whose DeviceHost row on that host reports that
// path, using the merged graph's DeviceHost.Paths.
func devicePathResolver(graph devicegraph.Graph) func(hostFqdn string, path types.DevicePath) (types.DeviceID, bool) {
	index := make(map[string]map[types.DevicePath]types.DeviceID)
	for _, dh := range graph.DeviceHosts {
		byPath, ok := index[dh.HostFqdn]
		if !ok {
			byPath = make(map[types.DevicePath]types.DeviceID)
			index[dh.HostFqdn] = byPath
		}
		for _, p := range dh.Paths {
			byPath[p] = dh.DeviceID
		}
	}
	return func(hostFqdn string, path types.DevicePath) (types.DeviceID, bool) {
		byPath, ok := index[hostFqdn]
		if !ok {
			return "", false
		}
		id, ok := byPath[path]
		return id, ok
	}
}

func hostFqdnsForDevice(graph devicegraph.Graph, id types.DeviceID) []string {
	var out []string
	for _, dh := range graph.DeviceHosts {
		if dh.DeviceID == id {
			out = append(out, dh.HostFqdn)
		}
	}
	return dedupeStrings(out)
}

func unionMgsFilesystems(mgsFilesystems map[string][]string, hosts []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hosts {
		for _, fs := range mgsFilesystems[h] {
			if !seen[fs] {
				seen[fs] = true
				out = append(out, fs)
			}
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

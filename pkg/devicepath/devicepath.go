// Package devicepath implements the total order over device path strings
// used to pick a canonical "preferred" alias for a device: /dev/mapper/
// paths sort first, then /dev/disk/by-id/, then /dev/disk/by-path/, then
// any other plain /dev/ path, then everything else (including other
// /dev/disk/by-* aliases such as by-uuid/by-partuuid), with ties broken
// lexicographically.
package devicepath

import (
	"sort"
	"strings"

	"github.com/whamcloud/lustre-fleet/pkg/types"
)

var namedSlotPrefixes = []string{
	"/dev/mapper/",
	"/dev/disk/by-id/",
	"/dev/disk/by-path/",
}

var (
	genericDevSlot     = len(namedSlotPrefixes)
	everythingElseSlot = genericDevSlot + 1
)

// slot returns the sort bucket for p: one of namedSlotPrefixes' indices,
// genericDevSlot for a plain /dev/ path, or everythingElseSlot for
// anything else — including other /dev/disk/by-* aliases (by-uuid,
// by-partuuid, by-label, ...), which are not stable device names the
// way by-id/by-path are and so sort after plain /dev/ devices rather
// than alongside them.
func slot(p types.DevicePath) int {
	s := string(p)
	for i, prefix := range namedSlotPrefixes {
		if strings.HasPrefix(s, prefix) {
			return i
		}
	}
	if strings.HasPrefix(s, "/dev/disk/") {
		return everythingElseSlot
	}
	if strings.HasPrefix(s, "/dev/") {
		return genericDevSlot
	}
	return everythingElseSlot
}

// Less reports whether a sorts before b under the total order: by slot
// first, then lexicographically within a slot.
func Less(a, b types.DevicePath) bool {
	sa, sb := slot(a), slot(b)
	if sa != sb {
		return sa < sb
	}
	return string(a) < string(b)
}

// Sort orders paths ascending in place under the total order.
func Sort(paths []types.DevicePath) {
	sort.Slice(paths, func(i, j int) bool { return Less(paths[i], paths[j]) })
}

// Min returns the smallest path under the total order; panics if paths
// is empty, since every caller of this function holds a non-empty set by
// construction (a mount's source path, a pool of candidate sources).
func Min(paths []types.DevicePath) types.DevicePath {
	m := paths[0]
	for _, p := range paths[1:] {
		if Less(p, m) {
			m = p
		}
	}
	return m
}

package devicepath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// TestOrdering reproduces the literal device path set and expected
// ascending order: mapper paths first, then by-id, then plain /dev/,
// then everything else, ties broken lexicographically.
func TestOrdering(t *testing.T) {
	input := []types.DevicePath{
		"/dev/disk/by-id/dm-uuid-part1-mpath-3600140550e41a841db244a992c31e7df",
		"/dev/mapper/mpathd1",
		"/dev/disk/by-uuid/b4550256-cf48-4013-8363-bfee5f52da12",
		"/dev/disk/by-partuuid/d643e32f-b6b9-4863-af8f-8950376e28da",
		"/dev/dm-20",
		"/dev/disk/by-id/dm-name-mpathd1",
	}

	Sort(input)

	expected := []types.DevicePath{
		"/dev/mapper/mpathd1",
		"/dev/disk/by-id/dm-name-mpathd1",
		"/dev/disk/by-id/dm-uuid-part1-mpath-3600140550e41a841db244a992c31e7df",
		"/dev/dm-20",
		"/dev/disk/by-partuuid/d643e32f-b6b9-4863-af8f-8950376e28da",
		"/dev/disk/by-uuid/b4550256-cf48-4013-8363-bfee5f52da12",
	}

	assert.Equal(t, expected, input)
}

// TestTotalOrder checks invariant 1: for any two distinct paths exactly
// one of Less(p,q) or Less(q,p) holds.
func TestTotalOrder(t *testing.T) {
	paths := []types.DevicePath{
		"/dev/mapper/mpathd1",
		"/dev/disk/by-id/dm-name-mpathd1",
		"/dev/dm-20",
		"/dev/disk/by-uuid/b4550256",
		"/anything/else",
	}

	for _, p := range paths {
		for _, q := range paths {
			if p == q {
				assert.False(t, Less(p, q))
				continue
			}
			assert.True(t, Less(p, q) != Less(q, p), "exactly one of p<q or q<p must hold for %q, %q", p, q)
		}
	}
}

func TestMin(t *testing.T) {
	got := Min([]types.DevicePath{"/dev/dm-20", "/dev/mapper/mpathd1", "/anything"})
	assert.Equal(t, types.DevicePath("/dev/mapper/mpathd1"), got)
}

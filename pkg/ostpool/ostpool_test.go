package ostpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

type fakeStore struct {
	fsid  int64
	known bool
	pools map[string]types.OstPool

	ops []string
}

func (s *fakeStore) FilesystemID(ctx context.Context, fsname string) (int64, bool, error) {
	return s.fsid, s.known, nil
}

func (s *fakeStore) PoolSet(ctx context.Context, fsid int64) ([]types.OstPool, error) {
	var out []types.OstPool
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) CreatePool(ctx context.Context, fsid int64, pool types.OstPool) error {
	s.pools[pool.Name] = types.OstPool{Filesystem: pool.Filesystem, Name: pool.Name}
	s.ops = append(s.ops, "create:"+pool.Name)
	return nil
}

func (s *fakeStore) DeletePool(ctx context.Context, fsid int64, name string) error {
	delete(s.pools, name)
	s.ops = append(s.ops, "delete:"+name)
	return nil
}

func (s *fakeStore) Grow(ctx context.Context, fsid int64, poolName string, osts []string) error {
	if len(osts) == 0 {
		return nil
	}
	p := s.pools[poolName]
	p.Osts = append(p.Osts, osts...)
	s.pools[poolName] = p
	s.ops = append(s.ops, "grow:"+poolName)
	return nil
}

func (s *fakeStore) Shrink(ctx context.Context, fsid int64, poolName string, osts []string) error {
	if len(osts) == 0 {
		return nil
	}
	p, ok := s.pools[poolName]
	if ok {
		var kept []string
		removeSet := make(map[string]bool, len(osts))
		for _, o := range osts {
			removeSet[o] = true
		}
		for _, o := range p.Osts {
			if !removeSet[o] {
				kept = append(kept, o)
			}
		}
		p.Osts = kept
		s.pools[poolName] = p
	}
	s.ops = append(s.ops, "shrink:"+poolName)
	return nil
}

// TestReconcileScenarioS5 reproduces scenario S5's input/output:
// stored {(fs, "hot", {ost0,ost1})}, reported {(fs, "hot",
// {ost0,ost2}), (fs, "cold", {ost3})}. Expected membership: "hot" ends
// up with {ost0,ost2}, "cold" is created with {ost3}, no deletions.
// S5's prose lists the "hot" diff before "cold"'s creation; Reconcile
// instead emits additions, then deletions, then updates, per §4.6 step
// 4's literal order, so only set membership is asserted here, not
// operation order.
func TestReconcileScenarioS5(t *testing.T) {
	store := &fakeStore{
		fsid:  1,
		known: true,
		pools: map[string]types.OstPool{
			"hot": {Filesystem: "fs", Name: "hot", Osts: []string{"ost0", "ost1"}},
		},
	}

	reported := []types.OstPool{
		{Filesystem: "fs", Name: "hot", Osts: []string{"ost0", "ost2"}},
		{Filesystem: "fs", Name: "cold", Osts: []string{"ost3"}},
	}

	err := Reconcile(context.Background(), store, "fs", reported)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ost0", "ost2"}, store.pools["hot"].Osts)
	assert.ElementsMatch(t, []string{"ost3"}, store.pools["cold"].Osts)

	for _, forbidden := range store.ops {
		assert.NotEqual(t, "delete:hot", forbidden)
		assert.NotEqual(t, "delete:cold", forbidden)
	}

	assert.Contains(t, store.ops, "create:cold")
	assert.Contains(t, store.ops, "grow:cold")
	growOrShrinkSeen := false
	for _, op := range store.ops {
		if op == "grow:hot" || op == "shrink:hot" {
			growOrShrinkSeen = true
		}
	}
	assert.True(t, growOrShrinkSeen, "hot pool membership must be adjusted via grow/shrink")
}

func TestReconcileUnknownFilesystemSkipped(t *testing.T) {
	store := &fakeStore{known: false, pools: map[string]types.OstPool{}}
	err := Reconcile(context.Background(), store, "ghostfs", []types.OstPool{{Filesystem: "ghostfs", Name: "hot"}})
	require.NoError(t, err)
	assert.Empty(t, store.ops)
}

func TestReconcileDeletesMissingPool(t *testing.T) {
	store := &fakeStore{
		fsid:  1,
		known: true,
		pools: map[string]types.OstPool{
			"stale": {Filesystem: "fs", Name: "stale", Osts: []string{"ost9"}},
		},
	}
	err := Reconcile(context.Background(), store, "fs", nil)
	require.NoError(t, err)
	assert.Contains(t, store.ops, "shrink:stale")
	assert.Contains(t, store.ops, "delete:stale")
	_, stillPresent := store.pools["stale"]
	assert.False(t, stillPresent)
}

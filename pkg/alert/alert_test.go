package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

type fakeStore struct {
	active  map[string]types.AlertState // key: kind|item
	inserts int
	closed  int
}

func key(kind types.AlertRecordType, item string) string { return string(kind) + "|" + item }

func (s *fakeStore) ActiveAlert(ctx context.Context, kind types.AlertRecordType, itemRef string) (*types.AlertState, error) {
	if a, ok := s.active[key(kind, itemRef)]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *fakeStore) Insert(ctx context.Context, a types.AlertState) error {
	s.active[key(a.Kind, a.ItemRef)] = a
	s.inserts++
	return nil
}

func (s *fakeStore) CloseActive(ctx context.Context, kinds []types.AlertRecordType, itemRef string, end time.Time) (int, error) {
	n := 0
	for _, k := range kinds {
		kk := key(k, itemRef)
		if _, ok := s.active[kk]; ok {
			delete(s.active, kk)
			n++
			s.closed++
		}
	}
	return n, nil
}

func newFakeStore() *fakeStore { return &fakeStore{active: map[string]types.AlertState{}} }

// TestRaiseIsIdempotent reflects §4.8's rule: raising the same (kind,
// item) twice while one is active must not open a second row.
func TestRaiseIsIdempotent(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	require.NoError(t, Raise(context.Background(), store, types.AlertTargetConflict, "fs1-OST0000", "warning", "conflict", now))
	require.NoError(t, Raise(context.Background(), store, types.AlertTargetConflict, "fs1-OST0000", "warning", "conflict again", now.Add(time.Minute)))

	assert.Equal(t, 1, store.inserts)
}

func TestLowerClosesAllMatchingKinds(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	require.NoError(t, Raise(context.Background(), store, types.AlertNtpNone, "oss1", "warning", "no ntp", now))
	require.NoError(t, Lower(context.Background(), store, []types.AlertRecordType{types.AlertNtpNone, types.AlertNtpMultiple, types.AlertNtpUnsynced, types.AlertNtpUnknown}, "oss1", now))

	assert.Equal(t, 1, store.closed)
	assert.Empty(t, store.active)
}

func TestRaiseAfterLowerOpensNewAlert(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	require.NoError(t, Raise(context.Background(), store, types.AlertNtpUnsynced, "oss1", "warning", "drift", now))
	require.NoError(t, Lower(context.Background(), store, []types.AlertRecordType{types.AlertNtpUnsynced}, "oss1", now.Add(time.Minute)))
	require.NoError(t, Raise(context.Background(), store, types.AlertNtpUnsynced, "oss1", "warning", "drift again", now.Add(2*time.Minute)))

	assert.Equal(t, 2, store.inserts)
}

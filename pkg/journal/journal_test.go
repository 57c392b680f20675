package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

type fakeStore struct {
	rowCount  int64
	inserted  []types.LogMessage
	purged    []int64
	hostKnown map[string]bool
}

func (s *fakeStore) RowCount(ctx context.Context) (int64, error) { return s.rowCount, nil }

func (s *fakeStore) PurgeOldest(ctx context.Context, n int64) (int64, error) {
	s.purged = append(s.purged, n)
	s.rowCount -= n
	return n, nil
}

func (s *fakeStore) HostID(ctx context.Context, fqdn string) (int64, bool, error) {
	return 1, s.hostKnown[fqdn], nil
}

func (s *fakeStore) InsertBatch(ctx context.Context, hostID int64, rows []types.LogMessage) error {
	s.inserted = append(s.inserted, rows...)
	s.rowCount += int64(len(rows))
	return nil
}

func TestIngestPurgesAboveHighWatermark(t *testing.T) {
	store := &fakeStore{rowCount: 15000, hostKnown: map[string]bool{"oss1": true}}
	cfg := Watermarks{High: 10000, Low: 5000}

	msgs := []types.LogMessage{{HostFqdn: "oss1", Message: "LustreError: 1234 something broke"}}
	err := Ingest(context.Background(), store, cfg, "oss1", msgs)
	require.NoError(t, err)

	// 15000 > high(10000): purge in batches of min(10000, n-low) until n<=low.
	// batch 1: min(10000, 15000-5000)=10000 -> rowCount=5000, loop ends (5000 not > 5000... low<num_rows checks strictly).
	require.NotEmpty(t, store.purged)
	assert.LessOrEqual(t, store.rowCount, int64(cfg.Low))
}

func TestIngestUnknownHostSkipped(t *testing.T) {
	store := &fakeStore{rowCount: 0, hostKnown: map[string]bool{}}
	err := Ingest(context.Background(), store, Watermarks{High: 100, Low: 50}, "ghost", []types.LogMessage{{Message: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, store.inserted)
}

func TestIngestTagsMessageClass(t *testing.T) {
	store := &fakeStore{hostKnown: map[string]bool{"oss1": true}}
	msgs := []types.LogMessage{
		{HostFqdn: "oss1", Message: "LustreError: 0-0 device went read-only", Datetime: time.Now()},
		{HostFqdn: "oss1", Message: "corosync: quorum lost", Datetime: time.Now()},
		{HostFqdn: "oss1", Message: "something boring happened", Datetime: time.Now()},
	}
	require.NoError(t, Ingest(context.Background(), store, Watermarks{High: 1000, Low: 500}, "oss1", msgs))

	require.Len(t, store.inserted, 3)
	assert.Equal(t, string(ClassLustreError), store.inserted[0].MessageClass)
	assert.Equal(t, string(ClassCorosync), store.inserted[1].MessageClass)
	assert.Equal(t, string(ClassNormal), store.inserted[2].MessageClass)
}

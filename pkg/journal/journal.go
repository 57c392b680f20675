// Package journal implements the journal half of the Journal/Alert/NTP
// Sinks (C8): append-only ingest of host log messages with bounded
// table size, grounded on emf-services/emf-journal/src/main.rs's
// purge_excess and per-batch UNNEST insert.
package journal

import (
	"context"

	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Watermarks bounds the logmessage table: once the row count exceeds
// High, oldest rows are purged in batches until it falls to Low.
type Watermarks struct {
	High int64
	Low  int64
}

// Store is the persistence surface Ingest drives.
type Store interface {
	RowCount(ctx context.Context) (int64, error)
	// PurgeOldest deletes the n oldest rows by id and returns the number
	// actually removed.
	PurgeOldest(ctx context.Context, n int64) (int64, error)
	HostID(ctx context.Context, fqdn string) (int64, bool, error)
	InsertBatch(ctx context.Context, hostID int64, rows []types.LogMessage) error
}

// Ingest purges excess rows per Watermarks, then tags and inserts msgs
// for fqdn as one batch. An unknown host is logged and the batch
// skipped entirely, matching the original's per-batch host lookup.
func Ingest(ctx context.Context, store Store, watermarks Watermarks, fqdn string, msgs []types.LogMessage) error {
	logger := log.WithHost(fqdn)

	numRows, err := store.RowCount(ctx)
	if err != nil {
		return err
	}

	numRows, err = purgeExcess(ctx, store, watermarks, numRows)
	if err != nil {
		return err
	}

	hostID, known, err := store.HostID(ctx, fqdn)
	if err != nil {
		return err
	}
	if !known {
		logger.Warn().Msg("host is unknown, discarding journal batch")
		return nil
	}

	tagged := make([]types.LogMessage, len(msgs))
	for i, m := range msgs {
		m.HostFqdn = fqdn
		m.MessageClass = string(Classify(m.Message))
		tagged[i] = m
	}

	if err := store.InsertBatch(ctx, hostID, tagged); err != nil {
		return err
	}

	_ = numRows // row count after purge; not used further, Ingest returns only an error
	return nil
}

// purgeExcess deletes oldest rows in batches of up to 10,000 while
// numRows exceeds watermarks.High, stopping once it reaches
// watermarks.Low, mirroring purge_excess's while loop exactly.
func purgeExcess(ctx context.Context, store Store, watermarks Watermarks, numRows int64) (int64, error) {
	if numRows <= watermarks.High {
		return numRows, nil
	}

	logger := log.WithComponent("journal")

	for watermarks.Low < numRows {
		batch := numRows - watermarks.Low
		if batch > 10000 {
			batch = 10000
		}
		purged, err := store.PurgeOldest(ctx, batch)
		if err != nil {
			return numRows, err
		}
		numRows -= purged
		logger.Info().Int64("purged", purged).Int64("row_count", numRows).Msg("purged excess journal rows")
		if purged == 0 {
			break // guard against a store that can't make progress
		}
	}

	return numRows, nil
}

/*
Package storage provides persistence for lustre-fleet's domain state.

Domain entities (targets, OST pools, journal rows, alerts, snapshots) live
in Postgres, accessed through a pgx connection pool. A small embedded
BoltDB file holds one purely local piece of state that doesn't belong in
the shared database: the last ingest sequence number processed per host,
used to detect gaps across manager restarts.

# Architecture

	┌────────────────────── STORAGE ───────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Store (pgxpool)                 │          │
	│  │  - Shared across all manager processes       │          │
	│  │  - ostpool.Store / journal.Store / alert.Store│          │
	│  │    satisfied by method signature, no explicit │          │
	│  │    interface declaration needed              │          │
	│  │  - InTransaction wraps Begin/Commit/Rollback  │          │
	│  │  - NotifyOnChange: pg_notify within the write  │          │
	│  │    transaction, consumed by pkg/changebus     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           CheckpointStore (bbolt)             │          │
	│  │  - File: <dataDir>/ingest-checkpoints.db     │          │
	│  │  - One bucket: ingest_checkpoints            │          │
	│  │  - Key: host fqdn, value: big-endian uint64  │          │
	│  │  - Local to one manager process, not shared  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Store (Postgres)

Store implements the persistence interfaces consumed by the reconciling
packages without declaring that it implements them — Go's structural
typing means ostpool.Store, journal.Store and alert.Store are each
satisfied as long as the method signatures line up:

  - pkg/ostpool.Store: FilesystemID, PoolSet, CreatePool, DeletePool,
    Grow, Shrink
  - pkg/journal.Store: RowCount, PurgeOldest, HostID, InsertBatch
  - pkg/alert.Store: ActiveAlert, Insert, CloseActive

Device, device-host and target rows are written with UNNEST-based batch
upsert/delete statements rather than one round trip per row, following
the same batching shape the original Rust services used for mailbox and
journal inserts.

InTransaction wraps a Begin/Commit, recovering and re-panicking on a
panicking fn after rolling back, so callers can compose several writes
(e.g. upserting targets and publishing a change-bus notification) as one
atomic unit:

	err := store.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := upsertRows(ctx, tx, rows); err != nil {
			return err
		}
		return storage.NotifyOnChange(ctx, tx, "fleet_changes", delta)
	})

NotifyOnChange issues pg_notify(channel, payload) inside the same
transaction as the write it accompanies, so a LISTEN-ing pkg/changebus
Listener only ever observes a notification after the row it describes
has committed.

# CheckpointStore (bbolt)

CheckpointStore is the one piece of state kept outside Postgres: which
sequence number was last processed per reporting host. It exists purely
to let a restarted manager detect a gap in a host's mailbox stream
(sequence numbers aren't conserved by the database — a host may have
sent reports the manager's own process never committed). Get returns
the stored sequence and whether one has ever been recorded; Set
persists a new one after a batch has been durably applied.

# Usage

Opening the Postgres store:

	store, err := storage.Open(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Opening the checkpoint store:

	checkpoints, err := storage.OpenCheckpointStore(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	defer checkpoints.Close()

	seq, ok, err := checkpoints.Get(hostFqdn)
	if err == nil && ok && seq+1 != nextSeq {
		logger.Warn().Str("host", hostFqdn).Msg("gap detected in ingest sequence")
	}
	checkpoints.Set(hostFqdn, nextSeq)

# Integration Points

This package integrates with:

  - pkg/ingest: records per-host checkpoints after each applied batch
  - pkg/ostpool, pkg/journal, pkg/alert: consume Store as their
    persistence interface
  - pkg/changebus: Listener bridges NotifyOnChange's pg_notify channel
    into the in-process Broker
  - pkg/types: all entity definitions

# See Also

  - pkg/manager for top-level wiring and leader election
  - pkg/types for all entity definitions
  - pgx documentation: https://github.com/jackc/pgx
  - bbolt documentation: https://github.com/etcd-io/bbolt
*/
package storage

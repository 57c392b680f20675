package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketIngestCheckpoints = []byte("ingest_checkpoints")

// CheckpointStore is a small embedded durability layer for the Host
// Inventory Ingest mailbox: the last sequence number processed per
// host, so a restarted manager can detect gaps rather than silently
// replaying or dropping in-flight reports. Adapted from the teacher's
// BoltStore (same bolt.Open/bucket-per-concern shape), trimmed to this
// one bucket now that domain entities live in the relational store.
type CheckpointStore struct {
	db *bolt.DB
}

// OpenCheckpointStore opens (creating if needed) a bolt file under
// dataDir holding the ingest checkpoint bucket.
func OpenCheckpointStore(dataDir string) (*CheckpointStore, error) {
	dbPath := filepath.Join(dataDir, "ingest-checkpoints.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIngestCheckpoints)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint bucket: %w", err)
	}

	return &CheckpointStore{db: db}, nil
}

// Get returns the last checkpointed sequence number for hostFqdn.
func (c *CheckpointStore) Get(hostFqdn string) (uint64, bool, error) {
	var seq uint64
	var found bool

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIngestCheckpoints)
		v := b.Get([]byte(hostFqdn))
		if v == nil {
			return nil
		}
		found = true
		seq = binary.BigEndian.Uint64(v)
		return nil
	})
	return seq, found, err
}

// Set records seq as the last sequence number processed for hostFqdn.
func (c *CheckpointStore) Set(hostFqdn string, seq uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIngestCheckpoints)
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, seq)
		return b.Put([]byte(hostFqdn), v)
	})
}

// Close releases the underlying bolt file.
func (c *CheckpointStore) Close() error {
	return c.db.Close()
}

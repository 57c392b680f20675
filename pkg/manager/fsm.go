package manager

import (
	"io"

	"github.com/hashicorp/raft"
)

// leaderFSM is a Raft finite state machine that applies nothing. Raft is
// used in this deployment purely to elect a single active manager
// replica (Manager.IsLeader, Manager.LeaderAddr); domain state lives in
// Postgres (package storage) behind pkg/storage.Store, not in the
// replicated log, so no command is ever meaningfully applied here.
type leaderFSM struct{}

func newLeaderFSM() *leaderFSM { return &leaderFSM{} }

// Apply is a no-op: no command type is ever proposed against this FSM.
func (f *leaderFSM) Apply(_ *raft.Log) interface{} { return nil }

// Snapshot returns an empty snapshot since there is no state to persist.
func (f *leaderFSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptySnapshot{}, nil
}

// Restore is a no-op: there is nothing to replay.
func (f *leaderFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptySnapshot struct{}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (emptySnapshot) Release()                             {}

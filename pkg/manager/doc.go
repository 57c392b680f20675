/*
Package manager wires the fleet manager process together: the
relational store, the ingest pipeline, the action dispatcher, and a
Raft group used only to elect the one replica allowed to drive
active-side work.

# Raft's role

Raft here is a leader-election primitive, not a replicated data store:
leaderFSM (fsm.go) applies nothing, since every domain entity (targets,
device graph, OST pools, snapshots, alerts) lives in Postgres behind
pkg/storage and is written directly by whichever replica currently
holds leadership. Bootstrap starts a single-node cluster; AddVoter
grows it as additional replicas join.

# Frame routing

Manager implements transport.AgentHandler: HandleFrame demultiplexes an
agent's SessionCreate/SessionTerminate to the dispatcher, a "device"
plugin Data frame to the ingestor as an inventory report, an "ostpool"
plugin Data frame to pkg/ostpool's Reconcile as a pool report, and any
other Data frame to the dispatcher as an action result. Non-leader replicas
drop incoming frames so that only one replica ever dispatches an action
or processes an ingest report for a given host, per the C5/C6/C7
leader-gating rule.

# Leader-only work

pkg/reconciler runs snapshot cadence firing and retention sweeps on a
ticker, gated on Manager.IsLeader so a losing replica stops issuing
actions immediately upon losing leadership. OST pool reconciliation
runs from HandleFrame, under the same leader gate.
*/
package manager

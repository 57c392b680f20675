/*
Package types defines the core data structures shared by every component:
the device graph, learned Lustre targets, OST pools, snapshots, alerts,
and the dispatcher's session/action-in-flight records.

# Core types

Device graph:
  - Device: a content-addressed node (disk, partition, mpath, zpool, ...)
  - DeviceHost: presence of a Device on a Host, local or virtually propagated
  - DevicePath: an ordered path string, see package devicepath

Targets and pools:
  - Target: a learned MGT/MDT/OST record, identity (Name, UUID)
  - OstPool: a named OST set per filesystem, identity (Filesystem, Name)

Snapshots:
  - Snapshot: identity (FilesystemName, SnapshotName)
  - SnapshotInterval / SnapshotRetention: the two C7 policy records

Dispatch:
  - Session: one agent's live connection for one plugin
  - ActionInFlight: a dispatched action awaiting exactly one reply

# Identity and equality

Most entities expose a Key() method returning the identity tuple used by
package diff's generic differ; structural equality for change detection
is plain Go struct/slice comparison performed by the owning component
(order-normalized first where the field is a set).

# Optional fields

Optional fields use pointers (Target.ActiveHostID, AlertState.End,
SnapshotInterval.LastRun) rather than sentinel zero values, since zero
times and zero host ids are themselves meaningful.

# Thread safety

Types in this package carry no synchronization of their own: callers
holding shared state (the per-host device/mount caches guarded by
package ingest's cache mutex, the session and rpc maps guarded by
package dispatch's mutexes) are responsible for serializing mutation. Values are otherwise safe to read concurrently
once published.
*/
package types

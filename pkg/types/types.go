// Package types holds the entity structs shared by every component: the
// device graph, Lustre targets, OST pools, snapshots, alerts, and the
// session/action-in-flight records the dispatcher owns. These are plain
// data carriers; the invariants on them are enforced by the packages that
// construct and mutate them, not by methods here.
package types

import "time"

// Host is a cluster member addressed by its fully-qualified domain name.
type Host struct {
	ID   int64
	Fqdn string
}

// DeviceKind enumerates the node kinds in the device graph.
type DeviceKind string

const (
	DeviceKindScsiDevice   DeviceKind = "scsi_device"
	DeviceKindPartition    DeviceKind = "partition"
	DeviceKindMdRaid       DeviceKind = "md_raid"
	DeviceKindMpath        DeviceKind = "mpath"
	DeviceKindVolumeGroup  DeviceKind = "volume_group"
	DeviceKindLogicalVol   DeviceKind = "logical_volume"
	DeviceKindZpool        DeviceKind = "zpool"
	DeviceKindDataset      DeviceKind = "dataset"
	DeviceKindRoot         DeviceKind = "root"
)

// DeviceID is a content-hash identity, stable across hosts for an
// equivalent device.
type DeviceID string

// Device is a node in the cluster-wide device graph. Identity is
// content-addressed: the same DeviceID observed on two hosts denotes the
// same logical device.
type Device struct {
	ID       DeviceID
	Kind     DeviceKind
	Size     uint64
	Parents  []DeviceID
	Children []DeviceID
	MaxDepth int
	// Paths are the udev-style paths the reporting host observes this
	// device under (e.g. /dev/sdb, /dev/disk/by-id/..., /dev/mapper/...).
	// Host-specific: the same content-hash ID can be reachable under a
	// different path set on another host.
	Paths []DevicePath
}

// Key returns the identity tuple used by the change-set differ.
func (d Device) Key() DeviceID { return d.ID }

// DeviceHost records the presence of a Device on a Host. Local is true
// when the host directly observed the device; false when it is present
// only by virtual propagation (shared or replicated storage).
type DeviceHost struct {
	DeviceID  DeviceID
	HostFqdn  string
	MountPath string
	Paths     []DevicePath
	Local     bool
}

// Key returns the identity tuple used by the change-set differ.
func (dh DeviceHost) Key() [2]string { return [2]string{string(dh.DeviceID), dh.HostFqdn} }

// DevicePath is a path string with the total order defined in package
// devicepath: /dev/mapper/ < /dev/disk/by-id/ < /dev/disk/by-path/ <
// /dev/ < everything else, ties broken lexicographically.
type DevicePath string

// Mount is one entry in a host's reported mount table. Equality is
// structural over all four fields.
type Mount struct {
	Source DevicePath
	Target string
	FsType string
	Opts   string
}

// TargetKind enumerates the three Lustre server roles.
type TargetKind string

const (
	TargetKindMGT TargetKind = "MGT"
	TargetKindMDT TargetKind = "MDT"
	TargetKindOST TargetKind = "OST"
)

// TargetState is Mounted iff the target has an active host.
type TargetState string

const (
	TargetMounted   TargetState = "mounted"
	TargetUnmounted TargetState = "unmounted"
)

// Target is a learned Lustre target record. Identity is (Name, UUID).
type Target struct {
	Name         string
	UUID         string
	Kind         TargetKind
	Filesystems  []string
	State        TargetState
	HostIDs      []int64
	ActiveHostID *int64
	MountPath    string
	DevPath      DevicePath
	FsType       string
}

// Key returns the identity tuple used by the change-set differ.
func (t Target) Key() [2]string { return [2]string{t.Name, t.UUID} }

// OstPool is a named set of OSTs within a filesystem. Identity is
// (Filesystem, Name).
type OstPool struct {
	Filesystem string
	Name       string
	Osts       []string
}

// Key returns the identity tuple used by the change-set differ.
func (p OstPool) Key() [2]string { return [2]string{p.Filesystem, p.Name} }

// Snapshot is one filesystem snapshot. Identity is (FilesystemName,
// SnapshotName).
type Snapshot struct {
	FilesystemName string
	SnapshotName   string
	SnapshotFsname string
	CreateTime     time.Time
	ModifyTime     time.Time
	Mounted        bool
	Comment        string
}

// Key returns the identity tuple used by the change-set differ.
func (s Snapshot) Key() [2]string { return [2]string{s.FilesystemName, s.SnapshotName} }

// SnapshotInterval is a per-filesystem cadence policy for scheduled
// snapshot creation.
type SnapshotInterval struct {
	ID             int64
	FilesystemName string
	UseBarrier     bool
	Interval       time.Duration
	LastRun        *time.Time
}

// ReserveUnit enumerates how SnapshotRetention.ReserveValue is interpreted.
type ReserveUnit string

const (
	ReservePercent   ReserveUnit = "percent"
	ReserveGibibytes ReserveUnit = "gibibytes"
	ReserveTebibytes ReserveUnit = "tebibytes"
)

// SnapshotRetention is a per-filesystem reserve-space and keep-count
// enforcement policy.
type SnapshotRetention struct {
	ID             int64
	FilesystemName string
	ReserveValue   float64
	ReserveUnit    ReserveUnit
	KeepNum        int
	LastRun        *time.Time
}

// AlertRecordType enumerates the kinds of conditions that can be raised
// as an AlertState.
type AlertRecordType string

const (
	AlertTargetConflict  AlertRecordType = "target_conflict"
	AlertNtpSynced       AlertRecordType = "ntp_synced"
	AlertNtpNone         AlertRecordType = "ntp_none"
	AlertNtpMultiple     AlertRecordType = "ntp_multiple"
	AlertNtpUnsynced     AlertRecordType = "ntp_unsynced"
	AlertNtpUnknown      AlertRecordType = "ntp_unknown"
)

// AlertState is a raised or historical alert. At most one alert with
// Active=true may exist for a given (Kind, ItemRef).
type AlertState struct {
	ID       int64
	Kind     AlertRecordType
	Severity string
	Active   bool
	Begin    time.Time
	End      *time.Time
	ItemRef  string
	Message  string
}

// Session is a manager-side token representing one agent's live
// connection for one plugin. A host has at most one active session per
// plugin; a newer SessionID invalidates the older.
type Session struct {
	HostFqdn   string
	SessionID  string
	PluginName string
}

// ActionInFlight is a dispatched agent action awaiting a reply, removed
// when the agent replies, its session terminates, or it is cancelled.
type ActionInFlight struct {
	ActionID  string
	SessionID string
	Action    string
	Args      []byte
	Reply     chan ActionResult
}

// ActionResult is the outcome delivered to an ActionInFlight's reply
// channel exactly once.
type ActionResult struct {
	OK    bool
	Value []byte
	Err   string
}

// Filesystem resolves (filesystem, name) keys against the relational
// store; surfaced by the original's fsid lookups but not modeled
// explicitly in the distilled data model.
type Filesystem struct {
	ID        int64
	Name      string
	MgsHostID *int64
}

// LogMessage is one row the journal sink appends.
type LogMessage struct {
	ID            int64
	Datetime      time.Time
	HostFqdn      string
	Severity      int16
	Facility      int16
	Source        string
	Message       string
	MessageClass  string
}

// NetworkInterfaceStat is one sampled counter reading for a host network
// interface, named by the persisted layout in §6 but not detailed
// further; kept minimal and append-only, symmetrical with LogMessage.
type NetworkInterfaceStat struct {
	HostFqdn  string
	Name      string
	RxBytes   uint64
	TxBytes   uint64
	SampledAt time.Time
}

// ScanLock marks a snapshot as the source of a running scan. Retention
// must never destroy a snapshot while a ScanLock row references it.
type ScanLock struct {
	FilesystemName string
	SnapshotName   string
	ScanID         string
}

// Task is a named mailbox ingestion target: a per-mailbox socket accepts
// newline-delimited JSON records and accumulates them against a Task by
// name, incrementing RecordsTotal as records arrive. Generalized from
// the original's Lustre-FID-keyed task queue to an opaque record shape
// (§ SUPPLEMENTED FEATURES).
type Task struct {
	ID           int64
	Name         string
	RecordsTotal int64
}

// Package ingest implements Host Inventory Ingest (C1): per-host
// mailboxes guaranteeing arrival-order processing, feeding the Device
// Graph Merger (C2) and Target Learner (C3) through the generic differ
// (C4) inside a single storage transaction per message, per §4.1 and
// §5's "C2+C3 batched writes of a single ingest" rule.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whamcloud/lustre-fleet/pkg/alert"
	"github.com/whamcloud/lustre-fleet/pkg/changebus"
	"github.com/whamcloud/lustre-fleet/pkg/devicegraph"
	"github.com/whamcloud/lustre-fleet/pkg/diff"
	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/storage"
	"github.com/whamcloud/lustre-fleet/pkg/targets"
	"github.com/whamcloud/lustre-fleet/pkg/types"
	"github.com/whamcloud/lustre-fleet/pkg/wire"
)

// mailboxBuffer bounds how far a host's consumer goroutine may fall
// behind its sender before Submit blocks, applying backpressure rather
// than growing memory without bound.
const mailboxBuffer = 32

// changeChannel is the Postgres LISTEN/NOTIFY channel C9 bridges.
const changeChannel = "fleet_changes"

// Store is the persistence surface C1/C2/C3 write through. storage.Store
// satisfies it structurally; a fake is used in tests.
type Store interface {
	alert.Store
	HostID(ctx context.Context, fqdn string) (int64, bool, error)
	IngestTransaction(ctx context.Context, fn func(w storage.IngestWriter) error) error
	AllDevices(ctx context.Context) ([]types.Device, error)
	AllDeviceHosts(ctx context.Context) ([]types.DeviceHost, error)
}

// Checkpoints records the last processed sequence number per host, so a
// restarted manager can detect a gap in a host's mailbox stream.
type Checkpoints interface {
	Get(hostFqdn string) (uint64, bool, error)
	Set(hostFqdn string, seq uint64) error
}

// Message is one framed inventory report arriving for a host, tagged
// with its sender-assigned sequence number for gap detection.
type Message struct {
	HostFqdn string
	Seq      uint64
	Frame    wire.InventoryFrame
}

type hostMailbox struct {
	ch     chan Message
	cancel context.CancelFunc
}

// Ingestor owns the per-host mailboxes and the in-memory caches C1
// maintains (last devices, last mounts, last MGS-fs list per host), plus
// the derived device graph and learned target set C2/C3 recompute on
// every message.
type Ingestor struct {
	store       Store
	checkpoints Checkpoints
	logger      zerolog.Logger

	mailboxMu sync.Mutex
	mailboxes map[string]*hostMailbox

	// cacheMu is the "devices" lock named in §5: it guards the per-host
	// caches and the last-learned target set together, since C2 and C3
	// always recompute from a consistent snapshot of all hosts.
	cacheMu        sync.Mutex
	deviceCaches   map[string]map[types.DeviceID]types.Device
	mountCaches    map[string][]types.Mount
	mgsFilesystems map[string][]string
	lastTargets    []types.Target
}

// New constructs an Ingestor. Call Submit to feed it inventory reports;
// each host's reports are processed by a dedicated goroutine started
// lazily on first Submit for that host. Persisted deltas reach other
// subscribers through the changebus Listener's Postgres LISTEN/NOTIFY
// bridge (pkg/changebus), not through a direct reference here.
func New(store Store, checkpoints Checkpoints) *Ingestor {
	return &Ingestor{
		store:          store,
		checkpoints:    checkpoints,
		logger:         log.WithComponent("ingest"),
		mailboxes:      make(map[string]*hostMailbox),
		deviceCaches:   make(map[string]map[types.DeviceID]types.Device),
		mountCaches:    make(map[string][]types.Mount),
		mgsFilesystems: make(map[string][]string),
	}
}

// Submit enqueues msg onto its host's mailbox, starting the host's
// consumer goroutine if this is the first message seen for it. Submit
// blocks only as long as it takes to acquire a send slot in the host's
// buffered channel; processing happens asynchronously, so different
// hosts progress independently per §4.1.
func (g *Ingestor) Submit(ctx context.Context, msg Message) error {
	mb := g.mailboxFor(msg.HostFqdn)

	select {
	case mb.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Ingestor) mailboxFor(fqdn string) *hostMailbox {
	g.mailboxMu.Lock()
	defer g.mailboxMu.Unlock()

	if mb, ok := g.mailboxes[fqdn]; ok {
		return mb
	}

	runCtx, cancel := context.WithCancel(context.Background())
	mb := &hostMailbox{ch: make(chan Message, mailboxBuffer), cancel: cancel}
	g.mailboxes[fqdn] = mb
	go g.consume(runCtx, fqdn, mb)
	return mb
}

// Stop terminates every host's consumer goroutine. In-flight messages
// already read off a mailbox complete; anything still queued is dropped.
func (g *Ingestor) Stop() {
	g.mailboxMu.Lock()
	defer g.mailboxMu.Unlock()
	for _, mb := range g.mailboxes {
		mb.cancel()
	}
}

func (g *Ingestor) consume(ctx context.Context, fqdn string, mb *hostMailbox) {
	for {
		select {
		case msg := <-mb.ch:
			if err := g.apply(ctx, msg); err != nil {
				g.logger.Error().Err(err).Str("host", fqdn).Msg("ingest apply failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// apply runs one message through C1's cache swap, C2's merge, C3's
// target learning, and C4's diff, then persists devices, device-hosts
// and targets as one transaction and publishes the resulting deltas.
func (g *Ingestor) apply(ctx context.Context, msg Message) error {
	_, known, err := g.store.HostID(ctx, msg.HostFqdn)
	if err != nil {
		return err
	}
	if !known {
		g.logger.Warn().Str("host", msg.HostFqdn).Msg("ingest report for unregistered host dropped")
		return nil
	}

	if seq, ok, err := g.checkpoints.Get(msg.HostFqdn); err == nil && ok && msg.Seq != 0 && msg.Seq != seq+1 {
		g.logger.Warn().Str("host", msg.HostFqdn).Uint64("expected", seq+1).Uint64("got", msg.Seq).
			Msg("gap detected in ingest sequence")
	}

	devices := msg.Frame.ToDevices()
	mounts := msg.Frame.ToMounts()
	mgsFs := msg.Frame.MgsFilesystems

	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()

	// Atomic cache swap for this host (§4.1: "replace the host's entry
	// atomically, no partial updates") before C2/C3 recompute.
	g.deviceCaches[msg.HostFqdn] = devices
	g.mountCaches[msg.HostFqdn] = mounts
	g.mgsFilesystems[msg.HostFqdn] = mgsFs

	graph := devicegraph.Merge(g.inventories())
	hostMounts := g.hostMounts()
	learnedTargets, conflicts := targets.Learn(graph, hostMounts, g.mgsFilesystems)

	storedDevices, err := g.store.AllDevices(ctx)
	if err != nil {
		return err
	}
	storedDeviceHosts, err := g.store.AllDeviceHosts(ctx)
	if err != nil {
		return err
	}

	deviceUpserts, deviceDeletions := diff.Diff(storedDevices, devicesOf(graph), equalDevice)
	hostUpserts, hostDeletions := diff.Diff(storedDeviceHosts, deviceHostsOf(graph), equalDeviceHost)
	targetUpserts, targetDeletions := diff.Diff(g.lastTargets, learnedTargets, equalTarget)
	g.lastTargets = learnedTargets

	now := time.Now()
	err = g.store.IngestTransaction(ctx, func(w storage.IngestWriter) error {
		if err := w.DeleteDeviceHosts(ctx, hostDeletions); err != nil {
			return err
		}
		if err := w.DeleteDevices(ctx, deviceIDsOf(deviceDeletions)); err != nil {
			return err
		}
		if err := w.UpsertDevices(ctx, deviceUpserts); err != nil {
			return err
		}
		if err := w.UpsertDeviceHosts(ctx, hostUpserts); err != nil {
			return err
		}
		if err := w.DeleteTargets(ctx, targetDeletions); err != nil {
			return err
		}
		if err := w.UpsertTargets(ctx, targetUpserts); err != nil {
			return err
		}
		return publishDeltas(ctx, w, targetUpserts, targetDeletions, now)
	})
	if err != nil {
		return err
	}

	if err := g.checkpoints.Set(msg.HostFqdn, msg.Seq); err != nil {
		g.logger.Warn().Err(err).Str("host", msg.HostFqdn).Msg("failed to persist ingest checkpoint")
	}

	for _, c := range conflicts {
		if err := alert.Raise(ctx, g.store, types.AlertTargetConflict, c.TargetName,
			"warning", "multiple hosts report an active mount for this target", now); err != nil {
			g.logger.Error().Err(err).Str("target", c.TargetName).Msg("failed to raise target conflict alert")
		}
	}

	return nil
}

func publishDeltas(ctx context.Context, w storage.IngestWriter, upserts, deletions []types.Target, now time.Time) error {
	for _, t := range upserts {
		if err := publishOne(ctx, w, "target", changebus.OpUpsert, t, now); err != nil {
			return err
		}
	}
	for _, t := range deletions {
		if err := publishOne(ctx, w, "target", changebus.OpDelete, t, now); err != nil {
			return err
		}
	}
	return nil
}

func publishOne(ctx context.Context, w storage.IngestWriter, table string, op changebus.Op, record any, now time.Time) error {
	payload, err := marshalRecord(record)
	if err != nil {
		return err
	}
	return w.PublishChange(ctx, changeChannel, changebus.Delta{
		Table:     table,
		Op:        op,
		Record:    payload,
		Timestamp: now,
	})
}

func (g *Ingestor) inventories() []devicegraph.HostInventory {
	out := make([]devicegraph.HostInventory, 0, len(g.deviceCaches))
	for fqdn, devices := range g.deviceCaches {
		out = append(out, devicegraph.HostInventory{
			Fqdn:    fqdn,
			Devices: devices,
			Mounts:  g.mountCaches[fqdn],
		})
	}
	return out
}

func (g *Ingestor) hostMounts() []targets.HostMounts {
	out := make([]targets.HostMounts, 0, len(g.mountCaches))
	for fqdn, mounts := range g.mountCaches {
		out = append(out, targets.HostMounts{Fqdn: fqdn, Mounts: mounts})
	}
	return out
}

func devicesOf(g devicegraph.Graph) []types.Device {
	out := make([]types.Device, 0, len(g.Devices))
	for _, d := range g.Devices {
		out = append(out, d)
	}
	return out
}

func deviceHostsOf(g devicegraph.Graph) []types.DeviceHost {
	out := make([]types.DeviceHost, 0, len(g.DeviceHosts))
	for _, dh := range g.DeviceHosts {
		out = append(out, dh)
	}
	return out
}

func deviceIDsOf(devices []types.Device) []types.DeviceID {
	out := make([]types.DeviceID, len(devices))
	for i, d := range devices {
		out[i] = d.ID
	}
	return out
}

func equalDevice(a, b types.Device) bool {
	if a.Kind != b.Kind || a.Size != b.Size || a.MaxDepth != b.MaxDepth {
		return false
	}
	return equalDeviceIDs(a.Parents, b.Parents) && equalDeviceIDs(a.Children, b.Children)
}

func equalDeviceIDs(a, b []types.DeviceID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalDeviceHost(a, b types.DeviceHost) bool {
	if a.MountPath != b.MountPath || a.Local != b.Local {
		return false
	}
	if len(a.Paths) != len(b.Paths) {
		return false
	}
	for i := range a.Paths {
		if a.Paths[i] != b.Paths[i] {
			return false
		}
	}
	return true
}

func equalTarget(a, b types.Target) bool {
	if a.Kind != b.Kind || a.State != b.State || a.MountPath != b.MountPath ||
		a.DevPath != b.DevPath || a.FsType != b.FsType {
		return false
	}
	if (a.ActiveHostID == nil) != (b.ActiveHostID == nil) {
		return false
	}
	if a.ActiveHostID != nil && *a.ActiveHostID != *b.ActiveHostID {
		return false
	}
	if len(a.Filesystems) != len(b.Filesystems) {
		return false
	}
	for i := range a.Filesystems {
		if a.Filesystems[i] != b.Filesystems[i] {
			return false
		}
	}
	return true
}

func marshalRecord(v any) ([]byte, error) {
	return json.Marshal(v)
}

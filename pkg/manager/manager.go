// Package manager wires together storage, ingest, dispatch, and
// transport into the fleet manager process, and runs Raft purely to
// elect the one replica (IsLeader) allowed to drive active-side work:
// accepting agent sessions, forwarding inventory reports and action
// results, and running the leader-only reconciliation loop (package
// reconciler). Domain state never passes through the replicated log;
// see pkg/manager/fsm.go.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/whamcloud/lustre-fleet/pkg/dispatch"
	"github.com/whamcloud/lustre-fleet/pkg/ingest"
	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/ostpool"
	"github.com/whamcloud/lustre-fleet/pkg/storage"
	"github.com/whamcloud/lustre-fleet/pkg/types"
	"github.com/whamcloud/lustre-fleet/pkg/wire"
)

// Manager is one fleet manager replica: it owns the Raft leader
// election, the relational store, the per-host ingest pipeline, and the
// action dispatcher, and implements transport.AgentHandler to route
// incoming agent frames into them.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	logger zerolog.Logger

	raft *raft.Raft
	fsm  *leaderFSM

	store       *storage.Store
	checkpoints *storage.CheckpointStore
	ingestor    *ingest.Ingestor
	dispatcher  *dispatch.Dispatcher
}

// Config holds the parameters needed to construct a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Store    *storage.Store
}

// NewManager constructs a Manager. Bootstrap or Join must be called
// before it is usable as a Raft member; SetSender must be called once
// the transport server exists, since the dispatcher needs it to send
// action frames.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	checkpoints, err := storage.OpenCheckpointStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	ingestor := ingest.New(cfg.Store, checkpoints)

	m := &Manager{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		logger:      log.WithComponent("manager"),
		fsm:         newLeaderFSM(),
		store:       cfg.Store,
		checkpoints: checkpoints,
		ingestor:    ingestor,
	}

	return m, nil
}

// SetSender wires the action dispatcher to send outbound frames through
// sender (a *transport.Server), completing the circular dependency
// between Manager and the transport layer.
func (m *Manager) SetSender(sender dispatch.Sender) {
	m.dispatcher = dispatch.New(sender)
}

// Store returns the underlying relational store, for callers (the CLI,
// the reconciler) that need direct read access alongside the manager.
func (m *Manager) Store() *storage.Store { return m.store }

// Dispatcher returns the action dispatcher, once SetSender has been
// called.
func (m *Manager) Dispatcher() *dispatch.Dispatcher { return m.dispatcher }

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned down from the library defaults (HeartbeatTimeout=1s,
	// ElectionTimeout=1s, LeaderLeaseTimeout=500ms) for faster failover
	// on a LAN-local manager cluster rather than a WAN deployment.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft(config *raft.Config) (*raft.Raft, *raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap initializes a new single-node Raft cluster with this node as
// its only member.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft(raftConfig(m.nodeID))
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: transport.LocalAddr()},
		},
	}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	m.logger.Info().Str("node_id", m.nodeID).Msg("bootstrapped single-node raft cluster")
	return nil
}

// Join starts Raft for a node intended to be added to an existing
// cluster via the leader's AddVoter; the caller is responsible for
// contacting the leader (e.g. a POST to the leader's /admin/add-voter
// endpoint) after this returns.
func (m *Manager) Join() error {
	r, _, err := m.newRaft(raftConfig(m.nodeID))
	if err != nil {
		return err
	}
	m.raft = r
	return nil
}

// AddVoter adds a new manager node to the Raft cluster. Only valid on
// the current leader.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	return m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// RemoveServer removes a server from the Raft cluster. Only valid on the
// current leader.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	return m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

// GetClusterServers returns the current Raft configuration's server list.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this replica currently holds Raft leadership,
// the gate that decides whether this replica may run active-side
// dispatch (pkg/reconciler, OST pool reconciliation, snapshot cadence).
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's address, if known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats reports a snapshot of Raft's internal counters, or nil
// before Raft has started.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
	if cfg := m.raft.GetConfiguration(); cfg.Error() == nil {
		stats["peers"] = uint64(len(cfg.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// NodeID returns the manager's configured node ID.
func (m *Manager) NodeID() string { return m.nodeID }

// SessionCount and InFlightCount delegate to the action dispatcher so a
// Manager composed with *storage.Store satisfies pkg/metrics.Source
// without that package depending on either concrete type.
func (m *Manager) SessionCount() int  { return m.dispatcher.SessionCount() }
func (m *Manager) InFlightCount() int { return m.dispatcher.InFlightCount() }

// HandleFrame implements transport.AgentHandler: it routes an agent's
// SessionCreate/SessionTerminate to the dispatcher, and Data frames
// to the ingestor (device plugin inventory reports), to the OST pool
// reconciler (ostpool plugin reports), or otherwise to the dispatcher as
// an action result, per §6's frame contract. Only the
// Raft leader processes frames; a non-leader replica drops them so that
// two replicas never double-dispatch the same action, per the leader
// gating rule recorded for C5/C6/C7.
func (m *Manager) HandleFrame(ctx context.Context, fqdn string, msg wire.AgentToManager) error {
	if !m.IsLeader() {
		return nil
	}

	switch msg.Kind {
	case "SessionCreate":
		m.dispatcher.SessionCreate(fqdn, msg.SessionID)
		return nil
	case "SessionTerminate":
		m.dispatcher.SessionTerminate(fqdn, msg.SessionID)
		return nil
	case "Data":
		switch msg.Plugin {
		case "device":
			return m.handleInventory(ctx, fqdn, msg.Body)
		case "ostpool":
			return m.handleOstPoolReport(ctx, msg.Body)
		default:
			return m.handleActionResult(fqdn, msg.SessionID, msg.Body)
		}
	default:
		m.logger.Warn().Str("host_fqdn", fqdn).Str("kind", msg.Kind).Msg("unknown agent frame kind")
		return nil
	}
}

func (m *Manager) handleInventory(ctx context.Context, fqdn string, body json.RawMessage) error {
	var frame wire.InventoryFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		return fmt.Errorf("decode inventory frame: %w", err)
	}
	return m.ingestor.Submit(ctx, ingest.Message{HostFqdn: fqdn, Seq: frame.Seq, Frame: frame})
}

func (m *Manager) handleOstPoolReport(ctx context.Context, body json.RawMessage) error {
	var frame wire.OstPoolReportFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		return fmt.Errorf("decode ostpool report frame: %w", err)
	}
	return ostpool.Reconcile(ctx, m.store, frame.Filesystem, frame.ToOstPools())
}

func (m *Manager) handleActionResult(fqdn, sessionID string, body json.RawMessage) error {
	var result wire.ActionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode action result: %w", err)
	}
	m.dispatcher.Data(fqdn, sessionID, types.ActionResult{
		OK:    result.OK,
		Value: result.Value,
		Err:   result.ErrMsg,
	}, result.ID)
	return nil
}

// Shutdown stops Raft and closes the store and checkpoint files.
func (m *Manager) Shutdown() error {
	if m.ingestor != nil {
		m.ingestor.Stop()
	}
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if m.checkpoints != nil {
		if err := m.checkpoints.Close(); err != nil {
			return fmt.Errorf("failed to close checkpoint store: %w", err)
		}
	}
	if m.store != nil {
		m.store.Close()
	}
	return nil
}

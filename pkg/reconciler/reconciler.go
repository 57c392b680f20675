// Package reconciler runs the Snapshot Manager's (C7) periodic
// obligations: firing due snapshot cadences and sweeping retention
// against each filesystem with a configured policy, on the same
// ticker-driven loop shape the teacher uses for its own periodic
// reconciliation.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/metrics"
	"github.com/whamcloud/lustre-fleet/pkg/snapshot"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Store is the persistence surface the reconciler polls each tick;
// pkg/storage.Store satisfies it structurally.
type Store interface {
	FilesystemNames(ctx context.Context) ([]string, error)
	ActiveMgsHostFqdn(ctx context.Context, fsname string) (string, bool, error)
	SnapshotInterval(ctx context.Context, fsname string) (*types.SnapshotInterval, bool, error)
	UpdateIntervalLastRun(ctx context.Context, id int64, when time.Time) error
	SnapshotRetention(ctx context.Context, fsname string) (*types.SnapshotRetention, bool, error)
	UpdateRetentionLastRun(ctx context.Context, id int64, when time.Time) error
	Snapshots(ctx context.Context, fsname string) ([]types.Snapshot, error)
	ScanLocked(ctx context.Context, fsname, snapshotName string) (bool, error)
	FilesystemCapacity(ctx context.Context, fsname string) (totalBytes, freeBytes uint64, err error)
}

// LeaderChecker reports whether this replica currently holds Raft
// leadership; the reconciler only runs while true, per the C5/C6/C7
// leader-gating rule (pkg/manager.Manager satisfies this).
type LeaderChecker interface {
	IsLeader() bool
}

// Reconciler drives the cadence and retention sub-components of package
// snapshot on a fixed tick, skipping the cycle entirely on a replica
// that does not hold Raft leadership.
type Reconciler struct {
	store      Store
	dispatcher snapshot.Dispatcher
	leader     LeaderChecker
	logger     zerolog.Logger

	// inFlight tracks filesystems with an outstanding snapshot_create,
	// so a slow create doesn't cause FireCadence to double-fire on the
	// next tick; cleared once the cycle that started it returns.
	mu       sync.Mutex
	inFlight map[string]bool

	stopCh chan struct{}
}

// NewReconciler constructs a Reconciler polling store and dispatching
// actions through dispatcher, gated on leader.
func NewReconciler(store Store, dispatcher snapshot.Dispatcher, leader LeaderChecker) *Reconciler {
	return &Reconciler{
		store:      store,
		dispatcher: dispatcher,
		leader:     leader,
		logger:     log.WithComponent("reconciler"),
		inFlight:   make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop on a 10-second tick.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if !r.leader.IsLeader() {
				continue
			}
			if err := r.reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile runs one cycle: cadence firing then retention sweep, for
// every filesystem that has a Lustre MGS known to the fleet.
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	names, err := r.store.FilesystemNames(ctx)
	if err != nil {
		return fmt.Errorf("list filesystems: %w", err)
	}

	now := time.Now()
	for _, fsname := range names {
		mgsFqdn, ok, err := r.store.ActiveMgsHostFqdn(ctx, fsname)
		if err != nil {
			r.logger.Error().Err(err).Str("filesystem", fsname).Msg("failed to resolve active MGS host")
			continue
		}
		if !ok {
			continue
		}

		r.reconcileCadence(ctx, fsname, mgsFqdn, now)
		r.reconcileRetention(ctx, fsname, mgsFqdn)
	}

	return nil
}

func (r *Reconciler) reconcileCadence(ctx context.Context, fsname, mgsFqdn string, now time.Time) {
	iv, ok, err := r.store.SnapshotInterval(ctx, fsname)
	if err != nil {
		r.logger.Error().Err(err).Str("filesystem", fsname).Msg("failed to load snapshot interval")
		return
	}
	if !ok {
		return
	}

	r.mu.Lock()
	alreadyInFlight := r.inFlight[fsname]
	r.inFlight[fsname] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight[fsname] = false
		r.mu.Unlock()
	}()

	fired, err := snapshot.FireCadence(ctx, r.dispatcher, mgsFqdn, *iv, now, alreadyInFlight)
	if err != nil {
		r.logger.Error().Err(err).Str("filesystem", fsname).Msg("snapshot cadence fire failed")
		return
	}
	if fired {
		if err := r.store.UpdateIntervalLastRun(ctx, iv.ID, now); err != nil {
			r.logger.Error().Err(err).Str("filesystem", fsname).Msg("failed to record cadence last-run")
		}
	}
}

func (r *Reconciler) reconcileRetention(ctx context.Context, fsname, mgsFqdn string) {
	retention, ok, err := r.store.SnapshotRetention(ctx, fsname)
	if err != nil {
		r.logger.Error().Err(err).Str("filesystem", fsname).Msg("failed to load snapshot retention")
		return
	}
	if !ok {
		return
	}

	snapshots, err := r.store.Snapshots(ctx, fsname)
	if err != nil {
		r.logger.Error().Err(err).Str("filesystem", fsname).Msg("failed to list snapshots")
		return
	}

	capacity := func(ctx context.Context) (snapshot.CapacityInfo, error) {
		total, free, err := r.store.FilesystemCapacity(ctx, fsname)
		return snapshot.CapacityInfo{TotalBytes: total, FreeBytes: free}, err
	}
	locked := func(snapshotName string) bool {
		busy, err := r.store.ScanLocked(ctx, fsname, snapshotName)
		if err != nil {
			r.logger.Error().Err(err).Str("filesystem", fsname).Str("snapshot", snapshotName).
				Msg("failed to check scan lock, treating as locked")
			return true
		}
		return busy
	}

	destroyed, err := snapshot.RunRetention(ctx, r.dispatcher, mgsFqdn, *retention, snapshots, capacity, locked)
	if err != nil {
		r.logger.Error().Err(err).Str("filesystem", fsname).Msg("retention sweep failed")
	}
	if len(destroyed) > 0 {
		r.logger.Info().Str("filesystem", fsname).Strs("destroyed", destroyed).Msg("retention destroyed snapshots")
		if err := r.store.UpdateRetentionLastRun(ctx, retention.ID, time.Now()); err != nil {
			r.logger.Error().Err(err).Str("filesystem", fsname).Msg("failed to record retention last-run")
		}
	}
}

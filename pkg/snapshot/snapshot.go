// Package snapshot implements the Snapshot Manager (C7): the cadence
// sub-component that fires scheduled snapshot.create actions, and the
// retention sub-component that enforces reserve-space and keep-count
// policies by destroying the oldest eligible snapshots, grounded on
// emf-agent/src/daemon_plugins/snapshot.rs's snapshot listing shape and
// the dispatcher contract in package dispatch.
package snapshot

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/whamcloud/lustre-fleet/pkg/errs"
	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Dispatcher is the subset of the Action Dispatcher (package dispatch)
// the snapshot manager drives actions through.
type Dispatcher interface {
	ActionStart(ctx context.Context, fqdn, action string, args json.RawMessage) (chan types.ActionResult, error)
}

// CapacityInfo is one filesystem capacity sample from the metrics store.
type CapacityInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

const (
	gibibyte = 1 << 30
	tebibyte = 1 << 40
)

// ReserveSatisfied reports whether cap meets retention's reserve
// constraint, interpreting ReserveValue per ReserveUnit.
func ReserveSatisfied(cap CapacityInfo, retention types.SnapshotRetention) bool {
	switch retention.ReserveUnit {
	case types.ReservePercent:
		if cap.TotalBytes == 0 {
			return true
		}
		percentFree := float64(cap.FreeBytes) / float64(cap.TotalBytes) * 100
		return percentFree >= retention.ReserveValue
	case types.ReserveGibibytes:
		return float64(cap.FreeBytes) >= retention.ReserveValue*gibibyte
	case types.ReserveTebibytes:
		return float64(cap.FreeBytes) >= retention.ReserveValue*tebibyte
	default:
		return true
	}
}

// ShouldFireCadence reports whether now - LastRun >= Interval, firing
// unconditionally if the cadence has never run.
func ShouldFireCadence(iv types.SnapshotInterval, now time.Time) bool {
	if iv.LastRun == nil {
		return true
	}
	return now.Sub(*iv.LastRun) >= iv.Interval
}

// FireCadence sends snapshot.create for iv's filesystem to mgsFqdn,
// skipping entirely if inFlight is true (a create for that filesystem
// is already outstanding) or the cadence isn't due yet. Returns true if
// a create was sent; callers update LastRun on success.
func FireCadence(ctx context.Context, dispatcher Dispatcher, mgsFqdn string, iv types.SnapshotInterval, now time.Time, inFlight bool) (bool, error) {
	if inFlight || !ShouldFireCadence(iv, now) {
		return false, nil
	}

	args, err := json.Marshal(map[string]any{
		"filesystem": iv.FilesystemName,
		"barrier":    iv.UseBarrier,
	})
	if err != nil {
		return false, err
	}

	reply, err := dispatcher.ActionStart(ctx, mgsFqdn, "snapshot_create", args)
	if err != nil {
		return false, err
	}

	select {
	case result := <-reply:
		if !result.OK {
			return false, errs.New(errs.Protocol, "snapshot_create failed: "+result.Err, nil)
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Locker reports whether a snapshot is currently busy (an active
// ScanLock referencing it), per the resolution recorded for the
// retention-vs-scan-lock open question.
type Locker func(snapshotName string) bool

// CapacitySource returns a fresh capacity sample; called once per
// retention loop iteration, matching §4.7's "query current filesystem
// capacity" step run before each destroy decision.
type CapacitySource func(ctx context.Context) (CapacityInfo, error)

// RunRetention enforces retention's reserve and keep-count constraints
// against snapshots, destroying the oldest eligible ones one at a time
// via C5 until either the reserve is satisfied or only KeepNum remain.
// A mounted candidate is unmounted and retried before being skipped; a
// scan-locked candidate is skipped outright. Returns the names of
// snapshots actually destroyed, oldest first.
func RunRetention(ctx context.Context, dispatcher Dispatcher, mgsFqdn string, retention types.SnapshotRetention, snapshots []types.Snapshot, capacity CapacitySource, locked Locker) ([]string, error) {
	logger := log.WithComponent("snapshot").With().Str("filesystem", retention.FilesystemName).Logger()

	remaining := make([]types.Snapshot, len(snapshots))
	copy(remaining, snapshots)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].CreateTime.Before(remaining[j].CreateTime) })

	var destroyed []string
	// kept counts skipped candidates: they still exist, so they count
	// toward KeepNum.
	kept := 0

	for len(remaining) > 0 && len(remaining)+kept > retention.KeepNum {
		cap, err := capacity(ctx)
		if err != nil {
			return destroyed, err
		}
		if ReserveSatisfied(cap, retention) {
			break
		}

		candidate := remaining[0]

		if locked(candidate.SnapshotName) {
			logger.Info().Str("snapshot", candidate.SnapshotName).Msg("skipping scan-locked snapshot")
			kept++
			remaining = remaining[1:]
			continue
		}

		if candidate.Mounted {
			if err := sendAndAwait(ctx, dispatcher, mgsFqdn, "snapshot_unmount", candidate); err != nil {
				logger.Info().Err(err).Str("snapshot", candidate.SnapshotName).Msg("unmount failed, skipping")
				kept++
				remaining = remaining[1:]
				continue
			}
			candidate.Mounted = false
			remaining[0] = candidate
			continue
		}

		if err := sendAndAwait(ctx, dispatcher, mgsFqdn, "snapshot_destroy", candidate); err != nil {
			logger.Info().Err(err).Str("snapshot", candidate.SnapshotName).Msg("destroy failed, skipping")
			kept++
			remaining = remaining[1:]
			continue
		}

		destroyed = append(destroyed, candidate.SnapshotName)
		remaining = remaining[1:]
	}

	return destroyed, nil
}

func sendAndAwait(ctx context.Context, dispatcher Dispatcher, mgsFqdn, action string, snap types.Snapshot) error {
	args, err := json.Marshal(map[string]any{
		"filesystem": snap.FilesystemName,
		"name":       snap.SnapshotName,
		"force":      true,
	})
	if err != nil {
		return err
	}

	reply, err := dispatcher.ActionStart(ctx, mgsFqdn, action, args)
	if err != nil {
		return err
	}

	select {
	case result := <-reply:
		if !result.OK {
			return errs.New(errs.Protocol, action+" failed: "+result.Err, nil)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package ostpool implements the OST-Pool Reconciler (C6): diffing an
// agent-reported pool set against the stored one per filesystem and
// emitting create/destroy/grow/shrink/diff operations, grounded on
// emf-ostpool/src/db.rs's fsid/poolid/create/delete/grow/shrink/diff
// functions.
package ostpool

import (
	"context"
	"sort"

	"github.com/whamcloud/lustre-fleet/pkg/diff"
	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Store is the persistence surface the reconciler drives. Implementations
// are expected to back it with the relational store (package storage);
// kept as an interface here so the reconciliation logic is testable
// without a database.
type Store interface {
	FilesystemID(ctx context.Context, fsname string) (int64, bool, error)
	PoolSet(ctx context.Context, fsid int64) ([]types.OstPool, error)
	CreatePool(ctx context.Context, fsid int64, pool types.OstPool) error
	DeletePool(ctx context.Context, fsid int64, name string) error
	// Grow inserts ostpool_osts rows for any named OST that resolves
	// against the filesystem's target list and isn't already a member;
	// unresolved names are skipped, matching the original's best-effort
	// grow.
	Grow(ctx context.Context, fsid int64, poolName string, osts []string) error
	Shrink(ctx context.Context, fsid int64, poolName string, osts []string) error
}

// Reconcile applies one tick's reported pool set for a single filesystem
// against the stored one, per §4.6: adds (create+grow), then removes
// (shrink+delete), then updates (diff-in-place on changed osts).
func Reconcile(ctx context.Context, store Store, fsname string, reported []types.OstPool) error {
	logger := log.WithComponent("ostpool").With().Str("filesystem", fsname).Logger()

	fsid, ok, err := store.FilesystemID(ctx, fsname)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info().Msg("unknown filesystem, skipping pool reconcile")
		return nil
	}

	stored, err := store.PoolSet(ctx, fsid)
	if err != nil {
		return err
	}

	upserts, deletions := diff.Diff(stored, reported, equalOstPool)

	storedByKey := make(map[[2]string]types.OstPool, len(stored))
	for _, p := range stored {
		storedByKey[p.Key()] = p
	}

	var additions, updates []types.OstPool
	for _, p := range upserts {
		if _, existed := storedByKey[p.Key()]; existed {
			updates = append(updates, p)
		} else {
			additions = append(additions, p)
		}
	}

	for _, p := range additions {
		if err := store.CreatePool(ctx, fsid, p); err != nil {
			return err
		}
		if err := store.Grow(ctx, fsid, p.Name, p.Osts); err != nil {
			return err
		}
		logger.Debug().Str("pool", p.Name).Int("osts", len(p.Osts)).Msg("created pool")
	}

	for _, p := range deletions {
		if err := store.Shrink(ctx, fsid, p.Name, p.Osts); err != nil {
			return err
		}
		if err := store.DeletePool(ctx, fsid, p.Name); err != nil {
			return err
		}
		logger.Debug().Str("pool", p.Name).Msg("deleted pool")
	}

	for _, p := range updates {
		old := storedByKey[p.Key()]
		add, remove := ostSetDiff(old.Osts, p.Osts)
		if len(add) > 0 {
			if err := store.Grow(ctx, fsid, p.Name, add); err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			if err := store.Shrink(ctx, fsid, p.Name, remove); err != nil {
				return err
			}
		}
		logger.Debug().Str("pool", p.Name).Int("added", len(add)).Int("removed", len(remove)).Msg("updated pool membership")
	}

	return nil
}

// equalOstPool is structural equality over Osts as a set, matching
// §4.6's "equality including osts" diff criterion. Name/Filesystem are
// the identity key so they're never compared here.
func equalOstPool(a, b types.OstPool) bool {
	if len(a.Osts) != len(b.Osts) {
		return false
	}
	as, bs := sortedCopy(a.Osts), sortedCopy(b.Osts)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// ostSetDiff returns the osts present in next but not prev (add) and
// present in prev but not next (remove).
func ostSetDiff(prev, next []string) (add, remove []string) {
	prevSet := make(map[string]bool, len(prev))
	for _, o := range prev {
		prevSet[o] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, o := range next {
		nextSet[o] = true
	}
	for _, o := range next {
		if !prevSet[o] {
			add = append(add, o)
		}
	}
	for _, o := range prev {
		if !nextSet[o] {
			remove = append(remove, o)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

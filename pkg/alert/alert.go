// Package alert implements the alert raise/lower state machine shared
// by every C8 sink (§4.8): raising is idempotent per (kind, item), and
// lowering closes every matching active alert.
package alert

import (
	"context"
	"time"

	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Store is the persistence surface Raise/Lower drive.
type Store interface {
	ActiveAlert(ctx context.Context, kind types.AlertRecordType, itemRef string) (*types.AlertState, error)
	Insert(ctx context.Context, alert types.AlertState) error
	// CloseActive sets end=now on every active alert matching one of
	// kinds for itemRef, returning the number closed.
	CloseActive(ctx context.Context, kinds []types.AlertRecordType, itemRef string, end time.Time) (int, error)
}

// Raise opens a new alert for (kind, itemRef) unless one is already
// active, in which case it is a no-op.
func Raise(ctx context.Context, store Store, kind types.AlertRecordType, itemRef, severity, message string, now time.Time) error {
	existing, err := store.ActiveAlert(ctx, kind, itemRef)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	return store.Insert(ctx, types.AlertState{
		Kind:     kind,
		Severity: severity,
		Active:   true,
		Begin:    now,
		ItemRef:  itemRef,
		Message:  message,
	})
}

// Lower closes every active alert matching one of kinds for itemRef.
func Lower(ctx context.Context, store Store, kinds []types.AlertRecordType, itemRef string, now time.Time) error {
	_, err := store.CloseActive(ctx, kinds, itemRef, now)
	return err
}

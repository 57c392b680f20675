// Package ntp implements the NTP sink of C8 (§4.8): a per-host state
// machine that guarantees at most one active time-sync alert, grounded
// on emf-agent/src/action_plugins/ntp/is_ntp_configured.rs's state
// enumeration.
package ntp

import (
	"context"
	"time"

	"github.com/whamcloud/lustre-fleet/pkg/alert"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// State is one host's reported time-sync condition.
type State string

const (
	Synced   State = "synced"
	None     State = "none"
	Multiple State = "multiple"
	Unsynced State = "unsynced"
	Unknown  State = "unknown"
)

// alertKindFor maps every non-Synced state to its alert kind. Synced
// has no corresponding kind: it is represented by the absence of any
// of the other four, never raised itself.
var alertKindFor = map[State]types.AlertRecordType{
	None:     types.AlertNtpNone,
	Multiple: types.AlertNtpMultiple,
	Unsynced: types.AlertNtpUnsynced,
	Unknown:  types.AlertNtpUnknown,
}

// allAlertKinds lists the four actual time-sync alert kinds, in a
// fixed order so Lower's batched close is deterministic.
var allAlertKinds = []types.AlertRecordType{
	types.AlertNtpNone,
	types.AlertNtpMultiple,
	types.AlertNtpUnsynced,
	types.AlertNtpUnknown,
}

// UpdateHostState applies an incoming NTP state for fqdn: every other
// time-sync alert kind for this host is lowered, then the kind matching
// state (if any) is raised. Raise is already idempotent, so repeated
// reports of the same state are cheap no-ops after the first.
func UpdateHostState(ctx context.Context, store alert.Store, fqdn string, state State, now time.Time) error {
	kind, raises := alertKindFor[state]

	var toLower []types.AlertRecordType
	for _, k := range allAlertKinds {
		if raises && k == kind {
			continue
		}
		toLower = append(toLower, k)
	}

	if err := alert.Lower(ctx, store, toLower, fqdn, now); err != nil {
		return err
	}

	if !raises {
		return nil
	}

	return alert.Raise(ctx, store, kind, fqdn, "warning", string(state), now)
}

// Package dispatch implements the Action Dispatcher (C5): a
// session-multiplexed RPC fabric between the manager and per-host
// agents. It owns the two-level sessions/rpcs map pair described in
// §4.5, grounded directly on the original's emf-action-runner receiver
// (create_session/terminate_session/handle_data) and local_actions
// (oneshot-channel ActionInFlight bookkeeping).
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/whamcloud/lustre-fleet/pkg/errs"
	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Sender delivers a framed payload to the named host's agent connection.
// It is the only coupling between the dispatcher and the wire transport,
// so the dispatcher never depends on socket code directly.
type Sender interface {
	SendToHost(fqdn string, frame []byte) error
}

const sessionWaitTimeout = 30 * time.Second

// Dispatcher owns sessions and rpcs per §4.5, each guarded by its own
// mutex acquired in the fixed order sessions -> rpcs, never nested the
// other way, and never holding a lock across a channel send/receive or
// other I/O.
type Dispatcher struct {
	sender Sender
	logger zerolog.Logger

	sessionsMu sync.Mutex
	sessions   map[string]string // fqdn -> session id

	rpcsMu sync.Mutex
	rpcs   map[string]map[string]*types.ActionInFlight // session id -> action id -> in-flight
}

// New creates a Dispatcher that sends action frames through sender.
func New(sender Sender) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		logger:   log.WithComponent("dispatch"),
		sessions: make(map[string]string),
		rpcs:     make(map[string]map[string]*types.ActionInFlight),
	}
}

// SessionCount reports the number of hosts with a live session, for
// pkg/metrics' gauge collection.
func (d *Dispatcher) SessionCount() int {
	d.sessionsMu.Lock()
	defer d.sessionsMu.Unlock()
	return len(d.sessions)
}

// InFlightCount reports the total number of in-flight actions across
// every session, for pkg/metrics' gauge collection.
func (d *Dispatcher) InFlightCount() int {
	d.rpcsMu.Lock()
	defer d.rpcsMu.Unlock()
	n := 0
	for _, bucket := range d.rpcs {
		n += len(bucket)
	}
	return n
}

// SessionCreate handles an agent's SessionCreate(fqdn, session_id): if a
// prior session existed for fqdn, every in-flight action from its
// bucket is replayed onto the new session and re-sent to the agent, then
// the old session is implicitly terminated (its rpcs bucket moved, not
// drained with an error).
func (d *Dispatcher) SessionCreate(fqdn, sessionID string) {
	d.sessionsMu.Lock()
	oldID, hadOld := d.sessions[fqdn]
	d.sessions[fqdn] = sessionID
	d.sessionsMu.Unlock()

	if !hadOld {
		d.logger.Info().Str("host_fqdn", fqdn).Str("session_id", sessionID).Msg("session created")
		return
	}

	d.rpcsMu.Lock()
	bucket, existed := d.rpcs[oldID]
	if existed {
		delete(d.rpcs, oldID)
		d.rpcs[sessionID] = bucket
	}
	d.rpcsMu.Unlock()

	if existed {
		for actionID, inFlight := range bucket {
			inFlight.SessionID = sessionID
			frame := buildActionFrame(sessionID, actionID, inFlight.Action, inFlight.Args)
			if err := d.sender.SendToHost(fqdn, frame); err != nil {
				d.logger.Error().Err(err).Str("host_fqdn", fqdn).Str("action_id", actionID).
					Msg("failed to replay in-flight action onto new session")
			}
		}
	}

	d.logger.Info().Str("host_fqdn", fqdn).Str("session_id", sessionID).
		Str("replaced_session_id", oldID).Msg("session replaced, in-flight actions replayed")
}

// SessionTerminate handles an agent's SessionTerminate(fqdn, session_id):
// if it matches the currently stored session, drains its bucket,
// completing each in-flight action with a "session terminated" error.
// A stale or unknown terminate is logged and ignored.
func (d *Dispatcher) SessionTerminate(fqdn, sessionID string) {
	d.sessionsMu.Lock()
	current, ok := d.sessions[fqdn]
	if !ok || current != sessionID {
		d.sessionsMu.Unlock()
		d.logger.Info().Str("host_fqdn", fqdn).Str("session_id", sessionID).
			Msg("ignoring stale or unknown session terminate")
		return
	}
	delete(d.sessions, fqdn)
	d.sessionsMu.Unlock()

	d.rpcsMu.Lock()
	bucket := d.rpcs[sessionID]
	delete(d.rpcs, sessionID)
	d.rpcsMu.Unlock()

	for _, inFlight := range bucket {
		completeOnce(inFlight, types.ActionResult{OK: false, Err: fmt.Sprintf("Communications error, Node: %s, Reason: session terminated", fqdn)})
	}

	d.logger.Info().Str("host_fqdn", fqdn).Str("session_id", sessionID).Msg("session terminated")
}

// Data accepts an ActionResult only when sessions[fqdn] == sessionID;
// otherwise the current session is torn down (if held session differs)
// or the frame is logged as unknown.
func (d *Dispatcher) Data(fqdn, sessionID string, result types.ActionResult, actionID string) {
	d.sessionsMu.Lock()
	held, ok := d.sessions[fqdn]
	if !ok {
		d.sessionsMu.Unlock()
		d.logger.Info().Str("host_fqdn", fqdn).Str("session_id", sessionID).Msg("data for unknown session")
		return
	}
	if held != sessionID {
		d.sessionsMu.Unlock()
		d.logger.Info().Str("host_fqdn", fqdn).Str("session_id", sessionID).
			Str("held_session_id", held).Msg("stale session sent data, terminating")
		d.SessionTerminate(fqdn, held)
		return
	}
	d.sessionsMu.Unlock()

	d.rpcsMu.Lock()
	bucket := d.rpcs[sessionID]
	var inFlight *types.ActionInFlight
	if bucket != nil {
		inFlight = bucket[actionID]
		delete(bucket, actionID)
	}
	d.rpcsMu.Unlock()

	if inFlight == nil {
		d.logger.Error().Str("action_id", actionID).Msg("response received from unknown action")
		return
	}
	completeOnce(inFlight, result)
}

// ActionStart registers a new ActionInFlight under the current session
// for fqdn, waiting up to 30s for one to exist, then sends the action
// frame and returns the reply channel.
func (d *Dispatcher) ActionStart(ctx context.Context, fqdn, action string, args json.RawMessage) (chan types.ActionResult, error) {
	sessionID, err := d.awaitSession(ctx, fqdn)
	if err != nil {
		return nil, err
	}

	actionID := uuid.NewString()
	reply := make(chan types.ActionResult, 1)
	inFlight := &types.ActionInFlight{
		ActionID:  actionID,
		SessionID: sessionID,
		Action:    action,
		Args:      args,
		Reply:     reply,
	}

	d.rpcsMu.Lock()
	bucket, ok := d.rpcs[sessionID]
	if !ok {
		bucket = make(map[string]*types.ActionInFlight)
		d.rpcs[sessionID] = bucket
	}
	bucket[actionID] = inFlight
	d.rpcsMu.Unlock()

	frame := buildActionFrame(sessionID, actionID, action, args)
	if err := d.sender.SendToHost(fqdn, frame); err != nil {
		d.rpcsMu.Lock()
		delete(bucket, actionID)
		d.rpcsMu.Unlock()
		return nil, errs.New(errs.Transport, "failed to send action frame", err)
	}

	return reply, nil
}

// ActionCancel sends a cancel frame for id if it is in the active
// session's bucket; on successful send, completes the local reply with
// a null/ok result and removes the entry.
func (d *Dispatcher) ActionCancel(fqdn, actionID string) error {
	d.sessionsMu.Lock()
	sessionID, ok := d.sessions[fqdn]
	d.sessionsMu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, "no active session for host", nil)
	}

	d.rpcsMu.Lock()
	bucket := d.rpcs[sessionID]
	var inFlight *types.ActionInFlight
	if bucket != nil {
		inFlight = bucket[actionID]
	}
	d.rpcsMu.Unlock()

	if inFlight == nil {
		return errs.New(errs.NotFound, "action not in flight", nil)
	}

	frame := buildCancelFrame(sessionID, actionID)
	if err := d.sender.SendToHost(fqdn, frame); err != nil {
		return errs.New(errs.Transport, "failed to send cancel frame", err)
	}

	d.rpcsMu.Lock()
	delete(bucket, actionID)
	d.rpcsMu.Unlock()

	completeOnce(inFlight, types.ActionResult{OK: true, Value: []byte("null")})
	return nil
}

// awaitSession polls for sessions[fqdn] to become set, up to
// sessionWaitTimeout.
func (d *Dispatcher) awaitSession(ctx context.Context, fqdn string) (string, error) {
	deadline := time.Now().Add(sessionWaitTimeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		d.sessionsMu.Lock()
		sessionID, ok := d.sessions[fqdn]
		d.sessionsMu.Unlock()
		if ok {
			return sessionID, nil
		}
		if time.Now().After(deadline) {
			return "", &errs.AwaitSessionError{Fqdn: fqdn}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// completeOnce delivers result to inFlight.Reply without blocking; the
// channel is buffered with capacity 1, so exactly one delivery always
// succeeds and later arrivals for the same action are no-ops by the
// time they reach here (the caller has already removed the bucket
// entry before calling this).
func completeOnce(inFlight *types.ActionInFlight, result types.ActionResult) {
	select {
	case inFlight.Reply <- result:
	default:
	}
}

func buildActionFrame(sessionID, actionID, action string, args json.RawMessage) []byte {
	type actionFrame struct {
		Kind      string          `json:"kind"`
		SessionID string          `json:"session_id"`
		ID        string          `json:"id"`
		Action    string          `json:"action"`
		Args      json.RawMessage `json:"args"`
	}
	b, _ := json.Marshal(actionFrame{Kind: "ActionStart", SessionID: sessionID, ID: actionID, Action: action, Args: args})
	return b
}

func buildCancelFrame(sessionID, actionID string) []byte {
	type cancelFrame struct {
		Kind      string `json:"kind"`
		SessionID string `json:"session_id"`
		ID        string `json:"id"`
	}
	b, _ := json.Marshal(cancelFrame{Kind: "ActionCancel", SessionID: sessionID, ID: actionID})
	return b
}

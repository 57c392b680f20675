// Package wire implements the manager/agent frame contract of §6 as
// Rust-serde-style externally tagged JSON: each union variant encodes as
// a single-key object named after the variant, whose value holds the
// variant's fields. Hand-rolled MarshalJSON/UnmarshalJSON pairs preserve
// this shape instead of Go's default discriminated-union-free encoding.
package wire

import (
	"encoding/json"
	"fmt"
)

// ManagerToAgent is the manager's half of the per-host session
// protocol.
type ManagerToAgent struct {
	Kind      string // SessionCreateResponse | SessionTerminate | SessionTerminateAll | Data
	Plugin    string
	SessionID string
	Body      json.RawMessage // only set for Data
}

func (m ManagerToAgent) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case "SessionCreateResponse", "SessionTerminate":
		inner := map[string]any{"plugin": m.Plugin, "session_id": m.SessionID}
		return taggedMarshal(m.Kind, inner)
	case "SessionTerminateAll":
		return json.Marshal(m.Kind)
	case "Data":
		inner := map[string]any{"plugin": m.Plugin, "session_id": m.SessionID, "body": m.Body}
		return taggedMarshal(m.Kind, inner)
	default:
		return nil, fmt.Errorf("wire: unknown ManagerToAgent kind %q", m.Kind)
	}
}

func (m *ManagerToAgent) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		m.Kind = asString
		return nil
	}

	tag, raw, err := taggedUnmarshal(data)
	if err != nil {
		return err
	}
	m.Kind = tag

	var fields struct {
		Plugin    string          `json:"plugin"`
		SessionID string          `json:"session_id"`
		Body      json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	m.Plugin = fields.Plugin
	m.SessionID = fields.SessionID
	m.Body = fields.Body
	return nil
}

// AgentToManager is the agent's half of the per-host session protocol.
type AgentToManager struct {
	Kind      string // SessionCreate | SessionTerminate | Data
	Plugin    string
	SessionID string
	Fqdn      string
	Body      json.RawMessage // only set for Data
}

func (a AgentToManager) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case "SessionCreate", "SessionTerminate":
		inner := map[string]any{"plugin": a.Plugin, "session_id": a.SessionID, "fqdn": a.Fqdn}
		return taggedMarshal(a.Kind, inner)
	case "Data":
		inner := map[string]any{"plugin": a.Plugin, "session_id": a.SessionID, "fqdn": a.Fqdn, "body": a.Body}
		return taggedMarshal(a.Kind, inner)
	default:
		return nil, fmt.Errorf("wire: unknown AgentToManager kind %q", a.Kind)
	}
}

func (a *AgentToManager) UnmarshalJSON(data []byte) error {
	tag, raw, err := taggedUnmarshal(data)
	if err != nil {
		return err
	}
	a.Kind = tag

	var fields struct {
		Plugin    string          `json:"plugin"`
		SessionID string          `json:"session_id"`
		Fqdn      string          `json:"fqdn"`
		Body      json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	a.Plugin = fields.Plugin
	a.SessionID = fields.SessionID
	a.Fqdn = fields.Fqdn
	a.Body = fields.Body
	return nil
}

// Action is the body carried by a Data frame initiating or cancelling
// an action.
type Action struct {
	Kind   string // ActionStart | ActionCancel
	ID     string
	Action string
	Args   json.RawMessage
}

func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case "ActionStart":
		inner := map[string]any{"id": a.ID, "action": a.Action, "args": a.Args}
		return taggedMarshal(a.Kind, inner)
	case "ActionCancel":
		inner := map[string]any{"id": a.ID}
		return taggedMarshal(a.Kind, inner)
	default:
		return nil, fmt.Errorf("wire: unknown Action kind %q", a.Kind)
	}
}

func (a *Action) UnmarshalJSON(data []byte) error {
	tag, raw, err := taggedUnmarshal(data)
	if err != nil {
		return err
	}
	a.Kind = tag

	var fields struct {
		ID     string          `json:"id"`
		Action string          `json:"action"`
		Args   json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	a.ID = fields.ID
	a.Action = fields.Action
	a.Args = fields.Args
	return nil
}

// ActionResult is the reply to a dispatched Action: either Ok(json) or
// Err(string), carried as {"id": ..., "result": {"Ok": ...}} or
// {"id": ..., "result": {"Err": "..."}}.
type ActionResult struct {
	ID     string
	OK     bool
	Value  json.RawMessage // set when OK
	ErrMsg string          // set when !OK
}

func (r ActionResult) MarshalJSON() ([]byte, error) {
	var result json.RawMessage
	var err error
	if r.OK {
		result, err = taggedMarshal("Ok", r.Value)
	} else {
		result, err = taggedMarshal("Err", r.ErrMsg)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"id":     mustMarshal(r.ID),
		"result": result,
	})
}

func (r *ActionResult) UnmarshalJSON(data []byte) error {
	var obj struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID

	tag, raw, err := taggedUnmarshal(obj.Result)
	if err != nil {
		return err
	}
	switch tag {
	case "Ok":
		r.OK = true
		r.Value = raw
	case "Err":
		r.OK = false
		return json.Unmarshal(raw, &r.ErrMsg)
	default:
		return fmt.Errorf("wire: unknown ActionResult tag %q", tag)
	}
	return nil
}

// taggedMarshal encodes {"<tag>": <value>} matching serde's externally
// tagged enum representation.
func taggedMarshal(tag string, value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{tag: v})
}

// taggedUnmarshal decodes a single-key {"<tag>": <value>} object.
func taggedUnmarshal(data []byte) (tag string, value json.RawMessage, err error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("wire: expected single-key tagged object, got %d keys", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, fmt.Errorf("wire: empty tagged object")
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// MountFrame is the wire shape of a Mount as reported by the scanner
// socket's GetMounts/Stream output: {source, target, fs_type, opts}.
type MountFrame struct {
	Source types.DevicePath `json:"source"`
	Target string           `json:"target"`
	FsType string           `json:"fs_type"`
	Opts   string           `json:"opts"`
}

// ToMount converts a wire MountFrame to the domain Mount type.
func (m MountFrame) ToMount() types.Mount {
	return types.Mount{Source: m.Source, Target: m.Target, FsType: m.FsType, Opts: m.Opts}
}

// MountCommand is the manager-to-scanner externally tagged union
// mirroring the original's mount::MountCommand tuple-variant enum.
// Each variant serializes as {"<Variant>": [fields...]}, reproducing the
// Rust serde default representation so scenario S2's literal bytes
// round-trip unchanged.
type MountCommand struct {
	Variant string
	Target  string           // MountPoint
	Source  types.DevicePath // DevicePath
	FsType  string
	Opts    string
	NewOpts string // ReplaceMount's second MountOpts
	NewTarget string // MoveMount's new MountPoint
}

const (
	MountCommandAddMount     = "AddMount"
	MountCommandRemoveMount  = "RemoveMount"
	MountCommandReplaceMount = "ReplaceMount"
	MountCommandMoveMount    = "MoveMount"
)

// MarshalJSON encodes the command as a single-key object whose value is
// a positional JSON array of the variant's tuple fields, exactly as the
// Rust source's default (externally tagged) serde tuple-variant enum
// encoding produces.
func (c MountCommand) MarshalJSON() ([]byte, error) {
	var fields []any
	switch c.Variant {
	case MountCommandAddMount, MountCommandRemoveMount:
		fields = []any{c.Target, c.Source, c.FsType, c.Opts}
	case MountCommandReplaceMount:
		fields = []any{c.Target, c.Source, c.FsType, c.Opts, c.NewOpts}
	case MountCommandMoveMount:
		fields = []any{c.Target, c.Source, c.FsType, c.Opts, c.NewTarget}
	default:
		return nil, fmt.Errorf("wire: unknown MountCommand variant %q", c.Variant)
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{c.Variant: payload})
}

// UnmarshalJSON decodes the externally tagged single-key object back
// into a MountCommand.
func (c *MountCommand) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if len(obj) != 1 {
		return fmt.Errorf("wire: MountCommand must have exactly one key, got %d", len(obj))
	}

	for variant, raw := range obj {
		var fields []json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("wire: MountCommand %s: %w", variant, err)
		}

		get := func(i int, out any) error {
			if i >= len(fields) {
				return fmt.Errorf("wire: MountCommand %s: missing field %d", variant, i)
			}
			return json.Unmarshal(fields[i], out)
		}

		c.Variant = variant
		if err := get(0, &c.Target); err != nil {
			return err
		}
		if err := get(1, &c.Source); err != nil {
			return err
		}
		if err := get(2, &c.FsType); err != nil {
			return err
		}
		if err := get(3, &c.Opts); err != nil {
			return err
		}

		switch variant {
		case MountCommandReplaceMount:
			if err := get(4, &c.NewOpts); err != nil {
				return err
			}
		case MountCommandMoveMount:
			if err := get(4, &c.NewTarget); err != nil {
				return err
			}
		case MountCommandAddMount, MountCommandRemoveMount:
			// four fields only
		default:
			return fmt.Errorf("wire: unknown MountCommand variant %q", variant)
		}
		return nil
	}
	return nil
}

// ScannerCommand is the manager-to-scanner command union: Stream and
// GetMounts are unit variants (serialize as a bare JSON string);
// MountCommand wraps a MountCommand as {"MountCommand": ...}.
type ScannerCommand struct {
	Kind         string // "Stream", "GetMounts", "MountCommand"
	MountCommand *MountCommand
}

func (c ScannerCommand) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case "Stream", "GetMounts":
		return json.Marshal(c.Kind)
	case "MountCommand":
		inner, err := json.Marshal(c.MountCommand)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{"MountCommand": inner})
	default:
		return nil, fmt.Errorf("wire: unknown ScannerCommand kind %q", c.Kind)
	}
}

func (c *ScannerCommand) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Kind = asString
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if raw, ok := obj["MountCommand"]; ok {
		var mc MountCommand
		if err := json.Unmarshal(raw, &mc); err != nil {
			return err
		}
		c.Kind = "MountCommand"
		c.MountCommand = &mc
		return nil
	}
	return fmt.Errorf("wire: unrecognized ScannerCommand payload: %s", data)
}

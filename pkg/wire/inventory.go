package wire

import "github.com/whamcloud/lustre-fleet/pkg/types"

// DeviceFrame is the wire shape of a Device in the inventory frame's
// devices map: {kind, size?, parents, children, paths}.
type DeviceFrame struct {
	Kind     types.DeviceKind   `json:"kind"`
	Size     *uint64            `json:"size,omitempty"`
	Parents  []types.DeviceID   `json:"parents"`
	Children []types.DeviceID   `json:"children"`
	Paths    []types.DevicePath `json:"paths"`
}

// InventoryFrame is the agent-to-manager device inventory frame that
// feeds Host Inventory Ingest (C1): a per-host snapshot of devices,
// mounts, and MGS-served filesystem names.
type InventoryFrame struct {
	Seq            uint64                          `json:"seq"`
	Devices        map[types.DeviceID]DeviceFrame `json:"devices"`
	Mounts         []MountFrame                   `json:"mounts"`
	MgsFilesystems []string                       `json:"mgs_fs"`
}

// ToDevices converts the wire devices map to domain Device records.
func (f InventoryFrame) ToDevices() map[types.DeviceID]types.Device {
	out := make(map[types.DeviceID]types.Device, len(f.Devices))
	for id, d := range f.Devices {
		size := uint64(0)
		if d.Size != nil {
			size = *d.Size
		}
		out[id] = types.Device{
			ID:       id,
			Kind:     d.Kind,
			Size:     size,
			Parents:  d.Parents,
			Children: d.Children,
			Paths:    d.Paths,
		}
	}
	return out
}

// ToMounts converts the wire mounts list to domain Mount records.
func (f InventoryFrame) ToMounts() []types.Mount {
	out := make([]types.Mount, 0, len(f.Mounts))
	for _, m := range f.Mounts {
		out = append(out, m.ToMount())
	}
	return out
}

// OstPoolFrame is the wire shape of a reported OstPool: a name and its
// member OST target names.
type OstPoolFrame struct {
	Name string   `json:"name"`
	Osts []string `json:"osts"`
}

// OstPoolReportFrame is the MGS agent's "ostpool" plugin Data body,
// feeding the OST Pool Reconciler (C6) with the filesystem's current
// pool membership as `lctl pool_list` would report it.
type OstPoolReportFrame struct {
	Filesystem string         `json:"filesystem"`
	Pools      []OstPoolFrame `json:"pools"`
}

// ToOstPools converts the wire pool list to domain OstPool records.
func (f OstPoolReportFrame) ToOstPools() []types.OstPool {
	out := make([]types.OstPool, 0, len(f.Pools))
	for _, p := range f.Pools {
		out = append(out, types.OstPool{Filesystem: f.Filesystem, Name: p.Name, Osts: p.Osts})
	}
	return out
}

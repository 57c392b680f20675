package journal

import "strings"

// Class is the best-effort category a journal message is tagged with,
// named in §6's persisted layout. get_message_class in the original's
// emf-journal crate wasn't part of the retrieved sources, so the
// pattern table here is reconstructed from the Lustre kernel log
// conventions its callers (device-scanner, emf-agent) match elsewhere
// in the pack.
type Class string

const (
	ClassNormal      Class = "normal"
	ClassLustreError Class = "lustre_error"
	ClassCorosync    Class = "corosync"
	ClassKdump       Class = "kdump"
)

var patterns = []struct {
	substr string
	class  Class
}{
	{"LustreError", ClassLustreError},
	{"Lustre: *** cfs_fail", ClassLustreError},
	{"corosync", ClassCorosync},
	{"pacemaker", ClassCorosync},
	{"kdump", ClassKdump},
	{"kexec", ClassKdump},
}

// Classify returns a best-effort Class for a raw journal message by
// substring match against known Lustre/cluster-stack log patterns,
// falling back to ClassNormal.
func Classify(message string) Class {
	for _, p := range patterns {
		if strings.Contains(message, p.substr) {
			return p.class
		}
	}
	return ClassNormal
}

package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMountCommandRoundTrip reproduces scenario S2 literally: the given
// JSON deserializes to AddMount with the expected fields and
// re-serializes byte-identically.
func TestMountCommandRoundTrip(t *testing.T) {
	const wireJSON = `{"MountCommand":{"AddMount":["swap","/dev/mapper/VolGroup00-LogVol01","swap","defaults"]}}`

	var cmd ScannerCommand
	require.NoError(t, json.Unmarshal([]byte(wireJSON), &cmd))

	require.Equal(t, "MountCommand", cmd.Kind)
	require.NotNil(t, cmd.MountCommand)
	assert.Equal(t, MountCommandAddMount, cmd.MountCommand.Variant)
	assert.Equal(t, "swap", cmd.MountCommand.Target)
	assert.EqualValues(t, "/dev/mapper/VolGroup00-LogVol01", cmd.MountCommand.Source)
	assert.Equal(t, "swap", cmd.MountCommand.FsType)
	assert.Equal(t, "defaults", cmd.MountCommand.Opts)

	out, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, wireJSON, string(out))
	assert.Equal(t, wireJSON, string(out))
}

func TestScannerCommandUnitVariants(t *testing.T) {
	for _, kind := range []string{"Stream", "GetMounts"} {
		cmd := ScannerCommand{Kind: kind}
		out, err := json.Marshal(cmd)
		require.NoError(t, err)
		assert.Equal(t, `"`+kind+`"`, string(out))

		var decoded ScannerCommand
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.Equal(t, kind, decoded.Kind)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-osdp/osdp"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pds.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPDInfosBasic(t *testing.T) {
	path := writeTemp(t, `
[door-1]
address = 0x65
channel = 1
baud = 9600
scbk = 000102030405060708090a0b0c0d0e0f
flags = enforce_secure, install_mode

[door-2]
address = 5
channel = 1
`)

	infos, err := LoadPDInfos(path)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	door1 := infos[0]
	assert.Equal(t, "door-1", door1.Name)
	assert.Equal(t, osdp.Address(0x65), door1.Address)
	assert.Equal(t, int32(1), door1.ChannelID)
	assert.Equal(t, 9600, door1.BaudRate)
	assert.True(t, door1.Flags.Has(osdp.FlagEnforceSecure))
	assert.True(t, door1.Flags.Has(osdp.FlagInstallMode))
	assert.False(t, door1.Flags.Has(osdp.FlagIgnoreUnsolicited))
	assert.Equal(t, byte(0x0f), door1.SCBK[15])

	door2 := infos[1]
	assert.Equal(t, osdp.Address(5), door2.Address)
	assert.Equal(t, 9600, door2.BaudRate) // default applied
	assert.Equal(t, [16]byte{}, door2.SCBK)
}

func TestLoadPDInfosRejectsBadSCBK(t *testing.T) {
	path := writeTemp(t, `
[door-1]
address = 1
channel = 1
scbk = not-hex
`)
	_, err := LoadPDInfos(path)
	assert.Error(t, err)
}

func TestLoadPDInfosRejectsUnknownFlag(t *testing.T) {
	path := writeTemp(t, `
[door-1]
address = 1
channel = 1
flags = not_a_real_flag
`)
	_, err := LoadPDInfos(path)
	assert.Error(t, err)
}

func TestLoadPDInfosRejectsBroadcastAddress(t *testing.T) {
	path := writeTemp(t, `
[door-1]
address = 0x7F
channel = 1
`)
	_, err := LoadPDInfos(path)
	assert.Error(t, err)
}

package packet

import (
	"testing"

	"github.com/stretchr/testify/require"

	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
)

func TestParseHex(t *testing.T) {
	payload, err := ParseHex([]string{"5a", "4142"})
	require.NoError(t, err)
	require.Equal(t, []byte{0x5a, 0x41, 0x42}, payload)

	_, err = ParseHex([]string{"5"})
	require.Error(t, err)
	_, err = ParseHex([]string{"zz"})
	require.Error(t, err)
}

func TestFormatPacket(t *testing.T) {
	pkt, err := l0.NewPacket([]byte{'h', 'i', 0x00})
	require.NoError(t, err)
	require.Equal(t, "68 69 00  |hi.|", FormatPacket(pkt))
}

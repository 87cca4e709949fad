package cookie

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddrown/chrony-nts/internal/keyring"
)

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestSealOpenRoundTrip(t *testing.T) {
	ring, err := keyring.New(nil)
	require.NoError(t, err)

	c2s := fill(KeySize, 0x11)
	s2c := fill(KeySize, 0x22)

	sealed, err := Seal(ring, c2s, s2c, SourceKEExchange)
	require.NoError(t, err)
	require.Len(t, sealed, Size)

	gotC2S, gotS2C, err := Open(ring, sealed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(c2s, gotC2S))
	require.True(t, bytes.Equal(s2c, gotS2C))
}

func TestOpenFailsAfterFourRotations(t *testing.T) {
	ring, err := keyring.New(nil)
	require.NoError(t, err)

	sealed, err := Seal(ring, fill(KeySize, 0x11), fill(KeySize, 0x22), SourceNTPResponse)
	require.NoError(t, err)

	for i := 0; i < keyring.RingSize; i++ {
		require.NoError(t, ring.RotateNow())
	}

	_, _, err = Open(ring, sealed)
	require.Error(t, err)
}

func TestOpenRejectsWrongLength(t *testing.T) {
	ring, err := keyring.New(nil)
	require.NoError(t, err)

	_, _, err = Open(ring, make([]byte, 10))
	require.Error(t, err)
}

func TestSealRejectsWrongKeySizes(t *testing.T) {
	ring, err := keyring.New(nil)
	require.NoError(t, err)

	_, err = Seal(ring, fill(10, 0), fill(KeySize, 0), SourceKEExchange)
	require.Error(t, err)
}

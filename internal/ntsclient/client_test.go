package ntsclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddrown/chrony-nts/internal/aead"
	"github.com/ddrown/chrony-nts/internal/ntpext"
)

// serverHeader returns a fixed-length fake NTP header with the server
// mode bits set, since CheckResponseAuth requires mode=server.
func serverHeader() []byte {
	h := append([]byte(nil), "fixed-ntp-header"...)
	h[0] = (h[0] &^ 0x07) | ntpext.ModeServer
	return h
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := New("unused:4460", nil, nil)
	c.c2s = make([]byte, aead.KeySize)
	c.s2c = make([]byte, aead.KeySize)
	for i := range c.c2s {
		c.c2s[i] = byte(i)
		c.s2c[i] = byte(255 - i)
	}
	for i := 0; i < MaxCookies; i++ {
		c.absorbCookie([]byte{byte(i), byte(i), byte(i), byte(i)})
	}
	require.NoError(t, c.PrepareForAuth())
	return c
}

func TestGenerateRequestAuthConsumesOneCookie(t *testing.T) {
	c := newTestClient(t)
	require.Equal(t, MaxCookies, c.NumCookies())

	req, err := c.GenerateRequestAuth([]byte("fixed-ntp-header"))
	require.NoError(t, err)
	require.Greater(t, len(req), len("fixed-ntp-header"))
	require.Equal(t, MaxCookies-1, c.NumCookies())
}

func TestGenerateRequestAuthFailsWithNoCookies(t *testing.T) {
	c := New("unused:4460", nil, nil)
	_, err := c.GenerateRequestAuth([]byte("hdr"))
	require.Error(t, err)
}

func TestCheckResponseAuthRoundTrip(t *testing.T) {
	c := newTestClient(t)
	header := serverHeader()

	siv, err := aead.New(c.s2c)
	require.NoError(t, err)

	uid := ntpext.Field{Type: ntpext.TypeUniqueIdentifier, Value: c.uniqueID[:]}
	resp := append([]byte(nil), header...)
	resp = append(resp, uid.Marshal()...)

	tag := siv.Seal(nil, resp)
	authBody := ntpext.AuthAndEEF{Nonce: make([]byte, 16), Ciphertext: tag}.Marshal()
	authField := ntpext.Field{Type: ntpext.TypeAuthAndEEF, Value: authBody}
	resp = append(resp, authField.Marshal()...)

	require.NoError(t, c.CheckResponseAuth(resp, len(header)))
}

func TestCheckResponseAuthRejectsWrongUniqueID(t *testing.T) {
	c := newTestClient(t)
	header := serverHeader()

	siv, err := aead.New(c.s2c)
	require.NoError(t, err)

	wrongUID := make([]byte, ntpext.UniqueIDLen)
	wrongUID[0] = 0xFF
	uid := ntpext.Field{Type: ntpext.TypeUniqueIdentifier, Value: wrongUID}
	resp := append([]byte(nil), header...)
	resp = append(resp, uid.Marshal()...)

	tag := siv.Seal(nil, resp)
	authBody := ntpext.AuthAndEEF{Nonce: make([]byte, 16), Ciphertext: tag}.Marshal()
	authField := ntpext.Field{Type: ntpext.TypeAuthAndEEF, Value: authBody}
	resp = append(resp, authField.Marshal()...)

	require.Error(t, c.CheckResponseAuth(resp, len(header)))
}

func TestCheckResponseAuthRejectsWrongMode(t *testing.T) {
	c := newTestClient(t)
	header := append([]byte(nil), "fixed-ntp-header"...)
	header[0] = (header[0] &^ 0x07) | ntpext.ModeClient

	siv, err := aead.New(c.s2c)
	require.NoError(t, err)

	uid := ntpext.Field{Type: ntpext.TypeUniqueIdentifier, Value: c.uniqueID[:]}
	resp := append([]byte(nil), header...)
	resp = append(resp, uid.Marshal()...)

	tag := siv.Seal(nil, resp)
	authBody := ntpext.AuthAndEEF{Nonce: make([]byte, 16), Ciphertext: tag}.Marshal()
	authField := ntpext.Field{Type: ntpext.TypeAuthAndEEF, Value: authBody}
	resp = append(resp, authField.Marshal()...)

	require.Error(t, c.CheckResponseAuth(resp, len(header)))
}

func TestAbsorbCookieRefillsUpToMax(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GenerateRequestAuth([]byte("hdr"))
	require.NoError(t, err)
	require.Equal(t, MaxCookies-1, c.NumCookies())

	c.absorbCookie([]byte{0xAA})
	require.Equal(t, MaxCookies, c.NumCookies())

	c.absorbCookie([]byte{0xBB})
	require.Equal(t, MaxCookies, c.NumCookies(), "ring must not exceed MaxCookies")
}

// Package ntsclient implements the NTS-NTP client side (spec.md §4.I):
// maintaining a cookie pool and exporter-derived AEAD keys, and producing
// and validating the extension fields an authenticated NTP exchange
// carries. It treats NTP packet transport and framing of the fixed NTP
// header as an external concern -- callers pass in the header bytes they
// already built and receive back the header plus appended extensions.
package ntsclient

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"

	"github.com/ddrown/chrony-nts/internal/aead"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
	"github.com/ddrown/chrony-nts/internal/ntpext"
	"github.com/ddrown/chrony-nts/internal/ntske"
)

// MaxCookies is the size of the client's cookie ring, per spec.md §3.
const MaxCookies = 8

// NonceSize is the AEAD-and-EEF nonce length this client generates.
const NonceSize = 16

// Client is one NTS Client Instance (spec.md §3): the cookie ring and
// AEAD contexts bound to a single NTS-KE negotiated session.
type Client struct {
	ServerAddr string
	ServerName string
	ServerPort uint16

	TLSConfig *tls.Config
	EventLoop ntske.EventLoop
	Log       logger.Logger

	cookies      [MaxCookies][]byte
	numCookies   int
	cookieCursor int

	c2s, s2c []byte
	nonce    [NonceSize]byte
	uniqueID [ntpext.UniqueIDLen]byte
}

// New constructs a Client that will negotiate with the NTS-KE server at
// addr (host:port) when it first needs cookies.
func New(addr string, tlsConfig *tls.Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Client{
		ServerAddr: addr,
		TLSConfig:  tlsConfig,
		EventLoop:  ntske.NewRealEventLoop(),
		Log:        log,
	}
}

// NumCookies reports how many cookies remain in the ring.
func (c *Client) NumCookies() int { return c.numCookies }

// PrepareForAuth ensures the client holds at least one cookie and fresh
// per-request AEAD state, running an NTS-KE round if the ring is empty,
// per spec.md §4.I.
func (c *Client) PrepareForAuth() error {
	if c.numCookies == 0 {
		if err := c.refill(); err != nil {
			return err
		}
	}

	if _, err := rand.Read(c.nonce[:]); err != nil {
		return fmt.Errorf("ntsclient: drawing nonce: %w", err)
	}
	if _, err := rand.Read(c.uniqueID[:]); err != nil {
		return fmt.Errorf("ntsclient: drawing unique id: %w", err)
	}

	if c.numCookies < 1 {
		return fmt.Errorf("ntsclient: no cookies available after NTS-KE round")
	}
	return nil
}

func (c *Client) refill() error {
	resp, c2s, s2c, err := ntske.DialClient(c.ServerAddr, c.TLSConfig, c.EventLoop, c.Log)
	if err != nil {
		return fmt.Errorf("ntsclient: NTS-KE exchange: %w", err)
	}
	if resp.ServerName != "" {
		c.ServerName = resp.ServerName
	}
	if resp.ServerPort != 0 {
		c.ServerPort = resp.ServerPort
	}

	c.c2s, c.s2c = c2s, s2c
	c.numCookies = 0
	c.cookieCursor = 0
	for _, ck := range resp.Cookies {
		c.absorbCookie(ck)
	}
	return nil
}

// GenerateRequestAuth appends the Unique-Identifier, one Cookie,
// Cookie-Placeholder fields up to MaxCookies, and an AEAD-and-EEF
// authenticator to packet, per spec.md §4.I. packet is the NTP header
// (and any extension fields already built) the AEAD associated data
// covers exactly.
func (c *Client) GenerateRequestAuth(packet []byte) ([]byte, error) {
	if c.numCookies < 1 {
		return nil, fmt.Errorf("ntsclient: no cookies available")
	}

	siv, err := aead.New(c.c2s)
	if err != nil {
		return nil, fmt.Errorf("ntsclient: building C2S AEAD: %w", err)
	}

	out := append([]byte(nil), packet...)

	uid := ntpext.Field{Type: ntpext.TypeUniqueIdentifier, Value: c.uniqueID[:]}
	out = append(out, uid.Marshal()...)

	currentCookie := c.cookies[c.cookieCursor]
	cookieField := ntpext.Field{Type: ntpext.TypeCookie, Value: currentCookie}
	out = append(out, cookieField.Marshal()...)

	placeholders := MaxCookies - c.numCookies
	for i := 0; i < placeholders; i++ {
		ph := ntpext.Field{Type: ntpext.TypeCookiePlaceholder, Value: make([]byte, len(currentCookie))}
		out = append(out, ph.Marshal()...)
	}

	tag := siv.Seal(nil, out)
	authBody := ntpext.AuthAndEEF{Nonce: c.nonce[:], Ciphertext: tag}.Marshal()
	authField := ntpext.Field{Type: ntpext.TypeAuthAndEEF, Value: authBody}
	out = append(out, authField.Marshal()...)

	c.cookies[c.cookieCursor] = nil
	c.cookieCursor = (c.cookieCursor + 1) % MaxCookies
	c.numCookies--

	metrics.NTPRequestsAuthenticated.WithLabelValues("generated").Inc()
	return out, nil
}

// CheckResponseAuth validates a server's response, per spec.md §4.I:
// the Unique-Identifier must match the one this client sent, and the
// AEAD-and-EEF tag must verify with S2C over the response bytes
// preceding it. Any absorbed Cookie extensions refill the ring up to
// MaxCookies.
func (c *Client) CheckResponseAuth(packet []byte, headerLen int) error {
	if headerLen < 0 || headerLen > len(packet) {
		return fmt.Errorf("ntsclient: invalid header length")
	}
	if ntpext.HeaderMode(packet) != ntpext.ModeServer {
		metrics.NTPResponsesAuthenticated.WithLabelValues("wrong_mode").Inc()
		return fmt.Errorf("ntsclient: expected server mode, got %d", ntpext.HeaderMode(packet))
	}

	fields, err := parseExtensions(packet[headerLen:])
	if err != nil {
		metrics.NTPResponsesAuthenticated.WithLabelValues("malformed").Inc()
		return fmt.Errorf("ntsclient: parsing response extensions: %w", err)
	}
	if len(fields) == 0 {
		metrics.NTPResponsesAuthenticated.WithLabelValues("no_extensions").Inc()
		return fmt.Errorf("ntsclient: response carries no extension fields")
	}

	var sawUniqueID, sawAuth bool
	adEnd := headerLen
	var authField ntpext.Field

	for _, f := range fields {
		switch f.Type {
		case ntpext.TypeUniqueIdentifier:
			if len(f.Value) != ntpext.UniqueIDLen || string(f.Value) != string(c.uniqueID[:]) {
				metrics.NTPResponsesAuthenticated.WithLabelValues("unique_id_mismatch").Inc()
				return fmt.Errorf("ntsclient: unique-identifier mismatch")
			}
			sawUniqueID = true
			adEnd += len(f.Marshal())
		case ntpext.TypeAuthAndEEF:
			sawAuth = true
			authField = f
		case ntpext.TypeCookie:
			if c.numCookies < MaxCookies {
				c.absorbCookie(f.Value)
			}
			adEnd += len(f.Marshal())
		default:
			adEnd += len(f.Marshal())
		}
	}

	if !sawUniqueID || !sawAuth {
		metrics.NTPResponsesAuthenticated.WithLabelValues("missing_field").Inc()
		return fmt.Errorf("ntsclient: response missing unique-identifier or auth-and-eef")
	}

	auth, err := ntpext.ParseAuthAndEEF(authField.Value)
	if err != nil {
		metrics.NTPResponsesAuthenticated.WithLabelValues("malformed").Inc()
		return fmt.Errorf("ntsclient: parsing auth-and-eef: %w", err)
	}

	siv, err := aead.New(c.s2c)
	if err != nil {
		return fmt.Errorf("ntsclient: building S2C AEAD: %w", err)
	}

	ad := packet[:adEnd]
	// The wire ciphertext for a zero-plaintext authenticator IS the SIV
	// tag itself (Ciphertext length 16, no trailing bytes), so Open's
	// input is the tag with an empty residual plaintext.
	if _, err := siv.Open(auth.Ciphertext, ad); err != nil {
		metrics.NTPResponsesAuthenticated.WithLabelValues("aead_failed").Inc()
		return logger.NewNTSError(logger.ErrCodeAEADVerifyFailed, "response auth-and-eef did not verify", err)
	}

	metrics.NTPResponsesAuthenticated.WithLabelValues("success").Inc()
	return nil
}

// absorbCookie stores cookie into the next free ring slot, following the
// current cookie (i.e. after whatever is already queued for consumption).
// It is a no-op once the ring is full.
func (c *Client) absorbCookie(cookie []byte) {
	if c.numCookies >= MaxCookies {
		return
	}
	slot := (c.cookieCursor + c.numCookies) % MaxCookies
	c.cookies[slot] = append([]byte(nil), cookie...)
	c.numCookies++
}

func parseExtensions(body []byte) ([]ntpext.Field, error) {
	var fields []ntpext.Field
	for len(body) > 0 {
		f, n, err := ntpext.ParseField(body)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		body = body[n:]
	}
	return fields, nil
}

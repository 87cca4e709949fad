// Package ntsserver implements the NTS-NTP server side (spec.md §4.J):
// validating an authenticated request's cookie and AEAD tag, and
// attaching the echoed unique identifier plus replacement cookies to the
// response. As with internal/ntsclient, NTP packet transport and the
// fixed NTP header are external concerns; callers pass in packet bytes
// and a header length.
package ntsserver

import (
	"crypto/rand"
	"fmt"

	"github.com/ddrown/chrony-nts/internal/aead"
	"github.com/ddrown/chrony-nts/internal/cookie"
	"github.com/ddrown/chrony-nts/internal/keyring"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
	"github.com/ddrown/chrony-nts/internal/ntpext"
)

// NonceSize is the AEAD-and-EEF nonce length this server generates for
// responses.
const NonceSize = 16

// Server validates authenticated NTS-NTP requests and builds authenticated
// responses against the process-wide server key ring.
type Server struct {
	Ring *keyring.Ring
	Log  logger.Logger
}

// New constructs a Server bound to ring.
func New(ring *keyring.Ring, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{Ring: ring, Log: log}
}

// RequestAuth is what CheckRequestAuth recovers from a validated request:
// the C2S/S2C keys the matching cookie sealed, and the extensions seen,
// which GenerateResponseAuth needs to build the matching response.
type RequestAuth struct {
	UniqueID     []byte
	C2S, S2C     []byte
	CookieCount  int // cookies + placeholders observed, for response sizing
}

// CheckRequestAuth validates packet per spec.md §4.J: exactly one
// NTS-Cookie is allowed, the AEAD-and-EEF tag must verify with the C2S
// key the cookie recovers, over the packet bytes preceding that
// extension.
func (s *Server) CheckRequestAuth(packet []byte, headerLen int) (*RequestAuth, error) {
	if headerLen < 0 || headerLen > len(packet) {
		return nil, fmt.Errorf("ntsserver: invalid header length")
	}
	if ntpext.HeaderMode(packet) != ntpext.ModeClient {
		metrics.NTPRequestsAuthenticated.WithLabelValues("wrong_mode").Inc()
		return nil, fmt.Errorf("ntsserver: expected client mode, got %d", ntpext.HeaderMode(packet))
	}

	fields, err := parseExtensions(packet[headerLen:])
	if err != nil {
		metrics.NTPRequestsAuthenticated.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("ntsserver: parsing request extensions: %w", err)
	}

	var (
		uniqueID   []byte
		cookieBody []byte
		cookieSeen int
		placehold  int
		authField  ntpext.Field
		sawAuth    bool
		adEnd      = headerLen
	)

	for _, f := range fields {
		switch f.Type {
		case ntpext.TypeUniqueIdentifier:
			uniqueID = append([]byte(nil), f.Value...)
			adEnd += len(f.Marshal())
		case ntpext.TypeCookie:
			cookieSeen++
			cookieBody = f.Value
			adEnd += len(f.Marshal())
		case ntpext.TypeCookiePlaceholder:
			placehold++
			adEnd += len(f.Marshal())
		case ntpext.TypeAuthAndEEF:
			sawAuth = true
			authField = f
			// AD stops here: everything up to but not including this
			// extension, per spec.md §4.J.
		default:
			adEnd += len(f.Marshal())
		}
		if sawAuth {
			break
		}
	}

	if cookieSeen != 1 {
		metrics.NTPRequestsAuthenticated.WithLabelValues("bad_cookie_count").Inc()
		return nil, fmt.Errorf("ntsserver: expected exactly one NTS-Cookie, got %d", cookieSeen)
	}
	if !sawAuth {
		metrics.NTPRequestsAuthenticated.WithLabelValues("missing_auth").Inc()
		return nil, fmt.Errorf("ntsserver: request missing auth-and-eef")
	}

	c2s, s2c, err := cookie.Open(s.Ring, cookieBody)
	if err != nil {
		metrics.NTPRequestsAuthenticated.WithLabelValues("cookie_open_failed").Inc()
		return nil, fmt.Errorf("ntsserver: opening cookie: %w", err)
	}

	auth, err := ntpext.ParseAuthAndEEF(authField.Value)
	if err != nil {
		metrics.NTPRequestsAuthenticated.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("ntsserver: parsing auth-and-eef: %w", err)
	}

	siv, err := aead.New(c2s)
	if err != nil {
		return nil, fmt.Errorf("ntsserver: building C2S AEAD: %w", err)
	}

	ad := packet[:adEnd]
	if _, err := siv.Open(auth.Ciphertext, ad); err != nil {
		metrics.NTPRequestsAuthenticated.WithLabelValues("aead_failed").Inc()
		return nil, logger.NewNTSError(logger.ErrCodeAEADVerifyFailed, "request auth-and-eef did not verify", err)
	}

	metrics.NTPRequestsAuthenticated.WithLabelValues("success").Inc()
	return &RequestAuth{
		UniqueID:    uniqueID,
		C2S:         c2s,
		S2C:         s2c,
		CookieCount: cookieSeen + placehold,
	}, nil
}

// GenerateResponseAuth appends the response's extension fields to
// response, per spec.md §4.J: echo the request's Unique-Identifier
// verbatim, attach one fresh NTS-Cookie per cookie/placeholder observed
// in the request, then an AEAD-and-EEF extension with a fresh nonce and
// empty plaintext. Unique-Identifier echo and cookie attachment are
// deliberately separate steps (spec.md §9 open question 2).
func (s *Server) GenerateResponseAuth(req *RequestAuth, response []byte) ([]byte, error) {
	out := append([]byte(nil), response...)

	uid := ntpext.Field{Type: ntpext.TypeUniqueIdentifier, Value: req.UniqueID}
	out = append(out, uid.Marshal()...)

	for i := 0; i < req.CookieCount; i++ {
		sealed, err := cookie.Seal(s.Ring, req.C2S, req.S2C, cookie.SourceNTPResponse)
		if err != nil {
			return nil, fmt.Errorf("ntsserver: sealing response cookie %d: %w", i, err)
		}
		cookieField := ntpext.Field{Type: ntpext.TypeCookie, Value: sealed}
		out = append(out, cookieField.Marshal()...)
	}

	siv, err := aead.New(req.S2C)
	if err != nil {
		return nil, fmt.Errorf("ntsserver: building S2C AEAD: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ntsserver: drawing nonce: %w", err)
	}

	tag := siv.Seal(nil, out)
	authBody := ntpext.AuthAndEEF{Nonce: nonce, Ciphertext: tag}.Marshal()
	authField := ntpext.Field{Type: ntpext.TypeAuthAndEEF, Value: authBody}
	out = append(out, authField.Marshal()...)

	return out, nil
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

package ntske

import (
	"crypto/tls"
	"fmt"

	"github.com/ddrown/chrony-nts/internal/cookie"
	"github.com/ddrown/chrony-nts/internal/keyring"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/wire"
)

// NextProtocolNTPv4 is the IANA-assigned Next-Protocol value for NTPv4.
const NextProtocolNTPv4 uint16 = 0

// AEADAESSIVCMAC256 is the IANA-assigned AEAD algorithm id for
// AES-SIV-CMAC-256 (RFC 5297).
const AEADAESSIVCMAC256 uint16 = 15

const exporterLabel = "EXPORTER-network-time-security/1"

var c2sContext = []byte{0x00, 0x00, 0x00, 0x0f, 0x00}
var s2cContext = []byte{0x00, 0x00, 0x00, 0x0f, 0x01}

// CookiesPerResponse is how many cookies the server attaches to a
// successful response.
const CookiesPerResponse = 8

// MaxClientCookies is the largest number of cookies a client keeps.
const MaxClientCookies = 8

// maxRequestBodyLen bounds individual record bodies accepted from a client
// during request processing, per spec.md §4.H ("max body 256").
// ProcessResponse does not apply it; it limits only Cookie bodies, to
// cookie.Size.
const maxRequestBodyLen = 256

// Error codes sent in NTS-KE Error records (RFC 8915 section 4.1.2).
const (
	ErrorUnrecognizedCriticalRecord uint16 = 0
	ErrorBadRequest                 uint16 = 1
)

// ExporterKeys derives the C2S and S2C AEAD keys from the TLS connection
// state using RFC 5705 key export, per spec.md §4.H.
func ExporterKeys(conn *tls.Conn) (c2s, s2c []byte, err error) {
	c2s, err = conn.ConnectionState().ExportKeyingMaterial(exporterLabel, c2sContext, cookie.KeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("ntske: exporting C2S key: %w", err)
	}
	s2c, err = conn.ConnectionState().ExportKeyingMaterial(exporterLabel, s2cContext, cookie.KeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("ntske: exporting S2C key: %w", err)
	}
	return c2s, s2c, nil
}

// BuildClientRequest writes the standard client request into buf:
// critical Next-Protocol=NTPv4, critical AEAD-Algorithm=AES-SIV-CMAC-256,
// critical End-of-Message.
func BuildClientRequest(buf *wire.MessageBuffer) bool {
	ok := wire.AppendRecord(buf, true, wire.TypeNextProtocol, u16be(NextProtocolNTPv4))
	ok = ok && wire.AppendRecord(buf, true, wire.TypeAEADAlgorithm, u16be(AEADAESSIVCMAC256))
	ok = ok && wire.AppendRecord(buf, true, wire.TypeEndOfMessage, nil)
	return ok
}

func u16be(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// RequestResult is the outcome of processing a client's request.
type RequestResult struct {
	ErrorCode uint16
	HasError  bool
	NTPv4OK   bool
	AEADOK    bool
	// Err carries the spec §7 error Code/cause for logging and metrics.
	// Nil unless HasError is set.
	Err *logger.NTSError
}

// ProcessRequest validates the records in buf per spec.md §4.H, returning
// the negotiated outcome the response builder needs.
func ProcessRequest(buf *wire.MessageBuffer, log logger.Logger) RequestResult {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	buf.RewindParse()

	result := RequestResult{}
	sawNextProtocol := false

	reject := func(r RequestResult) RequestResult {
		log.Warn("rejecting NTS-KE request", logger.String("code", r.Err.Code), logger.String("reason", r.Err.Message))
		return r
	}

	for {
		rec, ok := wire.Iterate(buf)
		if !ok {
			break
		}
		if len(rec.Body) > maxRequestBodyLen {
			return reject(badRequest())
		}

		switch rec.Type {
		case wire.TypeNextProtocol:
			if !rec.Critical || len(rec.Body) < 2 || len(rec.Body)%2 != 0 {
				return reject(badRequest())
			}
			sawNextProtocol = true
			for i := 0; i+1 < len(rec.Body); i += 2 {
				v := uint16(rec.Body[i])<<8 | uint16(rec.Body[i+1])
				if v == NextProtocolNTPv4 {
					result.NTPv4OK = true
				}
			}
		case wire.TypeAEADAlgorithm:
			if len(rec.Body) < 2 || len(rec.Body)%2 != 0 {
				return reject(badRequest())
			}
			for i := 0; i+1 < len(rec.Body); i += 2 {
				v := uint16(rec.Body[i])<<8 | uint16(rec.Body[i+1])
				if v == AEADAESSIVCMAC256 {
					result.AEADOK = true
				}
			}
		case wire.TypeError, wire.TypeWarning, wire.TypeCookie:
			return reject(badRequest())
		case wire.TypeEndOfMessage:
			// accepted; handled by the framing layer already.
		default:
			if rec.Critical {
				return reject(RequestResult{
					HasError:  true,
					ErrorCode: ErrorUnrecognizedCriticalRecord,
					Err: logger.NewNTSError(logger.ErrCodeUnrecognizedCritical,
						fmt.Sprintf("unrecognized critical record type %#04x", rec.Type), nil),
				})
			}
		}

		if rec.IsEndOfMessage() {
			break
		}
	}

	if !sawNextProtocol {
		return reject(badRequest())
	}

	return result
}

func badRequest() RequestResult {
	return RequestResult{
		HasError:  true,
		ErrorCode: ErrorBadRequest,
		Err:       logger.NewNTSError(logger.ErrCodeBadRequest, "malformed or missing required record", nil),
	}
}

// BuildResponse writes the response message for a processed request. ring
// and exporter keys come from the connection's TLS session; advertisePort
// is the NTP port to include if the caller's config overrides the
// default (spec.md §6).
func BuildResponse(buf *wire.MessageBuffer, result RequestResult, ring *keyring.Ring, c2s, s2c []byte, advertisePort uint16, advertise bool) error {
	if result.HasError {
		if !wire.AppendRecord(buf, true, wire.TypeError, u16be(result.ErrorCode)) {
			return fmt.Errorf("ntske: response buffer overflow writing error record")
		}
		if !wire.AppendRecord(buf, true, wire.TypeEndOfMessage, nil) {
			return fmt.Errorf("ntske: response buffer overflow writing EoM")
		}
		return nil
	}

	if !wire.AppendRecord(buf, true, wire.TypeNextProtocol, u16be(NextProtocolNTPv4)) {
		return fmt.Errorf("ntske: response buffer overflow writing next-protocol")
	}
	if !wire.AppendRecord(buf, true, wire.TypeAEADAlgorithm, u16be(AEADAESSIVCMAC256)) {
		return fmt.Errorf("ntske: response buffer overflow writing aead")
	}
	if advertise {
		if !wire.AppendRecord(buf, true, wire.TypeNTPv4Port, u16be(advertisePort)) {
			return fmt.Errorf("ntske: response buffer overflow writing port")
		}
	}

	for i := 0; i < CookiesPerResponse; i++ {
		sealed, err := cookie.Seal(ring, c2s, s2c, cookie.SourceKEExchange)
		if err != nil {
			return fmt.Errorf("ntske: sealing cookie %d: %w", i, err)
		}
		if !wire.AppendRecord(buf, false, wire.TypeCookie, sealed) {
			return fmt.Errorf("ntske: response buffer overflow writing cookie %d", i)
		}
	}

	if !wire.AppendRecord(buf, true, wire.TypeEndOfMessage, nil) {
		return fmt.Errorf("ntske: response buffer overflow writing EoM")
	}

	return nil
}

// ResponseResult is what a client extracts from a server's response.
type ResponseResult struct {
	Valid      bool
	Cookies    [][]byte
	ServerName string
	ServerPort uint16
}

// ProcessResponse validates and extracts data from a server response per
// spec.md §4.H's client-side rules.
func ProcessResponse(buf *wire.MessageBuffer, maxCookies int) ResponseResult {
	buf.RewindParse()

	var res ResponseResult
	sawNextProtocol, sawAEAD := false, false

	for {
		rec, ok := wire.Iterate(buf)
		if !ok {
			break
		}

		switch rec.Type {
		case wire.TypeNextProtocol:
			if sawNextProtocol || !rec.Critical || len(rec.Body) != 2 {
				return ResponseResult{}
			}
			v := uint16(rec.Body[0])<<8 | uint16(rec.Body[1])
			if v != NextProtocolNTPv4 {
				return ResponseResult{}
			}
			sawNextProtocol = true
		case wire.TypeAEADAlgorithm:
			if sawAEAD || len(rec.Body) != 2 {
				return ResponseResult{}
			}
			v := uint16(rec.Body[0])<<8 | uint16(rec.Body[1])
			if v != AEADAESSIVCMAC256 {
				return ResponseResult{}
			}
			sawAEAD = true
		case wire.TypeError, wire.TypeWarning:
			return ResponseResult{}
		case wire.TypeCookie:
			if len(rec.Body) > cookie.Size || len(res.Cookies) >= maxCookies {
				continue
			}
			res.Cookies = append(res.Cookies, append([]byte(nil), rec.Body...))
		case wire.TypeNTPv4Server:
			if len(rec.Body) > 0 {
				res.ServerName = string(rec.Body)
			}
		case wire.TypeNTPv4Port:
			if len(rec.Body) == 2 {
				res.ServerPort = uint16(rec.Body[0])<<8 | uint16(rec.Body[1])
			}
		case wire.TypeEndOfMessage:
			// handled below
		default:
			if rec.Critical {
				return ResponseResult{}
			}
		}

		if rec.IsEndOfMessage() {
			break
		}
	}

	if !sawNextProtocol || !sawAEAD {
		return ResponseResult{}
	}

	res.Valid = true
	return res
}


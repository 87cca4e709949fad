package ntske

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
)

// DialClient performs a full client-side NTS-KE exchange against addr:
// TLS dial with ALPN negotiation, send the standard client request, read
// and validate the response. It returns the cookies and exporter keys
// the NTS-NTP client needs, per spec.md §4.F's client path and §4.H. This
// is the synchronous client wrapper internal/ntsclient calls into when
// its cookie ring runs dry.
func DialClient(addr string, tlsConfig *tls.Config, loop EventLoop, log logger.Logger) (*ResponseResult, []byte, []byte, error) {
	c := newConn(ModeClient, log)
	c.RemoteAddr = addr
	c.State = WaitConnect
	c.armTimeout(loop, DefaultTimeout)
	defer c.disarmTimeout()

	cfg := tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{alpnProtocol}
	}

	dialer := &net.Dialer{Timeout: DefaultTimeout}
	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		c.State = Advance(ModeClient, c.State, Event{ConnectDone: true, ConnectErr: err})
		return nil, nil, nil, fmt.Errorf("ntske: dial %s: %w", addr, err)
	}
	c.State = Advance(ModeClient, c.State, Event{ConnectDone: true})

	tlsConn := tls.Client(raw, cfg)
	c.tlsConn = tlsConn
	if err := tlsConn.Handshake(); err != nil {
		c.State = Advance(ModeClient, c.State, Event{TLSErr: err})
		_ = raw.Close()
		return nil, nil, nil, fmt.Errorf("ntske: TLS handshake: %w", err)
	}

	if tlsConn.ConnectionState().NegotiatedProtocol != alpnProtocol {
		c.State = Advance(ModeClient, c.State, Event{ALPNMismatch: true})
		_ = tlsConn.Close()
		return nil, nil, nil, fmt.Errorf("ntske: server did not negotiate %q", alpnProtocol)
	}
	c.State = Advance(ModeClient, c.State, Event{TLSDone: true})

	if !BuildClientRequest(&c.buf) {
		c.close()
		return nil, nil, nil, fmt.Errorf("ntske: building client request")
	}
	if _, err := tlsConn.Write(c.buf.Bytes()); err != nil {
		c.State = Advance(ModeClient, c.State, Event{FatalErr: err})
		return nil, nil, nil, fmt.Errorf("ntske: sending request: %w", err)
	}
	c.State = Advance(ModeClient, c.State, Event{SendComplete: true})
	c.buf.Reset()

	if err := readMessage(tlsConn, &c.buf); err != nil {
		c.State = Advance(ModeClient, c.State, Event{FatalErr: err})
		return nil, nil, nil, fmt.Errorf("ntske: reading response: %w", err)
	}
	c.State = Advance(ModeClient, c.State, Event{MessageReady: true})

	resp := ProcessResponse(&c.buf, MaxClientCookies)
	if !resp.Valid {
		c.close()
		return nil, nil, nil, fmt.Errorf("ntske: server response failed validation")
	}

	c2s, s2c, err := ExporterKeys(tlsConn)
	if err != nil {
		c.close()
		return nil, nil, nil, err
	}

	c.State = Advance(ModeClient, c.State, Event{CloseNotifyOK: true})
	c.close()

	metrics.KEExchangesCompleted.WithLabelValues("success").Inc()
	return &resp, c2s, s2c, nil
}

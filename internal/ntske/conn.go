package ntske

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/ddrown/chrony-nts/internal/keyring"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
	"github.com/ddrown/chrony-nts/internal/wire"
)

const alpnProtocol = "ntske/1"

// DefaultTimeout is the per-connection timeout from connection birth,
// both for the client dialing out and the server accepting in.
const DefaultTimeout = 2 * time.Second

// Conn is one NTS-KE connection instance: the state machine plus the
// resources it owns exclusively (spec.md §3 "KE Connection Instance").
// ConnID is ambient correlation state for logs/metrics, not part of the
// wire protocol.
type Conn struct {
	ConnID     uuid.UUID
	Mode       Mode
	State      State
	RemoteAddr string

	tlsConn *tls.Conn
	buf     wire.MessageBuffer
	timer   Timer
	log     logger.Logger
	start   time.Time
}

func newConn(mode Mode, log logger.Logger) *Conn {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	id := uuid.New()
	return &Conn{
		ConnID: id,
		Mode:   mode,
		State:  Closed,
		log:    log.WithFields(logger.String("conn_id", id.String())),
		start:  time.Now(),
	}
}

func (c *Conn) armTimeout(loop EventLoop, timeout time.Duration) {
	c.timer = loop.AfterFunc(timeout, func() {
		err := logger.NewNTSError(logger.ErrCodeTimeout, "connection exceeded its deadline", nil).
			WithDetails("state", c.State.String())
		c.log.Warn("connection timed out", logger.Error(err))
		c.close()
	})
}

func (c *Conn) disarmTimeout() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Conn) close() {
	c.disarmTimeout()
	if c.tlsConn != nil {
		_ = c.tlsConn.Close()
	}
	c.State = Closed
	metrics.KEConnectionDuration.Observe(time.Since(c.start).Seconds())
}

// ServeConn runs the server side of one accepted connection to
// completion: TLS accept, ALPN check, read request, process it, seal
// cookies, write response, close. It is invoked by the accept loop (§G)
// once per connection, each on its own goroutine -- the idiomatic Go
// analogue of the cooperative per-connection state machine spec.md §4.F
// describes, with the same states and transitions reported through
// Advance for logging and metrics.
func ServeConn(rawConn net.Conn, tlsConfig *tls.Config, ring *keyring.Ring, ntpPort uint16, advertisePort bool, loop EventLoop, log logger.Logger) {
	c := newConn(ModeServer, log)
	c.RemoteAddr = rawConn.RemoteAddr().String()
	c.State = Closed
	c.armTimeout(loop, DefaultTimeout)
	defer c.disarmTimeout()

	metrics.KEConnectionsAccepted.Inc()
	c.State = Advance(ModeServer, c.State, Event{})

	tlsConn := tls.Server(rawConn, tlsConfig)
	c.tlsConn = tlsConn
	if err := tlsConn.Handshake(); err != nil {
		c.log.Debug("server TLS handshake failed", logger.Error(err))
		c.State = Advance(ModeServer, c.State, Event{TLSErr: err})
		_ = rawConn.Close()
		return
	}

	if tlsConn.ConnectionState().NegotiatedProtocol != alpnProtocol {
		c.State = Advance(ModeServer, c.State, Event{ALPNMismatch: true})
		_ = tlsConn.Close()
		return
	}
	c.State = Advance(ModeServer, c.State, Event{TLSDone: true})

	if err := readMessage(tlsConn, &c.buf); err != nil {
		c.log.Debug("reading request failed", logger.Error(err))
		c.close()
		return
	}
	c.State = Advance(ModeServer, c.State, Event{MessageReady: true})

	result := ProcessRequest(&c.buf, c.log)
	if result.HasError {
		metrics.KEErrorsByCode.WithLabelValues(result.Err.Code).Inc()
	}

	c2s, s2c, err := ExporterKeys(tlsConn)
	if err != nil {
		c.log.Error("exporter key derivation failed", logger.Error(err))
		c.close()
		return
	}

	c.buf.Reset()
	if err := BuildResponse(&c.buf, result, ring, c2s, s2c, ntpPort, advertisePort); err != nil {
		c.log.Error("building response failed", logger.Error(err))
		c.close()
		return
	}

	if _, err := tlsConn.Write(c.buf.Bytes()); err != nil {
		c.State = Advance(ModeServer, c.State, Event{FatalErr: err})
		c.close()
		return
	}
	c.State = Advance(ModeServer, c.State, Event{SendComplete: true})

	outcome := "success"
	if result.HasError {
		outcome = "error"
	}
	metrics.KEExchangesCompleted.WithLabelValues(outcome).Inc()

	c.close()
}

// readMessage drains TLS records into buf until it validates as a
// complete message (spec.md §4.A's Ok status) or a fatal condition
// occurs.
func readMessage(conn *tls.Conn, buf *wire.MessageBuffer) error {
	chunk := make([]byte, 4096)
	for {
		switch wire.Validate(buf) {
		case wire.Ok:
			return nil
		case wire.Error:
			return fmt.Errorf("ntske: malformed message")
		case wire.Incomplete:
			// fall through to read more
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			if !buf.Append(chunk[:n]) {
				return fmt.Errorf("ntske: message exceeds buffer capacity")
			}
		}
		if err != nil {
			buf.SetEOF()
			if wire.Validate(buf) == wire.Ok {
				return nil
			}
			return fmt.Errorf("ntske: reading message: %w", err)
		}
	}
}

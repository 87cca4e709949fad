package ntske

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ddrown/chrony-nts/internal/keyring"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
)

// InstancePoolSize is the fixed number of concurrent connection slots the
// accept loop tracks, per spec.md §4.G.
const InstancePoolSize = 10

// AccessControl decides whether an accepted connection from addr is
// allowed to proceed, before any TLS bytes are exchanged. The core ships
// no policy of its own (spec.md Non-goals exclude access-control policy);
// callers inject one, or AllowAll.
type AccessControl func(addr net.Addr) bool

// AllowAll is the default AccessControl: every remote address is accepted.
func AllowAll(net.Addr) bool { return true }

// instance tracks one pool slot's lifecycle for the first-null-else-
// first-closed replacement policy spec.md §4.G specifies.
type instance struct {
	conn   net.Conn
	closed bool
}

// Server is the NTS-KE accept loop: dual-bound IPv4/IPv6 listeners feeding
// a fixed-size instance pool, each accepted connection handed off to
// ServeConn on its own goroutine.
type Server struct {
	TLSConfig     *tls.Config
	Ring          *keyring.Ring
	EventLoop     EventLoop
	Log           logger.Logger
	AccessControl AccessControl
	NTPPort       uint16
	AdvertisePort bool

	mu        sync.Mutex
	instances [InstancePoolSize]instance

	listeners []net.Listener
	wg        sync.WaitGroup
}

// NewServer constructs a Server with defaults filled in for any nil
// collaborator.
func NewServer(tlsConfig *tls.Config, ring *keyring.Ring, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{
		TLSConfig:     tlsConfig,
		Ring:          ring,
		EventLoop:     NewRealEventLoop(),
		Log:           log,
		AccessControl: AllowAll,
	}
}

// ListenAndServe binds the given port on both wildcard IPv4 and IPv6
// addresses with SO_REUSEADDR (and IPV6_V6ONLY on the v6 socket, so the
// two binds are independent rather than racing for the dual-stack
// wildcard), then accepts connections until Close is called.
func (s *Server) ListenAndServe(port int) error {
	v4, err := s.listen("tcp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("ntske: binding IPv4 listener: %w", err)
	}
	v6, err := s.listen("tcp6", fmt.Sprintf("[::]:%d", port))
	if err != nil {
		_ = v4.Close()
		return fmt.Errorf("ntske: binding IPv6 listener: %w", err)
	}

	s.listeners = []net.Listener{v4, v6}

	for _, l := range s.listeners {
		s.wg.Add(1)
		go s.acceptLoop(l)
	}
	s.wg.Wait()
	return nil
}

// Close stops all listeners; in-flight connections are left to finish or
// hit their own timeout.
func (s *Server) Close() error {
	var firstErr error
	for _, l := range s.listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) listen(network, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if ctrlErr != nil {
					return
				}
				if network == "tcp6" {
					ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	return lc.Listen(nil, network, addr)
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			s.Log.Info("listener stopped", logger.Error(err))
			return
		}

		if !s.AccessControl(conn.RemoteAddr()) {
			metrics.KEConnectionsRejected.Inc()
			_ = conn.Close()
			continue
		}

		slot, ok := s.acquireSlot(conn)
		if !ok {
			metrics.KEConnectionsRejected.Inc()
			s.Log.Warn("instance pool exhausted", logger.String("remote_addr", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		go s.serve(slot, conn)
	}
}

// acquireSlot implements spec.md §4.G's replacement policy: prefer an
// empty slot, else the first slot whose previous occupant has already
// closed. Returns false if every slot holds a still-open connection.
func (s *Server) acquireSlot(conn net.Conn) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.instances {
		if s.instances[i].conn == nil {
			s.instances[i] = instance{conn: conn}
			return i, true
		}
	}
	for i := range s.instances {
		if s.instances[i].closed {
			s.instances[i] = instance{conn: conn}
			return i, true
		}
	}
	return 0, false
}

func (s *Server) releaseSlot(slot int) {
	s.mu.Lock()
	s.instances[slot].closed = true
	s.mu.Unlock()
}

func (s *Server) serve(slot int, conn net.Conn) {
	defer s.releaseSlot(slot)
	metrics.KEPoolInUse.Inc()
	defer metrics.KEPoolInUse.Dec()
	ServeConn(conn, s.TLSConfig, s.Ring, s.NTPPort, s.AdvertisePort, s.EventLoop, s.Log)
}

// PoolStats reports how many instance-pool slots are occupied by an open
// connection versus closed-but-not-yet-replaced.
func (s *Server) PoolStats() (inUse, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.conn == nil {
			continue
		}
		if inst.closed {
			closed++
		} else {
			inUse++
		}
	}
	return inUse, closed
}

// Package ntske implements the NTS-KE connection state machine, accept
// loop, and request/response exchange logic: the TLS-framed record
// protocol that negotiates AEAD parameters and hands out cookies.
package ntske

import "fmt"

// State is one of the KE connection lifecycle states from spec.md §4.F.
type State int

const (
	Closed State = iota
	WaitConnect
	Handshake
	Send
	Receive
	Shutdown
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case WaitConnect:
		return "WaitConnect"
	case Handshake:
		return "Handshake"
	case Send:
		return "Send"
	case Receive:
		return "Receive"
	case Shutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mode distinguishes which side of the exchange a connection instance
// plays.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeServer
	ModeClient
)

// Event is one input to the state machine's Advance function. Only one
// event kind is ever true per call; Advance ignores the others.
type Event struct {
	ConnectDone   bool // client: connect() completed, check error
	ConnectErr    error
	Writable      bool // socket became writable
	Readable      bool // socket became readable
	TLSDone       bool // TLS handshake finished (success implied unless TLSErr set)
	TLSErr        error
	ALPNMismatch  bool
	MessageReady  bool // buffer validated Ok
	MessageStatus string
	SendComplete  bool
	CloseNotifyOK bool
	Timeout       bool
	FatalErr      error
}

// Advance computes the next state for the given mode, current state, and
// event, per spec.md §4.F. It has no side effects -- callers perform the
// actual I/O and then report what happened through Event, which is what
// makes it unit-testable without sockets or an event loop (spec.md §9:
// "no hidden continuations").
func Advance(mode Mode, current State, ev Event) State {
	if ev.Timeout || ev.FatalErr != nil {
		return Closed
	}

	switch mode {
	case ModeClient:
		return advanceClient(current, ev)
	case ModeServer:
		return advanceServer(current, ev)
	default:
		return Closed
	}
}

func advanceClient(current State, ev Event) State {
	switch current {
	case Closed:
		// Closed -> WaitConnect on connection start, whatever the
		// event. DialClient sets WaitConnect directly at creation
		// instead of calling Advance for this step.
		return WaitConnect
	case WaitConnect:
		if ev.ConnectDone {
			if ev.ConnectErr != nil {
				return Closed
			}
			return Handshake
		}
		return WaitConnect
	case Handshake:
		if ev.TLSErr != nil || ev.ALPNMismatch {
			return Closed
		}
		if ev.TLSDone {
			return Send
		}
		return Handshake
	case Send:
		if ev.SendComplete {
			return Receive
		}
		return Send
	case Receive:
		if ev.MessageReady {
			return Shutdown
		}
		return Receive
	case Shutdown:
		if ev.CloseNotifyOK {
			return Closed
		}
		return Shutdown
	default:
		return Closed
	}
}

func advanceServer(current State, ev Event) State {
	switch current {
	case Closed:
		// A freshly accepted connection starts directly in Handshake
		// per spec.md §4.F ("created upon accept; Closed -> Handshake
		// with socket already connected").
		return Handshake
	case Handshake:
		if ev.TLSErr != nil || ev.ALPNMismatch {
			return Closed
		}
		if ev.TLSDone {
			return Receive
		}
		return Handshake
	case Receive:
		if ev.MessageReady {
			return Send
		}
		return Receive
	case Send:
		if ev.SendComplete {
			return Shutdown
		}
		return Send
	case Shutdown:
		return Closed
	default:
		return Closed
	}
}

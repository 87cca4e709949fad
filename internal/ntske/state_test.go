package ntske

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientHappyPath(t *testing.T) {
	s := Closed
	s = Advance(ModeClient, s, Event{})
	require.Equal(t, WaitConnect, s)

	s = Advance(ModeClient, s, Event{ConnectDone: true})
	require.Equal(t, Handshake, s)

	s = Advance(ModeClient, s, Event{TLSDone: true})
	require.Equal(t, Send, s)

	s = Advance(ModeClient, s, Event{SendComplete: true})
	require.Equal(t, Receive, s)

	s = Advance(ModeClient, s, Event{MessageReady: true})
	require.Equal(t, Shutdown, s)

	s = Advance(ModeClient, s, Event{CloseNotifyOK: true})
	require.Equal(t, Closed, s)
}

func TestClientALPNMismatchCloses(t *testing.T) {
	s := Advance(ModeClient, Handshake, Event{ALPNMismatch: true})
	require.Equal(t, Closed, s)
}

func TestClientConnectErrorCloses(t *testing.T) {
	s := Advance(ModeClient, WaitConnect, Event{ConnectDone: true, ConnectErr: errors.New("refused")})
	require.Equal(t, Closed, s)
}

func TestServerHappyPath(t *testing.T) {
	s := Advance(ModeServer, Closed, Event{})
	require.Equal(t, Handshake, s)

	s = Advance(ModeServer, s, Event{TLSDone: true})
	require.Equal(t, Receive, s)

	s = Advance(ModeServer, s, Event{MessageReady: true})
	require.Equal(t, Send, s)

	s = Advance(ModeServer, s, Event{SendComplete: true})
	require.Equal(t, Shutdown, s)

	s = Advance(ModeServer, s, Event{})
	require.Equal(t, Closed, s)
}

func TestAnyFatalErrorClosesFromAnyState(t *testing.T) {
	for _, st := range []State{WaitConnect, Handshake, Send, Receive, Shutdown} {
		require.Equal(t, Closed, Advance(ModeClient, st, Event{FatalErr: errors.New("boom")}))
		require.Equal(t, Closed, Advance(ModeServer, st, Event{FatalErr: errors.New("boom")}))
	}
}

func TestTimeoutClosesFromAnyState(t *testing.T) {
	for _, st := range []State{WaitConnect, Handshake, Send, Receive, Shutdown} {
		require.Equal(t, Closed, Advance(ModeClient, st, Event{Timeout: true}))
	}
}

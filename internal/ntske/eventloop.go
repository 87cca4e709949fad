package ntske

import "time"

// Timer is a handle to a scheduled callback, returned by EventLoop.AfterFunc.
type Timer interface {
	// Stop cancels the timer. It reports whether the cancellation
	// happened before the callback fired.
	Stop() bool
}

// EventLoop is the external collaborator every KE connection uses to
// schedule its per-connection timeout (spec.md §5: "each KE connection
// carries one timer armed at birth"). Production code is driven by
// realEventLoop. The state machine itself (Advance) needs no event loop
// and is tested directly; the tests of this file exercise realEventLoop
// against real wall-clock time.
type EventLoop interface {
	AfterFunc(d time.Duration, cb func()) Timer
}

// realEventLoop schedules callbacks on the Go runtime timer wheel. This
// is the concrete collaborator cmd/nts-ke-server wires in; the
// connection and accept-loop logic otherwise treats timers purely
// through the EventLoop interface, so it is equally happy with a fake.
type realEventLoop struct{}

// NewRealEventLoop returns the production EventLoop implementation.
func NewRealEventLoop() EventLoop { return realEventLoop{} }

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

func (realEventLoop) AfterFunc(d time.Duration, cb func()) Timer {
	return realTimer{t: time.AfterFunc(d, cb)}
}

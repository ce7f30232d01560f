package client

import "sync"

// LogoutOutcome is what the sender learns after sending LOGOUT.
type LogoutOutcome int

const (
	// LogoutProceed means the server refused the LOGOUT; keep reading input.
	LogoutProceed LogoutOutcome = iota + 1
	// LogoutTerminate means the session is over.
	LogoutTerminate
)

func (o LogoutOutcome) String() string {
	switch o {
	case LogoutProceed:
		return "proceed"
	case LogoutTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

type logoutState int

const (
	logoutPending logoutState = iota
	logoutProceed
	logoutTerminate
)

// LogoutCoordinator is the single-slot rendezvous between the sending and
// receiving goroutines for the LOGOUT handshake.
//
// The sender calls Begin before writing LOGOUT and then AwaitOutcome. The
// receiver calls ReportAck or ReportError once it has fully decoded the
// server's answer to LOGOUT. Abort forces Terminate from either side when the
// connection is lost, so a pending AwaitOutcome never blocks forever.
// Terminate is absorbing.
type LogoutCoordinator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   logoutState
	pending bool // an attempt is outstanding
}

// NewLogoutCoordinator returns a coordinator in the Pending state.
func NewLogoutCoordinator() *LogoutCoordinator {
	lc := &LogoutCoordinator{}
	lc.cond = sync.NewCond(&lc.mu)
	return lc
}

// Begin arms a LOGOUT attempt. It returns false if the session is already
// terminated, in which case the sender must not write LOGOUT.
func (lc *LogoutCoordinator) Begin() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.state == logoutTerminate {
		return false
	}
	lc.pending = true
	return true
}

// AwaitOutcome blocks until the current attempt resolves. Proceed resets the
// state to Pending before returning; Terminate is left in place.
func (lc *LogoutCoordinator) AwaitOutcome() LogoutOutcome {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	for lc.state == logoutPending {
		lc.cond.Wait()
	}

	if lc.state == logoutTerminate {
		return LogoutTerminate
	}
	lc.state = logoutPending
	return LogoutProceed
}

// ReportAck records ACK(LOGOUT).
func (lc *LogoutCoordinator) ReportAck() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.state = logoutTerminate
	lc.pending = false
	lc.cond.Broadcast()
}

// ReportError records ERROR(LOGOUT). An ERROR with no armed attempt is
// stale and ignored so it cannot release a later wait early.
func (lc *LogoutCoordinator) ReportError() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.pending || lc.state == logoutTerminate {
		return
	}
	lc.state = logoutProceed
	lc.pending = false
	lc.cond.Broadcast()
}

// Abort forces Terminate and wakes any waiter.
func (lc *LogoutCoordinator) Abort() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.state = logoutTerminate
	lc.pending = false
	lc.cond.Broadcast()
}

// Terminated reports whether the session has reached Terminate.
func (lc *LogoutCoordinator) Terminated() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state == logoutTerminate
}

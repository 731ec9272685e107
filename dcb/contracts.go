package dcb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sigma957/dcbcore/buffer"
)

// Poller is the poll-subsystem contract (spec.md §6). A concrete
// implementation lives in package pollset.
type Poller interface {
	// Add registers the DCB's fd for readiness events. Write readiness may
	// be left unarmed until SetWritable(d, true) is called.
	Add(d *DCB) error
	// Remove deregisters the DCB's fd. After Remove returns, no new
	// events will be dispatched for this DCB.
	Remove(d *DCB) error
	// SetWritable arms or disarms write-readiness notifications for the
	// DCB's fd, leaving read/hangup interest untouched. Called whenever
	// the write queue transitions to or from empty, so a level-triggered
	// implementation doesn't report writable on every iteration while
	// there is nothing queued to drain. An edge-triggered implementation
	// may treat this as a no-op.
	SetWritable(d *DCB, want bool) error
	// LiveWorkerMask returns the bitmask of worker thread IDs currently
	// running the poll loop, whether blocked in the poll wait call or
	// dispatching/reaping.
	LiveWorkerMask() uint64
}

// RouterSession is the router/filter layer's collaborator, reached through
// a Session. CloseSession is called exactly once, during final free.
type RouterSession interface {
	CloseSession(routerInstance, routerSession interface{})
}

// Session is the opaque, router-owned object a DCB holds a non-owning
// handle to. The DCB never frees the session's router_session directly; it
// swaps the pointer out under sessLock and defers to the router callback,
// per spec.md §9.
type Session struct {
	ID uuid.UUID

	sessLock       sync.Mutex
	router         RouterSession
	routerInstance interface{}
	routerSession  interface{}
	closed         bool
}

// NewSession builds a session wrapping a router instance/session pair and
// the callback that must run exactly once at teardown.
func NewSession(router RouterSession, routerInstance, routerSession interface{}) *Session {
	return &Session{
		ID:             uuid.New(),
		router:         router,
		routerInstance: routerInstance,
		routerSession:  routerSession,
	}
}

// closeOnce swaps the router session handle out under sessLock and invokes
// RouterSession.CloseSession exactly once, regardless of how many times
// closeOnce itself is called.
func (s *Session) closeOnce() {
	if s == nil {
		return
	}
	s.sessLock.Lock()
	if s.closed {
		s.sessLock.Unlock()
		return
	}
	s.closed = true
	router := s.router
	inst, sess := s.routerInstance, s.routerSession
	s.router = nil
	s.routerInstance, s.routerSession = nil, nil
	s.sessLock.Unlock()

	if router != nil {
		router.CloseSession(inst, sess)
	}
}

// ProtocolOps is the fixed operation table a protocol module registers.
// It is resolved by name at Connect/Accept time and is immutable on the DCB
// thereafter.
type ProtocolOps struct {
	// Connect performs the outbound connection to server and returns the
	// resulting OS file descriptor.
	Connect func(d *DCB, server interface{}, session *Session) (fd int, err error)
	// Accept completes an inbound connection from a listening fd and
	// returns the accepted connection's file descriptor.
	Accept func(d *DCB, listenerFD int) (fd int, err error)
	// Read pulls available bytes for d into its read buffer chain.
	Read func(d *DCB) (n int, err error)
	// Write hands a chain to the protocol's write path (used for
	// protocol-level framing above the raw write queue).
	Write func(d *DCB, chain *buffer.Chain) (ok bool)
	// Close performs protocol-specific teardown before the fd itself is
	// closed.
	Close func(d *DCB) error
	// SessionWrite is invoked by the router/session layer to push data
	// toward the client.
	SessionWrite func(d *DCB, chain *buffer.Chain) (ok bool)
	// ErrorHandler is invoked when the poll layer reports an error event.
	ErrorHandler func(d *DCB, err error)
	// HangupHandler is invoked when the poll layer reports a hangup
	// event.
	HangupHandler func(d *DCB)
}

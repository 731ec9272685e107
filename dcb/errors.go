package dcb

import "errors"

// Sentinel errors of the DCB core. Connect, Accept and Close return the ones
// documented below; Connect and Accept also pass through errors from the
// protocol module's callbacks, Read returns io.EOF or the raw syscall error,
// and Write reports failure as a bool rather than an error.
var (
	// ErrInvalidTransition names an illegal state-machine transition.
	// Transition reports such an attempt as (false, prev) and does not
	// return this error.
	ErrInvalidTransition = errors.New("dcb: invalid state transition")

	// ErrAlreadyClosing is returned by Close when a concurrent Close has
	// already moved the DCB out of POLLING/LISTENING.
	ErrAlreadyClosing = errors.New("dcb: already closing")

	// ErrProtocolNotFound is returned by Connect/Accept when the named
	// protocol module was never registered.
	ErrProtocolNotFound = errors.New("dcb: protocol module not found")

	// ErrAllocFailed is returned by Registry.Allocate for a malformed
	// request (invalid Role). There is no out-of-memory allocation
	// failure mode in a garbage-collected runtime; this is the faithful
	// mapping of that error class.
	ErrAllocFailed = errors.New("dcb: allocation failed")

	// ErrSessionGone is returned by Connect when the session has already
	// been torn down before the DCB could link to it.
	ErrSessionGone = errors.New("dcb: session unlinked before connect")

	// ErrEmptyChain names a nil/empty buffer chain. Write treats such a
	// chain as a successful no-op (it returns true) and does not return
	// this error.
	ErrEmptyChain = errors.New("dcb: empty buffer chain")

	// ErrWatcherClosed names a poll operation on a closed Poller. The
	// pollset package does not return it; operations after Close fail with
	// the underlying syscall error instead.
	ErrWatcherClosed = errors.New("dcb: poller closed")
)

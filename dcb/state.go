package dcb

import "fmt"

// State is an element of the DCB lifecycle state machine.
type State int

const (
	// StateUndefined is the sentinel zero value; only the bootstrap
	// transition (allocation) may leave it.
	StateUndefined State = iota
	StateAlloc
	StatePolling
	StateListening
	StateNoPolling
	StateZombie
	StateDisconnected
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateUndefined:
		return "UNDEFINED"
	case StateAlloc:
		return "ALLOC"
	case StatePolling:
		return "POLLING"
	case StateListening:
		return "LISTENING"
	case StateNoPolling:
		return "NOPOLLING"
	case StateZombie:
		return "ZOMBIE"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateFreed:
		return "FREED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// legalTransitions is the table from spec.md §4.1. A transition not present
// here (and not a bootstrap-from-UNDEFINED transition) is a bug: it fails
// and leaves state unchanged.
var legalTransitions = map[State]map[State]bool{
	StateAlloc: {
		StatePolling:      true,
		StateListening:    true,
		StateDisconnected: true,
	},
	StatePolling: {
		StateNoPolling: true,
		StateListening: true,
	},
	StateListening: {
		StatePolling: true,
	},
	StateNoPolling: {
		StateZombie: true,
		// idempotent no-op, handled specially in Transition
		StatePolling: true,
	},
	StateZombie: {
		StateDisconnected: true,
		// idempotent no-op, handled specially in Transition
		StatePolling: true,
	},
	StateDisconnected: {
		StateFreed: true,
	},
}

// idempotentNoOps are transitions that "succeed" without changing state,
// used by the close protocol to make re-close attempts safe.
var idempotentNoOps = map[State]map[State]bool{
	StateNoPolling: {StatePolling: true},
	StateZombie:    {StatePolling: true},
}

// transitionLocked mutates dcb.state to newState if legal, returning whether
// it succeeded and the state as it was before the call. It assumes the
// caller already holds dcb.initLock. Bootstrap from StateUndefined is always
// permitted (allocation only; nothing else should ever observe UNDEFINED).
func transitionLocked(d *DCB, newState State) (ok bool, prev State) {
	prev = d.state
	if prev == StateUndefined {
		d.state = newState
		return true, prev
	}
	if idempotentNoOps[prev][newState] {
		return true, prev
	}
	if legalTransitions[prev][newState] {
		d.state = newState
		return true, prev
	}
	return false, prev
}

// Transition attempts to move the DCB to newState under its init-lock,
// returning whether the transition succeeded and the state the DCB was in
// immediately before the call. An illegal transition is a no-op: state is
// left unchanged and false is returned.
func (d *DCB) Transition(newState State) (ok bool, prev State) {
	d.initLock.Lock()
	defer d.initLock.Unlock()
	return transitionLocked(d, newState)
}

// State returns the DCB's current state under its init-lock.
func (d *DCB) State() State {
	d.initLock.Lock()
	defer d.initLock.Unlock()
	return d.state
}

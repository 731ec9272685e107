package dcb

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/sigma957/dcbcore/buffer"
)

// Role classifies a DCB's purpose. Immutable after allocation.
type Role int

const (
	RoleRequestHandler Role = iota
	RoleListener
	RoleInternal
)

func (r Role) String() string {
	switch r {
	case RoleRequestHandler:
		return "REQUEST_HANDLER"
	case RoleListener:
		return "LISTENER"
	case RoleInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN_ROLE"
	}
}

// DCBStats are the monotonic per-DCB counters from spec.md §3.1. Updated
// without locking via sync/atomic; safe to read concurrently with updates
// (a snapshot, not a consistent multi-field read).
type DCBStats struct {
	Reads          uint64
	Writes         uint64
	BufferedWrites uint64
	Accepts        uint64
}

// DCB is the Descriptor Control Block: the per-socket state object at the
// core of this subsystem. See spec.md §3.1 for the field-by-field
// invariants; every field below is grounded on that list.
type DCB struct {
	// Diagnostic identity, assigned once at allocation. Never reused.
	id ulid.ULID

	// fd is valid while state ∈ {POLLING, LISTENING, NOPOLLING, ZOMBIE};
	// undefined otherwise. Set by the connect/accept path (the protocol
	// module via SetFD, then Connect/Accept with the same value) and not
	// changed again before final free.
	fd int32

	role Role

	// state is mutated only through Transition, under initLock.
	initLock sync.Mutex
	state    State

	// ops is populated at connect/accept and immutable afterward.
	ops *ProtocolOps

	// session is a non-owning handle; the DCB never frees it directly.
	session *Session

	protocolData interface{}
	appData      interface{}
	remoteAddr   string

	// writeq is the per-DCB buffered output, guarded by writeqLock (C3).
	writeqLock sync.Mutex
	writeq     *buffer.Chain

	// delayq/authq are used by protocol modules during pre-authentication.
	delayqLock sync.Mutex
	delayq     *buffer.Chain
	authLock   sync.Mutex
	authq      *buffer.Chain

	stats DCBStats

	// memdata.thread_mask / memdata.next from spec.md §3.1, split into
	// their own fields since Go has no anonymous nested struct naming
	// requirement here; threadMask is only meaningful in state ZOMBIE and
	// may only decrease (bits cleared), per invariant 5.
	threadMask uint64
	zombieNext *DCB

	// next/prev are the intrusive registry links (C2), doubly-linked so
	// unlink is O(1) instead of a list scan. Guarded by the owning
	// Registry's lock, never by initLock.
	next *DCB
	prev *DCB

	registry *Registry
	poller   Poller
	logger   *log.Logger
}

// ID returns the DCB's diagnostic identifier.
func (d *DCB) ID() ulid.ULID { return d.id }

// Role returns the DCB's immutable role.
func (d *DCB) Role() Role { return d.role }

// FD returns the DCB's file descriptor. Only meaningful while State() is
// one of POLLING, LISTENING, NOPOLLING, or ZOMBIE.
func (d *DCB) FD() int { return int(atomic.LoadInt32(&d.fd)) }

// setFD records the file descriptor obtained by the connect/accept path.
func (d *DCB) setFD(fd int) { atomic.StoreInt32(&d.fd, int32(fd)) }

// SetFD lets a protocol module's Connect/Accept implementation record the
// fd it obtained before adding the DCB to the poll set — the poller needs
// FD() populated to register interest, but Connect/Accept's caller does not
// set it until after the protocol callback returns (spec.md §4.6 point 6:
// the protocol module owns poll registration).
func (d *DCB) SetFD(fd int) { d.setFD(fd) }

// Session returns the DCB's non-owning session handle, or nil.
func (d *DCB) Session() *Session { return d.session }

// Ops returns the DCB's protocol operation table, or nil if not yet
// connected/accepted.
func (d *DCB) Ops() *ProtocolOps { return d.ops }

// ProtocolData returns the opaque per-protocol buffer the DCB owns.
func (d *DCB) ProtocolData() interface{} { return d.protocolData }

// SetProtocolData stores the opaque per-protocol buffer the DCB will free
// at final free.
func (d *DCB) SetProtocolData(v interface{}) { d.protocolData = v }

// AppData returns the opaque application buffer the DCB owns.
func (d *DCB) AppData() interface{} { return d.appData }

// SetAppData stores the opaque application buffer the DCB will free at
// final free.
func (d *DCB) SetAppData(v interface{}) { d.appData = v }

// RemoteAddr returns the remote peer address string, if known.
func (d *DCB) RemoteAddr() string { return d.remoteAddr }

// SetRemoteAddr records the remote peer address string.
func (d *DCB) SetRemoteAddr(addr string) { d.remoteAddr = addr }

// Stats returns a snapshot of the DCB's monotonic counters.
func (d *DCB) Stats() DCBStats {
	return DCBStats{
		Reads:          atomic.LoadUint64(&d.stats.Reads),
		Writes:         atomic.LoadUint64(&d.stats.Writes),
		BufferedWrites: atomic.LoadUint64(&d.stats.BufferedWrites),
		Accepts:        atomic.LoadUint64(&d.stats.Accepts),
	}
}

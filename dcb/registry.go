package dcb

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/slices"

	"github.com/sigma957/dcbcore/buffer"
)

// ulidSource is a monotonic ULID entropy source shared by a Registry. ULID
// generation is not safe for concurrent use by itself, hence the mutex.
type ulidSource struct {
	mu sync.Mutex
	ms *ulid.MonotonicEntropy
}

func newULIDSource() *ulidSource {
	return &ulidSource{ms: ulid.Monotonic(ulid.DefaultEntropy(), 0)}
}

func (u *ulidSource) next() ulid.ULID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return ulid.MustNew(ulid.Now(), u.ms)
}

// Registry is the global ordered list of all live DCBs (C2). It is
// unordered from the application's perspective; the intrusive doubly-linked
// list exists purely for O(1) append/unlink, per spec.md §9's design note
// on hand-rolled linked lists.
type Registry struct {
	mu        sync.Mutex
	head, tail *DCB
	count     int

	poller Poller
	logger *log.Logger
	ids    *ulidSource
}

// NewRegistry creates a registry bound to a Poller (the poll subsystem DCBs
// allocated from this registry will be registered with) and an optional
// logger (nil disables logging).
func NewRegistry(poller Poller, logger *log.Logger) *Registry {
	return &Registry{
		poller: poller,
		logger: logger,
		ids:    newULIDSource(),
	}
}

// Allocate creates a zero-initialised DCB with state ALLOC and appends it
// to the tail of the registry. Per spec.md §4.2, allocation failure returns
// a null handle — the only failure mode reachable in a garbage-collected
// runtime is a malformed role.
func (r *Registry) Allocate(role Role) (*DCB, error) {
	switch role {
	case RoleRequestHandler, RoleListener, RoleInternal:
	default:
		return nil, ErrAllocFailed
	}

	d := &DCB{
		id:       r.ids.next(),
		fd:       -1,
		role:     role,
		state:    StateAlloc,
		writeq:   buffer.NewChain(),
		delayq:   buffer.NewChain(),
		authq:    buffer.NewChain(),
		registry: r,
		poller:   r.poller,
		logger:   r.logger,
	}

	r.mu.Lock()
	if r.tail == nil {
		r.head, r.tail = d, d
	} else {
		d.prev = r.tail
		r.tail.next = d
		r.tail = d
	}
	r.count++
	r.mu.Unlock()

	return d, nil
}

// unlink removes d from the registry in O(1), splicing it out via its own
// prev/next pointers rather than scanning the list. Called only from final
// free. A node not currently in the list (already unlinked, or never
// linked into this registry) is identified without a scan: any node still
// in the list is either the head, or has a non-nil prev — so r.head != d
// together with d.prev == nil means there is nothing to do.
func (r *Registry) unlink(d *DCB) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.head != d && d.prev == nil {
		return
	}

	if d.prev != nil {
		d.prev.next = d.next
	} else {
		r.head = d.next
	}
	if d.next != nil {
		d.next.prev = d.prev
	} else {
		r.tail = d.prev
	}
	d.next = nil
	d.prev = nil
	r.count--
}

// Enumerate walks the registry under the registry lock, invoking visitor
// for each live DCB. The visitor must not modify the registry (allocate,
// unlink, or otherwise mutate the next-pointer chain) — doing so would
// corrupt the walk or deadlock on the registry lock.
func (r *Registry) Enumerate(visitor func(*DCB)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cur := r.head; cur != nil; cur = cur.next {
		visitor(cur)
	}
}

// Count returns the number of live DCBs currently in the registry.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Snapshot returns a stable-ordered slice of every live DCB, sorted by
// diagnostic ID. Intended for diagnostics/tests; must not be called from
// within an Enumerate visitor (both take the registry lock).
func (r *Registry) Snapshot() []*DCB {
	var out []*DCB
	r.Enumerate(func(d *DCB) {
		out = append(out, d)
	})
	slices.SortFunc(out, func(a, b *DCB) bool {
		return a.id.Compare(b.id) < 0
	})
	return out
}

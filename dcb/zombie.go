package dcb

import (
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/ef-ds/deque"
)

// ZombieList is the deferred-reclamation engine (C5): it tracks which
// worker threads still might observe a closed DCB and frees it only when
// none do. See spec.md §4.5 for the full protocol this implements.
type ZombieList struct {
	mu   sync.Mutex
	head atomic.Pointer[DCB]

	logger *log.Logger
}

// NewZombieList creates an empty zombie list.
func NewZombieList(logger *log.Logger) *ZombieList {
	return &ZombieList{logger: logger}
}

// rawClose is overridden in tests; in production it is syscall.Close.
var rawClose = syscall.Close

// Close performs the close protocol from spec.md §4.5 point 1-3, under the
// DCB's init-lock: it attempts POLLING→NOPOLLING (routing LISTENING
// through POLLING first, since the table has no direct LISTENING→NOPOLLING
// edge), asks the poller to stop dispatching new events, and snapshots the
// live-worker mask. If another thread already closed this DCB, the
// transition fails and Close returns ErrAlreadyClosing without side
// effects. On success the DCB is handed to zl for zombie-list insertion.
func (d *DCB) Close(zl *ZombieList) error {
	d.initLock.Lock()

	ok, prev := transitionLocked(d, StateNoPolling)
	if !ok && prev == StateListening {
		if ok2, _ := transitionLocked(d, StatePolling); ok2 {
			ok, prev = transitionLocked(d, StateNoPolling)
		}
	}
	if !ok {
		d.initLock.Unlock()
		if d.logger != nil {
			d.logger.Warn("close lost the race to another closer", "id", d.id, "state", prev)
		}
		return ErrAlreadyClosing
	}

	if d.poller != nil {
		if err := d.poller.Remove(d); err != nil && d.logger != nil {
			d.logger.Warn("poll_remove failed during close", "id", d.id, "err", err)
		}
		d.threadMask = d.poller.LiveWorkerMask()
	}

	d.initLock.Unlock()

	zl.add(d)
	if d.logger != nil {
		d.logger.Debug("dcb closed, queued for reaping", "id", d.id, "fd", d.FD(), "mask", d.threadMask)
	}
	return nil
}

// add appends d to the zombie list and transitions it to ZOMBIE, guarded
// end-to-end by the zombie-list lock so duplicate inserts are rejected
// outright (spec.md §9's resolved Open Question: the zombie-list lock is
// held across both the state check and the list splice).
func (zl *ZombieList) add(d *DCB) {
	zl.mu.Lock()
	defer zl.mu.Unlock()

	d.initLock.Lock()
	alreadyZombie := d.state == StateZombie
	var ok bool
	if !alreadyZombie {
		ok, _ = transitionLocked(d, StateZombie)
	}
	d.initLock.Unlock()

	if alreadyZombie || !ok {
		return
	}

	d.zombieNext = zl.head.Load()
	zl.head.Store(d)
}

// ProcessZombies is called by each worker thread once per poll iteration,
// after it has finished dispatching its events. It clears tid's bit on
// every zombie's thread_mask; any zombie whose mask is now fully clear is
// unlinked and finally freed. Returns the number of DCBs reaped in this
// call, for diagnostics and tests.
func (zl *ZombieList) ProcessZombies(tid uint, registry *Registry) int {
	if zl.head.Load() == nil {
		// dirty read, the fast path: the overwhelmingly common case is an
		// empty zombie list.
		return 0
	}

	bit := uint64(1) << tid

	var victims deque.Deque
	zl.mu.Lock()
	var prev *DCB
	cur := zl.head.Load()
	for cur != nil {
		next := cur.zombieNext
		cur.threadMask &^= bit
		if cur.threadMask == 0 {
			if prev == nil {
				zl.head.Store(next)
			} else {
				prev.zombieNext = next
			}
			cur.zombieNext = nil
			victims.PushBack(cur)
		} else {
			prev = cur
		}
		cur = next
	}
	zl.mu.Unlock()

	reaped := 0
	for {
		v, ok := victims.PopFront()
		if !ok {
			break
		}
		zl.finalFree(v.(*DCB), registry)
		reaped++
	}
	return reaped
}

// finalFree runs entirely outside any lock held by the caller: close the
// fd, transition ZOMBIE→DISCONNECTED, unlink from the registry, release
// the router session exactly once, then release every owned buffer and
// transition DISCONNECTED→FREED.
func (zl *ZombieList) finalFree(d *DCB, registry *Registry) {
	if d.ops != nil && d.ops.Close != nil {
		if err := d.ops.Close(d); err != nil && d.logger != nil {
			d.logger.Warn("protocol close failed", "id", d.id, "err", err)
		}
	}
	if fd := d.FD(); fd >= 0 {
		_ = rawClose(fd)
	}

	d.initLock.Lock()
	transitionLocked(d, StateDisconnected)
	d.initLock.Unlock()

	registry.unlink(d)

	sess := d.session
	d.session = nil
	sess.closeOnce()

	d.protocolData = nil
	d.appData = nil
	d.zombieNext = nil

	d.initLock.Lock()
	transitionLocked(d, StateFreed)
	d.initLock.Unlock()

	if d.logger != nil {
		d.logger.Info("dcb finally freed", "id", d.id)
	}
}

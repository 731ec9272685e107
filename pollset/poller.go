// Package pollset implements the poll subsystem contract (dcb.Poller)
// concretely, dispatching to epoll on Linux and kqueue on the BSDs/Darwin —
// the same OS split gaio's own build tag
// (linux || darwin || netbsd || freebsd || openbsd || dragonfly) names.
package pollset

import (
	"sync"
	"sync/atomic"

	"github.com/sigma957/dcbcore/dcb"
)

// Event is a single readiness notification delivered by Wait.
type Event struct {
	DCB      *dcb.DCB
	Readable bool
	Writable bool
	Hangup   bool
	Err      bool
}

// Poller is the platform-neutral half of the poll subsystem: fd bookkeeping
// and the live-worker bitmask. The platform-specific half (opening the
// underlying epoll/kqueue fd, arming/disarming interest, and the blocking
// wait call) lives in epoll_linux.go / kqueue_bsd.go.
type Poller struct {
	mu    sync.Mutex
	fd    int
	descs map[int]*dcb.DCB

	workerMask atomic.Uint64
}

// Add registers d's fd for readiness events, satisfying dcb.Poller. On
// epoll only read/hangup interest is registered here and write readiness is
// armed separately through SetWritable; kqueue registers both filters.
func (p *Poller) Add(d *dcb.DCB) error {
	fd := d.FD()
	if err := p.platformAdd(fd); err != nil {
		return err
	}
	p.mu.Lock()
	p.descs[fd] = d
	p.mu.Unlock()
	return nil
}

// Remove deregisters d's fd. After Remove returns, no new events will be
// dispatched for d, satisfying dcb.Poller and the close protocol's
// linearisability requirement (spec.md §4.5 point 2).
func (p *Poller) Remove(d *dcb.DCB) error {
	fd := d.FD()
	p.mu.Lock()
	delete(p.descs, fd)
	p.mu.Unlock()
	return p.platformRemove(fd)
}

// SetWritable arms or disarms write-readiness notifications for d's fd,
// satisfying dcb.Poller.
func (p *Poller) SetWritable(d *dcb.DCB, want bool) error {
	return p.platformSetWritable(d.FD(), want)
}

// LiveWorkerMask returns the bitmask of worker thread IDs currently running
// the poll loop (blocked in Wait, dispatching, or reaping), satisfying
// dcb.Poller.
func (p *Poller) LiveWorkerMask() uint64 {
	return p.workerMask.Load()
}

// WorkerEnter sets tid's bit in the live-worker mask. Called by a Worker
// once, when its poll loop starts; the bit stays set while the worker is
// blocked in Wait as well as while it dispatches and reaps, matching the
// zombie reaper's bitmask semantics.
func (p *Poller) WorkerEnter(tid uint) {
	p.setBit(tid, true)
}

// WorkerExit clears tid's bit in the live-worker mask. Called by a Worker
// once, when its poll loop returns.
func (p *Poller) WorkerExit(tid uint) {
	p.setBit(tid, false)
}

func (p *Poller) setBit(tid uint, set bool) {
	bit := uint64(1) << tid
	for {
		old := p.workerMask.Load()
		var next uint64
		if set {
			if old&bit != 0 {
				return
			}
			next = old | bit
		} else {
			if old&bit == 0 {
				return
			}
			next = old &^ bit
		}
		if p.workerMask.CompareAndSwap(old, next) {
			return
		}
	}
}

func (p *Poller) lookup(fd int) (*dcb.DCB, bool) {
	p.mu.Lock()
	d, ok := p.descs[fd]
	p.mu.Unlock()
	return d, ok
}

// Close releases the underlying epoll/kqueue file descriptor.
func (p *Poller) Close() error {
	return p.platformClose()
}

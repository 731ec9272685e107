//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package pollset

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/sigma957/dcbcore/dcb"
)

// New opens a fresh kqueue instance.
func New() (*Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &Poller{fd: fd, descs: make(map[int]*dcb.DCB)}, nil
}

func (p *Poller) platformAdd(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR},
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

// platformSetWritable is a no-op on kqueue: platformAdd already registers
// EVFILT_WRITE with EV_CLEAR, so write-readiness is edge-triggered and does
// not re-fire on every Wait call the way a level-triggered epoll interest
// would — there is no busy-spin to guard against here.
func (p *Poller) platformSetWritable(fd int, want bool) error {
	return nil
}

func (p *Poller) platformRemove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// kqueue silently drops closed fds too; ignore ENOENT/EBADF, same
	// rationale as the epoll path.
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *Poller) platformClose() error {
	return unix.Close(p.fd)
}

// Wait blocks for up to timeout for readiness events (a negative timeout
// blocks indefinitely), filling out and returning the count filled.
func (p *Poller) Wait(out []Event, timeout time.Duration) (int, error) {
	raw := make([]unix.Kevent_t, len(out))
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(p.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	merged := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		d, ok := p.lookup(fd)
		if !ok {
			continue
		}
		e, seen := merged[fd]
		if !seen {
			e = &Event{DCB: d}
			merged[fd] = e
			order = append(order, fd)
		}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			e.Readable = true
		case unix.EVFILT_WRITE:
			e.Writable = true
		}
		if raw[i].Flags&unix.EV_EOF != 0 {
			e.Hangup = true
		}
		if raw[i].Flags&unix.EV_ERROR != 0 {
			e.Err = true
		}
	}

	count := 0
	for _, fd := range order {
		if count >= len(out) {
			break
		}
		out[count] = *merged[fd]
		count++
	}
	return count, nil
}

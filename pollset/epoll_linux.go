//go:build linux

package pollset

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/sigma957/dcbcore/dcb"
)

// New opens a fresh epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{fd: fd, descs: make(map[int]*dcb.DCB)}, nil
}

// platformAdd registers only read/hangup interest. Epoll is level-triggered,
// so arming EPOLLOUT unconditionally would report writable on essentially
// every Wait call for as long as the fd accepts writes at all, even with an
// empty write queue; EPOLLOUT is armed on demand by platformSetWritable,
// driven by the write queue's empty/non-empty transitions (writequeue.go).
func (p *Poller) platformAdd(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// platformSetWritable arms or disarms EPOLLOUT for fd via EPOLL_CTL_MOD,
// leaving EPOLLIN|EPOLLRDHUP interest in place.
func (p *Poller) platformSetWritable(fd int, want bool) error {
	events := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if want {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *Poller) platformRemove(fd int) error {
	// epoll silently drops an fd from its interest set when the fd is
	// closed elsewhere (epoll(7)); EBADF/ENOENT here just means someone
	// beat us to it and is not an error worth surfacing.
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
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
	raw := make([]unix.EpollEvent, len(out))
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.fd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n; i++ {
		d, ok := p.lookup(int(raw[i].Fd))
		if !ok {
			continue
		}
		out[count] = Event{
			DCB:      d,
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
			Hangup:   raw[i].Events&unix.EPOLLHUP != 0,
			Err:      raw[i].Events&unix.EPOLLERR != 0,
		}
		count++
	}
	return count, nil
}

package main

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sigma957/dcbcore/buffer"
	"github.com/sigma957/dcbcore/dcb"
	"github.com/sigma957/dcbcore/pollset"
)

// echoServer is the demo "server" handle Connect dials against: a bare
// host:port, since the DCB core treats server identity as an opaque
// collaborator (spec.md §1's protocol-module boundary).
type echoServer struct {
	addr string
}

// echoProto is a trivial ProtocolOps implementation that echoes bytes back
// to whichever peer sent them, exercising Connect/Accept/Read/Write/Close
// end to end without a real MySQL parser (out of scope per spec.md §1).
// It needs the poller to finish what its Connect/Accept callbacks start:
// per spec.md §4.6 point 6, the protocol module owns adding the DCB to the
// poll set.
type echoProto struct {
	poller *pollset.Poller
}

// newEchoProto builds the echo protocol module's operation table, bound to
// the poller it must register accepted/connected DCBs with.
func newEchoProto(poller *pollset.Poller) *dcb.ProtocolOps {
	e := &echoProto{poller: poller}
	return &dcb.ProtocolOps{
		Connect:       e.connect,
		Accept:        e.accept,
		Read:          e.read,
		Write:         e.write,
		Close:         e.close,
		SessionWrite:  e.write,
		ErrorHandler:  e.onError,
		HangupHandler: e.onHangup,
	}
}

// connect dials server, and is responsible for registering d with the poll
// set before returning, per spec.md §4.6 point 6.
func (e *echoProto) connect(d *dcb.DCB, server interface{}, session *dcb.Session) (int, error) {
	srv, ok := server.(*echoServer)
	if !ok || srv == nil {
		return -1, fmt.Errorf("echoproto: connect: invalid server handle")
	}

	fd, err := dialNonblocking(srv.addr)
	if err != nil {
		return -1, err
	}

	if ok, _ := d.Transition(dcb.StatePolling); !ok {
		unix.Close(fd)
		return -1, fmt.Errorf("echoproto: connect: illegal transition to POLLING")
	}
	d.SetRemoteAddr(srv.addr)
	d.SetFD(fd)

	if err := e.poller.Add(d); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("echoproto: connect: poll_add: %w", err)
	}

	return fd, nil
}

// accept pulls one pending inbound connection off the listening socket
// listenerFD via accept4, then registers the resulting fd with the poll set.
func (e *echoProto) accept(d *dcb.DCB, listenerFD int) (int, error) {
	fd, err := acceptTCP(listenerFD)
	if err != nil {
		return -1, err
	}

	if ok, _ := d.Transition(dcb.StatePolling); !ok {
		unix.Close(fd)
		return -1, fmt.Errorf("echoproto: accept: illegal transition to POLLING")
	}
	d.SetFD(fd)

	if err := e.poller.Add(d); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("echoproto: accept: poll_add: %w", err)
	}

	return fd, nil
}

// read pulls bytes into a scratch chain and immediately queues them back
// onto the write queue — the entire "protocol": echo whatever arrives.
func (e *echoProto) read(d *dcb.DCB) (int, error) {
	chain := buffer.NewChain()
	n, err := d.Read(chain)
	if n > 0 {
		d.Write(chain)
	}
	return n, err
}

// write hands a chain straight to the DCB's write queue; the echo protocol
// has no framing of its own.
func (e *echoProto) write(d *dcb.DCB, chain *buffer.Chain) bool {
	return d.Write(chain)
}

// close has no protocol-specific teardown; the zombie reaper closes the fd
// itself immediately afterward.
func (e *echoProto) close(d *dcb.DCB) error {
	return nil
}

func (e *echoProto) onError(d *dcb.DCB, err error) {}

func (e *echoProto) onHangup(d *dcb.DCB) {}

// dialNonblocking opens a non-blocking TCP connection to addr, used by the
// echo protocol's Connect implementation.
func dialNonblocking(addr string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("dialNonblocking: socket: %w", err)
	}

	sa, err := resolveSockaddr(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("dialNonblocking: connect: %w", err)
	}
	return fd, nil
}

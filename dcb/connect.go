package dcb

import "sync/atomic"

// Server is the opaque backend-server handle Connect dials against. Only
// the connection counter is modeled here; everything else about a backend
// server (address, credentials, health) belongs to the router/filter layer
// this package treats as an external collaborator.
type Server struct {
	connCount uint64
}

// ConnCount returns the current number of DCBs connected to this server.
func (s *Server) ConnCount() uint64 { return atomic.LoadUint64(&s.connCount) }

// Connect composes C1-C5 into the outbound-connection path from spec.md
// §4.6: allocate a DCB, resolve the named protocol module, link the
// session, invoke the protocol's Connect to obtain an fd, bump the
// server's connection counter, and return the DCB. The protocol's Connect
// implementation is responsible for adding the DCB to the poll set.
func Connect(registry *Registry, protocols *ProtocolRegistry, zl *ZombieList, server *Server, session *Session, protocolName string) (*DCB, error) {
	d, err := registry.Allocate(RoleRequestHandler)
	if err != nil {
		return nil, err
	}

	ops, ok := protocols.Resolve(protocolName)
	if !ok {
		finalFreeUnconnected(d, registry)
		return nil, ErrProtocolNotFound
	}
	d.ops = ops

	if session == nil {
		finalFreeUnconnected(d, registry)
		return nil, ErrSessionGone
	}
	d.session = session

	fd, err := ops.Connect(d, server, session)
	if err != nil {
		d.initLock.Lock()
		transitionLocked(d, StateDisconnected)
		d.initLock.Unlock()
		finalFreeUnconnected(d, registry)
		return nil, err
	}
	d.setFD(fd)

	if server != nil {
		atomic.AddUint64(&server.connCount, 1)
	}

	return d, nil
}

// Accept is the listener-side mirror of Connect: it allocates a
// REQUEST_HANDLER DCB for a connection arriving on listener, resolves the
// same named protocol module, and invokes ops.Accept to obtain the
// accepted fd, adding it to the poll set through the protocol module just
// like Connect does.
func Accept(registry *Registry, protocols *ProtocolRegistry, listener *DCB, session *Session, protocolName string) (*DCB, error) {
	d, err := registry.Allocate(RoleRequestHandler)
	if err != nil {
		return nil, err
	}

	ops, ok := protocols.Resolve(protocolName)
	if !ok {
		finalFreeUnconnected(d, registry)
		return nil, ErrProtocolNotFound
	}
	d.ops = ops
	d.session = session

	fd, err := ops.Accept(d, listener.FD())
	if err != nil {
		d.initLock.Lock()
		transitionLocked(d, StateDisconnected)
		d.initLock.Unlock()
		finalFreeUnconnected(d, registry)
		return nil, err
	}
	d.setFD(fd)
	atomic.AddUint64(&listener.stats.Accepts, 1)

	return d, nil
}

// finalFreeUnconnected releases a DCB that never reached a pollable state
// (connect/accept failed before an fd was obtained). It mirrors
// ZombieList.finalFree's bookkeeping but skips the fd close and the
// zombie-list dance entirely, since no worker could possibly hold a
// reference to a DCB that was never added to the poll set.
func finalFreeUnconnected(d *DCB, registry *Registry) {
	registry.unlink(d)
	sess := d.session
	d.session = nil
	sess.closeOnce()
	d.protocolData = nil
	d.appData = nil
}

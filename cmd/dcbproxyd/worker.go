package main

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/sigma957/dcbcore/dcb"
	"github.com/sigma957/dcbcore/pollset"
)

// pollTimeout bounds each Wait call so a worker revisits ProcessZombies at
// a steady cadence even under a quiet poll set, mirroring spec.md §5's
// "poll, dispatch, reap, repeat" loop.
const pollTimeout = 250 * time.Millisecond

// Worker runs the poll-dispatch-reap loop from spec.md §5: block on the
// poller, dispatch ready DCBs' Read/Drain/protocol handlers, call
// ProcessZombies exactly once, repeat. tid is this worker's bit position in
// Poller.LiveWorkerMask.
type Worker struct {
	tid       uint
	poller    *pollset.Poller
	registry  *dcb.Registry
	protocols *dcb.ProtocolRegistry
	zombies   *dcb.ZombieList
	logger    *log.Logger

	events []pollset.Event
}

// NewWorker builds a Worker bound to tid's bit position in the shared
// live-worker mask.
func NewWorker(tid uint, poller *pollset.Poller, registry *dcb.Registry, protocols *dcb.ProtocolRegistry, zombies *dcb.ZombieList, logger *log.Logger) *Worker {
	return &Worker{
		tid:       tid,
		poller:    poller,
		registry:  registry,
		protocols: protocols,
		zombies:   zombies,
		logger:    logger,
		events:    make([]pollset.Event, 64),
	}
}

// Run executes the loop until stop is closed. Only the OS poll call and
// explicit lock acquisitions inside the DCB core may suspend this
// goroutine; handlers themselves must stay non-blocking per spec.md §5.
//
// The live-worker mask bit for tid is set when Run starts and cleared when
// it returns, so it covers both the time spent blocked in Wait and the
// dispatch/reap window. Close's threadMask snapshot (dcb/zombie.go) depends
// on this: Wait resolves events to DCB pointers before returning, so a
// worker that is still inside Wait when another worker closes a DCB may
// already hold a reference to it, and its bit must be in the snapshot until
// its next ProcessZombies pass clears it.
func (w *Worker) Run(stop <-chan struct{}) {
	w.poller.WorkerEnter(w.tid)
	defer w.poller.WorkerExit(w.tid)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := w.poller.Wait(w.events, pollTimeout)
		if err != nil {
			if w.logger != nil {
				w.logger.Error("poll wait failed", "tid", w.tid, "err", err)
			}
			continue
		}

		for i := 0; i < n; i++ {
			w.dispatch(w.events[i])
		}

		w.zombies.ProcessZombies(w.tid, w.registry)
	}
}

// dispatch runs the handler appropriate to one readiness event. A listener
// DCB's readable event means "accept"; a request-handler DCB's readable
// event means "call the protocol's Read handler"; its writable event means
// "drain the write queue".
func (w *Worker) dispatch(ev pollset.Event) {
	d := ev.DCB
	if d == nil {
		return
	}
	ops := d.Ops()

	if ev.Err {
		if ops != nil && ops.ErrorHandler != nil {
			ops.ErrorHandler(d, nil)
		}
		_ = d.Close(w.zombies)
		return
	}
	if ev.Hangup {
		if ops != nil && ops.HangupHandler != nil {
			ops.HangupHandler(d)
		}
		_ = d.Close(w.zombies)
		return
	}

	if ev.Readable {
		if d.Role() == dcb.RoleListener {
			w.acceptOne(d)
		} else if ops != nil && ops.Read != nil {
			if _, err := ops.Read(d); err != nil {
				_ = d.Close(w.zombies)
				return
			}
		}
	}

	if ev.Writable {
		if _, err := d.Drain(); err != nil {
			_ = d.Close(w.zombies)
			return
		}
	}
}

// acceptOne runs the listener-side mirror of connect (spec.md §4.6): a new
// session is minted, dcb.Accept resolves the protocol module and obtains
// the accepted fd, and the protocol's Accept implementation (echoproto.go)
// is responsible for transitioning the child DCB to POLLING and adding it
// to the poll set.
func (w *Worker) acceptOne(listener *dcb.DCB) {
	protocolName, _ := listener.AppData().(string)
	session := dcb.NewSession(nil, nil, nil)
	child, err := dcb.Accept(w.registry, w.protocols, listener, session, protocolName)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("accept failed", "listener", listener.ID(), "err", err)
		}
		return
	}
	if w.logger != nil {
		w.logger.Info("accepted connection", "dcb", child.ID(), "fd", child.FD())
	}
}

package dcb

import (
	"errors"
	"sync/atomic"
	"syscall"

	"github.com/sigma957/dcbcore/buffer"
)

// isRetryable reports whether err is the "try again later" class from
// spec.md §9's resolved Open Question 2: only EAGAIN/EWOULDBLOCK cause a
// write to retain its remainder and report success; any other error is a
// failure, remainder still retained.
func isRetryable(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// rawWrite is overridden in tests; in production it is syscall.Write.
var rawWrite = syscall.Write

// Write implements the C3 contract: if the write queue is non-empty, the
// new chain is appended and a later Drain will send it. Otherwise each
// buffer is sent directly; on a short write or EAGAIN the remainder becomes
// the new write queue; on any other error the remainder is retained and
// Write reports failure.
func (d *DCB) Write(chain *buffer.Chain) bool {
	if chain == nil || chain.Empty() {
		return true
	}

	d.writeqLock.Lock()
	defer d.writeqLock.Unlock()

	atomic.AddUint64(&d.stats.Writes, 1)

	if !d.writeq.Empty() {
		d.writeq.AppendChain(chain)
		atomic.AddUint64(&d.stats.BufferedWrites, 1)
		return true
	}

	fd := d.FD()
	ok := true
	for {
		seg, have := chain.Front()
		if !have {
			break
		}

		n, err := rawWrite(fd, seg)
		if n > 0 {
			seg = seg[n:]
		}

		if len(seg) > 0 || err != nil {
			// short write, EAGAIN, or a fatal error: this segment (or
			// what's left of it) and everything behind it becomes the
			// new write queue.
			chain.PopFront()
			if len(seg) > 0 {
				chain.PushFront(seg)
			}
			d.writeq.AppendChain(chain)
			if err != nil && !isRetryable(err) {
				ok = false
			}
			if d.poller != nil {
				_ = d.poller.SetWritable(d, true)
			}
			break
		}

		chain.PopFront()
	}

	if !d.writeq.Empty() {
		atomic.AddUint64(&d.stats.BufferedWrites, 1)
	}
	return ok
}

// Drain is called by the poll layer on writable events. It sends buffers
// from the head of the queue until either the queue empties or a
// short/EAGAIN write occurs, returning the number of bytes written in this
// invocation.
func (d *DCB) Drain() (int, error) {
	d.writeqLock.Lock()
	defer d.writeqLock.Unlock()

	fd := d.FD()
	total := 0
	for {
		seg, have := d.writeq.Front()
		if !have {
			if d.poller != nil {
				_ = d.poller.SetWritable(d, false)
			}
			return total, nil
		}

		n, err := rawWrite(fd, seg)
		if n > 0 {
			total += n
			seg = seg[n:]
		}

		if len(seg) > 0 {
			d.writeq.PopFront()
			d.writeq.PushFront(seg)
			if err != nil && !isRetryable(err) {
				return total, err
			}
			return total, nil
		}

		d.writeq.PopFront()

		if err != nil {
			if isRetryable(err) {
				return total, nil
			}
			return total, err
		}
	}
}

// WriteQueueLen reports the number of bytes currently buffered on the
// write queue (diagnostics only).
func (d *DCB) WriteQueueLen() int {
	d.writeqLock.Lock()
	defer d.writeqLock.Unlock()
	return d.writeq.ByteLen()
}

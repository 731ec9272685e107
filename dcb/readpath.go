package dcb

import (
	"io"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sigma957/dcbcore/buffer"
)

// MaxBufferSize bounds a single read-path allocation (spec.md §4.4).
const MaxBufferSize = 4096

// readableCount queries the kernel for the number of immediately readable
// bytes on fd, via FIONREAD — the same mechanism gaio's poller and gaio's
// forks use to size a single read, done here through golang.org/x/sys/unix
// rather than a raw syscall.
var readableCount = func(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.FIONREAD)
}

// rawRead is overridden in tests; in production it is syscall.Read.
var rawRead = syscall.Read

// Read implements the C4 contract: pull available bytes from the DCB's
// descriptor into out, one MaxBufferSize-capped allocation at a time, until
// the kernel reports no more immediately readable bytes, the peer has
// closed, EAGAIN is seen, or a fatal error occurs. No DCB lock is held
// across the read syscall itself.
func (d *DCB) Read(out *buffer.Chain) (int, error) {
	fd := d.FD()
	total := 0

	for {
		avail, err := readableCount(fd)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return -1, err
		}
		if avail <= 0 {
			break
		}

		size := avail
		if size > MaxBufferSize {
			size = MaxBufferSize
		}

		buf := make([]byte, size)
		n, err := rawRead(fd, buf)
		if n > 0 {
			out.PushBack(buf[:n])
			total += n
			atomic.AddUint64(&d.stats.Reads, 1)
		}

		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				if total > 0 {
					return total, nil
				}
				return 0, nil
			}
			return -1, err
		}

		if n == 0 {
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}
	}

	return total, nil
}

package main

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigma957/dcbcore/dcb"
	"github.com/sigma957/dcbcore/pollset"
)

// TestWorkerMaskProtectsStalledDispatcher drives the real Worker.Run loop
// against a real epoll-backed pollset.Poller (no fakes, unlike
// dcb/zombie_test.go's static-mask scenarios) to exercise the live-worker
// mask's set/clear polarity end to end.
//
// One worker is made to stall inside a protocol Read call — mid-dispatch,
// holding a live reference to the DCB — while a second worker, woken by the
// same level-triggered readable event (epoll delivers it to every waiter
// until Remove, so duplicate delivery across workers is the expected, not
// exceptional, case here), closes the DCB concurrently. The DCB must not
// reach FREED until the stalled worker itself finishes dispatching and
// clears its own mask bit: if WorkerEnter/WorkerExit were called around the
// wrong window, the stalled worker's bit would already be clear by the time
// Close snapshots LiveWorkerMask, and the zombie reaper would free the DCB
// — and close its fd — while the stalled worker is still inside Read.
func TestWorkerMaskProtectsStalledDispatcher(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pw.Close()
	defer pr.Close()
	_, err = pw.Write([]byte("x"))
	require.NoError(t, err)

	poller, err := pollset.New()
	require.NoError(t, err)
	defer poller.Close()

	registry := dcb.NewRegistry(poller, nil)
	zombies := dcb.NewZombieList(nil)
	protocols := dcb.NewProtocolRegistry()

	var entered int32
	started := make(chan struct{})
	release := make(chan struct{})
	errStall := errors.New("stalled read")

	protocols.Register("stall", &dcb.ProtocolOps{
		Connect: func(d *dcb.DCB, server interface{}, session *dcb.Session) (int, error) {
			if ok, _ := d.Transition(dcb.StatePolling); !ok {
				return -1, errors.New("bad transition")
			}
			d.SetFD(int(pr.Fd()))
			if err := poller.Add(d); err != nil {
				return -1, err
			}
			return int(pr.Fd()), nil
		},
		Read: func(d *dcb.DCB) (int, error) {
			if atomic.AddInt32(&entered, 1) == 1 {
				close(started)
				<-release
			}
			return 0, errStall
		},
	})

	sess := dcb.NewSession(nil, nil, nil)
	d, err := dcb.Connect(registry, protocols, zombies, &dcb.Server{}, sess, "stall")
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for tid := uint(0); tid < 3; tid++ {
		w := NewWorker(tid, poller, registry, protocols, zombies, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(stop)
		}()
	}
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("no worker ever entered the stalled read")
	}

	// While the first worker is still stuck inside Read, the DCB must stay
	// live no matter how many poll/reap cycles the other workers run.
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.Equal(t, 1, registry.Count(), "DCB must not be freed while a worker is mid-dispatch")
		require.NotEqual(t, dcb.StateFreed, d.State())
		time.Sleep(10 * time.Millisecond)
	}

	close(release)

	require.Eventually(t, func() bool {
		return registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond, "DCB must be freed once the stalled worker clears its mask bit")
	require.Equal(t, dcb.StateFreed, d.State())
}

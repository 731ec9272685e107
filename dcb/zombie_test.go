package dcb

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRouterSession records CloseSession invocations for assertions about
// exactly-once teardown (spec.md §4.5's final-free contract).
type fakeRouterSession struct {
	calls int32
}

func (f *fakeRouterSession) CloseSession(routerInstance, routerSession interface{}) {
	atomic.AddInt32(&f.calls, 1)
}

// fakePoller is a minimal dcb.Poller for zombie-reaper tests: Remove is
// counted, LiveWorkerMask is fixed by the test.
type fakePoller struct {
	mu          sync.Mutex
	removeCount int
	mask        uint64
}

func (p *fakePoller) Add(d *DCB) error { return nil }

func (p *fakePoller) Remove(d *DCB) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeCount++
	return nil
}

func (p *fakePoller) SetWritable(d *DCB, want bool) error { return nil }

func (p *fakePoller) LiveWorkerMask() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mask
}

func newClosableDCB(t *testing.T, poller Poller) (*Registry, *DCB) {
	t.Helper()
	r := NewRegistry(poller, nil)
	d, err := r.Allocate(RoleRequestHandler)
	require.NoError(t, err)
	d.setFD(-1)
	ok, _ := d.Transition(StatePolling)
	require.True(t, ok)
	return r, d
}

// TestCloseIdempotent is Testable Property 2: calling Close twice from the
// same thread is safe; the second call is a no-op and the DCB is freed
// exactly once.
func TestCloseIdempotent(t *testing.T) {
	origClose := rawClose
	rawClose = func(fd int) error { return nil }
	t.Cleanup(func() { rawClose = origClose })

	poller := &fakePoller{mask: 0}
	r, d := newClosableDCB(t, poller)
	zl := NewZombieList(nil)

	err := d.Close(zl)
	require.NoError(t, err)
	assert.Equal(t, 1, poller.removeCount)

	err = d.Close(zl)
	assert.ErrorIs(t, err, ErrAlreadyClosing)
	assert.Equal(t, 1, poller.removeCount, "a second close must not touch the poller again")

	reaped := zl.ProcessZombies(0, r)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, StateFreed, d.State())
	assert.Equal(t, 0, r.Count())
}

// TestConcurrentClose is Scenario S3: two workers call Close(dcb)
// simultaneously; exactly one observes the POLLING->NOPOLLING transition,
// poll_remove is called exactly once, and one zombie-list entry results.
func TestConcurrentClose(t *testing.T) {
	origClose := rawClose
	rawClose = func(fd int) error { return nil }
	t.Cleanup(func() { rawClose = origClose })

	poller := &fakePoller{mask: 0}
	r, d := newClosableDCB(t, poller)
	zl := NewZombieList(nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.Close(zl)
		}()
	}
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyClosing)
			failures++
		}
	}
	assert.Equal(t, 1, successes, "exactly one Close should observe the transition")
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, poller.removeCount, "poll_remove must be called exactly once")

	reaped := zl.ProcessZombies(0, r)
	assert.Equal(t, 1, reaped, "exactly one zombie-list entry should have been created")
}

// TestDeferredReclaim is Scenario S4: workers {0,1,2} are live; after close,
// thread_mask = {0,1,2}; reaping proceeds worker by worker, and only the
// final worker's pass triggers final-free, with CloseSession called
// exactly once.
func TestDeferredReclaim(t *testing.T) {
	origClose := rawClose
	rawClose = func(fd int) error { return nil }
	t.Cleanup(func() { rawClose = origClose })

	poller := &fakePoller{mask: 0b111}
	r, d := newClosableDCB(t, poller)

	router := &fakeRouterSession{}
	sess := NewSession(router, "inst", "sess")
	d.session = sess

	zl := NewZombieList(nil)
	require.NoError(t, d.Close(zl))
	assert.Equal(t, uint64(0b111), d.threadMask)

	assert.Equal(t, 0, zl.ProcessZombies(0, r))
	assert.Equal(t, StateZombie, d.State())
	assert.Equal(t, int32(0), atomic.LoadInt32(&router.calls))

	assert.Equal(t, 0, zl.ProcessZombies(1, r))
	assert.Equal(t, int32(0), atomic.LoadInt32(&router.calls))

	assert.Equal(t, 1, zl.ProcessZombies(2, r))
	assert.Equal(t, StateFreed, d.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&router.calls), "CloseSession must run exactly once")

	// Further ProcessZombies calls from any worker must be no-ops: the
	// entry is already gone.
	assert.Equal(t, 0, zl.ProcessZombies(0, r))
	assert.Equal(t, 0, zl.ProcessZombies(1, r))
	assert.Equal(t, 0, zl.ProcessZombies(2, r))
}

// TestZombieDrainCompleteness is Testable Property 5: after closing K DCBs
// and letting every worker call ProcessZombies at least once, all K have
// been finally freed and removed from the registry.
func TestZombieDrainCompleteness(t *testing.T) {
	origClose := rawClose
	rawClose = func(fd int) error { return nil }
	t.Cleanup(func() { rawClose = origClose })

	const k = 25
	const workers = 4
	poller := &fakePoller{mask: (uint64(1) << workers) - 1}
	r := NewRegistry(poller, nil)
	zl := NewZombieList(nil)

	dcbs := make([]*DCB, k)
	for i := range dcbs {
		d, err := r.Allocate(RoleRequestHandler)
		require.NoError(t, err)
		ok, _ := d.Transition(StatePolling)
		require.True(t, ok)
		require.NoError(t, d.Close(zl))
		dcbs[i] = d
	}

	require.Equal(t, k, r.Count())

	reaped := 0
	for tid := uint(0); tid < workers; tid++ {
		reaped += zl.ProcessZombies(tid, r)
	}

	assert.Equal(t, k, reaped)
	assert.Equal(t, 0, r.Count())
	for _, d := range dcbs {
		assert.Equal(t, StateFreed, d.State())
	}
}

// TestCloseOnListeningDCBRoutesThroughPolling exercises the close
// protocol's documented "LISTENING->NOPOLLING via an equivalent path"
// (spec.md §4.5 point 1): a listener DCB closes successfully even though
// the transition table has no direct LISTENING->NOPOLLING edge.
func TestCloseOnListeningDCBRoutesThroughPolling(t *testing.T) {
	origClose := rawClose
	rawClose = func(fd int) error { return nil }
	t.Cleanup(func() { rawClose = origClose })

	poller := &fakePoller{mask: 0}
	r := NewRegistry(poller, nil)
	d, err := r.Allocate(RoleListener)
	require.NoError(t, err)
	ok, _ := d.Transition(StateListening)
	require.True(t, ok)

	zl := NewZombieList(nil)
	require.NoError(t, d.Close(zl))
	assert.Equal(t, 1, zl.ProcessZombies(0, r))
	assert.Equal(t, StateFreed, d.State())
}

// TestZombieListRejectsDuplicateInsert covers spec.md §9's resolved Open
// Question: a DCB already on the zombie list is not inserted twice, even
// if add is called again directly.
func TestZombieListRejectsDuplicateInsert(t *testing.T) {
	origClose := rawClose
	rawClose = func(fd int) error { return nil }
	t.Cleanup(func() { rawClose = origClose })

	poller := &fakePoller{mask: 0}
	r, d := newClosableDCB(t, poller)
	zl := NewZombieList(nil)

	require.NoError(t, d.Close(zl))
	zl.add(d) // direct duplicate-insert attempt

	reaped := zl.ProcessZombies(0, r)
	assert.Equal(t, 1, reaped, "duplicate insert must not cause a double-free")
}

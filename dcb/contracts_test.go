package dcb

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionCloseOnceRunsExactlyOnceUnderContention(t *testing.T) {
	router := &fakeRouterSession{}
	sess := NewSession(router, "inst", "sess")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.closeOnce()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&router.calls))
}

func TestSessionCloseOnceOnNilSessionIsNoOp(t *testing.T) {
	var sess *Session
	assert.NotPanics(t, func() { sess.closeOnce() })
}

func TestSessionCloseOnceWithNilRouterDoesNotPanic(t *testing.T) {
	sess := NewSession(nil, nil, nil)
	assert.NotPanics(t, func() { sess.closeOnce() })
}

package dcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAllocateAppendsAndCounts(t *testing.T) {
	r := NewRegistry(nil, nil)

	d1, err := r.Allocate(RoleRequestHandler)
	require.NoError(t, err)
	require.NotNil(t, d1)
	assert.Equal(t, StateAlloc, d1.State())
	assert.Equal(t, -1, d1.FD(), "a freshly allocated DCB has no fd yet")

	d2, err := r.Allocate(RoleListener)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Count())

	var seen []*DCB
	r.Enumerate(func(d *DCB) { seen = append(seen, d) })
	assert.ElementsMatch(t, []*DCB{d1, d2}, seen)
}

func TestRegistryAllocateRejectsInvalidRole(t *testing.T) {
	r := NewRegistry(nil, nil)
	d, err := r.Allocate(Role(99))
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrAllocFailed)
}

func TestRegistryUnlinkRemovesExactlyOne(t *testing.T) {
	r := NewRegistry(nil, nil)
	d1, _ := r.Allocate(RoleRequestHandler)
	d2, _ := r.Allocate(RoleRequestHandler)
	d3, _ := r.Allocate(RoleRequestHandler)

	r.unlink(d2)

	assert.Equal(t, 2, r.Count())
	var seen []*DCB
	r.Enumerate(func(d *DCB) { seen = append(seen, d) })
	assert.ElementsMatch(t, []*DCB{d1, d3}, seen)
}

func TestRegistryUnlinkHeadAndTail(t *testing.T) {
	r := NewRegistry(nil, nil)
	d1, _ := r.Allocate(RoleRequestHandler)
	d2, _ := r.Allocate(RoleRequestHandler)

	r.unlink(d1)
	assert.Equal(t, 1, r.Count())
	r.unlink(d2)
	assert.Equal(t, 0, r.Count())

	var seen []*DCB
	r.Enumerate(func(d *DCB) { seen = append(seen, d) })
	assert.Empty(t, seen)
}

func TestRegistrySnapshotIsStableOrdered(t *testing.T) {
	r := NewRegistry(nil, nil)
	for i := 0; i < 10; i++ {
		_, err := r.Allocate(RoleRequestHandler)
		require.NoError(t, err)
	}

	snap1 := r.Snapshot()
	snap2 := r.Snapshot()
	require.Len(t, snap1, 10)
	assert.Equal(t, snap1, snap2, "Snapshot order must be stable across calls")

	for i := 1; i < len(snap1); i++ {
		assert.Less(t, snap1[i-1].id.Compare(snap1[i].id), 0, "Snapshot must be sorted by id")
	}
}

// Package buffer implements the buffer chain: an ordered sequence of owned
// byte-buffer segments, the unit of queued I/O handed between callers and a
// DCB's write queue (C3) and read path (C4).
package buffer

import (
	"github.com/ef-ds/deque"
)

// Chain is a linked sequence of owned []byte segments. It is not
// thread-safe by itself: callers serialize access via whichever lock owns
// the chain (a DCB's write-queue lock, for instance) — the same contract
// ekatyp's Deque wrapper documents for github.com/ef-ds/deque.
type Chain struct {
	segments deque.Deque
	byteLen  int
}

// NewChain builds a chain from zero or more initial segments, in order.
func NewChain(segments ...[]byte) *Chain {
	c := &Chain{}
	for _, s := range segments {
		c.PushBack(s)
	}
	return c
}

// PushBack appends an owned segment to the tail of the chain.
func (c *Chain) PushBack(seg []byte) {
	if len(seg) == 0 {
		return
	}
	c.segments.PushBack(seg)
	c.byteLen += len(seg)
}

// PushFront re-queues an owned segment (typically a partially-written
// remainder) at the head of the chain.
func (c *Chain) PushFront(seg []byte) {
	if len(seg) == 0 {
		return
	}
	c.segments.PushFront(seg)
	c.byteLen += len(seg)
}

// PopFront removes and returns the head segment, if any.
func (c *Chain) PopFront() ([]byte, bool) {
	v, ok := c.segments.PopFront()
	if !ok {
		return nil, false
	}
	seg := v.([]byte)
	c.byteLen -= len(seg)
	return seg, true
}

// Front returns the head segment without removing it.
func (c *Chain) Front() ([]byte, bool) {
	v, ok := c.segments.Front()
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Len reports the number of segments queued.
func (c *Chain) Len() int {
	return c.segments.Len()
}

// ByteLen reports the total number of bytes across all queued segments.
func (c *Chain) ByteLen() int {
	return c.byteLen
}

// Empty reports whether the chain has no queued segments.
func (c *Chain) Empty() bool {
	return c.segments.Len() == 0
}

// AppendChain moves every segment of other onto the tail of c, in order,
// leaving other empty. Used when a write queue is non-empty and a new
// chain must be appended for a later drain.
func (c *Chain) AppendChain(other *Chain) {
	if other == nil {
		return
	}
	for {
		seg, ok := other.PopFront()
		if !ok {
			break
		}
		c.PushBack(seg)
	}
}

// Bytes concatenates every queued segment into a single owned slice.
// Intended for diagnostics and tests, not the hot path.
func (c *Chain) Bytes() []byte {
	out := make([]byte, 0, c.byteLen)
	for i := 0; i < c.segments.Len(); i++ {
		v, _ := c.segments.PopFront()
		seg := v.([]byte)
		out = append(out, seg...)
		c.segments.PushBack(seg)
	}
	return out
}

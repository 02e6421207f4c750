// Package ring provides the single-producer single-consumer queue between a
// venue's WebSocket reader and its parser goroutine.
package ring

import (
	"fmt"
	"sync/atomic"
)

// Ring is a fixed-capacity SPSC ring of raw frames. Exactly one goroutine
// may call TryPush and exactly one may call TryPop. head is the next write
// slot and tail the next read slot, both masked by capacity-1; one slot is
// sacrificed to tell full from empty, so usable capacity is capacity-1.
type Ring struct {
	// head and tail sit on separate cache lines to avoid false sharing
	// between the producer and consumer cores.
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
	_    [56]byte

	buf  [][]byte
	mask uint64
}

// New allocates a ring with the given power-of-two capacity.
func New(capacityPow2 uint64) (*Ring, error) {
	if capacityPow2 == 0 || capacityPow2&(capacityPow2-1) != 0 {
		return nil, fmt.Errorf("ring capacity %d is not a power of two", capacityPow2)
	}
	return &Ring{buf: make([][]byte, capacityPow2), mask: capacityPow2 - 1}, nil
}

// TryPush publishes one frame. Returns false when the ring is full; the
// caller's backpressure policy decides what happens then.
func (r *Ring) TryPush(frame []byte) bool {
	head := r.head.Load()
	next := (head + 1) & r.mask
	if next == r.tail.Load() {
		return false // full
	}
	r.buf[head] = frame
	r.head.Store(next) // release: frame visible before index
	return true
}

// TryPop takes the oldest frame. Returns nil, false when the ring is empty.
func (r *Ring) TryPop() ([]byte, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() { // acquire pairs with TryPush's store
		return nil, false
	}
	frame := r.buf[tail]
	r.buf[tail] = nil
	r.tail.Store((tail + 1) & r.mask)
	return frame, true
}

func (r *Ring) Empty() bool {
	return r.head.Load() == r.tail.Load()
}

func (r *Ring) Full() bool {
	return (r.head.Load()+1)&r.mask == r.tail.Load()
}

// Cap is the usable capacity (one slot is sacrificed).
func (r *Ring) Cap() int { return len(r.buf) - 1 }

// Len is the number of frames currently queued. Approximate when both
// endpoints are active.
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int((head - tail) & r.mask)
}

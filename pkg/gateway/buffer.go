// Package gateway is the Unix-domain-socket front of the daemon. It speaks
// line-delimited JSON frames: request frames are dispatched to the
// coordination service, and connections that send SUBSCRIBE are pinned as
// live subscribers fed by the Hub.
package gateway

import (
	"sync"

	"crewlink/pkg/protocol"
)

// frameBuffer is a bounded FIFO of interactions awaiting delivery to one
// subscriber. When full, the oldest interactions are evicted to make room,
// so a slow subscriber loses history instead of stalling the publisher.
type frameBuffer struct {
	mu  sync.Mutex
	ins []protocol.Interaction
	cap int
}

// newFrameBuffer creates a buffer with the given maximum capacity.
func newFrameBuffer(capacity int) *frameBuffer {
	return &frameBuffer{
		ins: make([]protocol.Interaction, 0, capacity),
		cap: capacity,
	}
}

// add appends an interaction. If the buffer is full, the oldest is evicted.
func (b *frameBuffer) add(in protocol.Interaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ins) >= b.cap {
		// Evict oldest
		copy(b.ins, b.ins[1:])
		b.ins[len(b.ins)-1] = in
	} else {
		b.ins = append(b.ins, in)
	}
}

// drain returns all buffered interactions and clears the buffer.
func (b *frameBuffer) drain() []protocol.Interaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ins) == 0 {
		return nil
	}
	out := make([]protocol.Interaction, len(b.ins))
	copy(out, b.ins)
	b.ins = b.ins[:0]
	return out
}

// size returns the number of buffered interactions.
func (b *frameBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ins)
}

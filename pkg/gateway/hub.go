package gateway

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"crewlink/pkg/protocol"
)

// defaultBufferCap bounds each subscriber's pending interactions.
const defaultBufferCap = 256

// Subscriber is one live connection receiving an execution's interaction
// stream.
type Subscriber struct {
	ID          string
	ExecutionID string

	// AgentID scopes visibility. Empty means an observer that sees the
	// whole execution.
	AgentID string

	conn    net.Conn
	writeMu *sync.Mutex
	buf     *frameBuffer
	notify  chan struct{}
	done    chan struct{}
	closed  sync.Once

	mu       sync.Mutex
	lastSeen time.Time
}

// touch records liveness.
func (s *Subscriber) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Subscriber) seen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// close shuts the writer down and closes the connection. Idempotent.
func (s *Subscriber) close() {
	s.closed.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// canSee reports whether the interaction is visible to this subscriber.
func (s *Subscriber) canSee(in protocol.Interaction) bool {
	if s.AgentID == "" {
		return true
	}
	return in.Broadcast() || in.ToAgentID == s.AgentID || in.FromAgentID == s.AgentID
}

// writeFrame marshals and writes one newline-delimited frame.
func (s *Subscriber) writeFrame(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.conn.Write(data)
	return err
}

// run drains the buffer whenever notified and writes INTERACTION frames.
// A write error tears the subscriber down.
func (s *Subscriber) run(h *Hub) {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			for _, in := range s.buf.drain() {
				in := in
				err := s.writeFrame(protocol.Frame{
					Type:        protocol.FrameInteraction,
					Interaction: &in,
				})
				if err != nil {
					h.Unsubscribe(s)
					return
				}
			}
		}
	}
}

// Hub fans interactions out to live subscribers, keyed by execution.
// Publish never blocks: each subscriber has a bounded drop-oldest buffer
// drained by its own writer goroutine.
type Hub struct {
	bufferCap int

	mu   sync.Mutex
	subs map[string]map[string]*Subscriber // executionID -> subscriberID -> sub

	// nowFunc returns the current time. Overridable in tests.
	nowFunc func() time.Time
}

// NewHub creates a Hub. bufferCap <= 0 uses the default.
func NewHub(bufferCap int) *Hub {
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	return &Hub{
		bufferCap: bufferCap,
		subs:      make(map[string]map[string]*Subscriber),
		nowFunc:   time.Now,
	}
}

// Subscribe registers conn as a live subscriber and starts its writer.
// writeMu must be the mutex guarding all writes to conn, so streamed
// interactions and request replies never interleave mid-frame.
func (h *Hub) Subscribe(executionID, agentID string, conn net.Conn, writeMu *sync.Mutex) *Subscriber {
	sub := &Subscriber{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		AgentID:     agentID,
		conn:        conn,
		writeMu:     writeMu,
		buf:         newFrameBuffer(h.bufferCap),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	sub.touch(h.nowFunc())

	h.mu.Lock()
	byID, ok := h.subs[executionID]
	if !ok {
		byID = make(map[string]*Subscriber)
		h.subs[executionID] = byID
	}
	byID[sub.ID] = sub
	h.mu.Unlock()

	go sub.run(h)
	return sub
}

// Unsubscribe removes the subscriber and closes its connection.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if byID, ok := h.subs[sub.ExecutionID]; ok {
		delete(byID, sub.ID)
		if len(byID) == 0 {
			delete(h.subs, sub.ExecutionID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish enqueues the interaction for every subscriber of its execution
// that may see it. Never blocks.
func (h *Hub) Publish(in protocol.Interaction) {
	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subs[in.ExecutionID]))
	for _, sub := range h.subs[in.ExecutionID] {
		if sub.canSee(in) {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.buf.add(in)
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Touch records liveness for a subscriber, typically on PONG.
func (h *Hub) Touch(executionID, subscriberID string) {
	h.mu.Lock()
	sub := h.subs[executionID][subscriberID]
	h.mu.Unlock()
	if sub != nil {
		sub.touch(h.nowFunc())
	}
}

// PingAll sends a PING to every subscriber.
func (h *Hub) PingAll() {
	for _, sub := range h.snapshot() {
		if err := sub.writeFrame(protocol.Frame{Type: protocol.FramePing}); err != nil {
			h.Unsubscribe(sub)
		}
	}
}

// CloseIdle disconnects subscribers that have shown no liveness within
// timeout. Returns how many were closed.
func (h *Hub) CloseIdle(timeout time.Duration) int {
	cutoff := h.nowFunc().Add(-timeout)
	var closed int
	for _, sub := range h.snapshot() {
		if sub.seen().Before(cutoff) {
			h.Unsubscribe(sub)
			closed++
		}
	}
	return closed
}

// CloseAll disconnects everything, for shutdown.
func (h *Hub) CloseAll() {
	for _, sub := range h.snapshot() {
		h.Unsubscribe(sub)
	}
}

// SubscriberCount returns the number of live subscribers for an execution.
func (h *Hub) SubscriberCount(executionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[executionID])
}

func (h *Hub) snapshot() []*Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Subscriber
	for _, byID := range h.subs {
		for _, sub := range byID {
			out = append(out, sub)
		}
	}
	return out
}

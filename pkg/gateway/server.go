package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"crewlink/pkg/conflict"
	"crewlink/pkg/coord"
	"crewlink/pkg/protocol"
)

// maxFrameSize bounds a single line-delimited frame on the wire.
const maxFrameSize = 1 << 20

// Config holds gateway configuration.
type Config struct {
	SocketPath        string        // UDS socket path.
	BufferCap         int           // Per-subscriber buffer capacity (default 256).
	KeepAliveInterval time.Duration // PING cadence for subscribers (default 15s).
	IdleTimeout       time.Duration // Subscriber liveness timeout (default 45s).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BufferCap == 0 {
		out.BufferCap = defaultBufferCap
	}
	if out.KeepAliveInterval == 0 {
		out.KeepAliveInterval = 15 * time.Second
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = 45 * time.Second
	}
	return out
}

// Server accepts UDS connections and routes frames to the coordination
// service. Connections that SUBSCRIBE stay pinned and receive the execution's
// interaction stream through the Hub.
type Server struct {
	cfg Config
	svc *coord.Service
	hub *Hub

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server. It does not start listening; call Run.
func NewServer(cfg Config, svc *coord.Service, hub *Hub) *Server {
	return &Server{
		cfg: cfg.withDefaults(),
		svc: svc,
		hub: hub,
	}
}

// Run binds the socket and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := cleanStaleSocket(s.cfg.SocketPath); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath) //nolint:noctx // UDS bind is instant
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.cfg.SocketPath, err)
	}
	// Coordination traffic is local and private to the owner.
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket %s: %w", s.cfg.SocketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ctx, ln)
	go s.keepAliveLoop(ctx)

	<-ctx.Done()

	s.hub.CloseAll()
	_ = ln.Close()
	_ = os.Remove(s.cfg.SocketPath)
	return nil
}

// acceptLoop accepts client connections.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// keepAliveLoop pings subscribers and drops the ones that stopped
// answering.
func (s *Server) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.CloseIdle(s.cfg.IdleTimeout)
			s.hub.PingAll()
		}
	}
}

// handleConn reads line-delimited JSON frames from one connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	writeMu := &sync.Mutex{}
	var sub *Subscriber

	defer func() {
		if sub != nil {
			s.hub.Unsubscribe(sub)
		}
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			s.write(conn, writeMu, errorFrame(&protocol.ValidationError{
				Field: "frame", Reason: "malformed JSON",
			}))
			continue
		}

		// Any inbound frame counts as liveness.
		if sub != nil {
			sub.touch(time.Now())
		}

		switch frame.Type {
		case protocol.FrameSubscribe:
			if frame.Subscribe == nil || frame.Subscribe.ExecutionID == "" {
				s.write(conn, writeMu, errorFrame(&protocol.ValidationError{
					Field: "subscribe", Reason: "execution_id required",
				}))
				continue
			}
			if sub != nil {
				s.write(conn, writeMu, errorFrame(&protocol.ValidationError{
					Field: "subscribe", Reason: "connection already subscribed",
				}))
				continue
			}
			sub = s.hub.Subscribe(frame.Subscribe.ExecutionID, frame.Subscribe.AgentID, conn, writeMu)
			s.write(conn, writeMu, protocol.Frame{
				Type: protocol.FrameSubscribed,
				Subscribed: &protocol.SubscribedPayload{
					SubscriberID: sub.ID,
					ExecutionID:  sub.ExecutionID,
				},
			})

		case protocol.FramePing:
			s.write(conn, writeMu, protocol.Frame{Type: protocol.FramePong})

		case protocol.FramePong:
			// Liveness already recorded above.

		default:
			s.write(conn, writeMu, s.dispatch(ctx, frame))
		}
	}
}

// write sends one frame under the connection's write mutex.
func (s *Server) write(conn net.Conn, writeMu *sync.Mutex, f protocol.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	data = append(data, '\n')

	writeMu.Lock()
	defer writeMu.Unlock()
	_, _ = conn.Write(data)
}

// dispatch routes a request frame to the service and shapes the reply.
func (s *Server) dispatch(ctx context.Context, f protocol.Frame) protocol.Frame {
	switch f.Type {
	case protocol.FrameMessage:
		p := f.Message
		if p == nil {
			return missingPayload("message")
		}
		rcpt, err := s.svc.PostMessage(ctx, coord.MessageRequest{
			ExecutionID:      p.ExecutionID,
			FromAgentID:      p.FromAgentID,
			ToAgentID:        p.ToAgentID,
			Body:             p.Body,
			Priority:         p.Priority,
			RequiresResponse: p.RequiresResponse,
			ResponseDeadline: p.ResponseDeadline,
		})
		return reply(rcpt, err)

	case protocol.FrameEvent:
		p := f.Event
		if p == nil {
			return missingPayload("event")
		}
		rcpt, err := s.svc.PublishEvent(ctx, coord.EventRequest{
			ExecutionID: p.ExecutionID,
			FromAgentID: p.FromAgentID,
			ToAgentID:   p.ToAgentID,
			EventType:   p.EventType,
			EventData:   p.EventData,
			Priority:    p.Priority,
		})
		return reply(rcpt, err)

	case protocol.FrameStateSync:
		p := f.StateSync
		if p == nil {
			return missingPayload("state_sync")
		}
		entry, err := s.svc.SyncState(ctx, coord.SyncRequest{
			ExecutionID:   p.ExecutionID,
			AgentID:       p.FromAgentID,
			StateKey:      p.StateKey,
			Value:         p.StateValue,
			Version:       p.StateVersion,
			PreviousState: p.PreviousState,
		})
		return reply(entry, err)

	case protocol.FrameStateGet:
		p := f.StateGet
		if p == nil {
			return missingPayload("state_get")
		}
		entry, err := s.svc.CurrentState(ctx, p.ExecutionID, p.StateKey)
		return reply(entry, err)

	case protocol.FrameRespond:
		p := f.Respond
		if p == nil {
			return missingPayload("respond")
		}
		in, err := s.svc.Respond(ctx, p.InteractionID, p.ResponderID, p.Response)
		return reply(in, err)

	case protocol.FrameConflictReport:
		p := f.ConflictReport
		if p == nil {
			return missingPayload("conflict_report")
		}
		in, err := s.svc.ReportConflict(ctx, conflict.Report{
			ExecutionID:    p.ExecutionID,
			ReporterID:     p.ReporterID,
			Type:           p.ConflictType,
			StateKey:       p.StateKey,
			CurrentValue:   p.CurrentValue,
			AttemptedValue: p.AttemptedValue,
		})
		return reply(in, err)

	case protocol.FrameConflictResolve:
		p := f.ConflictResolve
		if p == nil {
			return missingPayload("conflict_resolve")
		}
		in, err := s.svc.ResolveConflict(ctx, p.ConflictID, p.Strategy)
		return reply(in, err)

	case protocol.FrameConflicts:
		p := f.Conflicts
		if p == nil {
			return missingPayload("conflicts")
		}
		open, err := s.svc.UnresolvedConflicts(ctx, p.ExecutionID)
		if err != nil {
			return errorFrame(err)
		}
		sum, err := s.svc.ConflictSummary(ctx, p.ExecutionID)
		if err != nil {
			return errorFrame(err)
		}
		return reply(struct {
			Open    []protocol.Interaction `json:"open"`
			Summary *conflict.Summary      `json:"summary"`
		}{open, sum}, nil)

	case protocol.FrameEvents:
		p := f.Events
		if p == nil {
			return missingPayload("events")
		}
		events, err := s.svc.Events(ctx, coord.EventsRequest{
			ExecutionID: p.ExecutionID,
			EventTypes:  p.EventTypes,
			Since:       p.Since,
		})
		return reply(events, err)

	case protocol.FramePending:
		p := f.Pending
		if p == nil {
			return missingPayload("pending")
		}
		pending, err := s.svc.PendingResponses(ctx, p.ExecutionID, p.AgentID)
		return reply(pending, err)

	case protocol.FrameHistory:
		p := f.History
		if p == nil {
			return missingPayload("history")
		}
		page, err := s.svc.History(ctx, coord.HistoryRequest{
			ExecutionID: p.ExecutionID,
			AgentID:     p.AgentID,
			Kind:        p.Kind,
			Limit:       p.Limit,
			Offset:      p.Offset,
		})
		return reply(page, err)

	default:
		return errorFrame(&protocol.ValidationError{
			Field:  "type",
			Reason: fmt.Sprintf("unknown frame type %q", f.Type),
		})
	}
}

func missingPayload(name string) protocol.Frame {
	return errorFrame(&protocol.ValidationError{Field: name, Reason: "payload required"})
}

// reply shapes a service result into an OK or ERROR frame.
func reply(result any, err error) protocol.Frame {
	if err != nil {
		return errorFrame(err)
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return errorFrame(merr)
	}
	return protocol.Frame{
		Type: protocol.FrameOK,
		OK:   &protocol.OKPayload{Result: raw},
	}
}

// errorFrame maps a service error onto the wire.
func errorFrame(err error) protocol.Frame {
	p := &protocol.ErrorPayload{
		Code:   protocol.ErrCodeInternal,
		Detail: err.Error(),
	}

	var (
		verr     *protocol.ValidationError
		conflict *protocol.StateConflictError
		nf       *protocol.NotFoundError
		unavail  *protocol.StoreUnavailableError
	)
	switch {
	case errors.As(err, &verr):
		p.Code = protocol.ErrCodeValidation
	case errors.As(err, &conflict):
		p.Code = protocol.ErrCodeStateConflict
		p.Conflict = &protocol.StateConflictInfo{
			ExecutionID: conflict.ExecutionID,
			StateKey:    conflict.StateKey,
			Version:     conflict.Version,
			Value:       conflict.Value,
		}
	case errors.As(err, &nf):
		p.Code = protocol.ErrCodeNotFound
	case errors.As(err, &unavail):
		p.Code = protocol.ErrCodeStoreUnavailable
	}

	return protocol.Frame{Type: protocol.FrameError, Error: p}
}

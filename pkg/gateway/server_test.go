package gateway_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"crewlink/pkg/conflict"
	"crewlink/pkg/coord"
	"crewlink/pkg/crew"
	"crewlink/pkg/gateway"
	"crewlink/pkg/protocol"
	"crewlink/pkg/state"
	"crewlink/pkg/store"
)

// startServer brings up a full daemon stack on a temp socket.
func startServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(filepath.Join(dir, "crewlink.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tbl := state.NewTable(s.DB())
	crews := crew.NewStatic()
	crews.Register("exec-1",
		crew.Member{AgentID: "agent-a"},
		crew.Member{AgentID: "agent-b"},
		crew.Member{AgentID: "agent-c"},
	)

	hub := gateway.NewHub(0)
	engine := conflict.NewEngine(s, tbl, crews, hub)
	svc := coord.NewService(s, tbl, crews, engine, hub)

	socketPath := filepath.Join(dir, "crewlink.sock")
	srv := gateway.NewServer(gateway.Config{
		SocketPath:        socketPath,
		KeepAliveInterval: 50 * time.Millisecond,
		IdleTimeout:       5 * time.Second,
	}, svc, hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	// Wait until the socket accepts connections.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return socketPath
		}
		select {
		case err := <-errc:
			t.Fatalf("server exited early: %v", err)
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never came up")
	return ""
}

func dial(t *testing.T, socketPath string) *gateway.Client {
	t.Helper()
	c, err := gateway.Dial(socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServerPostMessage(t *testing.T) {
	t.Parallel()
	c := dial(t, startServer(t))

	var rcpt coord.Receipt
	err := c.DoResult(context.Background(), protocol.Frame{
		Type: protocol.FrameMessage,
		Message: &protocol.MessagePayload{
			ExecutionID: "exec-1",
			FromAgentID: "agent-a",
			Body:        "hello crew",
		},
	}, &rcpt)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if rcpt.Delivered != 3 {
		t.Errorf("expected 3 deliveries, got %d", rcpt.Delivered)
	}
	if rcpt.Interaction == nil || rcpt.Interaction.ID == "" {
		t.Errorf("expected stored interaction in receipt: %+v", rcpt.Interaction)
	}
}

func TestServerStateSyncConflictOnWire(t *testing.T) {
	t.Parallel()
	c := dial(t, startServer(t))
	ctx := context.Background()

	sync := func(agent string, done float64, version int64) error {
		return c.DoResult(ctx, protocol.Frame{
			Type: protocol.FrameStateSync,
			StateSync: &protocol.StateSyncPayload{
				ExecutionID:  "exec-1",
				FromAgentID:  agent,
				StateKey:     "progress",
				StateValue:   protocol.Value{"done": done},
				StateVersion: version,
			},
		}, nil)
	}

	if err := sync("agent-a", 0, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := sync("agent-a", 1, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	err := sync("agent-b", 9, 1)
	var remote *gateway.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Code != protocol.ErrCodeStateConflict {
		t.Errorf("expected state_conflict, got %q", remote.Code)
	}
	if remote.Conflict == nil || remote.Conflict.Version != 2 {
		t.Errorf("expected actual version 2 on the wire, got %+v", remote.Conflict)
	}

	// The daemon filed the conflict automatically.
	var res struct {
		Open []protocol.Interaction `json:"open"`
	}
	err = c.DoResult(ctx, protocol.Frame{
		Type:      protocol.FrameConflicts,
		Conflicts: &protocol.ConflictsPayload{ExecutionID: "exec-1"},
	}, &res)
	if err != nil {
		t.Fatalf("conflicts: %v", err)
	}
	if len(res.Open) != 1 || res.Open[0].ConflictType != protocol.ConflictConcurrentUpdate {
		t.Errorf("expected 1 auto-filed concurrent_update conflict, got %+v", res.Open)
	}
}

func TestServerResolveConflictOnWire(t *testing.T) {
	t.Parallel()
	c := dial(t, startServer(t))
	ctx := context.Background()

	var reported protocol.Interaction
	err := c.DoResult(ctx, protocol.Frame{
		Type: protocol.FrameConflictReport,
		ConflictReport: &protocol.ConflictReportPayload{
			ExecutionID:  "exec-1",
			ReporterID:   "agent-a",
			ConflictType: protocol.ConflictResourceContention,
			StateKey:     "gpu-0",
		},
	}, &reported)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	var resolved protocol.Interaction
	err = c.DoResult(ctx, protocol.Frame{
		Type: protocol.FrameConflictResolve,
		ConflictResolve: &protocol.ConflictResolvePayload{
			ConflictID: reported.ID,
			Strategy:   protocol.StrategyEscalate,
		},
	}, &resolved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Resolved || resolved.Resolution.Outcome != protocol.OutcomeEscalated {
		t.Errorf("expected escalated resolution, got %+v", resolved.Resolution)
	}
}

func TestServerSubscribeStreamsInteractions(t *testing.T) {
	t.Parallel()
	socketPath := startServer(t)

	subClient := dial(t, socketPath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := subClient.Subscribe(ctx, "exec-1", "agent-b")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	poster := dial(t, socketPath)
	err = poster.DoResult(ctx, protocol.Frame{
		Type: protocol.FrameMessage,
		Message: &protocol.MessagePayload{
			ExecutionID: "exec-1",
			FromAgentID: "agent-a",
			Body:        "live one",
		},
	}, nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	select {
	case in, ok := <-stream:
		if !ok {
			t.Fatal("stream closed early")
		}
		if in.Body != "live one" || in.Kind != protocol.KindMessage {
			t.Errorf("wrong interaction streamed: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing streamed")
	}
}

func TestServerSubscriberSurvivesKeepAlive(t *testing.T) {
	t.Parallel()
	socketPath := startServer(t)

	subClient := dial(t, socketPath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := subClient.Subscribe(ctx, "exec-1", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Several keep-alive intervals pass; the client answers PINGs, so the
	// stream must still be open.
	time.Sleep(300 * time.Millisecond)

	poster := dial(t, socketPath)
	err = poster.DoResult(ctx, protocol.Frame{
		Type: protocol.FrameEvent,
		Event: &protocol.EventPayload{
			ExecutionID: "exec-1",
			FromAgentID: "agent-a",
			EventType:   "still_here",
		},
	}, nil)
	if err != nil {
		t.Fatalf("post event: %v", err)
	}

	select {
	case in, ok := <-stream:
		if !ok {
			t.Fatal("subscriber was dropped despite answering pings")
		}
		if in.EventType != "still_here" {
			t.Errorf("unexpected interaction: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing streamed after keep-alive")
	}
}

func TestServerPingPong(t *testing.T) {
	t.Parallel()
	c := dial(t, startServer(t))

	resp, err := c.Do(context.Background(), protocol.Frame{Type: protocol.FramePing})
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if resp.Type != protocol.FramePong {
		t.Errorf("expected PONG, got %q", resp.Type)
	}
}

func TestServerRejectsUnknownFrame(t *testing.T) {
	t.Parallel()
	c := dial(t, startServer(t))

	_, err := c.Do(context.Background(), protocol.Frame{Type: "BOGUS"})
	var remote *gateway.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Code != protocol.ErrCodeValidation {
		t.Errorf("expected validation error, got %q", remote.Code)
	}
}

func TestServerNotFoundOnWire(t *testing.T) {
	t.Parallel()
	c := dial(t, startServer(t))

	err := c.DoResult(context.Background(), protocol.Frame{
		Type:     protocol.FrameStateGet,
		StateGet: &protocol.StateGetPayload{ExecutionID: "exec-1", StateKey: "ghost"},
	}, nil)
	var remote *gateway.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Code != protocol.ErrCodeNotFound {
		t.Errorf("expected not_found, got %q", remote.Code)
	}
}

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"crewlink/pkg/protocol"
)

// RemoteError is an ERROR frame surfaced by the daemon.
type RemoteError struct {
	Code     string
	Detail   string
	Conflict *protocol.StateConflictInfo
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Client is a UDS client for the daemon. A client either issues request
// frames with Do, or pins itself as a subscriber with Subscribe; not both on
// the same connection.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner

	// mu serializes Do calls so request and reply stay paired.
	mu sync.Mutex
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Client{conn: conn, scanner: scanner}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one request frame and reads the reply. An ERROR reply becomes a
// RemoteError.
func (c *Client) Do(ctx context.Context, req protocol.Frame) (*protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	if err := c.send(req); err != nil {
		return nil, err
	}

	resp, err := c.read()
	if err != nil {
		return nil, err
	}
	if resp.Type == protocol.FrameError && resp.Error != nil {
		return nil, &RemoteError{
			Code:     resp.Error.Code,
			Detail:   resp.Error.Detail,
			Conflict: resp.Error.Conflict,
		}
	}
	return resp, nil
}

// DoResult is Do plus decoding of the OK result into out.
func (c *Client) DoResult(ctx context.Context, req protocol.Frame, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Type != protocol.FrameOK || resp.OK == nil {
		return fmt.Errorf("unexpected reply frame %q", resp.Type)
	}
	if out == nil || len(resp.OK.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.OK.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Subscribe pins the connection as a live subscriber and streams the
// execution's interactions until ctx is cancelled or the daemon hangs up.
// The returned channel is closed on disconnect. PINGs are answered
// internally.
func (c *Client) Subscribe(ctx context.Context, executionID, agentID string) (<-chan protocol.Interaction, error) {
	err := c.send(protocol.Frame{
		Type: protocol.FrameSubscribe,
		Subscribe: &protocol.SubscribePayload{
			ExecutionID: executionID,
			AgentID:     agentID,
		},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.read()
	if err != nil {
		return nil, err
	}
	if resp.Type == protocol.FrameError && resp.Error != nil {
		return nil, &RemoteError{Code: resp.Error.Code, Detail: resp.Error.Detail}
	}
	if resp.Type != protocol.FrameSubscribed {
		return nil, fmt.Errorf("unexpected reply frame %q", resp.Type)
	}

	ch := make(chan protocol.Interaction, 64)
	go func() {
		defer close(ch)
		defer c.conn.Close()

		for {
			frame, err := c.read()
			if err != nil {
				return
			}
			switch frame.Type {
			case protocol.FramePing:
				if err := c.send(protocol.Frame{Type: protocol.FramePong}); err != nil {
					return
				}
			case protocol.FrameInteraction:
				if frame.Interaction == nil {
					continue
				}
				select {
				case ch <- *frame.Interaction:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) send(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) read() (*protocol.Frame, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		return nil, fmt.Errorf("connection closed")
	}
	var f protocol.Frame
	if err := json.Unmarshal(c.scanner.Bytes(), &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

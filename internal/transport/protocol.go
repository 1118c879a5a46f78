// Package transport implements the control-plane wire protocol: newline
// delimited JSON frames over a Unix domain socket, adapted from the
// length-prefixed single-shot request/response shape of
// msageha-maestro_v2's internal/uds package into a persistent,
// multiplexed connection that also carries pushed events (needed for
// `attach` streaming and blocking permission/question round-trips).
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// FrameType is the closed set of frame kinds on the wire.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
)

// Frame is one newline-terminated JSON object exchanged over the socket.
type Frame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *FrameError     `json:"error,omitempty"`
}

// FrameError carries a failed request's message back to the caller.
type FrameError struct {
	Message string `json:"message"`
}

// WriteFrame marshals v and writes it as one newline-terminated line.
func WriteFrame(w *bufio.Writer, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads one newline-terminated JSON frame.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	return f, nil
}

// Client is a short-lived single-request-response connection, used by the
// hook helper binary and by CLI subcommands that don't need to `attach`.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// NewClient returns a client with a 30s default timeout.
func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath, Timeout: 30 * time.Second}
}

// Call sends one request and waits for its matching response.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to supervisor at %s: %w (is it running?)", c.SocketPath, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.Timeout))

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	w := bufio.NewWriter(conn)
	if err := WriteFrame(w, Frame{Type: FrameRequest, ID: "1", Method: method, Params: raw}); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	resp, err := ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s", method, resp.Error.Message)
	}
	return resp.Result, nil
}

// CallWithDeadline is Call but with an explicit timeout override, used by
// hook calls that must wait out a broker deadline (default 10 minutes).
func (c *Client) CallWithDeadline(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	cc := *c
	cc.Timeout = timeout
	return cc.Call(method, params)
}

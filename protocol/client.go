package protocol

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/metrics"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/types"
)

// DefaultCallTimeout bounds a single outbound exchange
const DefaultCallTimeout = 5 * time.Second

// Client performs outbound calls: one connection, one request, one response.
type Client struct {
	Timeout time.Duration
	Encoder serde.Encoder
	// Dial opens the connection. It defaults to a net.Dialer bounded by Timeout.
	Dial func(ctx context.Context, address string) (net.Conn, error)
}

// NewClient returns a Client with the given timeout and frame encoder
func NewClient(timeout time.Duration, enc serde.Encoder) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{Timeout: timeout, Encoder: enc}
}

func (c *Client) dial(ctx context.Context, address string) (net.Conn, error) {
	if c.Dial != nil {
		return c.Dial(ctx, address)
	}
	d := net.Dialer{Timeout: c.timeout()}
	return d.DialContext(ctx, "tcp", address)
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultCallTimeout
	}
	return c.Timeout
}

// Call sends req to address and waits for the response. Transport failures
// wrap ErrRemoteUnreachable. An error response is returned as is with a nil
// error; use ErrorFromResponse to inspect it.
func (c *Client) Call(ctx context.Context, address string, req types.Request) (types.Response, error) {
	var resp types.Response
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	conn, err := c.dial(ctx, address)
	if err != nil {
		metrics.Count([]string{"client", "dial", "error"})
		return resp, fmt.Errorf("%w: dial %s: %v", ErrRemoteUnreachable, address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := c.Encoder.WriteMessage(conn, req); err != nil {
		return resp, fmt.Errorf("%w: write to %s: %v", ErrRemoteUnreachable, address, err)
	}
	resp, err = serde.ReadResponse(conn)
	if err != nil {
		return resp, fmt.Errorf("%w: read from %s: %v", ErrRemoteUnreachable, address, err)
	}
	log.Debug("%s answered %s with status %s", address, req.Command, resp.Status)
	return resp, nil
}

// Do is Call followed by ErrorFromResponse.
func (c *Client) Do(ctx context.Context, address string, req types.Request) (types.Response, error) {
	resp, err := c.Call(ctx, address, req)
	if err != nil {
		return resp, err
	}
	return resp, ErrorFromResponse(resp)
}

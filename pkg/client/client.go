// Package client speaks the binary point store protocol.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vjranagit/pointstore/pkg/protocol"
	"github.com/vjranagit/pointstore/pkg/types"
)

// Client is a connection to a point store server. Requests on one client
// are serialized; use several clients for parallelism.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// Dial connects to the server at addr. A zero timeout disables request
// deadlines.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, timeout), nil
}

// New wraps an established connection.
func New(conn net.Conn, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
	}
}

// Put stores records for uuid and returns the count acknowledged by the
// server. Batches of more than one record are sent as a single frame.
func (c *Client) Put(uuid string, records []types.Record) (uint32, error) {
	frame, err := protocol.EncodePut(uuid, records)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(frame); err != nil {
		return 0, err
	}
	return protocol.ReadCount(c.r)
}

// Get returns the records of uuid within tr.
func (c *Client) Get(uuid string, tr types.TimeRange) ([]types.Record, error) {
	frame, err := protocol.EncodeGet(uuid, tr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(frame); err != nil {
		return nil, err
	}
	return protocol.ReadRecords(c.r)
}

func (c *Client) send(frame []byte) error {
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

package server

import (
	"context"
	"fmt"
	"io"

	"github.com/vjranagit/pointstore/pkg/protocol"
)

// Handler produces the response to one decoded request.
type Handler interface {
	Handle(ctx context.Context, f *protocol.Frame) ([]byte, error)
}

// Conn is the protocol state of one client connection: the request being
// assembled and where its responses go.
type Conn struct {
	req     *protocol.Request
	w       io.Writer
	handler Handler
	served  int
}

// NewConn creates a connection writing responses to w.
func NewConn(w io.Writer, h Handler, maxRecords uint32) *Conn {
	return &Conn{
		req:     protocol.NewRequest(maxRecords),
		w:       w,
		handler: h,
	}
}

// Receive consumes bytes read from the client. Every request completed by p
// is handled and answered in order before Receive returns; a partial
// request is kept for the next call.
//
// An error leaves the connection in an unknown state and it must be closed.
func (c *Conn) Receive(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n, err := c.req.Feed(p)
		if err != nil {
			return fmt.Errorf("request %d: %w", c.served+1, err)
		}
		p = p[n:]

		complete, err := c.req.Complete()
		if err != nil {
			return fmt.Errorf("request %d: %w", c.served+1, err)
		}
		if !complete {
			return nil
		}

		if err := c.dispatch(ctx); err != nil {
			return fmt.Errorf("request %d: %w", c.served+1, err)
		}
		c.served++
		c.req.Reset()
	}
	return nil
}

func (c *Conn) dispatch(ctx context.Context) error {
	f, err := c.req.Decode()
	if err != nil {
		return err
	}
	resp, err := c.handler.Handle(ctx, f)
	if err != nil {
		return err
	}
	if _, err := c.w.Write(resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Served returns how many requests were answered.
func (c *Conn) Served() int {
	return c.served
}

// Pending returns the number of bytes of an unfinished request.
func (c *Conn) Pending() int {
	return c.req.Len()
}

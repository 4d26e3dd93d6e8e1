// Package server accepts client connections and runs the binary protocol
// over them, one goroutine per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/internal/metrics"
	"github.com/vjranagit/pointstore/pkg/protocol"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

const readBufferSize = 32 * 1024

// Config holds transport configuration
type Config struct {
	ListenAddr string

	// MaxConnections caps concurrent clients; further clients wait in the
	// listen backlog. Zero means no limit.
	MaxConnections int

	MaxRecordsPerRequest uint32
}

// DefaultConfig returns default transport configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:           ":7070",
		MaxConnections:       1024,
		MaxRecordsPerRequest: protocol.DefaultMaxRecords,
	}
}

// Server serves the binary protocol.
type Server struct {
	cfg     Config
	handler Handler
	log     *slog.Logger
	metrics *metrics.Metrics
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithLogger sets the logger used by the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the collectors updated per connection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server dispatching requests to h.
func New(cfg *Config, h Handler, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     *cfg,
		handler: h,
		log:     logging.Component("server"),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	if s.cfg.MaxRecordsPerRequest == 0 {
		s.cfg.MaxRecordsPerRequest = protocol.DefaultMaxRecords
	}
	if s.cfg.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(s.cfg.MaxConnections))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on the configured address and serves it.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called. It always
// returns a non-nil error; ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("accepting connections", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		if s.sem != nil {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return ErrServerClosed
			}
		}

		nc, err := ln.Accept()
		if err != nil {
			s.releaseSlot()
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn("accept failed, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !s.track(nc) {
			nc.Close()
			s.releaseSlot()
			return ErrServerClosed
		}
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.releaseSlot()
	defer s.untrack(nc)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	remote := nc.RemoteAddr().String()
	log := s.log.With("remote", remote)
	log.Debug("connection opened")

	conn := NewConn(nc, s.handler, s.cfg.MaxRecordsPerRequest)
	buf := make([]byte, readBufferSize)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			if rerr := conn.Receive(s.ctx, buf[:n]); rerr != nil {
				log.Warn("closing connection", "error", rerr, "served", conn.Served())
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				if conn.Pending() > 0 {
					log.Warn("client closed mid request", "pending_bytes", conn.Pending())
				}
			case errors.Is(err, os.ErrDeadlineExceeded) && s.isClosed():
			default:
				log.Debug("read failed", "error", err)
			}
			log.Debug("connection closed", "served", conn.Served())
			return
		}
	}
}

// Shutdown stops accepting, lets every connection finish the request it is
// handling, then waits for them to close. Connections still open when ctx
// ends are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	// Wake up readers; a request being handled still gets its response.
	for nc := range s.conns {
		nc.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.cancel()
	var err error
	if ln != nil {
		err = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		for nc := range s.conns {
			nc.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// track registers nc and starts serving it, unless the server is shutting
// down.
func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[nc] = struct{}{}
	s.group.Go(func() error {
		s.serveConn(nc)
		return nil
	})
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
	nc.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) releaseSlot() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

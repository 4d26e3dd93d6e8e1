// Package handler turns decoded requests into responses by driving the
// file store.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/internal/metrics"
	"github.com/vjranagit/pointstore/pkg/protocol"
	"github.com/vjranagit/pointstore/pkg/storage"
	"github.com/vjranagit/pointstore/pkg/types"
)

// Store is the storage the handler reads from and writes to.
type Store interface {
	Put(uuid string, rec types.Record) error
	Get(uuid string, tr types.TimeRange) ([]types.Record, error)
}

// Handler answers GET, PUT and unknown requests. It is safe for concurrent
// use by every connection.
type Handler struct {
	store   Store
	journal *storage.Journal
	cache   *storage.QueryCache
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithJournal records every PUT batch in j before it is applied.
func WithJournal(j *storage.Journal) Option {
	return func(h *Handler) { h.journal = j }
}

// WithCache serves repeated GETs from c.
func WithCache(c *storage.QueryCache) Option {
	return func(h *Handler) { h.cache = c }
}

// WithMetrics sets the collectors updated per request.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger used by the handler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New creates a handler over store.
func New(store Store, opts ...Option) *Handler {
	h := &Handler{
		store: store,
		log:   logging.Component("handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle produces the single response for a complete request. An error
// means the request could not be served and no response must be sent.
func (h *Handler) Handle(ctx context.Context, f *protocol.Frame) ([]byte, error) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveRequest(f.Type.String(), time.Since(start).Seconds())
	}()

	switch f.Type {
	case protocol.TypeGet:
		records, err := h.Query(ctx, f.UUID, f.Range)
		if err != nil {
			h.metrics.RequestFailed()
			return nil, err
		}
		return protocol.EncodeGetResponse(records), nil

	case protocol.TypePut:
		if _, err := h.Write(ctx, f.UUID, f.Records); err != nil {
			h.metrics.RequestFailed()
			return nil, err
		}
		// The reply echoes the declared count; it is only sent once every
		// record is stored.
		return protocol.EncodeCountResponse(f.RecordCount), nil

	default:
		h.log.Debug("unknown request", "uuid", f.UUID)
		return protocol.UnknownResponse(), nil
	}
}

// Write stores records for uuid in order and returns how many were stored.
// Records before a failing one stay stored.
func (h *Handler) Write(ctx context.Context, uuid string, records []types.Record) (int, error) {
	if err := types.ValidateStreamID(uuid); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var id uint64
	if h.journal != nil {
		var err error
		if id, err = h.journal.Begin(uuid, records); err != nil {
			return 0, err
		}
	}

	for i, rec := range records {
		if err := h.store.Put(uuid, rec); err != nil {
			h.metrics.AddRecordsWritten(i)
			return i, fmt.Errorf("put record %d of %d: %w", i+1, len(records), err)
		}
		if h.cache != nil {
			h.cache.Invalidate(uuid)
		}
		if h.journal != nil {
			if err := h.journal.Advance(id, i+1); err != nil {
				h.metrics.AddRecordsWritten(i + 1)
				return i + 1, err
			}
		}
	}
	h.metrics.AddRecordsWritten(len(records))

	if h.journal != nil {
		if err := h.journal.Commit(id); err != nil {
			return len(records), err
		}
	}

	h.log.Debug("records stored", "uuid", uuid, "count", len(records))
	return len(records), nil
}

// Query returns the records of uuid within tr sorted by time.
func (h *Handler) Query(ctx context.Context, uuid string, tr types.TimeRange) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if h.cache.Enabled() {
		if records, ok := h.cache.Get(uuid, tr); ok {
			h.metrics.CacheHit()
			h.metrics.AddRecordsRead(len(records))
			return records, nil
		}
		h.metrics.CacheMiss()
	}

	var gen uint64
	if h.cache.Enabled() {
		gen = h.cache.Generation(uuid)
	}

	records, err := h.store.Get(uuid, tr)
	if err != nil {
		return nil, err
	}

	if h.cache.Enabled() {
		h.cache.Put(uuid, tr, records, gen)
	}
	h.metrics.AddRecordsRead(len(records))
	return records, nil
}

// ReplayJournal applies the batches a previous run accepted but did not
// finish storing. It must run before the handler serves requests.
func (h *Handler) ReplayJournal() (int, error) {
	if h.journal == nil {
		return 0, nil
	}

	n, err := h.journal.Replay(func(uuid string, rec types.Record) error {
		if err := h.store.Put(uuid, rec); err != nil {
			return err
		}
		if h.cache != nil {
			h.cache.Invalidate(uuid)
		}
		return nil
	})
	h.metrics.AddJournalReplayed(n)
	if err != nil {
		return n, fmt.Errorf("replay journal: %w", err)
	}
	if n > 0 {
		h.log.Info("journal replayed", "records", n)
	}
	return n, nil
}

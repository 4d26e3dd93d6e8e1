package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/pkg/types"
)

// maxWriteBody bounds the size of a JSON write request.
const maxWriteBody = 8 << 20

// Backend is what the admin API reads from and writes to.
type Backend interface {
	Write(ctx context.Context, uuid string, records []types.Record) (int, error)
	Query(ctx context.Context, uuid string, tr types.TimeRange) ([]types.Record, error)
}

// Server implements the HTTP admin server
type Server struct {
	backend  Backend
	gatherer prometheus.Gatherer
	addr     string
	server   *http.Server
	log      *slog.Logger
}

// WriteRequest is the body of POST /api/v1/write.
type WriteRequest struct {
	UUID    string         `json:"uuid"`
	Records []types.Record `json:"records"`
}

// WriteResponse is returned by POST /api/v1/write.
type WriteResponse struct {
	Count int `json:"count"`
}

// QueryResponse is returned by GET /api/v1/query.
type QueryResponse struct {
	UUID    string         `json:"uuid"`
	Start   uint32         `json:"start"`
	End     uint32         `json:"end"`
	Records []types.Record `json:"records"`
}

// NewServer creates a new admin server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(addr string, backend Backend, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		backend:  backend,
		gatherer: gatherer,
		addr:     addr,
		log:      logging.Component("api"),
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the routes of the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/write", s.handleWrite)
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("admin API listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves the admin API on ln.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWrite stores the records of one stream
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWriteBody)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if err := types.ValidateStreamID(req.UUID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n, err := s.backend.Write(r.Context(), req.UUID, req.Records)
	if err != nil {
		s.log.Error("write failed", "uuid", req.UUID, "stored", n, "error", err)
		http.Error(w, fmt.Sprintf("Write failed after %d records: %v", n, err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, WriteResponse{Count: n})
}

// handleQuery returns the records of one stream in an inclusive range
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	uuid := q.Get("uuid")
	if err := types.ValidateStreamID(uuid); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start, err := parseTime(q.Get("start"), 0)
	if err != nil {
		http.Error(w, "Invalid start time", http.StatusBadRequest)
		return
	}
	end, err := parseTime(q.Get("end"), uint32(time.Now().Unix()))
	if err != nil {
		http.Error(w, "Invalid end time", http.StatusBadRequest)
		return
	}

	tr := types.TimeRange{Start: start, End: end}
	records, err := s.backend.Query(r.Context(), uuid, tr)
	if err != nil {
		s.log.Error("query failed", "uuid", uuid, "error", err)
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.Record{}
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		UUID:    uuid,
		Start:   start,
		End:     end,
		Records: records,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// parseTime accepts seconds since the epoch or RFC 3339.
func parseTime(v string, def uint32) (uint32, error) {
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseUint(v, 10, 32); err == nil {
		return uint32(secs), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, err
	}
	if t.Unix() < 0 || t.Unix() > int64(^uint32(0)) {
		return 0, fmt.Errorf("time %s out of range", v)
	}
	return uint32(t.Unix()), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

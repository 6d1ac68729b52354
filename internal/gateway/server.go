// Package gateway serves a ledger over HTTP in the shape the WeaveDrive
// remote source reads: raw data by id, header documents, blocks by height
// and tag queries.
//
// Routes:
//
//	GET|HEAD /{id}               raw data, Range aware
//	GET      /tx/{id}            header document
//	GET      /block/height/{h}   block with its ordered transaction ids
//	POST     /query              query IR request, returns query nodes
//	GET      /health             status and ledger height
//	GET      /metrics            Prometheus exposition
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/aosim/internal/metrics"
	"github.com/roach88/aosim/internal/queryir"
	"github.com/roach88/aosim/internal/store"
	"github.com/roach88/aosim/internal/weavedrive"
)

// maxQueryBody bounds POST /query request bodies.
const maxQueryBody = 1 << 20

// Server handles gateway requests against one ledger.
type Server struct {
	store    *store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics records the ledger height on health checks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithGatherer selects the registry /metrics exposes. The default is the
// Prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a server over st.
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store:    st,
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.health)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /tx/{id}", s.tx)
	s.mux.HandleFunc("GET /block/height/{height}", s.block)
	s.mux.HandleFunc("POST /query", s.query)
	s.mux.HandleFunc("GET /{id}", s.data)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("gateway request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type healthResponse struct {
	Status string `json:"status"`
	Height int64  `json:"height"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	height, err := s.store.Height(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.SetLedgerHeight(height)
	s.writeJSON(w, healthResponse{Status: "UP", Height: height})
}

// data serves the raw payload. http.ServeContent answers HEAD with the
// size and single Range requests with 206 or 416.
func (s *Server) data(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tx, err := s.store.Tx(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	modified := time.UnixMilli(tx.Timestamp)
	if tx.Timestamp == 0 {
		modified = time.Time{}
	}
	if ct := tx.Tags.Value("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	http.ServeContent(w, r, "", modified, bytes.NewReader(tx.Data))
}

func (s *Server) tx(w http.ResponseWriter, r *http.Request) {
	tx, err := s.store.TxHeader(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, weavedrive.NewTxDocument(tx))
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseInt(r.PathValue("height"), 10, 64)
	if err != nil || height < 0 {
		http.Error(w, "invalid block height", http.StatusBadRequest)
		return
	}
	b, err := s.store.Block(r.Context(), height)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, b)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryir.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}

	f := req.Filter()
	if v := queryir.Validate(f); !v.Valid() {
		http.Error(w, "invalid query: "+v.Errors[0], http.StatusBadRequest)
		return
	}
	txs, err := s.store.Query(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	nodes := make([]weavedrive.QueryNode, 0, len(txs))
	for i := range txs {
		nodes = append(nodes, weavedrive.QueryNode{
			TxDocument: weavedrive.NewTxDocument(&txs[i]),
			Block:      txs[i].Block,
			Height:     txs[i].Height,
		})
	}
	s.writeJSON(w, nodes)
}

// fail maps a store error to a status. Missing records are 404; anything
// else is logged and reported as 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error("gateway request failed", "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("gateway response write failed", "error", err)
	}
}

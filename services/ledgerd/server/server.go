package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhbledger/core/events"
	"nhbledger/core/types"
	"nhbledger/native/ledger"
	"nhbledger/observability/metrics"
)

// Config captures the HTTP knobs of the query server.
type Config struct {
	RequestsPerMinute float64
	Burst             int
	// Events, when set, backs /v1/events with the most recent ledger events.
	Events *events.Recorder
}

// Server exposes read-only views of a ledger over HTTP. Accrual cycles run
// under the write lock so readers never observe a cycle in progress.
type Server struct {
	mu      sync.RWMutex
	ledger  *ledger.Ledger
	logger  *slog.Logger
	limiter *RateLimiter
	events  *events.Recorder
	router  http.Handler
}

// New constructs a server over l.
func New(cfg Config, l *ledger.Ledger, logger *slog.Logger) (*Server, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		ledger:  l,
		logger:  logger,
		events:  cfg.Events,
		limiter: NewRateLimiter(RateLimit{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst}, logger),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Get("/state", s.handleState)
		api.Get("/positions", s.handleListPositions)
		api.Get("/positions/{id}", s.handlePosition)
		api.Get("/positions/{id}/appraisal", s.handleAppraisal)
		api.Get("/events", s.handleEvents)
	})
	return otelhttp.NewHandler(r, "ledgerd")
}

// Accrue runs an empty cycle so interest and the exchange rate advance
// without any position activity.
func (s *Server) Accrue(ctx context.Context) (ledger.CycleReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.ledger.Unlock(ctx, func(context.Context, []byte) ([]byte, error) { return nil, nil }, nil)
	if err != nil {
		return ledger.CycleReport{}, err
	}
	metrics.Ledger().SetOpenPositions(len(s.ledger.PositionIDs()))
	return s.ledger.LastCycle(), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, err := newStateView(s.ledger)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListPositions(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.ledger.PositionIDs()
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, err := newPositionView(s.ledger, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAppraisal(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, err := newAppraisalView(s.ledger, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	out := []*types.Event{}
	if s.events != nil {
		for _, evt := range s.events.Events() {
			if typed, ok := evt.(interface{ Event() *types.Event }); ok {
				out = append(out, typed.Event())
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func positionID(r *http.Request) (ledger.PositionID, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid position id %q", raw)
	}
	return ledger.PositionID(id), nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("ledgerd request failed", "error", err)
		err = errors.New(http.StatusText(status))
	}
	writeJSONError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Package ops exposes a small operator HTTP surface: health, status, open
// positions, and a pause/resume switch. It binds to localhost by default and
// carries no authentication; do not expose it publicly.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/ratelimit"
	"github.com/meridian-lab/meridian-trading/internal/risk"
	"github.com/meridian-lab/meridian-trading/internal/scheduler"
	"github.com/meridian-lab/meridian-trading/internal/version"
)

// Deps are the components the ops surface reads from and controls.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Risk      *risk.Gate
	Breaker   *ratelimit.CircuitBreaker
	Limiter   *ratelimit.Limiter
	Logger    *logger.Logger
}

// Server is the operator HTTP server.
type Server struct {
	deps Deps
	http *http.Server
}

// statusResponse is the GET /api/v1/status payload.
type statusResponse struct {
	Version       string        `json:"version"`
	Paused        bool          `json:"paused"`
	BreakerState  string        `json:"breaker_state"`
	LimiterStats  []string      `json:"limiter_stats"`
	Risk          risk.Snapshot `json:"risk"`
	SessionActive bool          `json:"session_active"`
	SessionDate   string        `json:"session_date,omitempty"`
	OpenPositions []string      `json:"open_positions,omitempty"`
	TradedToday   int           `json:"traded_today"`
}

// NewServer builds the ops server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{deps: deps}

	router := mux.NewRouter()
	// Without this mux answers 404 for a known route hit with the wrong verb.
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the route tree, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}

		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:      version.GetVersion(),
		Paused:       s.deps.Scheduler.IsPaused(),
		BreakerState: string(s.deps.Breaker.State()),
		LimiterStats: s.deps.Limiter.Stats(),
		Risk:         s.deps.Risk.Snapshot(),
	}

	if state := s.deps.Scheduler.ActiveState(); state != nil {
		resp.SessionActive = true
		resp.SessionDate = state.Date()
		resp.OpenPositions = state.OpenPositions()
		resp.TradedToday = state.TotalTrades()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	state := s.deps.Scheduler.ActiveState()
	if state == nil {
		writeJSON(w, http.StatusOK, []string{})

		return
	}

	writeJSON(w, http.StatusOK, state.OpenPositions())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Scheduler.Pause()
	s.deps.Logger.Info("trading paused via ops api")

	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.deps.Scheduler.Resume()
	s.deps.Logger.Info("trading resumed via ops api")

	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

// Package ops serves the operational HTTP API: liveness, health reports
// and fetch statistics.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"barvault/internal/fetch"
	"barvault/internal/health"
)

// Reporter produces a health report on demand.
type Reporter interface {
	Report(ctx context.Context) (*health.Report, error)
}

var _ Reporter = (*health.Monitor)(nil)

// Server is the operational HTTP server.
type Server struct {
	monitor Reporter
	coord   *fetch.Coordinator
	log     *slog.Logger
}

// NewServer creates an ops server. monitor and coord may be nil; the
// corresponding endpoints then return 503.
func NewServer(monitor Reporter, coord *fetch.Coordinator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		monitor: monitor,
		coord:   coord,
		log:     log.With("component", "ops"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/report", s.handleReport)
	r.Get("/stats", s.handleStats)
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor not configured")
		return
	}
	rep, err := s.monitor.Report(r.Context())
	if err != nil {
		s.log.Error("building health report", "error", err)
		writeError(w, http.StatusInternalServerError, "health report failed")
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not configured")
		return
	}
	st := s.coord.Statistics()
	brk := s.coord.Breaker()
	breaker := "closed"
	if brk.Open {
		breaker = "open"
	}
	writeJSON(w, StatsResponse{
		CacheHits:   st.CacheHits,
		CacheMisses: st.CacheMisses,
		APICalls:    st.APICalls,
		Errors:      st.Errors,
		HitRate:     st.HitRate(),
		Breaker:     breaker,
	})
}

// StatsResponse is the JSON body of GET /stats.
type StatsResponse struct {
	CacheHits   int64   `json:"cache_hits"`
	CacheMisses int64   `json:"cache_misses"`
	APICalls    int64   `json:"api_calls"`
	Errors      int64   `json:"errors"`
	HitRate     float64 `json:"hit_rate"`
	Breaker     string  `json:"breaker"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

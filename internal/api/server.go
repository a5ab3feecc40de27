package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bford21/vitalikrun/internal/leaderboard"
	"github.com/bford21/vitalikrun/internal/stream"
	"github.com/bford21/vitalikrun/internal/watch"
)

// Server is the HTTP surface: score submission, leaderboard reads, the live
// block stream, health and metrics.
type Server struct {
	submissions *leaderboard.Service
	query       *leaderboard.Query
	broadcaster *stream.Broadcaster
	watchers    []*watch.Watcher
	origin      string
	log         *slog.Logger

	httpServer *http.Server
	closing    chan struct{}
	closeOnce  sync.Once
}

// NewServer wires the handlers onto a router. origin is the allowed CORS
// origin; empty means any.
func NewServer(
	port int,
	origin string,
	submissions *leaderboard.Service,
	query *leaderboard.Query,
	broadcaster *stream.Broadcaster,
	watchers []*watch.Watcher,
) *Server {
	s := &Server{
		submissions: submissions,
		query:       query,
		broadcaster: broadcaster,
		watchers:    watchers,
		origin:      origin,
		log:         slog.Default(),
		closing:     make(chan struct{}),
	}

	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/api/submit-score", s.handleSubmitScore).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/leaderboard", s.handleLeaderboard).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/user-score/{address}", s.handleUserScore).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/blocks/stream", s.handleBlockStream).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/watchers", s.handleWatcherHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires. Stream handlers
// never go idle on their own, so they are released first; http.Server's
// drain only waits for idle connections and would block on them forever.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.origin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

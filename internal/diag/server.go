// Package diag exposes the edge agent's local diagnostics surface: a
// liveness probe and the Prometheus scrape endpoint, served off a small
// chi router rather than the full HTTP surface a cloud-facing service
// would need.
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the agent's diagnostics HTTP server.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Options configures the diagnostics server.
type Options struct {
	Addr      string
	Version   string
	StartTime time.Time
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// New constructs a Server bound to opts.Addr. Call Start to begin serving.
func New(log zerolog.Logger, opts Options) *Server {
	log = log.With().Str("component", "diag").Logger()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:        "ok",
			Version:       opts.Version,
			UptimeSeconds: int64(time.Since(opts.StartTime).Seconds()),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{Addr: opts.Addr, Handler: r},
		log:  log,
	}
}

// Start begins serving in a background goroutine. Bind failures are logged,
// not returned — the diagnostics surface is not load-bearing for the
// agent's core ingest/campaign/send pipeline.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("diagnostics server stopped unexpectedly")
		}
	}()
	s.log.Info().Str("addr", s.http.Addr).Msg("diagnostics server listening")
}

// Stop gracefully shuts down the server, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("diagnostics server shutdown error")
	}
}

package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"robot-battle/internal/config"
	"robot-battle/internal/eventlog"
	"robot-battle/internal/match"
	"robot-battle/internal/metrics"
)

// Server is the HTTP/WebSocket front door onto a match registry.
type Server struct {
	registry    *match.Registry
	eventLog    *eventlog.Log
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// NewServer constructs the API server. It opens no listener and does not
// start the metrics sampler (Start does both), so the router can be
// exercised directly with httptest in tests. It does start the rate
// limiter's cleanup goroutine, which Shutdown stops.
func NewServer(reg *match.Registry, log *eventlog.Log, cfg config.ServerConfig, limits config.ResourceLimits) *Server {
	s := &Server{
		registry: reg,
		eventLog: log,
	}

	s.rateLimiter = NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: limits.HTTPRatePerSecond,
		Burst:             limits.HTTPRateBurst,
		CleanupInterval:   5 * time.Minute,
	})

	s.router = NewRouter(RouterConfig{
		Registry:        reg,
		RateLimiter:     s.rateLimiter,
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxWSConnsPerIP: limits.MaxWSConnsPerIP,
	})

	return s
}

// Router returns the HTTP handler, for use with httptest.NewServer.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving on addr and starts the metrics sampler. This is
// the only method that opens a network listener; call it exactly once.
func (s *Server) Start(addr string) error {
	go s.sampleMetrics()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("robot-battle server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and the rate limiter's
// cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// sampleMetrics periodically pushes event-log counters and registry-wide
// match/player gauges into Prometheus; the event log and registry
// themselves only track raw atomic/mutex-guarded counters.
func (s *Server) sampleMetrics() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if s.eventLog != nil {
			metrics.UpdateEventLogStats(s.eventLog.TotalCount(), s.eventLog.DroppedCount())
		}
		if s.registry != nil {
			metrics.UpdateActiveMatches(s.registry.ActiveCount())
			metrics.UpdateActivePlayers(s.registry.ConnectedPlayerCount())
		}
	}
}

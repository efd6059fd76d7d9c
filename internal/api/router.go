package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"robot-battle/internal/match"
	"robot-battle/internal/metrics"
)

// RouterConfig contains all dependencies needed to construct the HTTP
// router. Dependency injection here keeps NewRouter pure and testable
// with httptest.NewServer.
type RouterConfig struct {
	// Registry is the match registry (required).
	Registry *match.Registry

	// RateLimiter is an optional pre-configured rate limiter. If nil, a
	// new one is created from RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used if RateLimiter is nil.
	RateLimitConfig *RateLimitConfig

	// AllowedOrigins configures both CORS and the WebSocket origin
	// check. A nil slice allows any origin.
	AllowedOrigins []string

	// MaxWSConnsPerIP caps concurrent WebSocket sessions per remote IP.
	MaxWSConnsPerIP int

	// DisableLogging disables the request logger middleware (useful in
	// benchmarks and noisy test output).
	DisableLogging bool
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// It opens no listeners and is safe to use with httptest.NewServer. The
// only goroutine it starts is the rate limiter's cleanup loop, and only
// when cfg.RateLimiter is nil.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.AllowedOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	maxPerIP := cfg.MaxWSConnsPerIP
	if maxPerIP <= 0 {
		maxPerIP = 20
	}
	gw := newWSGateway(cfg.Registry, corsOrigins, maxPerIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/play/{matchID}", gw.handlePlay)
		r.Get("/watch/{matchID}", gw.handleWatch)
		r.Get("/matches", handleListMatches(cfg.Registry))
	})

	r.Get("/health", handleHealth)

	return r
}

// metricsMiddleware records request latency and outcome per method and
// route pattern (not raw path, to keep the label space bounded regardless
// of how many match ids have ever been requested).
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListMatches(reg *match.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := reg.List()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"matches": ids})
	}
}

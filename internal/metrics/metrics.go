// Package metrics is the process-wide Prometheus registry and debug
// server, kept free of other internal packages so both internal/match (simulation) and
// internal/api (transport) can record against it without either
// depending on the other.
package metrics

import (
	"log"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-robot or per-match labels, to
// keep the label space bounded regardless of how many matches or
// players have ever connected).
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "match_tick_duration_seconds",
		Help:    "Time spent applying one arena sub-tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	activeMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "match_active_total",
		Help: "Currently running matches",
	})

	activePlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "match_active_robots",
		Help: "Currently connected robots across all matches",
	})

	commandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "match_command_queue_depth",
		Help: "Sum of queued-but-unapplied commands across all matches",
	})

	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer overflow",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // bounded: "rate_limit", "origin", "ws_ip_limit", "ws_total_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // MUST stay on localhost in production
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the pprof + Prometheus debug server.
// CRITICAL: binds to localhost only, never expose this port externally.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("debug server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	go func() {
		log.Printf("debug server listening on %s", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("debug server error: %v", err)
		}
	}()

	return nil
}

// RecordTick records arena sub-tick timing.
func RecordTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }

// UpdateActiveMatches sets the running-match gauge.
func UpdateActiveMatches(n int) { activeMatches.Set(float64(n)) }

// UpdateActivePlayers sets the connected-robot gauge.
func UpdateActivePlayers(n int) { activePlayers.Set(float64(n)) }

// AdjustCommandQueueDepth adds delta (positive or negative) to the
// aggregate queued-command gauge. Matches call this as commands are
// enqueued and as they're popped off a queue for application, so the
// gauge always reflects the live sum across every match.
func AdjustCommandQueueDepth(delta int) { commandQueueDepth.Add(float64(delta)) }

var eventLogStatsMu sync.Mutex
var lastEventLogTotal, lastEventLogDropped uint64

// UpdateEventLogStats records event-log totals, as periodically sampled
// from eventlog.Log.Stats, by adding the delta since the last call.
func UpdateEventLogStats(total, dropped uint64) {
	eventLogStatsMu.Lock()
	defer eventLogStatsMu.Unlock()
	if total > lastEventLogTotal {
		eventLogTotal.Add(float64(total - lastEventLogTotal))
	}
	if dropped > lastEventLogDropped {
		eventLogDropped.Add(float64(dropped - lastEventLogDropped))
	}
	lastEventLogTotal, lastEventLogDropped = total, dropped
}

// RecordConnectionRejected increments the rejection counter. reason must
// be one of: "rate_limit", "origin", "ws_ip_limit", "ws_total_limit".
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request latency and outcome.
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections sets the active WebSocket connection gauge.
func UpdateWSConnections(count int) { wsConnectionsActive.Set(float64(count)) }

// IncrementWSMessages increments the WebSocket message counter.
func IncrementWSMessages() { wsMessagesTotal.Inc() }

package api

import (
	"log"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"robot-battle/internal/match"
	"robot-battle/internal/metrics"
	"robot-battle/internal/session"
)

// MaxWSConnectionsTotal bounds the total number of concurrently open
// WebSocket sessions (player and spectator combined) this process will
// accept, independent of per-IP limits.
const MaxWSConnectionsTotal = 2000

// wsGateway upgrades HTTP requests on the play/watch routes to
// WebSocket connections and hands each one off to the session package,
// enforcing connection-count DoS protection first.
type wsGateway struct {
	reg         *match.Registry
	upgrader    websocket.Upgrader
	connLimiter *WebSocketRateLimiter
	maxPerIP    int

	total *int64 // atomic count of currently upgraded connections
}

func newWSGateway(reg *match.Registry, allowedOrigins []string, maxPerIP int) *wsGateway {
	gw := &wsGateway{
		reg:      reg,
		maxPerIP: maxPerIP,
		total:    new(int64),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if IsAllowedOrigin(origin, allowedOrigins) {
				return true
			}
			log.Printf("websocket connection rejected from origin: %s", origin)
			metrics.RecordConnectionRejected("origin")
			return false
		},
	}
	gw.connLimiter = NewWebSocketRateLimiter(maxPerIP)
	return gw
}

// handlePlay upgrades a /api/play/{matchID} request and runs the player
// session to completion, joining the robot into the match on the
// embedded registry policy (players always recycle a finished match so
// the next challenger gets a fresh arena).
func (gw *wsGateway) handlePlay(w http.ResponseWriter, r *http.Request) {
	matchID, ok := gw.parseMatchID(w, r)
	if !ok {
		return
	}

	ip := GetClientIP(r)
	if !gw.reserveSlot(w, ip) {
		return
	}
	defer gw.releaseSlot(ip)

	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	metrics.UpdateWSConnections(int(gw.incrActive()))
	defer func() { metrics.UpdateWSConnections(int(gw.decrActive())) }()

	m, err := gw.reg.GetOrCreate(r.Context(), matchID, true)
	if err != nil {
		log.Printf("match lookup failed for play id %d: %v", matchID, err)
		return
	}

	corrID := uuid.NewString()
	log.Printf("[%s] player session starting (match %d, ip %s)", corrID, matchID, ip)
	if err := session.RunPlayer(r.Context(), conn, m); err != nil {
		log.Printf("[%s] player session ended (match %d): %v", corrID, matchID, err)
	} else {
		log.Printf("[%s] player session ended (match %d)", corrID, matchID)
	}
}

// handleWatch upgrades a /api/watch/{matchID} request and runs the
// spectator session to completion. Only match id 0 is recycled once
// finished; any other id stays on the match it names for its whole
// lifetime so replays remain addressable.
func (gw *wsGateway) handleWatch(w http.ResponseWriter, r *http.Request) {
	matchID, ok := gw.parseMatchID(w, r)
	if !ok {
		return
	}

	ip := GetClientIP(r)
	if !gw.reserveSlot(w, ip) {
		return
	}
	defer gw.releaseSlot(ip)

	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	metrics.UpdateWSConnections(int(gw.incrActive()))
	defer func() { metrics.UpdateWSConnections(int(gw.decrActive())) }()

	corrID := uuid.NewString()
	log.Printf("[%s] spectator session starting (match %d, ip %s)", corrID, matchID, ip)
	if err := session.RunSpectator(r.Context(), conn, gw.reg, matchID); err != nil {
		log.Printf("[%s] spectator session ended (match %d): %v", corrID, matchID, err)
	} else {
		log.Printf("[%s] spectator session ended (match %d)", corrID, matchID)
	}
}

func (gw *wsGateway) parseMatchID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "matchID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		http.Error(w, "invalid match id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (gw *wsGateway) reserveSlot(w http.ResponseWriter, ip string) bool {
	if gw.totalActive() >= MaxWSConnectionsTotal {
		metrics.RecordConnectionRejected("ws_total_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return false
	}
	if !gw.connLimiter.Allow(ip) {
		metrics.RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "too many connections from your IP", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (gw *wsGateway) releaseSlot(ip string) {
	gw.connLimiter.Release(ip)
}

func (gw *wsGateway) incrActive() int64 { return atomic.AddInt64(gw.total, 1) }
func (gw *wsGateway) decrActive() int64 { return atomic.AddInt64(gw.total, -1) }
func (gw *wsGateway) totalActive() int64 { return atomic.LoadInt64(gw.total) }

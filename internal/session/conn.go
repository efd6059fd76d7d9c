// Package session implements the session controller: the player and
// spectator session state machines bound to a match.
package session

import (
	"sync"

	"github.com/gorilla/websocket"

	"robot-battle/internal/metrics"
)

// connWriter serializes writes to a websocket connection that may be
// written from more than one goroutine (a session's pusher task and its
// intake loop both send messages). gorilla/websocket permits one
// concurrent reader and one concurrent writer; it does not serialize
// multiple writer goroutines itself.
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newConnWriter(conn *websocket.Conn) *connWriter {
	return &connWriter{conn: conn}
}

func (w *connWriter) WriteText(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.IncrementWSMessages()
	return nil
}

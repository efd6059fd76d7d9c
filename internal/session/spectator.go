package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"robot-battle/internal/arena"
	"robot-battle/internal/match"
	"robot-battle/internal/wire"
)

// RunSpectator streams compact arena snapshots for matchID to an already
// upgraded websocket connection, lagged by the configured delay so that,
// while the match is running, a spectator session never sees state less
// than DelayTicks old (the anti-cheat delay-line). Once the match has
// finished, the replay continues up to the final frame. It reads and
// discards inbound messages only to
// detect the peer closing the connection.
func RunSpectator(ctx context.Context, conn *websocket.Conn, reg *match.Registry, matchID int) error {
	w := newConnWriter(conn)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	err := sendSnapshots(sessionCtx, w, reg, matchID)
	cancel()
	<-readerDone
	return err
}

func sendSnapshots(ctx context.Context, w *connWriter, reg *match.Registry, matchID int) error {
	for {
		m, err := reg.GetOrCreate(ctx, matchID, matchID == 0)
		if err != nil {
			return err
		}

		placeholder := arena.NewArena(m.Params)
		for m.DelayLineLen() < m.Params.DelayTicks {
			if err := sendSnapshot(w, placeholder); err != nil {
				return nil
			}
			if !sleepOrDone(ctx, time.Second) {
				return nil
			}
		}

		var idx int
		if m.Finished() {
			idx = m.DelayLineLen() - 1
		} else {
			idx = maxInt(0, m.DelayLineLen()-m.Params.DelayTicks)
		}

		tick := time.Second / time.Duration(m.Params.FPS)
		for !m.Finished() || idx < m.DelayLineLen() {
			length := m.DelayLineLen()
			if idx >= length {
				idx = length - 1
			}
			idx = maxInt(idx, maxInt(0, length-m.Params.DelayTicks))

			if snap := m.DelayLineAt(idx); snap != nil {
				if err := sendSnapshot(w, snap); err != nil {
					return nil
				}
			}
			idx++

			if !sleepOrDone(ctx, tick) {
				return nil
			}
		}

		// Match finished and fully replayed: idle, holding the final
		// frame, until a new match replaces this one.
		if !sleepOrDone(ctx, time.Second) {
			return nil
		}
	}
}

func sendSnapshot(w *connWriter, a *arena.Arena) error {
	data, err := wire.EncodeSnapshot(a)
	if err != nil {
		return err
	}
	return w.WriteText(data)
}

// sleepOrDone waits for d, returning false if ctx was cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

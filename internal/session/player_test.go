package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"robot-battle/internal/config"
	"robot-battle/internal/match"
	"robot-battle/internal/storage"
	"robot-battle/internal/wire"
)

var testUpgrader = websocket.Upgrader{}

func newPlayerTestServer(t *testing.T, m *match.Match) (string, func()) {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = RunPlayer(r.Context(), conn, m)
	})
	srv := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	return wsURL, srv.Close
}

func newTestMatch() *match.Match {
	p := config.DefaultGameParameters()
	p.MaxMatchPlayers = 2
	p.MinMatchPlayers = 1
	p.WaitTime = 0
	p.FPS = 1000
	p.CommandRate = 2
	return match.New(1, p, storage.NoOpSink{}, nil, 1)
}

func readEcho(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var echo wire.EchoMessage
	if err := json.Unmarshal(raw, &echo); err != nil {
		t.Fatalf("unmarshal echo: %v", err)
	}
	return echo.Echo
}

func TestPlayerSessionJoinsAndReceivesWelcome(t *testing.T) {
	m := newTestMatch()
	url, closeSrv := newPlayerTestServer(t, m)
	defer closeSrv()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(wire.HelloMessage{Name: "alice", Secret: "s1"})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	echo := readEcho(t, conn)
	if !strings.Contains(echo, "Welcome, alice") {
		t.Fatalf("expected a welcome echo, got %q", echo)
	}
}

func TestPlayerSessionRefusesDuplicateName(t *testing.T) {
	m := newTestMatch()
	if _, err := m.Join("alice", "s1"); err != nil {
		t.Fatalf("seed join: %v", err)
	}

	url, closeSrv := newPlayerTestServer(t, m)
	defer closeSrv()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(wire.HelloMessage{Name: "alice", Secret: "different"})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	echo := readEcho(t, conn)
	if !strings.Contains(echo, "already in the game") {
		t.Fatalf("expected an already-in-the-game refusal, got %q", echo)
	}
}

func TestPlayerSessionRejoinWithMatchingSecretIsWelcomedBack(t *testing.T) {
	m := newTestMatch()
	if _, err := m.Join("alice", "s1"); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	m.SetConnected("alice", false)

	url, closeSrv := newPlayerTestServer(t, m)
	defer closeSrv()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(wire.HelloMessage{Name: "alice", Secret: "s1"})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	echo := readEcho(t, conn)
	if !strings.Contains(echo, "Welcome back, alice") {
		t.Fatalf("expected a rejoin welcome, got %q", echo)
	}
}

func TestPlayerSessionBadHelloIsRefused(t *testing.T) {
	m := newTestMatch()
	url, closeSrv := newPlayerTestServer(t, m)
	defer closeSrv()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"not":"a hello"}`)); err != nil {
		t.Fatalf("write bad hello: %v", err)
	}

	echo := readEcho(t, conn)
	if !strings.Contains(echo, "Bad hello") {
		t.Fatalf("expected a bad-hello notice, got %q", echo)
	}
}

func TestPlayerSessionStreamsStateAfterCommandTick(t *testing.T) {
	m := newTestMatch()
	url, closeSrv := newPlayerTestServer(t, m)
	defer closeSrv()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(wire.HelloMessage{Name: "alice", Secret: "s1"})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	readEcho(t, conn) // welcome

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Start(ctx)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a robot-state push after the match started, got error: %v", err)
	}
	var state map[string]interface{}
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("unmarshal pushed state: %v", err)
	}
	if state["name"] != "alice" {
		t.Fatalf("expected pushed state for alice, got %+v", state)
	}
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"robot-battle/internal/match"
	"robot-battle/internal/wire"
)

// ErrBadHello is returned when the first message on a player connection
// is not a well-formed hello.
var ErrBadHello = errors.New("bad_hello")

// RunPlayer drives one player session end to end against an already
// upgraded websocket connection: hello intake, join or rejoin admission,
// a pusher goroutine that streams this robot's state on every command
// tick, and an intake loop that decodes inbound commands into the
// match's queue. It returns once the socket closes, the robot is
// dropped, or the match declares a winner.
func RunPlayer(ctx context.Context, conn *websocket.Conn, m *match.Match) error {
	w := newConnWriter(conn)

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err // peer_gone before a hello ever arrived
	}
	var hello wire.HelloMessage
	if jsonErr := json.Unmarshal(raw, &hello); jsonErr != nil || hello.Name == "" {
		sendEcho(w, "Bad hello message.")
		return ErrBadHello
	}

	rejoined, err := m.Join(hello.Name, hello.Secret)
	if err != nil {
		sendEcho(w, refusalMessage(hello.Name, err))
		return err
	}
	if rejoined {
		sendEcho(w, fmt.Sprintf("Welcome back, %s", hello.Name))
	} else {
		sendEcho(w, fmt.Sprintf("Welcome, %s", hello.Name))
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	pusherDone := make(chan struct{})
	go func() {
		defer close(pusherDone)
		pushRobotState(sessionCtx, w, m, hello.Name)
		// Closing the connection unblocks the intake loop's read, so a
		// winner, the robot's death or its removal also ends the session.
		conn.Close()
	}()

	defer func() {
		m.SetConnected(hello.Name, false)
		cancel()
		<-pusherDone
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil // peer_gone
		}
		cmds, err := wire.DecodeCommands(raw)
		if err != nil {
			sendEcho(w, "Bad command received.")
			continue
		}
		if len(cmds) == 0 {
			continue
		}
		if err := m.EnqueueCommands(hello.Name, cmds); err != nil {
			return err // simulation_invariant
		}
	}
}

// pushRobotState waits for each command-tick signal and forwards this
// robot's current state, terminating the session on a winner
// declaration or the robot's death.
func pushRobotState(ctx context.Context, w *connWriter, m *match.Match, name string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.TickSignal():
		}

		robot, err := m.GetRobot(name)
		if err != nil {
			sendEcho(w, fmt.Sprintf("*** %s was dropped from the match!", name))
			return
		}

		data, err := wire.EncodePlain(robot)
		if err != nil {
			return
		}
		if err := w.WriteText(data); err != nil {
			return
		}

		if winner := m.Winner(); winner != nil {
			sendEcho(w, fmt.Sprintf("%s is the winner!", *winner))
			return
		}
		if !robot.Live() {
			sendEcho(w, fmt.Sprintf("*** %s is no longer alive!", name))
			return
		}
	}
}

func sendEcho(w *connWriter, msg string) {
	data, err := wire.EncodePlain(wire.EchoMessage{Echo: msg})
	if err != nil {
		return
	}
	_ = w.WriteText(data)
}

func refusalMessage(name string, err error) string {
	switch {
	case errors.Is(err, match.ErrMatchFull):
		return fmt.Sprintf("Sorry %s, this game is full", name)
	case errors.Is(err, match.ErrAlreadyJoined):
		return fmt.Sprintf("Sorry, %s is already in the game", name)
	case errors.Is(err, match.ErrGameStartedLateEntrantsDisallowed):
		return fmt.Sprintf("Sorry %s, this game has already started", name)
	default:
		return fmt.Sprintf("Sorry %s, could not join", name)
	}
}

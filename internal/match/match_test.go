package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"robot-battle/internal/arena"
	"robot-battle/internal/config"
	"robot-battle/internal/storage"
)

func testParams() config.GameParameters {
	p := config.DefaultGameParameters()
	p.MaxMatchPlayers = 2
	p.MinMatchPlayers = 1
	p.WaitTime = 0
	return p
}

func TestJoinNewPlayer(t *testing.T) {
	m := New(1, testParams(), storage.NoOpSink{}, nil, 1)

	rejoined, err := m.Join("alice", "secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rejoined {
		t.Fatal("expected a fresh join, not a rejoin")
	}
	if _, err := m.GetRobot("alice"); err != nil {
		t.Fatalf("expected alice's robot to exist: %v", err)
	}
}

func TestJoinNameCollisionRefused(t *testing.T) {
	m := New(1, testParams(), storage.NoOpSink{}, nil, 1)
	if _, err := m.Join("alice", "secret1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Join("alice", "different-secret"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestJoinMatchFullRefused(t *testing.T) {
	p := testParams()
	m := New(1, p, storage.NoOpSink{}, nil, 1)
	if _, err := m.Join("alice", "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Join("bob", "s2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Join("carol", "s3"); !errors.Is(err, ErrMatchFull) {
		t.Fatalf("expected ErrMatchFull, got %v", err)
	}
}

func TestRejoinWithMatchingSecretWhileDisconnected(t *testing.T) {
	m := New(1, testParams(), storage.NoOpSink{}, nil, 1)
	if _, err := m.Join("alice", "secret1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.SetConnected("alice", false)

	rejoined, err := m.Join("alice", "secret1")
	if err != nil {
		t.Fatalf("unexpected error on rejoin: %v", err)
	}
	if !rejoined {
		t.Fatal("expected rejoined=true for matching secret on a disconnected robot")
	}
}

func TestRejoinWithWrongSecretTreatedAsNewJoinAttempt(t *testing.T) {
	m := New(1, testParams(), storage.NoOpSink{}, nil, 1)
	if _, err := m.Join("alice", "secret1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.SetConnected("alice", false)

	// Wrong secret while disconnected: falls through to the name-collision
	// check since the robot is still present in the arena.
	if _, err := m.Join("alice", "wrong-secret"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined for a mismatched-secret rejoin attempt, got %v", err)
	}
}

func TestJoinAfterStartRefusedWithoutLateEntrants(t *testing.T) {
	m := New(1, testParams(), storage.NoOpSink{}, nil, 1)
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	if _, err := m.Join("late", "s1"); !errors.Is(err, ErrGameStartedLateEntrantsDisallowed) {
		t.Fatalf("expected ErrGameStartedLateEntrantsDisallowed, got %v", err)
	}
}

func TestEnqueueCommandsCapsAtRemainingBudget(t *testing.T) {
	p := testParams()
	p.InitialRemaining = 3
	m := New(1, p, storage.NoOpSink{}, nil, 1)
	if _, err := m.Join("alice", "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmds := make([]arena.Command, 10)
	for i := range cmds {
		cmds[i] = arena.IdleCommand()
	}
	if err := m.EnqueueCommands("alice", cmds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.mu.RLock()
	queued := len(m.commandQueues["alice"])
	m.mu.RUnlock()
	if queued != p.InitialRemaining {
		t.Fatalf("expected queue capped at %d, got %d", p.InitialRemaining, queued)
	}
}

func TestEnqueueCommandsUnknownRobotErrors(t *testing.T) {
	m := New(1, testParams(), storage.NoOpSink{}, nil, 1)
	if err := m.EnqueueCommands("nobody", []arena.Command{arena.IdleCommand()}); err == nil {
		t.Fatal("expected an error for an unknown robot")
	}
}

func TestMatchRunsToWinnerWithTwoPlayers(t *testing.T) {
	p := testParams()
	p.InitialRemaining = 40
	p.FPS = 1000 // fast ticks so the test completes quickly
	p.CommandRate = 2
	m := New(1, p, storage.NoOpSink{}, nil, 1)

	if _, err := m.Join("alice", "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Join("bob", "s2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Start(ctx)

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("match did not finish in time")
	}

	if !m.Finished() {
		t.Fatal("expected match to be finished")
	}
	if m.Winner() == nil {
		t.Fatal("expected a winner to be declared when remaining hits zero")
	}
	if m.DelayLineLen() == 0 {
		t.Fatal("expected at least one delay-line snapshot to have been captured")
	}
}

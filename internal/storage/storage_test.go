package storage

import (
	"context"
	"testing"
	"time"
)

func TestRecordMatchRoundTrip(t *testing.T) {
	db, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	outcome := MatchOutcome{
		MatchID: 7,
		EndTime: time.Now(),
		Winner:  "alice",
		CommandStats: []CommandStat{
			{RobotName: "alice", Command: "ALIVE", Total: 1},
			{RobotName: "bob", Command: "ALIVE", Total: 0},
		},
	}

	if err := db.RecordMatch(context.Background(), outcome); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}

	var winner string
	row := db.conn.QueryRow(`SELECT winner FROM match WHERE match_id = ?`, outcome.MatchID)
	if err := row.Scan(&winner); err != nil {
		t.Fatalf("query match: %v", err)
	}
	if winner != "alice" {
		t.Fatalf("expected winner alice, got %q", winner)
	}

	var statCount int
	row = db.conn.QueryRow(`SELECT COUNT(*) FROM match_stat`)
	if err := row.Scan(&statCount); err != nil {
		t.Fatalf("query match_stat: %v", err)
	}
	if statCount != 2 {
		t.Fatalf("expected 2 command-stat rows, got %d", statCount)
	}
}

func TestNoOpSinkDiscardsSilently(t *testing.T) {
	var sink NoOpSink
	if err := sink.RecordMatch(context.Background(), MatchOutcome{MatchID: 1}); err != nil {
		t.Fatalf("expected no error from NoOpSink, got %v", err)
	}
}

package eventlog

import (
	"os"
	"testing"
	"time"
)

func TestEmitRejectsWhenNotRunning(t *testing.T) {
	l := New()
	if l.Emit(NewEvent(EventTick, 1, "", nil)) {
		t.Fatal("expected Emit to reject events before Start")
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	l := New()
	path := t.TempDir() + "/events.log"
	if err := l.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !l.Emit(NewEvent(EventPlayerJoin, 1, "alice", nil)) {
		t.Fatal("expected Emit to accept an event once running")
	}
	l.Stop()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist after Stop, got %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	l := New()
	path := t.TempDir() + "/events.log"
	if err := l.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()
	if err := l.Start(path); err != nil {
		t.Fatalf("second Start should be a no-op, got error: %v", err)
	}
}

func TestEmitSimpleStampsSequenceAndCountsTotal(t *testing.T) {
	l := New()
	if err := l.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	if !l.EmitSimple(EventFire, 1, "alice", nil) {
		t.Fatal("expected EmitSimple to accept the event")
	}
	if l.TotalCount() != 1 {
		t.Fatalf("expected TotalCount 1, got %d", l.TotalCount())
	}
	if l.DroppedCount() != 0 {
		t.Fatalf("expected DroppedCount 0, got %d", l.DroppedCount())
	}
}

func TestGlobalRateLimitDropsExcessEvents(t *testing.T) {
	l := New()
	if err := l.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	accepted, rejected := 0, 0
	for i := 0; i < MaxEventsPerSec/10+50; i++ {
		if l.Emit(NewEvent(EventTick, 1, "", nil)) {
			accepted++
		} else {
			rejected++
		}
	}
	if rejected == 0 {
		t.Fatal("expected burst beyond the global limiter's burst size to drop some events")
	}
	if l.DroppedCount() != uint64(rejected) {
		t.Fatalf("expected DroppedCount %d, got %d", rejected, l.DroppedCount())
	}
}

func TestPerRobotRateLimitIsIndependentOfOtherRobots(t *testing.T) {
	l := New()
	if err := l.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	// Exhaust alice's per-robot burst without touching bob's.
	for i := 0; i < MaxEventsPerRobot/10+5; i++ {
		l.Emit(NewEvent(EventFire, 1, "alice", nil))
	}
	if !l.Emit(NewEvent(EventFire, 1, "bob", nil)) {
		t.Fatal("expected bob's independent per-robot limiter to still allow an event")
	}
}

func TestStatsReportsPendingAndRunning(t *testing.T) {
	l := New()
	if err := l.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Emit(NewEvent(EventTick, 1, "", nil))

	stats := l.Stats()
	if stats["running"] != true {
		t.Fatalf("expected running=true while started, got %+v", stats)
	}
	l.Stop()

	stats = l.Stats()
	if stats["running"] != false {
		t.Fatalf("expected running=false after Stop, got %+v", stats)
	}
}

func TestWriterFlushesBatchedEventsToFile(t *testing.T) {
	l := New()
	path := t.TempDir() + "/events.log"
	if err := l.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 5; i++ {
		l.EmitSimple(EventHit, 1, "alice", HitPayload{Energy: 3, HealthAfter: 97})
	}
	// Give the writer goroutine a chance to flush on its ticker.
	time.Sleep(3 * BatchFlushInterval)
	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected flushed events to be written to the log file")
	}
}

func TestEmitWithEmptyFilePathStillCountsEvents(t *testing.T) {
	l := New()
	if err := l.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	for i := 0; i < 3; i++ {
		l.EmitSimple(EventPlayerDisconnect, 1, "alice", nil)
	}
	time.Sleep(2 * BatchFlushInterval)
	if l.TotalCount() != 3 {
		t.Fatalf("expected TotalCount 3 even without a backing file, got %d", l.TotalCount())
	}
}

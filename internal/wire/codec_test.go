package wire

import (
	"encoding/json"
	"math/rand"
	"testing"

	"robot-battle/internal/arena"
	"robot-battle/internal/config"
)

func TestDecodeCommandsSingleObject(t *testing.T) {
	cmds, err := DecodeCommands([]byte(`{"command_type":1,"parameter":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Type != arena.CommandAccelerate {
		t.Fatalf("got %+v", cmds)
	}
}

func TestDecodeCommandsArray(t *testing.T) {
	cmds, err := DecodeCommands([]byte(`[{"command_type":3,"parameter":5},{"command_type":6,"parameter":0}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 2 || cmds[0].Type != arena.CommandTurnHull || cmds[1].Type != arena.CommandIdle {
		t.Fatalf("got %+v", cmds)
	}
}

func TestDecodeCommandsRejectsUnknownKind(t *testing.T) {
	if _, err := DecodeCommands([]byte(`{"command_type":42,"parameter":0}`)); err == nil {
		t.Fatal("expected error for unknown command_type")
	}
}

func TestDecodeCommandsRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeCommands([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestDecodeCommandsEmptyInputYieldsNoCommands(t *testing.T) {
	cmds, err := DecodeCommands([]byte(`   `))
	if err != nil || cmds != nil {
		t.Fatalf("expected nil, nil for blank input, got %+v, %v", cmds, err)
	}
}

func TestFormatCompactFloatRoundsAndTrimsZeros(t *testing.T) {
	cases := map[float64]string{
		1.0:     "1",
		1.25:    "1.3", // rounds to one decimal
		1.20:    "1.2",
		0.0:     "0",
		-0.04:   "0",
		100.95:  "101",
		-12.349: "-12.3",
	}
	for in, want := range cases {
		if got := formatCompactFloat(in); got != want {
			t.Errorf("formatCompactFloat(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodeSnapshotBooleansBecomeDigits(t *testing.T) {
	p := config.DefaultGameParameters()
	a := arena.NewArena(p)
	r := arena.NewRobot("alpha", "secret", rand.New(rand.NewSource(1)), p.ArenaWidth, p.ArenaHeight, p.RobotRadius)
	r.GotHit = true
	r.BumpedWall = false
	a.AddRobot(r)

	data, err := EncodeSnapshot(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(data)
	// The one-robot array is transposed, so each field is a one-entry column.
	if !contains(s, `"got_hit":[1]`) {
		t.Fatalf("expected got_hit:[1] in compact output, got %s", s)
	}
	if !contains(s, `"bumped_wall":[0]`) {
		t.Fatalf("expected bumped_wall:[0] in compact output, got %s", s)
	}
}

func TestEncodeSnapshotTransposesRobotArray(t *testing.T) {
	p := config.DefaultGameParameters()
	a := arena.NewArena(p)
	a.AddRobot(&arena.Robot{Name: "one", Health: 100, Radius: p.RobotRadius})
	a.AddRobot(&arena.Robot{Name: "two", Health: 50, Radius: p.RobotRadius})

	data, err := EncodeSnapshot(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("compact output is not valid JSON: %v, %s", err, data)
	}
	robots, ok := generic["robots"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected robots to be transposed into an object, got %T", generic["robots"])
	}
	if robots["_t"] != true {
		t.Fatalf("expected _t marker on transposed robots, got %+v", robots)
	}
	names, ok := robots["name"].([]interface{})
	if !ok || len(names) != 2 {
		t.Fatalf("expected name column with 2 entries, got %+v", robots["name"])
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

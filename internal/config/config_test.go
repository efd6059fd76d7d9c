package config

import "testing"

func TestSplitCSVTrimsEmptySegments(t *testing.T) {
	got := splitCSV("a,b,,c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}

func TestServerFromEnvAppliesOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DEBUG_PORT", "7000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg := ServerFromEnv()
	if cfg.Port != 9999 {
		t.Fatalf("expected Port 9999, got %d", cfg.Port)
	}
	if cfg.DebugPort != 7000 {
		t.Fatalf("expected DebugPort 7000, got %d", cfg.DebugPort)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" {
		t.Fatalf("expected two parsed origins, got %+v", cfg.AllowedOrigins)
	}
}

func TestServerFromEnvFallsBackToDefaults(t *testing.T) {
	cfg := ServerFromEnv()
	def := DefaultServer()
	if cfg.Port != def.Port || cfg.DebugPort != def.DebugPort {
		t.Fatalf("expected defaults without env overrides, got %+v", cfg)
	}
}

func TestStorageFromEnvAppliesOverride(t *testing.T) {
	t.Setenv("BATTLE_DB_DSN", "file:custom.db")
	cfg := StorageFromEnv()
	if cfg.DSN != "file:custom.db" {
		t.Fatalf("expected overridden DSN, got %q", cfg.DSN)
	}
}

func TestDefaultGameParametersAreInternallyConsistent(t *testing.T) {
	p := DefaultGameParameters()
	if p.MinMatchPlayers > p.MaxMatchPlayers {
		t.Fatalf("MinMatchPlayers %d exceeds MaxMatchPlayers %d", p.MinMatchPlayers, p.MaxMatchPlayers)
	}
	if p.DelayTicks != p.FPS*10 {
		t.Fatalf("expected DelayTicks to be FPS*10, got %d for FPS %d", p.DelayTicks, p.FPS)
	}
}

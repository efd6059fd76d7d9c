// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all game and server settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// GAME PARAMETERS
// =============================================================================

// GameParameters holds every tunable constant the arena simulation depends
// on. These values must match across every session of a given match, so
// they are loaded once at process start and threaded down rather than
// read from the environment mid-match.
type GameParameters struct {
	MaxVelocity        float64 // Arena units per command tick
	MaxTurnAngle        float64 // Degrees per sub-tick, hull
	MaxTurnRadarAngle   float64 // Degrees per sub-tick, radar
	MotorPower          float64
	BulletVelocity      float64
	FPS                 int // Simulation ticks per second
	CommandRate         int // Sub-ticks per command tick
	MaxDamage           float64
	WeaponRechargeRate  float64
	ArenaWidth          float64
	ArenaHeight         float64
	ExplodeFrames       int
	FiringFrames        int
	ExhaustFrames       int
	RobotRadius         float64
	InitialRemaining    int // Sub-tick budget for a match
	DelayTicks          int // Spectator delay-line length
	MaxMatchID          int
	MaxMatchPlayers     int
	MinMatchPlayers     int
	WaitTime            time.Duration // Pause between enough players and match start
	DemoMatchWaitTime   time.Duration // Override for the permanently-open match id 0
}

// DefaultGameParameters returns the canonical simulation constants, carried
// over unchanged from the reference implementation this server replaces.
func DefaultGameParameters() GameParameters {
	fps := 20
	return GameParameters{
		MaxVelocity:       3,
		MaxTurnAngle:      15,
		MaxTurnRadarAngle: 180,
		MotorPower:        1,
		BulletVelocity:    15,
		FPS:               fps,
		CommandRate:       5,
		MaxDamage:         5,
		WeaponRechargeRate: 0.1,
		ArenaWidth:        1000,
		ArenaHeight:       1000,
		ExplodeFrames:     6,
		FiringFrames:      6,
		ExhaustFrames:     6,
		RobotRadius:       20,
		InitialRemaining:  6000,
		DelayTicks:        fps * 10,
		MaxMatchID:        1000,
		MaxMatchPlayers:   10,
		MinMatchPlayers:   2,
		WaitTime:          10 * time.Second,
		DemoMatchWaitTime: 1 * time.Second,
	}
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection and performance limits.
type ResourceLimits struct {
	MaxActiveMatches   int // Not read anywhere; match count is bounded only by MaxMatchID
	MaxCommandQueue    int // Not read anywhere; queues are bounded only by the per-message remaining-budget cap
	MaxWSConnsPerIP    int // Concurrent websocket sessions per remote IP
	HTTPRatePerSecond  float64
	HTTPRateBurst      int
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxActiveMatches:  1000,
		MaxCommandQueue:   256,
		MaxWSConnsPerIP:   20,
		HTTPRatePerSecond: 10,
		HTTPRateBurst:     20,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	DebugPort      int // localhost-only pprof/metrics listener
	AllowedOrigins []string
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           8000,
		DebugPort:      6060,
		AllowedOrigins: []string{"*"},
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if p := getEnvInt("DEBUG_PORT", 0); p > 0 {
		cfg.DebugPort = p
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitCSV(origins)
	}

	return cfg
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig controls the result-sink backend.
type StorageConfig struct {
	DSN string // sqlite DSN; empty disables persistence (in-memory no-op sink)
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{DSN: "file:battle.db?_pragma=busy_timeout(5000)"}
}

// StorageFromEnv returns storage configuration with environment variable overrides.
func StorageFromEnv() StorageConfig {
	cfg := DefaultStorage()
	if dsn := os.Getenv("BATTLE_DB_DSN"); dsn != "" {
		cfg.DSN = dsn
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Game    GameParameters
	Limits  ResourceLimits
	Server  ServerConfig
	Storage StorageConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Game:    DefaultGameParameters(),
		Limits:  DefaultLimits(),
		Server:  ServerFromEnv(),
		Storage: StorageFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func splitCSV(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

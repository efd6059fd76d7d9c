// Package storage is the result sink: write-only persistence of a
// finished match's outcome and per-robot command tallies. Backed by
// SQLite via the pure-Go modernc.org/sqlite driver, so no cgo toolchain
// is required to run the server.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// CommandStat is a per-robot, per-command-kind tally for one finished match.
type CommandStat struct {
	RobotName string
	Command   string
	Total     int
}

// MatchOutcome is everything the result sink needs to record about a
// finished match.
type MatchOutcome struct {
	MatchID      int
	EndTime      time.Time
	Winner       string
	CommandStats []CommandStat
}

// ResultSink is the write-only contract internal/match depends on. It
// has no read methods: querying results is this component's external
// collaborator's job, not the battle server's.
type ResultSink interface {
	RecordMatch(ctx context.Context, outcome MatchOutcome) error
}

// DB is the SQLite-backed ResultSink.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	// Migrations: columns introduced after the initial schema. ALTER TABLE
	// returns "duplicate column" for a column that already exists; that
	// error is safe to ignore.
	migrations := []string{
		`ALTER TABLE match ADD COLUMN robot_count INTEGER NOT NULL DEFAULT 0`,
	}
	for _, stmt := range migrations {
		if _, err := conn.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			conn.Close()
			return nil, fmt.Errorf("migration: %w", err)
		}
	}
	return &DB{conn: conn}, nil
}

// RecordMatch inserts the match row and its per-robot command tallies in
// a single transaction.
func (db *DB) RecordMatch(ctx context.Context, outcome MatchOutcome) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO match (match_id, end_time, winner, robot_count) VALUES (?, ?, ?, ?)`,
		outcome.MatchID, outcome.EndTime, outcome.Winner, countRobots(outcome.CommandStats))
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for _, stat := range outcome.CommandStats {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO match_stat (match_id, robot_name, command, total) VALUES (?, ?, ?, ?)`,
			rowID, stat.RobotName, stat.Command, stat.Total); err != nil {
			return fmt.Errorf("insert match_stat: %w", err)
		}
	}

	return tx.Commit()
}

func countRobots(stats []CommandStat) int {
	seen := make(map[string]struct{}, len(stats))
	for _, s := range stats {
		seen[s.RobotName] = struct{}{}
	}
	return len(seen)
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// NoOpSink is a ResultSink that discards every outcome. Use this when
// persistence is disabled, e.g. in tests that don't want a filesystem
// dependency.
type NoOpSink struct{}

// RecordMatch does nothing and never errors.
func (NoOpSink) RecordMatch(ctx context.Context, outcome MatchOutcome) error {
	return nil
}

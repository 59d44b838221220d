package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// migration is a single schema step, applied once and tracked in schema_version.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "run summaries",
		SQL: `
		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id         TEXT PRIMARY KEY,
			created_at     DATETIME NOT NULL,
			state          TEXT NOT NULL,
			server_id      TEXT,
			total_channels INTEGER DEFAULT 0,
			total_success  INTEGER DEFAULT 0,
			total_error    INTEGER DEFAULT 0,
			document       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_summaries_time ON run_summaries(created_at);
		`,
	},
}

// RunRow is the indexed part of a stored summary.
type RunRow struct {
	RunID         string
	CreatedAt     time.Time
	State         string
	ServerID      string
	TotalChannels int
	TotalSuccess  int64
	TotalError    int64
}

// SQLiteStore keeps every run summary document in a SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the summary database at dbPath.
func OpenSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version, description) VALUES (?, ?)", m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Write stores the summary, replacing any earlier document with the same run ID.
func (s *SQLiteStore) Write(ctx context.Context, sum *Summary) error {
	doc, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_summaries
		 (run_id, created_at, state, server_id, total_channels, total_success, total_error, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Timestamp.UTC(), sum.State, sum.ServerID,
		sum.Stats.TotalChannels, sum.Stats.TotalSuccess, sum.Stats.TotalError, string(doc),
	)
	return err
}

// Latest returns the most recent summary, or nil when none is stored.
func (s *SQLiteStore) Latest(ctx context.Context) (*Summary, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM run_summaries ORDER BY created_at DESC LIMIT 1`,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal([]byte(doc), &sum); err != nil {
		return nil, fmt.Errorf("decode stored summary: %w", err)
	}
	return &sum, nil
}

// List returns the newest runs first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, state, COALESCE(server_id, ''), total_channels, total_success, total_error
		 FROM run_summaries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.CreatedAt, &r.State, &r.ServerID, &r.TotalChannels, &r.TotalSuccess, &r.TotalError); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Package store provides SQLite persistence for moderation rules,
// search history, the moderation review queue, and curated quick
// links.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages all portal persistence in one database.
type Store struct {
	db *sql.DB
}

// Open creates a store at the given database path, running migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// OpenWithDB wraps an existing database connection, running migrations.
func OpenWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			action TEXT NOT NULL,
			value TEXT NOT NULL,
			case_sensitive INTEGER NOT NULL DEFAULT 0,
			severity INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			hits INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(type, value)
		);

		CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(active);

		CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			role TEXT NOT NULL,
			result_count INTEGER NOT NULL,
			fallback INTEGER NOT NULL DEFAULT 0,
			answered INTEGER NOT NULL DEFAULT 0,
			trigger_level TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at DESC);

		CREATE TABLE IF NOT EXISTS reviews (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			role TEXT NOT NULL,
			reason TEXT NOT NULL,
			trigger_level TEXT NOT NULL,
			score INTEGER NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_open ON reviews(resolved, created_at DESC);

		CREATE TABLE IF NOT EXISTS quick_links (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			min_role TEXT NOT NULL DEFAULT 'guest',
			position INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

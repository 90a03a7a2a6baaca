package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// WAL lets status queries read while a page commits
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// One connection serializes page commits from concurrent workers
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// PruneCache removes cache entries older than the specified duration.
// It returns the number of removed entries.
func (d *DB) PruneCache(olderThan time.Duration) (int64, error) {
	// Same layout as SQLite's CURRENT_TIMESTAMP
	deadline := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")
	res, err := d.Exec("DELETE FROM cache WHERE created_at < ?", deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS movie (
			wikidata_id TEXT PRIMARY KEY,
			sitelinks INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			release_date TEXT,
			duration_min INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_movie_sitelinks ON movie (sitelinks DESC);`,
		`CREATE TABLE IF NOT EXISTS person (
			wikidata_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS movie_cast (
			movie_id TEXT NOT NULL,
			person_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (movie_id, person_id)
		);`,
		`CREATE TABLE IF NOT EXISTS movie_director (
			movie_id TEXT NOT NULL,
			person_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (movie_id, person_id)
		);`,
		`CREATE TABLE IF NOT EXISTS alternative_title (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			movie_id TEXT NOT NULL,
			language_code TEXT NOT NULL,
			title TEXT NOT NULL,
			translated_title TEXT NOT NULL DEFAULT '',
			difference_ratio REAL NOT NULL DEFAULT 1.0,
			updated_at DATETIME,
			UNIQUE (movie_id, language_code)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alternative_title_pending ON alternative_title (translated_title, language_code);`,
		`CREATE TABLE IF NOT EXISTS persistent_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	return nil
}

// Package memory provides content-addressed recall of past strategy
// outcomes. Records are written once when a node settles and read many
// times to bias future planning.
package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed storage for strategy records with
// full-text recall.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates a Store at the given database path, creating parent
// directories if needed, and applies pending migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode allows concurrent readers during consolidation writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{
		db:     conn,
		dbPath: dbPath,
	}

	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// migrate creates the necessary tables and indexes if they don't exist.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM memory_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Strategies},
		{2, migrationV2Consolidations},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}

		if _, err := tx.Exec("INSERT INTO memory_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

const migrationV1Strategies = `
CREATE TABLE IF NOT EXISTS strategies (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	goal TEXT NOT NULL,
	outcome TEXT NOT NULL,
	narrative TEXT NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_strategies_fingerprint ON strategies(fingerprint);
CREATE INDEX IF NOT EXISTS idx_strategies_outcome ON strategies(outcome);
CREATE INDEX IF NOT EXISTS idx_strategies_created_at ON strategies(created_at);

-- Full-text search on goal and narrative
CREATE VIRTUAL TABLE IF NOT EXISTS strategies_fts USING fts5(
	goal,
	narrative,
	content='strategies',
	content_rowid='rowid'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS strategies_ai AFTER INSERT ON strategies BEGIN
	INSERT INTO strategies_fts(rowid, goal, narrative)
	VALUES (NEW.rowid, NEW.goal, NEW.narrative);
END;

CREATE TRIGGER IF NOT EXISTS strategies_ad AFTER DELETE ON strategies BEGIN
	INSERT INTO strategies_fts(strategies_fts, rowid, goal, narrative)
	VALUES ('delete', OLD.rowid, OLD.goal, OLD.narrative);
END;

CREATE TRIGGER IF NOT EXISTS strategies_au AFTER UPDATE ON strategies BEGIN
	INSERT INTO strategies_fts(strategies_fts, rowid, goal, narrative)
	VALUES ('delete', OLD.rowid, OLD.goal, OLD.narrative);
	INSERT INTO strategies_fts(rowid, goal, narrative)
	VALUES (NEW.rowid, NEW.goal, NEW.narrative);
END;
`

const migrationV2Consolidations = `
CREATE TABLE IF NOT EXISTS consolidations (
	run_id TEXT PRIMARY KEY,
	ran_at DATETIME NOT NULL
);
`

// Fingerprint returns the content address of a goal: the hex SHA-256
// of the goal text lowercased with whitespace collapsed. Goals that
// differ only in case or spacing share a fingerprint.
func Fingerprint(goal string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(goal)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

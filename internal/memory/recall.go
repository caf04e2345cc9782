package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banyanhq/banyan/pkg/models"
)

// Record inserts a strategy record. Missing ID, Fingerprint, and
// CreatedAt fields are filled in.
func (s *Store) Record(rec *models.StrategyRecord) error {
	if !rec.Outcome.Valid() {
		return fmt.Errorf("invalid record outcome: %q", rec.Outcome)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Fingerprint == "" {
		rec.Fingerprint = Fingerprint(rec.Goal)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO strategies (id, fingerprint, goal, outcome, narrative, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Fingerprint,
		rec.Goal,
		string(rec.Outcome),
		rec.Narrative,
		rec.Score,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

// Recall returns up to limit prior records for a goal, exact
// fingerprint matches first, then full-text matches ranked by
// relevance.
func (s *Store) Recall(goal string, limit int) ([]*models.StrategyRecord, error) {
	return s.recall(goal, "", limit)
}

// RecallFailures returns up to limit prior failure records for a goal.
// Used when a node has exhausted its retries and the planner needs to
// know what went wrong before.
func (s *Store) RecallFailures(goal string, limit int) ([]*models.StrategyRecord, error) {
	return s.recall(goal, string(models.OutcomeFailure), limit)
}

func (s *Store) recall(goal, outcome string, limit int) ([]*models.StrategyRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fp := Fingerprint(goal)

	query := `
		SELECT id, fingerprint, goal, outcome, narrative, score, created_at
		FROM strategies
		WHERE fingerprint = ?`
	args := []interface{}{fp}
	if outcome != "" {
		query += " AND outcome = ?"
		args = append(args, outcome)
	}
	query += " ORDER BY score DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recall by fingerprint: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if len(records) >= limit {
		return records[:limit], nil
	}

	// Fall through to full-text similarity for the remaining slots.
	match := ftsQuery(goal)
	if match == "" {
		return records, nil
	}

	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.ID] = true
	}

	query = `
		SELECT s.id, s.fingerprint, s.goal, s.outcome, s.narrative, s.score, s.created_at
		FROM strategies s
		JOIN strategies_fts fts ON s.rowid = fts.rowid
		WHERE strategies_fts MATCH ?`
	args = []interface{}{match}
	if outcome != "" {
		query += " AND s.outcome = ?"
		args = append(args, outcome)
	}
	query += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err = s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recall by similarity: %w", err)
	}
	similar, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	for _, r := range similar {
		if seen[r.ID] {
			continue
		}
		records = append(records, r)
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

// List returns the most recent records up to the specified limit.
func (s *Store) List(limit int) ([]*models.StrategyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, fingerprint, goal, outcome, narrative, score, created_at
		FROM strategies
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	return scanRecords(rows)
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM strategies").Scan(&n); err != nil {
		return 0, fmt.Errorf("count strategies: %w", err)
	}
	return n, nil
}

// hasRecord reports whether a record already exists for the
// fingerprint and outcome. Consolidation uses this to stay idempotent.
func (s *Store) hasRecord(fingerprint string, outcome models.RecordOutcome) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM strategies WHERE fingerprint = ? AND outcome = ?",
		fingerprint, string(outcome),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return n > 0, nil
}

// ftsQuery turns free-form goal text into a safe FTS5 MATCH expression:
// each token quoted, joined with OR. Returns "" when the goal has no
// searchable tokens.
func ftsQuery(goal string) string {
	fields := strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, " OR ")
}

// scanRecords scans rows into a slice of StrategyRecord pointers.
func scanRecords(rows *sql.Rows) ([]*models.StrategyRecord, error) {
	defer rows.Close()

	var records []*models.StrategyRecord
	for rows.Next() {
		var (
			rec       models.StrategyRecord
			outcome   string
			createdAt string
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Fingerprint,
			&rec.Goal,
			&outcome,
			&rec.Narrative,
			&rec.Score,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}

		rec.Outcome = models.RecordOutcome(outcome)
		ca, _ := parseTime(createdAt)
		rec.CreatedAt = ca

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategies: %w", err)
	}
	return records, nil
}

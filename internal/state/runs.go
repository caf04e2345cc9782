package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banyanhq/banyan/pkg/models"
)

// ErrRunNotFound indicates no row exists for the requested run.
var ErrRunNotFound = errors.New("run not found")

// SaveResult upserts a run's settled outcome.
func (db *DB) SaveResult(res *models.RunResult) error {
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO runs (run_id, goal, status, root_status, output, started_at, completed_at, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			goal = excluded.goal,
			status = excluded.status,
			root_status = excluded.root_status,
			output = excluded.output,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			metrics = excluded.metrics
	`, res.RunID, res.Goal, string(res.Status), string(res.RootStatus), res.Output,
		formatTime(res.StartedAt), formatTime(res.CompletedAt), string(metricsJSON))
	if err != nil {
		return fmt.Errorf("save run result: %w", err)
	}
	return nil
}

// GetResult loads a run's settled outcome.
func (db *DB) GetResult(runID string) (*models.RunResult, error) {
	row := db.QueryRow(`
		SELECT run_id, goal, status, root_status, output, started_at, completed_at, metrics
		FROM runs WHERE run_id = ?
	`, runID)

	var res models.RunResult
	var status, rootStatus string
	var output, completedAt, metrics sql.NullString
	var startedAt string

	err := row.Scan(&res.RunID, &res.Goal, &status, &rootStatus, &output, &startedAt, &completedAt, &metrics)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run result: %w", err)
	}

	res.Status = models.RunStatus(status)
	res.RootStatus = models.TaskStatus(rootStatus)
	res.Output = output.String
	if t, err := parseTime(startedAt); err == nil {
		res.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := parseTime(completedAt.String); err == nil {
			res.CompletedAt = t
		}
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &res.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return &res, nil
}

// SaveSnapshot upserts a run's latest snapshot. The run row is created if
// the run has not settled yet.
func (db *DB) SaveSnapshot(snap *models.RunSnapshot) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO runs (run_id, goal, status, started_at, snapshot)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			snapshot = excluded.snapshot
	`, snap.RunID, snap.Goal, string(snap.Status), formatTime(snap.StartedAt), string(snapJSON))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads a run's latest snapshot.
func (db *DB) GetSnapshot(runID string) (*models.RunSnapshot, error) {
	row := db.QueryRow(`SELECT snapshot FROM runs WHERE run_id = ?`, runID)

	var snapJSON sql.NullString
	err := row.Scan(&snapJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if !snapJSON.Valid || snapJSON.String == "" {
		return nil, fmt.Errorf("run %s has no snapshot: %w", runID, ErrRunNotFound)
	}

	var snap models.RunSnapshot
	if err := json.Unmarshal([]byte(snapJSON.String), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListRuns returns run outcomes ordered by start time, most recent first.
// A limit of zero returns everything.
func (db *DB) ListRuns(limit int) ([]models.RunResult, error) {
	query := `
		SELECT run_id, goal, status, root_status, output, started_at, completed_at, metrics
		FROM runs ORDER BY started_at DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var results []models.RunResult
	for rows.Next() {
		var res models.RunResult
		var status string
		var rootStatus, output, completedAt, metrics sql.NullString
		var startedAt string

		if err := rows.Scan(&res.RunID, &res.Goal, &status, &rootStatus, &output, &startedAt, &completedAt, &metrics); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		res.Status = models.RunStatus(status)
		res.RootStatus = models.TaskStatus(rootStatus.String)
		res.Output = output.String
		if t, err := parseTime(startedAt); err == nil {
			res.StartedAt = t
		}
		if completedAt.Valid {
			if t, err := parseTime(completedAt.String); err == nil {
				res.CompletedAt = t
			}
		}
		if metrics.Valid && metrics.String != "" {
			json.Unmarshal([]byte(metrics.String), &res.Metrics)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

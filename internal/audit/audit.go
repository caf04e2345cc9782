// Package audit provides the append-only ledger of every decision and
// action taken during a run. Entries are never updated or deleted.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/banyanhq/banyan/pkg/models"
)

// Actor names for ledger entries.
const (
	ActorOrchestrator = "orchestrator"
	ActorGraph        = "graph"
	ActorPlanner      = "planner"
	ActorExecutor     = "executor"
	ActorVerifier     = "verifier"
	ActorBroker       = "broker"
	ActorGate         = "gate"
	ActorHuman        = "human"
	ActorMemory       = "memory"
)

// Action names for ledger entries.
const (
	ActionSubmitRoot   = "submit_root"
	ActionTransition   = "transition"
	ActionSetPlan      = "set_plan"
	ActionSetResult    = "set_result"
	ActionReject       = "reject"
	ActionDecompose    = "decompose"
	ActionPlan         = "plan"
	ActionExecute      = "execute"
	ActionVerify       = "verify"
	ActionToolCall     = "tool_call"
	ActionGateHold     = "gate_hold"
	ActionGateDecision = "gate_decision"
	ActionFeedback     = "feedback"
	ActionRunStarted   = "run_started"
	ActionRunCompleted = "run_completed"
	ActionRequeue      = "requeue"
	ActionCancel       = "cancel"
	ActionStateDump    = "state_dump"
	ActionConsolidate  = "consolidate"
)

// Ledger is an append-only audit store backed by SQLite.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
	// seqs caches the last sequence number per run.
	seqs map[string]int64
}

// Open opens the ledger database at the given path, creating parent
// directories and the schema as needed.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &Ledger{db: db, seqs: make(map[string]int64)}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	node_id TEXT,
	payload TEXT,
	payload_digest TEXT,
	outcome TEXT,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_audit_run_action ON audit_entries(run_id, action);
CREATE INDEX IF NOT EXISTS idx_audit_run_node ON audit_entries(run_id, node_id);
`

// Append records one entry and returns it with its assigned sequence number.
// The payload is marshalled to JSON and digested with SHA-256.
func (l *Ledger) Append(runID, actor, action, nodeID string, payload any, outcome string) (*models.AuditEntry, error) {
	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.nextSeqLocked(runID)
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		RunID:         runID,
		Seq:           seq,
		Timestamp:     time.Now().UTC(),
		Actor:         actor,
		Action:        action,
		NodeID:        nodeID,
		Payload:       payloadJSON,
		PayloadDigest: digest(payloadJSON),
		Outcome:       outcome,
	}

	_, err = l.db.Exec(`
		INSERT INTO audit_entries (run_id, seq, ts, actor, action, node_id, payload, payload_digest, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.RunID, entry.Seq, entry.Timestamp.Format(time.RFC3339Nano),
		entry.Actor, entry.Action, entry.NodeID, entry.Payload, entry.PayloadDigest, entry.Outcome)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	l.seqs[runID] = seq
	return entry, nil
}

// nextSeqLocked returns the next sequence number for a run, loading the
// current maximum from the database on first use.
func (l *Ledger) nextSeqLocked(runID string) (int64, error) {
	if last, ok := l.seqs[runID]; ok {
		return last + 1, nil
	}

	var last int64
	row := l.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM audit_entries WHERE run_id = ?`, runID)
	if err := row.Scan(&last); err != nil {
		return 0, fmt.Errorf("load audit sequence: %w", err)
	}
	l.seqs[runID] = last
	return last + 1, nil
}

// Chain returns every entry for a run ordered by sequence number.
func (l *Ledger) Chain(runID string) ([]models.AuditEntry, error) {
	return l.query(`
		SELECT run_id, seq, ts, actor, action, node_id, payload, payload_digest, outcome
		FROM audit_entries WHERE run_id = ? ORDER BY seq
	`, runID)
}

// Actions returns a run's entries whose action is in the given set,
// ordered by sequence number.
func (l *Ledger) Actions(runID string, actions ...string) ([]models.AuditEntry, error) {
	if len(actions) == 0 {
		return l.Chain(runID)
	}

	query := fmt.Sprintf(`
		SELECT run_id, seq, ts, actor, action, node_id, payload, payload_digest, outcome
		FROM audit_entries WHERE run_id = ? AND action IN (%s) ORDER BY seq
	`, placeholders(len(actions)))

	args := make([]any, 0, len(actions)+1)
	args = append(args, runID)
	for _, a := range actions {
		args = append(args, a)
	}
	return l.query(query, args...)
}

// NodeActions returns a node's entries whose action is in the given set,
// ordered by sequence number. An empty set matches every action.
func (l *Ledger) NodeActions(runID, nodeID string, actions ...string) ([]models.AuditEntry, error) {
	if len(actions) == 0 {
		return l.query(`
			SELECT run_id, seq, ts, actor, action, node_id, payload, payload_digest, outcome
			FROM audit_entries WHERE run_id = ? AND node_id = ? ORDER BY seq
		`, runID, nodeID)
	}

	query := fmt.Sprintf(`
		SELECT run_id, seq, ts, actor, action, node_id, payload, payload_digest, outcome
		FROM audit_entries WHERE run_id = ? AND node_id = ? AND action IN (%s) ORDER BY seq
	`, placeholders(len(actions)))

	args := make([]any, 0, len(actions)+2)
	args = append(args, runID, nodeID)
	for _, a := range actions {
		args = append(args, a)
	}
	return l.query(query, args...)
}

// DumpState records a full state snapshot for a run. Used on fatal aborts
// and consumed by diagnostics and memory consolidation.
func (l *Ledger) DumpState(runID string, state any, outcome string) error {
	_, err := l.Append(runID, ActorOrchestrator, ActionStateDump, "", state, outcome)
	return err
}

// ExportJSONL writes a run's chain to w, one JSON entry per line.
func (l *Ledger) ExportJSONL(runID string, w io.Writer) error {
	entries, err := l.Chain(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("encode audit entry %d: %w", entries[i].Seq, err)
		}
	}
	return nil
}

// Runs returns the distinct run IDs present in the ledger, most recent first.
func (l *Ledger) Runs() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT run_id FROM audit_entries GROUP BY run_id ORDER BY MAX(ts) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

func (l *Ledger) query(query string, args ...any) ([]models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var ts string
		var nodeID, payload, pdigest, outcome sql.NullString
		if err := rows.Scan(&e.RunID, &e.Seq, &ts, &e.Actor, &e.Action, &nodeID, &payload, &pdigest, &outcome); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		e.NodeID = nodeID.String
		e.Payload = payload.String
		e.PayloadDigest = pdigest.String
		e.Outcome = outcome.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// marshalPayload renders a payload as JSON. Strings pass through as-is so
// already-encoded payloads are not double quoted.
func marshalPayload(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func digest(payload string) string {
	if payload == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

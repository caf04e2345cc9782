package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/banyanhq/banyan/internal/audit"
	"github.com/banyanhq/banyan/pkg/models"
)

// DefaultInterval is how long consolidation waits between passes.
const DefaultInterval = 24 * time.Hour

// ChainSource provides read access to audit trails.
type ChainSource interface {
	Runs() ([]string, error)
	Chain(runID string) ([]models.AuditEntry, error)
}

var _ ChainSource = (*audit.Ledger)(nil)

// Consolidator compresses raw audit trails into distilled strategy
// records: rationale digests for failures, the winning plan for nodes
// that succeeded on execution. It is strictly best-effort; skipping a
// pass never affects a live run.
type Consolidator struct {
	store    *Store
	chains   ChainSource
	interval time.Duration
	now      func() time.Time // For testing
}

// NewConsolidator creates a Consolidator over the given store and
// audit source. If interval is 0, DefaultInterval is used.
func NewConsolidator(store *Store, chains ChainSource, interval time.Duration) *Consolidator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Consolidator{
		store:    store,
		chains:   chains,
		interval: interval,
		now:      time.Now,
	}
}

// ShouldRun reports whether a pass is due: consolidation has never
// run, or the last pass is older than the interval.
func (c *Consolidator) ShouldRun() bool {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	var last sql.NullString
	if err := c.store.db.QueryRow("SELECT MAX(ran_at) FROM consolidations").Scan(&last); err != nil {
		return true
	}
	if !last.Valid {
		return true
	}
	t, err := parseTime(last.String)
	if err != nil {
		return true
	}
	return c.now().Sub(t) >= c.interval
}

// Run consolidates every audit trail not yet processed and returns
// the number of records written. A trail that fails to distill is
// skipped and retried on the next pass.
func (c *Consolidator) Run() (int, error) {
	runIDs, err := c.chains.Runs()
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}

	written := 0
	for _, runID := range runIDs {
		done, err := c.alreadyRan(runID)
		if err != nil {
			return written, err
		}
		if done {
			continue
		}

		n, err := c.consolidateRun(runID)
		if err != nil {
			continue
		}
		written += n

		if err := c.markRan(runID); err != nil {
			return written, err
		}
	}
	return written, nil
}

// consolidateRun distills one audit trail. Node goals are recovered
// from submit_root and decompose entries, lessons from reject entries,
// and winning plans from the last set_plan before a direct
// active-to-success transition.
func (c *Consolidator) consolidateRun(runID string) (int, error) {
	chain, err := c.chains.Chain(runID)
	if err != nil {
		return 0, fmt.Errorf("read chain: %w", err)
	}

	goals := make(map[string]string)
	plans := make(map[string]string)
	lessons := make(map[string][]string)
	executed := make(map[string]bool)
	var order []string

	note := func(nodeID, goal string) {
		if _, ok := goals[nodeID]; !ok {
			order = append(order, nodeID)
		}
		goals[nodeID] = goal
	}

	for _, e := range chain {
		switch e.Action {
		case audit.ActionSubmitRoot:
			var p struct {
				Goal string `json:"goal"`
			}
			if json.Unmarshal([]byte(e.Payload), &p) == nil && p.Goal != "" {
				note(e.NodeID, p.Goal)
			}
		case audit.ActionDecompose:
			var p struct {
				Subgoals []string `json:"subgoals"`
				Children []string `json:"children"`
			}
			if json.Unmarshal([]byte(e.Payload), &p) == nil {
				for i, child := range p.Children {
					if i < len(p.Subgoals) {
						note(child, p.Subgoals[i])
					}
				}
			}
		case audit.ActionSetPlan:
			if e.Outcome != "set" {
				continue
			}
			var p struct {
				Strategy string `json:"strategy"`
			}
			if json.Unmarshal([]byte(e.Payload), &p) == nil && p.Strategy != "" {
				plans[e.NodeID] = p.Strategy
			}
		case audit.ActionReject:
			var p struct {
				Attempt   int    `json:"attempt"`
				Rationale string `json:"rationale"`
			}
			if json.Unmarshal([]byte(e.Payload), &p) == nil && p.Rationale != "" {
				lessons[e.NodeID] = append(lessons[e.NodeID],
					fmt.Sprintf("attempt %d: %s", p.Attempt, p.Rationale))
			}
		case audit.ActionTransition:
			var p struct {
				From string `json:"from"`
				To   string `json:"to"`
			}
			if json.Unmarshal([]byte(e.Payload), &p) == nil {
				// Only a direct active-to-success transition means the
				// stored plan actually worked. Propagated success on a
				// decomposed parent carries the plan that failed.
				if p.From == string(models.TaskStatusActive) && p.To == string(models.TaskStatusSuccess) {
					executed[e.NodeID] = true
				}
			}
		}
	}

	written := 0
	for _, nodeID := range order {
		goal := goals[nodeID]

		if executed[nodeID] {
			if strategy := plans[nodeID]; strategy != "" {
				ok, err := c.write(goal, models.OutcomeSuccess, strategy, 1.0)
				if err != nil {
					return written, err
				}
				if ok {
					written++
				}
			}
		}

		if ls := lessons[nodeID]; len(ls) > 0 {
			ok, err := c.write(goal, models.OutcomeFailure, strings.Join(ls, "\n"), 0)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
	}
	return written, nil
}

// write inserts a distilled record unless one with the same
// fingerprint and outcome already exists.
func (c *Consolidator) write(goal string, outcome models.RecordOutcome, narrative string, score float64) (bool, error) {
	fp := Fingerprint(goal)
	exists, err := c.store.hasRecord(fp, outcome)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	rec := &models.StrategyRecord{
		Fingerprint: fp,
		Goal:        goal,
		Outcome:     outcome,
		Narrative:   narrative,
		Score:       score,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.store.Record(rec); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Consolidator) alreadyRan(runID string) (bool, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	var n int
	err := c.store.db.QueryRow("SELECT COUNT(*) FROM consolidations WHERE run_id = ?", runID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check consolidation: %w", err)
	}
	return n > 0, nil
}

func (c *Consolidator) markRan(runID string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	_, err := c.store.db.Exec(
		"INSERT OR REPLACE INTO consolidations (run_id, ran_at) VALUES (?, ?)",
		runID, formatTime(c.now()),
	)
	if err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}
	return nil
}

package orchestrator

import (
	"log"
	"runtime"

	"github.com/banyanhq/banyan/pkg/models"
)

// Snapshot builds a monotonically versioned view of the run. Safe to call
// from any goroutine; the tree and counters are copied under their locks.
func (r *Run) Snapshot() *models.RunSnapshot {
	nodes := r.tree.Nodes()
	rootID := r.tree.RootID()

	activeNode := ""
	for id, node := range nodes {
		if node.Status == models.TaskStatusActive {
			activeNode = id
			break
		}
	}

	r.mu.Lock()
	snap := &models.RunSnapshot{
		Version:    r.version,
		RunID:      r.id,
		Goal:       r.goal,
		Status:     r.status,
		RootID:     rootID,
		Nodes:      nodes,
		ActiveNode: activeNode,
		Logs:       append([]models.LogEntry(nil), r.logs...),
		StartedAt:  r.startedAt,
		UpdatedAt:  r.updatedAt,
	}
	r.mu.Unlock()

	snap.Metrics = r.snapshotMetrics()
	return snap
}

// snapshotMetrics copies the counters and adds point-in-time runtime stats.
func (r *Run) snapshotMetrics() models.Metrics {
	r.mu.Lock()
	m := r.metrics
	r.mu.Unlock()

	m.NodesByStatus = r.tree.StatusCounts()
	m.DroppedEvents = r.emitter.Dropped()
	if r.tokens != nil {
		m.TokensIn, m.TokensOut = r.tokens()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.HeapBytes = mem.HeapInuse
	m.Goroutines = runtime.NumGoroutine()
	return m
}

// persistSnapshot saves the current snapshot if a store is configured.
// Best effort; the hot path never depends on it.
func (r *Run) persistSnapshot() {
	if r.store == nil {
		return
	}
	if err := r.store.SaveSnapshot(r.Snapshot()); err != nil {
		log.Printf("[orchestrator] persist snapshot for run %s: %v", r.id, err)
	}
}

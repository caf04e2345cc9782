package gate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/pkg/models"
)

// Sources of a gate decision.
const (
	DecidedByHuman   = "human"
	DecidedByAuto    = "auto"
	DecidedByTimeout = "timeout"
)

var (
	// ErrNotHeld is returned when resolving a node with no held call.
	ErrNotHeld = errors.New("gate: no call held for node")
	// ErrAlreadyHeld is returned when a node already has a call waiting.
	ErrAlreadyHeld = errors.New("gate: node already has a held call")
)

// Request describes one tool call held for approval.
type Request struct {
	RunID  string          `json:"run_id"`
	NodeID string          `json:"node_id"`
	Call   models.ToolCall `json:"call"`
	// Rule is the deny rule that triggered the hold.
	Rule   string    `json:"rule"`
	HeldAt time.Time `json:"held_at"`
}

// Response resolves a held call.
type Response struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason,omitempty"`
}

// Manager parks dangerous calls until a human decides. Each node holds at
// most one call at a time; a hold that nobody resolves within the timeout
// is denied.
type Manager struct {
	autoApprove bool
	timeout     time.Duration

	mu      sync.Mutex
	pending map[string]*held
	onHold  func(Request)
}

type held struct {
	req Request
	ch  chan Response
}

// NewManager creates an approval manager from the gate configuration.
func NewManager(cfg config.GateConfig) *Manager {
	timeout := cfg.ApprovalTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Manager{
		autoApprove: cfg.AutoApprove,
		timeout:     timeout,
		pending:     make(map[string]*held),
	}
}

// OnHold registers a callback invoked whenever a call is parked. The
// callback runs on the waiting goroutine and must not block.
func (m *Manager) OnHold(fn func(Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHold = fn
}

// WaitForApproval blocks until the held call is approved, denied, or the
// timeout passes. A timeout denies the call. The error return is reserved
// for the caller's context ending, which abandons the hold entirely.
func (m *Manager) WaitForApproval(ctx context.Context, req Request) (Response, error) {
	if m.autoApprove {
		return Response{Approved: true, DecidedBy: DecidedByAuto}, nil
	}
	if req.HeldAt.IsZero() {
		req.HeldAt = time.Now()
	}

	h := &held{req: req, ch: make(chan Response, 1)}

	m.mu.Lock()
	if _, exists := m.pending[req.NodeID]; exists {
		m.mu.Unlock()
		return Response{}, ErrAlreadyHeld
	}
	m.pending[req.NodeID] = h
	notify := m.onHold
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if cur, ok := m.pending[req.NodeID]; ok && cur == h {
			delete(m.pending, req.NodeID)
		}
		m.mu.Unlock()
	}()

	if notify != nil {
		notify(req)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case resp := <-h.ch:
		return resp, nil
	case <-timer.C:
		return Response{
			Approved:  false,
			DecidedBy: DecidedByTimeout,
			Reason:    "no decision within " + m.timeout.String(),
		}, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// SubmitResponse resolves the call held for a node. It never blocks; a
// response with no DecidedBy is attributed to a human.
func (m *Manager) SubmitResponse(nodeID string, resp Response) error {
	if resp.DecidedBy == "" {
		resp.DecidedBy = DecidedByHuman
	}

	m.mu.Lock()
	h, ok := m.pending[nodeID]
	if ok {
		delete(m.pending, nodeID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotHeld
	}

	select {
	case h.ch <- resp:
	default:
	}
	return nil
}

// Pending returns the currently held calls, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, 0, len(m.pending))
	for _, h := range m.pending {
		out = append(out, h.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HeldAt.Before(out[j].HeldAt)
	})
	return out
}

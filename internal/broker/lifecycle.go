package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Lifecycle owns how server connections are acquired and released.
// The two strategies trade startup latency against resident
// subprocesses: pooled keeps one connection per server alive, spawn
// dials fresh for every call.
type Lifecycle interface {
	Acquire(ctx context.Context, server ServerConfig) (Conn, error)
	// Release returns a connection after a call. callErr is the error
	// the call produced, if any, so a dead connection can be dropped.
	Release(serverID string, conn Conn, callErr error)
	// Drop discards any pooled connection for the server.
	Drop(serverID string)
	Close() error
}

// NewLifecycle returns the lifecycle strategy named by kind, "pooled"
// or "spawn".
func NewLifecycle(kind string, dialer Dialer) (Lifecycle, error) {
	switch kind {
	case "pooled", "":
		return &pooledLifecycle{dialer: dialer, conns: make(map[string]Conn)}, nil
	case "spawn":
		return &spawnLifecycle{dialer: dialer}, nil
	default:
		return nil, fmt.Errorf("unknown connection lifecycle %q", kind)
	}
}

// pooledLifecycle keeps one live connection per server.
type pooledLifecycle struct {
	dialer Dialer

	mu    sync.Mutex
	conns map[string]Conn
}

func (p *pooledLifecycle) Acquire(ctx context.Context, server ServerConfig) (Conn, error) {
	p.mu.Lock()
	if conn, ok := p.conns[server.ID]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	// Dial outside the lock; a slow server start must not block
	// acquisition for other servers.
	conn, err := p.dialer.Dial(ctx, server)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[server.ID]; ok {
		conn.Close()
		return existing, nil
	}
	p.conns[server.ID] = conn
	return conn, nil
}

func (p *pooledLifecycle) Release(serverID string, conn Conn, callErr error) {
	if callErr == nil || !isDisconnect(callErr) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[serverID] == conn {
		delete(p.conns, serverID)
	}
	conn.Close()
}

func (p *pooledLifecycle) Drop(serverID string) {
	p.mu.Lock()
	conn, ok := p.conns[serverID]
	if ok {
		delete(p.conns, serverID)
	}
	p.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (p *pooledLifecycle) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, conn := range p.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	p.conns = make(map[string]Conn)
	return errors.Join(errs...)
}

// spawnLifecycle dials a fresh connection per call and closes it on
// release.
type spawnLifecycle struct {
	dialer Dialer
}

func (s *spawnLifecycle) Acquire(ctx context.Context, server ServerConfig) (Conn, error) {
	return s.dialer.Dial(ctx, server)
}

func (s *spawnLifecycle) Release(serverID string, conn Conn, callErr error) {
	conn.Close()
}

func (s *spawnLifecycle) Drop(serverID string) {}

func (s *spawnLifecycle) Close() error { return nil }

package broker

import (
	"context"
	"time"
)

// healthLoop periodically re-lists tools on every enabled server.
// A server that stops answering gets its pooled connection dropped,
// so the next call dials fresh instead of hanging on a dead pipe.
func (b *Broker) healthLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.healthDone:
			return
		case <-ticker.C:
			b.checkServers()
		}
	}
}

func (b *Broker) checkServers() {
	for _, server := range b.registry.Servers() {
		ctx, cancel := context.WithTimeout(context.Background(), b.callTimeout)
		_, err := b.listServer(ctx, server)
		cancel()
		if err != nil {
			b.debugLog("[broker.health] server=%s unhealthy: %v", server.ID, err)
			b.lifecycle.Drop(server.ID)
		}
	}
}

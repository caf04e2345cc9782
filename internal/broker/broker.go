// Package broker discovers and invokes tools on independent tool
// servers. It normalizes transports, timeouts, and error semantics so
// the rest of the system sees a uniform catalog and a uniform result
// shape, no matter which server handled the call.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/pkg/models"
)

// Broker routes tool calls to the servers in the registry. Discovery
// results are cached with a TTL; invocation carries an explicit
// deadline and classifies every failure.
type Broker struct {
	registry  *Registry
	lifecycle Lifecycle

	callTimeout   time.Duration
	descriptorTTL time.Duration
	maxPayload    int

	cacheMu     sync.RWMutex
	descriptors []models.ToolDescriptor
	fetchedAt   time.Time

	healthDone chan struct{}

	debugLog func(format string, args ...any)
}

// New creates a Broker speaking MCP to the registry's servers.
func New(cfg config.BrokerConfig, registry *Registry) (*Broker, error) {
	return NewWithDialer(cfg, registry, NewMCPDialer())
}

// NewWithDialer creates a Broker with a custom dialer.
func NewWithDialer(cfg config.BrokerConfig, registry *Registry, dialer Dialer) (*Broker, error) {
	lifecycle, err := NewLifecycle(cfg.Lifecycle, dialer)
	if err != nil {
		return nil, err
	}

	b := &Broker{
		registry:      registry,
		lifecycle:     lifecycle,
		callTimeout:   cfg.CallTimeout,
		descriptorTTL: cfg.DescriptorTTL,
		maxPayload:    cfg.MaxPayloadBytes,
		healthDone:    make(chan struct{}),
		debugLog:      func(format string, args ...any) {},
	}
	registry.OnChange(b.Invalidate)

	if cfg.HealthInterval > 0 {
		go b.healthLoop(cfg.HealthInterval)
	}
	return b, nil
}

// SetDebugLog sets a debug logging function.
func (b *Broker) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		b.debugLog = fn
	}
}

// Tools returns the catalog of tools across all enabled servers,
// refreshing expired cache entries. Servers that fail discovery are
// skipped; their tools simply drop out of the catalog.
func (b *Broker) Tools(ctx context.Context) ([]models.ToolDescriptor, error) {
	b.cacheMu.RLock()
	if b.cacheFreshLocked() {
		defer b.cacheMu.RUnlock()
		return append([]models.ToolDescriptor(nil), b.descriptors...), nil
	}
	b.cacheMu.RUnlock()

	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	// Another caller may have refreshed while we waited for the lock.
	if b.cacheFreshLocked() {
		return append([]models.ToolDescriptor(nil), b.descriptors...), nil
	}

	servers := b.registry.Servers()
	descriptors := make([]models.ToolDescriptor, 0, len(servers)*4)
	for _, server := range servers {
		tools, err := b.listServer(ctx, server)
		if err != nil {
			b.debugLog("[broker.Tools] server=%s discovery failed: %v", server.ID, err)
			continue
		}
		for _, t := range tools {
			descriptors = append(descriptors, describeTool(server.ID, t))
		}
	}

	b.descriptors = descriptors
	b.fetchedAt = time.Now()
	return append([]models.ToolDescriptor(nil), descriptors...), nil
}

func (b *Broker) cacheFreshLocked() bool {
	return !b.fetchedAt.IsZero() && time.Since(b.fetchedAt) < b.descriptorTTL
}

// Invalidate expires the descriptor cache. The registry watcher calls
// this when the server list changes on disk.
func (b *Broker) Invalidate() {
	b.cacheMu.Lock()
	b.fetchedAt = time.Time{}
	b.cacheMu.Unlock()
	b.debugLog("[broker.Invalidate] descriptor cache expired")
}

// listServer lists one server's tools over a bounded call.
func (b *Broker) listServer(ctx context.Context, server ServerConfig) ([]mcp.Tool, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	conn, err := b.lifecycle.Acquire(callCtx, server)
	if err != nil {
		return nil, err
	}
	tools, err := conn.ListTools(callCtx)
	b.lifecycle.Release(server.ID, conn, err)
	return tools, err
}

// describeTool converts a discovered MCP tool to a descriptor.
// Capability tags come from the tool's behavior annotations.
func describeTool(serverID string, t mcp.Tool) models.ToolDescriptor {
	schema, _ := json.Marshal(t.InputSchema)

	var tags []string
	if t.Annotations.ReadOnlyHint != nil && *t.Annotations.ReadOnlyHint {
		tags = append(tags, "read_only")
	}
	if t.Annotations.DestructiveHint != nil && *t.Annotations.DestructiveHint {
		tags = append(tags, "destructive")
	}
	if t.Annotations.IdempotentHint != nil && *t.Annotations.IdempotentHint {
		tags = append(tags, "idempotent")
	}

	return models.ToolDescriptor{
		ServerID:    serverID,
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
		Required:    t.InputSchema.Required,
		Tags:        tags,
	}
}

// Invoke runs one tool call and returns a normalized result. Every
// tool-level failure comes back in the result's ErrorKind rather than
// as a Go error, so a broken or slow server can only ever reject the
// node that called it. The error return is reserved for the caller's
// own context ending first.
func (b *Broker) Invoke(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, terr := b.invoke(ctx, call)
	if terr != nil {
		// The run was cancelled out from under the call. Report that
		// to the caller instead of a classified failure.
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return nil, ctx.Err()
		}
		b.debugLog("[broker.Invoke] tool=%s kind=%s err=%v", call.Tool, terr.Kind, terr.Err)
		res := &models.ToolResult{
			Success:   false,
			Payload:   terr.Error(),
			ErrorKind: terr.Kind,
			ServerID:  terr.Server,
			Duration:  time.Since(start),
		}
		b.truncate(res)
		return res, nil
	}

	result.Duration = time.Since(start)
	b.truncate(result)
	return result, nil
}

// invoke resolves the server, prechecks arguments, and performs the
// call under its deadline.
func (b *Broker) invoke(ctx context.Context, call models.ToolCall) (*models.ToolResult, *ToolError) {
	server, desc, terr := b.resolve(ctx, call)
	if terr != nil {
		return nil, terr
	}

	// Required arguments are checked against the cached schema before
	// anything crosses the wire.
	if missing := missingArgs(desc, call.Args); len(missing) > 0 {
		return nil, newToolError(models.ErrorKindInvalidArgs, server.ID, call.Tool,
			fmt.Errorf("missing required arguments: %s", strings.Join(missing, ", ")))
	}

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = b.callTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := b.callOnce(callCtx, server, call.Tool, call.Args)
	if err != nil {
		return nil, newToolError(classifyCallError(callCtx, err), server.ID, call.Tool, err)
	}

	payload := textContent(res)
	if res.IsError {
		return nil, newToolError(models.ErrorKindRemoteError, server.ID, call.Tool,
			fmt.Errorf("%s", payload))
	}

	return &models.ToolResult{
		Success:  true,
		Payload:  payload,
		ServerID: server.ID,
	}, nil
}

// callOnce performs the call, retrying exactly once on a dead pooled
// connection.
func (b *Broker) callOnce(ctx context.Context, server ServerConfig, name string, args map[string]any) (*mcp.CallToolResult, error) {
	conn, err := b.lifecycle.Acquire(ctx, server)
	if err != nil {
		return nil, err
	}
	res, err := conn.CallTool(ctx, name, args)
	b.lifecycle.Release(server.ID, conn, err)

	if err != nil && isDisconnect(err) && ctx.Err() == nil {
		b.debugLog("[broker.callOnce] server=%s reconnecting after: %v", server.ID, err)
		conn, err2 := b.lifecycle.Acquire(ctx, server)
		if err2 != nil {
			return nil, err
		}
		res, err = conn.CallTool(ctx, name, args)
		b.lifecycle.Release(server.ID, conn, err)
	}
	return res, err
}

// resolve picks the server for a call. A hint names the server
// directly; otherwise the catalog decides. Either way the tool must
// actually be offered, or the call is not configured.
func (b *Broker) resolve(ctx context.Context, call models.ToolCall) (ServerConfig, *models.ToolDescriptor, *ToolError) {
	descriptors, err := b.Tools(ctx)
	if err != nil {
		return ServerConfig{}, nil, newToolError(models.ErrorKindNotConfigured, call.ServerHint, call.Tool, err)
	}

	if call.ServerHint != "" {
		server, ok := b.registry.Get(call.ServerHint)
		if !ok {
			return ServerConfig{}, nil, newToolError(models.ErrorKindNotConfigured, call.ServerHint, call.Tool,
				fmt.Errorf("server %q not in registry or disabled", call.ServerHint))
		}
		for i := range descriptors {
			d := &descriptors[i]
			if d.ServerID == server.ID && d.Name == call.Tool {
				return server, d, nil
			}
		}
		return ServerConfig{}, nil, newToolError(models.ErrorKindNotConfigured, call.ServerHint, call.Tool,
			fmt.Errorf("server %q does not offer tool %q", call.ServerHint, call.Tool))
	}

	for i := range descriptors {
		d := &descriptors[i]
		if d.Name != call.Tool {
			continue
		}
		if server, ok := b.registry.Get(d.ServerID); ok {
			return server, d, nil
		}
	}
	return ServerConfig{}, nil, newToolError(models.ErrorKindNotConfigured, "", call.Tool,
		fmt.Errorf("no enabled server offers tool %q", call.Tool))
}

// missingArgs returns required argument names absent from args.
func missingArgs(desc *models.ToolDescriptor, args map[string]any) []string {
	var missing []string
	for _, name := range desc.Required {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// textContent flattens a call result's text blocks into one string.
func textContent(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// truncate caps the payload at the configured byte limit.
func (b *Broker) truncate(res *models.ToolResult) {
	if b.maxPayload <= 0 || len(res.Payload) <= b.maxPayload {
		return
	}
	res.Payload = res.Payload[:b.maxPayload]
	res.Truncated = true
}

// Close stops the health loop and closes pooled connections.
func (b *Broker) Close() error {
	close(b.healthDone)
	return b.lifecycle.Close()
}

package broker

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/banyanhq/banyan/internal/version"
)

// Conn is a live connection to one tool server.
type Conn interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens connections to tool servers.
type Dialer interface {
	Dial(ctx context.Context, server ServerConfig) (Conn, error)
}

// mcpDialer speaks MCP over a subprocess pipe or a local SSE endpoint.
type mcpDialer struct{}

// NewMCPDialer returns the default MCP dialer.
func NewMCPDialer() Dialer {
	return &mcpDialer{}
}

func (d *mcpDialer) Dial(ctx context.Context, server ServerConfig) (Conn, error) {
	var (
		c   *client.Client
		err error
	)

	switch server.Transport {
	case "stdio", "":
		c, err = client.NewStdioMCPClient(server.Command, server.Env, server.Args...)
		if err != nil {
			return nil, fmt.Errorf("start stdio client for %s: %w", server.ID, err)
		}
	case "sse":
		c, err = client.NewSSEMCPClient(server.URL)
		if err != nil {
			return nil, fmt.Errorf("create sse client for %s: %w", server.ID, err)
		}
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("start sse client for %s: %w", server.ID, err)
		}
	default:
		return nil, fmt.Errorf("server %s: unsupported transport %q", server.ID, server.Transport)
	}

	initRequest := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "banyan",
				Version: version.Get(),
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
	if _, err := c.Initialize(ctx, initRequest); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize %s: %w", server.ID, err)
	}

	return &mcpConn{client: c}, nil
}

type mcpConn struct {
	client *client.Client
}

func (c *mcpConn) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *mcpConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
}

func (c *mcpConn) Close() error {
	return c.client.Close()
}

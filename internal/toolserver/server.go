// Package toolserver hosts the built-in MCP tool servers so a fresh
// install has working file and command backends without any external
// processes. Each server is a standard MCP server the broker talks to
// like any other entry in the registry.
package toolserver

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/banyanhq/banyan/internal/version"
)

// Known built-in server names, usable as the command argument of
// `banyan tools serve`.
const (
	NameFilesystem = "filesystem"
	NameShell      = "shell"
)

// New builds a built-in server by name.
func New(name string, allowedDirs []string) (*server.MCPServer, error) {
	switch name {
	case NameFilesystem:
		return NewFilesystemServer(allowedDirs)
	case NameShell:
		return NewShellServer(allowedDirs), nil
	default:
		return nil, fmt.Errorf("unknown built-in tool server %q", name)
	}
}

// ServeStdio runs a built-in server over stdin/stdout until the client
// hangs up. This is the subprocess-pipe transport the broker spawns.
func ServeStdio(name string, allowedDirs []string) error {
	s, err := New(name, allowedDirs)
	if err != nil {
		return err
	}
	return server.ServeStdio(s)
}

// ServeSSE runs a built-in server as a local network endpoint.
func ServeSSE(name string, allowedDirs []string, addr string) error {
	s, err := New(name, allowedDirs)
	if err != nil {
		return err
	}
	return server.NewSSEServer(s).Start(addr)
}

func serverVersion() string {
	return version.Get()
}

package toolserver

import (
	"context"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/banyanhq/banyan/internal/exec"
)

// shellHandler serves command execution. Working directories are
// restricted to the allowed roots; the commands themselves are not
// inspected here, that is the danger gate's job upstream.
type shellHandler struct {
	runner  exec.CommandRunner
	allowed []string
}

// NewShellServer builds the built-in shell MCP server. allowedDirs
// restricts where commands may run; empty means any directory.
func NewShellServer(allowedDirs []string) *server.MCPServer {
	return newShellServer(exec.NewRunner(), allowedDirs)
}

func newShellServer(runner exec.CommandRunner, allowedDirs []string) *server.MCPServer {
	normalized := make([]string, 0, len(allowedDirs))
	for _, dir := range allowedDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			normalized = append(normalized, filepath.Clean(abs))
		}
	}
	h := &shellHandler{runner: runner, allowed: normalized}

	s := server.NewMCPServer(NameShell, serverVersion())

	s.AddTool(mcp.NewTool("run_command",
		mcp.WithDescription("Run a shell command line and return its combined stdout and stderr."),
		mcp.WithString("command", mcp.Description("Command line to run through sh -c."), mcp.Required()),
		mcp.WithString("working_dir", mcp.Description("Directory to run in. Defaults to the server's working directory.")),
	), h.runCommand)

	s.AddTool(mcp.NewTool("which",
		mcp.WithDescription("Locate an executable on PATH."),
		mcp.WithString("name", mcp.Description("Executable name to look up."), mcp.Required()),
	), h.which)

	return s
}

func (h *shellHandler) checkWorkDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid working_dir %q: %w", dir, err)
	}
	abs = filepath.Clean(abs)
	if len(h.allowed) == 0 {
		return abs, nil
	}
	for _, root := range h.allowed {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("working_dir %q is outside the allowed directories", dir)
}

func (h *shellHandler) runCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return nil, err
	}
	workDir, err := h.checkWorkDir(req.GetString("working_dir", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := h.runner.RunShell(ctx, workDir, command)
	if err != nil {
		text := fmt.Sprintf("command failed: %v", err)
		if len(out) > 0 {
			text = fmt.Sprintf("%s\n%s", text, out)
		}
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (h *shellHandler) which(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return nil, err
	}
	path, err := osexec.LookPath(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s not found on PATH", name)), nil
	}
	return mcp.NewToolResultText(path), nil
}

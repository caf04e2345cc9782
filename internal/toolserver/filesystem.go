package toolserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// filesystemHandler serves file operations restricted to a set of
// allowed directory roots. Paths outside every root are refused before
// any filesystem call is made.
type filesystemHandler struct {
	allowed []string
}

// NewFilesystemServer builds the built-in filesystem MCP server.
// allowedDirs lists the directory roots the server may touch; it must
// not be empty.
func NewFilesystemServer(allowedDirs []string) (*server.MCPServer, error) {
	if len(allowedDirs) == 0 {
		return nil, fmt.Errorf("filesystem server requires at least one allowed directory")
	}
	normalized := make([]string, 0, len(allowedDirs))
	for _, dir := range allowedDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving allowed directory %q: %w", dir, err)
		}
		normalized = append(normalized, filepath.Clean(abs))
	}
	h := &filesystemHandler{allowed: normalized}

	s := server.NewMCPServer(NameFilesystem, serverVersion(),
		server.WithResourceCapabilities(true, true),
	)

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the full contents of a file as text."),
		mcp.WithString("path", mcp.Description("Path of the file to read."), mcp.Required()),
	), h.readFile)

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Write text to a file, creating it and any missing parent directories."),
		mcp.WithString("path", mcp.Description("Path of the file to write."), mcp.Required()),
		mcp.WithString("content", mcp.Description("Content to write."), mcp.Required()),
	), h.writeFile)

	s.AddTool(mcp.NewTool("list_directory",
		mcp.WithDescription("List the entries of a directory. Directories are suffixed with a slash."),
		mcp.WithString("path", mcp.Description("Path of the directory to list."), mcp.Required()),
	), h.listDirectory)

	s.AddTool(mcp.NewTool("create_directory",
		mcp.WithDescription("Create a directory, including any missing parents."),
		mcp.WithString("path", mcp.Description("Path of the directory to create."), mcp.Required()),
	), h.createDirectory)

	s.AddTool(mcp.NewTool("move_file",
		mcp.WithDescription("Move or rename a file or directory."),
		mcp.WithString("source", mcp.Description("Existing path."), mcp.Required()),
		mcp.WithString("destination", mcp.Description("New path."), mcp.Required()),
	), h.moveFile)

	s.AddTool(mcp.NewTool("delete_file",
		mcp.WithDescription("Delete a single file. Directories are refused."),
		mcp.WithString("path", mcp.Description("Path of the file to delete."), mcp.Required()),
	), h.deleteFile)

	s.AddTool(mcp.NewTool("stat",
		mcp.WithDescription("Report size, mode and modification time for a path."),
		mcp.WithString("path", mcp.Description("Path to inspect."), mcp.Required()),
	), h.stat)

	return s, nil
}

// validatePath resolves p and checks it sits under one of the allowed
// roots. Symlinked paths are resolved before the check so a link cannot
// escape the sandbox.
func (h *filesystemHandler) validatePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}
	abs = filepath.Clean(abs)

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving %q: %w", p, err)
		}
		// The target may not exist yet (write_file, create_directory).
		// Resolve the nearest existing ancestor instead.
		parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			if os.IsNotExist(err) {
				resolved = abs
			} else {
				return "", fmt.Errorf("resolving %q: %w", p, err)
			}
		} else {
			resolved = filepath.Join(parent, filepath.Base(abs))
		}
	}

	for _, root := range h.allowed {
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the allowed directories", p)
}

func (h *filesystemHandler) readFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	path, err := h.validatePath(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading %s: %v", raw, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *filesystemHandler) writeFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	content, err := req.RequireString("content")
	if err != nil {
		return nil, err
	}
	path, err := h.validatePath(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("creating parent of %s: %v", raw, err)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("writing %s: %v", raw, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(content), raw)), nil
}

func (h *filesystemHandler) listDirectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	path, err := h.validatePath(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing %s: %v", raw, err)), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (h *filesystemHandler) createDirectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	path, err := h.validatePath(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("creating %s: %v", raw, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created directory %s", raw)), nil
}

func (h *filesystemHandler) moveFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawSrc, err := req.RequireString("source")
	if err != nil {
		return nil, err
	}
	rawDst, err := req.RequireString("destination")
	if err != nil {
		return nil, err
	}
	src, err := h.validatePath(rawSrc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dst, err := h.validatePath(rawDst)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := os.Rename(src, dst); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("moving %s to %s: %v", rawSrc, rawDst, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved %s to %s", rawSrc, rawDst)), nil
}

func (h *filesystemHandler) deleteFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	path, err := h.validatePath(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deleting %s: %v", raw, err)), nil
	}
	if info.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("%s is a directory; delete_file only removes files", raw)), nil
	}
	if err := os.Remove(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deleting %s: %v", raw, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %s", raw)), nil
}

func (h *filesystemHandler) stat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	path, err := h.validatePath(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stat %s: %v", raw, err)), nil
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	text := fmt.Sprintf("%s: %s, %d bytes, mode %s, modified %s",
		raw, kind, info.Size(), info.Mode(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z"))
	return mcp.NewToolResultText(text), nil
}

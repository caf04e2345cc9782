package toolserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("result content is %T, want text", res.Content[0])
	}
	return text.Text
}

func newTestFS(t *testing.T) (*filesystemHandler, string) {
	t.Helper()
	dir := t.TempDir()
	// t.TempDir may live under a symlinked path (macOS /tmp), resolve
	// it so the allowed-root comparison matches.
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks(%q) error = %v", dir, err)
	}
	return &filesystemHandler{allowed: []string{resolved}}, resolved
}

func TestFilesystem_WriteThenRead(t *testing.T) {
	h, dir := newTestFS(t)
	path := filepath.Join(dir, "nested", "note.txt")

	res, err := h.writeFile(context.Background(), callRequest("write_file", map[string]any{
		"path":    path,
		"content": "hello",
	}))
	if err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("writeFile() returned error result: %s", resultText(t, res))
	}

	res, err = h.readFile(context.Background(), callRequest("read_file", map[string]any{"path": path}))
	if err != nil {
		t.Fatalf("readFile() error = %v", err)
	}
	if got := resultText(t, res); got != "hello" {
		t.Errorf("readFile() = %q, want %q", got, "hello")
	}
}

func TestFilesystem_ReadMissingFileIsErrorResult(t *testing.T) {
	h, dir := newTestFS(t)
	res, err := h.readFile(context.Background(), callRequest("read_file", map[string]any{
		"path": filepath.Join(dir, "absent.txt"),
	}))
	if err != nil {
		t.Fatalf("readFile() error = %v, want error result instead", err)
	}
	if !res.IsError {
		t.Error("readFile() on a missing file should return an error result")
	}
}

func TestFilesystem_PathOutsideRootsRefused(t *testing.T) {
	h, _ := newTestFS(t)
	for _, p := range []string{"/etc/passwd", "/", filepath.Join(os.TempDir(), "..", "etc")} {
		res, err := h.readFile(context.Background(), callRequest("read_file", map[string]any{"path": p}))
		if err != nil {
			t.Fatalf("readFile(%q) error = %v", p, err)
		}
		if !res.IsError {
			t.Errorf("readFile(%q) should be refused", p)
		}
		if !strings.Contains(resultText(t, res), "allowed") {
			t.Errorf("refusal for %q should name the allowed-directory policy: %s", p, resultText(t, res))
		}
	}
}

func TestFilesystem_SymlinkEscapeRefused(t *testing.T) {
	h, dir := newTestFS(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(target, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	res, err := h.readFile(context.Background(), callRequest("read_file", map[string]any{"path": link}))
	if err != nil {
		t.Fatalf("readFile() error = %v", err)
	}
	if !res.IsError {
		t.Error("reading through a symlink that escapes the roots should be refused")
	}
}

func TestFilesystem_ListDirectory(t *testing.T) {
	h, dir := newTestFS(t)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := h.listDirectory(context.Background(), callRequest("list_directory", map[string]any{"path": dir}))
	if err != nil {
		t.Fatalf("listDirectory() error = %v", err)
	}
	got := resultText(t, res)
	if !strings.Contains(got, "a.txt") || !strings.Contains(got, "sub/") {
		t.Errorf("listDirectory() = %q, want a.txt and sub/", got)
	}
}

func TestFilesystem_MoveAndDelete(t *testing.T) {
	h, dir := newTestFS(t)
	src := filepath.Join(dir, "old.txt")
	dst := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := h.moveFile(context.Background(), callRequest("move_file", map[string]any{
		"source":      src,
		"destination": dst,
	}))
	if err != nil {
		t.Fatalf("moveFile() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("moveFile() returned error result: %s", resultText(t, res))
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("destination missing after move: %v", err)
	}

	res, err = h.deleteFile(context.Background(), callRequest("delete_file", map[string]any{"path": dst}))
	if err != nil {
		t.Fatalf("deleteFile() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("deleteFile() returned error result: %s", resultText(t, res))
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("file still present after delete")
	}
}

func TestFilesystem_DeleteDirectoryRefused(t *testing.T) {
	h, dir := newTestFS(t)
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	res, err := h.deleteFile(context.Background(), callRequest("delete_file", map[string]any{"path": sub}))
	if err != nil {
		t.Fatalf("deleteFile() error = %v", err)
	}
	if !res.IsError {
		t.Error("delete_file on a directory should be refused")
	}
}

func TestFilesystem_Stat(t *testing.T) {
	h, dir := newTestFS(t)
	path := filepath.Join(dir, "info.txt")
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := h.stat(context.Background(), callRequest("stat", map[string]any{"path": path}))
	if err != nil {
		t.Fatalf("stat() error = %v", err)
	}
	got := resultText(t, res)
	if !strings.Contains(got, "file") || !strings.Contains(got, "5 bytes") {
		t.Errorf("stat() = %q, want file kind and size", got)
	}
}

func TestNewFilesystemServer_RequiresRoots(t *testing.T) {
	if _, err := NewFilesystemServer(nil); err == nil {
		t.Error("NewFilesystemServer(nil) should fail")
	}
}

func TestNew_UnknownName(t *testing.T) {
	if _, err := New("sprocket", []string{"/tmp"}); err == nil {
		t.Error("New() with an unknown server name should fail")
	}
}

package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunner_Run(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), "", "echo", "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("Run() output = %q, want %q", out, "hello")
	}
}

func TestRunner_RunShell(t *testing.T) {
	r := NewRunner()
	out, err := r.RunShell(context.Background(), "", "echo one && echo two")
	if err != nil {
		t.Fatalf("RunShell() error = %v", err)
	}
	if !strings.Contains(string(out), "one") || !strings.Contains(string(out), "two") {
		t.Errorf("RunShell() output = %q, want both lines", out)
	}
}

func TestRunner_WorkDir(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner()
	out, err := r.Run(context.Background(), dir, "pwd")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(strings.TrimSpace(string(out)), dir) {
		t.Errorf("Run() in workDir %q reported %q", dir, out)
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := NewRunner()
	out, err := r.RunShell(context.Background(), "", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("RunShell() expected error for non-zero exit")
	}
	if !strings.Contains(string(out), "boom") {
		t.Errorf("RunShell() output = %q, want stderr captured", out)
	}
}

func TestRunner_OutputCapped(t *testing.T) {
	r := &Runner{MaxOutput: 64}
	out, err := r.RunShell(context.Background(), "", "yes x | head -c 4096")
	if err != nil {
		t.Fatalf("RunShell() error = %v", err)
	}
	if len(out) > 64+len(truncationMarker) {
		t.Errorf("output length = %d, want capped at %d", len(out), 64+len(truncationMarker))
	}
	if !strings.HasSuffix(string(out), truncationMarker) {
		t.Errorf("capped output missing truncation marker: %q", out)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := &Runner{Timeout: 50 * time.Millisecond}
	_, err := r.RunShell(context.Background(), "", "sleep 5")
	if err == nil {
		t.Fatal("RunShell() expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want timeout", err)
	}
}

func TestRunner_ContextDeadlineWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewRunner() // default fallback timeout is much larger
	start := time.Now()
	_, err := r.RunShell(ctx, "", "sleep 5")
	if err == nil {
		t.Fatal("RunShell() expected error from caller deadline")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("command outlived caller deadline: %v", elapsed)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Orchestrator.MaxAttempts)
	}

	if cfg.Orchestrator.MaxDepth != 5 {
		t.Errorf("expected default max_depth 5, got %d", cfg.Orchestrator.MaxDepth)
	}

	if cfg.Orchestrator.Escalation.Base != 0.1 {
		t.Errorf("expected escalation base 0.1, got %v", cfg.Orchestrator.Escalation.Base)
	}

	if cfg.Orchestrator.PlanTimeout != 2*time.Minute {
		t.Errorf("expected plan timeout 2m, got %v", cfg.Orchestrator.PlanTimeout)
	}

	if cfg.Orchestrator.ExecuteTimeout != 5*time.Minute {
		t.Errorf("expected execute timeout 5m, got %v", cfg.Orchestrator.ExecuteTimeout)
	}

	if cfg.Orchestrator.WorkerPool != 4 {
		t.Errorf("expected worker pool 4, got %d", cfg.Orchestrator.WorkerPool)
	}

	if cfg.Broker.DescriptorTTL != 5*time.Minute {
		t.Errorf("expected descriptor TTL 5m, got %v", cfg.Broker.DescriptorTTL)
	}

	if cfg.Broker.Lifecycle != "pooled" {
		t.Errorf("expected lifecycle 'pooled', got %q", cfg.Broker.Lifecycle)
	}

	if cfg.Memory.RecallLimit != 3 {
		t.Errorf("expected recall limit 3, got %d", cfg.Memory.RecallLimit)
	}

	if cfg.Gate.AutoApprove {
		t.Error("expected gate.auto_approve to default to false")
	}

	if cfg.Gate.ApprovalTimeout != 5*time.Minute {
		t.Errorf("expected approval timeout 5m, got %v", cfg.Gate.ApprovalTimeout)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
orchestrator:
  max_attempts: 5
  max_depth: 3
  escalation:
    base: 0.2
    step: 0.3
    cap: 0.9
  plan_timeout: 1m
  worker_pool: 2
broker:
  lifecycle: spawn
  call_timeout: 15s
memory:
  recall_limit: 7
gate:
  auto_approve: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}

	if cfg.Orchestrator.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Orchestrator.MaxAttempts)
	}

	if cfg.Orchestrator.MaxDepth != 3 {
		t.Errorf("expected max_depth 3, got %d", cfg.Orchestrator.MaxDepth)
	}

	if cfg.Orchestrator.Escalation.Step != 0.3 {
		t.Errorf("expected escalation step 0.3, got %v", cfg.Orchestrator.Escalation.Step)
	}

	if cfg.Orchestrator.PlanTimeout != time.Minute {
		t.Errorf("expected plan timeout 1m, got %v", cfg.Orchestrator.PlanTimeout)
	}

	if cfg.Orchestrator.WorkerPool != 2 {
		t.Errorf("expected worker pool 2, got %d", cfg.Orchestrator.WorkerPool)
	}

	if cfg.Broker.Lifecycle != "spawn" {
		t.Errorf("expected lifecycle 'spawn', got %q", cfg.Broker.Lifecycle)
	}

	if cfg.Broker.CallTimeout != 15*time.Second {
		t.Errorf("expected call timeout 15s, got %v", cfg.Broker.CallTimeout)
	}

	if cfg.Memory.RecallLimit != 7 {
		t.Errorf("expected recall limit 7, got %d", cfg.Memory.RecallLimit)
	}

	if !cfg.Gate.AutoApprove {
		t.Error("expected gate.auto_approve to be true")
	}

	// Keys not in the file keep their defaults.
	if cfg.Orchestrator.ExecuteTimeout != 5*time.Minute {
		t.Errorf("expected default execute timeout 5m, got %v", cfg.Orchestrator.ExecuteTimeout)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_BANYAN_KEY", "expanded-value")
	defer os.Unsetenv("TEST_BANYAN_KEY")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: ${TEST_BANYAN_KEY}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "expanded-value" {
		t.Errorf("expected expanded api_key, got %q", cfg.Anthropic.APIKey)
	}
}

func TestEscalation_TemperatureFor(t *testing.T) {
	esc := Escalation{Base: 0.1, Step: 0.2, Cap: 1.0}

	tests := []struct {
		attempt int
		want    float64
	}{
		{0, 0.1},
		{1, 0.3},
		{2, 0.5},
		{3, 0.7},
		{4, 0.9},
		{5, 1.0},
		{100, 1.0},
		{-1, 0.1},
	}

	for _, tt := range tests {
		got := esc.TemperatureFor(tt.attempt)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("TemperatureFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestEscalation_CapBelowBase(t *testing.T) {
	esc := Escalation{Base: 0.8, Step: 0.1, Cap: 0.5}

	if got := esc.TemperatureFor(0); got != 0.5 {
		t.Errorf("TemperatureFor(0) with cap below base = %v, want 0.5", got)
	}
}

func TestGetDataDir_XDG(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("XDG_DATA_HOME", tmpDir)
	defer os.Unsetenv("XDG_DATA_HOME")

	got := GetDataDir()
	want := filepath.Join(tmpDir, "banyan")
	if got != want {
		t.Errorf("GetDataDir() = %q, want %q", got, want)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.MaxIterations != 100 {
		t.Fatalf("unexpected max iterations: %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.LLMCallTimeout != 120*time.Second {
		t.Fatalf("unexpected llm timeout: %s", cfg.Agent.LLMCallTimeout)
	}
	if cfg.Sandbox.Image != "python:3.11-slim" {
		t.Fatalf("unexpected sandbox image: %s", cfg.Sandbox.Image)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atlas.yaml")
	content := `
server:
  port: 9999
agent:
  max_iterations: 50
sandbox:
  image: python:3.12-slim
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("file override lost: %d", cfg.Server.Port)
	}
	if cfg.Agent.MaxIterations != 50 {
		t.Fatalf("file override lost: %d", cfg.Agent.MaxIterations)
	}
	if cfg.Sandbox.Image != "python:3.12-slim" {
		t.Fatalf("file override lost: %s", cfg.Sandbox.Image)
	}
	// untouched keys keep their defaults
	if cfg.Server.Host != "localhost" {
		t.Fatalf("default lost: %s", cfg.Server.Host)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ATLAS_LLM_MODEL", "test/model")
	t.Setenv("ATLAS_PORT", "7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "test/model" {
		t.Fatalf("env override lost: %s", cfg.LLM.Model)
	}
	if cfg.Server.Port != 7777 {
		t.Fatalf("env override lost: %d", cfg.Server.Port)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Agent.LoopDetectionWarn = 3
	cfg.Agent.LoopDetectionAbort = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("warn >= abort must be rejected")
	}

	cfg = Default()
	cfg.Agent.MaxIterations = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero max_iterations must be rejected")
	}

	cfg = Default()
	cfg.Sandbox.MountPath = "workspace"
	if err := cfg.Validate(); err == nil {
		t.Fatal("relative mount path must be rejected")
	}
}

package config_test

import (
	"strings"
	"testing"

	"github.com/cnwinds/chatflow-nexus/internal/config"
)

const minimalYAML = `
server:
  listen_addr: ":8080"
  log_level: info
modules:
  llm:
    - kind: openai
      code: fast
      is_default: true
      model: gpt-4o-mini
agents:
  - id: buddy
    name: Buddy
    profile:
      character:
        prompt: "You are a friendly companion."
`

func TestLoadFromReader_Minimal(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if len(cfg.Modules.LLM) != 1 || cfg.Modules.LLM[0].Code != "fast" {
		t.Fatalf("modules.llm not decoded correctly: %+v", cfg.Modules.LLM)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].ID != "buddy" {
		t.Fatalf("agents not decoded correctly: %+v", cfg.Agents)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	if _, err := config.LoadFromReader(strings.NewReader("")); err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
server:
  not_a_real_field: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: "very-loud"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

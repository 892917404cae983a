package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Agent.MaxSteps != DefaultAgentMaxSteps {
		t.Errorf("Expected MaxSteps %d, got %d", DefaultAgentMaxSteps, cfg.Agent.MaxSteps)
	}
	if cfg.Timeouts.Approval != DefaultApprovalTimeout {
		t.Errorf("Expected approval timeout %v, got %v", DefaultApprovalTimeout, cfg.Timeouts.Approval)
	}
	if cfg.Sampling.Mode != SamplingModeLLM {
		t.Errorf("Expected sampling mode %s, got %s", SamplingModeLLM, cfg.Sampling.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Errorf("Expected memory storage, got %s", cfg.Storage.Backend)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
  model: claude-sonnet
agent:
  max_steps: 4
timeouts:
  approval: 30s
approval:
  tools:
    files_delete:
      require_approval: true
servers:
  - name: files
    command: files-server
    groups: [admin]
    require_approval: [write]
    allow_edit: true
  - name: search
    url: http://localhost:9000/mcp
  - name: old
    url: http://localhost:9001/mcp
    disabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != ProviderAnthropic {
		t.Errorf("Expected anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.Agent.MaxSteps != 4 {
		t.Errorf("Expected MaxSteps 4, got %d", cfg.Agent.MaxSteps)
	}
	if cfg.Timeouts.Approval != 30*time.Second {
		t.Errorf("Expected approval timeout 30s, got %v", cfg.Timeouts.Approval)
	}
	if cfg.Timeouts.Sampling != DefaultSamplingTimeout {
		t.Errorf("Expected unset sampling timeout to default, got %v", cfg.Timeouts.Sampling)
	}
	if got := len(cfg.EnabledServers()); got != 2 {
		t.Errorf("Expected 2 enabled servers, got %d", got)
	}

	approvals := cfg.ToolApprovals()
	if a, ok := approvals["files_write"]; !ok || !a.RequireApproval || !a.AllowEdit {
		t.Errorf("Expected files_write to require approval with edit, got %+v", a)
	}
	if a := approvals["files_delete"]; !a.RequireApproval || a.AllowEdit {
		t.Errorf("Expected files_delete to require approval without edit, got %+v", a)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LLM_MODEL", "gpt-test")
	t.Setenv("AGENT_MAX_STEPS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Model != "gpt-test" {
		t.Errorf("Expected model override, got %s", cfg.LLM.Model)
	}
	if cfg.Agent.MaxSteps != 7 {
		t.Errorf("Expected MaxSteps 7, got %d", cfg.Agent.MaxSteps)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad provider", func(c *Config) { c.LLM.Provider = "bogus" }, "unsupported llm provider"},
		{"postgres without url", func(c *Config) { c.Storage.Backend = StoragePostgres }, "requires a url"},
		{"grpc without address", func(c *Config) { c.Groups.Backend = GroupsGRPC }, "requires an address"},
		{"bad sampling mode", func(c *Config) { c.Sampling.Mode = "robot" }, "unsupported sampling mode"},
		{"server without transport", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "x"}}
		}, "needs either a command or a url"},
		{"server with both transports", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "x", Command: "a", URL: "http://b"}}
		}, "cannot have both"},
		{"duplicate server", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "x", Command: "a"}, {Name: "x", Command: "b"}}
		}, "duplicate server name"},
		{"reserved name", func(c *Config) {
			c.Servers = []ServerConfig{{Name: CanvasServerName, Command: "a"}}
		}, "reserved"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q", test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Expected error containing %q, got %v", test.wantErr, err)
			}
		})
	}
}

func TestServerEnvList(t *testing.T) {
	s := ServerConfig{Name: "x", Command: "x", Env: map[string]string{"A": "1"}}
	env := s.EnvList()
	if len(env) != 1 || env[0] != "A=1" {
		t.Errorf("Unexpected env list: %v", env)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported backends
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"

	GroupsStatic = "static"
	GroupsGRPC   = "grpc"

	SamplingModeLLM    = "llm"
	SamplingModeClient = "client"
)

// Config is the complete application configuration
type Config struct {
	Name     string         `yaml:"name"`
	Version  string         `yaml:"version"`
	LLM      LLMConfig      `yaml:"llm"`
	Approval ApprovalConfig `yaml:"approval"`
	Agent    AgentConfig    `yaml:"agent"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Sampling SamplingConfig `yaml:"sampling"`
	Storage  StorageConfig  `yaml:"storage"`
	Files    FilesConfig    `yaml:"files"`
	Groups   GroupsConfig   `yaml:"groups"`
	Servers  []ServerConfig `yaml:"servers"`
}

// LLMConfig selects and tunes the LLM provider
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ToolApprovalConfig overrides the approval policy for one tool
type ToolApprovalConfig struct {
	RequireApproval bool `yaml:"require_approval"`
	AllowEdit       bool `yaml:"allow_edit"`
}

// ApprovalConfig holds the approval policy
type ApprovalConfig struct {
	RequireByDefault bool                          `yaml:"require_approval_by_default"`
	AllowEditDefault bool                          `yaml:"allow_edit_by_default"`
	Tools            map[string]ToolApprovalConfig `yaml:"tools"`
}

// AgentConfig tunes the agent loop
type AgentConfig struct {
	MaxSteps     int           `yaml:"max_steps"`
	InputTimeout time.Duration `yaml:"input_timeout"`
}

// TimeoutConfig holds the waits used by the correlation registries
type TimeoutConfig struct {
	Approval    time.Duration `yaml:"approval"`
	Sampling    time.Duration `yaml:"sampling"`
	Elicitation time.Duration `yaml:"elicitation"`
	ToolCall    time.Duration `yaml:"tool_call"`
}

// SamplingConfig selects who answers tool sampling requests
type SamplingConfig struct {
	// Mode is "llm" (the driving LLM answers) or "client" (forwarded to the chat client)
	Mode  string `yaml:"mode"`
	Model string `yaml:"model"`
}

// StorageConfig selects the session store backend
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// FilesConfig configures signed download references
type FilesConfig struct {
	BaseURL          string        `yaml:"base_url"`
	SigningSecretEnv string        `yaml:"signing_secret_env"`
	URLTTL           time.Duration `yaml:"url_ttl"`
}

// GroupsConfig selects the group-membership backend
type GroupsConfig struct {
	Backend string              `yaml:"backend"`
	Address string              `yaml:"address"`
	Static  map[string][]string `yaml:"static"`
	// CacheTTL bounds how long a definitive membership answer is reused
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns a configuration populated with defaults
func Default() Config {
	return Config{
		Name:    "mcpchat",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Temperature: DefaultTemperature,
		},
		Agent: AgentConfig{
			MaxSteps:     DefaultAgentMaxSteps,
			InputTimeout: DefaultAgentInputTimeout,
		},
		Timeouts: TimeoutConfig{
			Approval:    DefaultApprovalTimeout,
			Sampling:    DefaultSamplingTimeout,
			Elicitation: DefaultElicitationTimeout,
			ToolCall:    DefaultToolCallTimeout,
		},
		Sampling: SamplingConfig{Mode: SamplingModeLLM},
		Storage:  StorageConfig{Backend: StorageMemory},
		Files:    FilesConfig{BaseURL: "http://localhost:8080", SigningSecretEnv: "FILES_SIGNING_SECRET", URLTTL: DefaultDownloadURLTTL},
		Groups:   GroupsConfig{Backend: GroupsStatic, CacheTTL: DefaultAuthzCacheTTL},
	}
}

// Load reads a YAML configuration file on top of the defaults. An empty path
// yields the defaults. Environment overrides are applied afterwards.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the file configuration
func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("GROUPS_ADDRESS"); v != "" {
		c.Groups.Backend = GroupsGRPC
		c.Groups.Address = v
	}
	if v := os.Getenv("AGENT_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.MaxSteps = n
		}
	}
	if v := os.Getenv("REQUIRE_TOOL_APPROVAL_BY_DEFAULT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Approval.RequireByDefault = b
		}
	}
}

// fillDefaults replaces zero values left by a partial YAML file
func (c *Config) fillDefaults() {
	d := Default()
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = d.Agent.MaxSteps
	}
	if c.Agent.InputTimeout <= 0 {
		c.Agent.InputTimeout = d.Agent.InputTimeout
	}
	if c.Timeouts.Approval <= 0 {
		c.Timeouts.Approval = d.Timeouts.Approval
	}
	if c.Timeouts.Sampling <= 0 {
		c.Timeouts.Sampling = d.Timeouts.Sampling
	}
	if c.Timeouts.Elicitation <= 0 {
		c.Timeouts.Elicitation = d.Timeouts.Elicitation
	}
	if c.Timeouts.ToolCall <= 0 {
		c.Timeouts.ToolCall = d.Timeouts.ToolCall
	}
	if c.Files.URLTTL <= 0 {
		c.Files.URLTTL = d.Files.URLTTL
	}
	if c.Groups.CacheTTL <= 0 {
		c.Groups.CacheTTL = d.Groups.CacheTTL
	}
	if c.Sampling.Mode == "" {
		c.Sampling.Mode = d.Sampling.Mode
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Groups.Backend == "" {
		c.Groups.Backend = d.Groups.Backend
	}
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("unsupported llm provider: %q", c.LLM.Provider))
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres, StorageMongo:
		if c.Storage.URL == "" {
			errs = append(errs, fmt.Errorf("storage backend %s requires a url", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend: %q", c.Storage.Backend))
	}
	switch c.Groups.Backend {
	case GroupsStatic:
	case GroupsGRPC:
		if c.Groups.Address == "" {
			errs = append(errs, errors.New("grpc group backend requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported groups backend: %q", c.Groups.Backend))
	}
	switch c.Sampling.Mode {
	case SamplingModeLLM, SamplingModeClient:
	default:
		errs = append(errs, fmt.Errorf("unsupported sampling mode: %q", c.Sampling.Mode))
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate server name: %s", s.Name))
		}
		seen[s.Name] = true
	}
	if seen[CanvasServerName] {
		errs = append(errs, fmt.Errorf("server name %q is reserved", CanvasServerName))
	}

	return errors.Join(errs...)
}

// ToolApprovals merges the global per-tool overrides with the server-level lists
// into a map keyed by namespaced tool name
func (c *Config) ToolApprovals() map[string]ToolApprovalConfig {
	out := make(map[string]ToolApprovalConfig)
	for _, s := range c.Servers {
		for _, tool := range s.RequireApproval {
			out[s.Name+"_"+tool] = ToolApprovalConfig{RequireApproval: true, AllowEdit: s.AllowEdit}
		}
	}
	for name, t := range c.Approval.Tools {
		out[name] = t
	}
	return out
}

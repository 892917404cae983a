package config

import (
	"errors"
	"fmt"
	"strings"
)

// ServerConfig describes one MCP tool server
type ServerConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	// Groups lists the groups allowed to use this server; empty means open to all
	Groups []string `yaml:"groups"`
	// RequireApproval lists un-namespaced tool names that always need approval
	RequireApproval []string `yaml:"require_approval"`
	AllowEdit       bool     `yaml:"allow_edit"`
	Disabled        bool     `yaml:"disabled"`
}

// Validate checks a single server definition
func (s ServerConfig) Validate() error {
	if s.Name == "" {
		return errors.New("server name cannot be empty")
	}
	if strings.ContainsAny(s.Name, " \t") {
		return fmt.Errorf("server name %q cannot contain whitespace", s.Name)
	}
	if s.Command == "" && s.URL == "" {
		return fmt.Errorf("server %s needs either a command or a url", s.Name)
	}
	if s.Command != "" && s.URL != "" {
		return fmt.Errorf("server %s cannot have both a command and a url", s.Name)
	}
	return nil
}

// EnvList renders Env as KEY=VALUE pairs for a stdio subprocess
func (s ServerConfig) EnvList() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	return out
}

// EnabledServers returns the servers that are not disabled
func (c *Config) EnabledServers() []ServerConfig {
	out := make([]ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

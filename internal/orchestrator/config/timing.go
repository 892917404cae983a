package config

import "time"

// Default timing configurations used throughout the orchestrator
const (
	// DefaultApprovalTimeout is how long a tool call waits for a human approval
	DefaultApprovalTimeout = 5 * time.Minute

	// DefaultSamplingTimeout is how long a tool waits for a sampling response
	DefaultSamplingTimeout = 2 * time.Minute

	// DefaultElicitationTimeout is how long a tool waits for an elicitation response
	DefaultElicitationTimeout = 5 * time.Minute

	// DefaultAgentInputTimeout is how long the agent loop waits for a user answer
	DefaultAgentInputTimeout = 10 * time.Minute

	// DefaultAuthzCacheTTL is how long a definitive group-membership answer is cached
	DefaultAuthzCacheTTL = 1 * time.Minute

	// DefaultDownloadURLTTL is the lifetime of signed file download URLs handed to tools
	DefaultDownloadURLTTL = 1 * time.Hour

	// DefaultSessionMaxAge is how long an idle session is kept
	DefaultSessionMaxAge = 30 * time.Minute

	// DefaultSessionCleanupInterval is how often stale sessions are swept
	DefaultSessionCleanupInterval = 5 * time.Minute

	// DefaultToolCallTimeout bounds a single tool invocation, approval excluded
	DefaultToolCallTimeout = 10 * time.Minute

	// DefaultMCPConnectTimeout bounds the initialize handshake with one MCP server
	DefaultMCPConnectTimeout = 30 * time.Second
)

// Default sizing configurations
const (
	// DefaultAgentMaxSteps is the agent loop step budget
	DefaultAgentMaxSteps = 10

	// DefaultMaxToolRounds is how many tool rounds a tools-mode turn may run before synthesis
	DefaultMaxToolRounds = 1

	// DefaultToolConcurrency is how many tool calls of one turn run at once
	DefaultToolConcurrency = 4

	// DefaultTemperature is the LLM temperature used when the request does not set one
	DefaultTemperature = 0.7
)

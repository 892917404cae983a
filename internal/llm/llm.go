// Package llm adapts hosted LLM providers to types.LLM
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/retry"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

var (
	// ErrEmptyResponse is returned when the provider answered without any choice
	ErrEmptyResponse = errors.New("empty response from LLM provider")
	// ErrMissingAPIKey is returned when no API key is configured for the provider
	ErrMissingAPIKey = errors.New("missing LLM API key")
)

// Tool choice values understood by both adapters. Any other value names a tool to force.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// New builds the provider selected by cfg
func New(cfg config.LLMConfig, logger *slog.Logger) (types.LLM, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		key, err := apiKey(cfg.APIKeyEnv, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewOpenAIProvider(key, cfg, retry.DefaultPolicy(), logger), nil
	case config.ProviderAnthropic:
		key, err := apiKey(cfg.APIKeyEnv, "ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewAnthropicProvider(key, cfg, retry.DefaultPolicy(), logger), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

func apiKey(configured, fallback string) (string, error) {
	name := configured
	if name == "" {
		name = fallback
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("%w: set %s", ErrMissingAPIKey, name)
	}
	return key, nil
}

// decodeArguments parses a JSON object of tool arguments. Malformed input
// yields an empty map so the call still reaches the executor and fails there.
func decodeArguments(raw []byte, logger *slog.Logger) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		logger.Warn("Tool call arguments are not a JSON object", "error", err)
		return map[string]any{}
	}
	return args
}

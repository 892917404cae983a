package routing

import (
	"context"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

// LLMSampler answers sampling requests with the driving LLM
type LLMSampler struct {
	LLM         types.LLM
	Model       string
	Temperature float64
}

// Sample converts the request into a plain LLM call. The tool's model hint is
// ignored; sub-generations always use the configured model.
func (s *LLMSampler) Sample(ctx context.Context, req SamplingRequest) (*SamplingResult, error) {
	messages := make([]types.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != types.RoleAssistant {
			role = types.RoleUser
		}
		messages = append(messages, types.Message{Role: role, Content: m.Content})
	}

	temperature := s.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	text, err := s.LLM.CallPlain(ctx, s.Model, messages, temperature)
	if err != nil {
		return nil, err
	}
	return &SamplingResult{Text: text, Model: s.Model}, nil
}

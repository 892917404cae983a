package pending

import "log/slog"

// Metadata keys attached to pending requests
const (
	MetaSessionID  = "session_id"
	MetaToolCallID = "tool_call_id"
	MetaToolName   = "tool_name"
	MetaServerName = "server_name"
)

// ApprovalDecision is the outcome of an approval request
type ApprovalDecision struct {
	Approved  bool
	Arguments map[string]any
	Reason    string
	Cancelled bool
}

// SamplingOutcome is the outcome of a sampling request
type SamplingOutcome struct {
	Text      string
	Model     string
	Error     string
	Cancelled bool
}

// Elicitation actions
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
	ActionCancel  = "cancel"
)

// ElicitationOutcome is the outcome of an elicitation request
type ElicitationOutcome struct {
	Action string
	Data   any
}

// ApprovalRegistry tracks pending tool approvals keyed by tool call ID
type ApprovalRegistry = Registry[ApprovalDecision]

// SamplingRegistry tracks pending sampling requests keyed by sampling ID
type SamplingRegistry = Registry[SamplingOutcome]

// ElicitationRegistry tracks pending elicitation requests keyed by elicitation ID
type ElicitationRegistry = Registry[ElicitationOutcome]

// NewApprovalRegistry creates an approval registry whose cancellation outcome is a rejection
func NewApprovalRegistry(logger *slog.Logger) *ApprovalRegistry {
	return NewRegistry("approval", func() ApprovalDecision {
		return ApprovalDecision{Approved: false, Reason: "cancelled", Cancelled: true}
	}, logger)
}

// NewSamplingRegistry creates a sampling registry whose cancellation outcome is an error
func NewSamplingRegistry(logger *slog.Logger) *SamplingRegistry {
	return NewRegistry("sampling", func() SamplingOutcome {
		return SamplingOutcome{Error: "sampling request cancelled", Cancelled: true}
	}, logger)
}

// NewElicitationRegistry creates an elicitation registry whose cancellation outcome is "cancel"
func NewElicitationRegistry(logger *slog.Logger) *ElicitationRegistry {
	return NewRegistry("elicitation", func() ElicitationOutcome {
		return ElicitationOutcome{Action: ActionCancel}
	}, logger)
}

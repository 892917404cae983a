package config

// User-visible messages used throughout the orchestrator
const (
	// MsgToolRejected is the format string for a tool call the user rejected
	MsgToolRejected = "Tool call was rejected by the user: %s"
	// MsgToolApprovalTimeout is returned when nobody answered the approval request
	MsgToolApprovalTimeout = "Tool call was not approved in time and was not executed."
	// MsgToolApprovalCancelled is returned when the session closed during approval
	MsgToolApprovalCancelled = "Tool call was cancelled before it was approved."
	// MsgToolFailed is the format string for a tool that raised an error
	MsgToolFailed = "Tool execution failed: %v"
	// MsgToolNoServer is the format string for a tool whose server is unknown
	MsgToolNoServer = "Tool %s is not available."
	// MsgAgentMaxSteps is the format string for an agent that exhausted its budget
	MsgAgentMaxSteps = "I stopped after %d steps without a final answer."
	// MsgAgentPartial is the format string for the best available partial answer
	MsgAgentPartial = "I stopped after %d steps. Here is what I found so far:\n\n%s"
	// MsgAgentError is the format string for an agent turn aborted by an LLM failure
	MsgAgentError = "I ran into an error while working on this: %v"
	// MsgAgentInputTimeout is returned when the user did not answer the agent's question
	MsgAgentInputTimeout = "I did not receive an answer to my question, so I stopped here."
	// MsgChatError is the format string for a failed chat turn
	MsgChatError = "Sorry, something went wrong: %v"
	// ErrSessionError is the format string for session errors
	ErrSessionError = "session error: %v"
)

package types

// Outbound event types emitted through ChatConnection.SendJSON
const (
	EventAgentStart        = "agent_start"
	EventAgentTurnStart    = "agent_turn_start"
	EventAgentReason       = "agent_reason"
	EventAgentObserve      = "agent_observe"
	EventAgentRequestInput = "agent_request_input"
	EventAgentCompletion   = "agent_completion"

	EventToolStart          = "tool_start"
	EventToolProgress       = "tool_progress"
	EventToolComplete       = "tool_complete"
	EventApprovalRequest    = "approval_request"
	EventElicitationRequest = "elicitation_request"
	EventSamplingRequest    = "sampling_request"

	EventFilesUpdate   = "files_update"
	EventCanvasContent = "canvas_content"
	EventSystemMessage = "system_message"
	EventChatResponse  = "chat_response"
	EventError         = "error"
)

// Inbound message types consumed by the orchestrator
const (
	InboundChat                = "chat"
	InboundApprovalResponse    = "approval_response"
	InboundSamplingResponse    = "sampling_response"
	InboundElicitationResponse = "elicitation_response"
	InboundAgentUserInput      = "agent_user_input"
	InboundAttachFile          = "attach_file"
)

// AgentEvent reports agent loop lifecycle
type AgentEvent struct {
	Type        string   `json:"type"`
	Step        int      `json:"step,omitempty"`
	MaxSteps    int      `json:"max_steps,omitempty"`
	Message     string   `json:"message,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Question    string   `json:"question,omitempty"`
	FinalAnswer string   `json:"final_answer,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// ToolEvent reports tool start and completion
type ToolEvent struct {
	Type       string         `json:"type"`
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     string         `json:"result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	Status     string         `json:"status,omitempty"`
}

// ToolProgressEvent reports a plain progress tick
type ToolProgressEvent struct {
	Type       string   `json:"type"`
	ToolCallID string   `json:"tool_call_id"`
	ToolName   string   `json:"tool_name"`
	Progress   float64  `json:"progress"`
	Total      *float64 `json:"total,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// ApprovalRequestEvent asks the user to approve, reject or edit a tool call
type ApprovalRequestEvent struct {
	Type       string         `json:"type"`
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	AllowEdit  bool           `json:"allow_edit"`
}

// ElicitationRequestEvent asks the user for structured input on behalf of a running tool
type ElicitationRequestEvent struct {
	Type           string         `json:"type"`
	ElicitationID  string         `json:"elicitation_id"`
	ToolCallID     string         `json:"tool_call_id"`
	ToolName       string         `json:"tool_name"`
	Message        string         `json:"message"`
	ResponseSchema map[string]any `json:"response_schema,omitempty"`
}

// SamplingMessage is one prompt message of a sampling request
type SamplingMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SamplingRequestEvent asks the client side to produce a sub-generation for a running tool
type SamplingRequestEvent struct {
	Type         string            `json:"type"`
	SamplingID   string            `json:"sampling_id"`
	ToolCallID   string            `json:"tool_call_id"`
	ToolName     string            `json:"tool_name"`
	Messages     []SamplingMessage `json:"messages"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
}

// FilesUpdateEvent lists files attached to or produced in the session
type FilesUpdateEvent struct {
	Type       string     `json:"type"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Files      []Artifact `json:"files"`
	Display    any        `json:"display,omitempty"`
}

// CanvasContentEvent replaces the displayed canvas content
type CanvasContentEvent struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Content    string `json:"content"`
}

// SystemMessageEvent is a user-visible side note
type SystemMessageEvent struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Subtype    string `json:"subtype,omitempty"`
	Message    string `json:"message"`
}

// ChatResponseEvent carries the final message of a turn
type ChatResponseEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent reports a turn-level failure
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// InboundMessage is the union of every inbound message shape, discriminated by Type
type InboundMessage struct {
	Type string `json:"type"`

	// chat
	Content       string   `json:"content,omitempty"`
	Model         string   `json:"model,omitempty"`
	SelectedTools []string `json:"selected_tools,omitempty"`
	ToolChoice    string   `json:"tool_choice,omitempty"`
	AgentMode     bool     `json:"agent_mode,omitempty"`
	MaxSteps      int      `json:"agent_max_steps,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`

	// approval_response / elicitation_response
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Approved   bool           `json:"approved,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Reason     string         `json:"reason,omitempty"`

	// sampling_response
	SamplingID string `json:"sampling_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`

	// elicitation_response
	ElicitationID string `json:"elicitation_id,omitempty"`
	Action        string `json:"action,omitempty"`
	Data          any    `json:"data,omitempty"`

	// attach_file
	File *FileRef `json:"file,omitempty"`
}

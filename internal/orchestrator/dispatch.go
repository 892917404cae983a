package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/pending"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// ErrInvalidMessage is returned for inbound messages missing required fields
var ErrInvalidMessage = errors.New("invalid message")

// Dispatch decodes one inbound message and routes it. Chat turns run on their
// own goroutine so that approval, sampling and elicitation answers for the
// same session can be delivered while a tool is suspended.
func (o *Orchestrator) Dispatch(ctx context.Context, conn types.ChatConnection, sessionID string, raw []byte) error {
	var msg types.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.Type {
	case types.InboundChat:
		return o.startTurn(ctx, conn, chatRequestFrom(sessionID, msg))
	case types.InboundApprovalResponse:
		return o.handleApprovalResponse(ctx, sessionID, msg)
	case types.InboundSamplingResponse:
		return o.handleSamplingResponse(ctx, sessionID, msg)
	case types.InboundElicitationResponse:
		return o.handleElicitationResponse(ctx, sessionID, msg)
	case types.InboundAgentUserInput:
		return o.handleAgentUserInput(ctx, sessionID, msg)
	case types.InboundAttachFile:
		return o.handleAttachFile(ctx, conn, sessionID, msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
}

func (o *Orchestrator) startTurn(ctx context.Context, conn types.ChatConnection, req ChatRequest) error {
	if req.Message == "" {
		return fmt.Errorf("%w: empty chat message", ErrInvalidMessage)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	// The turn outlives the inbound message; CloseSession and Shutdown cancel it.
	turnCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.wg.Done()
		_ = o.HandleChat(turnCtx, conn, req)
	}()
	return nil
}

// owned reports whether the pending request exists and belongs to sessionID
func owned[T any](reg *pending.Registry[T], id, sessionID string) bool {
	req, ok := reg.Get(id)
	return ok && req.Metadata[pending.MetaSessionID] == sessionID
}

func (o *Orchestrator) handleApprovalResponse(ctx context.Context, sessionID string, msg types.InboundMessage) error {
	if msg.ToolCallID == "" {
		return fmt.Errorf("%w: approval response without tool_call_id", ErrInvalidMessage)
	}
	if !owned(o.deps.Approvals, msg.ToolCallID, sessionID) {
		o.logger.DebugContext(ctx, "Approval response matches no pending request",
			"session_id", sessionID,
			"tool_call_id", msg.ToolCallID,
		)
		return nil
	}
	o.deps.Approvals.Resolve(msg.ToolCallID, pending.ApprovalDecision{
		Approved:  msg.Approved,
		Arguments: msg.Arguments,
		Reason:    msg.Reason,
	})
	return nil
}

func (o *Orchestrator) handleSamplingResponse(ctx context.Context, sessionID string, msg types.InboundMessage) error {
	if msg.SamplingID == "" {
		return fmt.Errorf("%w: sampling response without sampling_id", ErrInvalidMessage)
	}
	if !owned(o.deps.Sampling, msg.SamplingID, sessionID) {
		o.logger.DebugContext(ctx, "Sampling response matches no pending request",
			"session_id", sessionID,
			"sampling_id", msg.SamplingID,
		)
		return nil
	}
	o.deps.Router.ResolveSampling(msg.SamplingID, pending.SamplingOutcome{
		Text:  msg.Text,
		Model: msg.Model,
		Error: msg.Error,
	})
	return nil
}

func (o *Orchestrator) handleElicitationResponse(ctx context.Context, sessionID string, msg types.InboundMessage) error {
	if msg.ElicitationID == "" && msg.ToolCallID == "" {
		return fmt.Errorf("%w: elicitation response without elicitation_id or tool_call_id", ErrInvalidMessage)
	}
	if msg.ElicitationID != "" && !owned(o.deps.Elicitations, msg.ElicitationID, sessionID) {
		o.logger.DebugContext(ctx, "Elicitation response matches no pending request",
			"session_id", sessionID,
			"elicitation_id", msg.ElicitationID,
		)
		return nil
	}
	if msg.ElicitationID == "" && !o.ownsToolCall(sessionID, msg.ToolCallID) {
		o.logger.DebugContext(ctx, "Elicitation response matches no pending request",
			"session_id", sessionID,
			"tool_call_id", msg.ToolCallID,
		)
		return nil
	}
	o.deps.Router.ResolveElicitation(msg.ElicitationID, msg.ToolCallID, pending.ElicitationOutcome{
		Action: msg.Action,
		Data:   msg.Data,
	})
	return nil
}

// ownsToolCall reports whether sessionID has an elicitation outstanding for toolCallID
func (o *Orchestrator) ownsToolCall(sessionID, toolCallID string) bool {
	found := false
	o.deps.Elicitations.Range(func(req *pending.Request[pending.ElicitationOutcome]) bool {
		if req.Metadata[pending.MetaToolCallID] == toolCallID &&
			req.Metadata[pending.MetaSessionID] == sessionID {
			found = true
			return false
		}
		return true
	})
	return found
}

func (o *Orchestrator) handleAgentUserInput(ctx context.Context, sessionID string, msg types.InboundMessage) error {
	st, err := o.state(sessionID)
	if err != nil {
		return err
	}
	select {
	case st.inputs <- msg.Content:
		return nil
	default:
		o.logger.WarnContext(ctx, "Agent input mailbox full, dropping message", "session_id", sessionID)
		return fmt.Errorf("agent input mailbox full for session %s", sessionID)
	}
}

func (o *Orchestrator) handleAttachFile(ctx context.Context, conn types.ChatConnection, sessionID string, msg types.InboundMessage) error {
	if msg.File == nil || msg.File.Name == "" || msg.File.Key == "" {
		return fmt.Errorf("%w: attach_file requires a file name and key", ErrInvalidMessage)
	}
	st, err := o.state(sessionID)
	if err != nil {
		return err
	}

	file := *msg.File
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}

	st.storeMu.Lock()
	session, err := o.deps.Store.GetSession(ctx, sessionID)
	if err == nil && session == nil {
		err = fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err == nil {
		if session.Files == nil {
			session.Files = make(map[string]types.FileRef)
		}
		session.Files[file.Name] = file
		err = o.deps.Store.SaveSession(ctx, session)
	}
	st.storeMu.Unlock()
	if err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "File attached",
		"session_id", sessionID,
		"file", file.Name,
		"size", file.Size,
	)
	return o.send(ctx, conn, types.FilesUpdateEvent{
		Type:  types.EventFilesUpdate,
		Files: fileArtifacts(session.Files),
	})
}

func fileArtifacts(files map[string]types.FileRef) []types.Artifact {
	out := make([]types.Artifact, 0, len(files))
	for _, f := range files {
		out = append(out, types.Artifact{
			Name:     f.Name,
			MimeType: f.ContentType,
			Size:     f.Size,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

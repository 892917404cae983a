package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/agent"
	"github.com/AltairaLabs/mcpchat/internal/executor"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

const defaultSystemPrompt = "You are a helpful assistant. Use the available tools when they help answer the user. " +
	"When a tool result contains an error, explain it to the user instead of retrying blindly."

// Tool choice values understood by the LLM adapters
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ChatRequest is one user message and its turn options
type ChatRequest struct {
	SessionID     string
	Message       string
	Model         string
	SelectedTools []string
	ToolChoice    string
	AgentMode     bool
	MaxSteps      int
	Temperature   *float64
}

// chatRequestFrom maps an inbound chat message onto a ChatRequest
func chatRequestFrom(sessionID string, msg types.InboundMessage) ChatRequest {
	return ChatRequest{
		SessionID:     sessionID,
		Message:       msg.Content,
		Model:         msg.Model,
		SelectedTools: msg.SelectedTools,
		ToolChoice:    msg.ToolChoice,
		AgentMode:     msg.AgentMode,
		MaxSteps:      msg.MaxSteps,
		Temperature:   msg.Temperature,
	}
}

// HandleChat runs one chat turn: plain, tools or agent mode. The final answer
// is appended to the session history and emitted as chat_response. Failures
// are reported to the client as an error event and returned.
func (o *Orchestrator) HandleChat(ctx context.Context, conn types.ChatConnection, req ChatRequest) error {
	st, err := o.state(req.SessionID)
	if err != nil {
		return err
	}

	// Tracked before queueing so closing the session also drops waiting turns
	turnCtx, cancel := context.WithCancel(ctx)
	release := st.track(cancel)
	defer release()

	// One turn per session at a time; later messages wait their turn.
	select {
	case st.turn <- struct{}{}:
	case <-turnCtx.Done():
		return turnCtx.Err()
	}
	defer func() { <-st.turn }()
	if err := turnCtx.Err(); err != nil {
		return err
	}

	start := time.Now()
	answer, err := o.handleTurn(turnCtx, conn, st, req)
	if err != nil {
		o.logger.ErrorContext(ctx, "Chat turn failed",
			"session_id", req.SessionID,
			"error", err,
		)
		o.send(ctx, conn, types.ErrorEvent{
			Type:    types.EventError,
			Message: fmt.Sprintf(config.MsgChatError, err),
		})
		return err
	}

	o.logger.InfoContext(ctx, "Chat turn completed",
		"session_id", req.SessionID,
		"agent_mode", req.AgentMode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return o.send(ctx, conn, types.ChatResponseEvent{
		Type:    types.EventChatResponse,
		Message: answer,
	})
}

func (o *Orchestrator) handleTurn(
	ctx context.Context,
	conn types.ChatConnection,
	st *sessionState,
	req ChatRequest,
) (string, error) {
	session, err := o.deps.Store.GetSession(ctx, req.SessionID)
	if err != nil {
		return "", fmt.Errorf(config.ErrSessionError, err)
	}
	if session == nil {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
	}

	model := req.Model
	if model == "" {
		model = o.opts.Model
	}
	temperature := o.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	schemas := o.authorizedTools(ctx, session, req.SelectedTools)
	turn := executor.Turn{
		Session: sessionContext(session),
		Conn:    conn,
		Schemas: schemas,
	}

	var answer string
	switch {
	case req.AgentMode:
		answer, err = o.runAgent(ctx, st, req, session, turn, model, temperature)
	case len(schemas) > 0:
		answer, err = o.runTools(ctx, turn, o.buildMessages(session, req.Message), model, temperature, req.ToolChoice)
	default:
		answer, err = o.deps.LLM.CallPlain(ctx, model, o.buildMessages(session, req.Message), temperature)
	}
	if err != nil {
		return "", err
	}

	// The turn may have been cancelled; the exchange is still recorded.
	saveCtx := context.WithoutCancel(ctx)
	if err := o.appendHistory(saveCtx, st, req.SessionID,
		types.Message{Role: types.RoleUser, Content: req.Message},
		types.Message{Role: types.RoleAssistant, Content: answer},
	); err != nil {
		o.logger.ErrorContext(ctx, "Failed to save history", "session_id", req.SessionID, "error", err)
	}
	return answer, nil
}

// authorizedTools narrows the selected tools to the ones the user may run and
// fetches their schemas. Schema lookup failures degrade to a tool-less turn.
func (o *Orchestrator) authorizedTools(ctx context.Context, session *types.Session, selected []string) []types.ToolSchema {
	if len(selected) == 0 {
		return nil
	}
	allowed := selected
	if o.deps.Authz != nil {
		allowed = o.deps.Authz.Filter(ctx, selected, session.UserEmail)
	}
	if len(allowed) == 0 {
		return nil
	}
	schemas, err := o.deps.Tools.GetToolsSchema(ctx, allowed)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to load tool schemas",
			"session_id", session.ID,
			"tools", allowed,
			"error", err,
		)
		return nil
	}
	return schemas
}

func (o *Orchestrator) buildMessages(session *types.Session, message string) []types.Message {
	prompt := o.opts.SystemPrompt
	if len(session.Files) > 0 {
		names := make([]string, 0, len(session.Files))
		for name := range session.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		prompt += "\n\nFiles attached to this conversation: " + strings.Join(names, ", ")
	}

	messages := make([]types.Message, 0, len(session.History)+2)
	messages = append(messages, types.Message{Role: types.RoleSystem, Content: prompt})
	messages = append(messages, session.History...)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: message})
	return messages
}

// runTools lets the LLM call tools for up to MaxToolRounds rounds. When the
// last round still produced tool calls, a synthesis call with tool use
// disabled turns the results into the answer.
func (o *Orchestrator) runTools(
	ctx context.Context,
	turn executor.Turn,
	messages []types.Message,
	model string,
	temperature float64,
	toolChoice string,
) (string, error) {
	if toolChoice == "" {
		toolChoice = ToolChoiceAuto
	}

	for round := 0; round < o.opts.MaxToolRounds; round++ {
		resp, err := o.deps.LLM.CallWithTools(ctx, model, messages, turn.Schemas, toolChoice, temperature)
		if err != nil {
			return "", err
		}
		if !resp.HasToolCalls() {
			return resp.Content, nil
		}

		calls := types.WithCallIDs(resp.ToolCalls)
		messages = append(messages, types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		})
		results := o.deps.Executor.ExecuteAll(ctx, turn, calls)
		for i, r := range results {
			messages = append(messages, types.Message{
				Role:       types.RoleTool,
				Content:    r.Content,
				ToolCallID: r.ToolCallID,
				Name:       calls[i].Name,
				IsError:    r.IsError,
			})
		}

		o.logger.DebugContext(ctx, "Tool round completed",
			"session_id", turn.Session.SessionID,
			"round", round+1,
			"calls", len(calls),
		)
		// A forced choice applies to the first round only
		toolChoice = ToolChoiceAuto
	}

	resp, err := o.deps.LLM.CallWithTools(ctx, model, messages, turn.Schemas, ToolChoiceNone, temperature)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (o *Orchestrator) runAgent(
	ctx context.Context,
	st *sessionState,
	req ChatRequest,
	session *types.Session,
	turn executor.Turn,
	model string,
	temperature float64,
) (string, error) {
	if o.deps.Agent == nil {
		return "", fmt.Errorf("agent mode is not enabled")
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = o.opts.AgentMaxSteps
	}

	st.drainInputs()
	res := o.deps.Agent.Run(ctx, agent.Request{
		Message:     req.Message,
		History:     session.History,
		Model:       model,
		Temperature: temperature,
		MaxSteps:    maxSteps,
		Tools:       turn.Schemas,
		Turn:        turn,
		Inputs:      st.inputs,
	})
	return res.Answer, nil
}

// appendHistory reloads the session so concurrent attachments are kept
func (o *Orchestrator) appendHistory(ctx context.Context, st *sessionState, sessionID string, messages ...types.Message) error {
	st.storeMu.Lock()
	defer st.storeMu.Unlock()

	session, err := o.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	session.History = append(session.History, messages...)
	session.LastActive = time.Now().UTC()
	return o.deps.Store.SaveSession(ctx, session)
}

func (o *Orchestrator) send(ctx context.Context, conn types.ChatConnection, event any) error {
	if conn == nil {
		return nil
	}
	if err := conn.SendJSON(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "Failed to send event", "error", err)
		return err
	}
	return nil
}

// Package executor runs one tool call end to end: argument preparation,
// approval gating, routed execution and result post-processing.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/mcpchat/internal/arguments"
	"github.com/AltairaLabs/mcpchat/internal/audit"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/pending"
	"github.com/AltairaLabs/mcpchat/internal/routing"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// State is a step of the per-call state machine
type State string

const (
	StatePending          State = "pending"
	StateAwaitingApproval State = "awaiting_approval"
	StateApproved         State = "approved"
	StateRejected         State = "rejected"
	StateTimedOut         State = "timed_out"
	StateExecuting        State = "executing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Turn is the per-turn context shared by every call of one LLM response
type Turn struct {
	Session arguments.SessionContext
	Conn    types.ChatConnection
	// Schemas are the tools the user may run this turn; other names are refused
	Schemas []types.ToolSchema
}

func (t Turn) schema(name string) (types.ToolSchema, bool) {
	for _, s := range t.Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return types.ToolSchema{}, false
}

// Options configures an Executor
type Options struct {
	Policy          ApprovalPolicy
	ApprovalTimeout time.Duration
	CallTimeout     time.Duration
	Concurrency     int
	// Servers lists the server names used to route namespaced tool names
	Servers func() []string
	Audit   *audit.Logger
	Logger  *slog.Logger
}

// Executor composes the argument pipeline, the approval registry and the tool manager
type Executor struct {
	tools     types.ToolManager
	pipeline  *arguments.Pipeline
	approvals *pending.ApprovalRegistry
	router    *routing.Router

	policy          ApprovalPolicy
	approvalTimeout time.Duration
	callTimeout     time.Duration
	concurrency     int
	servers         func() []string
	audit           *audit.Logger
	logger          *slog.Logger
}

// New creates an executor
func New(
	tools types.ToolManager,
	pipeline *arguments.Pipeline,
	approvals *pending.ApprovalRegistry,
	router *routing.Router,
	opts Options,
) *Executor {
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = config.DefaultApprovalTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = config.DefaultToolCallTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = config.DefaultToolConcurrency
	}
	if opts.Servers == nil {
		opts.Servers = func() []string { return nil }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogger(opts.Logger)
	}
	return &Executor{
		tools:           tools,
		pipeline:        pipeline,
		approvals:       approvals,
		router:          router,
		policy:          opts.Policy,
		approvalTimeout: opts.ApprovalTimeout,
		callTimeout:     opts.CallTimeout,
		concurrency:     opts.Concurrency,
		servers:         opts.Servers,
		audit:           opts.Audit,
		logger:          opts.Logger.With("component", "executor"),
	}
}

// ExecuteAll runs calls concurrently and returns their results in call order
func (e *Executor) ExecuteAll(ctx context.Context, turn Turn, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, turn, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Execute runs one tool call. Rejections, timeouts and tool failures come back
// as results with IsError set; Execute never fails the turn.
func (e *Executor) Execute(ctx context.Context, turn Turn, call types.ToolCall) types.ToolResult {
	e.transition(ctx, call, StatePending)

	entry := &audit.Entry{
		Timestamp:  time.Now(),
		SessionID:  turn.Session.SessionID,
		UserEmail:  turn.Session.UserEmail,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	schema, ok := turn.schema(call.Name)
	if !ok {
		e.logger.WarnContext(ctx, "Tool not available to this turn",
			"tool_call_id", call.ID,
			"tool_name", call.Name,
		)
		e.transition(ctx, call, StateFailed)
		return errorResult(call, fmt.Sprintf(config.MsgToolNoServer, call.Name))
	}

	call = call.WithArguments(e.pipeline.Prepare(ctx, call.Arguments, schema, turn.Session))

	if require, allowEdit := e.policy.For(call.Name); require {
		approved, result := e.awaitApproval(ctx, turn, call, schema, allowEdit, entry)
		if result != nil {
			return *result
		}
		call = approved
	}

	return e.run(ctx, turn, call, entry)
}

// awaitApproval returns the call to execute, or a terminal result when the call
// must not run
func (e *Executor) awaitApproval(
	ctx context.Context,
	turn Turn,
	call types.ToolCall,
	schema types.ToolSchema,
	allowEdit bool,
	entry *audit.Entry,
) (types.ToolCall, *types.ToolResult) {
	e.transition(ctx, call, StateAwaitingApproval)

	if _, err := e.approvals.Create(call.ID, map[string]string{
		pending.MetaSessionID:  turn.Session.SessionID,
		pending.MetaToolCallID: call.ID,
		pending.MetaToolName:   call.Name,
	}); err != nil {
		e.logger.ErrorContext(ctx, "Failed to register approval", "tool_call_id", call.ID, "error", err)
		e.transition(ctx, call, StateRejected)
		r := errorResult(call, fmt.Sprintf(config.MsgToolRejected, err.Error()))
		return call, &r
	}
	defer e.approvals.Remove(call.ID)

	event := types.ApprovalRequestEvent{
		Type:       types.EventApprovalRequest,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  call.Arguments,
		AllowEdit:  allowEdit,
	}
	if err := e.send(ctx, turn.Conn, event); err != nil {
		e.transition(ctx, call, StateRejected)
		r := errorResult(call, fmt.Sprintf(config.MsgToolRejected, "approval request could not be delivered"))
		return call, &r
	}

	decision, err := e.approvals.Await(ctx, call.ID, e.approvalTimeout)
	switch {
	case errors.Is(err, pending.ErrTimeout):
		e.transition(ctx, call, StateTimedOut)
		e.audit.LogApproval(ctx, entry, "timeout", false)
		r := errorResult(call, config.MsgToolApprovalTimeout)
		return call, &r
	case err != nil, decision.Cancelled:
		e.transition(ctx, call, StateRejected)
		e.audit.LogApproval(ctx, entry, "cancelled", false)
		r := errorResult(call, config.MsgToolApprovalCancelled)
		return call, &r
	case !decision.Approved:
		e.transition(ctx, call, StateRejected)
		e.audit.LogApproval(ctx, entry, "rejected", false)
		reason := decision.Reason
		if reason == "" {
			reason = "no reason given"
		}
		r := errorResult(call, fmt.Sprintf(config.MsgToolRejected, reason))
		return call, &r
	}

	edited := allowEdit && decision.Arguments != nil
	args := call.Arguments
	if edited {
		args = decision.Arguments
	}
	e.transition(ctx, call, StateApproved)
	e.audit.LogApproval(ctx, entry, "approved", edited)

	// Approver input is untrusted: re-run the whole pipeline.
	return call.WithArguments(e.pipeline.Prepare(ctx, args, schema, turn.Session)), nil
}

func (e *Executor) run(ctx context.Context, turn Turn, call types.ToolCall, entry *audit.Entry) types.ToolResult {
	e.transition(ctx, call, StateExecuting)
	entry.ArgumentKeys = audit.Keys(call.Arguments)
	e.audit.LogToolCall(ctx, entry)

	_ = e.send(ctx, turn.Conn, types.ToolEvent{
		Type:       types.EventToolStart,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  call.Arguments,
		Status:     string(StateExecuting),
	})

	execCtx := types.ToolExecutionContext{
		SessionID: turn.Session.SessionID,
		UserEmail: turn.Session.UserEmail,
		Progress:  e.progressFunc(ctx, turn.Conn, call),
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	var res *types.ToolResult
	invoke := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool panicked: %v", r)
			}
		}()
		res, err = e.tools.ExecuteTool(ctx, call, execCtx)
		return err
	}

	var err error
	if server, _, ok := types.SplitToolName(call.Name, e.servers()); ok {
		err = e.router.WithRouting(callCtx, routing.Route{
			ServerName: server,
			SessionID:  turn.Session.SessionID,
			Call:       call,
			Reply:      turn.Conn,
		}, invoke)
	} else {
		err = invoke(callCtx)
	}
	entry.Duration = time.Since(start)

	var result types.ToolResult
	if err != nil {
		e.transition(ctx, call, StateFailed)
		entry.ErrorMsg = err.Error()
		result = errorResult(call, fmt.Sprintf(config.MsgToolFailed, err))
	} else {
		if res != nil {
			result = *res
		}
		result.ToolCallID = call.ID
		if result.IsError {
			e.transition(ctx, call, StateFailed)
		} else {
			e.transition(ctx, call, StateCompleted)
		}
		entry.IsError = result.IsError
		e.postProcess(ctx, turn.Conn, call, result)
	}
	e.audit.LogToolResult(ctx, entry)

	_ = e.send(ctx, turn.Conn, types.ToolEvent{
		Type:       types.EventToolComplete,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Result:     result.Content,
		IsError:    result.IsError,
		Status:     statusOf(result),
	})

	return result
}

// postProcess surfaces canvas output and artifacts produced by a successful call
func (e *Executor) postProcess(ctx context.Context, conn types.ChatConnection, call types.ToolCall, result types.ToolResult) {
	if call.Name == config.CanvasToolName && !result.IsError {
		_ = e.send(ctx, conn, types.CanvasContentEvent{
			Type:       types.EventCanvasContent,
			ToolCallID: call.ID,
			Content:    result.Content,
		})
	}
	if len(result.Artifacts) > 0 {
		_ = e.send(ctx, conn, types.FilesUpdateEvent{
			Type:       types.EventFilesUpdate,
			ToolCallID: call.ID,
			Files:      result.Artifacts,
		})
	}
}

// progressFunc maps decoded progress updates to outbound events
func (e *Executor) progressFunc(ctx context.Context, conn types.ChatConnection, call types.ToolCall) types.ProgressFunc {
	return func(update types.ProgressUpdate) {
		var event any
		switch u := update.(type) {
		case types.PlainProgress:
			event = types.ToolProgressEvent{
				Type:       types.EventToolProgress,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Progress:   u.Progress,
				Total:      u.Total,
				Percentage: u.Percentage(),
				Message:    u.Message,
			}
		case types.CanvasUpdate:
			event = types.CanvasContentEvent{
				Type:       types.EventCanvasContent,
				ToolCallID: call.ID,
				Content:    u.Content,
			}
		case types.SystemMessage:
			event = types.SystemMessageEvent{
				Type:       types.EventSystemMessage,
				ToolCallID: call.ID,
				Subtype:    u.Subtype,
				Message:    u.Message,
			}
		case types.ArtifactsUpdate:
			var display any
			if u.Display != nil {
				display = u.Display
			}
			event = types.FilesUpdateEvent{
				Type:       types.EventFilesUpdate,
				ToolCallID: call.ID,
				Files:      u.Artifacts,
				Display:    display,
			}
		default:
			return
		}
		_ = e.send(ctx, conn, event)
	}
}

func (e *Executor) send(ctx context.Context, conn types.ChatConnection, event any) error {
	if conn == nil {
		return errors.New("no connection")
	}
	if err := conn.SendJSON(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to send event", "error", err)
		return err
	}
	return nil
}

func (e *Executor) transition(ctx context.Context, call types.ToolCall, state State) {
	e.logger.DebugContext(ctx, "Tool call state",
		"tool_call_id", call.ID,
		"tool_name", call.Name,
		"state", string(state),
	)
}

func errorResult(call types.ToolCall, content string) types.ToolResult {
	return types.ToolResult{
		ToolCallID: call.ID,
		Content:    content,
		IsError:    true,
	}
}

func statusOf(r types.ToolResult) string {
	if r.IsError {
		return string(StateFailed)
	}
	return string(StateCompleted)
}

// Package agent implements the bounded Reason → Act → Observe loop used for
// agent-mode chat turns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/executor"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// OutcomeKind tags the result of one Reason step
type OutcomeKind int

const (
	Continue OutcomeKind = iota
	AwaitUserInput
	Finished
)

// Outcome is the tagged result of one Reason step
type Outcome struct {
	Kind     OutcomeKind
	Question string
	Answer   string
}

// State is the agent's working state for one user message
type State struct {
	Step         int
	Observations []string
	Outcome      Outcome
}

// Completion reasons reported in agent_completion
const (
	ReasonFinished     = "finished"
	ReasonMaxSteps     = "max_steps"
	ReasonError        = "error"
	ReasonCancelled    = "cancelled"
	ReasonInputTimeout = "input_timeout"
)

// ToolRunner executes a batch of tool calls
type ToolRunner interface {
	ExecuteAll(ctx context.Context, turn executor.Turn, calls []types.ToolCall) []types.ToolResult
}

// ToolFilter narrows tool names to the ones a user may run
type ToolFilter interface {
	Filter(ctx context.Context, selected []string, user string) []string
}

// Request is one agent-mode turn
type Request struct {
	Message     string
	History     []types.Message
	Model       string
	Temperature float64
	MaxSteps    int
	// Tools are the candidate tools, already authorized for the user
	Tools []types.ToolSchema
	Turn  executor.Turn
	// Inputs delivers agent_user_input messages for this session
	Inputs <-chan string
}

// Result is the terminal outcome of a run
type Result struct {
	Answer       string
	Reason       string
	Steps        int
	Observations []string
}

// Options configures a Loop
type Options struct {
	InputTimeout time.Duration
	Logger       *slog.Logger
}

// Loop runs agent turns
type Loop struct {
	llm          types.LLM
	tools        ToolRunner
	filter       ToolFilter
	inputTimeout time.Duration
	logger       *slog.Logger
}

// NewLoop creates an agent loop
func NewLoop(llm types.LLM, tools ToolRunner, filter ToolFilter, opts Options) (*Loop, error) {
	if llm == nil {
		return nil, errors.New("llm is required")
	}
	if tools == nil {
		return nil, errors.New("tool runner is required")
	}
	if opts.InputTimeout <= 0 {
		opts.InputTimeout = config.DefaultAgentInputTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		llm:          llm,
		tools:        tools,
		filter:       filter,
		inputTimeout: opts.InputTimeout,
		logger:       opts.Logger.With("component", "agent"),
	}, nil
}

// Run drives one turn to completion. Every return path emits exactly one
// agent_completion event.
func (l *Loop) Run(ctx context.Context, req Request) Result {
	if req.MaxSteps <= 0 {
		req.MaxSteps = config.DefaultAgentMaxSteps
	}

	l.emit(ctx, req, types.AgentEvent{
		Type:     types.EventAgentStart,
		MaxSteps: req.MaxSteps,
		Message:  req.Message,
	})

	res := l.run(ctx, req)

	l.logger.InfoContext(ctx, "Agent run finished",
		"session_id", req.Turn.Session.SessionID,
		"steps", res.Steps,
		"reason", res.Reason,
	)
	l.emit(ctx, req, types.AgentEvent{
		Type:        types.EventAgentCompletion,
		Step:        res.Steps,
		MaxSteps:    req.MaxSteps,
		FinalAnswer: res.Answer,
		Reason:      res.Reason,
	})
	return res
}

func (l *Loop) run(ctx context.Context, req Request) Result {
	state := &State{}
	messages := l.baseMessages(req)

	for state.Step < req.MaxSteps {
		if err := ctx.Err(); err != nil {
			return l.result(state, partialAnswer(state), ReasonCancelled)
		}

		state.Step++
		l.emit(ctx, req, types.AgentEvent{
			Type:     types.EventAgentTurnStart,
			Step:     state.Step,
			MaxSteps: req.MaxSteps,
		})

		decision, err := l.reason(ctx, req, state, messages)
		if err != nil {
			if ctx.Err() != nil {
				return l.result(state, partialAnswer(state), ReasonCancelled)
			}
			l.logger.ErrorContext(ctx, "Reason step failed", "step", state.Step, "error", err)
			return l.result(state, fmt.Sprintf(config.MsgAgentError, err), ReasonError)
		}

		switch state.Outcome.Kind {
		case Finished:
			return l.result(state, state.Outcome.Answer, ReasonFinished)

		case AwaitUserInput:
			answer, err := l.awaitInput(ctx, req, state)
			if err != nil {
				if ctx.Err() != nil {
					return l.result(state, partialAnswer(state), ReasonCancelled)
				}
				return l.result(state, config.MsgAgentInputTimeout, ReasonInputTimeout)
			}
			state.Observations = append(state.Observations,
				fmt.Sprintf("Asked the user %q; they answered %q", state.Outcome.Question, answer))
			messages = append(messages,
				types.Message{Role: types.RoleAssistant, Content: state.Outcome.Question},
				types.Message{Role: types.RoleUser, Content: answer},
			)

		default:
			raw, err := l.act(ctx, req, decision, messages)
			if err != nil {
				if ctx.Err() != nil {
					return l.result(state, partialAnswer(state), ReasonCancelled)
				}
				l.logger.ErrorContext(ctx, "Act step failed", "step", state.Step, "error", err)
				return l.result(state, fmt.Sprintf(config.MsgAgentError, err), ReasonError)
			}
			l.observe(ctx, req, state, raw)
		}
	}

	l.logger.WarnContext(ctx, "Agent step budget exhausted",
		"session_id", req.Turn.Session.SessionID,
		"max_steps", req.MaxSteps,
	)
	return l.result(state, partialAnswer(state), ReasonMaxSteps)
}

func (l *Loop) result(state *State, answer, reason string) Result {
	return Result{
		Answer:       answer,
		Reason:       reason,
		Steps:        state.Step,
		Observations: append([]string(nil), state.Observations...),
	}
}

func partialAnswer(state *State) string {
	if len(state.Observations) == 0 {
		return fmt.Sprintf(config.MsgAgentMaxSteps, state.Step)
	}
	return fmt.Sprintf(config.MsgAgentPartial, state.Step, state.Observations[len(state.Observations)-1])
}

func (l *Loop) baseMessages(req Request) []types.Message {
	messages := make([]types.Message, 0, len(req.History)+2)
	messages = append(messages, types.Message{
		Role:    types.RoleSystem,
		Content: fmt.Sprintf(reasonSystemPrompt, toolCatalog(req.Tools)),
	})
	for _, m := range req.History {
		if m.Role == types.RoleSystem || m.Role == types.RoleTool || len(m.ToolCalls) > 0 {
			continue
		}
		messages = append(messages, m)
	}
	return append(messages, types.Message{Role: types.RoleUser, Content: req.Message})
}

// reason runs one Reason step and records its outcome on state
func (l *Loop) reason(ctx context.Context, req Request, state *State, messages []types.Message) (Decision, error) {
	prompt := messages
	if len(state.Observations) > 0 {
		prompt = append(append([]types.Message(nil), messages...), transcriptMessage(state.Observations))
	}

	text, err := l.llm.CallPlain(ctx, req.Model, prompt, req.Temperature)
	if err != nil {
		return Decision{}, err
	}

	decision, err := ParseDecision(text)
	if err != nil {
		l.logger.WarnContext(ctx, "Unstructured reasoning output, finishing with raw text",
			"step", state.Step,
			"error", err,
		)
		state.Outcome = Outcome{Kind: Finished, Answer: strings.TrimSpace(text)}
		l.emit(ctx, req, types.AgentEvent{
			Type:        types.EventAgentReason,
			Step:        state.Step,
			FinalAnswer: state.Outcome.Answer,
		})
		return decision, nil
	}

	switch {
	case decision.Finish:
		state.Outcome = Outcome{Kind: Finished, Answer: decision.FinalAnswer}
	case decision.WantsInput():
		state.Outcome = Outcome{Kind: AwaitUserInput, Question: decision.RequestInput.Question}
	case len(req.Tools) == 0:
		answer := decision.NextAction
		if answer == "" {
			answer = decision.Plan
		}
		state.Outcome = Outcome{Kind: Finished, Answer: answer}
	default:
		state.Outcome = Outcome{Kind: Continue}
	}

	event := types.AgentEvent{
		Type:    types.EventAgentReason,
		Step:    state.Step,
		Message: decision.Plan,
		Tools:   decision.Tools,
	}
	if state.Outcome.Kind == Finished {
		event.FinalAnswer = state.Outcome.Answer
	}
	l.emit(ctx, req, event)

	return decision, nil
}

// act lets the LLM call the decision's tools and returns the raw tool output
func (l *Loop) act(ctx context.Context, req Request, decision Decision, messages []types.Message) (string, error) {
	schemas := l.selectTools(ctx, req, decision.Tools)
	if len(schemas) == 0 {
		return "No authorized tool matched the planned action.", nil
	}

	action := decision.NextAction
	if action == "" {
		action = decision.Plan
	}
	prompt := append(append([]types.Message(nil), messages...), types.Message{
		Role:    types.RoleSystem,
		Content: fmt.Sprintf(actSystemPrompt, action),
	})

	resp, err := l.llm.CallWithTools(ctx, req.Model, prompt, schemas, "auto", req.Temperature)
	if err != nil {
		return "", err
	}
	if !resp.HasToolCalls() {
		return strings.TrimSpace(resp.Content), nil
	}

	calls := types.WithCallIDs(resp.ToolCalls)
	turn := req.Turn
	turn.Schemas = schemas
	results := l.tools.ExecuteAll(ctx, turn, calls)
	return formatResults(calls, results), nil
}

// selectTools returns the candidate schemas named by the decision, re-checked
// against the authorization filter. An empty selection means every candidate.
func (l *Loop) selectTools(ctx context.Context, req Request, names []string) []types.ToolSchema {
	if len(names) == 0 {
		for _, t := range req.Tools {
			names = append(names, t.Name)
		}
	}
	if l.filter != nil {
		names = l.filter.Filter(ctx, names, req.Turn.Session.UserEmail)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []types.ToolSchema
	for _, t := range req.Tools {
		if wanted[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// observe summarizes raw tool output into the transcript
func (l *Loop) observe(ctx context.Context, req Request, state *State, raw string) {
	observation := raw
	if raw != "" {
		text, err := l.llm.CallPlain(ctx, req.Model, []types.Message{
			{Role: types.RoleSystem, Content: observeSystemPrompt},
			{Role: types.RoleUser, Content: fmt.Sprintf("Request: %s\n\nTool results:\n%s", req.Message, raw)},
		}, req.Temperature)
		if err != nil {
			l.logger.WarnContext(ctx, "Observe step failed, keeping raw output", "step", state.Step, "error", err)
		} else {
			observation = parseObservation(text)
		}
	}
	if observation == "" {
		observation = "The action produced no output."
	}

	state.Observations = append(state.Observations, observation)
	l.emit(ctx, req, types.AgentEvent{
		Type:    types.EventAgentObserve,
		Step:    state.Step,
		Message: observation,
	})
}

// awaitInput emits the question and waits for exactly one user message
func (l *Loop) awaitInput(ctx context.Context, req Request, state *State) (string, error) {
	l.emit(ctx, req, types.AgentEvent{
		Type:     types.EventAgentRequestInput,
		Step:     state.Step,
		Question: state.Outcome.Question,
	})

	if req.Inputs == nil {
		return "", errors.New("no input channel for this session")
	}

	timer := time.NewTimer(l.inputTimeout)
	defer timer.Stop()

	select {
	case answer := <-req.Inputs:
		return answer, nil
	case <-timer.C:
		return "", fmt.Errorf("no user input after %v", l.inputTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *Loop) emit(ctx context.Context, req Request, event types.AgentEvent) {
	if req.Turn.Conn == nil {
		return
	}
	if err := req.Turn.Conn.SendJSON(ctx, event); err != nil {
		l.logger.WarnContext(ctx, "Failed to send agent event",
			"type", event.Type,
			"error", err,
		)
	}
}

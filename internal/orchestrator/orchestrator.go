// Package orchestrator ties the chat surface to the tool orchestration core:
// it owns per-session turn state and routes inbound messages to the
// registries, the executor and the agent loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/agent"
	"github.com/AltairaLabs/mcpchat/internal/arguments"
	"github.com/AltairaLabs/mcpchat/internal/executor"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/pending"
	"github.com/AltairaLabs/mcpchat/internal/routing"
	"github.com/AltairaLabs/mcpchat/internal/storage"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

var (
	// ErrUnknownMessageType is returned by Dispatch for an unrecognized inbound type
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrSessionNotFound is returned when a turn targets a session that does not exist
	ErrSessionNotFound = errors.New("session not found")
	// ErrShuttingDown is returned once Shutdown has been called
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// inputMailboxSize bounds buffered agent_user_input messages per session
const inputMailboxSize = 8

// Deps are the collaborators the orchestrator composes
type Deps struct {
	LLM          types.LLM
	Tools        types.ToolManager
	Store        storage.SessionStore
	Authz        agent.ToolFilter
	Executor     *executor.Executor
	Agent        *agent.Loop
	Router       *routing.Router
	Approvals    *pending.ApprovalRegistry
	Sampling     *pending.SamplingRegistry
	Elicitations *pending.ElicitationRegistry
	Logger       *slog.Logger
}

// Options tunes turn handling
type Options struct {
	Model         string
	Temperature   float64
	SystemPrompt  string
	MaxToolRounds int
	AgentMaxSteps int
}

// sessionState is the in-process state of one connected session
type sessionState struct {
	// turn serializes chat turns of one session
	turn   chan struct{}
	inputs chan string

	// storeMu serializes read-modify-write cycles on the persisted session
	storeMu sync.Mutex

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
	closed  bool
}

func newSessionState() *sessionState {
	return &sessionState{
		turn:    make(chan struct{}, 1),
		inputs:  make(chan string, inputMailboxSize),
		cancels: make(map[int]context.CancelFunc),
	}
}

// track registers cancel until the returned release runs. On a closed
// session cancel runs immediately.
func (s *sessionState) track(cancel context.CancelFunc) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return cancel
	}
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancel
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel()
	}
}

// close cancels every tracked turn, including turns still queued for the slot
func (s *sessionState) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
}

// drainInputs discards answers that arrived while no question was pending
func (s *sessionState) drainInputs() {
	for {
		select {
		case <-s.inputs:
		default:
			return
		}
	}
}

// Orchestrator is the chat-turn entry point
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool
	wg       sync.WaitGroup
}

// New creates an orchestrator
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.LLM == nil:
		return nil, errors.New("llm is required")
	case deps.Tools == nil:
		return nil, errors.New("tool manager is required")
	case deps.Store == nil:
		return nil, errors.New("session store is required")
	case deps.Executor == nil:
		return nil, errors.New("executor is required")
	case deps.Router == nil:
		return nil, errors.New("router is required")
	case deps.Approvals == nil || deps.Sampling == nil || deps.Elicitations == nil:
		return nil, errors.New("pending registries are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = config.DefaultMaxToolRounds
	}
	if opts.AgentMaxSteps <= 0 {
		opts.AgentMaxSteps = config.DefaultAgentMaxSteps
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		logger:   deps.Logger.With("component", "orchestrator"),
		sessions: make(map[string]*sessionState),
	}, nil
}

// OpenSession loads or creates the session for an authenticated connection
func (o *Orchestrator) OpenSession(ctx context.Context, sessionID, userEmail string) (*types.Session, error) {
	if sessionID == "" {
		return nil, storage.ErrSessionIDEmpty
	}
	if o.isClosed() {
		return nil, ErrShuttingDown
	}

	session, err := o.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf(config.ErrSessionError, err)
	}
	if session != nil {
		if session.UserEmail != userEmail {
			return nil, fmt.Errorf("session %s belongs to another user", sessionID)
		}
		if _, err := o.openState(sessionID); err != nil {
			return nil, err
		}
		if err := o.deps.Store.UpdateSessionActivity(ctx, sessionID); err != nil {
			o.logger.WarnContext(ctx, "Failed to update session activity", "session_id", sessionID, "error", err)
		}
		return session, nil
	}

	now := time.Now().UTC()
	session = &types.Session{
		ID:         sessionID,
		UserEmail:  userEmail,
		Files:      make(map[string]types.FileRef),
		CreatedAt:  now,
		LastActive: now,
	}
	if err := o.deps.Store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf(config.ErrSessionError, err)
	}
	if _, err := o.openState(sessionID); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "Session opened", "session_id", sessionID, "user_email", userEmail)
	return session, nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// openState returns the in-process state of sessionID, creating it if needed
func (o *Orchestrator) openState(sessionID string) (*sessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShuttingDown
	}
	st, ok := o.sessions[sessionID]
	if !ok {
		st = newSessionState()
		o.sessions[sessionID] = st
	}
	return st, nil
}

// state returns the state of an open session
func (o *Orchestrator) state(sessionID string) (*sessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShuttingDown
	}
	st, ok := o.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return st, nil
}

// CloseSession cancels the session's running turns and every pending
// approval, sampling and elicitation request it owns. Persisted history is kept.
func (o *Orchestrator) CloseSession(sessionID string) int {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	if ok {
		st.close()
	}
	n := o.deps.Approvals.CancelMatching(pending.MetaSessionID, sessionID) +
		o.deps.Router.CancelSession(sessionID)
	o.logger.Info("Session closed", "session_id", sessionID, "cancelled", n)
	return n
}

// ExpireSession closes the session and deletes its persisted state
func (o *Orchestrator) ExpireSession(ctx context.Context, sessionID string) error {
	o.CloseSession(sessionID)
	return o.deps.Store.DeleteSession(ctx, sessionID)
}

// Shutdown cancels every pending request and running turn, then waits for
// the turn goroutines to exit or ctx to end
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	states := o.sessions
	o.sessions = make(map[string]*sessionState)
	o.mu.Unlock()

	for _, st := range states {
		st.close()
	}
	n := o.deps.Approvals.CancelAll() + o.deps.Router.CancelAll()
	o.logger.Info("Orchestrator shutting down", "sessions", len(states), "cancelled", n)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sessionContext(session *types.Session) arguments.SessionContext {
	return arguments.SessionContext{
		SessionID: session.ID,
		UserEmail: session.UserEmail,
		Files:     session.Files,
	}
}

// Package routing lets an MCP server's mid-call elicitation and sampling
// requests reach the chat connection that owns the tool call in flight.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/pending"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

var (
	// ErrNoRoute is returned when a server issues a request with no tool call routed to it
	ErrNoRoute = errors.New("no routing context for server")
	// ErrSamplingTimeout is returned when nobody answered a sampling request in time
	ErrSamplingTimeout = errors.New("sampling request timed out")
)

// SamplingError carries an error reported by whoever answered a sampling request
type SamplingError struct {
	Message string
}

func (e *SamplingError) Error() string {
	return "sampling failed: " + e.Message
}

// Route binds a server to the one tool call and connection allowed to answer
// requests originating from that server
type Route struct {
	ServerName string
	SessionID  string
	Call       types.ToolCall
	Reply      types.ChatConnection
}

// ElicitationRequest is a tool's request for structured user input
type ElicitationRequest struct {
	Message string
	// Schema is the requested JSON schema; nil or property-less means approval-only
	Schema map[string]any
}

// ElicitationHandler answers elicitation requests for one server
type ElicitationHandler func(ctx context.Context, req ElicitationRequest) pending.ElicitationOutcome

// SamplingRequest is a tool's request for an LLM sub-generation
type SamplingRequest struct {
	Messages     []types.SamplingMessage
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
	ModelHint    string
}

// SamplingResult is the answer to a sampling request
type SamplingResult struct {
	Text  string
	Model string
}

// SamplingHandler answers sampling requests for one server
type SamplingHandler func(ctx context.Context, req SamplingRequest) (*SamplingResult, error)

// Sampler produces sub-generations without involving the chat client
type Sampler interface {
	Sample(ctx context.Context, req SamplingRequest) (*SamplingResult, error)
}

// Options configures a Router
type Options struct {
	ElicitationTimeout time.Duration
	SamplingTimeout    time.Duration
	// Sampler answers sampling requests directly; nil forwards them to the client
	Sampler Sampler
	Logger  *slog.Logger
}

// Router holds at most one route per server. Concurrent tool calls into the
// same server wait for the server's slot instead of replacing its route.
type Router struct {
	elicitations *pending.ElicitationRegistry
	sampling     *pending.SamplingRegistry
	sampler      Sampler

	elicitTimeout   time.Duration
	samplingTimeout time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	routes map[string]*Route
	slots  map[string]chan struct{}
	// eliciting maps a tool call ID to its outstanding elicitation ID
	eliciting map[string]string
}

// NewRouter creates a router over the given registries
func NewRouter(elicitations *pending.ElicitationRegistry, sampling *pending.SamplingRegistry, opts Options) *Router {
	if opts.ElicitationTimeout <= 0 {
		opts.ElicitationTimeout = config.DefaultElicitationTimeout
	}
	if opts.SamplingTimeout <= 0 {
		opts.SamplingTimeout = config.DefaultSamplingTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		elicitations:    elicitations,
		sampling:        sampling,
		sampler:         opts.Sampler,
		elicitTimeout:   opts.ElicitationTimeout,
		samplingTimeout: opts.SamplingTimeout,
		logger:          opts.Logger.With("component", "routing"),
		routes:          make(map[string]*Route),
		slots:           make(map[string]chan struct{}),
		eliciting:       make(map[string]string),
	}
}

func (r *Router) slot(server string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[server]
	if !ok {
		s = make(chan struct{}, 1)
		r.slots[server] = s
	}
	return s
}

// WithRouting runs fn with route installed for route.ServerName. The route is
// removed when fn returns or panics. If another call holds the server, WithRouting
// waits for it or for ctx.
func (r *Router) WithRouting(ctx context.Context, route Route, fn func(ctx context.Context) error) error {
	slot := r.slot(route.ServerName)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for server %s: %w", route.ServerName, ctx.Err())
	}

	installed := &route
	r.mu.Lock()
	r.routes[route.ServerName] = installed
	r.mu.Unlock()

	r.logger.Debug("Routing installed",
		"server", route.ServerName,
		"tool_call_id", route.Call.ID,
	)

	defer func() {
		r.mu.Lock()
		if r.routes[route.ServerName] == installed {
			delete(r.routes, route.ServerName)
		}
		r.mu.Unlock()
		<-slot

		r.logger.Debug("Routing removed",
			"server", route.ServerName,
			"tool_call_id", route.Call.ID,
		)
	}()

	return fn(ctx)
}

// ActiveRoute returns the route currently installed for server
func (r *Router) ActiveRoute(server string) (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.routes[server]
	if !ok {
		return Route{}, false
	}
	return *route, true
}

// ElicitationHandlerFor returns the handler the tool-invocation layer calls when
// server issues an elicitation request
func (r *Router) ElicitationHandlerFor(server string) ElicitationHandler {
	return func(ctx context.Context, req ElicitationRequest) pending.ElicitationOutcome {
		return r.elicit(ctx, server, req)
	}
}

func (r *Router) elicit(ctx context.Context, server string, req ElicitationRequest) pending.ElicitationOutcome {
	cancel := pending.ElicitationOutcome{Action: pending.ActionCancel}

	route, ok := r.ActiveRoute(server)
	if !ok || route.Reply == nil {
		r.logger.WarnContext(ctx, "Elicitation without routing context, cancelling",
			"server", server,
		)
		return cancel
	}

	id := uuid.NewString()
	if _, err := r.elicitations.Create(id, map[string]string{
		pending.MetaSessionID:  route.SessionID,
		pending.MetaToolCallID: route.Call.ID,
		pending.MetaToolName:   route.Call.Name,
		pending.MetaServerName: server,
	}); err != nil {
		r.logger.ErrorContext(ctx, "Failed to register elicitation", "error", err)
		return cancel
	}
	defer r.elicitations.Remove(id)

	r.mu.Lock()
	r.eliciting[route.Call.ID] = id
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.eliciting[route.Call.ID] == id {
			delete(r.eliciting, route.Call.ID)
		}
		r.mu.Unlock()
	}()

	event := types.ElicitationRequestEvent{
		Type:           types.EventElicitationRequest,
		ElicitationID:  id,
		ToolCallID:     route.Call.ID,
		ToolName:       route.Call.Name,
		Message:        req.Message,
		ResponseSchema: req.Schema,
	}
	if err := route.Reply.SendJSON(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to forward elicitation request",
			"elicitation_id", id,
			"error", err,
		)
		return cancel
	}

	outcome, err := r.elicitations.Await(ctx, id, r.elicitTimeout)
	if err != nil {
		r.logger.WarnContext(ctx, "Elicitation not answered",
			"elicitation_id", id,
			"tool_call_id", route.Call.ID,
			"error", err,
		)
		return cancel
	}

	return normalizeElicitation(outcome, req.Schema)
}

// normalizeElicitation maps a client answer onto the shape the tool asked for.
// Approval-only asks never receive a payload.
func normalizeElicitation(outcome pending.ElicitationOutcome, schema map[string]any) pending.ElicitationOutcome {
	switch outcome.Action {
	case pending.ActionAccept:
		if !hasProperties(schema) {
			return pending.ElicitationOutcome{Action: pending.ActionAccept, Data: map[string]any{}}
		}
		if outcome.Data == nil {
			return pending.ElicitationOutcome{Action: pending.ActionAccept, Data: map[string]any{}}
		}
		return outcome
	case pending.ActionDecline:
		return pending.ElicitationOutcome{Action: pending.ActionDecline}
	default:
		return pending.ElicitationOutcome{Action: pending.ActionCancel}
	}
}

func hasProperties(schema map[string]any) bool {
	if schema == nil {
		return false
	}
	props, ok := schema["properties"].(map[string]any)
	return ok && len(props) > 0
}

// ResolveElicitation delivers a client answer. elicitationID wins; when it is
// empty the answer goes to the elicitation outstanding for toolCallID.
func (r *Router) ResolveElicitation(elicitationID, toolCallID string, outcome pending.ElicitationOutcome) bool {
	if elicitationID == "" {
		r.mu.Lock()
		elicitationID = r.eliciting[toolCallID]
		r.mu.Unlock()
	}
	if elicitationID == "" {
		r.logger.Warn("Elicitation response matches no pending request",
			"tool_call_id", toolCallID,
		)
		return false
	}
	return r.elicitations.Resolve(elicitationID, outcome)
}

// SamplingHandlerFor returns the handler the tool-invocation layer calls when
// server issues a sampling request
func (r *Router) SamplingHandlerFor(server string) SamplingHandler {
	return func(ctx context.Context, req SamplingRequest) (*SamplingResult, error) {
		return r.sample(ctx, server, req)
	}
}

func (r *Router) sample(ctx context.Context, server string, req SamplingRequest) (*SamplingResult, error) {
	route, routed := r.ActiveRoute(server)
	if !routed || (r.sampler == nil && route.Reply == nil) {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, server)
	}

	id := uuid.NewString()
	if _, err := r.sampling.Create(id, map[string]string{
		pending.MetaSessionID:  route.SessionID,
		pending.MetaToolCallID: route.Call.ID,
		pending.MetaToolName:   route.Call.Name,
		pending.MetaServerName: server,
	}); err != nil {
		return nil, err
	}
	defer r.sampling.Remove(id)

	sampleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.sampler != nil {
		go r.sampleWithLLM(sampleCtx, id, req)
	} else {
		event := types.SamplingRequestEvent{
			Type:         types.EventSamplingRequest,
			SamplingID:   id,
			ToolCallID:   route.Call.ID,
			ToolName:     route.Call.Name,
			Messages:     req.Messages,
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
		}
		if err := route.Reply.SendJSON(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to forward sampling request: %w", err)
		}
	}

	outcome, err := r.sampling.Await(ctx, id, r.samplingTimeout)
	if err != nil {
		if errors.Is(err, pending.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrSamplingTimeout, id)
		}
		return nil, err
	}
	if outcome.Error != "" {
		return nil, &SamplingError{Message: outcome.Error}
	}

	r.logger.DebugContext(ctx, "Sampling request answered",
		"sampling_id", id,
		"server", server,
	)
	return &SamplingResult{Text: outcome.Text, Model: outcome.Model}, nil
}

func (r *Router) sampleWithLLM(ctx context.Context, id string, req SamplingRequest) {
	res, err := r.sampler.Sample(ctx, req)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		r.sampling.Resolve(id, pending.SamplingOutcome{Error: err.Error()})
		return
	}
	r.sampling.Resolve(id, pending.SamplingOutcome{Text: res.Text, Model: res.Model})
}

// ResolveSampling delivers a client answer to a sampling request
func (r *Router) ResolveSampling(samplingID string, outcome pending.SamplingOutcome) bool {
	return r.sampling.Resolve(samplingID, outcome)
}

// CancelSession releases every elicitation and sampling request owned by sessionID
func (r *Router) CancelSession(sessionID string) int {
	return r.elicitations.CancelMatching(pending.MetaSessionID, sessionID) +
		r.sampling.CancelMatching(pending.MetaSessionID, sessionID)
}

// CancelAll releases every outstanding elicitation and sampling request
func (r *Router) CancelAll() int {
	return r.elicitations.CancelAll() + r.sampling.CancelAll()
}

// Package mcpclient connects to the configured MCP servers and implements
// types.ToolManager over them. Tool names are namespaced "<server>_<tool>".
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/retry"
	"github.com/AltairaLabs/mcpchat/internal/routing"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

var (
	// ErrUnknownTool is returned when a tool name matches no connected server
	ErrUnknownTool = errors.New("unknown tool")
	// ErrUnknownServer is returned when a server is not connected
	ErrUnknownServer = errors.New("unknown MCP server")
)

const (
	connectConcurrency = 4
	progressMethod     = "notifications/progress"
)

// Options configures a Manager
type Options struct {
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	Retry          retry.Policy
	Logger         *slog.Logger
}

// serverConn is one connected MCP server and its tool list
type serverConn struct {
	name   string
	groups []string
	client *client.Client

	mu    sync.RWMutex
	tools map[string]mcp.Tool
	order []string
}

func (s *serverConn) setTools(tools []mcp.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = make(map[string]mcp.Tool, len(tools))
	s.order = s.order[:0]
	for _, t := range tools {
		s.tools[t.Name] = t
		s.order = append(s.order, t.Name)
	}
}

func (s *serverConn) tool(name string) (mcp.Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Manager owns the MCP client connections
type Manager struct {
	router *routing.Router
	opts   Options
	logger *slog.Logger

	// ctx bounds the lifetime of subprocesses and listeners
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	servers map[string]*serverConn

	progressMu sync.Mutex
	progress   map[string]types.ProgressFunc
}

var _ types.ToolManager = (*Manager)(nil)

// NewManager creates a manager. Sampling and elicitation requests from the
// servers are delivered to router.
func NewManager(router *routing.Router, opts Options) *Manager {
	if opts.ClientName == "" {
		opts.ClientName = "mcpchat"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "0.1.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = config.DefaultMCPConnectTimeout
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = retry.NetworkErrorPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		router:   router,
		opts:     opts,
		logger:   opts.Logger.With("component", "mcpclient"),
		ctx:      ctx,
		cancel:   cancel,
		servers:  make(map[string]*serverConn),
		progress: make(map[string]types.ProgressFunc),
	}
}

// Connect connects to every server concurrently. A server that cannot be
// reached is skipped; the returned error joins the individual failures.
func (m *Manager) Connect(ctx context.Context, servers []config.ServerConfig) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(connectConcurrency)
	for _, cfg := range servers {
		g.Go(func() error {
			_, err := retry.Do(ctx, m.opts.Retry, m.logger, "mcp.connect."+cfg.Name,
				func(ctx context.Context) (struct{}, error) {
					return struct{}{}, m.connectOne(ctx, cfg)
				})
			if err != nil {
				m.logger.ErrorContext(ctx, "Failed to connect MCP server",
					"server", cfg.Name,
					"error", err,
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", cfg.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m *Manager) connectOne(ctx context.Context, cfg config.ServerConfig) error {
	var (
		t   transport.Interface
		err error
	)
	switch {
	case cfg.Command != "":
		t = transport.NewStdio(cfg.Command, cfg.EnvList(), cfg.Args...)
	case cfg.URL != "":
		t, err = transport.NewStreamableHTTP(cfg.URL,
			transport.WithHTTPHeaders(cfg.Headers),
			transport.WithContinuousListening(),
		)
		if err != nil {
			return fmt.Errorf("failed to create HTTP transport: %w", err)
		}
	default:
		return fmt.Errorf("server %s has neither command nor url", cfg.Name)
	}

	c := client.NewClient(t,
		client.WithSamplingHandler(samplingAdapter{handle: m.router.SamplingHandlerFor(cfg.Name)}),
		client.WithElicitationHandler(elicitationAdapter{handle: m.router.ElicitationHandlerFor(cfg.Name)}),
	)
	return m.attach(ctx, cfg.Name, cfg.Groups, c)
}

// AddInProcess connects a server hosted in this process
func (m *Manager) AddInProcess(ctx context.Context, name string, groups []string, srv *server.MCPServer) error {
	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return fmt.Errorf("failed to create in-process client for %s: %w", name, err)
	}
	return m.attach(ctx, name, groups, c)
}

func (m *Manager) attach(ctx context.Context, name string, groups []string, c *client.Client) error {
	if err := c.Start(m.ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    m.opts.ClientName,
		Version: m.opts.ClientVersion,
	}
	info, err := c.Initialize(initCtx, req)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize failed: %w", err)
	}

	conn := &serverConn{name: name, groups: groups, client: c}
	listed, err := c.ListTools(initCtx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("list tools failed: %w", err)
	}
	conn.setTools(listed.Tools)

	c.OnNotification(func(n mcp.JSONRPCNotification) {
		m.handleNotification(name, n)
	})

	m.mu.Lock()
	if old, ok := m.servers[name]; ok {
		_ = old.client.Close()
	}
	m.servers[name] = conn
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "MCP server connected",
		"server", name,
		"server_name", info.ServerInfo.Name,
		"server_version", info.ServerInfo.Version,
		"tools", len(listed.Tools),
	)
	return nil
}

// ServerNames returns the connected server names, sorted
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) server(name string) (*serverConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[name]
	return s, ok
}

// resolve splits a namespaced tool name into its server and bare tool
func (m *Manager) resolve(name string) (*serverConn, mcp.Tool, error) {
	serverName, toolName, ok := types.SplitToolName(name, m.ServerNames())
	if !ok {
		return nil, mcp.Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	s, ok := m.server(serverName)
	if !ok {
		return nil, mcp.Tool{}, fmt.Errorf("%w: %s", ErrUnknownServer, serverName)
	}
	tool, ok := s.tool(toolName)
	if !ok {
		return nil, mcp.Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return s, tool, nil
}

// GetToolsSchema returns the schemas of the named tools. Unknown names are skipped.
func (m *Manager) GetToolsSchema(ctx context.Context, toolNames []string) ([]types.ToolSchema, error) {
	out := make([]types.ToolSchema, 0, len(toolNames))
	for _, name := range toolNames {
		s, tool, err := m.resolve(name)
		if err != nil {
			m.logger.DebugContext(ctx, "Skipping unknown tool", "tool_name", name)
			continue
		}
		out = append(out, schemaOf(s.name, tool))
	}
	return out, nil
}

// ExecuteTool calls the tool on its server. Progress notifications for the
// call are decoded and handed to execCtx.Progress.
func (m *Manager) ExecuteTool(ctx context.Context, call types.ToolCall, execCtx types.ToolExecutionContext) (*types.ToolResult, error) {
	s, tool, err := m.resolve(call.Name)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool.Name
	req.Params.Arguments = call.Arguments
	if execCtx.Progress != nil {
		token := uuid.NewString()
		m.trackProgress(token, execCtx.Progress)
		defer m.untrackProgress(token)
		req.Params.Meta = &mcp.Meta{ProgressToken: mcp.ProgressToken(token)}
	}

	start := time.Now()
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", call.Name, err)
	}

	out := resultOf(res)
	out.ToolCallID = call.ID
	m.logger.DebugContext(ctx, "Tool call returned",
		"session_id", execCtx.SessionID,
		"tool_call_id", call.ID,
		"tool_name", call.Name,
		"is_error", out.IsError,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// GetAuthorizedServers returns the connected servers userEmail may use. A
// server with no groups is open; otherwise the user must belong to one of
// them. Check errors deny.
func (m *Manager) GetAuthorizedServers(ctx context.Context, userEmail string, check types.GroupCheckFunc) ([]string, error) {
	var out []string
	for _, name := range m.ServerNames() {
		s, ok := m.server(name)
		if !ok {
			continue
		}
		member, err := types.MemberOfAny(ctx, check, userEmail, s.groups)
		if err != nil {
			m.logger.WarnContext(ctx, "Group check failed", "server", name, "error", err)
		}
		if member {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *Manager) trackProgress(token string, fn types.ProgressFunc) {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	m.progress[token] = fn
}

func (m *Manager) untrackProgress(token string) {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	delete(m.progress, token)
}

func (m *Manager) handleNotification(serverName string, n mcp.JSONRPCNotification) {
	if n.Method != progressMethod {
		return
	}
	token, progress, total, message, ok := parseProgress(n.Params.AdditionalFields)
	if !ok {
		return
	}

	m.progressMu.Lock()
	fn := m.progress[token]
	m.progressMu.Unlock()
	if fn == nil {
		m.logger.Debug("Progress for unknown token", "server", serverName, "token", token)
		return
	}
	fn(types.DecodeProgress(progress, total, message))
}

// Close disconnects every server
func (m *Manager) Close() error {
	m.mu.Lock()
	servers := m.servers
	m.servers = make(map[string]*serverConn)
	m.mu.Unlock()

	var errs []error
	for name, s := range servers {
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	m.cancel()
	return errors.Join(errs...)
}

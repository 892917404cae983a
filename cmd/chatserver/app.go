package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/agent"
	"github.com/AltairaLabs/mcpchat/internal/arguments"
	"github.com/AltairaLabs/mcpchat/internal/audit"
	"github.com/AltairaLabs/mcpchat/internal/authz"
	"github.com/AltairaLabs/mcpchat/internal/authz/groupsvc"
	"github.com/AltairaLabs/mcpchat/internal/builtin"
	"github.com/AltairaLabs/mcpchat/internal/executor"
	"github.com/AltairaLabs/mcpchat/internal/llm"
	"github.com/AltairaLabs/mcpchat/internal/mcpclient"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/pending"
	"github.com/AltairaLabs/mcpchat/internal/routing"
	"github.com/AltairaLabs/mcpchat/internal/storage"
	"github.com/AltairaLabs/mcpchat/internal/storage/memory"
	mongostore "github.com/AltairaLabs/mcpchat/internal/storage/mongo"
	"github.com/AltairaLabs/mcpchat/internal/storage/postgres"
	"github.com/AltairaLabs/mcpchat/internal/transport"
)

// app holds the wired components of the chat server
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store        storage.SessionStore
	groups       authz.GroupChecker
	groupsClient *groupsvc.Client
	authz        *authz.Service
	tools        *mcpclient.Manager
	orch         *orchestrator.Orchestrator
	conns        *transport.ConnectionManager
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, conns: transport.NewConnectionManager()}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store

	model, err := llm.New(cfg.LLM, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if err := a.openGroups(); err != nil {
		a.close(ctx)
		return nil, err
	}

	auditLogger := audit.NewLogger(logger)
	approvals := pending.NewApprovalRegistry(logger)
	sampling := pending.NewSamplingRegistry(logger)
	elicitations := pending.NewElicitationRegistry(logger)

	routerOpts := routing.Options{
		ElicitationTimeout: cfg.Timeouts.Elicitation,
		SamplingTimeout:    cfg.Timeouts.Sampling,
		Logger:             logger,
	}
	if cfg.Sampling.Mode == config.SamplingModeLLM {
		samplingModel := cfg.Sampling.Model
		if samplingModel == "" {
			samplingModel = cfg.LLM.Model
		}
		routerOpts.Sampler = &routing.LLMSampler{LLM: model, Model: samplingModel, Temperature: cfg.LLM.Temperature}
	}
	router := routing.NewRouter(elicitations, sampling, routerOpts)

	a.tools = mcpclient.NewManager(router, mcpclient.Options{
		ClientName:    cfg.Name,
		ClientVersion: cfg.Version,
		Logger:        logger,
	})
	canvas := builtin.NewCanvasServer(cfg.Version, logger)
	if err := a.tools.AddInProcess(ctx, config.CanvasServerName, nil, canvas.MCPServer()); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to start canvas server: %w", err)
	}
	if err := a.tools.Connect(ctx, cfg.EnabledServers()); err != nil {
		logger.WarnContext(ctx, "Some MCP servers are unavailable", "error", err)
	}

	a.authz = authz.NewService(a.tools, a.groups, authz.Options{
		CacheTTL: cfg.Groups.CacheTTL,
		Audit:    auditLogger,
		Logger:   logger,
	})

	pipeline := arguments.NewPipeline(newSigner(cfg.Files, logger), cfg.Files.URLTTL, logger)
	exec := executor.New(a.tools, pipeline, approvals, router, executor.Options{
		Policy:          executor.PolicyFromConfig(&cfg),
		ApprovalTimeout: cfg.Timeouts.Approval,
		CallTimeout:     cfg.Timeouts.ToolCall,
		Servers:         a.tools.ServerNames,
		Audit:           auditLogger,
		Logger:          logger,
	})

	loop, err := agent.NewLoop(model, exec, a.authz, agent.Options{
		InputTimeout: cfg.Agent.InputTimeout,
		Logger:       logger,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.orch, err = orchestrator.New(orchestrator.Deps{
		LLM:          model,
		Tools:        a.tools,
		Store:        a.store,
		Authz:        a.authz,
		Executor:     exec,
		Agent:        loop,
		Router:       router,
		Approvals:    approvals,
		Sampling:     sampling,
		Elicitations: elicitations,
		Logger:       logger,
	}, orchestrator.Options{
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		AgentMaxSteps: cfg.Agent.MaxSteps,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	logger.InfoContext(ctx, "Chat server initialized",
		"llm_provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"storage", cfg.Storage.Backend,
		"groups", cfg.Groups.Backend,
		"sampling_mode", cfg.Sampling.Mode,
		"mcp_servers", a.tools.ServerNames(),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.SessionStore, error) {
	switch cfg.Backend {
	case config.StoragePostgres:
		return postgres.NewSessionStore(ctx, cfg.URL)
	case config.StorageMongo:
		return mongostore.NewSessionStore(ctx, cfg.URL, cfg.Database)
	case config.StorageMemory, "":
		return memory.NewInMemorySessionStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}

func (a *app) openGroups() error {
	switch a.cfg.Groups.Backend {
	case config.GroupsGRPC:
		client, err := groupsvc.Dial(a.cfg.Groups.Address)
		if err != nil {
			return err
		}
		a.groupsClient = client
		a.groups = client
	default:
		a.groups = authz.StaticGroups(a.cfg.Groups.Static)
	}
	return nil
}

// newSigner returns nil when no signing secret is configured; file names are
// then passed to tools unresolved
func newSigner(cfg config.FilesConfig, logger *slog.Logger) arguments.URLSigner {
	secret := os.Getenv(cfg.SigningSecretEnv)
	if secret == "" {
		logger.Warn("No file signing secret configured, download URLs disabled", "env", cfg.SigningSecretEnv)
		return nil
	}
	return arguments.NewHMACSigner(cfg.BaseURL, []byte(secret))
}

// cleanupStale expires sessions idle for longer than maxAge that have no live connection
func (a *app) cleanupStale(ctx context.Context, maxAge time.Duration) int {
	stale, err := a.store.ListStaleSessions(ctx, time.Now().Add(-maxAge))
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to list stale sessions", "error", err)
		return 0
	}
	expired := 0
	for _, id := range stale {
		if _, live := a.conns.Get(id); live {
			continue
		}
		if err := a.orch.ExpireSession(ctx, id); err != nil {
			a.logger.WarnContext(ctx, "Failed to expire session", "session_id", id, "error", err)
			continue
		}
		expired++
	}
	return expired
}

func (a *app) runCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := a.cleanupStale(ctx, maxAge); n > 0 {
				a.logger.Info("Cleaned up stale sessions", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// close releases every component; it is safe on a partially built app
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Shutdown(ctx))
	}
	a.conns.CloseAll()
	if a.tools != nil {
		errs = append(errs, a.tools.Close())
	}
	if a.authz != nil {
		a.authz.Close()
	}
	if a.groupsClient != nil {
		errs = append(errs, a.groupsClient.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Errors during shutdown", "error", err)
	}
}

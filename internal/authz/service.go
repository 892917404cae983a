// Package authz filters tool names down to the servers a user may reach.
// Every failure to establish membership denies access.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/audit"
	"github.com/AltairaLabs/mcpchat/internal/cache"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// Options configures a Service
type Options struct {
	// CacheTTL bounds how long a definitive membership answer is reused; zero disables caching
	CacheTTL time.Duration
	Audit    *audit.Logger
	Logger   *slog.Logger
}

// Service is the tool authorization filter
type Service struct {
	servers ServerSource
	checker GroupChecker
	cache   *cache.TTLCache[string, bool]
	audit   *audit.Logger
	logger  *slog.Logger
}

// NewService creates an authorization service. A nil checker denies every
// server that requires a group.
func NewService(servers ServerSource, checker GroupChecker, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogger(opts.Logger)
	}
	s := &Service{
		servers: servers,
		checker: checker,
		audit:   opts.Audit,
		logger:  opts.Logger.With("component", "authz"),
	}
	if opts.CacheTTL > 0 {
		s.cache = cache.New[string, bool](opts.CacheTTL)
	}
	return s
}

// Close stops the membership cache
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Filter returns the subset of selected tool names whose server user may reach,
// preserving order. Denied tools are dropped silently.
func (s *Service) Filter(ctx context.Context, selected []string, user string) []string {
	known := s.servers.ServerNames()

	var authorized map[string]bool
	denied := make(map[string]bool)
	allowed := make([]string, 0, len(selected))
	for _, name := range selected {
		if name == config.CanvasToolName {
			allowed = append(allowed, name)
			continue
		}

		server, _, ok := types.SplitToolName(name, known)
		if !ok {
			s.logger.DebugContext(ctx, "Tool references unknown server", "tool_name", name)
			continue
		}

		if authorized == nil {
			authorized = make(map[string]bool)
			for _, srv := range s.AuthorizedServers(ctx, user) {
				authorized[srv] = true
			}
		}
		if authorized[server] {
			allowed = append(allowed, name)
			continue
		}
		if !denied[server] {
			denied[server] = true
			s.audit.LogAuthorization(ctx, user, server, false, nil)
		}
	}
	return allowed
}

// AuthorizedServers returns every known server user may reach. A failed
// lookup yields no servers.
func (s *Service) AuthorizedServers(ctx context.Context, user string) []string {
	servers, err := s.servers.GetAuthorizedServers(ctx, user, s.GroupCheck())
	if err != nil {
		s.audit.LogAuthorization(ctx, user, "", false, err)
		return nil
	}
	return servers
}

// isMember consults the cache, then the checker. Errors and panics are
// returned as errors and never cached.
func (s *Service) isMember(ctx context.Context, user, group string) (member bool, err error) {
	key := user + "\x00" + group
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}

	defer func() {
		if r := recover(); r != nil {
			member, err = false, fmt.Errorf("group check panicked: %v", r)
		}
	}()

	member, err = s.checker.IsMember(ctx, user, group)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		s.cache.Set(key, member)
	}
	return member, nil
}

// GroupCheck exposes the fail-closed membership predicate in the shape the
// tool-invocation layer expects
func (s *Service) GroupCheck() types.GroupCheckFunc {
	return func(ctx context.Context, user, group string) (bool, error) {
		if s.checker == nil {
			return false, nil
		}
		return s.isMember(ctx, user, group)
	}
}

package authz

import (
	"context"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

// ServerSource lists the known servers and resolves the ones a user may
// reach. The tool manager implements it from each server's configured groups.
type ServerSource interface {
	ServerNames() []string
	GetAuthorizedServers(ctx context.Context, userEmail string, check types.GroupCheckFunc) ([]string, error)
}

// GroupChecker reports whether a user belongs to a group
type GroupChecker interface {
	IsMember(ctx context.Context, user, group string) (bool, error)
}

// GroupCheckerFunc adapts a function to GroupChecker
type GroupCheckerFunc func(ctx context.Context, user, group string) (bool, error)

// IsMember implements GroupChecker
func (f GroupCheckerFunc) IsMember(ctx context.Context, user, group string) (bool, error) {
	return f(ctx, user, group)
}

// StaticGroups is a GroupChecker backed by a fixed user → groups map
type StaticGroups map[string][]string

// IsMember implements GroupChecker
func (g StaticGroups) IsMember(_ context.Context, user, group string) (bool, error) {
	for _, member := range g[user] {
		if member == group {
			return true, nil
		}
	}
	return false, nil
}

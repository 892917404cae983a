package authz

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// serverGroups is a ServerSource backed by a fixed server → groups map
type serverGroups map[string][]string

func (g serverGroups) ServerNames() []string {
	out := make([]string, 0, len(g))
	for name := range g {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (g serverGroups) GetAuthorizedServers(ctx context.Context, user string, check types.GroupCheckFunc) ([]string, error) {
	var out []string
	for _, name := range g.ServerNames() {
		if ok, _ := types.MemberOfAny(ctx, check, user, g[name]); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

type failingSource struct{ serverGroups }

func (failingSource) GetAuthorizedServers(context.Context, string, types.GroupCheckFunc) ([]string, error) {
	return nil, errors.New("registry unavailable")
}

var testACL = serverGroups{
	"public": nil,
	"admin":  {"admin"},
}

var selected = []string{"public_x", "admin_y"}

func TestFilterWithoutGroup(t *testing.T) {
	t.Parallel()
	s := NewService(testACL, StaticGroups{"bob": {"staff"}}, Options{})
	defer s.Close()

	assert.Equal(t, []string{"public_x"}, s.Filter(context.Background(), selected, "bob"))
}

func TestFilterWithGroup(t *testing.T) {
	t.Parallel()
	s := NewService(testACL, StaticGroups{"alice": {"admin"}}, Options{})
	defer s.Close()

	assert.Equal(t, []string{"public_x", "admin_y"}, s.Filter(context.Background(), selected, "alice"))
}

func TestFilterFailsClosedOnError(t *testing.T) {
	t.Parallel()
	checker := GroupCheckerFunc(func(context.Context, string, string) (bool, error) {
		return false, errors.New("directory unavailable")
	})
	s := NewService(testACL, checker, Options{})
	defer s.Close()

	assert.Equal(t, []string{"public_x"}, s.Filter(context.Background(), selected, "alice"))
}

func TestFilterFailsClosedOnPanic(t *testing.T) {
	t.Parallel()
	checker := GroupCheckerFunc(func(context.Context, string, string) (bool, error) {
		panic("nil map")
	})
	s := NewService(testACL, checker, Options{})
	defer s.Close()

	assert.Equal(t, []string{"public_x"}, s.Filter(context.Background(), selected, "alice"))
}

func TestFilterFailsClosedWithoutChecker(t *testing.T) {
	t.Parallel()
	s := NewService(testACL, nil, Options{})
	defer s.Close()

	assert.Equal(t, []string{"public_x"}, s.Filter(context.Background(), selected, "alice"))
}

func TestFilterCanvasAlwaysAllowed(t *testing.T) {
	t.Parallel()
	s := NewService(serverGroups{}, nil, Options{})
	defer s.Close()

	got := s.Filter(context.Background(), []string{config.CanvasToolName, "ghost_tool"}, "")
	assert.Equal(t, []string{config.CanvasToolName}, got)
}

func TestFilterLongestServerPrefix(t *testing.T) {
	t.Parallel()
	acl := serverGroups{
		"data":      nil,
		"data_lake": {"analysts"},
	}
	s := NewService(acl, StaticGroups{}, Options{})
	defer s.Close()

	got := s.Filter(context.Background(), []string{"data_query", "data_lake_scan"}, "bob")
	assert.Equal(t, []string{"data_query"}, got)
}

func TestAuthorizedServers(t *testing.T) {
	t.Parallel()
	s := NewService(testACL, StaticGroups{"alice": {"admin"}}, Options{})
	defer s.Close()

	assert.Equal(t, []string{"admin", "public"}, s.AuthorizedServers(context.Background(), "alice"))
	assert.Equal(t, []string{"public"}, s.AuthorizedServers(context.Background(), "bob"))
}

func TestMembershipCache(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var fail atomic.Bool
	checker := GroupCheckerFunc(func(context.Context, string, string) (bool, error) {
		calls.Add(1)
		if fail.Load() {
			return false, errors.New("down")
		}
		return true, nil
	})
	s := NewService(testACL, checker, Options{CacheTTL: time.Minute})
	defer s.Close()

	ctx := context.Background()
	admin := []string{"admin_y"}
	assert.Equal(t, admin, s.Filter(ctx, admin, "alice"))
	assert.Equal(t, admin, s.Filter(ctx, admin, "alice"))
	assert.Equal(t, int32(1), calls.Load(), "definitive answer should be cached")

	fail.Store(true)
	assert.Empty(t, s.Filter(ctx, admin, "carol"))
	assert.Empty(t, s.Filter(ctx, admin, "carol"))
	assert.Equal(t, int32(3), calls.Load(), "errors must not be cached")
}

func TestMembershipCacheIsCaseSensitive(t *testing.T) {
	t.Parallel()
	acl := serverGroups{
		"ops":     {"Admin"},
		"secrets": {"admin"},
	}
	s := NewService(acl, StaticGroups{"alice": {"Admin"}}, Options{CacheTTL: time.Minute})
	defer s.Close()

	ctx := context.Background()
	assert.Empty(t, s.Filter(ctx, []string{"secrets_read"}, "alice"))
	assert.Equal(t, []string{"ops_x"}, s.Filter(ctx, []string{"ops_x"}, "alice"))
	assert.Empty(t, s.Filter(ctx, []string{"secrets_read"}, "alice"),
		"a cached answer for Admin must not grant a server requiring admin")
}

func TestFilterFailsClosedWhenServerLookupFails(t *testing.T) {
	t.Parallel()
	s := NewService(failingSource{testACL}, StaticGroups{"alice": {"admin"}}, Options{})
	defer s.Close()

	got := s.Filter(context.Background(), []string{"public_x", "admin_y", config.CanvasToolName}, "alice")
	assert.Equal(t, []string{config.CanvasToolName}, got)
}

func TestGroupCheck(t *testing.T) {
	t.Parallel()
	s := NewService(testACL, StaticGroups{"alice": {"admin"}}, Options{})
	defer s.Close()

	ok, err := s.GroupCheck()(context.Background(), "alice", "admin")
	assert.NoError(t, err)
	assert.True(t, ok)

	denied := NewService(testACL, nil, Options{})
	ok, err = denied.GroupCheck()(context.Background(), "alice", "admin")
	assert.NoError(t, err)
	assert.False(t, ok)
}

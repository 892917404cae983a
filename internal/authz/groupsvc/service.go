// Package groupsvc exposes group membership checks over gRPC. Messages are
// google.protobuf.Struct values so no generated code is needed.
package groupsvc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/mcpchat/internal/authz"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "mcpchat.groups.v1.GroupService"

const checkMembershipMethod = "/" + ServiceName + "/CheckMembership"

// Request and response field names
const (
	fieldUser   = "user"
	fieldGroup  = "group"
	fieldMember = "member"
)

type membershipServer interface {
	CheckMembership(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*membershipServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckMembership",
			Handler:    checkMembershipHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mcpchat/groups/v1/groups.proto",
}

func checkMembershipHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(membershipServer).CheckMembership(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: checkMembershipMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(membershipServer).CheckMembership(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server answers membership checks from a GroupChecker
type Server struct {
	checker authz.GroupChecker
	logger  *slog.Logger
}

// NewServer creates a membership server
func NewServer(checker authz.GroupChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		checker: checker,
		logger:  logger.With("component", "groupsvc"),
	}
}

// Register attaches the service to a gRPC server
func Register(s *grpc.Server, srv *Server) {
	s.RegisterService(&serviceDesc, srv)
}

// CheckMembership handles one membership query
func (s *Server) CheckMembership(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user := req.GetFields()[fieldUser].GetStringValue()
	group := req.GetFields()[fieldGroup].GetStringValue()
	if user == "" || group == "" {
		return nil, status.Error(codes.InvalidArgument, "user and group are required")
	}

	member, err := s.checker.IsMember(ctx, user, group)
	if err != nil {
		s.logger.WarnContext(ctx, "Membership check failed",
			"user", user,
			"group", group,
			"error", err,
		)
		return nil, status.Errorf(codes.Unavailable, "membership check failed: %v", err)
	}

	return structpb.NewStruct(map[string]any{fieldMember: member})
}

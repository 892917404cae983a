package groupsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultCallTimeout bounds a single membership call
const DefaultCallTimeout = 5 * time.Second

// ErrMalformedResponse is returned when the server answer carries no boolean member field
var ErrMalformedResponse = errors.New("malformed membership response")

// Client is an authz.GroupChecker backed by a remote GroupService
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
}

// NewClient wraps an existing connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, timeout: DefaultCallTimeout}
}

// Dial connects to a GroupService at target. Without options the connection is plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create group service client: %w", err)
	}
	c := NewClient(conn)
	c.closer = conn.Close
	return c, nil
}

// IsMember implements authz.GroupChecker
func (c *Client) IsMember(ctx context.Context, user, group string) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{
		fieldUser:  user,
		fieldGroup: group,
	})
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, checkMembershipMethod, req, out); err != nil {
		return false, fmt.Errorf("membership check for %s/%s: %w", user, group, err)
	}

	v, ok := out.GetFields()[fieldMember]
	if !ok {
		return false, ErrMalformedResponse
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, ErrMalformedResponse
	}
	return b.BoolValue, nil
}

// Close releases the connection if the client created it
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

const getActorMethod = "/directory.v1.DirectoryService/GetActor"

// DirectoryGRPCClient resolves actors against the directory gRPC service.
// Messages are google.protobuf.Struct on both sides:
//
//	request:  {"identity": "<id>"}
//	response: {"display_name", "company", "is_designated_approver",
//	           "is_compliance_final_approver"}
type DirectoryGRPCClient struct {
	conn *grpc.ClientConn
}

// NewDirectoryGRPCClient dials the directory gRPC service and returns a client.
func NewDirectoryGRPCClient(addr string) (*DirectoryGRPCClient, error) {
	conn, err := dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory gRPC connection: %w", err)
	}
	return &DirectoryGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *DirectoryGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetActor returns the capabilities of identity. An unknown identity is
// ErrCodeUnauthorized: the caller cannot act as someone the directory
// does not know.
func (c *DirectoryGRPCClient) GetActor(ctx context.Context, identity string) (workflow.Actor, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"identity": identity})
	if err != nil {
		return workflow.Actor{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to build directory request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, getActorMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			return workflow.Actor{}, errors.New(errors.ErrCodeUnauthorized, fmt.Sprintf("unknown actor %q", identity))
		case codes.Unavailable, codes.DeadlineExceeded:
			return workflow.Actor{}, errors.Wrap(err, errors.ErrCodeUnavailable, "actor directory unavailable")
		default:
			return workflow.Actor{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve actor")
		}
	}

	return actorFromStruct(identity, resp), nil
}

func actorFromStruct(identity string, s *structpb.Struct) workflow.Actor {
	f := s.GetFields()
	return workflow.Actor{
		Identity:                  identity,
		DisplayName:               f["display_name"].GetStringValue(),
		Company:                   f["company"].GetStringValue(),
		IsDesignatedApprover:      f["is_designated_approver"].GetBoolValue(),
		IsComplianceFinalApprover: f["is_compliance_final_approver"].GetBoolValue(),
	}
}

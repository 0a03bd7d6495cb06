package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-ar-carf/internal/client"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/service"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// ActorMetadataKey carries the caller identity on gRPC requests.
const ActorMetadataKey = "x-actor-id"

// GRPCHandler serves carf.v1.ApprovalService. Requests and responses are
// google.protobuf.Struct:
//
//	request:  {"row_ref", "expected_version", "remarks"}
//	response: the same JSON shape the HTTP transport returns
type GRPCHandler struct {
	approvals ApprovalActions
	requests  RequestQueries
	directory client.DirectoryClientInterface
	log       *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals ApprovalActions, requests RequestQueries, directory client.DirectoryClientInterface, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		requests:  requests,
		directory: directory,
		log:       log.Component("grpc"),
	}
}

// Register attaches the service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&approvalServiceDesc, h)
}

// approvalServer is the handler type the service descriptor dispatches to.
type approvalServer interface {
	Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Return(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ReturnToMaker(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetTimeline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var approvalServiceDesc = grpc.ServiceDesc{
	ServiceName: "carf.v1.ApprovalService",
	HandlerType: (*approvalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Approve", Handler: unary("Approve", approvalServer.Approve)},
		{MethodName: "Cancel", Handler: unary("Cancel", approvalServer.Cancel)},
		{MethodName: "Return", Handler: unary("Return", approvalServer.Return)},
		{MethodName: "ReturnToMaker", Handler: unary("ReturnToMaker", approvalServer.ReturnToMaker)},
		{MethodName: "GetTimeline", Handler: unary("GetTimeline", approvalServer.GetTimeline)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "carf/v1/approval.proto",
}

type unaryMethod func(approvalServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/carf.v1.ApprovalService/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(approvalServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(approvalServer), ctx, req.(*structpb.Struct))
		})
	}
}

// Approve records the caller's approval.
func (h *GRPCHandler) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.action(ctx, "Approve", in, func(ctx context.Context, id int64, actor workflow.Actor, f map[string]*structpb.Value) (*service.ActionResult, error) {
		return h.approvals.Approve(ctx, id, actor, expectedVersion(f))
	})
}

// Cancel cancels a pending request.
func (h *GRPCHandler) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.action(ctx, "Cancel", in, func(ctx context.Context, id int64, actor workflow.Actor, f map[string]*structpb.Value) (*service.ActionResult, error) {
		return h.approvals.Cancel(ctx, id, actor, expectedVersion(f))
	})
}

// Return sends a request back to its maker.
func (h *GRPCHandler) Return(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.action(ctx, "Return", in, func(ctx context.Context, id int64, actor workflow.Actor, f map[string]*structpb.Value) (*service.ActionResult, error) {
		return h.approvals.Return(ctx, id, actor, f["remarks"].GetStringValue(), expectedVersion(f))
	})
}

// ReturnToMaker sends a request back to its maker for final approval.
func (h *GRPCHandler) ReturnToMaker(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.action(ctx, "ReturnToMaker", in, func(ctx context.Context, id int64, actor workflow.Actor, f map[string]*structpb.Value) (*service.ActionResult, error) {
		return h.approvals.ReturnToMaker(ctx, id, actor, f["remarks"].GetStringValue(), expectedVersion(f))
	})
}

// GetTimeline returns the display timeline of a request.
func (h *GRPCHandler) GetTimeline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := rowRefOf(in)
	if err != nil {
		return nil, h.toStatus("GetTimeline", err)
	}
	tl, err := h.requests.Timeline(ctx, id)
	if err != nil {
		return nil, h.toStatus("GetTimeline", err)
	}
	out, err := toStruct(tl)
	if err != nil {
		return nil, h.toStatus("GetTimeline", err)
	}
	return out, nil
}

type grpcActionFunc func(ctx context.Context, id int64, actor workflow.Actor, f map[string]*structpb.Value) (*service.ActionResult, error)

func (h *GRPCHandler) action(ctx context.Context, method string, in *structpb.Struct, fn grpcActionFunc) (*structpb.Struct, error) {
	id, err := rowRefOf(in)
	if err != nil {
		return nil, h.toStatus(method, err)
	}
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, h.toStatus(method, err)
	}

	h.log.Info().
		Str("method", method).
		Int64("row_ref", id).
		Str("actor", actor.Identity).
		Msg("gRPC action called")

	res, err := fn(ctx, id, actor, in.GetFields())
	if err != nil {
		return nil, h.toStatus(method, err)
	}
	out, err := toStruct(toActionView(res))
	if err != nil {
		return nil, h.toStatus(method, err)
	}
	return out, nil
}

func (h *GRPCHandler) actor(ctx context.Context) (workflow.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(ActorMetadataKey)
	if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return workflow.Actor{}, errors.New(errors.ErrCodeUnauthorized, "missing "+ActorMetadataKey+" metadata")
	}
	return h.directory.GetActor(ctx, strings.TrimSpace(vals[0]))
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	code := errors.GRPCCode(err)
	ev := h.log.Warn()
	if code == codes.Internal || code == codes.Unavailable {
		ev = h.log.Error()
	}
	ev.Err(err).Str("method", method).Str("code", code.String()).Msg("gRPC call failed")

	msg := err.Error()
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		msg = appErr.Message
	}
	return status.Error(code, msg)
}

func rowRefOf(in *structpb.Struct) (int64, error) {
	id := int64(in.GetFields()["row_ref"].GetNumberValue())
	if id <= 0 {
		return 0, errors.InvalidInput("row_ref", "must be a positive integer")
	}
	return id, nil
}

func expectedVersion(f map[string]*structpb.Value) int64 {
	return int64(f["expected_version"].GetNumberValue())
}

// toStruct renders v through its JSON tags so both transports share one shape.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response")
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response")
	}
	return s, nil
}

package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

func newTestGRPCHandler() (*GRPCHandler, *fakeApprovals) {
	approvals := &fakeApprovals{}
	dir := &fakeDirectory{actors: map[string]workflow.Actor{"A": {Identity: "A", IsDesignatedApprover: true}}}
	return NewGRPCHandler(approvals, &fakeQueries{}, dir, logger.Nop()), approvals
}

func withActor(identity string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(ActorMetadataKey, identity))
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPC_Return(t *testing.T) {
	h, approvals := newTestGRPCHandler()

	out, err := h.Return(withActor("A"), mustStruct(t, map[string]interface{}{
		"row_ref":          7,
		"expected_version": 2,
		"remarks":          "missing TIN",
	}))
	require.NoError(t, err)

	require.Len(t, approvals.calls, 1)
	assert.Equal(t, call{"return", 7, "A", "missing TIN", 2}, approvals.calls[0])

	req := out.GetFields()["request"].GetStructValue().GetFields()
	assert.Equal(t, float64(7), req["id"].GetNumberValue())
	assert.Equal(t, "PENDING", req["approve_status"].GetStringValue())
}

func TestGRPC_ErrorsCarryCodes(t *testing.T) {
	h, approvals := newTestGRPCHandler()

	_, err := h.Approve(context.Background(), mustStruct(t, map[string]interface{}{"row_ref": 7}))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.Approve(withActor("A"), mustStruct(t, map[string]interface{}{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	approvals.err = errors.New(errors.ErrCodeStaleState, "stale state, retry")
	_, err = h.Cancel(withActor("A"), mustStruct(t, map[string]interface{}{"row_ref": 7}))
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Equal(t, "stale state, retry", status.Convert(err).Message())
}

func TestGRPC_GetTimeline(t *testing.T) {
	h, _ := newTestGRPCHandler()

	out, err := h.GetTimeline(context.Background(), mustStruct(t, map[string]interface{}{"row_ref": 7}))
	require.NoError(t, err)
	assert.Len(t, out.GetFields()["steps"].GetListValue().GetValues(), 4)
}

func TestGRPC_ServiceDescMatchesHandler(t *testing.T) {
	h, _ := newTestGRPCHandler()
	var _ approvalServer = h
	assert.Len(t, approvalServiceDesc.Methods, 5)
}

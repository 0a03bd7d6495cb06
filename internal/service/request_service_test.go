package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

func TestCreateRequest(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	res, err := h.reqs.CreateRequest(ctx, workflow.Actor{Identity: "M"}, validInput())
	require.NoError(t, err)

	stored := h.requests.get(res.Request.ID)
	assert.Equal(t, workflow.StatusPending, stored.Status)
	assert.Equal(t, "M", stored.Maker)
	assert.Equal(t, workflow.ApproverSet{"A"}, stored.NextApprover)
	assert.True(t, decimal.RequireFromString("250000.50").Equal(stored.Customer.CreditLimit))
	assert.Equal(t, workflow.ApproverSet{"A"}, h.messenger.recipients(EventApprovalRequired))
	assert.Equal(t, []string{"submitted"}, h.audit.actions())
}

func TestCreateRequest_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(in *CreateRequestInput)
		code  errors.Code
		field string
	}{
		{"missing attachments", func(in *CreateRequestInput) { in.HasRequiredAttachments = false }, errors.ErrCodeInvalidInput, "attachments"},
		{"missing TIN", func(in *CreateRequestInput) { in.TIN = "" }, errors.ErrCodeInvalidInput, "tin"},
		{"missing billing address", func(in *CreateRequestInput) { in.BillingAddress = "" }, errors.ErrCodeInvalidInput, "billing_address"},
		{"long sales org", func(in *CreateRequestInput) { in.SalesOrg = "12345678901234567" }, errors.ErrCodeInvalidInput, "sales_org"},
		{"bad email", func(in *CreateRequestInput) { in.Email = "not-an-email" }, errors.ErrCodeInvalidInput, "email"},
		{"bad credit limit", func(in *CreateRequestInput) { in.CreditLimit = "lots" }, errors.ErrCodeInvalidInput, "credit_limit"},
		{"negative credit limit", func(in *CreateRequestInput) { in.CreditLimit = "-1" }, errors.ErrCodeInvalidInput, "credit_limit"},
		{"no matrix", func(in *CreateRequestInput) { in.Company = "GLOBEX" }, errors.ErrCodeConfiguration, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			in := validInput()
			tt.edit(in)

			_, err := h.reqs.CreateRequest(context.Background(), workflow.Actor{Identity: "M"}, in)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
			if tt.field != "" {
				var appErr *errors.AppError
				require.True(t, stderrors.As(err, &appErr))
				assert.Equal(t, tt.field, appErr.Field)
			}
			assert.Equal(t, 0, h.messenger.count())
		})
	}
}

func TestTimelineAndInbox(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()

	tl, err := h.reqs.Timeline(ctx, id)
	require.NoError(t, err)
	require.Len(t, tl.Steps, 4)
	assert.Equal(t, workflow.StepDone, tl.Steps[0].State)
	assert.Equal(t, workflow.StepActive, tl.Steps[1].State)

	inbox, err := h.reqs.Inbox(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, id, inbox[0].ID)

	inbox, err = h.reqs.Inbox(ctx, "B", 10)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	_, err = h.approvals.Approve(ctx, id, designated("A"), 0)
	require.NoError(t, err)
	inbox, err = h.reqs.Inbox(ctx, "B", 10)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	mine, err := h.reqs.MyRequests(ctx, "M", 10)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestHistoryAndSubmissions_UnknownRequest(t *testing.T) {
	h := newHarness()

	_, err := h.reqs.History(context.Background(), 404)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	_, err = h.reqs.Submissions(context.Background(), 404)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

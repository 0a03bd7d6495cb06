package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

func TestApprove_FullChainTier3BeforeTier2(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()

	res, err := h.approvals.Approve(ctx, id, designated("A"), 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, res.Request.Status)
	assert.Equal(t, workflow.ApproverSet{"B", "C"}, res.Request.NextApprover)
	assert.Equal(t, workflow.ApproverSet{"B", "C"}, h.messenger.recipients(EventApprovalRequired))
	assert.False(t, res.Submitted)
	h.messenger.reset()

	res, err = h.approvals.Approve(ctx, id, designated("C"), 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, res.Request.Status)
	assert.Equal(t, workflow.ApproverSet{"B"}, res.Request.FinalApprover)
	assert.Equal(t, workflow.ApproverSet{"B"}, h.messenger.recipients(EventApprovalRequired))
	h.messenger.reset()

	res, err = h.approvals.Approve(ctx, id, designated("B"), 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, res.Request.Status)
	assert.True(t, res.Transition.BecameFinal)
	assert.False(t, res.PartialSuccess)
	assert.True(t, res.Submitted)
	assert.Equal(t, "CUST-00001", res.DownstreamRef)

	assert.Equal(t, 1, h.masterData.calls())
	assert.Equal(t, []string{"carf-1"}, h.masterData.keys)
	assert.Equal(t, workflow.ApproverSet{"M"}, h.messenger.recipients(EventApproved))
	assert.Equal(t, workflow.ApproverSet{"ceo", "group-cfo"}, h.messenger.recipients(EventCustomerActivated))

	stored := h.requests.get(id)
	assert.Equal(t, workflow.StatusApproved, stored.Status)
	assert.Equal(t, int64(4), stored.Version)
	for _, tier := range workflow.Tiers {
		assert.True(t, stored.Stamp(tier).Stamped(), "tier %s", tier)
	}
	assert.Equal(t, []string{"submitted", "approved", "approved", "approved"}, h.audit.actions())

	subs, err := h.ledger.ListByRequestID(ctx, id)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, repository.SubmissionSucceeded, subs[0].Status)
}

func TestApprove_Tier2BeforeTier3(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()

	_, err := h.approvals.Approve(ctx, id, designated("A"), 0)
	require.NoError(t, err)
	res, err := h.approvals.Approve(ctx, id, designated("B"), 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, res.Request.Status)
	assert.Equal(t, workflow.ApproverSet{"C"}, res.Request.FinalApprover)
	assert.Equal(t, 0, h.masterData.calls())

	res, err = h.approvals.Approve(ctx, id, designated("C"), 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, res.Request.Status)
	assert.Equal(t, 1, h.masterData.calls())

	_, err = h.approvals.Approve(ctx, id, designated("C"), 0)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Equal(t, 1, h.masterData.calls())
}

func TestApprove_UnlistedActorNeverMutates(t *testing.T) {
	for _, compliance := range []bool{false, true} {
		t.Run(fmt.Sprintf("compliance=%v", compliance), func(t *testing.T) {
			h := newHarness()
			id := h.seed()
			actor := designated("D")
			actor.IsComplianceFinalApprover = compliance

			_, err := h.approvals.Approve(context.Background(), id, actor, 0)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

			stored := h.requests.get(id)
			assert.Equal(t, workflow.StatusPending, stored.Status)
			assert.Equal(t, int64(1), stored.Version)
			assert.Equal(t, 0, h.requests.patches)
			assert.Equal(t, 0, h.messenger.count())
		})
	}
}

func TestApprove_ComplianceShortCircuitSubmitsOnce(t *testing.T) {
	h := newHarness()
	id := h.seed()
	actor := designated("A")
	actor.IsComplianceFinalApprover = true

	res, err := h.approvals.Approve(context.Background(), id, actor, 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, res.Request.Status)
	assert.Equal(t, workflow.Tier1, res.Transition.StampedTier)
	assert.False(t, res.Request.Stamp(workflow.Tier2).Stamped())
	assert.False(t, res.Request.Stamp(workflow.Tier3).Stamped())
	assert.Equal(t, 1, h.masterData.calls())
}

func TestReturn_NotifiesMakerWithRemarks(t *testing.T) {
	h := newHarness()
	id := h.seed()

	res, err := h.approvals.Return(context.Background(), id, designated("A"), "missing TIN", 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusReturnToMaker, res.Request.Status)

	stored := h.requests.get(id)
	assert.Equal(t, "missing TIN", stored.Remarks)
	for _, tier := range workflow.Tiers {
		assert.False(t, stored.Stamp(tier).Stamped())
	}

	require.Equal(t, 1, h.messenger.count())
	msg := h.messenger.sent[0]
	assert.Equal(t, "M", msg.Recipient)
	assert.Equal(t, EventReturned, msg.Notification.EventType)
	assert.Equal(t, "missing TIN", msg.Notification.Remarks)
	assert.True(t, msg.Notification.ReturnFlag)
	assert.False(t, msg.Notification.ForFinalApproval)
}

func TestReturnToMaker_MarksForFinalApproval(t *testing.T) {
	h := newHarness()
	id := h.seed()

	_, err := h.approvals.ReturnToMaker(context.Background(), id, designated("A"), "wrong address", 0)
	require.NoError(t, err)
	require.Equal(t, 1, h.messenger.count())
	assert.Equal(t, EventReturnedToMaker, h.messenger.sent[0].Notification.EventType)
	assert.True(t, h.messenger.sent[0].Notification.ForFinalApproval)
}

func TestReturn_RequiresRemarks(t *testing.T) {
	h := newHarness()
	id := h.seed()

	_, err := h.approvals.Return(context.Background(), id, designated("A"), "   ", 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	assert.Equal(t, 0, h.requests.patches)
}

func TestCancel_ThenApproveIsRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()

	res, err := h.approvals.Cancel(ctx, id, workflow.Actor{Identity: "M"}, 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, res.Request.Status)
	assert.Equal(t, workflow.ApproverSet{"M"}, h.messenger.recipients(EventCancelled))

	_, err = h.approvals.Approve(ctx, id, designated("A"), 0)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestDownstreamFailure_IsPartialSuccess(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()
	h.masterData.err = fmt.Errorf("connection reset by peer")

	_, err := h.approvals.Approve(ctx, id, designated("A"), 0)
	require.NoError(t, err)
	_, err = h.approvals.Approve(ctx, id, designated("B"), 0)
	require.NoError(t, err)
	res, err := h.approvals.Approve(ctx, id, designated("C"), 0)
	require.NoError(t, err)

	assert.True(t, res.PartialSuccess)
	assert.Contains(t, res.Warnings, WarnSubmitManually)
	assert.False(t, res.Submitted)
	assert.Equal(t, workflow.StatusApproved, h.requests.get(id).Status)
	assert.Empty(t, h.messenger.recipients(EventCustomerActivated))

	subs, err := h.ledger.ListByRequestID(ctx, id)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, repository.SubmissionFailed, subs[0].Status)

	// Manual resubmission once the downstream recovers.
	h.masterData.err = nil
	res, err = h.approvals.ResubmitDownstream(ctx, id, designated("B"))
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.Equal(t, workflow.ApproverSet{"ceo", "group-cfo"}, h.messenger.recipients(EventCustomerActivated))
	assert.Equal(t, 1, h.masterData.calls())

	_, err = h.approvals.ResubmitDownstream(ctx, id, designated("B"))
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Equal(t, 1, h.masterData.calls())
}

func TestResubmitDownstream_RequiresApproved(t *testing.T) {
	h := newHarness()
	id := h.seed()

	_, err := h.approvals.ResubmitDownstream(context.Background(), id, designated("A"))
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Equal(t, 0, h.masterData.calls())
}

// approveFailingDownstream walks id to APPROVED with the downstream down.
func approveFailingDownstream(t *testing.T, h *harness, id int64) {
	t.Helper()
	ctx := context.Background()
	h.masterData.err = fmt.Errorf("connection reset by peer")
	for _, who := range []string{"A", "B", "C"} {
		_, err := h.approvals.Approve(ctx, id, designated(who), 0)
		require.NoError(t, err)
	}
	h.masterData.err = nil
}

func TestResubmitDownstream_RefusedWhileAttemptPending(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()
	approveFailingDownstream(t, h, id)

	// Another caller has claimed the request and not yet finished.
	require.NoError(t, h.ledger.Begin(ctx, &repository.Submission{RequestID: id, AttemptedBy: "A"}))

	_, err := h.approvals.ResubmitDownstream(ctx, id, designated("B"))
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Equal(t, 0, h.masterData.calls())
}

func TestResubmitDownstream_ConcurrentCallsSubmitOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()
	approveFailingDownstream(t, h, id)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		submitted int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.approvals.ResubmitDownstream(ctx, id, designated("B"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				submitted++
			} else if errors.CodeOf(err) == errors.ErrCodeConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, submitted)
	assert.Equal(t, 7, conflicts)
	assert.Equal(t, 1, h.masterData.calls())
}

func TestMissingClassificationCodes_BlocksSubmission(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()
	delete(h.codes.codes, "REGULAR")

	_, err := h.approvals.Approve(ctx, id, designated("A"), 0)
	require.NoError(t, err)
	_, err = h.approvals.Approve(ctx, id, designated("B"), 0)
	require.NoError(t, err)
	res, err := h.approvals.Approve(ctx, id, designated("C"), 0)
	require.NoError(t, err)

	assert.True(t, res.PartialSuccess)
	assert.Equal(t, workflow.StatusApproved, h.requests.get(id).Status)
	assert.Equal(t, 0, h.masterData.calls())
	subs, _ := h.ledger.ListByRequestID(ctx, id)
	assert.Empty(t, subs)
}

func TestMissingMatrix_IsConfigurationError(t *testing.T) {
	h := newHarness()
	id := h.seed()
	delete(h.matrix.entries, "REGULAR/ACME")

	_, err := h.approvals.Approve(context.Background(), id, designated("A"), 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfiguration, errors.CodeOf(err))
	assert.Equal(t, 0, h.requests.patches)
	assert.Equal(t, 0, h.messenger.count())
}

func TestStaleVersion_IsRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.seed()

	_, err := h.approvals.Approve(ctx, id, designated("A"), 1)
	require.NoError(t, err)

	// A second actor still holding version 1 loses the race.
	_, err = h.approvals.Cancel(ctx, id, workflow.Actor{Identity: "M"}, 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStaleState, errors.CodeOf(err))
	assert.Equal(t, workflow.StatusPending, h.requests.get(id).Status)
}

func TestNotificationFailure_DoesNotRollBack(t *testing.T) {
	h := newHarness()
	id := h.seed()
	h.messenger.failFor["B"] = true

	res, err := h.approvals.Approve(context.Background(), id, designated("A"), 0)
	require.NoError(t, err)
	assert.True(t, res.PartialSuccess)
	assert.Contains(t, res.Warnings, WarnNotification)
	assert.Equal(t, []string{"B"}, res.Notified.Failed)
	assert.Equal(t, 1, res.Notified.Delivered)

	stored := h.requests.get(id)
	assert.True(t, stored.Stamp(workflow.Tier1).Stamped())
}

func TestAuditFailure_IsNotFatal(t *testing.T) {
	h := newHarness()
	id := h.seed()
	h.audit.failing = true

	res, err := h.approvals.Approve(context.Background(), id, designated("A"), 0)
	require.NoError(t, err)
	assert.False(t, res.PartialSuccess)
	assert.True(t, h.requests.get(id).Stamp(workflow.Tier1).Stamped())
}

package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

func TestPatchFromTransition(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	approve := workflow.Transition{
		Action:       workflow.ActionApprove,
		Status:       workflow.StatusPending,
		NextApprover: workflow.ApproverSet{"B", "C"},
		StampedTier:  workflow.Tier1,
		Stamp:        workflow.TierStamp{Approver: "A", ApprovedAt: &now},
		Remarks:      "ignored",
	}

	patch := PatchFromTransition(approve)
	assert.Equal(t, workflow.StatusPending, patch.Status)
	assert.Equal(t, workflow.ApproverSet{"B", "C"}, patch.NextApprover)
	assert.Equal(t, workflow.Tier1, patch.StampedTier)
	assert.Equal(t, "A", patch.Stamp.Approver)
	assert.Nil(t, patch.Remarks, "approvals leave remarks untouched")

	ret := workflow.Transition{Action: workflow.ActionReturn, Status: workflow.StatusReturnToMaker, Remarks: "missing TIN"}
	patch = PatchFromTransition(ret)
	require.NotNil(t, patch.Remarks)
	assert.Equal(t, "missing TIN", *patch.Remarks)
	assert.Equal(t, workflow.TierNone, patch.StampedTier)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "carf-42", IdempotencyKey(42))
	assert.NotEqual(t, IdempotencyKey(1), IdempotencyKey(11))
}

func TestToTextArray(t *testing.T) {
	assert.Equal(t, []string{}, toTextArray(nil))
	assert.Equal(t, []string{"A", "B"}, toTextArray(workflow.ApproverSet{"A", "B"}))
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistoryValidate(t *testing.T) {
	base := ApprovalHistory{
		StepOrder:  1,
		Role:       RoleApprove,
		Action:     HistoryActionApprove,
		ApprovedAt: time.Now(),
	}
	assert.NoError(t, base.Validate())

	unknown := base
	unknown.Action = "escalate"
	assert.Error(t, unknown.Validate())

	rejectNoComment := base
	rejectNoComment.Action = HistoryActionReject
	assert.Error(t, rejectNoComment.Validate())

	rejectBlankComment := rejectNoComment
	rejectBlankComment.Comment = "   "
	assert.Error(t, rejectBlankComment.Validate())

	rejectWithComment := rejectNoComment
	rejectWithComment.Comment = "missing receipts"
	assert.NoError(t, rejectWithComment.Validate())

	futureStamp := base
	futureStamp.ApprovedAt = time.Now().Add(time.Hour)
	assert.Error(t, futureStamp.Validate())

	zeroStep := base
	zeroStep.StepOrder = 0
	assert.Error(t, zeroStep.Validate())

	reset := base
	reset.Action = HistoryActionReset
	reset.StepOrder = 0
	assert.NoError(t, reset.Validate())
}

func TestHistoryEffective(t *testing.T) {
	assert.True(t, (&ApprovalHistory{Action: HistoryActionApprove}).Effective())
	assert.True(t, (&ApprovalHistory{Action: HistoryActionReject}).Effective())
	assert.False(t, (&ApprovalHistory{Action: HistoryActionView}).Effective())
	assert.False(t, (&ApprovalHistory{Action: HistoryActionCancel}).Effective())
	assert.False(t, (&ApprovalHistory{Action: HistoryActionReset}).Effective())
}

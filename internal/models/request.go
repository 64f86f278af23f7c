package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Request statuses. Transitions are one-directional: pending may move
// to approved, rejected or cancelled, and all three are terminal.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Target type tags. The set is closed; resolution happens through the
// services.TargetRegistry, never through reflection.
const (
	TargetExpenseItem  = "expense_item"
	TargetExpenseSheet = "expense_sheet"
	TargetRequestForm  = "request_form"
)

// Fixed display strings for terminal states.
const (
	DisplayCompleted = "Completed"
	DisplayRejected  = "Rejected"
	DisplayCancelled = "Cancelled"
	DisplayWaiting   = "Waiting"
)

// ApprovalRequest is the live workflow instance for one target object.
// It owns the frozen step set and the append-only history, and carries
// the current_step cursor the engine advances.
//
// CurrentRound implements the re-approval boundary: history rows carry
// the round they were recorded in, and only rows from the current round
// count toward duplicate checks and step completion.
type ApprovalRequest struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TargetType       string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_request_target" json:"targetType"`
	TargetID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_request_target" json:"targetId"`
	ApprovalLineID   *uuid.UUID `gorm:"type:uuid;index" json:"approvalLineId,omitempty"`
	ApprovalLineName string     `gorm:"type:varchar(100)" json:"approvalLineName,omitempty"`
	CurrentStep      int        `gorm:"not null;default:1" json:"currentStep"`
	Status           string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CurrentRound     int        `gorm:"not null;default:0" json:"currentRound"`

	// Denormalized copy of the cloned steps, kept for durability even
	// if the originating line is later deleted.
	StepsSnapshot datatypes.JSON `gorm:"type:jsonb" json:"stepsSnapshot,omitempty"`

	ReapprovalStartedAt *time.Time `json:"reapprovalStartedAt,omitempty"`
	CancelledAt         *time.Time `json:"cancelledAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`

	Steps     []ApprovalRequestStep `gorm:"foreignKey:ApprovalRequestID" json:"steps,omitempty"`
	Histories []ApprovalHistory     `gorm:"foreignKey:ApprovalRequestID" json:"histories,omitempty"`
}

// TableName returns the table name for ApprovalRequest
func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

// IsTerminal returns true if the status is a terminal state
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status == StatusApproved ||
		r.Status == StatusRejected ||
		r.Status == StatusCancelled
}

// Completed reports whether the request reached a decided terminal
// state (cancellation does not count as completion).
func (r *ApprovalRequest) Completed() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// MaxStep returns the highest step order among loaded steps.
func (r *ApprovalRequest) MaxStep() int {
	max := 0
	for _, s := range r.Steps {
		if s.StepOrder > max {
			max = s.StepOrder
		}
	}
	if max == 0 {
		return 1
	}
	return max
}

// StepsAt returns the loaded steps at the given order.
func (r *ApprovalRequest) StepsAt(order int) []ApprovalRequestStep {
	var out []ApprovalRequestStep
	for _, s := range r.Steps {
		if s.StepOrder == order {
			out = append(out, s)
		}
	}
	return out
}

// ApproversAt returns the approve-role steps at the given order.
func (r *ApprovalRequest) ApproversAt(order int) []ApprovalRequestStep {
	var out []ApprovalRequestStep
	for _, s := range r.StepsAt(order) {
		if s.Role == RoleApprove {
			out = append(out, s)
		}
	}
	return out
}

// ReferrersAt returns the reference-role steps at the given order.
func (r *ApprovalRequest) ReferrersAt(order int) []ApprovalRequestStep {
	var out []ApprovalRequestStep
	for _, s := range r.StepsAt(order) {
		if s.Role == RoleReference {
			out = append(out, s)
		}
	}
	return out
}

// CurrentStepApprovalType returns the approval policy governing the
// current step, or nil when the step has at most one approver.
func (r *ApprovalRequest) CurrentStepApprovalType() *string {
	approvers := r.ApproversAt(r.CurrentStep)
	if len(approvers) <= 1 {
		return nil
	}
	return approvers[0].ApprovalType
}

// EffectiveHistories returns history rows recorded in the current
// round. Rows from before a re-approval boundary are excluded.
func (r *ApprovalRequest) EffectiveHistories() []ApprovalHistory {
	var out []ApprovalHistory
	for _, h := range r.Histories {
		if h.Round == r.CurrentRound {
			out = append(out, h)
		}
	}
	return out
}

// effectiveApprovalsAt counts current-round approve entries for a step.
func (r *ApprovalRequest) effectiveApprovalsAt(order int) int {
	n := 0
	for _, h := range r.EffectiveHistories() {
		if h.StepOrder == order && h.Action == HistoryActionApprove {
			n++
		}
	}
	return n
}

// CanProceedToNextStep evaluates the current step's completion policy
// against loaded histories: all_required needs one approve entry per
// approve entrant, any other policy (including single-approver steps)
// needs exactly one.
func (r *ApprovalRequest) CanProceedToNextStep() bool {
	if r.Status != StatusPending {
		return false
	}
	approvals := r.effectiveApprovalsAt(r.CurrentStep)
	if t := r.CurrentStepApprovalType(); t != nil && *t == ApprovalTypeAllRequired {
		return approvals == len(r.ApproversAt(r.CurrentStep))
	}
	return approvals >= 1
}

// HasBeenProcessedBy reports whether the user already recorded a
// current-round effective (approve/reject) entry for the current step.
func (r *ApprovalRequest) HasBeenProcessedBy(userID uuid.UUID) bool {
	for _, h := range r.EffectiveHistories() {
		if h.ApproverID != userID || h.StepOrder != r.CurrentStep {
			continue
		}
		if h.Action == HistoryActionApprove || h.Action == HistoryActionReject {
			return true
		}
	}
	return false
}

// CanBeApprovedBy gates the approve/reject operations: the request must
// be pending, the user an approve-role entrant of the current step, and
// not already processed within the current round. Step N+1 approvers can
// never pass this check before step N completes.
func (r *ApprovalRequest) CanBeApprovedBy(userID uuid.UUID) bool {
	if r.Status != StatusPending {
		return false
	}
	for _, s := range r.ApproversAt(r.CurrentStep) {
		if s.ApproverID == userID {
			return !r.HasBeenProcessedBy(userID)
		}
	}
	return false
}

// CanBeViewedBy reports whether the user is a reference-role entrant of
// the current step. Viewing is permitted regardless of status.
func (r *ApprovalRequest) CanBeViewedBy(userID uuid.UUID) bool {
	for _, s := range r.ReferrersAt(r.CurrentStep) {
		if s.ApproverID == userID {
			return true
		}
	}
	return false
}

// HasViewedBy reports whether the user already has a view entry.
func (r *ApprovalRequest) HasViewedBy(userID uuid.UUID) bool {
	for _, h := range r.Histories {
		if h.ApproverID == userID && h.Action == HistoryActionView {
			return true
		}
	}
	return false
}

// PendingApprovers returns the approve-role entrants of the current
// step while the request is pending.
func (r *ApprovalRequest) PendingApprovers() []ApprovalRequestStep {
	if r.Status != StatusPending {
		return nil
	}
	return r.ApproversAt(r.CurrentStep)
}

// CurrentApproverNames is the read-only projection shown in listings.
// Terminal states render fixed strings instead of approver names.
func (r *ApprovalRequest) CurrentApproverNames() string {
	switch r.Status {
	case StatusApproved:
		return DisplayCompleted
	case StatusRejected:
		return DisplayRejected
	case StatusCancelled:
		return DisplayCancelled
	}
	approvers := r.ApproversAt(r.CurrentStep)
	if len(approvers) == 0 {
		return DisplayWaiting
	}
	names := make([]string, 0, len(approvers))
	for _, s := range approvers {
		names = append(names, s.ApproverName)
	}
	return strings.Join(names, ", ")
}

// ProgressPercentage reports how far the cursor has advanced.
func (r *ApprovalRequest) ProgressPercentage() int {
	if r.Completed() {
		return 100
	}
	max := r.MaxStep()
	return (r.CurrentStep - 1) * 100 / max
}

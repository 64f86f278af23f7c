package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// History actions
const (
	HistoryActionApprove = "approve"
	HistoryActionReject  = "reject"
	HistoryActionView    = "view"
	HistoryActionCancel  = "cancel"
	HistoryActionReset   = "reset"
)

// ApprovalHistory is the append-only audit trail of a request. Rows are
// never updated or deleted while the request lives; the whole trail is
// destroyed only together with the target object.
//
// Round mirrors ApprovalRequest.CurrentRound at recording time. The
// partial unique index on (request, approver, step_order, round) for
// approve/reject rows is the data-layer backstop that closes the
// duplicate-action race; it is created by raw SQL in cmd/main.go since
// GORM tags cannot express partial indexes.
type ApprovalHistory struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ApprovalRequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"approvalRequestId"`
	ApproverID        uuid.UUID `gorm:"type:uuid;not null;index" json:"approverId"`
	ApproverName      string    `gorm:"type:varchar(100);not null" json:"approverName"`
	StepOrder         int       `gorm:"not null" json:"stepOrder"`
	Role              string    `gorm:"type:varchar(20);not null" json:"role"`
	Action            string    `gorm:"type:varchar(20);not null" json:"action"`
	Comment           string    `gorm:"type:text" json:"comment,omitempty"`
	Round             int       `gorm:"not null;default:0" json:"round"`
	ApprovedAt        time.Time `gorm:"not null" json:"approvedAt"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for ApprovalHistory
func (ApprovalHistory) TableName() string {
	return "approval_histories"
}

// Effective reports whether the row counts toward duplicate checks and
// step completion: only approve/reject actions gate processing.
func (h *ApprovalHistory) Effective() bool {
	return h.Action == HistoryActionApprove || h.Action == HistoryActionReject
}

// Validate enforces the invariants that must hold before a row is
// inserted: a positive step order (zero is reserved for reset entries),
// a known action, a mandatory comment on rejections and a non-future
// timestamp.
func (h *ApprovalHistory) Validate() error {
	switch h.Action {
	case HistoryActionApprove, HistoryActionReject, HistoryActionView,
		HistoryActionCancel, HistoryActionReset:
	default:
		return fmt.Errorf("unknown history action %q", h.Action)
	}
	if h.StepOrder < 0 {
		return fmt.Errorf("step order must not be negative")
	}
	if h.StepOrder == 0 && h.Action != HistoryActionReset {
		return fmt.Errorf("step order is required for action %q", h.Action)
	}
	if h.Action == HistoryActionReject && strings.TrimSpace(h.Comment) == "" {
		return fmt.Errorf("a comment is required when rejecting")
	}
	if h.ApprovedAt.After(time.Now().Add(time.Minute)) {
		return fmt.Errorf("approved_at must not be in the future")
	}
	return nil
}

// Summary renders a single-line description for audit displays.
func (h *ApprovalHistory) Summary() string {
	return fmt.Sprintf("%s %sd at %s", h.ApproverName, h.Action, h.ApprovedAt.Format("2006-01-02 15:04"))
}

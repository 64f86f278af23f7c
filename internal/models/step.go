package models

import (
	"time"

	"github.com/google/uuid"
)

// Per-step statuses
const (
	StepStatusPending   = "pending"
	StepStatusApproved  = "approved"
	StepStatusRejected  = "rejected"
	StepStatusCancelled = "cancelled"
)

// ApprovalRequestStep is the frozen, per-request copy of one line step.
// Rows are created once at request creation and never restructured;
// only status/comment/actioned_at change as approvers act.
type ApprovalRequestStep struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ApprovalRequestID uuid.UUID  `gorm:"type:uuid;not null;index" json:"approvalRequestId"`
	ApproverID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"approverId"`
	ApproverName      string     `gorm:"type:varchar(100);not null" json:"approverName"`
	StepOrder         int        `gorm:"not null" json:"stepOrder"`
	Role              string     `gorm:"type:varchar(20);not null" json:"role"`
	ApprovalType      *string    `gorm:"type:varchar(20)" json:"approvalType,omitempty"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Comment           string     `gorm:"type:text" json:"comment,omitempty"`
	ActionedAt        *time.Time `json:"actionedAt,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for ApprovalRequestStep
func (ApprovalRequestStep) TableName() string {
	return "approval_request_steps"
}

// Actioned reports whether the step has left the pending state.
func (s *ApprovalRequestStep) Actioned() bool {
	return s.Status != StepStatusPending
}

// StepSnapshot is one element of the denormalized step snapshot stored
// on the request. Consumers reading historical requests after the
// originating line was deleted must rely on this, not on live line data.
type StepSnapshot struct {
	ApproverID   uuid.UUID `json:"approver_id"`
	ApproverName string    `json:"approver_name"`
	StepOrder    int       `json:"step_order"`
	Role         string    `json:"role"`
	ApprovalType *string   `json:"approval_type,omitempty"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Step roles
const (
	RoleApprove   = "approve"
	RoleReference = "reference"
)

// Approval types as authored on a line. SingleAllowed is translated to
// AnyOne when a line is cloned into a live request.
const (
	ApprovalTypeAllRequired   = "all_required"
	ApprovalTypeSingleAllowed = "single_allowed"
	ApprovalTypeAnyOne        = "any_one"
)

// ApprovalLine is a reusable, user-authored template of ordered
// approval steps. Live requests clone its steps; later edits to the
// line never affect requests already in flight.
type ApprovalLine struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"userId"`
	Name      string         `gorm:"type:varchar(100);not null" json:"name"`
	IsActive  bool           `gorm:"default:true" json:"isActive"`
	Position  int            `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Steps []ApprovalLineStep `gorm:"foreignKey:ApprovalLineID" json:"steps,omitempty"`
}

// TableName returns the table name for ApprovalLine
func (ApprovalLine) TableName() string {
	return "approval_lines"
}

// TotalSteps returns the highest step order among loaded steps.
func (l *ApprovalLine) TotalSteps() int {
	max := 0
	for _, s := range l.Steps {
		if s.StepOrder > max {
			max = s.StepOrder
		}
	}
	return max
}

// StepsForOrder returns the loaded steps at the given order.
func (l *ApprovalLine) StepsForOrder(order int) []ApprovalLineStep {
	var out []ApprovalLineStep
	for _, s := range l.Steps {
		if s.StepOrder == order {
			out = append(out, s)
		}
	}
	return out
}

// HasApprover reports whether the user holds an approve-role entry
// anywhere on the line.
func (l *ApprovalLine) HasApprover(userID uuid.UUID) bool {
	for _, s := range l.Steps {
		if s.Role == RoleApprove && s.ApproverID == userID {
			return true
		}
	}
	return false
}

// ApproverIDs returns the distinct approve-role user ids on the line.
func (l *ApprovalLine) ApproverIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, s := range l.Steps {
		if s.Role != RoleApprove {
			continue
		}
		if _, ok := seen[s.ApproverID]; ok {
			continue
		}
		seen[s.ApproverID] = struct{}{}
		ids = append(ids, s.ApproverID)
	}
	return ids
}

// ApprovalLineStep is one (approver, step, role) assignment on a line.
// ApprovalType is only meaningful for approve-role entries and only
// required when the step has more than one of them.
type ApprovalLineStep struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ApprovalLineID uuid.UUID `gorm:"type:uuid;not null;index" json:"approvalLineId"`
	ApproverID     uuid.UUID `gorm:"type:uuid;not null" json:"approverId"`
	StepOrder      int       `gorm:"not null" json:"stepOrder"`
	Role           string    `gorm:"type:varchar(20);not null" json:"role"`
	ApprovalType   *string   `gorm:"type:varchar(20)" json:"approvalType,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Approver *User `gorm:"foreignKey:ApproverID" json:"approver,omitempty"`
}

// TableName returns the table name for ApprovalLineStep
func (ApprovalLineStep) TableName() string {
	return "approval_line_steps"
}

// RequestApprovalType maps the line vocabulary to the request-step
// vocabulary: single_allowed becomes any_one, all_required is kept.
func (s *ApprovalLineStep) RequestApprovalType() *string {
	if s.ApprovalType == nil {
		return nil
	}
	t := *s.ApprovalType
	if t == ApprovalTypeSingleAllowed {
		t = ApprovalTypeAnyOne
	}
	return &t
}

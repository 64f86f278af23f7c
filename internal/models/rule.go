package models

import (
	"time"

	"github.com/google/uuid"
)

// Rule owner kinds. One table serves every rule set in the system so
// the authority comparison lives in exactly one place.
const (
	RuleOwnerExpenseCode     = "expense_code"
	RuleOwnerOrganization    = "organization"
	RuleOwnerRequestTemplate = "request_template"
)

// ApprovalRule is one (condition, approver group) pair in an ordered
// rule set attached to an expense code, an organization or a request
// template. A blank condition always applies. An optional submitter
// group scopes the rule to submissions from that group's members.
type ApprovalRule struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OwnerType        string     `gorm:"type:varchar(50);not null;index:idx_rule_owner" json:"ownerType"`
	OwnerID          uuid.UUID  `gorm:"type:uuid;not null;index:idx_rule_owner" json:"ownerId"`
	Condition        string     `gorm:"type:text" json:"condition,omitempty"`
	ApproverGroupID  uuid.UUID  `gorm:"type:uuid;not null" json:"approverGroupId"`
	SubmitterGroupID *uuid.UUID `gorm:"type:uuid" json:"submitterGroupId,omitempty"`
	Order            int        `gorm:"column:rule_order;not null;default:1" json:"order"`
	IsActive         bool       `gorm:"default:true" json:"isActive"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`

	ApproverGroup  *ApproverGroup `gorm:"foreignKey:ApproverGroupID" json:"approverGroup,omitempty"`
	SubmitterGroup *ApproverGroup `gorm:"foreignKey:SubmitterGroupID" json:"submitterGroup,omitempty"`
}

// TableName returns the table name for ApprovalRule
func (ApprovalRule) TableName() string {
	return "approval_rules"
}

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Approver group priority bounds. Higher number = greater authority.
const (
	GroupPriorityMin = 1
	GroupPriorityMax = 10
)

// ApproverGroup is a named, priority-ranked set of users used by
// approval rules to express "who must approve". Priority carries the
// business meaning of authority and is immutable once assigned.
type ApproverGroup struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name        string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Priority    int       `gorm:"not null" json:"priority"`
	IsActive    bool      `gorm:"default:true" json:"isActive"`
	CreatedByID uuid.UUID `gorm:"type:uuid;not null" json:"createdById"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Members []ApproverGroupMember `gorm:"foreignKey:ApproverGroupID" json:"members,omitempty"`
}

// TableName returns the table name for ApproverGroup
func (ApproverGroup) TableName() string {
	return "approver_groups"
}

// NameWithPriority renders the group for selection lists.
func (g *ApproverGroup) NameWithPriority() string {
	return fmt.Sprintf("%s (priority %d)", g.Name, g.Priority)
}

// HasMember reports whether the user appears in the loaded member set.
func (g *ApproverGroup) HasMember(userID uuid.UUID) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// ApproverGroupMember links a user into a group with an audit pair
// recording who added them and when. A user may belong to many groups;
// their effective authority is the max priority over active groups.
type ApproverGroupMember struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ApproverGroupID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_group_member" json:"approverGroupId"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_group_member" json:"userId"`
	AddedByID       uuid.UUID `gorm:"type:uuid;not null" json:"addedById"`
	AddedAt         time.Time `gorm:"not null" json:"addedAt"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName returns the table name for ApproverGroupMember
func (ApproverGroupMember) TableName() string {
	return "approver_group_members"
}

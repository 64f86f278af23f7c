package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"expense-approval/internal/models"
)

// --- Approver Group Methods ---

// CreateGroup creates an approver group.
func (r *ApprovalRepository) CreateGroup(ctx context.Context, group *models.ApproverGroup) error {
	if err := r.db.WithContext(ctx).Omit("Members").Create(group).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAction
		}
		return err
	}
	return nil
}

// GetGroupByID retrieves a group with its members and their users.
func (r *ApprovalRepository) GetGroupByID(ctx context.Context, id uuid.UUID) (*models.ApproverGroup, error) {
	var group models.ApproverGroup
	err := r.db.WithContext(ctx).
		Preload("Members").
		Preload("Members.User").
		Where("id = ?", id).
		First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

// GetGroupByName retrieves a group by case-insensitive name.
func (r *ApprovalRepository) GetGroupByName(ctx context.Context, name string) (*models.ApproverGroup, error) {
	var group models.ApproverGroup
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", name).
		First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

// ListGroups lists groups ordered by priority ascending.
func (r *ApprovalRepository) ListGroups(ctx context.Context, activeOnly bool) ([]models.ApproverGroup, error) {
	var groups []models.ApproverGroup
	query := r.db.WithContext(ctx).Preload("Members").Preload("Members.User")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("priority, name").Find(&groups).Error
	return groups, err
}

// UpdateGroup applies column updates to a group. Priority is not an
// updatable column: it carries immutable business meaning.
func (r *ApprovalRepository) UpdateGroup(ctx context.Context, group *models.ApproverGroup, fields map[string]interface{}) error {
	delete(fields, "priority")
	fields["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(group).
		Where("id = ?", group.ID).
		Updates(fields)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrDuplicateAction
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGroup removes a group and its memberships.
func (r *ApprovalRepository) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("approver_group_id = ?", id).Delete(&models.ApproverGroupMember{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.ApproverGroup{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AddGroupMember adds a user to a group with its audit pair.
func (r *ApprovalRepository) AddGroupMember(ctx context.Context, member *models.ApproverGroupMember) error {
	if member.AddedAt.IsZero() {
		member.AddedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(member).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAction
		}
		return err
	}
	return nil
}

// RemoveGroupMember removes a user from a group.
func (r *ApprovalRepository) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("approver_group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.ApproverGroupMember{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GroupsForUser returns the active groups a user belongs to.
func (r *ApprovalRepository) GroupsForUser(ctx context.Context, userID uuid.UUID) ([]models.ApproverGroup, error) {
	return r.GroupsForUsers(ctx, []uuid.UUID{userID})
}

// GroupsForUsers returns the distinct active groups any of the given
// users belong to. Used to compute a line's best approver priority.
func (r *ApprovalRepository) GroupsForUsers(ctx context.Context, userIDs []uuid.UUID) ([]models.ApproverGroup, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var groups []models.ApproverGroup
	err := r.db.WithContext(ctx).
		Distinct("approver_groups.*").
		Joins("JOIN approver_group_members m ON m.approver_group_id = approver_groups.id").
		Where("m.user_id IN ? AND approver_groups.is_active = ?", userIDs, true).
		Find(&groups).Error
	return groups, err
}

// CountRulesForGroup counts approval rules referencing a group. A
// non-zero count blocks group deletion.
func (r *ApprovalRepository) CountRulesForGroup(ctx context.Context, groupID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ApprovalRule{}).
		Where("approver_group_id = ?", groupID).
		Count(&count).Error
	return count, err
}

// --- User Methods ---

// GetUserByID retrieves a user by id.
func (r *ApprovalRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUsersByIDs retrieves users by id set.
func (r *ApprovalRepository) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"expense-approval/internal/models"
)

// --- Approval Rule Methods ---

// CreateRule creates an approval rule.
func (r *ApprovalRepository) CreateRule(ctx context.Context, rule *models.ApprovalRule) error {
	return r.db.WithContext(ctx).Omit("ApproverGroup", "SubmitterGroup").Create(rule).Error
}

// GetRuleByID retrieves a rule with its groups and members loaded.
func (r *ApprovalRepository) GetRuleByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRule, error) {
	var rule models.ApprovalRule
	err := r.db.WithContext(ctx).
		Preload("ApproverGroup").
		Preload("ApproverGroup.Members").
		Preload("SubmitterGroup").
		Preload("SubmitterGroup.Members").
		Where("id = ?", id).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ListRulesForOwner returns an owner's rule set in rule order, with
// groups and memberships loaded for evaluation.
func (r *ApprovalRepository) ListRulesForOwner(ctx context.Context, ownerType string, ownerID uuid.UUID) ([]models.ApprovalRule, error) {
	var rules []models.ApprovalRule
	err := r.db.WithContext(ctx).
		Preload("ApproverGroup").
		Preload("ApproverGroup.Members").
		Preload("SubmitterGroup").
		Preload("SubmitterGroup.Members").
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Order("rule_order, created_at").
		Find(&rules).Error
	return rules, err
}

// UpdateRule applies column updates to a rule.
func (r *ApprovalRepository) UpdateRule(ctx context.Context, rule *models.ApprovalRule, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(rule).
		Where("id = ?", rule.ID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule.
func (r *ApprovalRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ApprovalRule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxRuleOrder returns the highest rule order within an owner's set.
func (r *ApprovalRepository) MaxRuleOrder(ctx context.Context, ownerType string, ownerID uuid.UUID) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&models.ApprovalRule{}).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Select("MAX(rule_order)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

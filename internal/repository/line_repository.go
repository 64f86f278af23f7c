package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"expense-approval/internal/models"
)

// --- Approval Line Methods ---

// CreateLine creates a line together with its steps.
func (r *ApprovalRepository) CreateLine(ctx context.Context, line *models.ApprovalLine) error {
	if err := r.db.WithContext(ctx).Create(line).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAction
		}
		return err
	}
	return nil
}

// GetLineByID retrieves a line with its steps and approver names.
// Soft-deleted lines are not returned.
func (r *ApprovalRepository) GetLineByID(ctx context.Context, id uuid.UUID) (*models.ApprovalLine, error) {
	var line models.ApprovalLine
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order, created_at") }).
		Preload("Steps.Approver").
		Where("id = ?", id).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

// FindLineByName finds an owner's line by case-insensitive name.
func (r *ApprovalRepository) FindLineByName(ctx context.Context, ownerID uuid.UUID, name string) (*models.ApprovalLine, error) {
	var line models.ApprovalLine
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(name) = LOWER(?)", ownerID, name).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

// ListLinesByOwner lists an owner's lines ordered by position.
func (r *ApprovalRepository) ListLinesByOwner(ctx context.Context, ownerID uuid.UUID, activeOnly bool) ([]models.ApprovalLine, error) {
	var lines []models.ApprovalLine
	query := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order, created_at") }).
		Preload("Steps.Approver").
		Where("user_id = ?", ownerID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("position, created_at").Find(&lines).Error
	return lines, err
}

// UpdateLine saves mutable line attributes (name, active flag).
func (r *ApprovalRepository) UpdateLine(ctx context.Context, line *models.ApprovalLine) error {
	result := r.db.WithContext(ctx).Model(line).
		Select("name", "is_active", "updated_at").
		Updates(map[string]interface{}{
			"name":       line.Name,
			"is_active":  line.IsActive,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceLineSteps swaps a line's step set in one transaction. Live
// requests are unaffected: they operate on cloned steps.
func (r *ApprovalRepository) ReplaceLineSteps(ctx context.Context, lineID uuid.UUID, steps []models.ApprovalLineStep) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("approval_line_id = ?", lineID).Delete(&models.ApprovalLineStep{}).Error; err != nil {
			return err
		}
		for i := range steps {
			steps[i].ID = uuid.Nil
			steps[i].ApprovalLineID = lineID
			if err := tx.Create(&steps[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SoftDeleteLine marks a line deleted. Step rows are kept; historical
// requests rely on their own cloned steps and snapshot anyway.
func (r *ApprovalRepository) SoftDeleteLine(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ApprovalLine{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxLinePosition returns the highest position among an owner's lines.
func (r *ApprovalRepository) MaxLinePosition(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&models.ApprovalLine{}).
		Where("user_id = ?", ownerID).
		Select("MAX(position)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

// ReorderLines rewrites the position column following the given order.
func (r *ApprovalRepository) ReorderLines(ctx context.Context, ownerID uuid.UUID, orderedIDs []uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range orderedIDs {
			if err := tx.Model(&models.ApprovalLine{}).
				Where("user_id = ? AND id = ?", ownerID, id).
				Update("position", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountPendingRequestsForLine counts live requests referencing a line.
// A non-zero count blocks line destruction.
func (r *ApprovalRepository) CountPendingRequestsForLine(ctx context.Context, lineID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("approval_line_id = ? AND status = ?", lineID, models.StatusPending).
		Count(&count).Error
	return count, err
}

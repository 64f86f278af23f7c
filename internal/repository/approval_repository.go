package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"expense-approval/internal/models"
)

// --- Request Methods ---

// CreateRequest creates a new approval request row.
func (r *ApprovalRepository) CreateRequest(ctx context.Context, request *models.ApprovalRequest) error {
	return r.db.WithContext(ctx).Omit("Steps", "Histories").Create(request).Error
}

// GetRequestByID retrieves a request with its steps and histories.
func (r *ApprovalRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order, created_at") }).
		Preload("Histories", func(db *gorm.DB) *gorm.DB { return db.Order("approved_at, created_at") }).
		Where("id = ?", id).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// GetRequestByIDForUpdate retrieves a request under an exclusive row
// lock. Must be called inside WithTransaction; the lock is held until
// the transaction commits, serializing concurrent approve/reject calls
// on the same request.
func (r *ApprovalRepository) GetRequestByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Steps and histories are loaded after the lock is held so the
	// completion check sees a stable snapshot.
	if err := r.db.WithContext(ctx).
		Where("approval_request_id = ?", id).
		Order("step_order, created_at").
		Find(&request.Steps).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("approval_request_id = ?", id).
		Order("approved_at, created_at").
		Find(&request.Histories).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// GetRequestByTarget retrieves the request owning a target reference.
func (r *ApprovalRepository) GetRequestByTarget(ctx context.Context, targetType string, targetID uuid.UUID) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order, created_at") }).
		Preload("Histories", func(db *gorm.DB) *gorm.DB { return db.Order("approved_at, created_at") }).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// UpdateRequest applies the given column updates to a request row and
// mirrors them onto the in-memory struct via RETURNING.
func (r *ApprovalRepository) UpdateRequest(ctx context.Context, request *models.ApprovalRequest, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(request).
		Clauses(clause.Returning{}).
		Where("id = ?", request.ID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRequest hard-deletes a request together with its steps and
// histories. Used when a target object is destroyed and when a
// cancelled request is replaced on resubmission.
func (r *ApprovalRepository) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("approval_request_id = ?", id).Delete(&models.ApprovalHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("approval_request_id = ?", id).Delete(&models.ApprovalRequestStep{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.ApprovalRequest{}).Error
	})
}

// ListRequestsForApprover lists pending requests where the user is an
// approve-role entrant of the current step and has not yet recorded an
// effective entry in the current round.
func (r *ApprovalRepository) ListRequestsForApprover(ctx context.Context, approverID uuid.UUID, limit, offset int) ([]models.ApprovalRequest, int64, error) {
	var requests []models.ApprovalRequest
	var total int64

	base := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Joins("JOIN approval_request_steps s ON s.approval_request_id = approval_requests.id").
		Where("approval_requests.status = ?", models.StatusPending).
		Where("s.approver_id = ? AND s.role = ? AND s.step_order = approval_requests.current_step", approverID, models.RoleApprove).
		Where(`NOT EXISTS (
			SELECT 1 FROM approval_histories h
			WHERE h.approval_request_id = approval_requests.id
			AND h.approver_id = ?
			AND h.step_order = approval_requests.current_step
			AND h.round = approval_requests.current_round
			AND h.action IN ('approve', 'reject')
		)`, approverID).
		Distinct("approval_requests.*")

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := base.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order, created_at") }).
		Order("approval_requests.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&requests).Error
	return requests, total, err
}

// --- Step Methods ---

// CreateRequestStep creates a request step row.
func (r *ApprovalRepository) CreateRequestStep(ctx context.Context, step *models.ApprovalRequestStep) error {
	return r.db.WithContext(ctx).Create(step).Error
}

// UpdateRequestStep applies column updates to a step row.
func (r *ApprovalRepository) UpdateRequestStep(ctx context.Context, step *models.ApprovalRequestStep, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(step).
		Where("id = ?", step.ID).
		Updates(fields).Error
}

// CancelPendingSteps marks every still-pending step of a request as
// cancelled.
func (r *ApprovalRepository) CancelPendingSteps(ctx context.Context, requestID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.ApprovalRequestStep{}).
		Where("approval_request_id = ? AND status = ?", requestID, models.StepStatusPending).
		Updates(map[string]interface{}{
			"status":     models.StepStatusCancelled,
			"updated_at": time.Now(),
		}).Error
}

// --- History Methods ---

// CreateHistory appends a history row. A unique-index conflict on the
// effective-action index surfaces as ErrDuplicateAction so the service
// can report a domain error instead of a raw persistence failure.
func (r *ApprovalRepository) CreateHistory(ctx context.Context, history *models.ApprovalHistory) error {
	if history.ApprovedAt.IsZero() {
		history.ApprovedAt = time.Now()
	}
	if err := history.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAction
		}
		return err
	}
	return nil
}

// ListHistories returns the chronological audit trail of a request.
func (r *ApprovalRepository) ListHistories(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalHistory, error) {
	var histories []models.ApprovalHistory
	err := r.db.WithContext(ctx).
		Where("approval_request_id = ?", requestID).
		Order("approved_at ASC, created_at ASC").
		Find(&histories).Error
	return histories, err
}

// --- Maintenance ---

// FindStalePendingRequests returns pending requests that have been
// waiting longer than the given horizon.
func (r *ApprovalRepository) FindStalePendingRequests(ctx context.Context, olderThanHours int) ([]models.ApprovalRequest, error) {
	var requests []models.ApprovalRequest
	cutoff := time.Now().Add(-time.Duration(olderThanHours) * time.Hour)
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}

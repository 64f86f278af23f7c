package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"expense-approval/internal/events"
	"expense-approval/internal/models"
	"expense-approval/internal/repository"
)

var (
	ErrRequestNotFound      = errors.New("approval request not found")
	ErrLineNotFound         = errors.New("approval line not found")
	ErrRequestNotPending    = errors.New("approval request is no longer pending")
	ErrNotCurrentApprover   = errors.New("user is not an approver of the current step")
	ErrAlreadyProcessed     = errors.New("user has already processed this step")
	ErrAlreadyApproved      = errors.New("step has already been approved")
	ErrCommentRequired      = errors.New("a comment is required when rejecting")
	ErrTargetHasLiveRequest = errors.New("target already has a live approval request")
	ErrUnknownTargetType    = errors.New("unknown target type")
	ErrLineInactive         = errors.New("approval line is not active")
)

// ApprovalService is the workflow engine: it materializes requests from
// lines, advances the current_step cursor under the step's approval
// policy, and guarantees at most one effective action per approver and
// step. Every mutation runs inside one transaction holding an exclusive
// lock on the request row.
type ApprovalService struct {
	repo      repository.ApprovalRepositoryInterface
	publisher *events.Publisher
	targets   *TargetRegistry
	logger    *logrus.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(repo repository.ApprovalRepositoryInterface, publisher *events.Publisher, targets *TargetRegistry, logger *logrus.Logger) *ApprovalService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ApprovalService{
		repo:      repo,
		publisher: publisher,
		targets:   targets,
		logger:    logger,
	}
}

// CreateWithLine creates the live request for a target by cloning the
// line's steps. The whole materialization (request row, cloned steps,
// denormalized snapshot, reference skip) is one atomic unit; readers
// never observe a partially cloned request.
//
// A cancelled leftover request for the same target is destroyed first
// (the resubmission policy); any other existing request blocks creation.
func (s *ApprovalService) CreateWithLine(ctx context.Context, targetType string, targetID uuid.UUID, lineID uuid.UUID) (*models.ApprovalRequest, error) {
	if !s.targets.Known(targetType) {
		return nil, ErrUnknownTargetType
	}

	var request *models.ApprovalRequest
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		existing, err := tx.GetRequestByTarget(ctx, targetType, targetID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if existing != nil {
			if existing.Status != models.StatusCancelled {
				return ErrTargetHasLiveRequest
			}
			if err := tx.DeleteRequest(ctx, existing.ID); err != nil {
				return err
			}
		}

		line, err := tx.GetLineByID(ctx, lineID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrLineNotFound
			}
			return err
		}
		if !line.IsActive {
			return ErrLineInactive
		}
		if len(line.Steps) == 0 {
			return fmt.Errorf("approval line %s has no steps", line.ID)
		}

		lineID := line.ID
		request = &models.ApprovalRequest{
			TargetType:       targetType,
			TargetID:         targetID,
			ApprovalLineID:   &lineID,
			ApprovalLineName: line.Name,
			CurrentStep:      1,
			Status:           models.StatusPending,
		}
		if err := tx.CreateRequest(ctx, request); err != nil {
			return err
		}

		snapshot := make([]models.StepSnapshot, 0, len(line.Steps))
		for _, lineStep := range line.Steps {
			name := ""
			if lineStep.Approver != nil {
				name = lineStep.Approver.Name
			}
			step := models.ApprovalRequestStep{
				ApprovalRequestID: request.ID,
				ApproverID:        lineStep.ApproverID,
				ApproverName:      name,
				StepOrder:         lineStep.StepOrder,
				Role:              lineStep.Role,
				ApprovalType:      lineStep.RequestApprovalType(),
				Status:            models.StepStatusPending,
			}
			if err := tx.CreateRequestStep(ctx, &step); err != nil {
				return err
			}
			request.Steps = append(request.Steps, step)
			snapshot = append(snapshot, models.StepSnapshot{
				ApproverID:   step.ApproverID,
				ApproverName: step.ApproverName,
				StepOrder:    step.StepOrder,
				Role:         step.Role,
				ApprovalType: step.ApprovalType,
			})
		}

		snapshotJSON, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal step snapshot: %w", err)
		}
		if err := tx.UpdateRequest(ctx, request, map[string]interface{}{
			"steps_snapshot": datatypes.JSON(snapshotJSON),
		}); err != nil {
			return err
		}
		request.StepsSnapshot = datatypes.JSON(snapshotJSON)

		return s.skipReferenceOnlySteps(ctx, tx, request)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishAsync(events.SubjectRequested, s.eventFor(request, nil, ""))
	return request, nil
}

// Approve records one approver's approval on the current step and
// advances or finalizes the request when the step's policy is met.
func (s *ApprovalService) Approve(ctx context.Context, requestID, approverID uuid.UUID, comment string) (*models.ApprovalRequest, error) {
	var request *models.ApprovalRequest
	finalized := false

	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		req, err := tx.GetRequestByIDForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRequestNotFound
			}
			return err
		}

		ownStep, err := s.checkActionPermission(req, approverID)
		if err != nil {
			return err
		}

		// The race the lock exists to close: a second approve on an
		// any_one step between check and insert.
		if t := req.CurrentStepApprovalType(); t != nil && *t == models.ApprovalTypeAnyOne {
			for _, h := range req.EffectiveHistories() {
				if h.StepOrder == req.CurrentStep && h.Action == models.HistoryActionApprove {
					return ErrAlreadyApproved
				}
			}
		}

		history := models.ApprovalHistory{
			ApprovalRequestID: req.ID,
			ApproverID:        approverID,
			ApproverName:      ownStep.ApproverName,
			StepOrder:         req.CurrentStep,
			Role:              models.RoleApprove,
			Action:            models.HistoryActionApprove,
			Comment:           comment,
			Round:             req.CurrentRound,
			ApprovedAt:        time.Now(),
		}
		if err := tx.CreateHistory(ctx, &history); err != nil {
			if errors.Is(err, repository.ErrDuplicateAction) {
				return ErrAlreadyProcessed
			}
			return err
		}
		req.Histories = append(req.Histories, history)

		now := time.Now()
		if err := tx.UpdateRequestStep(ctx, ownStep, map[string]interface{}{
			"status":      models.StepStatusApproved,
			"comment":     comment,
			"actioned_at": now,
		}); err != nil {
			return err
		}

		if req.CanProceedToNextStep() {
			if req.CurrentStep < req.MaxStep() {
				req.CurrentStep++
				if err := tx.UpdateRequest(ctx, req, map[string]interface{}{
					"current_step": req.CurrentStep,
				}); err != nil {
					return err
				}
				if err := s.skipReferenceOnlySteps(ctx, tx, req); err != nil {
					return err
				}
			} else {
				completed := time.Now()
				if err := tx.UpdateRequest(ctx, req, map[string]interface{}{
					"status":       models.StatusApproved,
					"completed_at": completed,
				}); err != nil {
					return err
				}
				req.Status = models.StatusApproved
				req.CompletedAt = &completed
				finalized = true
			}
		}

		request = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	if finalized {
		s.applyTargetDecision(ctx, request)
		s.publisher.PublishAsync(events.SubjectGranted, s.eventFor(request, &approverID, comment))
	}
	return request, nil
}

// Reject records a rejection. Any single reject by a valid current-step
// approver is terminal regardless of the step's approval type. The
// comment is mandatory and validated before anything is written.
func (s *ApprovalService) Reject(ctx context.Context, requestID, approverID uuid.UUID, comment string) (*models.ApprovalRequest, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, ErrCommentRequired
	}

	var request *models.ApprovalRequest
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		req, err := tx.GetRequestByIDForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRequestNotFound
			}
			return err
		}

		ownStep, err := s.checkActionPermission(req, approverID)
		if err != nil {
			return err
		}

		history := models.ApprovalHistory{
			ApprovalRequestID: req.ID,
			ApproverID:        approverID,
			ApproverName:      ownStep.ApproverName,
			StepOrder:         req.CurrentStep,
			Role:              models.RoleApprove,
			Action:            models.HistoryActionReject,
			Comment:           comment,
			Round:             req.CurrentRound,
			ApprovedAt:        time.Now(),
		}
		if err := tx.CreateHistory(ctx, &history); err != nil {
			if errors.Is(err, repository.ErrDuplicateAction) {
				return ErrAlreadyProcessed
			}
			return err
		}
		req.Histories = append(req.Histories, history)

		now := time.Now()
		if err := tx.UpdateRequestStep(ctx, ownStep, map[string]interface{}{
			"status":      models.StepStatusRejected,
			"comment":     comment,
			"actioned_at": now,
		}); err != nil {
			return err
		}

		if err := tx.UpdateRequest(ctx, req, map[string]interface{}{
			"status":       models.StatusRejected,
			"completed_at": now,
		}); err != nil {
			return err
		}
		req.Status = models.StatusRejected
		req.CompletedAt = &now

		request = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.applyTargetDecision(ctx, request)
	s.publisher.PublishAsync(events.SubjectRejected, s.eventFor(request, &approverID, comment))
	return request, nil
}

// Cancel returns a pending request to the terminal cancelled state
// without deleting history. The cancel entry is attributed to the
// target's owner when one resolves, otherwise to the acting user.
func (s *ApprovalService) Cancel(ctx context.Context, requestID, actorID uuid.UUID) (*models.ApprovalRequest, error) {
	var request *models.ApprovalRequest
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		req, err := tx.GetRequestByIDForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if req.Status != models.StatusPending {
			return ErrRequestNotPending
		}

		cancellerID := actorID
		cancellerName := ""
		if handler, err := s.targets.Resolve(req.TargetType); err == nil {
			if owner, err := handler.OwnerID(ctx, req.TargetID); err == nil && owner != nil {
				cancellerID = *owner
			}
		}
		if user, err := tx.GetUserByID(ctx, cancellerID); err == nil {
			cancellerName = user.Name
		}

		now := time.Now()
		if err := tx.UpdateRequest(ctx, req, map[string]interface{}{
			"status":       models.StatusCancelled,
			"cancelled_at": now,
			"completed_at": now,
		}); err != nil {
			return err
		}
		req.Status = models.StatusCancelled
		req.CancelledAt = &now
		req.CompletedAt = &now

		history := models.ApprovalHistory{
			ApprovalRequestID: req.ID,
			ApproverID:        cancellerID,
			ApproverName:      cancellerName,
			StepOrder:         req.CurrentStep,
			Role:              models.RoleApprove,
			Action:            models.HistoryActionCancel,
			Comment:           "submission cancelled, approval process halted",
			Round:             req.CurrentRound,
			ApprovedAt:        now,
		}
		if err := tx.CreateHistory(ctx, &history); err != nil {
			return err
		}
		req.Histories = append(req.Histories, history)

		if err := tx.CancelPendingSteps(ctx, req.ID); err != nil {
			return err
		}

		request = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishAsync(events.SubjectCancelled, s.eventFor(request, &actorID, ""))
	return request, nil
}

// RecordView appends an informational view entry for a reference-role
// entrant of the current step. It is a silent no-op for anyone else and
// for repeat views, and never changes status or current_step.
func (s *ApprovalService) RecordView(ctx context.Context, requestID, userID uuid.UUID) error {
	return s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		req, err := tx.GetRequestByIDForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if !req.CanBeViewedBy(userID) || req.HasViewedBy(userID) {
			return nil
		}

		name := ""
		for _, st := range req.ReferrersAt(req.CurrentStep) {
			if st.ApproverID == userID {
				name = st.ApproverName
				break
			}
		}

		return tx.CreateHistory(ctx, &models.ApprovalHistory{
			ApprovalRequestID: req.ID,
			ApproverID:        userID,
			ApproverName:      name,
			StepOrder:         req.CurrentStep,
			Role:              models.RoleReference,
			Action:            models.HistoryActionView,
			Round:             req.CurrentRound,
			ApprovedAt:        time.Now(),
		})
	})
}

// ResetForReapproval opens a new approval round: history recorded
// before the boundary stays in the trail but no longer counts toward
// duplicate checks or step completion. The cursor rewinds to the first
// approve-bearing step and the request returns to pending.
func (s *ApprovalService) ResetForReapproval(ctx context.Context, requestID, actorID uuid.UUID) (*models.ApprovalRequest, error) {
	var request *models.ApprovalRequest
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		req, err := tx.GetRequestByIDForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if req.Status != models.StatusPending && req.Status != models.StatusApproved {
			return ErrRequestNotPending
		}

		now := time.Now()
		req.CurrentRound++
		req.CurrentStep = 1
		req.Status = models.StatusPending
		req.ReapprovalStartedAt = &now
		req.CompletedAt = nil
		if err := tx.UpdateRequest(ctx, req, map[string]interface{}{
			"current_round":         req.CurrentRound,
			"current_step":          1,
			"status":                models.StatusPending,
			"reapproval_started_at": now,
			"completed_at":          nil,
		}); err != nil {
			return err
		}

		// Step rows return to pending for the new round.
		for i := range req.Steps {
			if req.Steps[i].Status == models.StepStatusPending {
				continue
			}
			if err := tx.UpdateRequestStep(ctx, &req.Steps[i], map[string]interface{}{
				"status":      models.StepStatusPending,
				"comment":     "",
				"actioned_at": nil,
			}); err != nil {
				return err
			}
			req.Steps[i].Status = models.StepStatusPending
		}

		actorName := ""
		if user, err := tx.GetUserByID(ctx, actorID); err == nil {
			actorName = user.Name
		}
		history := models.ApprovalHistory{
			ApprovalRequestID: req.ID,
			ApproverID:        actorID,
			ApproverName:      actorName,
			StepOrder:         0,
			Role:              models.RoleApprove,
			Action:            models.HistoryActionReset,
			Comment:           "approvals reset, re-approval required",
			Round:             req.CurrentRound,
			ApprovedAt:        now,
		}
		if err := tx.CreateHistory(ctx, &history); err != nil {
			return err
		}
		req.Histories = append(req.Histories, history)

		if err := s.skipReferenceOnlySteps(ctx, tx, req); err != nil {
			return err
		}
		request = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishAsync(events.SubjectReset, s.eventFor(request, &actorID, ""))
	return request, nil
}

// DeleteForTarget destroys the request owned by a target, history
// included. Called when the target object itself is destroyed.
func (s *ApprovalService) DeleteForTarget(ctx context.Context, targetType string, targetID uuid.UUID) error {
	return s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		req, err := tx.GetRequestByTarget(ctx, targetType, targetID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		return tx.DeleteRequest(ctx, req.ID)
	})
}

// GetRequest retrieves a request by ID
func (s *ApprovalService) GetRequest(ctx context.Context, requestID uuid.UUID) (*models.ApprovalRequest, error) {
	request, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return request, nil
}

// GetRequestByTarget retrieves the request owning a target reference.
func (s *ApprovalService) GetRequestByTarget(ctx context.Context, targetType string, targetID uuid.UUID) (*models.ApprovalRequest, error) {
	request, err := s.repo.GetRequestByTarget(ctx, targetType, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return request, nil
}

// GetHistory retrieves the chronological audit trail for a request.
func (s *ApprovalService) GetHistory(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalHistory, error) {
	return s.repo.ListHistories(ctx, requestID)
}

// ListForApprover lists the requests currently waiting on a user.
func (s *ApprovalService) ListForApprover(ctx context.Context, approverID uuid.UUID, limit, offset int) ([]models.ApprovalRequest, int64, error) {
	return s.repo.ListRequestsForApprover(ctx, approverID, limit, offset)
}

// --- Helper Methods ---

// checkActionPermission enforces the approve/reject gate and returns
// the caller's own step row at the current step.
func (s *ApprovalService) checkActionPermission(req *models.ApprovalRequest, approverID uuid.UUID) (*models.ApprovalRequestStep, error) {
	if req.Status != models.StatusPending {
		return nil, ErrRequestNotPending
	}
	var ownStep *models.ApprovalRequestStep
	for i := range req.Steps {
		st := &req.Steps[i]
		if st.StepOrder == req.CurrentStep && st.Role == models.RoleApprove && st.ApproverID == approverID {
			ownStep = st
			break
		}
	}
	if ownStep == nil {
		return nil, ErrNotCurrentApprover
	}
	if req.HasBeenProcessedBy(approverID) {
		return nil, ErrAlreadyProcessed
	}
	return ownStep, nil
}

// skipReferenceOnlySteps advances the cursor past steps with zero
// approve-role entrants, recording a view entry for each reference
// entrant it passes. A line exhausting entirely indicates a malformed
// line and is logged, not raised.
func (s *ApprovalService) skipReferenceOnlySteps(ctx context.Context, tx repository.ApprovalRepositoryInterface, req *models.ApprovalRequest) error {
	for req.CurrentStep <= req.MaxStep() {
		if len(req.ApproversAt(req.CurrentStep)) > 0 {
			return nil
		}

		for _, ref := range req.ReferrersAt(req.CurrentStep) {
			if req.HasViewedBy(ref.ApproverID) {
				continue
			}
			history := models.ApprovalHistory{
				ApprovalRequestID: req.ID,
				ApproverID:        ref.ApproverID,
				ApproverName:      ref.ApproverName,
				StepOrder:         req.CurrentStep,
				Role:              models.RoleReference,
				Action:            models.HistoryActionView,
				Comment:           "reference-only step, skipped automatically",
				Round:             req.CurrentRound,
				ApprovedAt:        time.Now(),
			}
			if err := tx.CreateHistory(ctx, &history); err != nil {
				return err
			}
			req.Histories = append(req.Histories, history)
		}

		if req.CurrentStep >= req.MaxStep() {
			s.logger.WithField("request_id", req.ID).Warn("approval line contains only reference steps")
			return nil
		}
		req.CurrentStep++
		if err := tx.UpdateRequest(ctx, req, map[string]interface{}{
			"current_step": req.CurrentStep,
		}); err != nil {
			return err
		}
	}
	return nil
}

// applyTargetDecision invokes the target's status-update hook after the
// deciding transaction committed. Hooks are idempotent-safe, so a
// failed hook is logged and left to caller-level retry.
func (s *ApprovalService) applyTargetDecision(ctx context.Context, req *models.ApprovalRequest) {
	handler, err := s.targets.Resolve(req.TargetType)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", req.ID).Error("no target handler for decided request")
		return
	}
	if err := handler.ApplyDecision(ctx, req.TargetID, req.Status); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"request_id":  req.ID,
			"target_type": req.TargetType,
			"target_id":   req.TargetID,
		}).Error("target status hook failed")
	}
}

func (s *ApprovalService) eventFor(req *models.ApprovalRequest, actorID *uuid.UUID, comment string) events.ApprovalEvent {
	return events.ApprovalEvent{
		RequestID:   req.ID,
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		Status:      req.Status,
		CurrentStep: req.CurrentStep,
		ActorID:     actorID,
		Comment:     comment,
	}
}

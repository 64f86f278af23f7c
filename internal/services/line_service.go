package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"expense-approval/internal/models"
	"expense-approval/internal/repository"
)

var (
	ErrLineNameTaken      = errors.New("an approval line with this name already exists")
	ErrLineNameRequired   = errors.New("approval line name is required")
	ErrLineNeedsSteps     = errors.New("approval line needs at least one step")
	ErrDuplicateApprover  = errors.New("the same approver appears twice in one step")
	ErrApprovalTypeNeeded = errors.New("steps with multiple approvers need an approval type")
	ErrLineInUse          = errors.New("approval line has pending requests")
)

// LineStepInput is one step entry supplied when creating or updating a
// line. StepOrder groups entries into steps; entries sharing an order
// are entrants of the same step.
type LineStepInput struct {
	ApproverID   uuid.UUID `json:"approver_id" binding:"required"`
	StepOrder    int       `json:"step_order" binding:"required,min=1"`
	Role         string    `json:"role"`
	ApprovalType string    `json:"approval_type"`
}

// LineService manages reusable approval line templates.
type LineService struct {
	repo   repository.ApprovalRepositoryInterface
	logger *logrus.Logger
}

// NewLineService creates a new LineService.
func NewLineService(repo repository.ApprovalRepositoryInterface, logger *logrus.Logger) *LineService {
	if logger == nil {
		logger = logrus.New()
	}
	return &LineService{repo: repo, logger: logger}
}

// CreateLine creates a template for its owning user. The name is
// trimmed and must be unique among the owner's lines, case-insensitive.
func (s *LineService) CreateLine(ctx context.Context, ownerID uuid.UUID, name string, steps []LineStepInput) (*models.ApprovalLine, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrLineNameRequired
	}
	modelSteps, err := s.buildSteps(ctx, steps)
	if err != nil {
		return nil, err
	}

	var line *models.ApprovalLine
	err = s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		if _, err := tx.FindLineByName(ctx, ownerID, name); err == nil {
			return ErrLineNameTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		position, err := tx.MaxLinePosition(ctx, ownerID)
		if err != nil {
			return err
		}

		line = &models.ApprovalLine{
			UserID:   ownerID,
			Name:     name,
			IsActive: true,
			Position: position + 1,
		}
		if err := tx.CreateLine(ctx, line); err != nil {
			return err
		}
		if err := tx.ReplaceLineSteps(ctx, line.ID, modelSteps); err != nil {
			return err
		}
		reloaded, err := tx.GetLineByID(ctx, line.ID)
		if err != nil {
			return err
		}
		line = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// UpdateLine renames a template and/or replaces its steps. Requests
// already materialized from the line keep their cloned steps untouched.
func (s *LineService) UpdateLine(ctx context.Context, lineID uuid.UUID, name *string, steps []LineStepInput) (*models.ApprovalLine, error) {
	var modelSteps []models.ApprovalLineStep
	if steps != nil {
		built, err := s.buildSteps(ctx, steps)
		if err != nil {
			return nil, err
		}
		modelSteps = built
	}

	var line *models.ApprovalLine
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		existing, err := tx.GetLineByID(ctx, lineID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrLineNotFound
			}
			return err
		}

		if name != nil {
			trimmed := strings.TrimSpace(*name)
			if trimmed == "" {
				return ErrLineNameRequired
			}
			if !strings.EqualFold(trimmed, existing.Name) {
				if _, err := tx.FindLineByName(ctx, existing.UserID, trimmed); err == nil {
					return ErrLineNameTaken
				} else if !errors.Is(err, repository.ErrNotFound) {
					return err
				}
			}
			existing.Name = trimmed
			if err := tx.UpdateLine(ctx, existing); err != nil {
				return err
			}
		}
		if modelSteps != nil {
			if err := tx.ReplaceLineSteps(ctx, existing.ID, modelSteps); err != nil {
				return err
			}
		}
		reloaded, err := tx.GetLineByID(ctx, existing.ID)
		if err != nil {
			return err
		}
		line = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// GetLine retrieves a line with its ordered steps.
func (s *LineService) GetLine(ctx context.Context, lineID uuid.UUID) (*models.ApprovalLine, error) {
	line, err := s.repo.GetLineByID(ctx, lineID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, err
	}
	return line, nil
}

// ListLines lists an owner's templates in display order.
func (s *LineService) ListLines(ctx context.Context, ownerID uuid.UUID, activeOnly bool) ([]models.ApprovalLine, error) {
	return s.repo.ListLinesByOwner(ctx, ownerID, activeOnly)
}

// DeleteLine soft-deletes a template. A line still feeding pending
// requests cannot be removed.
func (s *LineService) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	return s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		if _, err := tx.GetLineByID(ctx, lineID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrLineNotFound
			}
			return err
		}
		pending, err := tx.CountPendingRequestsForLine(ctx, lineID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrLineInUse
		}
		return tx.SoftDeleteLine(ctx, lineID)
	})
}

// DuplicateLine copies another user's template into the caller's own
// set, suffixing the name when it would collide.
func (s *LineService) DuplicateLine(ctx context.Context, lineID, ownerID uuid.UUID) (*models.ApprovalLine, error) {
	source, err := s.repo.GetLineByID(ctx, lineID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, err
	}

	name := source.Name
	if _, err := s.repo.FindLineByName(ctx, ownerID, name); err == nil {
		name = fmt.Sprintf("%s (copy)", name)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	steps := make([]LineStepInput, 0, len(source.Steps))
	for _, st := range source.Steps {
		approvalType := ""
		if st.ApprovalType != nil {
			approvalType = *st.ApprovalType
		}
		steps = append(steps, LineStepInput{
			ApproverID:   st.ApproverID,
			StepOrder:    st.StepOrder,
			Role:         st.Role,
			ApprovalType: approvalType,
		})
	}
	return s.CreateLine(ctx, ownerID, name, steps)
}

// ReorderLines rewrites an owner's display positions to match the given
// ID order.
func (s *LineService) ReorderLines(ctx context.Context, ownerID uuid.UUID, orderedIDs []uuid.UUID) error {
	if len(orderedIDs) == 0 {
		return nil
	}
	return s.repo.ReorderLines(ctx, ownerID, orderedIDs)
}

// buildSteps validates raw step input and resolves approver names.
func (s *LineService) buildSteps(ctx context.Context, inputs []LineStepInput) ([]models.ApprovalLineStep, error) {
	if len(inputs) == 0 {
		return nil, ErrLineNeedsSteps
	}

	type stepKey struct {
		order    int
		approver uuid.UUID
	}
	seen := make(map[stepKey]bool)
	entrants := make(map[int]int)
	ids := make([]uuid.UUID, 0, len(inputs))
	for _, in := range inputs {
		key := stepKey{order: in.StepOrder, approver: in.ApproverID}
		if seen[key] {
			return nil, ErrDuplicateApprover
		}
		seen[key] = true
		role := in.Role
		if role == "" {
			role = models.RoleApprove
		}
		if role == models.RoleApprove {
			entrants[in.StepOrder]++
		}
		ids = append(ids, in.ApproverID)
	}
	for order, count := range entrants {
		if count <= 1 {
			continue
		}
		hasType := false
		for _, in := range inputs {
			if in.StepOrder == order && in.ApprovalType != "" {
				hasType = true
				break
			}
		}
		if !hasType {
			return nil, ErrApprovalTypeNeeded
		}
	}

	users, err := s.repo.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	steps := make([]models.ApprovalLineStep, 0, len(inputs))
	for _, in := range inputs {
		if _, ok := byID[in.ApproverID]; !ok {
			return nil, fmt.Errorf("approver %s not found", in.ApproverID)
		}
		role := in.Role
		if role == "" {
			role = models.RoleApprove
		}
		var approvalType *string
		if in.ApprovalType != "" {
			t := in.ApprovalType
			approvalType = &t
		}
		steps = append(steps, models.ApprovalLineStep{
			ApproverID:   in.ApproverID,
			StepOrder:    in.StepOrder,
			Role:         role,
			ApprovalType: approvalType,
		})
	}
	return steps, nil
}

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
	ErrGroupNotFound     = errors.New("approver group not found")
	ErrGroupNameTaken    = errors.New("an approver group with this name already exists")
	ErrGroupNameRequired = errors.New("approver group name is required")
	ErrInvalidPriority   = fmt.Errorf("priority must be between %d and %d", models.GroupPriorityMin, models.GroupPriorityMax)
	ErrGroupReferenced   = errors.New("group is referenced by approval rules")
	ErrMemberNotFound    = errors.New("user is not a member of this group")
	ErrUserNotFound      = errors.New("user not found")
)

// GroupService manages approver groups and their memberships. Priority
// is fixed at creation; peer relationships in rules depend on it not
// drifting under existing configurations.
type GroupService struct {
	repo   repository.ApprovalRepositoryInterface
	logger *logrus.Logger
}

// NewGroupService creates a new GroupService.
func NewGroupService(repo repository.ApprovalRepositoryInterface, logger *logrus.Logger) *GroupService {
	if logger == nil {
		logger = logrus.New()
	}
	return &GroupService{repo: repo, logger: logger}
}

// CreateGroup creates a named group at a fixed priority level.
func (s *GroupService) CreateGroup(ctx context.Context, name string, priority int, createdByID uuid.UUID) (*models.ApproverGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrGroupNameRequired
	}
	if priority < models.GroupPriorityMin || priority > models.GroupPriorityMax {
		return nil, ErrInvalidPriority
	}

	var group *models.ApproverGroup
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		if _, err := tx.GetGroupByName(ctx, name); err == nil {
			return ErrGroupNameTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		group = &models.ApproverGroup{
			Name:        name,
			Priority:    priority,
			IsActive:    true,
			CreatedByID: createdByID,
		}
		return tx.CreateGroup(ctx, group)
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateGroup renames or activates/deactivates a group. Priority
// changes are ignored by the repository layer.
func (s *GroupService) UpdateGroup(ctx context.Context, groupID uuid.UUID, name *string, isActive *bool) (*models.ApproverGroup, error) {
	var group *models.ApproverGroup
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		existing, err := tx.GetGroupByID(ctx, groupID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrGroupNotFound
			}
			return err
		}

		fields := map[string]interface{}{}
		if name != nil {
			trimmed := strings.TrimSpace(*name)
			if trimmed == "" {
				return ErrGroupNameRequired
			}
			if !strings.EqualFold(trimmed, existing.Name) {
				if _, err := tx.GetGroupByName(ctx, trimmed); err == nil {
					return ErrGroupNameTaken
				} else if !errors.Is(err, repository.ErrNotFound) {
					return err
				}
			}
			fields["name"] = trimmed
		}
		if isActive != nil {
			fields["is_active"] = *isActive
		}
		if len(fields) > 0 {
			if err := tx.UpdateGroup(ctx, existing, fields); err != nil {
				return err
			}
		}
		reloaded, err := tx.GetGroupByID(ctx, groupID)
		if err != nil {
			return err
		}
		group = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup retrieves a group with its members.
func (s *GroupService) GetGroup(ctx context.Context, groupID uuid.UUID) (*models.ApproverGroup, error) {
	group, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return group, nil
}

// ListGroups lists groups, optionally active ones only, ordered by
// priority.
func (s *GroupService) ListGroups(ctx context.Context, activeOnly bool) ([]models.ApproverGroup, error) {
	return s.repo.ListGroups(ctx, activeOnly)
}

// DeleteGroup removes a group. Groups still named by rules are
// protected; deactivate instead.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	return s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		if _, err := tx.GetGroupByID(ctx, groupID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		count, err := tx.CountRulesForGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrGroupReferenced
		}
		return tx.DeleteGroup(ctx, groupID)
	})
}

// AddMember adds a user to a group. Adding an existing member is a
// no-op.
func (s *GroupService) AddMember(ctx context.Context, groupID, userID, addedByID uuid.UUID) (*models.ApproverGroup, error) {
	var group *models.ApproverGroup
	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		existing, err := tx.GetGroupByID(ctx, groupID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if _, err := tx.GetUserByID(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if !existing.HasMember(userID) {
			member := models.ApproverGroupMember{
				ApproverGroupID: groupID,
				UserID:          userID,
				AddedByID:       addedByID,
			}
			if err := tx.AddGroupMember(ctx, &member); err != nil {
				return err
			}
		}
		reloaded, err := tx.GetGroupByID(ctx, groupID)
		if err != nil {
			return err
		}
		group = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// RemoveMember removes a user from a group.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	return s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		existing, err := tx.GetGroupByID(ctx, groupID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if !existing.HasMember(userID) {
			return ErrMemberNotFound
		}
		return tx.RemoveGroupMember(ctx, groupID, userID)
	})
}

// GroupsForUser returns the active groups a user belongs to.
func (s *GroupService) GroupsForUser(ctx context.Context, userID uuid.UUID) ([]models.ApproverGroup, error) {
	return s.repo.GroupsForUser(ctx, userID)
}

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
	"expense-approval/internal/rules"
)

var (
	ErrRuleNotFound     = errors.New("approval rule not found")
	ErrInvalidOwnerType = errors.New("unknown rule owner type")
	ErrInvalidCondition = errors.New("invalid rule condition")
)

// MissingApproversError reports which required groups an approval line
// fails to cover, by name, so callers can surface an actionable message.
type MissingApproversError struct {
	GroupNames []string
}

func (e *MissingApproversError) Error() string {
	return fmt.Sprintf("approval line is missing approvers from: %s", strings.Join(e.GroupNames, ", "))
}

var ruleOwnerTypes = map[string]bool{
	models.RuleOwnerExpenseCode:     true,
	models.RuleOwnerOrganization:    true,
	models.RuleOwnerRequestTemplate: true,
}

// RuleService manages conditional approval rules and evaluates which
// approver groups a submission requires.
type RuleService struct {
	repo      repository.ApprovalRepositoryInterface
	authority *rules.Authority
	logger    *logrus.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(repo repository.ApprovalRepositoryInterface, authority *rules.Authority, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{repo: repo, authority: authority, logger: logger}
}

// CreateRule attaches a rule to an owner. The condition is compiled and
// type-checked at authoring time so a submission never trips over a
// malformed expression.
func (s *RuleService) CreateRule(ctx context.Context, rule *models.ApprovalRule, fieldTypes map[string]rules.FieldType) (*models.ApprovalRule, error) {
	if !ruleOwnerTypes[rule.OwnerType] {
		return nil, ErrInvalidOwnerType
	}
	if err := s.validateCondition(rule.Condition, fieldTypes); err != nil {
		return nil, err
	}

	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		if _, err := tx.GetGroupByID(ctx, rule.ApproverGroupID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if rule.SubmitterGroupID != nil {
			if _, err := tx.GetGroupByID(ctx, *rule.SubmitterGroupID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrGroupNotFound
				}
				return err
			}
		}
		if rule.Order == 0 {
			max, err := tx.MaxRuleOrder(ctx, rule.OwnerType, rule.OwnerID)
			if err != nil {
				return err
			}
			rule.Order = max + 1
		}
		rule.IsActive = true
		return tx.CreateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRule(ctx, rule.ID)
}

// RuleUpdate carries the mutable rule attributes. Nil fields are left
// untouched; owner and id are not updatable.
type RuleUpdate struct {
	Condition        *string
	ApproverGroupID  *uuid.UUID
	SubmitterGroupID *uuid.UUID
	Order            *int
	IsActive         *bool
}

// UpdateRule modifies a rule's condition, groups, order or active flag.
// Replacement groups go through the same existence check as CreateRule.
func (s *RuleService) UpdateRule(ctx context.Context, ruleID uuid.UUID, update RuleUpdate, fieldTypes map[string]rules.FieldType) (*models.ApprovalRule, error) {
	if update.Condition != nil {
		if err := s.validateCondition(*update.Condition, fieldTypes); err != nil {
			return nil, err
		}
	}

	err := s.repo.WithTransaction(ctx, func(tx repository.ApprovalRepositoryInterface) error {
		existing, err := tx.GetRuleByID(ctx, ruleID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRuleNotFound
			}
			return err
		}

		fields := map[string]interface{}{}
		if update.Condition != nil {
			fields["condition"] = *update.Condition
		}
		if update.ApproverGroupID != nil {
			if _, err := tx.GetGroupByID(ctx, *update.ApproverGroupID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrGroupNotFound
				}
				return err
			}
			fields["approver_group_id"] = *update.ApproverGroupID
		}
		if update.SubmitterGroupID != nil {
			if _, err := tx.GetGroupByID(ctx, *update.SubmitterGroupID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrGroupNotFound
				}
				return err
			}
			fields["submitter_group_id"] = *update.SubmitterGroupID
		}
		if update.Order != nil {
			fields["rule_order"] = *update.Order
		}
		if update.IsActive != nil {
			fields["is_active"] = *update.IsActive
		}
		if len(fields) == 0 {
			return nil
		}
		return tx.UpdateRule(ctx, existing, fields)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRule(ctx, ruleID)
}

// GetRule retrieves a rule with both group associations preloaded.
func (s *RuleService) GetRule(ctx context.Context, ruleID uuid.UUID) (*models.ApprovalRule, error) {
	rule, err := s.repo.GetRuleByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// ListRules lists an owner's rules in evaluation order.
func (s *RuleService) ListRules(ctx context.Context, ownerType string, ownerID uuid.UUID) ([]models.ApprovalRule, error) {
	if !ruleOwnerTypes[ownerType] {
		return nil, ErrInvalidOwnerType
	}
	return s.repo.ListRulesForOwner(ctx, ownerType, ownerID)
}

// DeleteRule removes a rule.
func (s *RuleService) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	err := s.repo.DeleteRule(ctx, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRuleNotFound
	}
	return err
}

// EvaluateRequired resolves the distinct approver groups a submission
// requires: the owner's rules are evaluated against the submission
// context, and groups the submitter's own authority already subsumes
// drop out.
func (s *RuleService) EvaluateRequired(ctx context.Context, ownerType string, ownerID uuid.UUID, evalCtx rules.Context) ([]models.ApproverGroup, error) {
	if !ruleOwnerTypes[ownerType] {
		return nil, ErrInvalidOwnerType
	}
	ruleSet, err := s.repo.ListRulesForOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	submitterGroups, err := s.repo.GroupsForUser(ctx, evalCtx.SubmitterID)
	if err != nil {
		return nil, err
	}
	return s.authority.RequiredGroups(ruleSet, evalCtx, submitterGroups), nil
}

// ValidateLineAgainstRules checks that an approval line covers every
// required group: for each group, some approve-role entrant must belong
// to it or to a group of equal or higher priority. Returns a
// MissingApproversError naming the uncovered groups.
func (s *RuleService) ValidateLineAgainstRules(ctx context.Context, lineID uuid.UUID, required []models.ApproverGroup) error {
	if len(required) == 0 {
		return nil
	}
	line, err := s.repo.GetLineByID(ctx, lineID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrLineNotFound
		}
		return err
	}

	approverIDs := make([]uuid.UUID, 0, len(line.Steps))
	for _, st := range line.Steps {
		if st.Role == models.RoleApprove {
			approverIDs = append(approverIDs, st.ApproverID)
		}
	}
	approverGroups, err := s.repo.GroupsForUsers(ctx, approverIDs)
	if err != nil {
		return err
	}
	lineMax := s.authority.MaxPriority(approverGroups)

	var missing []string
	for _, group := range required {
		if !s.authority.LineSatisfies(lineMax, group) {
			missing = append(missing, group.NameWithPriority())
		}
	}
	if len(missing) > 0 {
		return &MissingApproversError{GroupNames: missing}
	}
	return nil
}

func (s *RuleService) validateCondition(condition string, fieldTypes map[string]rules.FieldType) error {
	compiled, err := rules.Compile(condition)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	if fieldTypes != nil {
		if err := compiled.Validate(fieldTypes); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
	}
	return nil
}

package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"expense-approval/internal/models"
	"expense-approval/internal/repository"
	"expense-approval/internal/rules"
)

func newTestRuleService(repo *MockApprovalRepository) *RuleService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRuleService(repo, rules.NewAuthority(logger), logger)
}

func existingRule(ownerType string) *models.ApprovalRule {
	return &models.ApprovalRule{
		ID:              uuid.New(),
		OwnerType:       ownerType,
		OwnerID:         uuid.New(),
		Condition:       "#totalAmount > 1000",
		ApproverGroupID: uuid.New(),
		Order:           1,
		IsActive:        true,
	}
}

func TestCreateRule_UnknownOwnerType(t *testing.T) {
	mockRepo := new(MockApprovalRepository)
	service := newTestRuleService(mockRepo)

	_, err := service.CreateRule(context.Background(), &models.ApprovalRule{
		OwnerType:       "garbage",
		OwnerID:         uuid.New(),
		ApproverGroupID: uuid.New(),
	}, nil)

	assert.ErrorIs(t, err, ErrInvalidOwnerType)
	mockRepo.AssertNotCalled(t, "CreateRule", mock.Anything, mock.Anything)
}

func TestCreateRule_MalformedCondition(t *testing.T) {
	mockRepo := new(MockApprovalRepository)
	service := newTestRuleService(mockRepo)

	_, err := service.CreateRule(context.Background(), &models.ApprovalRule{
		OwnerType:       models.RuleOwnerExpenseCode,
		OwnerID:         uuid.New(),
		Condition:       "#totalAmount >",
		ApproverGroupID: uuid.New(),
	}, nil)

	assert.ErrorIs(t, err, ErrInvalidCondition)
	mockRepo.AssertNotCalled(t, "CreateRule", mock.Anything, mock.Anything)
}

func TestUpdateRule_SetsOnlyWhitelistedColumns(t *testing.T) {
	mockRepo := new(MockApprovalRepository)
	service := newTestRuleService(mockRepo)
	rule := existingRule(models.RuleOwnerExpenseCode)
	newGroup := &models.ApproverGroup{ID: uuid.New(), Name: "Finance", Priority: 6, IsActive: true}

	mockRepo.On("GetRuleByID", mock.Anything, rule.ID).Return(rule, nil)
	mockRepo.On("GetGroupByID", mock.Anything, newGroup.ID).Return(newGroup, nil)
	mockRepo.On("UpdateRule", mock.Anything, rule, mock.MatchedBy(func(fields map[string]interface{}) bool {
		allowed := map[string]bool{
			"condition":          true,
			"approver_group_id":  true,
			"submitter_group_id": true,
			"rule_order":         true,
			"is_active":          true,
		}
		for key := range fields {
			if !allowed[key] {
				return false
			}
		}
		return fields["approver_group_id"] == newGroup.ID && fields["rule_order"] == 3
	})).Return(nil)

	order := 3
	_, err := service.UpdateRule(context.Background(), rule.ID, RuleUpdate{
		ApproverGroupID: &newGroup.ID,
		Order:           &order,
	}, nil)

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestUpdateRule_ReplacementGroupMustExist(t *testing.T) {
	mockRepo := new(MockApprovalRepository)
	service := newTestRuleService(mockRepo)
	rule := existingRule(models.RuleOwnerExpenseCode)
	missing := uuid.New()

	mockRepo.On("GetRuleByID", mock.Anything, rule.ID).Return(rule, nil)
	mockRepo.On("GetGroupByID", mock.Anything, missing).Return(nil, repository.ErrNotFound)

	_, err := service.UpdateRule(context.Background(), rule.ID, RuleUpdate{
		ApproverGroupID: &missing,
	}, nil)

	assert.ErrorIs(t, err, ErrGroupNotFound)
	mockRepo.AssertNotCalled(t, "UpdateRule", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateRule_MalformedConditionRejected(t *testing.T) {
	mockRepo := new(MockApprovalRepository)
	service := newTestRuleService(mockRepo)

	bad := "#totalAmount >"
	_, err := service.UpdateRule(context.Background(), uuid.New(), RuleUpdate{
		Condition: &bad,
	}, nil)

	assert.ErrorIs(t, err, ErrInvalidCondition)
	mockRepo.AssertNotCalled(t, "GetRuleByID", mock.Anything, mock.Anything)
}

func TestUpdateRule_EmptyUpdateTouchesNothing(t *testing.T) {
	mockRepo := new(MockApprovalRepository)
	service := newTestRuleService(mockRepo)
	rule := existingRule(models.RuleOwnerOrganization)

	mockRepo.On("GetRuleByID", mock.Anything, rule.ID).Return(rule, nil)

	got, err := service.UpdateRule(context.Background(), rule.ID, RuleUpdate{}, nil)

	assert.NoError(t, err)
	assert.Equal(t, rule.ID, got.ID)
	mockRepo.AssertNotCalled(t, "UpdateRule", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateRule_NotFound(t *testing.T) {
	mockRepo := new(MockApprovalRepository)
	service := newTestRuleService(mockRepo)
	id := uuid.New()

	mockRepo.On("GetRuleByID", mock.Anything, id).Return(nil, repository.ErrNotFound)

	active := false
	_, err := service.UpdateRule(context.Background(), id, RuleUpdate{IsActive: &active}, nil)

	assert.ErrorIs(t, err, ErrRuleNotFound)
}

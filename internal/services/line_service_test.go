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
)

func newLineService(repo repository.ApprovalRepositoryInterface) *LineService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewLineService(repo, logger)
}

func TestCreateLine_Success(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	approver := uuid.New()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	mockRepo.On("GetUsersByIDs", ctx, []uuid.UUID{approver}).
		Return([]models.User{{ID: approver, Name: "Kim"}}, nil)
	mockRepo.On("FindLineByName", ctx, ownerID, "Standard").
		Return(nil, repository.ErrNotFound)
	mockRepo.On("MaxLinePosition", ctx, ownerID).Return(2, nil)
	mockRepo.On("CreateLine", ctx, mock.AnythingOfType("*models.ApprovalLine")).Return(nil)
	mockRepo.On("ReplaceLineSteps", ctx, mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetLineByID", ctx, mock.Anything).
		Return(&models.ApprovalLine{UserID: ownerID, Name: "Standard", IsActive: true, Position: 3}, nil)

	line, err := service.CreateLine(ctx, ownerID, "  Standard  ", []LineStepInput{
		{ApproverID: approver, StepOrder: 1},
	})

	assert.NoError(t, err)
	assert.Equal(t, "Standard", line.Name)
	assert.Equal(t, 3, line.Position)
	mockRepo.AssertExpectations(t)
}

func TestCreateLine_NameTaken(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	approver := uuid.New()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	mockRepo.On("GetUsersByIDs", ctx, []uuid.UUID{approver}).
		Return([]models.User{{ID: approver, Name: "Kim"}}, nil)
	mockRepo.On("FindLineByName", ctx, ownerID, "Standard").
		Return(&models.ApprovalLine{Name: "Standard"}, nil)

	_, err := service.CreateLine(ctx, ownerID, "Standard", []LineStepInput{
		{ApproverID: approver, StepOrder: 1},
	})

	assert.ErrorIs(t, err, ErrLineNameTaken)
}

func TestCreateLine_BlankName(t *testing.T) {
	ctx := context.Background()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	_, err := service.CreateLine(ctx, uuid.New(), "   ", []LineStepInput{
		{ApproverID: uuid.New(), StepOrder: 1},
	})

	assert.ErrorIs(t, err, ErrLineNameRequired)
}

func TestCreateLine_NoSteps(t *testing.T) {
	ctx := context.Background()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	_, err := service.CreateLine(ctx, uuid.New(), "Standard", nil)

	assert.ErrorIs(t, err, ErrLineNeedsSteps)
}

func TestCreateLine_DuplicateApproverInStep(t *testing.T) {
	ctx := context.Background()
	approver := uuid.New()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	_, err := service.CreateLine(ctx, uuid.New(), "Standard", []LineStepInput{
		{ApproverID: approver, StepOrder: 1},
		{ApproverID: approver, StepOrder: 1},
	})

	assert.ErrorIs(t, err, ErrDuplicateApprover)
}

func TestCreateLine_MultiApproverStepNeedsType(t *testing.T) {
	ctx := context.Background()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	_, err := service.CreateLine(ctx, uuid.New(), "Standard", []LineStepInput{
		{ApproverID: uuid.New(), StepOrder: 1},
		{ApproverID: uuid.New(), StepOrder: 1},
	})

	assert.ErrorIs(t, err, ErrApprovalTypeNeeded)
}

func TestCreateLine_SameApproverOnDifferentStepsAllowed(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	approver := uuid.New()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	mockRepo.On("GetUsersByIDs", ctx, mock.Anything).
		Return([]models.User{{ID: approver, Name: "Kim"}}, nil)
	mockRepo.On("FindLineByName", ctx, ownerID, "Standard").
		Return(nil, repository.ErrNotFound)
	mockRepo.On("MaxLinePosition", ctx, ownerID).Return(0, nil)
	mockRepo.On("CreateLine", ctx, mock.AnythingOfType("*models.ApprovalLine")).Return(nil)
	mockRepo.On("ReplaceLineSteps", ctx, mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetLineByID", ctx, mock.Anything).
		Return(&models.ApprovalLine{UserID: ownerID, Name: "Standard", IsActive: true}, nil)

	_, err := service.CreateLine(ctx, ownerID, "Standard", []LineStepInput{
		{ApproverID: approver, StepOrder: 1},
		{ApproverID: approver, StepOrder: 2},
	})

	assert.NoError(t, err)
}

func TestDeleteLine_BlockedByPendingRequests(t *testing.T) {
	ctx := context.Background()
	lineID := uuid.New()

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	mockRepo.On("GetLineByID", ctx, lineID).
		Return(&models.ApprovalLine{ID: lineID}, nil)
	mockRepo.On("CountPendingRequestsForLine", ctx, lineID).Return(int64(2), nil)

	err := service.DeleteLine(ctx, lineID)

	assert.ErrorIs(t, err, ErrLineInUse)
	mockRepo.AssertNotCalled(t, "SoftDeleteLine", mock.Anything, mock.Anything)
}

func TestDuplicateLine_CollidingNameGetsSuffix(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	sourceID := uuid.New()
	approver := uuid.New()

	source := &models.ApprovalLine{
		ID:     sourceID,
		UserID: uuid.New(),
		Name:   "Standard",
		Steps: []models.ApprovalLineStep{
			{ApprovalLineID: sourceID, ApproverID: approver, StepOrder: 1, Role: models.RoleApprove},
		},
	}

	mockRepo := new(MockApprovalRepository)
	service := newLineService(mockRepo)

	mockRepo.On("GetLineByID", ctx, sourceID).Return(source, nil)
	// The caller already has a line named "Standard".
	mockRepo.On("FindLineByName", ctx, ownerID, "Standard").
		Return(&models.ApprovalLine{Name: "Standard"}, nil).Once()
	mockRepo.On("GetUsersByIDs", ctx, mock.Anything).
		Return([]models.User{{ID: approver, Name: "Kim"}}, nil)
	mockRepo.On("FindLineByName", ctx, ownerID, "Standard (copy)").
		Return(nil, repository.ErrNotFound)
	mockRepo.On("MaxLinePosition", ctx, ownerID).Return(1, nil)
	mockRepo.On("CreateLine", ctx, mock.MatchedBy(func(l *models.ApprovalLine) bool {
		return l.Name == "Standard (copy)"
	})).Return(nil)
	mockRepo.On("ReplaceLineSteps", ctx, mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetLineByID", ctx, mock.Anything).
		Return(&models.ApprovalLine{UserID: ownerID, Name: "Standard (copy)"}, nil)

	line, err := service.DuplicateLine(ctx, sourceID, ownerID)

	assert.NoError(t, err)
	assert.Equal(t, "Standard (copy)", line.Name)
}

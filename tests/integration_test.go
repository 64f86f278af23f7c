//go:build integration
// +build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"expense-approval/internal/handlers"
	"expense-approval/internal/models"
	"expense-approval/internal/repository"
	"expense-approval/internal/services"
)

var schemaIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_histories_effective_action
	ON approval_histories (approval_request_id, approver_id, step_order, round)
	WHERE action IN ('approve', 'reject')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_approver_groups_lower_name
	ON approver_groups (LOWER(name))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_approval_lines_owner_lower_name
	ON approval_lines (user_id, LOWER(name))
	WHERE deleted_at IS NULL`,
}

// IntegrationTestSuite exercises the workflow engine end-to-end against
// a real Postgres instance.
type IntegrationTestSuite struct {
	suite.Suite
	db      *gorm.DB
	repo    *repository.ApprovalRepository
	service *services.ApprovalService
	lines   *services.LineService
	router  *gin.Engine

	users map[string]uuid.UUID
}

// SetupSuite runs once before all tests
func (s *IntegrationTestSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=expense_approval_test port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		s.T().Fatalf("Failed to connect to database: %v", err)
	}
	s.db = db

	err = s.db.AutoMigrate(
		&models.User{},
		&models.ApproverGroup{},
		&models.ApproverGroupMember{},
		&models.ApprovalLine{},
		&models.ApprovalLineStep{},
		&models.ApprovalRequest{},
		&models.ApprovalRequestStep{},
		&models.ApprovalHistory{},
		&models.ApprovalRule{},
	)
	if err != nil {
		s.T().Fatalf("Failed to run migrations: %v", err)
	}
	for _, stmt := range schemaIndexes {
		if err := s.db.Exec(stmt).Error; err != nil {
			s.T().Fatalf("Failed to create index: %v", err)
		}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	targets := services.NewTargetRegistry()
	for _, targetType := range []string{models.TargetExpenseItem, models.TargetExpenseSheet} {
		// No NATS in tests: a nil publisher drops the relayed events.
		targets.Register(targetType, noopTarget{})
	}

	s.repo = repository.NewApprovalRepository(s.db)
	s.service = services.NewApprovalService(s.repo, nil, targets, logger)
	s.lines = services.NewLineService(s.repo, logger)

	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	s.setupRoutes()
}

// TearDownTest runs after each test
func (s *IntegrationTestSuite) TearDownTest() {
	s.db.Exec("DELETE FROM approval_histories")
	s.db.Exec("DELETE FROM approval_request_steps")
	s.db.Exec("DELETE FROM approval_requests")
	s.db.Exec("DELETE FROM approval_line_steps")
	s.db.Exec("DELETE FROM approval_lines")
	s.db.Exec("DELETE FROM approver_group_members")
	s.db.Exec("DELETE FROM approval_rules")
	s.db.Exec("DELETE FROM approver_groups")
	s.db.Exec("DELETE FROM users")
}

// SetupTest seeds a small cast of users before each test.
func (s *IntegrationTestSuite) SetupTest() {
	s.users = make(map[string]uuid.UUID)
	for _, name := range []string{"submitter", "manager", "finance", "director", "viewer"} {
		user := models.User{
			Name:     name,
			Email:    fmt.Sprintf("%s-%s@example.com", name, uuid.New().String()[:8]),
			IsActive: true,
		}
		s.Require().NoError(s.db.Create(&user).Error)
		s.users[name] = user.ID
	}
}

type noopTarget struct{}

func (noopTarget) OwnerID(ctx context.Context, targetID uuid.UUID) (*uuid.UUID, error) {
	return nil, nil
}

func (noopTarget) ApplyDecision(ctx context.Context, targetID uuid.UUID, status string) error {
	return nil
}

func (s *IntegrationTestSuite) setupRoutes() {
	api := s.router.Group("/api/v1")

	// Inject the acting user the way the auth middleware would.
	api.Use(func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})

	approvalHandler := handlers.NewApprovalHandler(s.service)
	lineHandler := handlers.NewLineHandler(s.lines)

	approvals := api.Group("/approvals")
	{
		approvals.POST("", approvalHandler.CreateRequest)
		approvals.GET("/:id", approvalHandler.GetRequest)
		approvals.POST("/:id/approve", approvalHandler.ApproveRequest)
		approvals.POST("/:id/reject", approvalHandler.RejectRequest)
		approvals.POST("/:id/view", approvalHandler.RecordView)
		approvals.POST("/:id/reset", approvalHandler.ResetRequest)
		approvals.DELETE("/:id", approvalHandler.CancelRequest)
		approvals.GET("/:id/history", approvalHandler.GetRequestHistory)
	}
	linesGroup := api.Group("/approval-lines")
	{
		linesGroup.POST("", lineHandler.CreateLine)
	}
}

func (s *IntegrationTestSuite) makeRequest(method, path string, body interface{}, userID uuid.UUID) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("X-User-ID", userID.String())
	}

	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)
	return recorder
}

// createLine builds a template through the service layer.
func (s *IntegrationTestSuite) createLine(name string, steps []services.LineStepInput) *models.ApprovalLine {
	line, err := s.lines.CreateLine(context.Background(), s.users["submitter"], name, steps)
	s.Require().NoError(err)
	return line
}

func (s *IntegrationTestSuite) createRequest(lineID uuid.UUID) models.ApprovalRequest {
	recorder := s.makeRequest(http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"target_type":      models.TargetExpenseItem,
		"target_id":        uuid.New(),
		"approval_line_id": lineID,
	}, s.users["submitter"])
	s.Require().Equal(http.StatusCreated, recorder.Code, recorder.Body.String())

	var request models.ApprovalRequest
	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &request))
	return request
}

func (s *IntegrationTestSuite) TestTwoStepFlow() {
	line := s.createLine("Manager then Finance", []services.LineStepInput{
		{ApproverID: s.users["manager"], StepOrder: 1},
		{ApproverID: s.users["finance"], StepOrder: 2},
	})
	request := s.createRequest(line.ID)
	s.Equal(1, request.CurrentStep)

	// Finance cannot act before the cursor reaches step 2.
	recorder := s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", nil, s.users["finance"])
	s.Equal(http.StatusForbidden, recorder.Code)

	recorder = s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve",
		map[string]string{"comment": "ok"}, s.users["manager"])
	s.Require().Equal(http.StatusOK, recorder.Code, recorder.Body.String())

	var afterFirst models.ApprovalRequest
	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &afterFirst))
	s.Equal(2, afterFirst.CurrentStep)
	s.Equal(models.StatusPending, afterFirst.Status)

	recorder = s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", nil, s.users["finance"])
	s.Require().Equal(http.StatusOK, recorder.Code)

	var final models.ApprovalRequest
	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &final))
	s.Equal(models.StatusApproved, final.Status)
	s.NotNil(final.CompletedAt)
}

func (s *IntegrationTestSuite) TestDoubleApproveConflicts() {
	line := s.createLine("Single step", []services.LineStepInput{
		{ApproverID: s.users["manager"], StepOrder: 1},
		{ApproverID: s.users["finance"], StepOrder: 2},
	})
	request := s.createRequest(line.ID)

	first := s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", nil, s.users["manager"])
	s.Require().Equal(http.StatusOK, first.Code)

	// The cursor moved on; the same approver cannot act again.
	second := s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", nil, s.users["manager"])
	s.Equal(http.StatusForbidden, second.Code)
}

func (s *IntegrationTestSuite) TestRejectRequiresCommentAndTerminates() {
	line := s.createLine("Manager then Finance", []services.LineStepInput{
		{ApproverID: s.users["manager"], StepOrder: 1},
		{ApproverID: s.users["finance"], StepOrder: 2},
	})
	request := s.createRequest(line.ID)

	recorder := s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/reject",
		map[string]string{}, s.users["manager"])
	s.Equal(http.StatusBadRequest, recorder.Code)

	recorder = s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/reject",
		map[string]string{"comment": "missing receipts"}, s.users["manager"])
	s.Require().Equal(http.StatusOK, recorder.Code)

	var rejected models.ApprovalRequest
	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &rejected))
	s.Equal(models.StatusRejected, rejected.Status)

	// Terminal: finance can no longer act.
	recorder = s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", nil, s.users["finance"])
	s.Equal(http.StatusConflict, recorder.Code)
}

func (s *IntegrationTestSuite) TestReferenceStepsAutoSkip() {
	line := s.createLine("Viewer first", []services.LineStepInput{
		{ApproverID: s.users["viewer"], StepOrder: 1, Role: models.RoleReference},
		{ApproverID: s.users["manager"], StepOrder: 2},
	})
	request := s.createRequest(line.ID)

	s.Equal(2, request.CurrentStep)

	recorder := s.makeRequest(http.MethodGet, "/api/v1/approvals/"+request.ID.String()+"/history", nil, s.users["submitter"])
	s.Require().Equal(http.StatusOK, recorder.Code)

	var history []models.ApprovalHistory
	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &history))
	s.Require().Len(history, 1)
	s.Equal(models.HistoryActionView, history[0].Action)
	s.Equal(s.users["viewer"], history[0].ApproverID)
}

func (s *IntegrationTestSuite) TestCancelAndResubmit() {
	line := s.createLine("Manager only", []services.LineStepInput{
		{ApproverID: s.users["manager"], StepOrder: 1},
	})
	request := s.createRequest(line.ID)
	targetID := request.TargetID

	recorder := s.makeRequest(http.MethodDelete, "/api/v1/approvals/"+request.ID.String(), nil, s.users["submitter"])
	s.Require().Equal(http.StatusOK, recorder.Code)

	// Resubmission for the same target replaces the cancelled request.
	recorder = s.makeRequest(http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"target_type":      models.TargetExpenseItem,
		"target_id":        targetID,
		"approval_line_id": line.ID,
	}, s.users["submitter"])
	s.Require().Equal(http.StatusCreated, recorder.Code, recorder.Body.String())

	var replacement models.ApprovalRequest
	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &replacement))
	s.NotEqual(request.ID, replacement.ID)
	s.Equal(models.StatusPending, replacement.Status)
}

func (s *IntegrationTestSuite) TestResetOpensNewRound() {
	line := s.createLine("Manager only", []services.LineStepInput{
		{ApproverID: s.users["manager"], StepOrder: 1},
	})
	request := s.createRequest(line.ID)

	recorder := s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", nil, s.users["manager"])
	s.Require().Equal(http.StatusOK, recorder.Code)

	recorder = s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/reset", nil, s.users["submitter"])
	s.Require().Equal(http.StatusOK, recorder.Code, recorder.Body.String())

	var reopened models.ApprovalRequest
	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &reopened))
	s.Equal(models.StatusPending, reopened.Status)
	s.Equal(1, reopened.CurrentRound)
	s.Equal(1, reopened.CurrentStep)

	// The unique index allows the same approver to act again in the new
	// round.
	recorder = s.makeRequest(http.MethodPost, "/api/v1/approvals/"+request.ID.String()+"/approve", nil, s.users["manager"])
	s.Equal(http.StatusOK, recorder.Code, recorder.Body.String())
}

func (s *IntegrationTestSuite) TestDuplicateLiveRequestBlocked() {
	line := s.createLine("Manager only", []services.LineStepInput{
		{ApproverID: s.users["manager"], StepOrder: 1},
	})
	request := s.createRequest(line.ID)

	recorder := s.makeRequest(http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"target_type":      models.TargetExpenseItem,
		"target_id":        request.TargetID,
		"approval_line_id": line.ID,
	}, s.users["submitter"])
	s.Equal(http.StatusConflict, recorder.Code)
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

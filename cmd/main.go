package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"expense-approval/internal/config"
	"expense-approval/internal/events"
	"expense-approval/internal/handlers"
	"expense-approval/internal/jobs"
	"expense-approval/internal/middleware"
	"expense-approval/internal/models"
	"expense-approval/internal/repository"
	"expense-approval/internal/rules"
	"expense-approval/internal/seeders"
	"expense-approval/internal/services"
)

// @title Expense Approval API
// @version 1.0.0
// @description Multi-step approval workflow engine for expense submissions
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.example.com/support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8094
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// effectiveActionIndex enforces at most one effective approve/reject
// per approver, step and round at the database level. Partial unique
// indexes are out of AutoMigrate's reach, so it is raw SQL.
const effectiveActionIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_histories_effective_action
ON approval_histories (approval_request_id, approver_id, step_order, round)
WHERE action IN ('approve', 'reject')`

// Name uniqueness is case-insensitive, so the constraint has to live on
// LOWER(name); AutoMigrate cannot express expression indexes either.
const groupNameIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_approver_groups_lower_name
ON approver_groups (LOWER(name))`

const lineNameIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_approval_lines_owner_lower_name
ON approval_lines (user_id, LOWER(name))
WHERE deleted_at IS NULL`

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.User{},
		&models.ApproverGroup{},
		&models.ApproverGroupMember{},
		&models.ApprovalLine{},
		&models.ApprovalLineStep{},
		&models.ApprovalRequest{},
		&models.ApprovalRequestStep{},
		&models.ApprovalHistory{},
		&models.ApprovalRule{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	for _, stmt := range []string{effectiveActionIndex, groupNameIndex, lineNameIndex} {
		if err := db.Exec(stmt).Error; err != nil {
			logger.Fatalf("Failed to create index: %v", err)
		}
	}
	logger.Info("Database migrations completed")

	// Seed the default approver group ladder when requested
	if cfg.SeedDefaults {
		if err := seeders.SeedDefaultGroups(db); err != nil {
			logger.Warnf("Failed to seed default approver groups: %v", err)
		}
	}

	// Initialize repository
	approvalRepo := repository.NewApprovalRepository(db)

	// Initialize event publisher (optional - service works without NATS)
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, "expense-approval", logger)
		if err != nil {
			logger.Warnf("Failed to initialize event publisher: %v. Events will not be published.", err)
			publisher = nil
		} else {
			logger.Info("Event publisher initialized")
		}
	} else {
		logger.Info("NATS_URL not configured, event publishing disabled")
	}

	// Register the approvable target types. Decisions are relayed over
	// the bus; the owning services apply them to their own rows.
	targets := services.NewTargetRegistry()
	for _, targetType := range []string{models.TargetExpenseItem, models.TargetExpenseSheet, models.TargetRequestForm} {
		targets.Register(targetType, events.NewTargetRelay(publisher, targetType))
	}

	// Initialize services
	authority := rules.NewAuthority(logger)
	approvalService := services.NewApprovalService(approvalRepo, publisher, targets, logger)
	lineService := services.NewLineService(approvalRepo, logger)
	groupService := services.NewGroupService(approvalRepo, logger)
	ruleService := services.NewRuleService(approvalRepo, authority, logger)

	// Initialize handlers
	approvalHandler := handlers.NewApprovalHandler(approvalService)
	lineHandler := handlers.NewLineHandler(lineService)
	groupHandler := handlers.NewGroupHandler(groupService)
	ruleHandler := handlers.NewRuleHandler(ruleService)

	// Start stale request sweep
	staleJob := jobs.NewStaleRequestJob(approvalRepo, publisher, logger, cfg.StaleSweepInterval, cfg.StaleAfterHours)
	jobCtx, jobCancel := context.WithCancel(context.Background())
	go staleJob.Start(jobCtx)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck)

	// Protected API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	// Approval request endpoints
	{
		api.POST("/approvals", approvalHandler.CreateRequest)
		api.GET("/approvals/pending", approvalHandler.ListPendingForMe)
		api.GET("/approvals/by-target", approvalHandler.GetRequestByTarget)
		api.DELETE("/approvals/by-target", approvalHandler.DeleteRequestByTarget)
		api.GET("/approvals/:id", approvalHandler.GetRequest)
		api.DELETE("/approvals/:id", approvalHandler.CancelRequest)
		api.POST("/approvals/:id/approve", approvalHandler.ApproveRequest)
		api.POST("/approvals/:id/reject", approvalHandler.RejectRequest)
		api.POST("/approvals/:id/view", approvalHandler.RecordView)
		api.POST("/approvals/:id/reset", approvalHandler.ResetRequest)
		api.GET("/approvals/:id/progress", approvalHandler.GetRequestProgress)
		api.GET("/approvals/:id/history", approvalHandler.GetRequestHistory)
	}

	// Approval line endpoints
	{
		api.POST("/approval-lines", lineHandler.CreateLine)
		api.GET("/approval-lines", lineHandler.ListLines)
		api.POST("/approval-lines/reorder", lineHandler.ReorderLines)
		api.GET("/approval-lines/:id", lineHandler.GetLine)
		api.PUT("/approval-lines/:id", lineHandler.UpdateLine)
		api.DELETE("/approval-lines/:id", lineHandler.DeleteLine)
		api.POST("/approval-lines/:id/duplicate", lineHandler.DuplicateLine)
	}

	// Approver group endpoints
	{
		api.POST("/approver-groups", groupHandler.CreateGroup)
		api.GET("/approver-groups", groupHandler.ListGroups)
		api.GET("/approver-groups/mine", groupHandler.ListMyGroups)
		api.GET("/approver-groups/:id", groupHandler.GetGroup)
		api.PUT("/approver-groups/:id", groupHandler.UpdateGroup)
		api.DELETE("/approver-groups/:id", groupHandler.DeleteGroup)
		api.POST("/approver-groups/:id/members", groupHandler.AddMember)
		api.DELETE("/approver-groups/:id/members/:userId", groupHandler.RemoveMember)
	}

	// Approval rule endpoints
	{
		api.POST("/approval-rules", ruleHandler.CreateRule)
		api.GET("/approval-rules", ruleHandler.ListRules)
		api.POST("/approval-rules/evaluate", ruleHandler.EvaluateRules)
		api.GET("/approval-rules/:id", ruleHandler.GetRule)
		api.PUT("/approval-rules/:id", ruleHandler.UpdateRule)
		api.DELETE("/approval-rules/:id", ruleHandler.DeleteRule)
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8094"
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infof("Expense approval service starting on port %s", port)
		if err := router.Run(":" + port); err != nil {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	<-quit
	logger.Info("Shutting down server...")

	jobCancel()
	staleJob.Stop()
	logger.Info("Stale request job stopped")

	if publisher != nil {
		publisher.Close()
	}

	logger.Info("Server shutdown complete")
}

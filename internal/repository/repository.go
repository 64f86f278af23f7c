package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"expense-approval/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateAction is returned when the history unique index
	// rejects a second effective entry for the same (request, approver,
	// step, round). It is the data-layer backstop behind the row lock.
	ErrDuplicateAction = errors.New("duplicate approval action")
)

// ApprovalRepositoryInterface is the data-access surface the services
// depend on. WithTransaction hands the callback a repository bound to
// the transaction; every mutating engine operation runs inside one.
type ApprovalRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo ApprovalRepositoryInterface) error) error

	// Requests
	CreateRequest(ctx context.Context, request *models.ApprovalRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	GetRequestByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	GetRequestByTarget(ctx context.Context, targetType string, targetID uuid.UUID) (*models.ApprovalRequest, error)
	UpdateRequest(ctx context.Context, request *models.ApprovalRequest, fields map[string]interface{}) error
	DeleteRequest(ctx context.Context, id uuid.UUID) error
	ListRequestsForApprover(ctx context.Context, approverID uuid.UUID, limit, offset int) ([]models.ApprovalRequest, int64, error)

	// Request steps
	CreateRequestStep(ctx context.Context, step *models.ApprovalRequestStep) error
	UpdateRequestStep(ctx context.Context, step *models.ApprovalRequestStep, fields map[string]interface{}) error
	CancelPendingSteps(ctx context.Context, requestID uuid.UUID) error

	// Histories
	CreateHistory(ctx context.Context, history *models.ApprovalHistory) error
	ListHistories(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalHistory, error)

	// Lines
	CreateLine(ctx context.Context, line *models.ApprovalLine) error
	GetLineByID(ctx context.Context, id uuid.UUID) (*models.ApprovalLine, error)
	FindLineByName(ctx context.Context, ownerID uuid.UUID, name string) (*models.ApprovalLine, error)
	ListLinesByOwner(ctx context.Context, ownerID uuid.UUID, activeOnly bool) ([]models.ApprovalLine, error)
	UpdateLine(ctx context.Context, line *models.ApprovalLine) error
	ReplaceLineSteps(ctx context.Context, lineID uuid.UUID, steps []models.ApprovalLineStep) error
	SoftDeleteLine(ctx context.Context, id uuid.UUID) error
	MaxLinePosition(ctx context.Context, ownerID uuid.UUID) (int, error)
	ReorderLines(ctx context.Context, ownerID uuid.UUID, orderedIDs []uuid.UUID) error
	CountPendingRequestsForLine(ctx context.Context, lineID uuid.UUID) (int64, error)

	// Approver groups
	CreateGroup(ctx context.Context, group *models.ApproverGroup) error
	GetGroupByID(ctx context.Context, id uuid.UUID) (*models.ApproverGroup, error)
	GetGroupByName(ctx context.Context, name string) (*models.ApproverGroup, error)
	ListGroups(ctx context.Context, activeOnly bool) ([]models.ApproverGroup, error)
	UpdateGroup(ctx context.Context, group *models.ApproverGroup, fields map[string]interface{}) error
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	AddGroupMember(ctx context.Context, member *models.ApproverGroupMember) error
	RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error
	GroupsForUser(ctx context.Context, userID uuid.UUID) ([]models.ApproverGroup, error)
	GroupsForUsers(ctx context.Context, userIDs []uuid.UUID) ([]models.ApproverGroup, error)
	CountRulesForGroup(ctx context.Context, groupID uuid.UUID) (int64, error)

	// Rules
	CreateRule(ctx context.Context, rule *models.ApprovalRule) error
	GetRuleByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRule, error)
	ListRulesForOwner(ctx context.Context, ownerType string, ownerID uuid.UUID) ([]models.ApprovalRule, error)
	UpdateRule(ctx context.Context, rule *models.ApprovalRule, fields map[string]interface{}) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	MaxRuleOrder(ctx context.Context, ownerType string, ownerID uuid.UUID) (int, error)

	// Users
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)

	// Maintenance
	FindStalePendingRequests(ctx context.Context, olderThanHours int) ([]models.ApprovalRequest, error)
}

// ApprovalRepository is the GORM-backed implementation.
type ApprovalRepository struct {
	db *gorm.DB
}

// Ensure ApprovalRepository implements the interface
var _ ApprovalRepositoryInterface = (*ApprovalRepository)(nil)

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// WithTransaction runs fn inside a database transaction, handing it a
// repository bound to that transaction. Any error aborts the whole
// transaction; partial state never commits.
func (r *ApprovalRepository) WithTransaction(ctx context.Context, fn func(txRepo ApprovalRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ApprovalRepository{db: tx})
	})
}

// isUniqueViolation recognizes unique-index conflicts both through
// GORM's error translation and the raw postgres error code.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

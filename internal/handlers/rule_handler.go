package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"expense-approval/internal/models"
	"expense-approval/internal/rules"
	"expense-approval/internal/services"
)

// RuleHandler handles HTTP requests for conditional approval rules
type RuleHandler struct {
	service *services.RuleService
}

// NewRuleHandler creates a new RuleHandler
func NewRuleHandler(service *services.RuleService) *RuleHandler {
	return &RuleHandler{service: service}
}

// CreateRuleInput is the payload for creating a rule.
type CreateRuleInput struct {
	OwnerType        string     `json:"owner_type" binding:"required"`
	OwnerID          uuid.UUID  `json:"owner_id" binding:"required"`
	Condition        string     `json:"condition"`
	ApproverGroupID  uuid.UUID  `json:"approver_group_id" binding:"required"`
	SubmitterGroupID *uuid.UUID `json:"submitter_group_id"`
	Order            int        `json:"order"`
}

// UpdateRuleInput is the payload for updating a rule. Absent fields are
// left untouched.
type UpdateRuleInput struct {
	Condition        *string    `json:"condition"`
	ApproverGroupID  *uuid.UUID `json:"approver_group_id"`
	SubmitterGroupID *uuid.UUID `json:"submitter_group_id"`
	Order            *int       `json:"order"`
	IsActive         *bool      `json:"is_active"`
}

// EvaluateInput carries the submission context the rules run against.
type EvaluateInput struct {
	OwnerType      string            `json:"owner_type" binding:"required"`
	OwnerID        uuid.UUID         `json:"owner_id" binding:"required"`
	TotalAmount    float64           `json:"total_amount"`
	ItemCount      int               `json:"item_count"`
	CategoryCodes  []string          `json:"category_codes"`
	Fields         map[string]string `json:"fields"`
	ApprovalLineID *uuid.UUID        `json:"approval_line_id"`
}

// CreateRule attaches a rule to an expense code, organization or template
// @Summary Create approval rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param request body CreateRuleInput true "Create Rule"
// @Success 201 {object} models.ApprovalRule
// @Router /api/v1/approval-rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var input CreateRuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := &models.ApprovalRule{
		OwnerType:        input.OwnerType,
		OwnerID:          input.OwnerID,
		Condition:        input.Condition,
		ApproverGroupID:  input.ApproverGroupID,
		SubmitterGroupID: input.SubmitterGroupID,
		Order:            input.Order,
	}
	created, err := h.service.CreateRule(c.Request.Context(), rule, nil)
	if err != nil {
		c.JSON(ruleStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, created)
}

// ListRules lists an owner's rules in evaluation order
// @Summary List approval rules
// @Tags Rules
// @Produce json
// @Param owner_type query string true "Owner type"
// @Param owner_id query string true "Owner ID"
// @Success 200 {array} models.ApprovalRule
// @Router /api/v1/approval-rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	ownerType := c.Query("owner_type")
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if ownerType == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_type and owner_id are required"})
		return
	}

	ruleSet, err := h.service.ListRules(c.Request.Context(), ownerType, ownerID)
	if err != nil {
		c.JSON(ruleStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ruleSet)
}

// GetRule retrieves a single rule
// @Summary Get approval rule
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} models.ApprovalRule
// @Router /api/v1/approval-rules/{id} [get]
func (h *RuleHandler) GetRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	rule, err := h.service.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(ruleStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// UpdateRule modifies a rule
// @Summary Update approval rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param request body UpdateRuleInput true "Fields to update"
// @Success 200 {object} models.ApprovalRule
// @Router /api/v1/approval-rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	var input UpdateRuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.service.UpdateRule(c.Request.Context(), id, services.RuleUpdate{
		Condition:        input.Condition,
		ApproverGroupID:  input.ApproverGroupID,
		SubmitterGroupID: input.SubmitterGroupID,
		Order:            input.Order,
		IsActive:         input.IsActive,
	}, nil)
	if err != nil {
		c.JSON(ruleStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule removes a rule
// @Summary Delete approval rule
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 204 {object} nil
// @Router /api/v1/approval-rules/{id} [delete]
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	if err := h.service.DeleteRule(c.Request.Context(), id); err != nil {
		c.JSON(ruleStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// EvaluateRules resolves required approver groups for a submission and
// optionally validates an approval line against them
// @Summary Evaluate approval rules
// @Tags Rules
// @Accept json
// @Produce json
// @Param request body EvaluateInput true "Submission context"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approval-rules/evaluate [post]
func (h *RuleHandler) EvaluateRules(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var input EvaluateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evalCtx := rules.Context{
		TotalAmount:   input.TotalAmount,
		ItemCount:     input.ItemCount,
		CategoryCodes: input.CategoryCodes,
		SubmitterID:   userID,
		Fields:        input.Fields,
	}
	required, err := h.service.EvaluateRequired(c.Request.Context(), input.OwnerType, input.OwnerID, evalCtx)
	if err != nil {
		c.JSON(ruleStatus(err), gin.H{"error": err.Error()})
		return
	}

	response := gin.H{
		"required_groups": required,
		"line_satisfies":  true,
	}
	if input.ApprovalLineID != nil {
		err := h.service.ValidateLineAgainstRules(c.Request.Context(), *input.ApprovalLineID, required)
		var missing *services.MissingApproversError
		switch {
		case errors.As(err, &missing):
			response["line_satisfies"] = false
			response["missing_groups"] = missing.GroupNames
		case err != nil:
			c.JSON(ruleStatus(err), gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

func ruleStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrRuleNotFound),
		errors.Is(err, services.ErrGroupNotFound),
		errors.Is(err, services.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidOwnerType), errors.Is(err, services.ErrInvalidCondition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

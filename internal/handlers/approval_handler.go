package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"expense-approval/internal/services"
)

// ApprovalHandler handles HTTP requests for approval requests
type ApprovalHandler struct {
	service *services.ApprovalService
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(service *services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// CreateRequestInput is the payload for creating an approval request.
type CreateRequestInput struct {
	TargetType     string    `json:"target_type" binding:"required"`
	TargetID       uuid.UUID `json:"target_id" binding:"required"`
	ApprovalLineID uuid.UUID `json:"approval_line_id" binding:"required"`
}

// CreateRequest creates an approval request for a target
// @Summary Create approval request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param request body CreateRequestInput true "Create Request"
// @Success 201 {object} models.ApprovalRequest
// @Router /api/v1/approvals [post]
func (h *ApprovalHandler) CreateRequest(c *gin.Context) {
	var input CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request, err := h.service.CreateWithLine(c.Request.Context(), input.TargetType, input.TargetID, input.ApprovalLineID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrUnknownTargetType), errors.Is(err, services.ErrLineInactive):
			status = http.StatusBadRequest
		case errors.Is(err, services.ErrLineNotFound):
			status = http.StatusNotFound
		case errors.Is(err, services.ErrTargetHasLiveRequest):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, request)
}

// GetRequest retrieves an approval request by ID
// @Summary Get approval request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.ApprovalRequest
// @Router /api/v1/approvals/{id} [get]
func (h *ApprovalHandler) GetRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	request, err := h.service.GetRequest(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrRequestNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, request)
}

// GetRequestByTarget retrieves the request owning a target reference
// @Summary Get approval request by target
// @Tags Approvals
// @Produce json
// @Param target_type query string true "Target type"
// @Param target_id query string true "Target ID"
// @Success 200 {object} models.ApprovalRequest
// @Router /api/v1/approvals/by-target [get]
func (h *ApprovalHandler) GetRequestByTarget(c *gin.Context) {
	targetType := c.Query("target_type")
	targetID, err := uuid.Parse(c.Query("target_id"))
	if targetType == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_type and target_id are required"})
		return
	}

	request, err := h.service.GetRequestByTarget(c.Request.Context(), targetType, targetID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrRequestNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, request)
}

// GetRequestProgress reports where a request sits in its line
// @Summary Get approval request progress
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approvals/{id}/progress [get]
func (h *ApprovalHandler) GetRequestProgress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	request, err := h.service.GetRequest(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrRequestNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            request.Status,
		"current_step":      request.CurrentStep,
		"max_step":          request.MaxStep(),
		"progress":          request.ProgressPercentage(),
		"current_approvers": request.CurrentApproverNames(),
	})
}

// DeleteRequestByTarget destroys the request owning a target reference.
// Target services call this when the underlying record is destroyed.
// @Summary Delete approval request by target
// @Tags Approvals
// @Produce json
// @Param target_type query string true "Target type"
// @Param target_id query string true "Target ID"
// @Success 204 {object} nil
// @Router /api/v1/approvals/by-target [delete]
func (h *ApprovalHandler) DeleteRequestByTarget(c *gin.Context) {
	targetType := c.Query("target_type")
	targetID, err := uuid.Parse(c.Query("target_id"))
	if targetType == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_type and target_id are required"})
		return
	}

	if err := h.service.DeleteForTarget(c.Request.Context(), targetType, targetID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListPendingForMe lists requests waiting on the current user
// @Summary List requests waiting on me
// @Tags Approvals
// @Produce json
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approvals/pending [get]
func (h *ApprovalHandler) ListPendingForMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	requests, total, err := h.service.ListForApprover(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   requests,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ApproveRequest records the current user's approval
// @Summary Approve request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body map[string]string false "Comment"
// @Success 200 {object} models.ApprovalRequest
// @Router /api/v1/approvals/{id}/approve [post]
func (h *ApprovalHandler) ApproveRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body struct {
		Comment string `json:"comment"`
	}
	_ = c.ShouldBindJSON(&body)

	request, err := h.service.Approve(c.Request.Context(), id, userID, body.Comment)
	if err != nil {
		c.JSON(decisionStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, request)
}

// RejectRequest records the current user's rejection
// @Summary Reject request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body map[string]string true "Comment"
// @Success 200 {object} models.ApprovalRequest
// @Router /api/v1/approvals/{id}/reject [post]
func (h *ApprovalHandler) RejectRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body struct {
		Comment string `json:"comment" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "comment is required for rejection"})
		return
	}

	request, err := h.service.Reject(c.Request.Context(), id, userID, body.Comment)
	if err != nil {
		c.JSON(decisionStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, request)
}

// CancelRequest cancels a pending approval request
// @Summary Cancel request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.ApprovalRequest
// @Router /api/v1/approvals/{id} [delete]
func (h *ApprovalHandler) CancelRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	request, err := h.service.Cancel(c.Request.Context(), id, userID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrRequestNotFound):
			status = http.StatusNotFound
		case errors.Is(err, services.ErrRequestNotPending):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, request)
}

// RecordView records a reference entrant's view of the current step
// @Summary Record a reference view
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 204 {object} nil
// @Router /api/v1/approvals/{id}/view [post]
func (h *ApprovalHandler) RecordView(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.service.RecordView(c.Request.Context(), id, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrRequestNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// ResetRequest opens a new approval round after the target changed
// @Summary Reset request for re-approval
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.ApprovalRequest
// @Router /api/v1/approvals/{id}/reset [post]
func (h *ApprovalHandler) ResetRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	request, err := h.service.ResetForReapproval(c.Request.Context(), id, userID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrRequestNotFound):
			status = http.StatusNotFound
		case errors.Is(err, services.ErrRequestNotPending):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, request)
}

// GetRequestHistory retrieves the chronological audit trail
// @Summary Get request history
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {array} models.ApprovalHistory
// @Router /api/v1/approvals/{id}/history [get]
func (h *ApprovalHandler) GetRequestHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	history, err := h.service.GetHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.JSON(http.StatusOK, history)
}

// currentUserID pulls the authenticated user out of the gin context.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user_id"})
		return uuid.Nil, false
	}
	return userID, true
}

// decisionStatus maps approve/reject errors onto HTTP statuses.
func decisionStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotCurrentApprover):
		return http.StatusForbidden
	case errors.Is(err, services.ErrAlreadyProcessed),
		errors.Is(err, services.ErrAlreadyApproved),
		errors.Is(err, services.ErrRequestNotPending):
		return http.StatusConflict
	case errors.Is(err, services.ErrCommentRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"expense-approval/internal/services"
)

// LineHandler handles HTTP requests for approval line templates
type LineHandler struct {
	service *services.LineService
}

// NewLineHandler creates a new LineHandler
func NewLineHandler(service *services.LineService) *LineHandler {
	return &LineHandler{service: service}
}

// CreateLineInput is the payload for creating a line.
type CreateLineInput struct {
	Name  string                   `json:"name" binding:"required"`
	Steps []services.LineStepInput `json:"steps" binding:"required"`
}

// UpdateLineInput is the payload for updating a line. Nil fields are
// left untouched.
type UpdateLineInput struct {
	Name  *string                  `json:"name"`
	Steps []services.LineStepInput `json:"steps"`
}

// CreateLine creates an approval line template
// @Summary Create approval line
// @Tags Lines
// @Accept json
// @Produce json
// @Param request body CreateLineInput true "Create Line"
// @Success 201 {object} models.ApprovalLine
// @Router /api/v1/approval-lines [post]
func (h *LineHandler) CreateLine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var input CreateLineInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	line, err := h.service.CreateLine(c.Request.Context(), userID, input.Name, input.Steps)
	if err != nil {
		c.JSON(lineStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, line)
}

// GetLine retrieves a line with its steps
// @Summary Get approval line
// @Tags Lines
// @Produce json
// @Param id path string true "Line ID"
// @Success 200 {object} models.ApprovalLine
// @Router /api/v1/approval-lines/{id} [get]
func (h *LineHandler) GetLine(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line id"})
		return
	}

	line, err := h.service.GetLine(c.Request.Context(), id)
	if err != nil {
		c.JSON(lineStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, line)
}

// ListLines lists the current user's line templates
// @Summary List my approval lines
// @Tags Lines
// @Produce json
// @Param active query bool false "Active lines only"
// @Success 200 {array} models.ApprovalLine
// @Router /api/v1/approval-lines [get]
func (h *LineHandler) ListLines(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	activeOnly := c.Query("active") == "true"
	lines, err := h.service.ListLines(c.Request.Context(), userID, activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.JSON(http.StatusOK, lines)
}

// UpdateLine renames a line and/or replaces its steps
// @Summary Update approval line
// @Tags Lines
// @Accept json
// @Produce json
// @Param id path string true "Line ID"
// @Param request body UpdateLineInput true "Update Line"
// @Success 200 {object} models.ApprovalLine
// @Router /api/v1/approval-lines/{id} [put]
func (h *LineHandler) UpdateLine(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line id"})
		return
	}

	var input UpdateLineInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	line, err := h.service.UpdateLine(c.Request.Context(), id, input.Name, input.Steps)
	if err != nil {
		c.JSON(lineStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, line)
}

// DeleteLine soft-deletes a line template
// @Summary Delete approval line
// @Tags Lines
// @Produce json
// @Param id path string true "Line ID"
// @Success 204 {object} nil
// @Router /api/v1/approval-lines/{id} [delete]
func (h *LineHandler) DeleteLine(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line id"})
		return
	}

	if err := h.service.DeleteLine(c.Request.Context(), id); err != nil {
		c.JSON(lineStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// DuplicateLine copies a line into the current user's templates
// @Summary Duplicate approval line
// @Tags Lines
// @Produce json
// @Param id path string true "Line ID"
// @Success 201 {object} models.ApprovalLine
// @Router /api/v1/approval-lines/{id}/duplicate [post]
func (h *LineHandler) DuplicateLine(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line id"})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	line, err := h.service.DuplicateLine(c.Request.Context(), id, userID)
	if err != nil {
		c.JSON(lineStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, line)
}

// ReorderLines rewrites the display order of the user's lines
// @Summary Reorder approval lines
// @Tags Lines
// @Accept json
// @Produce json
// @Param request body map[string][]string true "Ordered line IDs"
// @Success 204 {object} nil
// @Router /api/v1/approval-lines/reorder [post]
func (h *LineHandler) ReorderLines(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body struct {
		LineIDs []uuid.UUID `json:"line_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.ReorderLines(c.Request.Context(), userID, body.LineIDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.Status(http.StatusNoContent)
}

func lineStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrLineNameTaken), errors.Is(err, services.ErrLineInUse):
		return http.StatusConflict
	case errors.Is(err, services.ErrLineNameRequired),
		errors.Is(err, services.ErrLineNeedsSteps),
		errors.Is(err, services.ErrDuplicateApprover),
		errors.Is(err, services.ErrApprovalTypeNeeded):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

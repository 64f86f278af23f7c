package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"expense-approval/internal/services"
)

// GroupHandler handles HTTP requests for approver groups
type GroupHandler struct {
	service *services.GroupService
}

// NewGroupHandler creates a new GroupHandler
func NewGroupHandler(service *services.GroupService) *GroupHandler {
	return &GroupHandler{service: service}
}

// CreateGroupInput is the payload for creating a group.
type CreateGroupInput struct {
	Name     string `json:"name" binding:"required"`
	Priority int    `json:"priority" binding:"required"`
}

// UpdateGroupInput is the payload for updating a group. Priority is
// deliberately absent; it is fixed at creation.
type UpdateGroupInput struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

// CreateGroup creates an approver group
// @Summary Create approver group
// @Tags Groups
// @Accept json
// @Produce json
// @Param request body CreateGroupInput true "Create Group"
// @Success 201 {object} models.ApproverGroup
// @Router /api/v1/approver-groups [post]
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var input CreateGroupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.service.CreateGroup(c.Request.Context(), input.Name, input.Priority, userID)
	if err != nil {
		c.JSON(groupStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, group)
}

// GetGroup retrieves a group with its members
// @Summary Get approver group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} models.ApproverGroup
// @Router /api/v1/approver-groups/{id} [get]
func (h *GroupHandler) GetGroup(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	group, err := h.service.GetGroup(c.Request.Context(), id)
	if err != nil {
		c.JSON(groupStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, group)
}

// ListGroups lists approver groups ordered by priority
// @Summary List approver groups
// @Tags Groups
// @Produce json
// @Param active query bool false "Active groups only"
// @Success 200 {array} models.ApproverGroup
// @Router /api/v1/approver-groups [get]
func (h *GroupHandler) ListGroups(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	groups, err := h.service.ListGroups(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.JSON(http.StatusOK, groups)
}

// ListMyGroups lists the active groups the calling user belongs to
// @Summary List my approver groups
// @Tags Groups
// @Produce json
// @Success 200 {array} models.ApproverGroup
// @Router /api/v1/approver-groups/mine [get]
func (h *GroupHandler) ListMyGroups(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groups, err := h.service.GroupsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.JSON(http.StatusOK, groups)
}

// UpdateGroup renames or activates/deactivates a group
// @Summary Update approver group
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param request body UpdateGroupInput true "Update Group"
// @Success 200 {object} models.ApproverGroup
// @Router /api/v1/approver-groups/{id} [put]
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	var input UpdateGroupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.service.UpdateGroup(c.Request.Context(), id, input.Name, input.IsActive)
	if err != nil {
		c.JSON(groupStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, group)
}

// DeleteGroup removes a group not referenced by any rule
// @Summary Delete approver group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 204 {object} nil
// @Router /api/v1/approver-groups/{id} [delete]
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	if err := h.service.DeleteGroup(c.Request.Context(), id); err != nil {
		c.JSON(groupStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// AddMember adds a user to a group
// @Summary Add group member
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param request body map[string]string true "User ID"
// @Success 200 {object} models.ApproverGroup
// @Router /api/v1/approver-groups/{id}/members [post]
func (h *GroupHandler) AddMember(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body struct {
		UserID uuid.UUID `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.service.AddMember(c.Request.Context(), id, body.UserID, actorID)
	if err != nil {
		c.JSON(groupStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, group)
}

// RemoveMember removes a user from a group
// @Summary Remove group member
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Param userId path string true "User ID"
// @Success 204 {object} nil
// @Router /api/v1/approver-groups/{id}/members/{userId} [delete]
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), id, userID); err != nil {
		c.JSON(groupStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func groupStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrGroupNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrGroupNameTaken), errors.Is(err, services.ErrGroupReferenced):
		return http.StatusConflict
	case errors.Is(err, services.ErrGroupNameRequired), errors.Is(err, services.ErrInvalidPriority):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

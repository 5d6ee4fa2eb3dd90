package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// EngagementHandler обслуживает жизненный цикл проектов.
type EngagementHandler struct {
	svc *service.EngagementService
}

// NewEngagementHandler создаёт новый хэндлер.
func NewEngagementHandler(s *service.EngagementService) *EngagementHandler {
	return &EngagementHandler{svc: s}
}

// Create обрабатывает POST /engagements.
func (h *EngagementHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var input service.CreateEngagementInput
	if err := c.ShouldBindJSON(&input); err != nil {
		common.RespondBadRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	e, err := h.svc.Create(c.Request.Context(), userID, input)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// Get обрабатывает GET /engagements/:id.
func (h *EngagementHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	e, err := h.svc.Get(c.Request.Context(), id, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// List обрабатывает GET /engagements.
func (h *EngagementHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	limit, offset := common.GetPagination(c)
	engagements, err := h.svc.List(c.Request.Context(), userID, role, limit, offset)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, engagements)
}

// Transition обрабатывает PUT /engagements/:id/status.
func (h *EngagementHandler) Transition(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поле status обязательно")
		return
	}

	e, err := h.svc.Transition(c.Request.Context(), id, req.Status, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ForceTransition обрабатывает PUT /engagements/:id/status/force (только admin).
func (h *EngagementHandler) ForceTransition(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поле status обязательно")
		return
	}

	e, err := h.svc.ForceTransition(c.Request.Context(), id, req.Status, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// DisputeHandler обслуживает споры по заблокированным средствам.
type DisputeHandler struct {
	svc *service.DisputeService
}

// NewDisputeHandler создаёт новый хэндлер.
func NewDisputeHandler(s *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// Initiate обрабатывает POST /engagements/:id/disputes.
func (h *DisputeHandler) Initiate(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	engagementID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	var req struct {
		MilestoneID *uuid.UUID `json:"milestone_id"`
		Type        string     `json:"type" binding:"required"`
		Reason      string     `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поля type и reason обязательны")
		return
	}

	input := service.InitiateDisputeInput{
		EngagementID: engagementID,
		MilestoneID:  req.MilestoneID,
		Type:         req.Type,
		Reason:       req.Reason,
	}

	d, err := h.svc.Initiate(c.Request.Context(), input, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// Get обрабатывает GET /disputes/:id.
func (h *DisputeHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	disputeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор спора")
		return
	}

	d, err := h.svc.Get(c.Request.Context(), disputeID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListByEngagement обрабатывает GET /engagements/:id/disputes.
func (h *DisputeHandler) ListByEngagement(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	engagementID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	disputes, err := h.svc.ListByEngagement(c.Request.Context(), engagementID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}

// ListOpen обрабатывает GET /disputes — очередь открытых споров для
// модераторов.
func (h *DisputeHandler) ListOpen(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListOpen(c.Request.Context(), role, limit, offset)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}

// TakeUnderReview обрабатывает POST /disputes/:id/review.
func (h *DisputeHandler) TakeUnderReview(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	disputeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор спора")
		return
	}

	d, err := h.svc.TakeUnderReview(c.Request.Context(), disputeID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Resolve обрабатывает POST /disputes/:id/resolve.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	disputeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор спора")
		return
	}

	var req struct {
		Decision         string   `json:"decision" binding:"required"`
		ResolutionAmount *float64 `json:"resolution_amount"`
		Notes            *string  `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поле decision обязательно")
		return
	}

	d, err := h.svc.Resolve(c.Request.Context(), disputeID, req.Decision, req.ResolutionAmount, req.Notes, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

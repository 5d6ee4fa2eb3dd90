package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// MatchHandler обслуживает предложения метчинга.
type MatchHandler struct {
	svc *service.MatchingService
}

// NewMatchHandler создаёт новый хэндлер.
func NewMatchHandler(s *service.MatchingService) *MatchHandler {
	return &MatchHandler{svc: s}
}

// Run обрабатывает POST /engagements/:id/matching.
// Обычно метчинг стартует автоматически после оплаты; ручной перезапуск
// доступен модераторам и администраторам.
func (h *MatchHandler) Run(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)
	if role != models.RoleAdmin && role != models.RoleModerator {
		common.RespondError(c, http.StatusForbidden, "недостаточно прав")
		return
	}

	engagementID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	matches, err := h.svc.RunMatching(c.Request.Context(), engagementID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, matches)
}

// List обрабатывает GET /engagements/:id/matches.
func (h *MatchHandler) List(c *gin.Context) {
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

	matches, err := h.svc.ListMatches(c.Request.Context(), engagementID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, matches)
}

// Accept обрабатывает POST /matches/:id/accept.
func (h *MatchHandler) Accept(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор предложения")
		return
	}

	m, err := h.svc.AcceptMatch(c.Request.Context(), matchID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Reject обрабатывает POST /matches/:id/reject.
func (h *MatchHandler) Reject(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор предложения")
		return
	}

	m, err := h.svc.RejectMatch(c.Request.Context(), matchID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

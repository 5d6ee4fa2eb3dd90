package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
)

// AuditHandler отдаёт журнал действий по сущности. Журнал доступен только
// модераторам и администраторам.
type AuditHandler struct {
	repo *repository.AuditRepository
}

// NewAuditHandler создаёт новый хэндлер.
func NewAuditHandler(repo *repository.AuditRepository) *AuditHandler {
	return &AuditHandler{repo: repo}
}

// ListByEngagement обрабатывает GET /engagements/:id/audit.
func (h *AuditHandler) ListByEngagement(c *gin.Context) {
	role, err := common.CurrentUserRole(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	if role != models.RoleAdmin && role != models.RoleModerator {
		common.RespondError(c, http.StatusForbidden, "журнал доступен только модераторам и администраторам")
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	records, err := h.repo.ListByTarget(c.Request.Context(), "engagement", id, limit, offset)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// VerificationHandler обслуживает процесс верификации фрилансеров.
type VerificationHandler struct {
	svc *service.VerificationService
}

// NewVerificationHandler создаёт новый хэндлер.
func NewVerificationHandler(s *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{svc: s}
}

// requireAssessor пропускает только модераторов и администраторов.
func requireAssessor(c *gin.Context) (uuid.UUID, string, bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, "", false
	}
	role, _ := common.CurrentUserRole(c)
	if role != models.RoleModerator && role != models.RoleAdmin {
		common.RespondError(c, http.StatusForbidden, "недостаточно прав")
		return uuid.Nil, "", false
	}
	return userID, role, true
}

// Start обрабатывает POST /verification/start — фрилансер запускает
// собственную верификацию.
func (h *VerificationHandler) Start(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	result, err := h.svc.Start(c.Request.Context(), userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// RecordIdentity обрабатывает POST /verification/:id/identity.
func (h *VerificationHandler) RecordIdentity(c *gin.Context) {
	if _, _, ok := requireAssessor(c); !ok {
		return
	}

	freelancerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор фрилансера")
		return
	}

	var req struct {
		Score float64 `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поле score обязательно")
		return
	}

	result, err := h.svc.RecordIdentityScore(c.Request.Context(), freelancerID, req.Score)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecordEnglish обрабатывает POST /verification/:id/english.
func (h *VerificationHandler) RecordEnglish(c *gin.Context) {
	if _, _, ok := requireAssessor(c); !ok {
		return
	}

	freelancerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор фрилансера")
		return
	}

	var req struct {
		Score float64 `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поле score обязательно")
		return
	}

	result, err := h.svc.RecordEnglishScore(c.Request.Context(), freelancerID, req.Score)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecordSkill обрабатывает POST /verification/:id/skills.
func (h *VerificationHandler) RecordSkill(c *gin.Context) {
	if _, _, ok := requireAssessor(c); !ok {
		return
	}

	freelancerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор фрилансера")
		return
	}

	var req struct {
		Skill string  `json:"skill" binding:"required"`
		Score float64 `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поля skill и score обязательны")
		return
	}

	result, err := h.svc.RecordSkillScore(c.Request.Context(), freelancerID, req.Skill, req.Score)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Complete обрабатывает POST /verification/:id/complete — подводит итог
// с учётом антифрод-контекста прохождения тестов.
func (h *VerificationHandler) Complete(c *gin.Context) {
	if _, _, ok := requireAssessor(c); !ok {
		return
	}

	freelancerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор фрилансера")
		return
	}

	var vctx models.VerificationContext
	if err := c.ShouldBindJSON(&vctx); err != nil {
		common.RespondBadRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	result, err := h.svc.Complete(c.Request.Context(), freelancerID, vctx)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Override обрабатывает POST /verification/:id/override — ручное решение
// модератора поверх автоматического.
func (h *VerificationHandler) Override(c *gin.Context) {
	userID, role, ok := requireAssessor(c)
	if !ok {
		return
	}

	freelancerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор фрилансера")
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поле status обязательно")
		return
	}

	result, err := h.svc.Override(c.Request.Context(), freelancerID, req.Status, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Get обрабатывает GET /verification/:id. Фрилансер видит только свою
// верификацию, модераторы и администраторы — любую.
func (h *VerificationHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	freelancerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор фрилансера")
		return
	}

	if freelancerID != userID && role != models.RoleModerator && role != models.RoleAdmin {
		common.RespondError(c, http.StatusForbidden, "недостаточно прав")
		return
	}

	result, err := h.svc.Get(c.Request.Context(), freelancerID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

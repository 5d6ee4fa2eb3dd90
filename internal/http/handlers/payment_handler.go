package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// PaymentHandler обслуживает финансирование эскроу и историю платежей.
type PaymentHandler struct {
	svc *service.PaymentService
}

// NewPaymentHandler создаёт новый хэндлер.
func NewPaymentHandler(s *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: s}
}

// RequestFunding обрабатывает POST /engagements/:id/funding — создаёт
// charge в платёжном шлюзе и переводит проект в ожидание оплаты.
func (h *PaymentHandler) RequestFunding(c *gin.Context) {
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

	payment, err := h.svc.RequestFunding(c.Request.Context(), engagementID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// List обрабатывает GET /engagements/:id/payments.
func (h *PaymentHandler) List(c *gin.Context) {
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

	payments, err := h.svc.ListByEngagement(c.Request.Context(), engagementID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// WebhookHandler принимает события платёжного шлюза.
// Endpoint не требует пользовательской авторизации: подлинность события
// подтверждается общим секретом в заголовке.
type WebhookHandler struct {
	svc    *service.PaymentService
	apiKey string
}

// NewWebhookHandler создаёт новый хэндлер.
func NewWebhookHandler(s *service.PaymentService, apiKey string) *WebhookHandler {
	return &WebhookHandler{svc: s, apiKey: apiKey}
}

// HandleGatewayEvent обрабатывает POST /webhooks/gateway.
// Повторная доставка того же event_id отвечает 200 без второй мутации:
// шлюз ретраит до первого успешного ответа.
func (h *WebhookHandler) HandleGatewayEvent(c *gin.Context) {
	if h.apiKey != "" && c.GetHeader("X-Gateway-Key") != h.apiKey {
		common.RespondUnauthorized(c, "невалидный ключ шлюза")
		return
	}

	var event models.GatewayEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		common.RespondBadRequest(c, "некорректное тело события: "+err.Error())
		return
	}

	if err := h.svc.HandleGatewayEvent(c.Request.Context(), event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.EventID,
			"event_type": event.EventType,
		}).Warn("webhook: событие шлюза не обработано")
		common.RespondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

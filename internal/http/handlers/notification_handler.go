package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// NotificationHandler обслуживает уведомления пользователя.
type NotificationHandler struct {
	svc *service.NotificationService
}

// NewNotificationHandler создаёт новый хэндлер.
func NewNotificationHandler(s *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: s}
}

// List обрабатывает GET /notifications.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	unreadOnly := c.Query("unread") == "true"

	notifications, err := h.svc.ListNotifications(c.Request.Context(), userID, limit, offset, unreadOnly)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

// MarkAsRead обрабатывает PUT /notifications/:id/read.
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор уведомления")
		return
	}

	if err := h.svc.MarkAsRead(c.Request.Context(), id, userID); err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MarkAllAsRead обрабатывает PUT /notifications/read-all.
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	if err := h.svc.MarkAllAsRead(c.Request.Context(), userID); err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CountUnread обрабатывает GET /notifications/unread/count.
func (h *NotificationHandler) CountUnread(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	count, err := h.svc.CountUnread(c.Request.Context(), userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/models"
)

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Pusher доставляет уведомление в реальном времени (WebSocket hub).
type Pusher interface {
	Push(userID uuid.UUID, payload []byte)
}

// NotificationService содержит бизнес-логику работы с уведомлениями.
type NotificationService struct {
	repo   NotificationRepository
	pusher Pusher
}

// NewNotificationService создаёт новый сервис уведомлений.
func NewNotificationService(repo NotificationRepository, pusher Pusher) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher}
}

// Notify рассылает уведомление списку пользователей. Доставка best-effort:
// сбой записи одного уведомления логируется и не прерывает остальные.
func (s *NotificationService) Notify(ctx context.Context, userIDs []uuid.UUID, title, message, category string, data map[string]any) {
	payload := map[string]any{
		"title":    title,
		"message":  message,
		"category": category,
		"data":     data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("notification service: marshal payload")
		return
	}

	for _, userID := range userIDs {
		notification := &models.Notification{
			UserID:  userID,
			Payload: payloadBytes,
			IsRead:  false,
		}
		if err := s.repo.Create(ctx, notification); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Error("notification service: не удалось сохранить уведомление")
			continue
		}
		if s.pusher != nil {
			s.pusher.Push(userID, payloadBytes)
		}
	}
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление как прочитанное.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if notification.UserID != userID {
		return fmt.Errorf("notification service: у вас нет прав на это уведомление")
	}

	return s.repo.MarkAsRead(ctx, id)
}

// MarkAllAsRead отмечает все уведомления пользователя как прочитанные.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, payload, is_read)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	row := r.db.QueryRowxContext(ctx, query, n.UserID, n.Payload, n.IsRead)
	if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("notification repository: create %w", err)
	}
	return nil
}

// GetByID возвращает уведомление.
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return common.GetByID[models.Notification](ctx, r.db, "notifications", id, common.ErrNotFound)
}

// List возвращает уведомления пользователя.
func (r *NotificationRepository) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	var items []models.Notification
	query := `SELECT * FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	err := r.db.SelectContext(ctx, &items, query, userID, limit, offset)
	return items, err
}

// MarkAsRead отмечает уведомление прочитанным.
func (r *NotificationRepository) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	return err
}

// MarkAllAsRead отмечает все уведомления пользователя прочитанными.
func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1`, userID)
	return err
}

// CountUnread возвращает число непрочитанных уведомлений.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE
	`, userID)
	return count, err
}

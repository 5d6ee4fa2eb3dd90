package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/talentflow-backend/internal/models"
)

// AuditRepository пишет append-only журнал. Записи не обновляются и не
// удаляются.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create добавляет запись журнала.
func (r *AuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_log (action, actor_id, actor_role, target_type, target_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		rec.Action, rec.ActorID, rec.ActorRole, rec.TargetType, rec.TargetID, rec.Details,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return fmt.Errorf("audit repository: create %w", err)
	}
	return nil
}

// ListByTarget возвращает журнал по сущности в хронологическом порядке.
func (r *AuditRepository) ListByTarget(ctx context.Context, targetType string, targetID uuid.UUID, limit, offset int) ([]models.AuditRecord, error) {
	var items []models.AuditRecord
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM audit_log
		WHERE target_type = $1 AND target_id = $2
		ORDER BY created_at ASC LIMIT $3 OFFSET $4
	`, targetType, targetID, limit, offset)
	return items, err
}

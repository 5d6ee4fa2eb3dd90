package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

type MilestoneRepository struct {
	db *sqlx.DB
}

func NewMilestoneRepository(db *sqlx.DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

// CreateBatch сохраняет набор вех проекта одной транзакцией.
func (r *MilestoneRepository) CreateBatch(ctx context.Context, milestones []*models.Milestone) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, m := range milestones {
			row := tx.QueryRowxContext(ctx, `
				INSERT INTO milestones (engagement_id, title, description, seq_order, amount, currency, status, due_date)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id, created_at, updated_at
			`, m.EngagementID, m.Title, m.Description, m.SeqOrder, m.Amount, m.Currency, m.Status, m.DueDate)
			if err := row.Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
				return fmt.Errorf("milestone repository: create batch %w", err)
			}
		}
		return nil
	})
}

// GetByID возвращает веху по идентификатору.
func (r *MilestoneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return common.GetByID[models.Milestone](ctx, r.db, "milestones", id, common.ErrNotFound)
}

// ListByEngagement возвращает вехи проекта в порядке следования.
func (r *MilestoneRepository) ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Milestone, error) {
	var items []models.Milestone
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM milestones WHERE engagement_id = $1 ORDER BY seq_order ASC
	`, engagementID)
	return items, err
}

// UpdateStatus выполняет optimistic переход статуса вехи.
// autoReleaseAt ставится только при переходе в approved.
func (r *MilestoneRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, autoReleaseAt *time.Time) (*models.Milestone, error) {
	var m models.Milestone
	query := `
		UPDATE milestones SET
			status = $3,
			submitted_at = CASE WHEN $3 = 'submitted' THEN NOW() ELSE submitted_at END,
			approved_at = CASE WHEN $3 = 'approved' AND approved_at IS NULL THEN NOW() ELSE approved_at END,
			auto_release_at = CASE WHEN $3 = 'approved' THEN $4 ELSE auto_release_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`
	if err := r.db.GetContext(ctx, &m, query, id, from, to, autoReleaseAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("milestone repository: update status %w", err)
	}
	return &m, nil
}

// AddDeliverables прикрепляет результаты работы к вехе.
func (r *MilestoneRepository) AddDeliverables(ctx context.Context, milestoneID uuid.UUID, deliverables []models.Deliverable) ([]models.Deliverable, error) {
	saved := make([]models.Deliverable, 0, len(deliverables))
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, d := range deliverables {
			var row models.Deliverable
			err := tx.GetContext(ctx, &row, `
				INSERT INTO deliverables (milestone_id, name, file_url)
				VALUES ($1, $2, $3)
				RETURNING *
			`, milestoneID, d.Name, d.FileURL)
			if err != nil {
				return fmt.Errorf("milestone repository: add deliverable %w", err)
			}
			saved = append(saved, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ListDeliverables возвращает результаты работы по вехе.
func (r *MilestoneRepository) ListDeliverables(ctx context.Context, milestoneID uuid.UUID) ([]models.Deliverable, error) {
	var items []models.Deliverable
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM deliverables WHERE milestone_id = $1 ORDER BY submitted_at ASC
	`, milestoneID)
	return items, err
}

// ListDueForAutoRelease возвращает одобренные вехи с истёкшим таймером.
// Кандидаты перепроверяются внутри транзакции списания, поэтому свип
// безопасен при конкурентном запуске.
func (r *MilestoneRepository) ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.Milestone, error) {
	var items []models.Milestone
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM milestones
		WHERE status = $1 AND auto_release_at IS NOT NULL AND auto_release_at <= $2
		ORDER BY auto_release_at ASC LIMIT $3
	`, models.MilestoneStatusApproved, now, limit)
	return items, err
}

// CountUnpaid возвращает число вех проекта, ещё не доведённых до paid.
func (r *MilestoneRepository) CountUnpaid(ctx context.Context, engagementID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM milestones WHERE engagement_id = $1 AND status <> $2
	`, engagementID, models.MilestoneStatusPaid)
	return count, err
}

// SumAmounts возвращает сумму вех проекта.
func (r *MilestoneRepository) SumAmounts(ctx context.Context, engagementID uuid.UUID) (float64, error) {
	var sum float64
	err := r.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM milestones WHERE engagement_id = $1
	`, engagementID)
	return sum, err
}

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

var (
	// ErrStaleStatus возвращается, когда optimistic check-then-write проиграл
	// гонку: статус успел измениться между чтением и записью.
	ErrStaleStatus = errors.New("status changed concurrently")
)

type EngagementRepository struct {
	db *sqlx.DB
}

func NewEngagementRepository(db *sqlx.DB) *EngagementRepository {
	return &EngagementRepository{db: db}
}

// Create сохраняет новый проект в статусе draft.
func (r *EngagementRepository) Create(ctx context.Context, e *models.Engagement) error {
	query := `
		INSERT INTO engagements (
			client_id, title, description, required_skills, category,
			experience_level, hire_type, status, total_amount,
			platform_fee_percent, currency, start_date, end_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, escrowed_amount, released_amount, created_at, updated_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		e.ClientID, e.Title, e.Description, e.RequiredSkills, e.Category,
		e.ExperienceLevel, e.HireType, e.Status, e.TotalAmount,
		e.PlatformFeePercent, e.Currency, e.StartDate, e.EndDate,
	)
	if err := row.Scan(&e.ID, &e.EscrowedAmount, &e.ReleasedAmount, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("engagement repository: create %w", err)
	}
	return nil
}

// GetByID возвращает проект по идентификатору.
func (r *EngagementRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error) {
	return common.GetByID[models.Engagement](ctx, r.db, "engagements", id, common.ErrNotFound)
}

// ListByClient возвращает проекты клиента.
func (r *EngagementRepository) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Engagement, error) {
	var items []models.Engagement
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM engagements WHERE client_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, clientID, limit, offset)
	return items, err
}

// ListByFreelancer возвращает проекты, на которые назначен фрилансер.
func (r *EngagementRepository) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, limit, offset int) ([]models.Engagement, error) {
	var items []models.Engagement
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM engagements WHERE freelancer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, freelancerID, limit, offset)
	return items, err
}

// UpdateStatus выполняет optimistic переход статуса: запись проходит только
// если текущий статус равен from, иначе ErrStaleStatus. Отметки времени
// (started_at, completed_at, matched_at) ставятся один раз и не перетираются.
func (r *EngagementRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Engagement, error) {
	var e models.Engagement
	query := `
		UPDATE engagements SET
			status = $3,
			started_at = CASE WHEN $3 = 'in_progress' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $3 = 'completed' AND completed_at IS NULL THEN NOW() ELSE completed_at END,
			matched_at = CASE WHEN $3 = 'matched' AND matched_at IS NULL THEN NOW() ELSE matched_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`
	if err := r.db.GetContext(ctx, &e, query, id, from, to); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Либо проект не существует, либо статус уже другой.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("engagement repository: update status %w", err)
	}
	return &e, nil
}

// ForceStatus выставляет статус без проверки текущего (admin override).
func (r *EngagementRepository) ForceStatus(ctx context.Context, id uuid.UUID, to string) (*models.Engagement, error) {
	var e models.Engagement
	query := `
		UPDATE engagements SET
			status = $2,
			started_at = CASE WHEN $2 = 'in_progress' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 = 'completed' AND completed_at IS NULL THEN NOW() ELSE completed_at END,
			matched_at = CASE WHEN $2 = 'matched' AND matched_at IS NULL THEN NOW() ELSE matched_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`
	if err := r.db.GetContext(ctx, &e, query, id, to); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("engagement repository: force status %w", err)
	}
	return &e, nil
}

// SetFreelancer назначает фрилансера на проект.
func (r *EngagementRepository) SetFreelancer(ctx context.Context, id, freelancerID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE engagements SET freelancer_id = $2, updated_at = NOW() WHERE id = $1
	`, id, freelancerID)
	if err != nil {
		return fmt.Errorf("engagement repository: set freelancer %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// ClearFreelancer снимает назначение (replacement-решение спора).
func (r *EngagementRepository) ClearFreelancer(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE engagements SET freelancer_id = NULL, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("engagement repository: clear freelancer %w", err)
	}
	return nil
}

// ListFundingExpired возвращает проекты, зависшие в pending_funding дольше
// допустимого окна. Используется свипом; сам переход всё равно проходит
// optimistic-проверку.
func (r *EngagementRepository) ListFundingExpired(ctx context.Context, before time.Time, limit int) ([]models.Engagement, error) {
	var items []models.Engagement
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM engagements
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC LIMIT $3
	`, models.EngagementStatusPendingFunding, before, limit)
	return items, err
}

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

type MatchRepository struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Upsert сохраняет предложение метчинга. Повторный расчёт для той же пары
// engagement+freelancer+role обновляет существующую строку, а не плодит
// дубликаты.
func (r *MatchRepository) Upsert(ctx context.Context, m *models.Match) error {
	query := `
		INSERT INTO matches (engagement_id, freelancer_id, role, score, confidence, status, explanation, breakdown, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (engagement_id, freelancer_id, role) DO UPDATE SET
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			explanation = EXCLUDED.explanation,
			breakdown = EXCLUDED.breakdown,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		m.EngagementID, m.FreelancerID, m.Role, m.Score, m.Confidence, m.Status, m.Explanation, m.Breakdown, m.ExpiresAt,
	)
	if err := row.Scan(&m.ID, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return fmt.Errorf("match repository: upsert %w", err)
	}
	return nil
}

// GetByID возвращает предложение по идентификатору.
func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return common.GetByID[models.Match](ctx, r.db, "matches", id, common.ErrNotFound)
}

// ListByEngagement возвращает предложения проекта по убыванию балла.
func (r *MatchRepository) ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Match, error) {
	var items []models.Match
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM matches WHERE engagement_id = $1 ORDER BY score DESC
	`, engagementID)
	return items, err
}

// Accept переводит предложение pending -> accepted. Ровно один из
// конкурентных вызовов выигрывает; проигравший получает ErrStaleStatus.
func (r *MatchRepository) Accept(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	err := r.db.GetContext(ctx, &m, `
		UPDATE matches SET status = 'accepted', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("match repository: accept %w", err)
	}
	return &m, nil
}

// Reject переводит предложение pending -> rejected.
func (r *MatchRepository) Reject(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	err := r.db.GetContext(ctx, &m, `
		UPDATE matches SET status = 'rejected', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("match repository: reject %w", err)
	}
	return &m, nil
}

// RejectSiblings отклоняет остальные pending-предложения той же роли.
// Вызывается после принятия одного из них.
func (r *MatchRepository) RejectSiblings(ctx context.Context, engagementID uuid.UUID, role string, acceptedID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches SET status = 'rejected', updated_at = NOW()
		WHERE engagement_id = $1 AND role = $2 AND id <> $3 AND status = 'pending'
	`, engagementID, role, acceptedID)
	if err != nil {
		return 0, fmt.Errorf("match repository: reject siblings %w", err)
	}
	return res.RowsAffected()
}

// CountAccepted возвращает число принятых предложений по роли.
// Инвариант: не более одного accepted на проект (на роль для команд).
func (r *MatchRepository) CountAccepted(ctx context.Context, engagementID uuid.UUID, role string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM matches WHERE engagement_id = $1 AND role = $2 AND status = 'accepted'
	`, engagementID, role)
	return count, err
}

// ListMatchedFreelancers возвращает кандидатов, которым уже предложен проект.
func (r *MatchRepository) ListMatchedFreelancers(ctx context.Context, engagementID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT freelancer_id FROM matches WHERE engagement_id = $1 AND status IN ('pending', 'accepted')
	`, engagementID)
	return ids, err
}

// ExpirePending помечает просроченные pending-предложения как expired.
func (r *MatchRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("match repository: expire pending %w", err)
	}
	return res.RowsAffected()
}

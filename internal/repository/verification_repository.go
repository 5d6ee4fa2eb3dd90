package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

type VerificationRepository struct {
	db *sqlx.DB
}

func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Create заводит запись верификации; на фрилансера она ровно одна.
func (r *VerificationRepository) Create(ctx context.Context, v *models.VerificationResult) error {
	query := `
		INSERT INTO verifications (freelancer_id, skill_scores, fraud_flags, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	row := r.db.QueryRowxContext(ctx, query, v.FreelancerID, v.SkillScores, v.FraudFlags, v.Status)
	if err := row.Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("verification repository: create %w", err)
	}
	return nil
}

// GetByFreelancer возвращает верификацию фрилансера.
func (r *VerificationRepository) GetByFreelancer(ctx context.Context, freelancerID uuid.UUID) (*models.VerificationResult, error) {
	return common.GetByField[models.VerificationResult](ctx, r.db, "verifications", "freelancer_id", freelancerID, common.ErrNotFound)
}

// UpdateScores сохраняет промежуточные баллы, пока верификация не финализирована.
func (r *VerificationRepository) UpdateScores(ctx context.Context, v *models.VerificationResult) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verifications SET
			identity_score = $2,
			english_score = $3,
			skill_scores = $4,
			updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL
	`, v.ID, v.IdentityScore, v.EnglishScore, v.SkillScores)
	if err != nil {
		return fmt.Errorf("verification repository: update scores %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}

// Finalize записывает итог верификации ровно один раз.
func (r *VerificationRepository) Finalize(ctx context.Context, id uuid.UUID, overallScore float64, flags models.FraudFlags, status string) (*models.VerificationResult, error) {
	var v models.VerificationResult
	err := r.db.GetContext(ctx, &v, `
		UPDATE verifications SET
			overall_score = $2,
			fraud_flags = $3,
			status = $4,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL
		RETURNING *
	`, id, overallScore, flags, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := common.GetByID[models.VerificationResult](ctx, r.db, "verifications", id, common.ErrNotFound); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("verification repository: finalize %w", err)
	}
	return &v, nil
}

// Override вручную переопределяет статус (решение модерации).
func (r *VerificationRepository) Override(ctx context.Context, id uuid.UUID, status string, reviewedBy uuid.UUID) (*models.VerificationResult, error) {
	var v models.VerificationResult
	err := r.db.GetContext(ctx, &v, `
		UPDATE verifications SET status = $2, reviewed_by = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, status, reviewedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("verification repository: override %w", err)
	}
	return &v, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

type ProviderRepository struct {
	db *sqlx.DB
}

func NewProviderRepository(db *sqlx.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// GetByID возвращает профиль фрилансера.
func (r *ProviderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	return common.GetByID[models.Provider](ctx, r.db, "providers", id, common.ErrNotFound)
}

// Upsert сохраняет профиль фрилансера.
func (r *ProviderRepository) Upsert(ctx context.Context, p *models.Provider) error {
	query := `
		INSERT INTO providers (id, display_name, skills, availability, timezone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			skills = EXCLUDED.skills,
			availability = EXCLUDED.availability,
			timezone = EXCLUDED.timezone,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	row := r.db.QueryRowxContext(ctx, query, p.ID, p.DisplayName, p.Skills, p.Availability, p.Timezone)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("provider repository: upsert %w", err)
	}
	return nil
}

// ListApprovedCandidates возвращает фрилансеров с approved-верификацией,
// исключая уже предложенных проекту кандидатов.
func (r *ProviderRepository) ListApprovedCandidates(ctx context.Context, exclude []uuid.UUID) ([]models.Provider, error) {
	excluded := make([]string, 0, len(exclude))
	for _, id := range exclude {
		excluded = append(excluded, id.String())
	}

	var items []models.Provider
	err := r.db.SelectContext(ctx, &items, `
		SELECT p.* FROM providers p
		JOIN verifications v ON v.freelancer_id = p.id
		WHERE v.status = 'approved' AND v.completed_at IS NOT NULL
		  AND NOT (p.id::text = ANY($1))
	`, pq.Array(excluded))
	if err != nil {
		return nil, fmt.Errorf("provider repository: list approved candidates %w", err)
	}
	return items, nil
}

// IncrementMilestoneStats накапливает статистику для pastPerformance.
func (r *ProviderRepository) IncrementMilestoneStats(ctx context.Context, id uuid.UUID, onTime bool) error {
	onTimeInc := 0
	if onTime {
		onTimeInc = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE providers SET
			total_milestones = total_milestones + 1,
			on_time_milestones = on_time_milestones + $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, onTimeInc)
	if err != nil {
		return fmt.Errorf("provider repository: increment milestone stats %w", err)
	}
	return nil
}

// IncrementProjectStats накапливает статистику завершённых проектов.
func (r *ProviderRepository) IncrementProjectStats(ctx context.Context, id uuid.UUID, completed bool) error {
	completedInc := 0
	if completed {
		completedInc = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE providers SET
			total_projects = total_projects + 1,
			completed_projects = completed_projects + $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, completedInc)
	if err != nil {
		return fmt.Errorf("provider repository: increment project stats %w", err)
	}
	return nil
}

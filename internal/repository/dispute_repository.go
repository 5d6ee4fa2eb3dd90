package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

var (
	// ErrDisputeAlreadyOpen означает, что по этой области (проект или веха)
	// уже есть активный спор.
	ErrDisputeAlreadyOpen = errors.New("open dispute already exists for this scope")

	// ErrDisputeResolved означает попытку повторного разрешения спора.
	ErrDisputeResolved = errors.New("dispute already resolved")
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create сохраняет спор, отклоняя второй активный спор на ту же область.
// Частичный уникальный индекс в БД страхует от гонки двух создателей.
func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	existing, err := r.getOpenForScope(ctx, d.EngagementID, d.MilestoneID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDisputeAlreadyOpen
	}

	query := `
		INSERT INTO disputes (engagement_id, milestone_id, initiator_id, initiator_role, type, reason, status, locked_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		d.EngagementID, d.MilestoneID, d.InitiatorID, d.InitiatorRole, d.Type, d.Reason, d.Status, d.LockedAmount,
	)
	if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDisputeAlreadyOpen
		}
		return fmt.Errorf("dispute repository: create %w", err)
	}
	return nil
}

func (r *DisputeRepository) getOpenForScope(ctx context.Context, engagementID uuid.UUID, milestoneID *uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	var err error
	if milestoneID != nil {
		err = r.db.GetContext(ctx, &d, `
			SELECT * FROM disputes
			WHERE milestone_id = $1 AND status IN ('open', 'under_review')
		`, *milestoneID)
	} else {
		err = r.db.GetContext(ctx, &d, `
			SELECT * FROM disputes
			WHERE engagement_id = $1 AND milestone_id IS NULL AND status IN ('open', 'under_review')
		`, engagementID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispute repository: get open for scope %w", err)
	}
	return &d, nil
}

// GetByID возвращает спор по идентификатору.
func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, common.ErrNotFound)
}

// ListByEngagement возвращает споры проекта.
func (r *DisputeRepository) ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Dispute, error) {
	var items []models.Dispute
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM disputes WHERE engagement_id = $1 ORDER BY created_at DESC
	`, engagementID)
	return items, err
}

// ListOpen возвращает активные споры (для очереди модераторов).
func (r *DisputeRepository) ListOpen(ctx context.Context, limit, offset int) ([]models.Dispute, error) {
	var items []models.Dispute
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM disputes WHERE status IN ('open', 'under_review')
		ORDER BY created_at ASC LIMIT $1 OFFSET $2
	`, limit, offset)
	return items, err
}

// SetSuggestion сохраняет рекомендацию автоматической эвристики.
func (r *DisputeRepository) SetSuggestion(ctx context.Context, id uuid.UUID, decision string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET suggested_decision = $2
		WHERE id = $1 AND status IN ('open', 'under_review')
	`, id, decision)
	if err != nil {
		return fmt.Errorf("dispute repository: set suggestion %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDisputeResolved
	}
	return nil
}

// MarkUnderReview переводит спор open -> under_review.
func (r *DisputeRepository) MarkUnderReview(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `
		UPDATE disputes SET status = 'under_review' WHERE id = $1 AND status = 'open'
		RETURNING *
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("dispute repository: mark under review %w", err)
	}
	return &d, nil
}

// ResolutionSpend — денежные ноги решения по спору. Нулевые суммы означают,
// что решение не двигает средства (replacement).
type ResolutionSpend struct {
	Refund    float64
	Payout    float64
	Currency  string
	RefundRef string
	PayoutRef string
}

// Resolve записывает решение по спору и списывает заблокированные средства
// в одной транзакции: либо спор разрешён и деньги двинулись, либо ни то ни
// другое. Повторное разрешение завершается ErrDisputeResolved; нехватка
// эскроу откатывает и решение, так что запрос можно повторить.
func (r *DisputeRepository) Resolve(ctx context.Context, id uuid.UUID, decision string, resolutionAmount *float64, notes *string, resolvedBy uuid.UUID, spend ResolutionSpend) (*models.Dispute, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var d models.Dispute
	err = tx.GetContext(ctx, &d, `
		UPDATE disputes SET
			status = 'resolved',
			decision = $2,
			resolution_amount = $3,
			resolution_notes = $4,
			resolved_by = $5,
			resolved_at = NOW()
		WHERE id = $1 AND status IN ('open', 'under_review', 'escalated')
		RETURNING *
	`, id, decision, resolutionAmount, notes, resolvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrDisputeResolved
		}
		return nil, fmt.Errorf("dispute repository: resolve %w", err)
	}

	if spend.Refund+spend.Payout > 0 {
		if err := spendLockedTx(ctx, tx, d.EngagementID, d.MilestoneID, spend.Refund, spend.Payout, spend.Currency, spend.RefundRef, spend.PayoutRef); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dispute repository: resolve commit %w", err)
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 23505 = unique_violation
		return pqErr.Code == "23505"
	}
	return false
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/talentflow-backend/internal/models"
)

var (
	// ErrDuplicateEvent означает, что событие шлюза с таким event id уже
	// применено к леджеру. Для отправителя это успех.
	ErrDuplicateEvent = errors.New("gateway event already processed")

	// ErrInsufficientEscrow означает, что списание превысило бы
	// подтверждённый эскроу. Операция не применяется частично.
	ErrInsufficientEscrow = errors.New("insufficient escrowed funds")

	// ErrFundsDisputed означает, что средства удерживаются активным спором:
	// выплаты по вехам заморожены до его разрешения.
	ErrFundsDisputed = errors.New("funds locked by open dispute")

	ErrPaymentNotFound = errors.New("payment not found")
)

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreatePending создаёт платёж в статусе pending (charge отправлен в шлюз).
func (r *PaymentRepository) CreatePending(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (engagement_id, milestone_id, type, amount, platform_fee, net_amount, currency, status, gateway_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		RETURNING id, created_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		p.EngagementID, p.MilestoneID, p.Type, p.Amount, p.PlatformFee, p.NetAmount, p.Currency, p.GatewayRef,
	)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("payment repository: create pending %w", err)
	}
	p.Status = models.PaymentStatusPending
	return nil
}

// ConfirmPreFunding применяет успешное pre_funding событие шлюза ровно один
// раз. В одной транзакции: регистрируется event id (повтор -> ErrDuplicateEvent),
// платёж помечается succeeded, эскроу проекта увеличивается на сумму платежа.
// Перевод статуса проекта выполняет вызывающий сервис.
func (r *PaymentRepository) ConfirmPreFunding(ctx context.Context, eventID, chargeRef string) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := r.claimEvent(ctx, tx, eventID); err != nil {
		return nil, err
	}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		UPDATE payments
		SET status = 'succeeded', webhook_event_id = $2, completed_at = NOW()
		WHERE gateway_ref = $1 AND status = 'pending'
		RETURNING *
	`, chargeRef, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: confirm pre funding %w", err)
	}

	// Эскроу растёт только на суммы, подтверждённые шлюзом.
	_, err = tx.ExecContext(ctx, `
		UPDATE engagements SET escrowed_amount = escrowed_amount + $2, updated_at = NOW()
		WHERE id = $1
	`, payment.EngagementID, payment.Amount)
	if err != nil {
		return nil, fmt.Errorf("payment repository: confirm pre funding escrow %w", err)
	}

	return &payment, tx.Commit()
}

// MarkFailed применяет failed/cancelled событие шлюза к pending платежу.
func (r *PaymentRepository) MarkFailed(ctx context.Context, eventID, chargeRef, status string) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := r.claimEvent(ctx, tx, eventID); err != nil {
		return nil, err
	}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		UPDATE payments
		SET status = $3, webhook_event_id = $2, completed_at = NOW()
		WHERE gateway_ref = $1 AND status = 'pending'
		RETURNING *
	`, chargeRef, eventID, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: mark failed %w", err)
	}

	return &payment, tx.Commit()
}

// claimEvent регистрирует event id; повторная регистрация -> ErrDuplicateEvent.
func (r *PaymentRepository) claimEvent(ctx context.Context, tx *sqlx.Tx, eventID string) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	if err != nil {
		return fmt.Errorf("payment repository: claim event %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// ReleaseMilestoneFunds списывает сумму вехи из эскроу в одну транзакцию:
// блокирует строку проекта, проверяет остаток, увеличивает released_amount,
// переводит веху approved -> paid и создаёт строки платежей
// (milestone_release + platform_fee). Повторный вызов безопасен: веха уже не
// approved, транзакция завершается ErrStaleStatus без списания. Средства,
// удерживаемые активным спором, не выплачиваются: ErrFundsDisputed.
func (r *PaymentRepository) ReleaseMilestoneFunds(ctx context.Context, engagementID, milestoneID uuid.UUID, payoutRef string) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var engagement models.Engagement
	err = tx.GetContext(ctx, &engagement, `SELECT * FROM engagements WHERE id = $1 FOR UPDATE`, engagementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: release lock engagement %w", err)
	}

	if engagement.Status == models.EngagementStatusDisputed {
		return nil, ErrFundsDisputed
	}

	// Спор по этой вехе или по всему проекту блокирует выплату до решения.
	var openDisputes int
	err = tx.GetContext(ctx, &openDisputes, `
		SELECT COUNT(*) FROM disputes
		WHERE engagement_id = $1 AND status IN ('open', 'under_review')
		  AND (milestone_id IS NULL OR milestone_id = $2)
	`, engagementID, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("payment repository: release check disputes %w", err)
	}
	if openDisputes > 0 {
		return nil, ErrFundsDisputed
	}

	var milestone models.Milestone
	err = tx.GetContext(ctx, &milestone, `
		UPDATE milestones SET status = 'paid', paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND engagement_id = $2 AND status = 'approved'
		RETURNING *
	`, milestoneID, engagementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("payment repository: release milestone %w", err)
	}

	if engagement.ReleasedAmount+milestone.Amount > engagement.EscrowedAmount+amountTolerance {
		return nil, ErrInsufficientEscrow
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE engagements SET released_amount = released_amount + $2, updated_at = NOW()
		WHERE id = $1
	`, engagementID, milestone.Amount)
	if err != nil {
		return nil, fmt.Errorf("payment repository: release update escrow %w", err)
	}

	fee := round2(milestone.Amount * engagement.PlatformFeePercent / 100)
	net := round2(milestone.Amount - fee)

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		INSERT INTO payments (engagement_id, milestone_id, type, amount, platform_fee, net_amount, currency, status, gateway_ref, completed_at)
		VALUES ($1, $2, 'milestone_release', $3, $4, $5, $6, 'succeeded', $7, NOW())
		RETURNING *
	`, engagementID, milestoneID, milestone.Amount, fee, net, milestone.Currency, payoutRef)
	if err != nil {
		return nil, fmt.Errorf("payment repository: release create payment %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (engagement_id, milestone_id, type, amount, platform_fee, net_amount, currency, status, completed_at)
		VALUES ($1, $2, 'platform_fee', $3, 0, $3, $4, 'succeeded', NOW())
	`, engagementID, milestoneID, fee, milestone.Currency)
	if err != nil {
		return nil, fmt.Errorf("payment repository: release create fee %w", err)
	}

	return &payment, tx.Commit()
}

// SpendLocked списывает из эскроу сумму, зарезервированную спором
// (refund и/или payout по решению). Блокирует проект, проверяет остаток.
func (r *PaymentRepository) SpendLocked(ctx context.Context, engagementID uuid.UUID, milestoneID *uuid.UUID, refundAmount, payoutAmount float64, currency, refundRef, payoutRef string) error {
	if refundAmount+payoutAmount <= 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := spendLockedTx(ctx, tx, engagementID, milestoneID, refundAmount, payoutAmount, currency, refundRef, payoutRef); err != nil {
		return err
	}
	return tx.Commit()
}

// spendLockedTx выполняет списание внутри уже открытой транзакции, чтобы
// разрешение спора и движение денег фиксировались атомарно.
func spendLockedTx(ctx context.Context, tx *sqlx.Tx, engagementID uuid.UUID, milestoneID *uuid.UUID, refundAmount, payoutAmount float64, currency, refundRef, payoutRef string) error {
	total := refundAmount + payoutAmount

	var engagement models.Engagement
	err := tx.GetContext(ctx, &engagement, `SELECT * FROM engagements WHERE id = $1 FOR UPDATE`, engagementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("payment repository: spend locked lock %w", err)
	}

	if engagement.ReleasedAmount+total > engagement.EscrowedAmount+amountTolerance {
		return ErrInsufficientEscrow
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE engagements SET released_amount = released_amount + $2, updated_at = NOW()
		WHERE id = $1
	`, engagementID, total)
	if err != nil {
		return fmt.Errorf("payment repository: spend locked update %w", err)
	}

	if refundAmount > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (engagement_id, milestone_id, type, amount, platform_fee, net_amount, currency, status, gateway_ref, completed_at)
			VALUES ($1, $2, 'refund', $3, 0, $3, $4, 'succeeded', $5, NOW())
		`, engagementID, milestoneID, refundAmount, currency, refundRef)
		if err != nil {
			return fmt.Errorf("payment repository: spend locked refund %w", err)
		}
	}

	if payoutAmount > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (engagement_id, milestone_id, type, amount, platform_fee, net_amount, currency, status, gateway_ref, completed_at)
			VALUES ($1, $2, 'payout', $3, 0, $3, $4, 'succeeded', $5, NOW())
		`, engagementID, milestoneID, payoutAmount, currency, payoutRef)
		if err != nil {
			return fmt.Errorf("payment repository: spend locked payout %w", err)
		}
	}

	return nil
}

// RefundRemaining возвращает клиенту весь неизрасходованный эскроу
// (отмена проекта). Возвращает возвращённую сумму; 0 — если возвращать нечего.
func (r *PaymentRepository) RefundRemaining(ctx context.Context, engagementID uuid.UUID, refundRef string) (float64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var engagement models.Engagement
	err = tx.GetContext(ctx, &engagement, `SELECT * FROM engagements WHERE id = $1 FOR UPDATE`, engagementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrPaymentNotFound
		}
		return 0, fmt.Errorf("payment repository: refund remaining lock %w", err)
	}

	remaining := round2(engagement.EscrowedAmount - engagement.ReleasedAmount)
	if remaining <= amountTolerance {
		return 0, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE engagements SET released_amount = escrowed_amount, updated_at = NOW()
		WHERE id = $1
	`, engagementID)
	if err != nil {
		return 0, fmt.Errorf("payment repository: refund remaining update %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (engagement_id, type, amount, platform_fee, net_amount, currency, status, gateway_ref, completed_at)
		VALUES ($1, 'refund', $2, 0, $2, $3, 'succeeded', $4, NOW())
	`, engagementID, remaining, engagement.Currency, refundRef)
	if err != nil {
		return 0, fmt.Errorf("payment repository: refund remaining create %w", err)
	}

	return remaining, tx.Commit()
}

// GetPendingPreFunding возвращает неподтверждённый pre_funding платёж
// проекта, если такой есть. Повторный запрос финансирования переиспользует
// его вместо выпуска второго charge.
func (r *PaymentRepository) GetPendingPreFunding(ctx context.Context, engagementID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `
		SELECT * FROM payments
		WHERE engagement_id = $1 AND type = 'pre_funding' AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1
	`, engagementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByGatewayRef возвращает платёж по внешней ссылке шлюза.
func (r *PaymentRepository) GetByGatewayRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `SELECT * FROM payments WHERE gateway_ref = $1`, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// ListByEngagement возвращает платежи проекта.
func (r *PaymentRepository) ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments WHERE engagement_id = $1 ORDER BY created_at DESC
	`, engagementID)
	return payments, err
}

// HasSucceededMilestonePayment сообщает, есть ли успешный платёж по вехе.
// Используется эвристикой автоматического разрешения споров.
func (r *PaymentRepository) HasSucceededMilestonePayment(ctx context.Context, milestoneID uuid.UUID) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM payments WHERE milestone_id = $1 AND status = 'succeeded'
	`, milestoneID)
	return count > 0, err
}

const amountTolerance = 0.01

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func paymentColumns() []string {
	return []string{
		"id", "engagement_id", "milestone_id", "type", "amount", "platform_fee",
		"net_amount", "currency", "status", "gateway_ref", "webhook_event_id",
		"created_at", "completed_at",
	}
}

func engagementColumns() []string {
	return []string{
		"id", "client_id", "title", "description", "required_skills", "category",
		"experience_level", "hire_type", "status", "total_amount", "escrowed_amount",
		"released_amount", "platform_fee_percent", "currency", "freelancer_id",
		"start_date", "end_date", "matched_at", "started_at", "completed_at",
		"created_at", "updated_at",
	}
}

func engagementRow(id uuid.UUID, status string, escrowed, released float64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(engagementColumns()).AddRow(
		id.String(), uuid.New().String(), "Проект", "", "{}", "", "middle", "single", status,
		escrowed, escrowed, released, 10.0, "USD", nil, nil, nil, nil, nil, nil,
		now, now,
	)
}

func TestPaymentRepository_ConfirmPreFunding_Success(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	paymentID := uuid.New()
	engagementID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE payments").
		WithArgs("ch_123", "evt_1").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).AddRow(
			paymentID.String(), engagementID.String(), nil, "pre_funding", 900.0, 0.0, 900.0,
			"USD", "succeeded", "ch_123", "evt_1", now, now,
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE engagements SET escrowed_amount = escrowed_amount + $2")).
		WithArgs(engagementID, 900.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payment, err := repo.ConfirmPreFunding(ctx, "evt_1", "ch_123")
	assert.NoError(t, err)
	assert.Equal(t, paymentID, payment.ID)
	assert.Equal(t, "succeeded", payment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ConfirmPreFunding_DuplicateEvent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING: строка не вставлена, событие уже применялось.
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.ConfirmPreFunding(ctx, "evt_1", "ch_123")
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ConfirmPreFunding_UnknownCharge(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt_9").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE payments").
		WithArgs("ch_missing", "evt_9").
		WillReturnRows(sqlmock.NewRows(paymentColumns()))
	mock.ExpectRollback()

	_, err := repo.ConfirmPreFunding(ctx, "evt_9", "ch_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestPaymentRepository_ReleaseMilestoneFunds_StaleMilestone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	engagementID := uuid.New()
	milestoneID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM engagements WHERE id = $1 FOR UPDATE")).
		WithArgs(engagementID).
		WillReturnRows(engagementRow(engagementID, "in_progress", 900, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM disputes")).
		WithArgs(engagementID, milestoneID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// Веха уже не approved: конкурентная выплата победила раньше.
	mock.ExpectQuery("UPDATE milestones").
		WithArgs(milestoneID, engagementID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.ReleaseMilestoneFunds(ctx, engagementID, milestoneID, "payout_1")
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ReleaseMilestoneFunds_DisputedEngagement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	engagementID := uuid.New()
	milestoneID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM engagements WHERE id = $1 FOR UPDATE")).
		WithArgs(engagementID).
		WillReturnRows(engagementRow(engagementID, "disputed", 900, 0))
	mock.ExpectRollback()

	// Проект в споре: выплата не доходит даже до проверки вехи.
	_, err := repo.ReleaseMilestoneFunds(ctx, engagementID, milestoneID, "payout_1")
	assert.ErrorIs(t, err, ErrFundsDisputed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ReleaseMilestoneFunds_OpenDisputeBlocks(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	engagementID := uuid.New()
	milestoneID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM engagements WHERE id = $1 FOR UPDATE")).
		WithArgs(engagementID).
		WillReturnRows(engagementRow(engagementID, "in_progress", 900, 0))
	// Спор открылся после выборки свипа, статус проекта ещё не перевёлся.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM disputes")).
		WithArgs(engagementID, milestoneID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := repo.ReleaseMilestoneFunds(ctx, engagementID, milestoneID, "payout_1")
	assert.ErrorIs(t, err, ErrFundsDisputed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_SpendLocked_InsufficientEscrow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	engagementID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM engagements WHERE id = $1 FOR UPDATE")).
		WithArgs(engagementID).
		WillReturnRows(engagementRow(engagementID, "disputed", 500, 400))
	mock.ExpectRollback()

	err := repo.SpendLocked(ctx, engagementID, nil, 100, 100, "USD", "rf_1", "po_1")
	assert.ErrorIs(t, err, ErrInsufficientEscrow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_SpendLocked_NothingToSpend(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	// Нулевые суммы не открывают транзакцию.
	err := repo.SpendLocked(ctx, uuid.New(), nil, 0, 0, "USD", "rf_1", "po_1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngagementRepository_UpdateStatus_Stale(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEngagementRepository(db)
	ctx := context.Background()

	id := uuid.New()

	mock.ExpectQuery("UPDATE engagements SET").
		WithArgs(id, "pending_funding", "funded").
		WillReturnRows(sqlmock.NewRows(engagementColumns()))
	// Проект существует, значит статус успел измениться.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM engagements WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(engagementRow(id, "funded", 900, 0))

	_, err := repo.UpdateStatus(ctx, id, "pending_funding", "funded")
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func disputeColumns() []string {
	return []string{
		"id", "engagement_id", "milestone_id", "initiator_id", "initiator_role",
		"type", "reason", "status", "locked_amount", "suggested_decision",
		"decision", "resolution_amount", "resolution_notes", "resolved_by",
		"created_at", "resolved_at",
	}
}

func resolvedDisputeRow(id, engagementID, resolvedBy uuid.UUID, decision string, locked float64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(disputeColumns()).AddRow(
		id.String(), engagementID.String(), nil, uuid.New().String(), "client",
		"payment", "Работы остановлены", "resolved", locked, nil,
		decision, nil, nil, resolvedBy.String(),
		now, now,
	)
}

func TestDisputeRepository_Resolve_SpendsInSameTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	ctx := context.Background()

	disputeID := uuid.New()
	engagementID := uuid.New()
	moderatorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE disputes SET").
		WithArgs(disputeID, "client_favor", nil, nil, moderatorID).
		WillReturnRows(resolvedDisputeRow(disputeID, engagementID, moderatorID, "client_favor", 650))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM engagements WHERE id = $1 FOR UPDATE")).
		WithArgs(engagementID).
		WillReturnRows(engagementRow(engagementID, "disputed", 900, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE engagements SET released_amount = released_amount + $2")).
		WithArgs(engagementID, 650.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(engagementID, nil, 650.0, "USD", "rf_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	d, err := repo.Resolve(ctx, disputeID, "client_favor", nil, nil, moderatorID, ResolutionSpend{
		Refund:    650,
		Currency:  "USD",
		RefundRef: "rf_1",
		PayoutRef: "po_1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "resolved", d.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepository_Resolve_InsufficientEscrowRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	ctx := context.Background()

	disputeID := uuid.New()
	engagementID := uuid.New()
	moderatorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE disputes SET").
		WithArgs(disputeID, "client_favor", nil, nil, moderatorID).
		WillReturnRows(resolvedDisputeRow(disputeID, engagementID, moderatorID, "client_favor", 650))
	// Эскроу не покрывает списание: откатывается и запись о решении,
	// спор остаётся открытым и запрос можно повторить.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM engagements WHERE id = $1 FOR UPDATE")).
		WithArgs(engagementID).
		WillReturnRows(engagementRow(engagementID, "disputed", 500, 400))
	mock.ExpectRollback()

	_, err := repo.Resolve(ctx, disputeID, "client_favor", nil, nil, moderatorID, ResolutionSpend{
		Refund:    650,
		Currency:  "USD",
		RefundRef: "rf_1",
	})
	assert.ErrorIs(t, err, ErrInsufficientEscrow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepository_Resolve_ReplacementSkipsLedger(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	ctx := context.Background()

	disputeID := uuid.New()
	engagementID := uuid.New()
	moderatorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE disputes SET").
		WithArgs(disputeID, "replacement", nil, nil, moderatorID).
		WillReturnRows(resolvedDisputeRow(disputeID, engagementID, moderatorID, "replacement", 650))
	mock.ExpectCommit()

	// Нулевые суммы: средства остаются в эскроу, леджер не трогается.
	_, err := repo.Resolve(ctx, disputeID, "replacement", nil, nil, moderatorID, ResolutionSpend{Currency: "USD"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

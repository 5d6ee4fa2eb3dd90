package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
)

type mockPaymentRepo struct {
	mock.Mock
}

func (m *mockPaymentRepo) CreatePending(ctx context.Context, p *models.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPaymentRepo) ConfirmPreFunding(ctx context.Context, eventID, chargeRef string) (*models.Payment, error) {
	args := m.Called(ctx, eventID, chargeRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) MarkFailed(ctx context.Context, eventID, chargeRef, status string) (*models.Payment, error) {
	args := m.Called(ctx, eventID, chargeRef, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) GetPendingPreFunding(ctx context.Context, engagementID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, engagementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) SpendLocked(ctx context.Context, engagementID uuid.UUID, milestoneID *uuid.UUID, refundAmount, payoutAmount float64, currency, refundRef, payoutRef string) error {
	args := m.Called(ctx, engagementID, milestoneID, refundAmount, payoutAmount, currency, refundRef, payoutRef)
	return args.Error(0)
}

func (m *mockPaymentRepo) GetByGatewayRef(ctx context.Context, ref string) (*models.Payment, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Payment, error) {
	args := m.Called(ctx, engagementID)
	return args.Get(0).([]models.Payment), args.Error(1)
}

func TestPaymentService_RequestFunding_FromDraft(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	gw := new(mockGateway)
	svc := NewPaymentService(repo, engagements, gw, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{
		ID:          uuid.New(),
		ClientID:    clientID,
		Status:      models.EngagementStatusDraft,
		TotalAmount: 900,
		Currency:    "USD",
	}
	pending := *e
	pending.Status = models.EngagementStatusPendingFunding

	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusDraft, models.EngagementStatusPendingFunding).Return(&pending, nil)
	gw.On("CreateCharge", ctx, e.ID, clientID, float64(900), "USD").Return("ch_123", nil)
	repo.On("CreatePending", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)

	payment, err := svc.RequestFunding(ctx, e.ID, clientID, models.RoleClient)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentTypePreFunding, payment.Type)
	assert.Equal(t, float64(900), payment.Amount)
	assert.Equal(t, "ch_123", *payment.GatewayRef)
	engagements.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestPaymentService_RequestFunding_WrongStatus(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	svc := NewPaymentService(repo, engagements, nil, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusCompleted}
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)

	_, err := svc.RequestFunding(ctx, e.ID, clientID, models.RoleClient)
	assert.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
	repo.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
}

func TestPaymentService_RequestFunding_GatewayDown(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	gw := new(mockGateway)
	svc := NewPaymentService(repo, engagements, gw, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{
		ID:          uuid.New(),
		ClientID:    clientID,
		Status:      models.EngagementStatusPendingFunding,
		TotalAmount: 900,
		Currency:    "USD",
	}
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("GetPendingPreFunding", ctx, e.ID).Return(nil, repository.ErrPaymentNotFound)
	gw.On("CreateCharge", ctx, e.ID, clientID, float64(900), "USD").Return("", errors.New("connection refused"))

	_, err := svc.RequestFunding(ctx, e.ID, clientID, models.RoleClient)
	assert.Error(t, err)
	var appErr *apperror.AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.ErrCodeExternalDependency, appErr.Code)
	repo.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
}

func TestPaymentService_RequestFunding_ReusesPendingCharge(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	gw := new(mockGateway)
	svc := NewPaymentService(repo, engagements, gw, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{
		ID:          uuid.New(),
		ClientID:    clientID,
		Status:      models.EngagementStatusPendingFunding,
		TotalAmount: 900,
		Currency:    "USD",
	}
	ref := "ch_live"
	existing := &models.Payment{
		ID:           uuid.New(),
		EngagementID: e.ID,
		Type:         models.PaymentTypePreFunding,
		Status:       models.PaymentStatusPending,
		Amount:       900,
		Currency:     "USD",
		GatewayRef:   &ref,
	}

	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("GetPendingPreFunding", ctx, e.ID).Return(existing, nil)

	// Повторный клик по «оплатить» не порождает второй живой charge.
	got, err := svc.RequestFunding(ctx, e.ID, clientID, models.RoleClient)
	assert.NoError(t, err)
	assert.Equal(t, existing, got)
	gw.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
}

func TestPaymentService_HandleGatewayEvent_Succeeded(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	svc := NewPaymentService(repo, engagements, nil, nil, nil, nil)
	ctx := context.Background()

	payment := &models.Payment{ID: uuid.New(), EngagementID: uuid.New(), Amount: 900, Currency: "USD"}
	funded := &models.Engagement{ID: payment.EngagementID, ClientID: uuid.New(), Status: models.EngagementStatusFunded}

	repo.On("ConfirmPreFunding", ctx, "evt_1", "ch_123").Return(payment, nil)
	engagements.On("UpdateStatus", ctx, payment.EngagementID, models.EngagementStatusPendingFunding, models.EngagementStatusFunded).Return(funded, nil)

	err := svc.HandleGatewayEvent(ctx, models.GatewayEvent{
		EventType: models.GatewayEventSucceeded,
		EventID:   "evt_1",
		ChargeRef: "ch_123",
	})
	assert.NoError(t, err)
	repo.AssertNumberOfCalls(t, "ConfirmPreFunding", 1)
	engagements.AssertExpectations(t)
}

func TestPaymentService_HandleGatewayEvent_Replay(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	svc := NewPaymentService(repo, engagements, nil, nil, nil, nil)
	ctx := context.Background()

	repo.On("ConfirmPreFunding", ctx, "evt_1", "ch_123").Return(nil, repository.ErrDuplicateEvent)

	// Повторная доставка с тем же event id, тело может отличаться.
	err := svc.HandleGatewayEvent(ctx, models.GatewayEvent{
		EventType: models.GatewayEventSucceeded,
		EventID:   "evt_1",
		ChargeRef: "ch_123",
	})
	assert.Error(t, err)
	assert.True(t, apperror.IsDuplicateEvent(err))

	// Для шлюза дубликат выглядит как успех, ретраи прекращаются.
	var appErr *apperror.AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusOK, appErr.HTTPStatus)
	engagements.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_HandleGatewayEvent_MissingIDs(t *testing.T) {
	repo := new(mockPaymentRepo)
	svc := NewPaymentService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	err := svc.HandleGatewayEvent(ctx, models.GatewayEvent{EventType: models.GatewayEventSucceeded, ChargeRef: "ch_123"})
	assert.True(t, apperror.IsValidation(err))

	err = svc.HandleGatewayEvent(ctx, models.GatewayEvent{EventType: models.GatewayEventSucceeded, EventID: "evt_1"})
	assert.True(t, apperror.IsValidation(err))
	repo.AssertNotCalled(t, "ConfirmPreFunding", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_HandleGatewayEvent_UnknownType(t *testing.T) {
	repo := new(mockPaymentRepo)
	svc := NewPaymentService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	err := svc.HandleGatewayEvent(ctx, models.GatewayEvent{EventType: "chargeback", EventID: "evt_1", ChargeRef: "ch_123"})
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_HandleGatewayEvent_StaleConfirmationRefunded(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	svc := NewPaymentService(repo, engagements, nil, nil, nil, nil)
	ctx := context.Background()

	payment := &models.Payment{ID: uuid.New(), EngagementID: uuid.New(), Amount: 900, Currency: "USD"}
	repo.On("ConfirmPreFunding", ctx, "evt_1", "ch_123").Return(payment, nil)
	engagements.On("UpdateStatus", ctx, payment.EngagementID, models.EngagementStatusPendingFunding, models.EngagementStatusFunded).
		Return(nil, repository.ErrStaleStatus)
	// Проект уже ушёл из pending_funding: зачисление излишнее и возвращается.
	repo.On("SpendLocked", ctx, payment.EngagementID, (*uuid.UUID)(nil), float64(900), float64(0), "USD",
		mock.AnythingOfType("string"), "").Return(nil)

	err := svc.HandleGatewayEvent(ctx, models.GatewayEvent{
		EventType: models.GatewayEventSucceeded,
		EventID:   "evt_1",
		ChargeRef: "ch_123",
	})
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestPaymentService_HandleGatewayEvent_SurplusRefundFailureSurfaces(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	svc := NewPaymentService(repo, engagements, nil, nil, nil, nil)
	ctx := context.Background()

	payment := &models.Payment{ID: uuid.New(), EngagementID: uuid.New(), Amount: 900, Currency: "USD"}
	repo.On("ConfirmPreFunding", ctx, "evt_1", "ch_123").Return(payment, nil)
	engagements.On("UpdateStatus", ctx, payment.EngagementID, models.EngagementStatusPendingFunding, models.EngagementStatusFunded).
		Return(nil, repository.ErrStaleStatus)
	repo.On("SpendLocked", ctx, payment.EngagementID, (*uuid.UUID)(nil), float64(900), float64(0), "USD",
		mock.AnythingOfType("string"), "").Return(errors.New("deadlock detected"))

	// Возврат не прошёл: событие отдаём шлюзу на ретрай, деньги не теряем молча.
	err := svc.HandleGatewayEvent(ctx, models.GatewayEvent{
		EventType: models.GatewayEventSucceeded,
		EventID:   "evt_1",
		ChargeRef: "ch_123",
	})
	assert.Error(t, err)
}

func TestPaymentService_HandleGatewayEvent_Failed(t *testing.T) {
	repo := new(mockPaymentRepo)
	engagements := new(mockEngagementRepo)
	svc := NewPaymentService(repo, engagements, nil, nil, nil, nil)
	ctx := context.Background()

	payment := &models.Payment{ID: uuid.New(), EngagementID: uuid.New(), Amount: 900}
	repo.On("MarkFailed", ctx, "evt_2", "ch_123", models.PaymentStatusFailed).Return(payment, nil)

	err := svc.HandleGatewayEvent(ctx, models.GatewayEvent{
		EventType: models.GatewayEventFailed,
		EventID:   "evt_2",
		ChargeRef: "ch_123",
	})
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

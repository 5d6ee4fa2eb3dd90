package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/talentflow-backend/internal/models"
)

// mockEngagementRepo покрывает все интерфейсы доступа к проектам,
// которые используют сервисы.
type mockEngagementRepo struct {
	mock.Mock
}

func (m *mockEngagementRepo) Create(ctx context.Context, e *models.Engagement) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockEngagementRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Engagement), args.Error(1)
}

func (m *mockEngagementRepo) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Engagement, error) {
	args := m.Called(ctx, clientID, limit, offset)
	return args.Get(0).([]models.Engagement), args.Error(1)
}

func (m *mockEngagementRepo) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, limit, offset int) ([]models.Engagement, error) {
	args := m.Called(ctx, freelancerID, limit, offset)
	return args.Get(0).([]models.Engagement), args.Error(1)
}

func (m *mockEngagementRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Engagement, error) {
	args := m.Called(ctx, id, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Engagement), args.Error(1)
}

func (m *mockEngagementRepo) ForceStatus(ctx context.Context, id uuid.UUID, to string) (*models.Engagement, error) {
	args := m.Called(ctx, id, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Engagement), args.Error(1)
}

func (m *mockEngagementRepo) SetFreelancer(ctx context.Context, id, freelancerID uuid.UUID) error {
	args := m.Called(ctx, id, freelancerID)
	return args.Error(0)
}

func (m *mockEngagementRepo) ClearFreelancer(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCharge(ctx context.Context, engagementID, payerID uuid.UUID, amount float64, currency string) (string, error) {
	args := m.Called(ctx, engagementID, payerID, amount, currency)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreatePayout(ctx context.Context, recipientID uuid.UUID, amount float64, currency string) (string, error) {
	args := m.Called(ctx, recipientID, amount, currency)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, engagementID uuid.UUID, amount float64, currency string) (string, error) {
	args := m.Called(ctx, engagementID, amount, currency)
	return args.String(0), args.Error(1)
}

type mockRefundLedger struct {
	mock.Mock
}

func (m *mockRefundLedger) RefundRemaining(ctx context.Context, engagementID uuid.UUID, refundRef string) (float64, error) {
	args := m.Called(ctx, engagementID, refundRef)
	return args.Get(0).(float64), args.Error(1)
}

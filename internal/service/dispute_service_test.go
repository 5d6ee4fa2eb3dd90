package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
)

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Dispute, error) {
	args := m.Called(ctx, engagementID)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListOpen(ctx context.Context, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) SetSuggestion(ctx context.Context, id uuid.UUID, decision string) error {
	args := m.Called(ctx, id, decision)
	return args.Error(0)
}

func (m *mockDisputeRepo) MarkUnderReview(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) Resolve(ctx context.Context, id uuid.UUID, decision string, resolutionAmount *float64, notes *string, resolvedBy uuid.UUID, spend repository.ResolutionSpend) (*models.Dispute, error) {
	args := m.Called(ctx, id, decision, resolutionAmount, notes, resolvedBy, spend)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

type mockDisputeLedger struct {
	mock.Mock
}

func (m *mockDisputeLedger) HasSucceededMilestonePayment(ctx context.Context, milestoneID uuid.UUID) (bool, error) {
	args := m.Called(ctx, milestoneID)
	return args.Bool(0), args.Error(1)
}

// spendMatcher сверяет денежные ноги решения, не завися от сгенерированных refs.
func spendMatcher(refund, payout float64) interface{} {
	return mock.MatchedBy(func(sp repository.ResolutionSpend) bool {
		return sp.Refund == refund && sp.Payout == payout
	})
}

func TestDisputeService_Initiate_LocksMilestoneAmount(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	milestones := new(mockMilestoneRepo)
	ledger := new(mockDisputeLedger)
	svc := NewDisputeService(repo, engagements, milestones, ledger, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{
		ID:             uuid.New(),
		ClientID:       clientID,
		Status:         models.EngagementStatusInProgress,
		EscrowedAmount: 900,
		Currency:       "USD",
	}
	disputed := *e
	disputed.Status = models.EngagementStatusDisputed
	m := &models.Milestone{ID: uuid.New(), EngagementID: e.ID, Status: models.MilestoneStatusSubmitted, Amount: 300}

	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	repo.On("Create", ctx, mock.AnythingOfType("*models.Dispute")).Return(nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusInProgress, models.EngagementStatusDisputed).Return(&disputed, nil)
	ledger.On("HasSucceededMilestonePayment", ctx, m.ID).Return(false, nil)

	d, err := svc.Initiate(ctx, InitiateDisputeInput{
		EngagementID: e.ID,
		MilestoneID:  &m.ID,
		Type:         models.DisputeTypeMilestoneQuality,
		Reason:       "Результат не соответствует требованиям",
	}, clientID, models.RoleClient)
	assert.NoError(t, err)
	assert.Equal(t, float64(300), d.LockedAmount)
	assert.Equal(t, models.DisputeStatusOpen, d.Status)
	engagements.AssertExpectations(t)
}

func TestDisputeService_Initiate_LocksRemainingEscrow(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	svc := NewDisputeService(repo, engagements, nil, nil, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{
		ID:             uuid.New(),
		ClientID:       clientID,
		Status:         models.EngagementStatusInProgress,
		EscrowedAmount: 900,
		ReleasedAmount: 250,
		Currency:       "USD",
	}
	disputed := *e
	disputed.Status = models.EngagementStatusDisputed

	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("Create", ctx, mock.AnythingOfType("*models.Dispute")).Return(nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusInProgress, models.EngagementStatusDisputed).Return(&disputed, nil)

	d, err := svc.Initiate(ctx, InitiateDisputeInput{
		EngagementID: e.ID,
		Type:         models.DisputeTypePayment,
		Reason:       "Работы остановлены",
	}, clientID, models.RoleClient)
	assert.NoError(t, err)
	assert.Equal(t, float64(650), d.LockedAmount)
}

func TestDisputeService_Initiate_PaidMilestone(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	milestones := new(mockMilestoneRepo)
	svc := NewDisputeService(repo, engagements, milestones, nil, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusInProgress, EscrowedAmount: 900}
	m := &models.Milestone{ID: uuid.New(), EngagementID: e.ID, Status: models.MilestoneStatusPaid, Amount: 300}

	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	milestones.On("GetByID", ctx, m.ID).Return(m, nil)

	_, err := svc.Initiate(ctx, InitiateDisputeInput{
		EngagementID: e.ID,
		MilestoneID:  &m.ID,
		Type:         models.DisputeTypeMilestoneQuality,
		Reason:       "Слишком поздно",
	}, clientID, models.RoleClient)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "уже оплачена")
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_Initiate_SecondDisputeSameScope(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	svc := NewDisputeService(repo, engagements, nil, nil, nil, nil, nil)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusInProgress, EscrowedAmount: 900}
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("Create", ctx, mock.AnythingOfType("*models.Dispute")).Return(repository.ErrDisputeAlreadyOpen)

	_, err := svc.Initiate(ctx, InitiateDisputeInput{
		EngagementID: e.ID,
		Type:         models.DisputeTypePayment,
		Reason:       "Дубликат",
	}, clientID, models.RoleClient)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "уже идёт спор")
}

func TestDisputeService_Resolve_PartialSplit(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	ledger := new(mockDisputeLedger)
	svc := NewDisputeService(repo, engagements, nil, ledger, nil, nil, nil)
	ctx := context.Background()
	moderatorID := uuid.New()
	milestoneID := uuid.New()

	d := &models.Dispute{
		ID:           uuid.New(),
		EngagementID: uuid.New(),
		MilestoneID:  &milestoneID,
		Status:       models.DisputeStatusUnderReview,
		LockedAmount: 500,
	}
	e := &models.Engagement{ID: d.EngagementID, ClientID: uuid.New(), Status: models.EngagementStatusDisputed, Currency: "USD"}
	back := *e
	back.Status = models.EngagementStatusInProgress
	resolved := *d
	resolved.Status = models.DisputeStatusResolved

	amount := 300.0
	repo.On("GetByID", ctx, d.ID).Return(d, nil)
	engagements.On("GetByID", ctx, d.EngagementID).Return(e, nil)
	// Раздел 300 из 500: фрилансеру 300, клиенту остаток 200, одним вызовом.
	repo.On("Resolve", ctx, d.ID, models.DisputeDecisionPartial, &amount, (*string)(nil), moderatorID,
		spendMatcher(200, 300)).Return(&resolved, nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusDisputed, models.EngagementStatusInProgress).Return(&back, nil)

	got, err := svc.Resolve(ctx, d.ID, models.DisputeDecisionPartial, &amount, nil, moderatorID, models.RoleModerator)
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, got.Status)
	repo.AssertExpectations(t)
	engagements.AssertExpectations(t)
}

func TestDisputeService_Resolve_PartialAmountOutOfRange(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	ledger := new(mockDisputeLedger)
	svc := NewDisputeService(repo, engagements, nil, ledger, nil, nil, nil)
	ctx := context.Background()
	moderatorID := uuid.New()

	d := &models.Dispute{ID: uuid.New(), EngagementID: uuid.New(), Status: models.DisputeStatusUnderReview, LockedAmount: 500}
	repo.On("GetByID", ctx, d.ID).Return(d, nil)

	amount := 600.0
	_, err := svc.Resolve(ctx, d.ID, models.DisputeDecisionPartial, &amount, nil, moderatorID, models.RoleModerator)
	assert.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Resolve(ctx, d.ID, models.DisputeDecisionPartial, nil, nil, moderatorID, models.RoleModerator)
	assert.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	repo.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_Resolve_Twice(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	svc := NewDisputeService(repo, engagements, nil, nil, nil, nil, nil)
	ctx := context.Background()
	moderatorID := uuid.New()

	d := &models.Dispute{ID: uuid.New(), EngagementID: uuid.New(), Status: models.DisputeStatusResolved, LockedAmount: 500}
	e := &models.Engagement{ID: d.EngagementID, ClientID: uuid.New(), Status: models.EngagementStatusInProgress, Currency: "USD"}

	repo.On("GetByID", ctx, d.ID).Return(d, nil)
	engagements.On("GetByID", ctx, d.EngagementID).Return(e, nil)
	repo.On("Resolve", ctx, d.ID, models.DisputeDecisionClientFavor, (*float64)(nil), (*string)(nil), moderatorID,
		mock.AnythingOfType("repository.ResolutionSpend")).Return(nil, repository.ErrDisputeResolved)

	_, err := svc.Resolve(ctx, d.ID, models.DisputeDecisionClientFavor, nil, nil, moderatorID, models.RoleModerator)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "уже разрешён")

	// Повторное разрешение не трогает статус проекта.
	engagements.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_Resolve_ReplacementKeepsFunds(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	svc := NewDisputeService(repo, engagements, nil, nil, nil, nil, nil)
	ctx := context.Background()
	moderatorID := uuid.New()
	freelancerID := uuid.New()

	d := &models.Dispute{ID: uuid.New(), EngagementID: uuid.New(), Status: models.DisputeStatusUnderReview, LockedAmount: 500}
	e := &models.Engagement{
		ID:           d.EngagementID,
		ClientID:     uuid.New(),
		FreelancerID: &freelancerID,
		Status:       models.EngagementStatusDisputed,
		Currency:     "USD",
	}
	rematching := *e
	rematching.Status = models.EngagementStatusMatching
	rematching.FreelancerID = nil
	resolved := *d
	resolved.Status = models.DisputeStatusResolved

	repo.On("GetByID", ctx, d.ID).Return(d, nil)
	engagements.On("GetByID", ctx, d.EngagementID).Return(e, nil)
	// Замена исполнителя не трогает деньги: обе ноги нулевые.
	repo.On("Resolve", ctx, d.ID, models.DisputeDecisionReplacement, (*float64)(nil), (*string)(nil), moderatorID,
		spendMatcher(0, 0)).Return(&resolved, nil)
	engagements.On("ClearFreelancer", ctx, e.ID).Return(nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusDisputed, models.EngagementStatusMatching).Return(&rematching, nil)

	_, err := svc.Resolve(ctx, d.ID, models.DisputeDecisionReplacement, nil, nil, moderatorID, models.RoleModerator)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	engagements.AssertExpectations(t)
}

func TestDisputeService_Resolve_ClientFavorClosesEngagement(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	svc := NewDisputeService(repo, engagements, nil, nil, nil, nil, nil)
	ctx := context.Background()
	moderatorID := uuid.New()

	// Спор по всему проекту, не по вехе.
	d := &models.Dispute{ID: uuid.New(), EngagementID: uuid.New(), Status: models.DisputeStatusUnderReview, LockedAmount: 650}
	e := &models.Engagement{ID: d.EngagementID, ClientID: uuid.New(), Status: models.EngagementStatusDisputed, Currency: "USD"}
	cancelled := *e
	cancelled.Status = models.EngagementStatusCancelled
	resolved := *d
	resolved.Status = models.DisputeStatusResolved

	repo.On("GetByID", ctx, d.ID).Return(d, nil)
	engagements.On("GetByID", ctx, d.EngagementID).Return(e, nil)
	// Весь заблокированный остаток возвращается клиенту.
	repo.On("Resolve", ctx, d.ID, models.DisputeDecisionClientFavor, (*float64)(nil), (*string)(nil), moderatorID,
		spendMatcher(650, 0)).Return(&resolved, nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusDisputed, models.EngagementStatusCancelled).Return(&cancelled, nil)

	_, err := svc.Resolve(ctx, d.ID, models.DisputeDecisionClientFavor, nil, nil, moderatorID, models.RoleModerator)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	engagements.AssertExpectations(t)
}

func TestDisputeService_Resolve_LedgerFailureKeepsDisputeOpen(t *testing.T) {
	repo := new(mockDisputeRepo)
	engagements := new(mockEngagementRepo)
	svc := NewDisputeService(repo, engagements, nil, nil, nil, nil, nil)
	ctx := context.Background()
	moderatorID := uuid.New()

	d := &models.Dispute{ID: uuid.New(), EngagementID: uuid.New(), Status: models.DisputeStatusUnderReview, LockedAmount: 650}
	e := &models.Engagement{ID: d.EngagementID, ClientID: uuid.New(), Status: models.EngagementStatusDisputed, Currency: "USD"}
	resolved := *d
	resolved.Status = models.DisputeStatusResolved
	cancelled := *e
	cancelled.Status = models.EngagementStatusCancelled

	repo.On("GetByID", ctx, d.ID).Return(d, nil)
	engagements.On("GetByID", ctx, d.EngagementID).Return(e, nil)
	// Списание не прошло: запись о решении откатывается вместе с ним.
	repo.On("Resolve", ctx, d.ID, models.DisputeDecisionClientFavor, (*float64)(nil), (*string)(nil), moderatorID,
		spendMatcher(650, 0)).Return(nil, repository.ErrInsufficientEscrow).Once()

	_, err := svc.Resolve(ctx, d.ID, models.DisputeDecisionClientFavor, nil, nil, moderatorID, models.RoleModerator)
	assert.Error(t, err)
	assert.True(t, apperror.IsInsufficientEscrow(err))
	engagements.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Спор остался открытым, повторная попытка возможна.
	repo.On("Resolve", ctx, d.ID, models.DisputeDecisionClientFavor, (*float64)(nil), (*string)(nil), moderatorID,
		spendMatcher(650, 0)).Return(&resolved, nil).Once()
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusDisputed, models.EngagementStatusCancelled).Return(&cancelled, nil)

	got, err := svc.Resolve(ctx, d.ID, models.DisputeDecisionClientFavor, nil, nil, moderatorID, models.RoleModerator)
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, got.Status)
	repo.AssertExpectations(t)
}

func TestDisputeService_Resolve_ModeratorOnly(t *testing.T) {
	repo := new(mockDisputeRepo)
	svc := NewDisputeService(repo, nil, nil, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, uuid.New(), models.DisputeDecisionClientFavor, nil, nil, uuid.New(), models.RoleClient)
	assert.True(t, apperror.IsForbidden(err))
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

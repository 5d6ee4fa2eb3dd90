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

func TestEngagementService_Create_Defaults(t *testing.T) {
	repo := new(mockEngagementRepo)
	svc := NewEngagementService(repo, nil, nil, nil, nil, 10)
	ctx := context.Background()
	clientID := uuid.New()

	repo.On("Create", ctx, mock.AnythingOfType("*models.Engagement")).Return(nil)

	e, err := svc.Create(ctx, clientID, CreateEngagementInput{
		Title:          "Интернет-магазин",
		RequiredSkills: []string{"go", "react"},
		TotalAmount:    900,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.EngagementStatusDraft, e.Status)
	assert.Equal(t, models.HireTypeSingle, e.HireType)
	assert.Equal(t, models.ExperienceLevelMiddle, e.ExperienceLevel)
	assert.Equal(t, "USD", e.Currency)
	assert.Equal(t, float64(10), e.PlatformFeePercent)
	repo.AssertExpectations(t)
}

func TestEngagementService_Create_Validation(t *testing.T) {
	repo := new(mockEngagementRepo)
	svc := NewEngagementService(repo, nil, nil, nil, nil, 10)
	ctx := context.Background()
	clientID := uuid.New()

	_, err := svc.Create(ctx, clientID, CreateEngagementInput{Title: "ab", TotalAmount: 100})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "не менее")

	_, err = svc.Create(ctx, clientID, CreateEngagementInput{Title: "Проект", TotalAmount: 0})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "положительным")

	_, err = svc.Create(ctx, clientID, CreateEngagementInput{
		Title:          "Проект",
		TotalAmount:    100,
		RequiredSkills: []string{"Go", "go"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "дважды")

	_, err = svc.Create(ctx, clientID, CreateEngagementInput{
		Title:       "Проект",
		TotalAmount: 100,
		HireType:    "squad",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "тип найма")

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestEngagementService_Transition_Success(t *testing.T) {
	repo := new(mockEngagementRepo)
	svc := NewEngagementService(repo, nil, nil, nil, nil, 10)
	ctx := context.Background()
	freelancerID := uuid.New()

	e := &models.Engagement{
		ID:           uuid.New(),
		ClientID:     uuid.New(),
		FreelancerID: &freelancerID,
		Status:       models.EngagementStatusMatched,
	}
	updated := *e
	updated.Status = models.EngagementStatusInProgress

	repo.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("UpdateStatus", ctx, e.ID, models.EngagementStatusMatched, models.EngagementStatusInProgress).Return(&updated, nil)

	got, err := svc.Transition(ctx, e.ID, models.EngagementStatusInProgress, freelancerID, models.RoleFreelancer)
	assert.NoError(t, err)
	assert.Equal(t, models.EngagementStatusInProgress, got.Status)
	repo.AssertExpectations(t)
}

func TestEngagementService_Transition_IllegalEdge(t *testing.T) {
	repo := new(mockEngagementRepo)
	svc := NewEngagementService(repo, nil, nil, nil, nil, 10)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusDraft}
	repo.On("GetByID", ctx, e.ID).Return(e, nil)

	_, err := svc.Transition(ctx, e.ID, models.EngagementStatusCompleted, clientID, models.RoleClient)
	assert.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngagementService_Transition_RoleRestricted(t *testing.T) {
	repo := new(mockEngagementRepo)
	svc := NewEngagementService(repo, nil, nil, nil, nil, 10)
	ctx := context.Background()
	freelancerID := uuid.New()

	e := &models.Engagement{
		ID:           uuid.New(),
		ClientID:     uuid.New(),
		FreelancerID: &freelancerID,
		Status:       models.EngagementStatusInProgress,
	}
	repo.On("GetByID", ctx, e.ID).Return(e, nil)

	// Отмену и спор запрашивает не фрилансер.
	_, err := svc.Transition(ctx, e.ID, models.EngagementStatusCancelled, freelancerID, models.RoleFreelancer)
	assert.True(t, apperror.IsForbidden(err))

	_, err = svc.Transition(ctx, e.ID, models.EngagementStatusDisputed, freelancerID, models.RoleFreelancer)
	assert.True(t, apperror.IsForbidden(err))
}

func TestEngagementService_Transition_ConcurrentLoser(t *testing.T) {
	repo := new(mockEngagementRepo)
	svc := NewEngagementService(repo, nil, nil, nil, nil, 10)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusInProgress}
	repo.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("UpdateStatus", ctx, e.ID, models.EngagementStatusInProgress, models.EngagementStatusDisputed).
		Return(nil, repository.ErrStaleStatus)

	_, err := svc.Transition(ctx, e.ID, models.EngagementStatusDisputed, clientID, models.RoleClient)
	assert.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestEngagementService_Cancel_RefundsEscrow(t *testing.T) {
	repo := new(mockEngagementRepo)
	refunds := new(mockRefundLedger)
	svc := NewEngagementService(repo, refunds, nil, nil, nil, 10)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{
		ID:             uuid.New(),
		ClientID:       clientID,
		Status:         models.EngagementStatusFunded,
		EscrowedAmount: 900,
		Currency:       "USD",
	}
	updated := *e
	updated.Status = models.EngagementStatusCancelled

	repo.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("UpdateStatus", ctx, e.ID, models.EngagementStatusFunded, models.EngagementStatusCancelled).Return(&updated, nil)
	refunds.On("RefundRemaining", ctx, e.ID, mock.AnythingOfType("string")).Return(float64(900), nil)

	got, err := svc.Transition(ctx, e.ID, models.EngagementStatusCancelled, clientID, models.RoleClient)
	assert.NoError(t, err)
	assert.Equal(t, models.EngagementStatusCancelled, got.Status)
	refunds.AssertExpectations(t)
}

func TestEngagementService_ForceTransition_AdminOnly(t *testing.T) {
	repo := new(mockEngagementRepo)
	svc := NewEngagementService(repo, nil, nil, nil, nil, 10)
	ctx := context.Background()

	_, err := svc.ForceTransition(ctx, uuid.New(), models.EngagementStatusCompleted, uuid.New(), models.RoleClient)
	assert.True(t, apperror.IsForbidden(err))

	e := &models.Engagement{ID: uuid.New(), ClientID: uuid.New(), Status: models.EngagementStatusDisputed}
	updated := *e
	updated.Status = models.EngagementStatusCompleted
	repo.On("GetByID", ctx, e.ID).Return(e, nil)
	repo.On("ForceStatus", ctx, e.ID, models.EngagementStatusCompleted).Return(&updated, nil)

	got, err := svc.ForceTransition(ctx, e.ID, models.EngagementStatusCompleted, uuid.New(), models.RoleAdmin)
	assert.NoError(t, err)
	assert.Equal(t, models.EngagementStatusCompleted, got.Status)
}

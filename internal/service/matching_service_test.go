package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

type mockMatchRepo struct {
	mock.Mock
}

func (m *mockMatchRepo) Upsert(ctx context.Context, match *models.Match) error {
	args := m.Called(ctx, match)
	return args.Error(0)
}

func (m *mockMatchRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Match), args.Error(1)
}

func (m *mockMatchRepo) ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Match, error) {
	args := m.Called(ctx, engagementID)
	return args.Get(0).([]models.Match), args.Error(1)
}

func (m *mockMatchRepo) Accept(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Match), args.Error(1)
}

func (m *mockMatchRepo) Reject(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Match), args.Error(1)
}

func (m *mockMatchRepo) RejectSiblings(ctx context.Context, engagementID uuid.UUID, role string, acceptedID uuid.UUID) (int64, error) {
	args := m.Called(ctx, engagementID, role, acceptedID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMatchRepo) CountAccepted(ctx context.Context, engagementID uuid.UUID, role string) (int, error) {
	args := m.Called(ctx, engagementID, role)
	return args.Int(0), args.Error(1)
}

func (m *mockMatchRepo) ListMatchedFreelancers(ctx context.Context, engagementID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, engagementID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

type mockProviderRepo struct {
	mock.Mock
}

func (m *mockProviderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Provider), args.Error(1)
}

func (m *mockProviderRepo) ListApprovedCandidates(ctx context.Context, exclude []uuid.UUID) ([]models.Provider, error) {
	args := m.Called(ctx, exclude)
	return args.Get(0).([]models.Provider), args.Error(1)
}

type mockVerificationReader struct {
	mock.Mock
}

func (m *mockVerificationReader) GetByFreelancer(ctx context.Context, freelancerID uuid.UUID) (*models.VerificationResult, error) {
	args := m.Called(ctx, freelancerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationResult), args.Error(1)
}

type mockMilestonePlanner struct {
	mock.Mock
}

func (m *mockMilestonePlanner) AutoCreate(ctx context.Context, engagement *models.Engagement) ([]models.Milestone, error) {
	args := m.Called(ctx, engagement)
	return args.Get(0).([]models.Milestone), args.Error(1)
}

func TestSkillOverlapScore(t *testing.T) {
	assert.Equal(t, float64(50), SkillOverlapScore(nil, []string{"go"}))
	assert.Equal(t, float64(0), SkillOverlapScore([]string{"go"}, nil))
	assert.Equal(t, float64(100), SkillOverlapScore([]string{"go", "react"}, []string{"golang", "reactjs", "qa"}))
	assert.Equal(t, float64(50), SkillOverlapScore([]string{"go", "rust"}, []string{"go"}))
	// Нормализация не зависит от регистра и пробелов.
	assert.Equal(t, float64(100), SkillOverlapScore([]string{"JS"}, []string{" JavaScript "}))
}

func TestAvailabilityScore(t *testing.T) {
	available := models.AvailabilityAvailable
	busy := models.AvailabilityBusy
	unavailable := models.AvailabilityUnavailable

	assert.Equal(t, float64(50), AvailabilityScore(nil))
	assert.Equal(t, float64(100), AvailabilityScore(&available))
	assert.Equal(t, float64(50), AvailabilityScore(&busy))
	assert.Equal(t, float64(0), AvailabilityScore(&unavailable))
}

func TestPastPerformanceScore(t *testing.T) {
	assert.Equal(t, float64(50), PastPerformanceScore(&models.Provider{}))

	p := &models.Provider{
		OnTimeMilestones:  8,
		TotalMilestones:   10,
		CompletedProjects: 3,
		TotalProjects:     4,
	}
	// 0.8*0.70 + 0.75*0.30
	assert.InDelta(t, 78.5, PastPerformanceScore(p), 0.001)
}

func TestConfidenceFor(t *testing.T) {
	assert.Equal(t, models.MatchConfidenceHigh, confidenceFor(80))
	assert.Equal(t, models.MatchConfidenceMedium, confidenceFor(79.99))
	assert.Equal(t, models.MatchConfidenceMedium, confidenceFor(60))
	assert.Equal(t, models.MatchConfidenceLow, confidenceFor(59.99))
}

func TestRolesForEngagement(t *testing.T) {
	roles := rolesForEngagement([]string{"go", "react", "figma"})
	assert.Equal(t, []string{"backend", "design", "frontend"}, roles)

	// Без распознанных ролей возвращается базовая пара.
	roles = rolesForEngagement([]string{"astrology"})
	assert.Equal(t, []string{"backend", "frontend"}, roles)
}

func TestMatchingService_RunMatching_SingleHire(t *testing.T) {
	engagements := new(mockEngagementRepo)
	matches := new(mockMatchRepo)
	providers := new(mockProviderRepo)
	verifications := new(mockVerificationReader)
	svc := NewMatchingService(engagements, matches, providers, verifications, nil, nil, nil, nil, 72*time.Hour, 5)
	ctx := context.Background()

	e := &models.Engagement{
		ID:             uuid.New(),
		ClientID:       uuid.New(),
		Status:         models.EngagementStatusFunded,
		HireType:       models.HireTypeSingle,
		RequiredSkills: []string{"go", "postgresql"},
	}
	matching := *e
	matching.Status = models.EngagementStatusMatching

	strong := models.Provider{ID: uuid.New(), Skills: []string{"go", "postgres"}}
	weak := models.Provider{ID: uuid.New(), Skills: []string{"php"}}

	now := time.Now()
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusFunded, models.EngagementStatusMatching).Return(&matching, nil)
	matches.On("ListMatchedFreelancers", ctx, e.ID).Return([]uuid.UUID{}, nil)
	providers.On("ListApprovedCandidates", ctx, []uuid.UUID{}).Return([]models.Provider{strong, weak}, nil)
	verifications.On("GetByFreelancer", ctx, strong.ID).Return(&models.VerificationResult{
		FreelancerID: strong.ID,
		OverallScore: 90,
		Status:       models.VerificationStatusApproved,
		CompletedAt:  &now,
	}, nil)
	verifications.On("GetByFreelancer", ctx, weak.ID).Return(nil, common.ErrNotFound)
	matches.On("Upsert", ctx, mock.AnythingOfType("*models.Match")).Return(nil)

	offers, err := svc.RunMatching(ctx, e.ID)
	assert.NoError(t, err)
	assert.Len(t, offers, 2)

	// 0.40*100 + 0.25*90 + 0.15*50 + 0.10*50 + 0.10*50
	assert.Equal(t, float64(80), offers[0].Score)
	assert.Equal(t, strong.ID, offers[0].FreelancerID)
	assert.Equal(t, models.MatchConfidenceHigh, offers[0].Confidence)

	// Без финализированной верификации vetting считается нулём.
	assert.Equal(t, 17.5, offers[1].Score)
	assert.Equal(t, models.MatchConfidenceLow, offers[1].Confidence)

	for _, o := range offers {
		assert.Equal(t, models.MatchStatusPending, o.Status)
		assert.NotNil(t, o.ExpiresAt)
	}
	matches.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestMatchingService_RunMatching_RequiresFunding(t *testing.T) {
	engagements := new(mockEngagementRepo)
	matches := new(mockMatchRepo)
	svc := NewMatchingService(engagements, matches, nil, nil, nil, nil, nil, nil, 72*time.Hour, 5)
	ctx := context.Background()

	e := &models.Engagement{ID: uuid.New(), Status: models.EngagementStatusDraft}
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)

	_, err := svc.RunMatching(ctx, e.ID)
	assert.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
	matches.AssertNotCalled(t, "ListMatchedFreelancers", mock.Anything, mock.Anything)
}

func TestMatchingService_AcceptMatch_Winner(t *testing.T) {
	engagements := new(mockEngagementRepo)
	matches := new(mockMatchRepo)
	planner := new(mockMilestonePlanner)
	svc := NewMatchingService(engagements, matches, nil, nil, planner, nil, nil, nil, 72*time.Hour, 5)
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusMatching}
	m := &models.Match{ID: uuid.New(), EngagementID: e.ID, FreelancerID: freelancerID, Status: models.MatchStatusPending}
	accepted := *m
	accepted.Status = models.MatchStatusAccepted
	matched := *e
	matched.Status = models.EngagementStatusMatched
	matched.FreelancerID = &freelancerID

	matches.On("GetByID", ctx, m.ID).Return(m, nil)
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	matches.On("CountAccepted", ctx, e.ID, "").Return(0, nil)
	matches.On("Accept", ctx, m.ID).Return(&accepted, nil)
	matches.On("RejectSiblings", ctx, e.ID, "", m.ID).Return(int64(2), nil)
	engagements.On("SetFreelancer", ctx, e.ID, freelancerID).Return(nil)
	engagements.On("UpdateStatus", ctx, e.ID, models.EngagementStatusMatching, models.EngagementStatusMatched).Return(&matched, nil)
	planner.On("AutoCreate", ctx, &matched).Return([]models.Milestone{}, nil)

	got, err := svc.AcceptMatch(ctx, m.ID, clientID, models.RoleClient)
	assert.NoError(t, err)
	assert.Equal(t, models.MatchStatusAccepted, got.Status)
	matches.AssertExpectations(t)
	engagements.AssertExpectations(t)
	planner.AssertExpectations(t)
}

func TestMatchingService_AcceptMatch_ConcurrentLoser(t *testing.T) {
	engagements := new(mockEngagementRepo)
	matches := new(mockMatchRepo)
	svc := NewMatchingService(engagements, matches, nil, nil, nil, nil, nil, nil, 72*time.Hour, 5)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusMatching}
	m := &models.Match{ID: uuid.New(), EngagementID: e.ID, FreelancerID: uuid.New(), Status: models.MatchStatusPending}

	matches.On("GetByID", ctx, m.ID).Return(m, nil)
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	matches.On("CountAccepted", ctx, e.ID, "").Return(0, nil)
	// Проигравший конкурентный вызов: строка уже не pending.
	matches.On("Accept", ctx, m.ID).Return(nil, repository.ErrStaleStatus)

	_, err := svc.AcceptMatch(ctx, m.ID, clientID, models.RoleClient)
	assert.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
	matches.AssertNotCalled(t, "RejectSiblings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	engagements.AssertNotCalled(t, "SetFreelancer", mock.Anything, mock.Anything, mock.Anything)
}

func TestMatchingService_AcceptMatch_RoleAlreadyTaken(t *testing.T) {
	engagements := new(mockEngagementRepo)
	matches := new(mockMatchRepo)
	svc := NewMatchingService(engagements, matches, nil, nil, nil, nil, nil, nil, 72*time.Hour, 5)
	ctx := context.Background()
	clientID := uuid.New()

	e := &models.Engagement{ID: uuid.New(), ClientID: clientID, Status: models.EngagementStatusMatching}
	m := &models.Match{ID: uuid.New(), EngagementID: e.ID, FreelancerID: uuid.New(), Role: "backend", Status: models.MatchStatusPending}

	matches.On("GetByID", ctx, m.ID).Return(m, nil)
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)
	matches.On("CountAccepted", ctx, e.ID, "backend").Return(1, nil)

	_, err := svc.AcceptMatch(ctx, m.ID, clientID, models.RoleClient)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "уже принято предложение")
	matches.AssertNotCalled(t, "Accept", mock.Anything, mock.Anything)
}

func TestMatchingService_RejectMatch_OnlyParties(t *testing.T) {
	engagements := new(mockEngagementRepo)
	matches := new(mockMatchRepo)
	svc := NewMatchingService(engagements, matches, nil, nil, nil, nil, nil, nil, 72*time.Hour, 5)
	ctx := context.Background()

	e := &models.Engagement{ID: uuid.New(), ClientID: uuid.New(), Status: models.EngagementStatusMatching}
	m := &models.Match{ID: uuid.New(), EngagementID: e.ID, FreelancerID: uuid.New(), Status: models.MatchStatusPending}

	matches.On("GetByID", ctx, m.ID).Return(m, nil)
	engagements.On("GetByID", ctx, e.ID).Return(e, nil)

	_, err := svc.RejectMatch(ctx, m.ID, uuid.New(), models.RoleFreelancer)
	assert.True(t, apperror.IsForbidden(err))
}

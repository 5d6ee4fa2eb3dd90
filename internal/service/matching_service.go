package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/goroutine"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

// MatchRepository описывает хранилище предложений метчинга.
type MatchRepository interface {
	Upsert(ctx context.Context, m *models.Match) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Match, error)
	Accept(ctx context.Context, id uuid.UUID) (*models.Match, error)
	Reject(ctx context.Context, id uuid.UUID) (*models.Match, error)
	RejectSiblings(ctx context.Context, engagementID uuid.UUID, role string, acceptedID uuid.UUID) (int64, error)
	CountAccepted(ctx context.Context, engagementID uuid.UUID, role string) (int, error)
	ListMatchedFreelancers(ctx context.Context, engagementID uuid.UUID) ([]uuid.UUID, error)
}

// ProviderRepository описывает пул кандидатов для метчинга.
type ProviderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	ListApprovedCandidates(ctx context.Context, exclude []uuid.UUID) ([]models.Provider, error)
}

// MatchVerificationReader отдаёт финализированную верификацию кандидата.
type MatchVerificationReader interface {
	GetByFreelancer(ctx context.Context, freelancerID uuid.UUID) (*models.VerificationResult, error)
}

// MatchEngagementRepository — операции над проектом, нужные метчингу.
type MatchEngagementRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Engagement, error)
	SetFreelancer(ctx context.Context, id, freelancerID uuid.UUID) error
}

// MilestonePlanner создаёт вехи проекта после принятия метча.
type MilestonePlanner interface {
	AutoCreate(ctx context.Context, engagement *models.Engagement) ([]models.Milestone, error)
}

// Веса итогового балла метчинга. Сумма равна 1.
const (
	weightSkillOverlap    = 0.40
	weightVetting         = 0.25
	weightRatings         = 0.15
	weightAvailability    = 0.10
	weightPastPerformance = 0.10
)

// Веса командного варианта: роль важнее общего профиля.
const (
	weightRoleFit     = 0.70
	weightTeamVetting = 0.30
)

const neutralScore = 50.0

// MatchingService вычисляет взвешенный балл совместимости кандидатов
// и ведёт жизненный цикл предложений.
type MatchingService struct {
	engagements   MatchEngagementRepository
	matches       MatchRepository
	providers     ProviderRepository
	verifications MatchVerificationReader
	planner       MilestonePlanner
	contracts     ContractGenerator
	audit         AuditLog
	notifier      Notifier
	offerTTL      time.Duration
	topN          int
}

// NewMatchingService создаёт движок метчинга.
func NewMatchingService(
	engagements MatchEngagementRepository,
	matches MatchRepository,
	providers ProviderRepository,
	verifications MatchVerificationReader,
	planner MilestonePlanner,
	contracts ContractGenerator,
	audit AuditLog,
	notifier Notifier,
	offerTTL time.Duration,
	topN int,
) *MatchingService {
	if topN <= 0 {
		topN = 5
	}
	return &MatchingService{
		engagements:   engagements,
		matches:       matches,
		providers:     providers,
		verifications: verifications,
		planner:       planner,
		contracts:     contracts,
		audit:         audit,
		notifier:      notifier,
		offerTTL:      offerTTL,
		topN:          topN,
	}
}

// skillAliases нормализует распространённые варианты написания навыков.
var skillAliases = map[string]string{
	"js":           "javascript",
	"ts":           "typescript",
	"golang":       "go",
	"postgres":     "postgresql",
	"node":         "nodejs",
	"node.js":      "nodejs",
	"react.js":     "react",
	"reactjs":      "react",
	"vue.js":       "vue",
	"vuejs":        "vue",
	"k8s":          "kubernetes",
	"ml":           "machine learning",
	"ui/ux":        "design",
	"ux":           "design",
	"ui":           "design",
	"figma":        "design",
	"верстка":      "frontend",
	"бэкенд":       "backend",
	"фронтенд":     "frontend",
	"тестирование": "qa",
}

func normalizeSkill(skill string) string {
	s := strings.ToLower(strings.TrimSpace(skill))
	if alias, ok := skillAliases[s]; ok {
		return alias
	}
	return s
}

// SkillOverlapScore считает долю требуемых навыков, покрытых кандидатом.
// Нейтральные 50 если навыки не требуются, 0 если у кандидата их нет.
func SkillOverlapScore(required, candidate []string) float64 {
	if len(required) == 0 {
		return neutralScore
	}
	if len(candidate) == 0 {
		return 0
	}

	have := make(map[string]struct{}, len(candidate))
	for _, s := range candidate {
		have[normalizeSkill(s)] = struct{}{}
	}

	matched := 0
	for _, s := range required {
		if _, ok := have[normalizeSkill(s)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required)) * 100
}

// AvailabilityScore переводит доступность кандидата в балл.
func AvailabilityScore(availability *string) float64 {
	if availability == nil {
		return neutralScore
	}
	switch *availability {
	case models.AvailabilityAvailable:
		return 100
	case models.AvailabilityBusy:
		return 50
	case models.AvailabilityUnavailable:
		return 0
	default:
		return neutralScore
	}
}

// PastPerformanceScore агрегирует историю кандидата:
// 70% — доля вех, сданных в срок, 30% — доля завершённых проектов.
// Без истории — нейтральные 50.
func PastPerformanceScore(p *models.Provider) float64 {
	if p.TotalMilestones == 0 && p.TotalProjects == 0 {
		return neutralScore
	}
	var onTimeRate, completionRate float64
	if p.TotalMilestones > 0 {
		onTimeRate = float64(p.OnTimeMilestones) / float64(p.TotalMilestones)
	}
	if p.TotalProjects > 0 {
		completionRate = float64(p.CompletedProjects) / float64(p.TotalProjects)
	}
	return (onTimeRate*0.70 + completionRate*0.30) * 100
}

// TimezoneCompatibilityScore — справочный балл, в итоговую сумму не входит.
func TimezoneCompatibilityScore(clientTZ, providerTZ *string) float64 {
	if clientTZ == nil || providerTZ == nil {
		return neutralScore
	}
	if *clientTZ == *providerTZ {
		return 100
	}
	return 70
}

// scoreCandidate считает разбивку и итоговый балл кандидата по проекту.
func scoreCandidate(e *models.Engagement, p *models.Provider, vettingScore float64) (models.Breakdown, float64) {
	b := models.Breakdown{
		SkillOverlap:          SkillOverlapScore(e.RequiredSkills, p.Skills),
		VettingScore:          vettingScore,
		Ratings:               neutralScore,
		Availability:          AvailabilityScore(p.Availability),
		PastPerformance:       PastPerformanceScore(p),
		TimezoneCompatibility: TimezoneCompatibilityScore(nil, p.Timezone),
	}

	overall := weightSkillOverlap*b.SkillOverlap +
		weightVetting*b.VettingScore +
		weightRatings*b.Ratings +
		weightAvailability*b.Availability +
		weightPastPerformance*b.PastPerformance

	return b, math.Round(overall*100) / 100
}

// confidenceFor переводит балл в уровень уверенности.
func confidenceFor(score float64) string {
	switch {
	case score >= 80:
		return models.MatchConfidenceHigh
	case score >= 60:
		return models.MatchConfidenceMedium
	default:
		return models.MatchConfidenceLow
	}
}

// buildExplanation собирает объяснение из факторов, превысивших пороги.
func buildExplanation(b models.Breakdown) string {
	var parts []string
	if b.SkillOverlap >= 80 {
		parts = append(parts, "навыки почти полностью покрывают требования")
	} else if b.SkillOverlap >= 50 {
		parts = append(parts, "навыки частично покрывают требования")
	}
	if b.VettingScore >= 85 {
		parts = append(parts, "высокий балл верификации")
	}
	if b.Availability >= 100 {
		parts = append(parts, "кандидат свободен для работы")
	}
	if b.PastPerformance >= 70 {
		parts = append(parts, "стабильная история сдачи вех в срок")
	}
	if len(parts) == 0 {
		return "Совпадение по базовым критериям."
	}
	return "Кандидат подходит: " + strings.Join(parts, ", ") + "."
}

// RunMatching перебирает approved-кандидатов и сохраняет top-N предложений.
// Повторный запуск обновляет существующие строки (upsert), не плодя дубликаты.
func (s *MatchingService) RunMatching(ctx context.Context, engagementID uuid.UUID) ([]models.Match, error) {
	e, err := s.engagements.GetByID(ctx, engagementID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}

	switch e.Status {
	case models.EngagementStatusFunded:
		// Первый запуск переводит проект в matching.
		if e, err = s.engagements.UpdateStatus(ctx, e.ID, models.EngagementStatusFunded, models.EngagementStatusMatching); err != nil {
			if !errors.Is(err, repository.ErrStaleStatus) {
				return nil, err
			}
			if e, err = s.engagements.GetByID(ctx, engagementID); err != nil {
				return nil, err
			}
			if e.Status != models.EngagementStatusMatching {
				return nil, apperror.New(apperror.ErrCodeInvalidTransition, "метчинг доступен только для профинансированного проекта")
			}
		}
	case models.EngagementStatusMatching:
	default:
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "метчинг доступен только для профинансированного проекта")
	}

	exclude, err := s.matches.ListMatchedFreelancers(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.providers.ListApprovedCandidates(ctx, exclude)
	if err != nil {
		return nil, err
	}

	if e.HireType == models.HireTypeTeam {
		return s.runTeamMatching(ctx, e, candidates)
	}
	return s.runSingleMatching(ctx, e, candidates)
}

func (s *MatchingService) runSingleMatching(ctx context.Context, e *models.Engagement, candidates []models.Provider) ([]models.Match, error) {
	scored := make([]models.Match, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		breakdown, overall := scoreCandidate(e, p, s.vettingScore(ctx, p.ID))
		scored = append(scored, models.Match{
			EngagementID: e.ID,
			FreelancerID: p.ID,
			Role:         "",
			Score:        overall,
			Confidence:   confidenceFor(overall),
			Status:       models.MatchStatusPending,
			Explanation:  buildExplanation(breakdown),
			Breakdown:    breakdown,
		})
	}

	return s.persistTop(ctx, e, scored)
}

// teamRoles выводит роли команды из требуемых навыков проекта.
var teamRoleSkills = map[string][]string{
	"backend":  {"go", "python", "java", "nodejs", "postgresql", "backend"},
	"frontend": {"javascript", "typescript", "react", "vue", "frontend"},
	"design":   {"design"},
	"qa":       {"qa"},
}

func rolesForEngagement(required []string) []string {
	seen := map[string]bool{}
	var roles []string
	for _, skill := range required {
		norm := normalizeSkill(skill)
		for role, roleSkills := range teamRoleSkills {
			if seen[role] {
				continue
			}
			for _, rs := range roleSkills {
				if rs == norm {
					seen[role] = true
					roles = append(roles, role)
					break
				}
			}
		}
	}
	if len(roles) == 0 {
		roles = []string{"backend", "frontend"}
	}
	sort.Strings(roles)
	return roles
}

// runTeamMatching разбивает требования на роли и повторяет метчинг на роль.
// Балл роли: 70% соответствие роли, 30% верификация.
func (s *MatchingService) runTeamMatching(ctx context.Context, e *models.Engagement, candidates []models.Provider) ([]models.Match, error) {
	var all []models.Match
	for _, role := range rolesForEngagement(e.RequiredSkills) {
		roleSkills := teamRoleSkills[role]
		scored := make([]models.Match, 0, len(candidates))
		for i := range candidates {
			p := &candidates[i]
			vetting := s.vettingScore(ctx, p.ID)
			roleFit := SkillOverlapScore(roleSkills, p.Skills)
			overall := math.Round((weightRoleFit*roleFit+weightTeamVetting*vetting)*100) / 100

			breakdown := models.Breakdown{
				SkillOverlap:          roleFit,
				VettingScore:          vetting,
				Ratings:               neutralScore,
				Availability:          AvailabilityScore(p.Availability),
				PastPerformance:       PastPerformanceScore(p),
				TimezoneCompatibility: TimezoneCompatibilityScore(nil, p.Timezone),
			}
			scored = append(scored, models.Match{
				EngagementID: e.ID,
				FreelancerID: p.ID,
				Role:         role,
				Score:        overall,
				Confidence:   confidenceFor(overall),
				Status:       models.MatchStatusPending,
				Explanation:  fmt.Sprintf("Роль %s: %s", role, buildExplanation(breakdown)),
				Breakdown:    breakdown,
			})
		}
		persisted, err := s.persistTop(ctx, e, scored)
		if err != nil {
			return nil, err
		}
		all = append(all, persisted...)
	}
	return all, nil
}

func (s *MatchingService) vettingScore(ctx context.Context, freelancerID uuid.UUID) float64 {
	v, err := s.verifications.GetByFreelancer(ctx, freelancerID)
	if err != nil || v.CompletedAt == nil {
		return 0
	}
	return v.OverallScore
}

func (s *MatchingService) persistTop(ctx context.Context, e *models.Engagement, scored []models.Match) ([]models.Match, error) {
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > s.topN {
		scored = scored[:s.topN]
	}

	expiresAt := time.Now().Add(s.offerTTL)
	for i := range scored {
		scored[i].ExpiresAt = &expiresAt
		if err := s.matches.Upsert(ctx, &scored[i]); err != nil {
			return nil, err
		}
	}

	recordAudit(ctx, s.audit, "matching.ran", nil, models.ActorRoleSystem, "engagement", e.ID, map[string]any{
		"offers": len(scored),
	})

	return scored, nil
}

// AcceptMatch принимает предложение. Из конкурентных вызовов по одному
// предложению выигрывает ровно один; соседние pending-предложения той же
// роли отклоняются, проект переходит в matched, создаются вехи.
func (s *MatchingService) AcceptMatch(ctx context.Context, matchID, actorID uuid.UUID, actorRole string) (*models.Match, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrMatchNotFound
		}
		return nil, err
	}

	e, err := s.engagements.GetByID(ctx, m.EngagementID)
	if err != nil {
		return nil, err
	}
	if !e.IsOwnedBy(actorID) && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	// Дружелюбная проверка до записи; гонку двух принятий страхует
	// уникальный индекс по принятым предложениям.
	taken, err := s.matches.CountAccepted(ctx, e.ID, m.Role)
	if err != nil {
		return nil, err
	}
	if taken > 0 {
		return nil, apperror.New(apperror.ErrCodeConflict, "по этой роли уже принято предложение")
	}

	accepted, err := s.matches.Accept(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "предложение уже не ожидает решения")
		}
		return nil, err
	}

	if _, err := s.matches.RejectSiblings(ctx, e.ID, accepted.Role, accepted.ID); err != nil {
		logrus.WithError(err).Error("matching: не удалось отклонить конкурирующие предложения")
	}

	if err := s.engagements.SetFreelancer(ctx, e.ID, accepted.FreelancerID); err != nil {
		return nil, err
	}

	updated, err := s.engagements.UpdateStatus(ctx, e.ID, models.EngagementStatusMatching, models.EngagementStatusMatched)
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		return nil, err
	}
	if updated != nil {
		e = updated
	}

	if s.planner != nil {
		if _, err := s.planner.AutoCreate(ctx, e); err != nil {
			logrus.WithError(err).WithField("engagement_id", e.ID).Error("matching: не удалось создать вехи")
		}
	}

	recordAudit(ctx, s.audit, "match.accepted", &actorID, actorRole, "match", accepted.ID, map[string]any{
		"engagement_id": e.ID,
		"freelancer_id": accepted.FreelancerID,
		"role":          accepted.Role,
	})

	// Внешние вызовы идут после фиксации авторитетного состояния.
	if s.contracts != nil {
		engagementID := e.ID
		goroutine.SafeGo(func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.contracts.GenerateContract(bgCtx, engagementID); err != nil {
				logrus.WithError(err).WithField("engagement_id", engagementID).Error("matching: не удалось сформировать договор")
			}
		})
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, []uuid.UUID{e.ClientID, accepted.FreelancerID},
			"Метч принят",
			fmt.Sprintf("Проект «%s» переведён в работу", e.Title),
			"matching", map[string]any{"engagement_id": e.ID})
	}

	return accepted, nil
}

// RejectMatch отклоняет предложение.
func (s *MatchingService) RejectMatch(ctx context.Context, matchID, actorID uuid.UUID, actorRole string) (*models.Match, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrMatchNotFound
		}
		return nil, err
	}

	e, err := s.engagements.GetByID(ctx, m.EngagementID)
	if err != nil {
		return nil, err
	}
	// Отклонить может клиент или сам кандидат.
	if !e.IsOwnedBy(actorID) && m.FreelancerID != actorID && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	rejected, err := s.matches.Reject(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "предложение уже не ожидает решения")
		}
		return nil, err
	}

	recordAudit(ctx, s.audit, "match.rejected", &actorID, actorRole, "match", rejected.ID, nil)
	return rejected, nil
}

// ListMatches возвращает предложения проекта.
func (s *MatchingService) ListMatches(ctx context.Context, engagementID, actorID uuid.UUID, actorRole string) ([]models.Match, error) {
	e, err := s.engagements.GetByID(ctx, engagementID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}
	if !e.IsParticipant(actorID) && actorRole != models.RoleAdmin && actorRole != models.RoleModerator {
		return nil, apperror.ErrForbidden
	}
	return s.matches.ListByEngagement(ctx, engagementID)
}

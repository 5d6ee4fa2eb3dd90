package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/gateway"
	"github.com/ignatzorin/talentflow-backend/internal/goroutine"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

// MilestoneRepository описывает хранилище вех.
type MilestoneRepository interface {
	CreateBatch(ctx context.Context, milestones []*models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Milestone, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, autoReleaseAt *time.Time) (*models.Milestone, error)
	AddDeliverables(ctx context.Context, milestoneID uuid.UUID, deliverables []models.Deliverable) ([]models.Deliverable, error)
	ListDeliverables(ctx context.Context, milestoneID uuid.UUID) ([]models.Deliverable, error)
	CountUnpaid(ctx context.Context, engagementID uuid.UUID) (int, error)
}

// SettlementLedger списывает средства вехи из эскроу ровно один раз.
type SettlementLedger interface {
	ReleaseMilestoneFunds(ctx context.Context, engagementID, milestoneID uuid.UUID, payoutRef string) (*models.Payment, error)
}

// ProviderStats накапливает историю фрилансера для метчинга.
type ProviderStats interface {
	IncrementMilestoneStats(ctx context.Context, id uuid.UUID, onTime bool) error
	IncrementProjectStats(ctx context.Context, id uuid.UUID, completed bool) error
}

// MilestoneInput — веха, заявленная клиентом при создании проекта.
type MilestoneInput struct {
	Title   string     `json:"title"`
	Amount  float64    `json:"amount"`
	DueDate *time.Time `json:"due_date"`
}

// MilestoneService ведёт жизненный цикл вех: от автосоздания до выплаты.
type MilestoneService struct {
	repo             MilestoneRepository
	engagements      EngagementRepository
	ledger           SettlementLedger
	providers        ProviderStats
	gateway          gateway.Gateway
	audit            AuditLog
	notifier         Notifier
	autoReleaseAfter time.Duration
}

// NewMilestoneService создаёт движок расчётов по вехам.
func NewMilestoneService(
	repo MilestoneRepository,
	engagements EngagementRepository,
	ledger SettlementLedger,
	providers ProviderStats,
	gw gateway.Gateway,
	audit AuditLog,
	notifier Notifier,
	autoReleaseAfter time.Duration,
) *MilestoneService {
	if autoReleaseAfter <= 0 {
		autoReleaseAfter = 48 * time.Hour
	}
	return &MilestoneService{
		repo:             repo,
		engagements:      engagements,
		ledger:           ledger,
		providers:        providers,
		gateway:          gw,
		audit:            audit,
		notifier:         notifier,
		autoReleaseAfter: autoReleaseAfter,
	}
}

// phaseKeywords — фазы, выводимые из текста проекта, в порядке выполнения.
var phaseKeywords = []struct {
	title    string
	keywords []string
}{
	{"Дизайн", []string{"design", "дизайн", "ui", "ux", "макет"}},
	{"Бэкенд", []string{"backend", "бэкенд", "api", "сервер", "база данных"}},
	{"Фронтенд", []string{"frontend", "фронтенд", "верстка", "интерфейс"}},
	{"Интеграция", []string{"integration", "интеграция", "webhook", "платеж"}},
	{"Тестирование", []string{"testing", "тестирование", "qa", "тест"}},
	{"Деплой", []string{"deployment", "deploy", "деплой", "запуск", "релиз"}},
}

// durationTemplates — запасные шаблоны фаз по длительности проекта.
// Проценты каждой строки в сумме дают 100.
func durationTemplate(days int) []float64 {
	switch {
	case days > 0 && days <= 7:
		return []float64{50, 50}
	case days <= 30:
		return []float64{30, 40, 30}
	case days <= 90:
		return []float64{25, 30, 25, 20}
	default:
		return []float64{20, 20, 20, 20, 20}
	}
}

// PlanMilestones строит план вех проекта. Приоритет источников:
// заявленные клиентом вехи, фазы по ключевым словам, шаблон по длительности.
// Ошибка округления поглощается последней вехой, чтобы сумма сошлась с
// бюджетом копейка в копейку.
func PlanMilestones(e *models.Engagement, declared []MilestoneInput) []*models.Milestone {
	if len(declared) > 0 {
		return planFromDeclared(e, declared)
	}

	if titles := matchPhases(e.Title + " " + e.Description); len(titles) >= 2 {
		percents := make([]float64, len(titles))
		for i := range percents {
			percents[i] = 100 / float64(len(titles))
		}
		return planFromPercents(e, titles, percents)
	}

	percents := durationTemplate(e.DurationDays())
	titles := make([]string, len(percents))
	for i := range titles {
		titles[i] = fmt.Sprintf("Этап %d", i+1)
	}
	return planFromPercents(e, titles, percents)
}

func matchPhases(text string) []string {
	lower := strings.ToLower(text)
	var titles []string
	for _, phase := range phaseKeywords {
		for _, kw := range phase.keywords {
			if strings.Contains(lower, kw) {
				titles = append(titles, phase.title)
				break
			}
		}
	}
	return titles
}

func planFromDeclared(e *models.Engagement, declared []MilestoneInput) []*models.Milestone {
	milestones := make([]*models.Milestone, 0, len(declared))
	var explicit float64
	hasAmounts := false
	for _, d := range declared {
		if d.Amount > 0 {
			hasAmounts = true
		}
		explicit += d.Amount
	}

	var running float64
	for i, d := range declared {
		amount := d.Amount
		if !hasAmounts {
			amount = round2(e.TotalAmount / float64(len(declared)))
		}
		if i == len(declared)-1 {
			// Последняя веха добирает остаток до бюджета.
			if !hasAmounts || math.Abs(explicit-e.TotalAmount) <= 0.01 {
				amount = round2(e.TotalAmount - running)
			}
		}
		running += amount
		milestones = append(milestones, &models.Milestone{
			EngagementID: e.ID,
			Title:        d.Title,
			SeqOrder:     i + 1,
			Amount:       amount,
			Currency:     e.Currency,
			Status:       models.MilestoneStatusPending,
			DueDate:      d.DueDate,
		})
	}
	return milestones
}

func planFromPercents(e *models.Engagement, titles []string, percents []float64) []*models.Milestone {
	milestones := make([]*models.Milestone, 0, len(percents))
	var running float64
	for i, pct := range percents {
		amount := round2(e.TotalAmount * pct / 100)
		if i == len(percents)-1 {
			amount = round2(e.TotalAmount - running)
		}
		running += amount

		var due *time.Time
		if e.StartDate != nil && e.EndDate != nil {
			total := e.EndDate.Sub(*e.StartDate)
			d := e.StartDate.Add(total * time.Duration(i+1) / time.Duration(len(percents)))
			due = &d
		}

		milestones = append(milestones, &models.Milestone{
			EngagementID: e.ID,
			Title:        titles[i],
			SeqOrder:     i + 1,
			Amount:       amount,
			Currency:     e.Currency,
			Status:       models.MilestoneStatusPending,
			DueDate:      due,
		})
	}
	return milestones
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AutoCreate создаёт вехи проекта по плану. Повторный вызов возвращает
// уже существующие вехи.
func (s *MilestoneService) AutoCreate(ctx context.Context, e *models.Engagement) ([]models.Milestone, error) {
	existing, err := s.repo.ListByEngagement(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	return s.CreateForEngagement(ctx, e, nil)
}

// CreateForEngagement строит и сохраняет вехи. Сумма вех обязана сойтись
// с бюджетом проекта с точностью до 0.01.
func (s *MilestoneService) CreateForEngagement(ctx context.Context, e *models.Engagement, declared []MilestoneInput) ([]models.Milestone, error) {
	plan := PlanMilestones(e, declared)

	var sum float64
	for _, m := range plan {
		if m.Amount <= 0 {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма вехи должна быть положительной")
		}
		sum += m.Amount
	}
	if math.Abs(sum-e.TotalAmount) > 0.01 {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("сумма вех %.2f не сходится с бюджетом %.2f", sum, e.TotalAmount))
	}

	if err := s.repo.CreateBatch(ctx, plan); err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, "milestones.created", nil, models.ActorRoleSystem, "engagement", e.ID, map[string]any{
		"count": len(plan),
	})

	result := make([]models.Milestone, 0, len(plan))
	for _, m := range plan {
		result = append(result, *m)
	}
	return result, nil
}

// List возвращает вехи проекта с результатами работ.
func (s *MilestoneService) List(ctx context.Context, engagementID, actorID uuid.UUID, actorRole string) ([]models.Milestone, error) {
	e, err := s.getEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if !e.IsParticipant(actorID) && actorRole != models.RoleAdmin && actorRole != models.RoleModerator {
		return nil, apperror.ErrForbidden
	}

	milestones, err := s.repo.ListByEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	for i := range milestones {
		deliverables, err := s.repo.ListDeliverables(ctx, milestones[i].ID)
		if err != nil {
			return nil, err
		}
		milestones[i].Deliverables = deliverables
	}
	return milestones, nil
}

// Start переводит веху pending -> in_progress. Только назначенный фрилансер.
func (s *MilestoneService) Start(ctx context.Context, milestoneID, actorID uuid.UUID) (*models.Milestone, error) {
	m, e, err := s.getMilestoneWithEngagement(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if e.FreelancerID == nil || *e.FreelancerID != actorID {
		return nil, apperror.ErrForbidden
	}

	updated, err := s.transition(ctx, m, models.MilestoneStatusInProgress, &actorID, models.RoleFreelancer, nil)
	if err != nil {
		return nil, err
	}

	// Первая взятая в работу веха запускает и сам проект. Гонку со встречным
	// переходом проигрываем молча: веха уже в работе.
	if e.Status == models.EngagementStatusMatched {
		if _, err := s.engagements.UpdateStatus(ctx, e.ID, models.EngagementStatusMatched, models.EngagementStatusInProgress); err != nil &&
			!errors.Is(err, repository.ErrStaleStatus) {
			logrus.WithError(err).WithField("engagement_id", e.ID).Error("milestone: не удалось запустить проект")
		}
	}

	return updated, nil
}

// Submit прикрепляет результаты работы и переводит веху в submitted.
// Отклонённая веха пересдаётся тем же путём.
func (s *MilestoneService) Submit(ctx context.Context, milestoneID, actorID uuid.UUID, deliverables []models.Deliverable) (*models.Milestone, error) {
	m, e, err := s.getMilestoneWithEngagement(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if e.FreelancerID == nil || *e.FreelancerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if len(deliverables) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "нужно приложить хотя бы один результат работы")
	}

	updated, err := s.transition(ctx, m, models.MilestoneStatusSubmitted, &actorID, models.RoleFreelancer, nil)
	if err != nil {
		return nil, err
	}

	saved, err := s.repo.AddDeliverables(ctx, milestoneID, deliverables)
	if err != nil {
		return nil, err
	}
	updated.Deliverables = saved

	if s.notifier != nil {
		s.notifier.Notify(ctx, []uuid.UUID{e.ClientID},
			"Веха сдана на проверку",
			fmt.Sprintf("Веха «%s» ожидает вашего решения", updated.Title),
			"milestone", map[string]any{"milestone_id": updated.ID})
	}

	return updated, nil
}

// Approve одобряет сданную веху и взводит таймер автовыплаты.
func (s *MilestoneService) Approve(ctx context.Context, milestoneID, actorID uuid.UUID, actorRole string) (*models.Milestone, error) {
	m, e, err := s.getMilestoneWithEngagement(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if !e.IsOwnedBy(actorID) && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	autoReleaseAt := time.Now().Add(s.autoReleaseAfter)
	updated, err := s.transition(ctx, m, models.MilestoneStatusApproved, &actorID, actorRole, &autoReleaseAt)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && e.FreelancerID != nil {
		s.notifier.Notify(ctx, []uuid.UUID{*e.FreelancerID},
			"Веха одобрена",
			fmt.Sprintf("Веха «%s» одобрена, выплата пройдёт автоматически %s", updated.Title, autoReleaseAt.Format("02.01.2006 15:04")),
			"milestone", map[string]any{"milestone_id": updated.ID})
	}

	return updated, nil
}

// Reject возвращает сданную веху на доработку.
func (s *MilestoneService) Reject(ctx context.Context, milestoneID, actorID uuid.UUID, actorRole, reason string) (*models.Milestone, error) {
	m, e, err := s.getMilestoneWithEngagement(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if !e.IsOwnedBy(actorID) && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	updated, err := s.transition(ctx, m, models.MilestoneStatusRejected, &actorID, actorRole, nil)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && e.FreelancerID != nil {
		s.notifier.Notify(ctx, []uuid.UUID{*e.FreelancerID},
			"Веха возвращена на доработку",
			fmt.Sprintf("Веха «%s»: %s", updated.Title, reason),
			"milestone", map[string]any{"milestone_id": updated.ID, "reason": reason})
	}

	return updated, nil
}

// Release выплачивает средства одобренной вехи вручную, не дожидаясь таймера.
func (s *MilestoneService) Release(ctx context.Context, milestoneID, actorID uuid.UUID, actorRole string) (*models.Payment, error) {
	m, e, err := s.getMilestoneWithEngagement(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if !e.IsOwnedBy(actorID) && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	return s.release(ctx, e, m, &actorID, actorRole)
}

// ReleaseDue выплачивает веху по таймеру (вызывается свипом).
// Предусловие перепроверяется внутри транзакции списания, так что
// конкурентные свипы безопасны.
func (s *MilestoneService) ReleaseDue(ctx context.Context, m *models.Milestone) (*models.Payment, error) {
	e, err := s.getEngagement(ctx, m.EngagementID)
	if err != nil {
		return nil, err
	}
	return s.release(ctx, e, m, nil, models.ActorRoleSystem)
}

func (s *MilestoneService) release(ctx context.Context, e *models.Engagement, m *models.Milestone, actorID *uuid.UUID, actorRole string) (*models.Payment, error) {
	// Спор замораживает выплаты; леджер перепроверит это внутри транзакции.
	if e.Status == models.EngagementStatusDisputed {
		return nil, apperror.New(apperror.ErrCodeConflict, "выплата недоступна: средства заблокированы спором")
	}

	payoutRef := "payout_" + uuid.NewString()
	payment, err := s.ledger.ReleaseMilestoneFunds(ctx, e.ID, m.ID, payoutRef)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleStatus):
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "веха уже не ожидает выплаты")
		case errors.Is(err, repository.ErrFundsDisputed):
			return nil, apperror.Wrap(err, apperror.ErrCodeConflict, "выплата недоступна: средства заблокированы спором")
		case errors.Is(err, repository.ErrInsufficientEscrow):
			// Нарушение инварианта эскроу: падаем громко, нужна ручная сверка.
			logrus.WithFields(logrus.Fields{
				"engagement_id": e.ID,
				"milestone_id":  m.ID,
				"amount":        m.Amount,
			}).Error("milestone: выплата превысила бы эскроу")
			return nil, apperror.Wrap(err, apperror.ErrCodeInsufficientEscrow, "недостаточно средств в эскроу")
		default:
			return nil, err
		}
	}

	recordAudit(ctx, s.audit, "milestone.released", actorID, actorRole, "milestone", m.ID, map[string]any{
		"engagement_id": e.ID,
		"amount":        payment.Amount,
		"net_amount":    payment.NetAmount,
		"platform_fee":  payment.PlatformFee,
	})

	// Статистика и внешняя выплата — после фиксации леджера.
	if e.FreelancerID != nil {
		freelancerID := *e.FreelancerID
		onTime := m.DueDate == nil || !time.Now().After(*m.DueDate)
		if s.providers != nil {
			if err := s.providers.IncrementMilestoneStats(ctx, freelancerID, onTime); err != nil {
				logrus.WithError(err).Error("milestone: не удалось обновить статистику фрилансера")
			}
		}
		if s.gateway != nil {
			amount, currency := payment.NetAmount, payment.Currency
			goroutine.SafeGo(func() {
				bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if _, err := s.gateway.CreatePayout(bgCtx, freelancerID, amount, currency); err != nil {
					logrus.WithError(err).WithField("payout_ref", *payment.GatewayRef).Error("milestone: шлюз не принял выплату, требуется ручная сверка")
				}
			})
		}
		if s.notifier != nil {
			s.notifier.Notify(ctx, []uuid.UUID{freelancerID, e.ClientID},
				"Выплата по вехе",
				fmt.Sprintf("Веха «%s» оплачена: %.2f %s", m.Title, payment.NetAmount, payment.Currency),
				"payment", map[string]any{"milestone_id": m.ID, "payment_id": payment.ID})
		}
	}

	s.completeIfSettled(ctx, e)
	return payment, nil
}

// completeIfSettled завершает проект, когда оплачены все вехи.
func (s *MilestoneService) completeIfSettled(ctx context.Context, e *models.Engagement) {
	unpaid, err := s.repo.CountUnpaid(ctx, e.ID)
	if err != nil {
		logrus.WithError(err).Error("milestone: не удалось проверить остаток вех")
		return
	}
	if unpaid > 0 {
		return
	}

	if _, err := s.engagements.UpdateStatus(ctx, e.ID, models.EngagementStatusInProgress, models.EngagementStatusCompleted); err != nil {
		if !errors.Is(err, repository.ErrStaleStatus) {
			logrus.WithError(err).WithField("engagement_id", e.ID).Error("milestone: не удалось завершить проект")
		}
		return
	}

	if s.providers != nil && e.FreelancerID != nil {
		if err := s.providers.IncrementProjectStats(ctx, *e.FreelancerID, true); err != nil {
			logrus.WithError(err).Error("milestone: не удалось обновить статистику проектов")
		}
	}

	recordAudit(ctx, s.audit, "engagement.completed", nil, models.ActorRoleSystem, "engagement", e.ID, nil)
}

func (s *MilestoneService) transition(ctx context.Context, m *models.Milestone, to string, actorID *uuid.UUID, actorRole string, autoReleaseAt *time.Time) (*models.Milestone, error) {
	if !models.CanTransitionMilestone(m.Status, to) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			fmt.Sprintf("переход вехи %s -> %s не разрешён", m.Status, to))
	}

	updated, err := s.repo.UpdateStatus(ctx, m.ID, m.Status, to, autoReleaseAt)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "статус вехи изменился, повторите запрос")
		}
		return nil, err
	}

	recordAudit(ctx, s.audit, "milestone.status_changed", actorID, actorRole, "milestone", m.ID, map[string]any{
		"old_status": m.Status,
		"new_status": to,
	})

	return updated, nil
}

func (s *MilestoneService) getMilestoneWithEngagement(ctx context.Context, milestoneID uuid.UUID) (*models.Milestone, *models.Engagement, error) {
	m, err := s.repo.GetByID(ctx, milestoneID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, apperror.ErrMilestoneNotFound
		}
		return nil, nil, err
	}
	e, err := s.getEngagement(ctx, m.EngagementID)
	if err != nil {
		return nil, nil, err
	}
	return m, e, nil
}

func (s *MilestoneService) getEngagement(ctx context.Context, id uuid.UUID) (*models.Engagement, error) {
	e, err := s.engagements.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}
	return e, nil
}

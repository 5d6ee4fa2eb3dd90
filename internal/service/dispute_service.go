package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/gateway"
	"github.com/ignatzorin/talentflow-backend/internal/goroutine"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
	"github.com/ignatzorin/talentflow-backend/internal/validation"
)

// DisputeRepository описывает хранилище споров.
type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Dispute, error)
	ListOpen(ctx context.Context, limit, offset int) ([]models.Dispute, error)
	SetSuggestion(ctx context.Context, id uuid.UUID, decision string) error
	MarkUnderReview(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, id uuid.UUID, decision string, resolutionAmount *float64, notes *string, resolvedBy uuid.UUID, spend repository.ResolutionSpend) (*models.Dispute, error)
}

// DisputeLedger — чтение леджера для эвристик разрешения.
type DisputeLedger interface {
	HasSucceededMilestonePayment(ctx context.Context, milestoneID uuid.UUID) (bool, error)
}

// DisputeEngagementRepository — операции над проектом при споре.
type DisputeEngagementRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Engagement, error)
	ClearFreelancer(ctx context.Context, id uuid.UUID) error
}

// DisputeMilestoneReader — чтение вехи, к которой привязан спор.
type DisputeMilestoneReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
}

// InitiateDisputeInput — параметры открытия спора.
type InitiateDisputeInput struct {
	EngagementID uuid.UUID  `json:"engagement_id"`
	MilestoneID  *uuid.UUID `json:"milestone_id"`
	Type         string     `json:"type"`
	Reason       string     `json:"reason"`
}

// Пороги автоматических эвристик разрешения.
const (
	overdueThreshold = 7 * 24 * time.Hour
	silenceThreshold = 3 * 24 * time.Hour
)

// DisputeService блокирует средства по спору и маршрутизирует их по решению:
// возврат, выплата, раздел или повторный метчинг.
type DisputeService struct {
	repo        DisputeRepository
	engagements DisputeEngagementRepository
	milestones  DisputeMilestoneReader
	ledger      DisputeLedger
	gateway     gateway.Gateway
	audit       AuditLog
	notifier    Notifier
}

// NewDisputeService создаёт сервис споров.
func NewDisputeService(
	repo DisputeRepository,
	engagements DisputeEngagementRepository,
	milestones DisputeMilestoneReader,
	ledger DisputeLedger,
	gw gateway.Gateway,
	audit AuditLog,
	notifier Notifier,
) *DisputeService {
	return &DisputeService{
		repo:        repo,
		engagements: engagements,
		milestones:  milestones,
		ledger:      ledger,
		gateway:     gw,
		audit:       audit,
		notifier:    notifier,
	}
}

// Initiate открывает спор и блокирует средства: сумму вехи при споре по вехе,
// весь остаток эскроу при споре по проекту. Второй активный спор на ту же
// область отклоняется.
func (s *DisputeService) Initiate(ctx context.Context, input InitiateDisputeInput, actorID uuid.UUID, actorRole string) (*models.Dispute, error) {
	if _, ok := models.ValidDisputeTypes[input.Type]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый тип спора")
	}
	if err := validation.ValidateReason(input.Reason); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if actorRole != models.RoleClient && actorRole != models.RoleModerator && actorRole != models.RoleAdmin && actorRole != models.RoleFreelancer {
		return nil, apperror.ErrForbidden
	}

	e, err := s.engagements.GetByID(ctx, input.EngagementID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}
	if !e.IsParticipant(actorID) && actorRole != models.RoleModerator && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	var milestone *models.Milestone
	lockedAmount := round2(e.RemainingEscrow())
	if input.MilestoneID != nil {
		milestone, err = s.milestones.GetByID(ctx, *input.MilestoneID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, apperror.ErrMilestoneNotFound
			}
			return nil, err
		}
		if milestone.EngagementID != e.ID {
			return nil, apperror.New(apperror.ErrCodeValidation, "веха не принадлежит проекту")
		}
		if milestone.Status == models.MilestoneStatusPaid {
			return nil, apperror.New(apperror.ErrCodeConflict, "веха уже оплачена")
		}
		lockedAmount = milestone.Amount
	}
	if lockedAmount <= 0 {
		return nil, apperror.New(apperror.ErrCodeConflict, "нет заблокированных средств для спора")
	}

	d := &models.Dispute{
		EngagementID:  e.ID,
		MilestoneID:   input.MilestoneID,
		InitiatorID:   actorID,
		InitiatorRole: actorRole,
		Type:          input.Type,
		Reason:        input.Reason,
		Status:        models.DisputeStatusOpen,
		LockedAmount:  lockedAmount,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrDisputeAlreadyOpen) {
			return nil, apperror.New(apperror.ErrCodeConflict, "по этой области уже идёт спор")
		}
		return nil, err
	}

	// Проект уходит в disputed; гонку со встречным переходом проигрываем молча:
	// спор уже создан, блокировка действует.
	if models.CanTransitionEngagement(e.Status, models.EngagementStatusDisputed) {
		if _, err := s.engagements.UpdateStatus(ctx, e.ID, e.Status, models.EngagementStatusDisputed); err != nil &&
			!errors.Is(err, repository.ErrStaleStatus) {
			logrus.WithError(err).WithField("engagement_id", e.ID).Error("dispute: не удалось перевести проект в disputed")
		}
	}

	recordAudit(ctx, s.audit, "dispute.initiated", &actorID, actorRole, "dispute", d.ID, map[string]any{
		"engagement_id": e.ID,
		"type":          d.Type,
		"locked_amount": d.LockedAmount,
	})

	// Рекомендация эвристики — справочная, решение всё равно принимает человек.
	if suggestion := s.suggestDecision(ctx, d, milestone, e); suggestion != "" {
		if err := s.repo.SetSuggestion(ctx, d.ID, suggestion); err != nil {
			logrus.WithError(err).Error("dispute: не удалось сохранить рекомендацию")
		} else {
			d.SuggestedDecision = &suggestion
			recordAudit(ctx, s.audit, "dispute.suggested", nil, models.ActorRoleSystem, "dispute", d.ID, map[string]any{
				"suggestion": suggestion,
			})
		}
	}

	if s.notifier != nil {
		recipients := []uuid.UUID{e.ClientID}
		if e.FreelancerID != nil {
			recipients = append(recipients, *e.FreelancerID)
		}
		s.notifier.Notify(ctx, recipients,
			"Открыт спор",
			fmt.Sprintf("По проекту «%s» открыт спор, заблокировано %.2f %s", e.Title, d.LockedAmount, e.Currency),
			"dispute", map[string]any{"dispute_id": d.ID})
	}

	return d, nil
}

// suggestDecision — автоматические эвристики. Порядок проверок фиксирован,
// первая сработавшая определяет рекомендацию.
func (s *DisputeService) suggestDecision(ctx context.Context, d *models.Dispute, milestone *models.Milestone, e *models.Engagement) string {
	now := time.Now()

	// Веха просрочена больше недели и так и не сдана — в пользу клиента.
	if milestone != nil && milestone.DueDate != nil && milestone.SubmittedAt == nil &&
		now.Sub(*milestone.DueDate) > overdueThreshold {
		return models.DisputeDecisionClientFavor
	}

	// Спор о коммуникации при молчании дольше трёх суток — в пользу клиента.
	// Последняя активность приближается временем последнего изменения проекта.
	if d.Type == models.DisputeTypeCommunication && now.Sub(e.UpdatedAt) > silenceThreshold {
		return models.DisputeDecisionClientFavor
	}

	// По вехе уже прошла успешная выплата — в пользу фрилансера.
	if milestone != nil {
		paid, err := s.ledger.HasSucceededMilestonePayment(ctx, milestone.ID)
		if err != nil {
			logrus.WithError(err).Error("dispute: не удалось проверить платежи вехи")
			return ""
		}
		if paid {
			return models.DisputeDecisionFreelancerFavor
		}
	}

	return ""
}

// TakeUnderReview переводит спор в работу модератора.
func (s *DisputeService) TakeUnderReview(ctx context.Context, disputeID, actorID uuid.UUID, actorRole string) (*models.Dispute, error) {
	if actorRole != models.RoleModerator && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	d, err := s.repo.MarkUnderReview(ctx, disputeID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNotFound):
			return nil, apperror.ErrDisputeNotFound
		case errors.Is(err, repository.ErrStaleStatus):
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "спор уже не в статусе open")
		}
		return nil, err
	}

	recordAudit(ctx, s.audit, "dispute.under_review", &actorID, actorRole, "dispute", d.ID, nil)
	return d, nil
}

// Resolve разрешает спор ровно один раз и распределяет заблокированные
// средства. Повторное разрешение падает громко, без повторных списаний.
func (s *DisputeService) Resolve(ctx context.Context, disputeID uuid.UUID, decision string, resolutionAmount *float64, notes *string, actorID uuid.UUID, actorRole string) (*models.Dispute, error) {
	if actorRole != models.RoleModerator && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	if _, ok := models.ValidDisputeDecisions[decision]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимое решение по спору")
	}

	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}

	var refund, payout float64
	switch decision {
	case models.DisputeDecisionClientFavor:
		refund = d.LockedAmount
	case models.DisputeDecisionFreelancerFavor:
		payout = d.LockedAmount
	case models.DisputeDecisionPartial:
		if resolutionAmount == nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "для partial требуется resolution_amount")
		}
		if *resolutionAmount < 0 || *resolutionAmount > d.LockedAmount {
			return nil, apperror.New(apperror.ErrCodeValidation,
				fmt.Sprintf("resolution_amount должен быть в диапазоне [0, %.2f]", d.LockedAmount))
		}
		payout = *resolutionAmount
		refund = round2(d.LockedAmount - *resolutionAmount)
	case models.DisputeDecisionReplacement:
		// Средства остаются в эскроу до нового метча.
	}

	e, err := s.engagements.GetByID(ctx, d.EngagementID)
	if err != nil {
		return nil, err
	}

	// Решение и движение денег фиксируются одной транзакцией: при сбое
	// списания спор остаётся открытым и запрос можно повторить.
	resolved, err := s.repo.Resolve(ctx, disputeID, decision, resolutionAmount, notes, actorID, repository.ResolutionSpend{
		Refund:    refund,
		Payout:    payout,
		Currency:  e.Currency,
		RefundRef: "dispute_refund_" + uuid.NewString(),
		PayoutRef: "dispute_payout_" + uuid.NewString(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDisputeResolved):
			return nil, apperror.New(apperror.ErrCodeConflict, "спор уже разрешён")
		case errors.Is(err, repository.ErrInsufficientEscrow):
			logrus.WithError(err).WithFields(logrus.Fields{
				"dispute_id": d.ID,
				"refund":     refund,
				"payout":     payout,
			}).Error("dispute: списание не прошло, спор остался открытым")
			return nil, apperror.Wrap(err, apperror.ErrCodeInsufficientEscrow, "не удалось распределить заблокированные средства")
		}
		return nil, err
	}

	s.routeEngagement(ctx, e, d, decision)

	recordAudit(ctx, s.audit, "dispute.resolved", &actorID, actorRole, "dispute", d.ID, map[string]any{
		"decision": decision,
		"refund":   refund,
		"payout":   payout,
	})

	// Внешние денежные поручения — после фиксации леджера, best-effort.
	if s.gateway != nil && (refund > 0 || payout > 0) {
		engagementID, currency := e.ID, e.Currency
		var freelancerID *uuid.UUID
		if e.FreelancerID != nil {
			id := *e.FreelancerID
			freelancerID = &id
		}
		goroutine.SafeGo(func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if refund > 0 {
				if _, err := s.gateway.Refund(bgCtx, engagementID, refund, currency); err != nil {
					logrus.WithError(err).Error("dispute: шлюз не принял возврат, требуется ручная сверка")
				}
			}
			if payout > 0 && freelancerID != nil {
				if _, err := s.gateway.CreatePayout(bgCtx, *freelancerID, payout, currency); err != nil {
					logrus.WithError(err).Error("dispute: шлюз не принял выплату, требуется ручная сверка")
				}
			}
		})
	}

	if s.notifier != nil {
		recipients := []uuid.UUID{e.ClientID}
		if e.FreelancerID != nil {
			recipients = append(recipients, *e.FreelancerID)
		}
		s.notifier.Notify(ctx, recipients,
			"Спор разрешён",
			fmt.Sprintf("Решение по спору: %s", decision),
			"dispute", map[string]any{"dispute_id": d.ID, "decision": decision})
	}

	return resolved, nil
}

// routeEngagement возвращает проект из disputed в подходящее состояние.
func (s *DisputeService) routeEngagement(ctx context.Context, e *models.Engagement, d *models.Dispute, decision string) {
	var target string
	switch {
	case decision == models.DisputeDecisionReplacement:
		// Новый метчинг; исполнитель снимается, средства остаются в эскроу.
		if err := s.engagements.ClearFreelancer(ctx, e.ID); err != nil {
			logrus.WithError(err).Error("dispute: не удалось снять исполнителя")
		}
		target = models.EngagementStatusMatching
	case decision == models.DisputeDecisionClientFavor && d.MilestoneID == nil:
		// Спор по всему проекту в пользу клиента закрывает проект.
		target = models.EngagementStatusCancelled
	default:
		target = models.EngagementStatusInProgress
	}

	if e.Status != models.EngagementStatusDisputed {
		return
	}
	if _, err := s.engagements.UpdateStatus(ctx, e.ID, models.EngagementStatusDisputed, target); err != nil &&
		!errors.Is(err, repository.ErrStaleStatus) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"engagement_id": e.ID,
			"target":        target,
		}).Error("dispute: не удалось вернуть проект из disputed")
	}
}

// Get возвращает спор с проверкой доступа.
func (s *DisputeService) Get(ctx context.Context, disputeID, actorID uuid.UUID, actorRole string) (*models.Dispute, error) {
	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	if actorRole == models.RoleModerator || actorRole == models.RoleAdmin {
		return d, nil
	}
	e, err := s.engagements.GetByID(ctx, d.EngagementID)
	if err != nil {
		return nil, err
	}
	if !e.IsParticipant(actorID) {
		return nil, apperror.ErrForbidden
	}
	return d, nil
}

// ListByEngagement возвращает споры проекта.
func (s *DisputeService) ListByEngagement(ctx context.Context, engagementID, actorID uuid.UUID, actorRole string) ([]models.Dispute, error) {
	e, err := s.engagements.GetByID(ctx, engagementID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}
	if !e.IsParticipant(actorID) && actorRole != models.RoleModerator && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	return s.repo.ListByEngagement(ctx, engagementID)
}

// ListOpen возвращает очередь активных споров для модераторов.
func (s *DisputeService) ListOpen(ctx context.Context, actorRole string, limit, offset int) ([]models.Dispute, error) {
	if actorRole != models.RoleModerator && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListOpen(ctx, limit, offset)
}

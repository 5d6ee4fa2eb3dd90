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
)

// PaymentRepository описывает леджер платежей.
type PaymentRepository interface {
	CreatePending(ctx context.Context, p *models.Payment) error
	ConfirmPreFunding(ctx context.Context, eventID, chargeRef string) (*models.Payment, error)
	MarkFailed(ctx context.Context, eventID, chargeRef, status string) (*models.Payment, error)
	GetPendingPreFunding(ctx context.Context, engagementID uuid.UUID) (*models.Payment, error)
	GetByGatewayRef(ctx context.Context, ref string) (*models.Payment, error)
	ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Payment, error)
	SpendLocked(ctx context.Context, engagementID uuid.UUID, milestoneID *uuid.UUID, refundAmount, payoutAmount float64, currency, refundRef, payoutRef string) error
}

// Matcher запускает метчинг после подтверждения финансирования.
type Matcher interface {
	RunMatching(ctx context.Context, engagementID uuid.UUID) ([]models.Match, error)
}

// PaymentService связывает платёжный шлюз с леджером: исходящие charge
// и входящие webhook-события с гарантией exactly-once.
type PaymentService struct {
	repo        PaymentRepository
	engagements EngagementRepository
	gateway     gateway.Gateway
	matcher     Matcher
	audit       AuditLog
	notifier    Notifier
}

// NewPaymentService создаёт платёжный сервис.
func NewPaymentService(repo PaymentRepository, engagements EngagementRepository, gw gateway.Gateway, matcher Matcher, audit AuditLog, notifier Notifier) *PaymentService {
	return &PaymentService{
		repo:        repo,
		engagements: engagements,
		gateway:     gw,
		matcher:     matcher,
		audit:       audit,
		notifier:    notifier,
	}
}

// RequestFunding переводит проект в pending_funding и создаёт charge в шлюзе.
// Эскроу вырастет только после webhook-подтверждения.
func (s *PaymentService) RequestFunding(ctx context.Context, engagementID, actorID uuid.UUID, actorRole string) (*models.Payment, error) {
	e, err := s.engagements.GetByID(ctx, engagementID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}
	if !e.IsOwnedBy(actorID) && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	switch e.Status {
	case models.EngagementStatusDraft:
		if _, err := s.engagements.UpdateStatus(ctx, e.ID, models.EngagementStatusDraft, models.EngagementStatusPendingFunding); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return nil, apperror.New(apperror.ErrCodeInvalidTransition, "статус проекта изменился, повторите запрос")
			}
			return nil, err
		}
	case models.EngagementStatusPendingFunding:
		// Повторный запрос переиспользует неподтверждённый charge: второй
		// живой charge означал бы двойное зачисление эскроу.
		existing, err := s.repo.GetPendingPreFunding(ctx, e.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, err
		}
	default:
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			fmt.Sprintf("финансирование недоступно в статусе %s", e.Status))
	}

	chargeRef, err := s.gateway.CreateCharge(ctx, e.ID, e.ClientID, e.TotalAmount, e.Currency)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeExternalDependency, "платёжный шлюз недоступен")
	}

	payment := &models.Payment{
		EngagementID: e.ID,
		Type:         models.PaymentTypePreFunding,
		Amount:       e.TotalAmount,
		NetAmount:    e.TotalAmount,
		Currency:     e.Currency,
		GatewayRef:   &chargeRef,
	}
	if err := s.repo.CreatePending(ctx, payment); err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, "payment.funding_requested", &actorID, actorRole, "engagement", e.ID, map[string]any{
		"amount":      e.TotalAmount,
		"gateway_ref": chargeRef,
	})

	return payment, nil
}

// HandleGatewayEvent применяет webhook-событие шлюза ровно один раз.
// Повторная доставка того же event id (даже с другим телом) распознаётся
// как дубликат и считается успехом без побочных эффектов.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, event models.GatewayEvent) error {
	if event.EventID == "" || event.ChargeRef == "" {
		return apperror.New(apperror.ErrCodeValidation, "событие без event_id или charge_ref")
	}

	switch event.EventType {
	case models.GatewayEventSucceeded:
		return s.handleSucceeded(ctx, event)
	case models.GatewayEventFailed, models.GatewayEventCancelled:
		return s.handleFailed(ctx, event)
	default:
		return apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("неизвестный тип события %q", event.EventType))
	}
}

func (s *PaymentService) handleSucceeded(ctx context.Context, event models.GatewayEvent) error {
	payment, err := s.repo.ConfirmPreFunding(ctx, event.EventID, event.ChargeRef)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEvent):
			return apperror.New(apperror.ErrCodeDuplicateEvent, "событие уже обработано")
		case errors.Is(err, repository.ErrPaymentNotFound):
			return apperror.New(apperror.ErrCodeNotFound, "платёж по charge_ref не найден")
		}
		return err
	}

	recordAudit(ctx, s.audit, "payment.confirmed", nil, models.ActorRoleSystem, "payment", payment.ID, map[string]any{
		"engagement_id": payment.EngagementID,
		"event_id":      event.EventID,
		"amount":        payment.Amount,
	})

	// Подтверждённое финансирование двигает проект дальше.
	e, err := s.engagements.UpdateStatus(ctx, payment.EngagementID, models.EngagementStatusPendingFunding, models.EngagementStatusFunded)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			// Проект уже ушёл из pending_funding: зачисление излишнее
			// (конкурирующий charge или отменённый проект), возвращаем его.
			return s.refundSurplus(ctx, payment)
		}
		return err
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, []uuid.UUID{e.ClientID},
			"Проект профинансирован",
			fmt.Sprintf("Эскроу пополнен на %.2f %s, запускаем подбор исполнителей", payment.Amount, payment.Currency),
			"payment", map[string]any{"engagement_id": e.ID})
	}

	// Метчинг — после фиксации леджера, в фоне.
	if s.matcher != nil {
		engagementID := e.ID
		goroutine.SafeGo(func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := s.matcher.RunMatching(bgCtx, engagementID); err != nil {
				logrus.WithError(err).WithField("engagement_id", engagementID).Error("payment: не удалось запустить метчинг")
			}
		})
	}

	return nil
}

// refundSurplus возвращает клиенту зачисление, подтверждённое после того,
// как проект покинул pending_funding: деньги не должны застревать в эскроу.
func (s *PaymentService) refundSurplus(ctx context.Context, payment *models.Payment) error {
	refundRef := "surplus_refund_" + uuid.NewString()
	if err := s.repo.SpendLocked(ctx, payment.EngagementID, nil, payment.Amount, 0, payment.Currency, refundRef, ""); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"engagement_id": payment.EngagementID,
			"amount":        payment.Amount,
		}).Error("payment: излишнее зачисление не возвращено, требуется ручная сверка")
		return err
	}

	recordAudit(ctx, s.audit, "payment.surplus_refunded", nil, models.ActorRoleSystem, "payment", payment.ID, map[string]any{
		"engagement_id": payment.EngagementID,
		"amount":        payment.Amount,
		"refund_ref":    refundRef,
	})

	if s.gateway != nil {
		engagementID, amount, currency := payment.EngagementID, payment.Amount, payment.Currency
		goroutine.SafeGo(func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.gateway.Refund(bgCtx, engagementID, amount, currency); err != nil {
				logrus.WithError(err).Error("payment: шлюз не принял возврат излишка, требуется ручная сверка")
			}
		})
	}

	return nil
}

func (s *PaymentService) handleFailed(ctx context.Context, event models.GatewayEvent) error {
	status := models.PaymentStatusFailed
	if event.EventType == models.GatewayEventCancelled {
		status = models.PaymentStatusCancelled
	}

	payment, err := s.repo.MarkFailed(ctx, event.EventID, event.ChargeRef, status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEvent):
			return apperror.New(apperror.ErrCodeDuplicateEvent, "событие уже обработано")
		case errors.Is(err, repository.ErrPaymentNotFound):
			return apperror.New(apperror.ErrCodeNotFound, "платёж по charge_ref не найден")
		}
		return err
	}

	recordAudit(ctx, s.audit, "payment."+status, nil, models.ActorRoleSystem, "payment", payment.ID, map[string]any{
		"engagement_id": payment.EngagementID,
		"event_id":      event.EventID,
	})

	if s.notifier != nil {
		if e, err := s.engagements.GetByID(ctx, payment.EngagementID); err == nil {
			s.notifier.Notify(ctx, []uuid.UUID{e.ClientID},
				"Платёж не прошёл",
				fmt.Sprintf("Пополнение эскроу на %.2f %s не выполнено (%s)", payment.Amount, payment.Currency, status),
				"payment", map[string]any{"engagement_id": e.ID})
		}
	}

	return nil
}

// ListByEngagement возвращает платежи проекта с проверкой доступа.
func (s *PaymentService) ListByEngagement(ctx context.Context, engagementID, actorID uuid.UUID, actorRole string) ([]models.Payment, error) {
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
	return s.repo.ListByEngagement(ctx, engagementID)
}

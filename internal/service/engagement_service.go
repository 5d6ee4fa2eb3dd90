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

// EngagementRepository описывает хранилище проектов.
type EngagementRepository interface {
	Create(ctx context.Context, e *models.Engagement) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Engagement, error)
	ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, limit, offset int) ([]models.Engagement, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Engagement, error)
	ForceStatus(ctx context.Context, id uuid.UUID, to string) (*models.Engagement, error)
}

// RefundLedger возвращает клиенту неизрасходованный эскроу при отмене.
type RefundLedger interface {
	RefundRemaining(ctx context.Context, engagementID uuid.UUID, refundRef string) (float64, error)
}

// CreateEngagementInput — параметры создания проекта.
type CreateEngagementInput struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	RequiredSkills  []string   `json:"required_skills"`
	Category        string     `json:"category"`
	ExperienceLevel string     `json:"experience_level"`
	HireType        string     `json:"hire_type"`
	TotalAmount     float64    `json:"total_amount"`
	Currency        string     `json:"currency"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
}

// EngagementService владеет графом статусов проекта и ролевыми
// ограничениями переходов.
type EngagementService struct {
	repo       EngagementRepository
	refunds    RefundLedger
	gateway    gateway.Gateway
	audit      AuditLog
	notifier   Notifier
	feePercent float64
}

// NewEngagementService создаёт сервис жизненного цикла проектов.
func NewEngagementService(repo EngagementRepository, refunds RefundLedger, gw gateway.Gateway, audit AuditLog, notifier Notifier, feePercent float64) *EngagementService {
	return &EngagementService{
		repo:       repo,
		refunds:    refunds,
		gateway:    gw,
		audit:      audit,
		notifier:   notifier,
		feePercent: feePercent,
	}
}

// Create заводит проект в статусе draft.
func (s *EngagementService) Create(ctx context.Context, clientID uuid.UUID, input CreateEngagementInput) (*models.Engagement, error) {
	if err := validation.ValidateTitle(input.Title); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateDescription(input.Description); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateAmount("бюджет", input.TotalAmount); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateSkills(input.RequiredSkills); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if input.HireType == "" {
		input.HireType = models.HireTypeSingle
	}
	if input.HireType != models.HireTypeSingle && input.HireType != models.HireTypeTeam {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый тип найма")
	}
	if input.ExperienceLevel == "" {
		input.ExperienceLevel = models.ExperienceLevelMiddle
	}
	if _, ok := models.ValidExperienceLevels[input.ExperienceLevel]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый уровень опыта")
	}
	if input.StartDate != nil && input.EndDate != nil && !input.EndDate.After(*input.StartDate) {
		return nil, apperror.New(apperror.ErrCodeValidation, "дата окончания должна быть позже даты начала")
	}
	if input.Currency == "" {
		input.Currency = "USD"
	}

	e := &models.Engagement{
		ClientID:           clientID,
		Title:              input.Title,
		Description:        input.Description,
		RequiredSkills:     input.RequiredSkills,
		Category:           input.Category,
		ExperienceLevel:    input.ExperienceLevel,
		HireType:           input.HireType,
		Status:             models.EngagementStatusDraft,
		TotalAmount:        input.TotalAmount,
		PlatformFeePercent: s.feePercent,
		Currency:           input.Currency,
		StartDate:          input.StartDate,
		EndDate:            input.EndDate,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, "engagement.created", &clientID, models.RoleClient, "engagement", e.ID, map[string]any{
		"total_amount": e.TotalAmount,
	})

	return e, nil
}

// Get возвращает проект, проверяя доступ участника.
func (s *EngagementService) Get(ctx context.Context, id, actorID uuid.UUID, actorRole string) (*models.Engagement, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}
	if !e.IsParticipant(actorID) && actorRole != models.RoleAdmin && actorRole != models.RoleModerator {
		return nil, apperror.ErrForbidden
	}
	return e, nil
}

// List возвращает проекты пользователя в зависимости от роли.
func (s *EngagementService) List(ctx context.Context, actorID uuid.UUID, actorRole string, limit, offset int) ([]models.Engagement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if actorRole == models.RoleFreelancer {
		return s.repo.ListByFreelancer(ctx, actorID, limit, offset)
	}
	return s.repo.ListByClient(ctx, actorID, limit, offset)
}

// Transition выполняет переход статуса проекта по легальному ребру графа.
// Любое ребро вне таблицы отклоняется; ролевые ограничения проверяются
// до записи. Конкурентный проигравший получает InvalidStateTransition.
func (s *EngagementService) Transition(ctx context.Context, id uuid.UUID, to string, actorID uuid.UUID, actorRole string) (*models.Engagement, error) {
	if _, ok := models.ValidEngagementStatuses[to]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый статус проекта")
	}

	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}

	if !e.IsParticipant(actorID) && actorRole != models.RoleAdmin && actorRole != models.RoleModerator {
		return nil, apperror.ErrForbidden
	}
	// pending_funding и cancelled может запросить только владелец (или админ).
	if (to == models.EngagementStatusPendingFunding || to == models.EngagementStatusCancelled) &&
		!e.IsOwnedBy(actorID) && actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	if !models.TransitionAllowedForRole(to, actorRole) {
		return nil, apperror.ErrForbidden
	}
	if !models.CanTransitionEngagement(e.Status, to) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			fmt.Sprintf("переход %s -> %s не разрешён", e.Status, to))
	}

	updated, err := s.repo.UpdateStatus(ctx, id, e.Status, to)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "статус проекта изменился, повторите запрос")
		}
		return nil, err
	}

	s.afterTransition(ctx, updated, e.Status, &actorID, actorRole)
	return updated, nil
}

// ForceTransition выставляет статус в обход графа. Только администратор.
func (s *EngagementService) ForceTransition(ctx context.Context, id uuid.UUID, to string, actorID uuid.UUID, actorRole string) (*models.Engagement, error) {
	if actorRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	if _, ok := models.ValidEngagementStatuses[to]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый статус проекта")
	}

	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrEngagementNotFound
		}
		return nil, err
	}

	updated, err := s.repo.ForceStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, "engagement.status_forced", &actorID, actorRole, "engagement", id, map[string]any{
		"old_status": e.Status,
		"new_status": to,
	})

	s.afterTransition(ctx, updated, e.Status, &actorID, actorRole)
	return updated, nil
}

// afterTransition — журнал, уведомления и освобождение эскроу после фиксации
// авторитетного состояния. Внешние вызовы сюда, не раньше.
func (s *EngagementService) afterTransition(ctx context.Context, e *models.Engagement, oldStatus string, actorID *uuid.UUID, actorRole string) {
	recordAudit(ctx, s.audit, "engagement.status_changed", actorID, actorRole, "engagement", e.ID, map[string]any{
		"old_status": oldStatus,
		"new_status": e.Status,
	})

	if s.notifier != nil {
		recipients := []uuid.UUID{e.ClientID}
		if e.FreelancerID != nil {
			recipients = append(recipients, *e.FreelancerID)
		}
		s.notifier.Notify(ctx, recipients,
			"Статус проекта изменён",
			fmt.Sprintf("Проект «%s»: %s -> %s", e.Title, oldStatus, e.Status),
			"engagement", map[string]any{"engagement_id": e.ID, "status": e.Status})
	}

	// Отмена освобождает неизрасходованный эскроу.
	if e.Status == models.EngagementStatusCancelled && s.refunds != nil {
		refundRef := "refund_" + uuid.NewString()
		amount, err := s.refunds.RefundRemaining(ctx, e.ID, refundRef)
		if err != nil {
			logrus.WithError(err).WithField("engagement_id", e.ID).Error("engagement: не удалось вернуть эскроу при отмене")
			return
		}
		if amount > 0 {
			recordAudit(ctx, s.audit, "engagement.escrow_refunded", actorID, actorRole, "engagement", e.ID, map[string]any{
				"amount": amount,
			})
			if s.gateway != nil {
				engagementID, currency := e.ID, e.Currency
				goroutine.SafeGo(func() {
					bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					if _, err := s.gateway.Refund(bgCtx, engagementID, amount, currency); err != nil {
						logrus.WithError(err).WithField("engagement_id", engagementID).Error("engagement: шлюз не принял возврат, требуется ручная сверка")
					}
				})
			}
		}
	}
}

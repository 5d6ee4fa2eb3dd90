package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/goroutine"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
)

var (
	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentflow_scheduler_sweeps_total",
		Help: "Число запусков периодических свипов по типу.",
	}, []string{"sweep"})

	sweepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentflow_scheduler_errors_total",
		Help: "Число ошибок свипов по типу.",
	}, []string{"sweep"})

	autoReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talentflow_scheduler_milestones_released_total",
		Help: "Число вех, выплаченных по таймеру автовыплаты.",
	})

	expiredMatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talentflow_scheduler_matches_expired_total",
		Help: "Число предложений метчинга, помеченных просроченными.",
	})

	cancelledEngagementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talentflow_scheduler_engagements_cancelled_total",
		Help: "Число проектов, отменённых из-за истёкшего окна финансирования.",
	})
)

// MilestoneSweeper находит вехи с истёкшим таймером и выплачивает их.
type MilestoneSweeper interface {
	ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.Milestone, error)
}

// MilestoneReleaser выполняет выплату вехи от имени системы.
type MilestoneReleaser interface {
	ReleaseDue(ctx context.Context, m *models.Milestone) (*models.Payment, error)
}

// MatchExpirer помечает просроченные предложения.
type MatchExpirer interface {
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// FundingSweeper находит и отменяет проекты, зависшие без финансирования.
type FundingSweeper interface {
	ListFundingExpired(ctx context.Context, before time.Time, limit int) ([]models.Engagement, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Engagement, error)
}

// Scheduler — периодический драйвер таймерных переходов. Сам переходов не
// придумывает: кандидаты перепроверяются внутри мутаций, поэтому свипы
// безопасны при конкурентном запуске нескольких инстансов.
type Scheduler struct {
	milestones    MilestoneSweeper
	releaser      MilestoneReleaser
	matches       MatchExpirer
	engagements   FundingSweeper
	interval      time.Duration
	fundingExpiry time.Duration
	batchSize     int
}

// New создаёт планировщик.
func New(milestones MilestoneSweeper, releaser MilestoneReleaser, matches MatchExpirer, engagements FundingSweeper, interval, fundingExpiry time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		milestones:    milestones,
		releaser:      releaser,
		matches:       matches,
		engagements:   engagements,
		interval:      interval,
		fundingExpiry: fundingExpiry,
		batchSize:     100,
	}
}

// Start запускает цикл свипов до отмены контекста.
func (s *Scheduler) Start(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Первый проход сразу: после рестарта таймеры могли накопиться.
		s.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				logrus.Info("scheduler: остановлен")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	})
}

// RunOnce выполняет все свипы один раз.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.sweepAutoRelease(ctx)
	s.sweepExpiredMatches(ctx)
	s.sweepExpiredFunding(ctx)
}

// sweepAutoRelease выплачивает одобренные вехи с истёкшим таймером.
func (s *Scheduler) sweepAutoRelease(ctx context.Context) {
	sweepsTotal.WithLabelValues("auto_release").Inc()

	due, err := s.milestones.ListDueForAutoRelease(ctx, time.Now(), s.batchSize)
	if err != nil {
		sweepErrorsTotal.WithLabelValues("auto_release").Inc()
		logrus.WithError(err).Error("scheduler: не удалось получить вехи для автовыплаты")
		return
	}

	for i := range due {
		m := due[i]
		if _, err := s.releaser.ReleaseDue(ctx, &m); err != nil {
			// Проигрыш гонки с ручной выплатой — штатная ситуация. Спор
			// замораживает веху до разрешения, она вернётся в выборку позже.
			if apperror.IsInvalidTransition(err) || errors.Is(err, repository.ErrStaleStatus) ||
				errors.Is(err, repository.ErrFundsDisputed) {
				continue
			}
			sweepErrorsTotal.WithLabelValues("auto_release").Inc()
			logrus.WithError(err).WithField("milestone_id", m.ID).Error("scheduler: автовыплата не прошла")
			continue
		}
		autoReleasedTotal.Inc()
		logrus.WithField("milestone_id", m.ID).Info("scheduler: веха выплачена по таймеру")
	}
}

// sweepExpiredMatches помечает просроченные предложения метчинга.
func (s *Scheduler) sweepExpiredMatches(ctx context.Context) {
	sweepsTotal.WithLabelValues("match_expiry").Inc()

	n, err := s.matches.ExpirePending(ctx, time.Now())
	if err != nil {
		sweepErrorsTotal.WithLabelValues("match_expiry").Inc()
		logrus.WithError(err).Error("scheduler: не удалось пометить просроченные предложения")
		return
	}
	if n > 0 {
		expiredMatchesTotal.Add(float64(n))
		logrus.WithField("count", n).Info("scheduler: предложения помечены просроченными")
	}
}

// sweepExpiredFunding отменяет проекты, не профинансированные в срок.
func (s *Scheduler) sweepExpiredFunding(ctx context.Context) {
	sweepsTotal.WithLabelValues("funding_expiry").Inc()

	expired, err := s.engagements.ListFundingExpired(ctx, time.Now().Add(-s.fundingExpiry), s.batchSize)
	if err != nil {
		sweepErrorsTotal.WithLabelValues("funding_expiry").Inc()
		logrus.WithError(err).Error("scheduler: не удалось получить проекты с истёкшим финансированием")
		return
	}

	for _, e := range expired {
		if _, err := s.engagements.UpdateStatus(ctx, e.ID, models.EngagementStatusPendingFunding, models.EngagementStatusCancelled); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				continue
			}
			sweepErrorsTotal.WithLabelValues("funding_expiry").Inc()
			logrus.WithError(err).WithField("engagement_id", e.ID).Error("scheduler: не удалось отменить проект")
			continue
		}
		cancelledEngagementsTotal.Inc()
		logrus.WithField("engagement_id", e.ID).Info("scheduler: проект отменён по истечении окна финансирования")
	}
}

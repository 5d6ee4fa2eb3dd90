package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/talentflow-backend/internal/repository/common"
)

// VerificationRepository описывает хранилище результатов верификации.
type VerificationRepository interface {
	Create(ctx context.Context, v *models.VerificationResult) error
	GetByFreelancer(ctx context.Context, freelancerID uuid.UUID) (*models.VerificationResult, error)
	UpdateScores(ctx context.Context, v *models.VerificationResult) error
	Finalize(ctx context.Context, id uuid.UUID, overallScore float64, flags models.FraudFlags, status string) (*models.VerificationResult, error)
	Override(ctx context.Context, id uuid.UUID, status string, reviewedBy uuid.UUID) (*models.VerificationResult, error)
}

// VerificationService ведёт многошаговую проверку фрилансера и решает,
// допускается ли он к метчингу.
type VerificationService struct {
	repo     VerificationRepository
	audit    AuditLog
	notifier Notifier
}

// NewVerificationService создаёт сервис верификации.
func NewVerificationService(repo VerificationRepository, audit AuditLog, notifier Notifier) *VerificationService {
	return &VerificationService{repo: repo, audit: audit, notifier: notifier}
}

// CalculateOverallScore считает итоговый балл доверия 0-100.
// Вес: identity 20%, english 30%, среднее по навыкам 50%.
// Пустой список навыков считается нулём.
func CalculateOverallScore(identityScore, englishScore float64, skillScores []models.SkillScore) float64 {
	var skillMean float64
	if len(skillScores) > 0 {
		var sum float64
		for _, s := range skillScores {
			sum += s.Score
		}
		skillMean = sum / float64(len(skillScores))
	}
	score := identityScore*0.20 + englishScore*0.30 + skillMean*0.50
	return math.Round(score*100) / 100
}

// CheckFraudFlags проверяет наблюдения, собранные во время тестов, и
// возвращает упорядоченный список флагов. Состояние не мутируется:
// персистит вызывающий.
func CheckFraudFlags(vctx models.VerificationContext) models.FraudFlags {
	flags := models.FraudFlags{}

	if n := countDistinct(vctx.IPAddresses); n > 3 {
		flags = append(flags, models.FraudFlag{
			Type:     models.FraudFlagMultipleIPs,
			Severity: models.FraudSeverityHigh,
			Details:  fmt.Sprintf("замечено %d различных IP-адресов", n),
		})
	}

	if n := countDistinct(vctx.DeviceFingerprints); n > 2 {
		flags = append(flags, models.FraudFlag{
			Type:     models.FraudFlagMultipleBrowsers,
			Severity: models.FraudSeverityMedium,
			Details:  fmt.Sprintf("замечено %d различных устройств", n),
		})
	}

	if n := len(vctx.SuspiciousEvents); n > 0 {
		flags = append(flags, models.FraudFlag{
			Type:     models.FraudFlagSuspiciousTest,
			Severity: suspiciousSeverity(n),
			Details:  fmt.Sprintf("%d подозрительных событий во время тестов", n),
		})
	}

	if vctx.RetakeCount > 2 {
		flags = append(flags, models.FraudFlag{
			Type:     models.FraudFlagExcessiveRetakes,
			Severity: models.FraudSeverityHigh,
			Details:  fmt.Sprintf("тест пересдан %d раз", vctx.RetakeCount),
		})
	}

	if vctx.ExpectedDuration > 0 && vctx.TestDuration < vctx.ExpectedDuration/5 {
		flags = append(flags, models.FraudFlag{
			Type:     models.FraudFlagTimingAnomaly,
			Severity: models.FraudSeverityCritical,
			Details:  "тест пройден менее чем за 20% ожидаемого времени",
		})
	}

	if vctx.PlagiarismDetected {
		flags = append(flags, models.FraudFlag{
			Type:     models.FraudFlagPlagiarism,
			Severity: models.FraudSeverityCritical,
			Details:  "обнаружен плагиат в решении",
		})
	}

	return flags
}

// suspiciousSeverity растёт пропорционально числу событий.
func suspiciousSeverity(count int) string {
	switch {
	case count > 5:
		return models.FraudSeverityHigh
	case count > 2:
		return models.FraudSeverityMedium
	default:
		return models.FraudSeverityLow
	}
}

// DetermineVerificationStatus — таблица решений по баллу и флагам.
// Неоднозначность всегда уходит на ручную проверку, не в тихий approve.
func DetermineVerificationStatus(score float64, flags models.FraudFlags) string {
	if flags.HasBlocking() {
		return models.VerificationStatusRejected
	}
	if score >= 85 && len(flags) == 0 {
		return models.VerificationStatusApproved
	}
	if score < 60 {
		return models.VerificationStatusRejected
	}
	return models.VerificationStatusFlagged
}

func countDistinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Start заводит верификацию фрилансера. Повторный вызов возвращает
// существующую запись.
func (s *VerificationService) Start(ctx context.Context, freelancerID uuid.UUID) (*models.VerificationResult, error) {
	v := &models.VerificationResult{
		FreelancerID: freelancerID,
		SkillScores:  models.SkillScores{},
		FraudFlags:   models.FraudFlags{},
		Status:       models.VerificationStatusPending,
	}
	err := s.repo.Create(ctx, v)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return s.repo.GetByFreelancer(ctx, freelancerID)
		}
		return nil, err
	}

	recordAudit(ctx, s.audit, "verification.started", &freelancerID, models.RoleFreelancer, "verification", v.ID, nil)
	return v, nil
}

// RecordIdentityScore сохраняет балл проверки личности.
func (s *VerificationService) RecordIdentityScore(ctx context.Context, freelancerID uuid.UUID, score float64) (*models.VerificationResult, error) {
	return s.recordStep(ctx, freelancerID, func(v *models.VerificationResult) error {
		if score < 0 || score > 100 {
			return apperror.New(apperror.ErrCodeValidation, "балл должен быть в диапазоне 0-100")
		}
		v.IdentityScore = &score
		return nil
	})
}

// RecordEnglishScore сохраняет балл языкового теста.
func (s *VerificationService) RecordEnglishScore(ctx context.Context, freelancerID uuid.UUID, score float64) (*models.VerificationResult, error) {
	return s.recordStep(ctx, freelancerID, func(v *models.VerificationResult) error {
		if score < 0 || score > 100 {
			return apperror.New(apperror.ErrCodeValidation, "балл должен быть в диапазоне 0-100")
		}
		v.EnglishScore = &score
		return nil
	})
}

// RecordSkillScore сохраняет балл теста по навыку. Повторная сдача того же
// навыка перезаписывает прежний балл.
func (s *VerificationService) RecordSkillScore(ctx context.Context, freelancerID uuid.UUID, skill string, score float64) (*models.VerificationResult, error) {
	return s.recordStep(ctx, freelancerID, func(v *models.VerificationResult) error {
		if skill == "" {
			return apperror.New(apperror.ErrCodeValidation, "навык не указан")
		}
		if score < 0 || score > 100 {
			return apperror.New(apperror.ErrCodeValidation, "балл должен быть в диапазоне 0-100")
		}
		for i := range v.SkillScores {
			if v.SkillScores[i].Skill == skill {
				v.SkillScores[i].Score = score
				return nil
			}
		}
		v.SkillScores = append(v.SkillScores, models.SkillScore{Skill: skill, Score: score})
		return nil
	})
}

func (s *VerificationService) recordStep(ctx context.Context, freelancerID uuid.UUID, mutate func(*models.VerificationResult) error) (*models.VerificationResult, error) {
	v, err := s.repo.GetByFreelancer(ctx, freelancerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrVerificationNotFound
		}
		return nil, err
	}
	if v.CompletedAt != nil {
		return nil, apperror.New(apperror.ErrCodeConflict, "верификация уже завершена")
	}
	if err := mutate(v); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateScores(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Complete финализирует верификацию: считает итоговый балл, проверяет
// фрод-сигналы и фиксирует статус. Повторный вызов отклоняется.
func (s *VerificationService) Complete(ctx context.Context, freelancerID uuid.UUID, vctx models.VerificationContext) (*models.VerificationResult, error) {
	v, err := s.repo.GetByFreelancer(ctx, freelancerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrVerificationNotFound
		}
		return nil, err
	}
	if v.CompletedAt != nil {
		return nil, apperror.New(apperror.ErrCodeConflict, "верификация уже завершена")
	}

	var identity, english float64
	if v.IdentityScore != nil {
		identity = *v.IdentityScore
	}
	if v.EnglishScore != nil {
		english = *v.EnglishScore
	}

	score := CalculateOverallScore(identity, english, v.SkillScores)
	flags := CheckFraudFlags(vctx)
	status := DetermineVerificationStatus(score, flags)

	finalized, err := s.repo.Finalize(ctx, v.ID, score, flags, status)
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, "verification.completed", &freelancerID, models.RoleFreelancer, "verification", v.ID, map[string]any{
		"overall_score": score,
		"status":        status,
		"fraud_flags":   len(flags),
	})

	if s.notifier != nil {
		s.notifier.Notify(ctx, []uuid.UUID{freelancerID},
			"Верификация завершена",
			fmt.Sprintf("Итоговый балл: %.2f, статус: %s", score, status),
			"verification", map[string]any{"status": status})
	}

	return finalized, nil
}

// Override вручную переопределяет статус верификации. Только модератор
// или администратор; решение попадает в журнал отдельно от автоматического.
func (s *VerificationService) Override(ctx context.Context, freelancerID uuid.UUID, status string, reviewerID uuid.UUID, reviewerRole string) (*models.VerificationResult, error) {
	if reviewerRole != models.RoleModerator && reviewerRole != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	switch status {
	case models.VerificationStatusApproved, models.VerificationStatusFlagged, models.VerificationStatusRejected:
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый статус верификации")
	}

	v, err := s.repo.GetByFreelancer(ctx, freelancerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrVerificationNotFound
		}
		return nil, err
	}

	updated, err := s.repo.Override(ctx, v.ID, status, reviewerID)
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, "verification.overridden", &reviewerID, reviewerRole, "verification", v.ID, map[string]any{
		"old_status": v.Status,
		"new_status": status,
	})

	return updated, nil
}

// Get возвращает верификацию фрилансера.
func (s *VerificationService) Get(ctx context.Context, freelancerID uuid.UUID) (*models.VerificationResult, error) {
	v, err := s.repo.GetByFreelancer(ctx, freelancerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrVerificationNotFound
		}
		return nil, err
	}
	return v, nil
}

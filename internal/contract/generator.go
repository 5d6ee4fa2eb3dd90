package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/models"
)

// EngagementReader отдаёт проект для формирования договора.
type EngagementReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error)
}

// MilestoneReader отдаёт вехи проекта.
type MilestoneReader interface {
	ListByEngagement(ctx context.Context, engagementID uuid.UUID) ([]models.Milestone, error)
}

// Generator формирует документ договора по принятому метчу.
// Повторный вызов идемпотентно заменяет сохранённый документ: договор
// перегенерируется при каждой записи подписи.
type Generator struct {
	engagements EngagementReader
	milestones  MilestoneReader
	rootPath    string
}

// NewGenerator создаёт генератор договоров.
func NewGenerator(engagements EngagementReader, milestones MilestoneReader, rootPath string) (*Generator, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("contract: не удалось создать каталог %s: %w", rootPath, err)
	}
	return &Generator{
		engagements: engagements,
		milestones:  milestones,
		rootPath:    rootPath,
	}, nil
}

type contractDocument struct {
	EngagementID uuid.UUID      `json:"engagement_id"`
	Title        string         `json:"title"`
	ClientID     uuid.UUID      `json:"client_id"`
	FreelancerID *uuid.UUID     `json:"freelancer_id,omitempty"`
	TotalAmount  float64        `json:"total_amount"`
	Currency     string         `json:"currency"`
	FeePercent   float64        `json:"platform_fee_percent"`
	Milestones   []contractMile `json:"milestones"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

type contractMile struct {
	Title   string     `json:"title"`
	Amount  float64    `json:"amount"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// GenerateContract собирает документ и атомарно заменяет прежнюю версию.
// Возвращает ссылку на сохранённый документ.
func (g *Generator) GenerateContract(ctx context.Context, engagementID uuid.UUID) (string, error) {
	e, err := g.engagements.GetByID(ctx, engagementID)
	if err != nil {
		return "", fmt.Errorf("contract: проект не найден: %w", err)
	}

	milestones, err := g.milestones.ListByEngagement(ctx, engagementID)
	if err != nil {
		return "", fmt.Errorf("contract: не удалось получить вехи: %w", err)
	}

	doc := contractDocument{
		EngagementID: e.ID,
		Title:        e.Title,
		ClientID:     e.ClientID,
		FreelancerID: e.FreelancerID,
		TotalAmount:  e.TotalAmount,
		Currency:     e.Currency,
		FeePercent:   e.PlatformFeePercent,
		GeneratedAt:  time.Now().UTC(),
	}
	for _, m := range milestones {
		doc.Milestones = append(doc.Milestones, contractMile{
			Title:   m.Title,
			Amount:  m.Amount,
			DueDate: m.DueDate,
		})
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("contract: сериализация документа: %w", err)
	}

	// Имя файла детерминировано: новая версия заменяет старую.
	fileName := fmt.Sprintf("contract_%s.json", engagementID)
	targetPath := filepath.Join(g.rootPath, fileName)
	tempPath := targetPath + ".tmp"

	if err := os.WriteFile(tempPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("contract: запись документа: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", fmt.Errorf("contract: замена документа: %w", err)
	}

	return fileName, nil
}

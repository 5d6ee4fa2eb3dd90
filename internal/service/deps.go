package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/models"
)

// AuditLog — append-only журнал. Каждая мутирующая операция движка пишет
// сюда запись; журнал никогда не правится задним числом.
type AuditLog interface {
	Create(ctx context.Context, rec *models.AuditRecord) error
}

// Notifier доставляет уведомления участникам. Доставка best-effort,
// at-least-once: дубликат уведомления допустим, потерянный переход статуса — нет.
type Notifier interface {
	Notify(ctx context.Context, userIDs []uuid.UUID, title, message, category string, data map[string]any)
}

// ContractGenerator формирует документ договора по принятому метчу.
// Повторный вызов идемпотентно заменяет сохранённый документ.
type ContractGenerator interface {
	GenerateContract(ctx context.Context, engagementID uuid.UUID) (string, error)
}

// recordAudit пишет запись журнала, не прерывая основную операцию при сбое:
// авторитетная мутация уже зафиксирована.
func recordAudit(ctx context.Context, audit AuditLog, action string, actorID *uuid.UUID, actorRole, targetType string, targetID uuid.UUID, details any) {
	if audit == nil {
		return
	}
	var raw json.RawMessage
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			raw = b
		}
	}
	rec := &models.AuditRecord{
		Action:     action,
		ActorID:    actorID,
		ActorRole:  actorRole,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    raw,
	}
	if err := audit.Create(ctx, rec); err != nil {
		logrus.WithError(err).WithField("action", action).Error("audit: не удалось записать журнал")
	}
}

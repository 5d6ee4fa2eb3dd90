package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditRecord — неизменяемая запись журнала действий.
// Записи никогда не обновляются и не удаляются.
type AuditRecord struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Action     string          `db:"action" json:"action"`
	ActorID    *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole  string          `db:"actor_role" json:"actor_role"`
	TargetType string          `db:"target_type" json:"target_type"`
	TargetID   uuid.UUID       `db:"target_id" json:"target_id"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Роль actor для автономных действий движка (свипы, webhook).
const ActorRoleSystem = "system"

// Notification — персистентное уведомление пользователя.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

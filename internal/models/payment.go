package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment представляет денежную операцию в рамках проекта.
type Payment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	EngagementID   uuid.UUID  `db:"engagement_id" json:"engagement_id"`
	MilestoneID    *uuid.UUID `db:"milestone_id" json:"milestone_id,omitempty"`
	Type           string     `db:"type" json:"type"`
	Amount         float64    `db:"amount" json:"amount"`
	PlatformFee    float64    `db:"platform_fee" json:"platform_fee"`
	NetAmount      float64    `db:"net_amount" json:"net_amount"`
	Currency       string     `db:"currency" json:"currency"`
	Status         string     `db:"status" json:"status"`
	GatewayRef     *string    `db:"gateway_ref" json:"gateway_ref,omitempty"`
	WebhookEventID *string    `db:"webhook_event_id" json:"webhook_event_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Типы событий платёжного шлюза
const (
	GatewayEventSucceeded = "succeeded"
	GatewayEventFailed    = "failed"
	GatewayEventCancelled = "cancelled"
)

// GatewayEvent — входящее webhook-событие платёжного шлюза.
// EventID уникален: повторная доставка с тем же EventID применяется не более
// одного раза, даже если тело отличается.
type GatewayEvent struct {
	EventType string               `json:"event_type"`
	EventID   string               `json:"event_id"`
	ChargeRef string               `json:"charge_ref"`
	Metadata  GatewayEventMetadata `json:"metadata"`
}

// GatewayEventMetadata — контекст события, заполняемый при создании charge.
type GatewayEventMetadata struct {
	EngagementID uuid.UUID `json:"engagement_id"`
	PayerID      uuid.UUID `json:"payer_id"`
	Kind         string    `json:"kind"`
}

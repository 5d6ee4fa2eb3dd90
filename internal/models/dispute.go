package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute описывает спор по проекту или отдельной вехе.
// LockedAmount фиксируется при создании и далее не меняется.
type Dispute struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	EngagementID      uuid.UUID  `db:"engagement_id" json:"engagement_id"`
	MilestoneID       *uuid.UUID `db:"milestone_id" json:"milestone_id,omitempty"`
	InitiatorID       uuid.UUID  `db:"initiator_id" json:"initiator_id"`
	InitiatorRole     string     `db:"initiator_role" json:"initiator_role"`
	Type              string     `db:"type" json:"type"`
	Reason            string     `db:"reason" json:"reason"`
	Status            string     `db:"status" json:"status"`
	LockedAmount      float64    `db:"locked_amount" json:"locked_amount"`
	SuggestedDecision *string    `db:"suggested_decision" json:"suggested_decision,omitempty"`
	Decision          *string    `db:"decision" json:"decision,omitempty"`
	ResolutionAmount  *float64   `db:"resolution_amount" json:"resolution_amount,omitempty"`
	ResolutionNotes   *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedBy        *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt        *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsOpen сообщает, активен ли спор (open или under_review).
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusUnderReview
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Milestone описывает оплачиваемую веху проекта со своим жизненным циклом.
type Milestone struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	EngagementID  uuid.UUID  `db:"engagement_id" json:"engagement_id"`
	Title         string     `db:"title" json:"title"`
	Description   *string    `db:"description" json:"description,omitempty"`
	SeqOrder      int        `db:"seq_order" json:"order"`
	Amount        float64    `db:"amount" json:"amount"`
	Currency      string     `db:"currency" json:"currency"`
	Status        string     `db:"status" json:"status"`
	DueDate       *time.Time `db:"due_date" json:"due_date,omitempty"`
	AutoReleaseAt *time.Time `db:"auto_release_at" json:"auto_release_at,omitempty"`
	SubmittedAt   *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt    *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	PaidAt        *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	Deliverables []Deliverable `json:"deliverables,omitempty"`
}

// Deliverable описывает результат работы, прикреплённый к вехе.
type Deliverable struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MilestoneID uuid.UUID `db:"milestone_id" json:"milestone_id"`
	Name        string    `db:"name" json:"name"`
	FileURL     string    `db:"file_url" json:"file_url"`
	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`
}

// IsOverdue сообщает, просрочена ли веха без сдачи результата.
func (m *Milestone) IsOverdue(now time.Time) bool {
	if m.DueDate == nil {
		return false
	}
	switch m.Status {
	case MilestoneStatusPending, MilestoneStatusInProgress:
		return now.After(*m.DueDate)
	}
	return false
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Engagement описывает проект между клиентом и фрилансером (или командой).
type Engagement struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	ClientID           uuid.UUID      `db:"client_id" json:"client_id"`
	Title              string         `db:"title" json:"title"`
	Description        string         `db:"description" json:"description"`
	RequiredSkills     pq.StringArray `db:"required_skills" json:"required_skills"`
	Category           string         `db:"category" json:"category"`
	ExperienceLevel    string         `db:"experience_level" json:"experience_level"`
	HireType           string         `db:"hire_type" json:"hire_type"`
	Status             string         `db:"status" json:"status"`
	TotalAmount        float64        `db:"total_amount" json:"total_amount"`
	EscrowedAmount     float64        `db:"escrowed_amount" json:"escrowed_amount"`
	ReleasedAmount     float64        `db:"released_amount" json:"released_amount"`
	PlatformFeePercent float64        `db:"platform_fee_percent" json:"platform_fee_percent"`
	Currency           string         `db:"currency" json:"currency"`
	FreelancerID       *uuid.UUID     `db:"freelancer_id" json:"freelancer_id,omitempty"`
	StartDate          *time.Time     `db:"start_date" json:"start_date,omitempty"`
	EndDate            *time.Time     `db:"end_date" json:"end_date,omitempty"`
	MatchedAt          *time.Time     `db:"matched_at" json:"matched_at,omitempty"`
	StartedAt          *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// RemainingEscrow возвращает неизрасходованный остаток эскроу.
func (e *Engagement) RemainingEscrow() float64 {
	return e.EscrowedAmount - e.ReleasedAmount
}

// IsOwnedBy проверяет, принадлежит ли проект пользователю.
func (e *Engagement) IsOwnedBy(userID uuid.UUID) bool {
	return e.ClientID == userID
}

// IsParticipant проверяет, является ли пользователь участником проекта.
func (e *Engagement) IsParticipant(userID uuid.UUID) bool {
	if e.ClientID == userID {
		return true
	}
	return e.FreelancerID != nil && *e.FreelancerID == userID
}

// DurationDays возвращает длительность проекта в днях (0 если даты не заданы).
func (e *Engagement) DurationDays() int {
	if e.StartDate == nil || e.EndDate == nil {
		return 0
	}
	d := e.EndDate.Sub(*e.StartDate)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

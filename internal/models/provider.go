package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Provider — профиль фрилансера, участвующего в метчинге.
// Статистика по вехам и проектам накапливается движком расчётов.
type Provider struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	DisplayName       string         `db:"display_name" json:"display_name"`
	Skills            pq.StringArray `db:"skills" json:"skills"`
	Availability      *string        `db:"availability" json:"availability,omitempty"`
	Timezone          *string        `db:"timezone" json:"timezone,omitempty"`
	CompletedProjects int            `db:"completed_projects" json:"completed_projects"`
	TotalProjects     int            `db:"total_projects" json:"total_projects"`
	OnTimeMilestones  int            `db:"on_time_milestones" json:"on_time_milestones"`
	TotalMilestones   int            `db:"total_milestones" json:"total_milestones"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

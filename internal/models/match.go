package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Match описывает предложение кандидата на проект (или на роль в команде).
type Match struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	EngagementID uuid.UUID  `db:"engagement_id" json:"engagement_id"`
	FreelancerID uuid.UUID  `db:"freelancer_id" json:"freelancer_id"`
	Role         string     `db:"role" json:"role,omitempty"`
	Score        float64    `db:"score" json:"score"`
	Confidence   string     `db:"confidence" json:"confidence"`
	Status       string     `db:"status" json:"status"`
	Explanation  string     `db:"explanation" json:"explanation"`
	Breakdown    Breakdown  `db:"breakdown" json:"scoring_breakdown"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Breakdown — составляющие итогового балла метчинга. Хранится как JSONB.
// TimezoneCompatibility носит справочный характер и не входит во
// взвешенную сумму.
type Breakdown struct {
	SkillOverlap          float64 `json:"skill_overlap"`
	VettingScore          float64 `json:"vetting_score"`
	Ratings               float64 `json:"ratings"`
	Availability          float64 `json:"availability"`
	PastPerformance       float64 `json:"past_performance"`
	TimezoneCompatibility float64 `json:"timezone_compatibility"`
}

// Value сериализует breakdown в JSONB.
func (b Breakdown) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan читает breakdown из JSONB.
func (b *Breakdown) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	case nil:
		*b = Breakdown{}
		return nil
	default:
		return fmt.Errorf("breakdown: неподдерживаемый тип %T", src)
	}
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VerificationResult хранит результат многошаговой проверки фрилансера.
// Создаётся один раз на фрилансера, мутируется по мере прохождения шагов,
// финализируется CompleteVerification, может быть переопределён вручную.
type VerificationResult struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	FreelancerID  uuid.UUID   `db:"freelancer_id" json:"freelancer_id"`
	IdentityScore *float64    `db:"identity_score" json:"identity_score,omitempty"`
	EnglishScore  *float64    `db:"english_score" json:"english_score,omitempty"`
	SkillScores   SkillScores `db:"skill_scores" json:"skill_scores"`
	OverallScore  float64     `db:"overall_score" json:"overall_score"`
	FraudFlags    FraudFlags  `db:"fraud_flags" json:"fraud_flags"`
	Status        string      `db:"status" json:"status"`
	ReviewedBy    *uuid.UUID  `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// SkillScore — балл за отдельный навык.
type SkillScore struct {
	Skill string  `json:"skill"`
	Score float64 `json:"score"`
}

// SkillScores хранится как JSONB.
type SkillScores []SkillScore

// FraudFlag — типизированный сигнал возможного мошенничества.
type FraudFlag struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Details  string `json:"details,omitempty"`
}

// FraudFlags хранится как JSONB.
type FraudFlags []FraudFlag

// HasBlocking сообщает, есть ли флаг уровня high или critical.
func (f FraudFlags) HasBlocking() bool {
	for _, flag := range f {
		if flag.Severity == FraudSeverityHigh || flag.Severity == FraudSeverityCritical {
			return true
		}
	}
	return false
}

// VerificationContext — наблюдения, собранные во время прохождения тестов.
// Используется как вход CheckFraudFlags; сам по себе не персистится.
type VerificationContext struct {
	IPAddresses        []string          `json:"ip_addresses"`
	DeviceFingerprints []string          `json:"device_fingerprints"`
	SuspiciousEvents   []SuspiciousEvent `json:"suspicious_events"`
	RetakeCount        int               `json:"retake_count"`
	TestDuration       time.Duration     `json:"test_duration"`
	ExpectedDuration   time.Duration     `json:"expected_duration"`
	PlagiarismDetected bool              `json:"plagiarism_detected"`
}

// SuspiciousEvent — маркер подозрительной активности во время теста.
type SuspiciousEvent struct {
	Source   string `json:"source"`
	Severity string `json:"severity"`
	Details  string `json:"details,omitempty"`
}

func (s SkillScores) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SkillScores) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func (f FraudFlags) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *FraudFlags) Scan(src interface{}) error {
	return scanJSON(src, f)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	case nil:
		return nil
	default:
		return fmt.Errorf("models: неподдерживаемый тип JSONB %T", src)
	}
}

package models

// Роли пользователей
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
)

// EngagementStatus константы статусов проекта
const (
	EngagementStatusDraft          = "draft"
	EngagementStatusPendingFunding = "pending_funding"
	EngagementStatusFunded         = "funded"
	EngagementStatusMatching       = "matching"
	EngagementStatusMatched        = "matched"
	EngagementStatusInProgress     = "in_progress"
	EngagementStatusCompleted      = "completed"
	EngagementStatusCancelled      = "cancelled"
	EngagementStatusDisputed       = "disputed"
)

// HireType константы типа найма
const (
	HireTypeSingle = "single"
	HireTypeTeam   = "team"
)

// engagementTransitions — единственный источник правды о графе переходов.
// Любое ребро вне таблицы отклоняется (кроме admin override).
var engagementTransitions = map[string][]string{
	EngagementStatusDraft:          {EngagementStatusPendingFunding, EngagementStatusCancelled},
	EngagementStatusPendingFunding: {EngagementStatusFunded, EngagementStatusCancelled},
	EngagementStatusFunded:         {EngagementStatusMatching, EngagementStatusCancelled},
	EngagementStatusMatching:       {EngagementStatusMatched, EngagementStatusCancelled},
	EngagementStatusMatched:        {EngagementStatusInProgress, EngagementStatusCancelled, EngagementStatusDisputed},
	EngagementStatusInProgress:     {EngagementStatusCompleted, EngagementStatusCancelled, EngagementStatusDisputed},
	EngagementStatusDisputed:       {EngagementStatusInProgress, EngagementStatusMatching, EngagementStatusCancelled, EngagementStatusCompleted},
	EngagementStatusCompleted:      {},
	EngagementStatusCancelled:      {},
}

// transitionRoles ограничивает, кто может запросить целевой статус.
// Отсутствие записи означает отсутствие дополнительного ролевого ограничения.
var transitionRoles = map[string][]string{
	EngagementStatusPendingFunding: {RoleClient, RoleAdmin},
	EngagementStatusCancelled:      {RoleClient, RoleAdmin},
	EngagementStatusDisputed:       {RoleClient, RoleModerator, RoleAdmin},
}

// CanTransitionEngagement проверяет легальность ребра from -> to.
func CanTransitionEngagement(from, to string) bool {
	allowed, ok := engagementTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionAllowedForRole проверяет ролевое ограничение на целевой статус.
func TransitionAllowedForRole(to, role string) bool {
	roles, ok := transitionRoles[to]
	if !ok {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsTerminalEngagementStatus сообщает, терминален ли статус проекта.
func IsTerminalEngagementStatus(status string) bool {
	return status == EngagementStatusCompleted || status == EngagementStatusCancelled
}

// ValidEngagementStatuses список валидных статусов проекта
var ValidEngagementStatuses = map[string]struct{}{
	EngagementStatusDraft:          {},
	EngagementStatusPendingFunding: {},
	EngagementStatusFunded:         {},
	EngagementStatusMatching:       {},
	EngagementStatusMatched:        {},
	EngagementStatusInProgress:     {},
	EngagementStatusCompleted:      {},
	EngagementStatusCancelled:      {},
	EngagementStatusDisputed:       {},
}

// MilestoneStatus константы статусов вех
const (
	MilestoneStatusPending    = "pending"
	MilestoneStatusInProgress = "in_progress"
	MilestoneStatusSubmitted  = "submitted"
	MilestoneStatusApproved   = "approved"
	MilestoneStatusRejected   = "rejected"
	MilestoneStatusPaid       = "paid"
)

var milestoneTransitions = map[string][]string{
	MilestoneStatusPending:    {MilestoneStatusInProgress},
	MilestoneStatusInProgress: {MilestoneStatusSubmitted},
	MilestoneStatusSubmitted:  {MilestoneStatusApproved, MilestoneStatusRejected},
	// Отклонённая веха возвращается в цикл доработки без деградации статуса.
	MilestoneStatusRejected: {MilestoneStatusSubmitted},
	MilestoneStatusApproved: {MilestoneStatusPaid},
	MilestoneStatusPaid:     {},
}

// CanTransitionMilestone проверяет легальность перехода вехи.
func CanTransitionMilestone(from, to string) bool {
	allowed, ok := milestoneTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentType константы типов платежей
const (
	PaymentTypePreFunding       = "pre_funding"
	PaymentTypeMilestoneRelease = "milestone_release"
	PaymentTypeRefund           = "refund"
	PaymentTypePlatformFee      = "platform_fee"
	PaymentTypePayout           = "payout"
)

// PaymentStatus константы статусов платежей
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// MatchStatus константы статусов предложений метчинга
const (
	MatchStatusPending  = "pending"
	MatchStatusAccepted = "accepted"
	MatchStatusRejected = "rejected"
	MatchStatusExpired  = "expired"
)

// MatchConfidence уровни уверенности метчинга
const (
	MatchConfidenceLow    = "low"
	MatchConfidenceMedium = "medium"
	MatchConfidenceHigh   = "high"
)

// DisputeStatus константы статусов споров
const (
	DisputeStatusOpen        = "open"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
	DisputeStatusEscalated   = "escalated"
	DisputeStatusClosed      = "closed"
)

// DisputeType константы типов споров
const (
	DisputeTypeMilestoneQuality      = "milestone_quality"
	DisputeTypePayment               = "payment"
	DisputeTypeCommunication         = "communication"
	DisputeTypeFreelancerReplacement = "freelancer_replacement"
)

// DisputeDecision константы решений по спорам
const (
	DisputeDecisionClientFavor     = "client_favor"
	DisputeDecisionFreelancerFavor = "freelancer_favor"
	DisputeDecisionPartial         = "partial"
	DisputeDecisionReplacement     = "replacement"
)

// ValidDisputeTypes список валидных типов споров
var ValidDisputeTypes = map[string]struct{}{
	DisputeTypeMilestoneQuality:      {},
	DisputeTypePayment:               {},
	DisputeTypeCommunication:         {},
	DisputeTypeFreelancerReplacement: {},
}

// ValidDisputeDecisions список валидных решений по спорам
var ValidDisputeDecisions = map[string]struct{}{
	DisputeDecisionClientFavor:     {},
	DisputeDecisionFreelancerFavor: {},
	DisputeDecisionPartial:         {},
	DisputeDecisionReplacement:     {},
}

// VerificationStatus константы статусов верификации
const (
	VerificationStatusPending  = "pending"
	VerificationStatusApproved = "approved"
	VerificationStatusFlagged  = "flagged"
	VerificationStatusRejected = "rejected"
)

// FraudFlagType константы типов фрод-флагов
const (
	FraudFlagMultipleIPs      = "multiple_ips"
	FraudFlagMultipleBrowsers = "multiple_browsers"
	FraudFlagSuspiciousTest   = "suspicious_test_activity"
	FraudFlagExcessiveRetakes = "excessive_retakes"
	FraudFlagTimingAnomaly    = "timing_anomaly"
	FraudFlagPlagiarism       = "plagiarism"
)

// FraudSeverity уровни серьёзности фрод-флагов
const (
	FraudSeverityLow      = "low"
	FraudSeverityMedium   = "medium"
	FraudSeverityHigh     = "high"
	FraudSeverityCritical = "critical"
)

// Availability константы доступности фрилансера
const (
	AvailabilityAvailable   = "available"
	AvailabilityBusy        = "busy"
	AvailabilityUnavailable = "unavailable"
)

// ExperienceLevel константы уровней опыта
const (
	ExperienceLevelJunior = "junior"
	ExperienceLevelMiddle = "middle"
	ExperienceLevelSenior = "senior"
)

// ValidExperienceLevels список валидных уровней опыта
var ValidExperienceLevels = map[string]struct{}{
	ExperienceLevelJunior: {},
	ExperienceLevelMiddle: {},
	ExperienceLevelSenior: {},
}

package domain

import "time"

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

type RecommendationSource string

const (
	SourceAlert      RecommendationSource = "alert"
	SourceConflict   RecommendationSource = "conflict"
	SourceContinuity RecommendationSource = "continuity"
	SourceApproval   RecommendationSource = "approval"
)

// Recommendation — следующее действие для оператора, со ссылкой на породивший его сигнал.
type Recommendation struct {
	Source       RecommendationSource `json:"source"`
	SourceID     string               `json:"source_id"`
	DelegationID string               `json:"delegation_id"`
	Priority     Severity             `json:"priority"`
	Label        string               `json:"label"`
	Command      *Command             `json:"command,omitempty"`
}

// ActivityStats — агрегат журнала за окно.
type ActivityStats struct {
	Since       time.Time         `json:"since"`
	TotalEvents int               `json:"total_events"`
	ByType      map[EventType]int `json:"by_type,omitempty"`
	LastEventAt *time.Time        `json:"last_event_at,omitempty"`
}

type HealthAnalysis struct {
	DelegationID    string           `json:"delegation_id"`
	HealthScore     int              `json:"health_score"`
	Status          HealthStatus     `json:"status"`
	Alerts          []Alert          `json:"alerts"`
	Conflicts       []Conflict       `json:"conflicts"`
	HasBackup       bool             `json:"has_backup"`
	WorkflowID      string           `json:"workflow_id,omitempty"`
	PendingApproval *ApprovalRequest `json:"pending_approval,omitempty"`
	RecentActivity  ActivityStats    `json:"recent_activity"`
	Recommendations []Recommendation `json:"recommendations"`
	AnalyzedAt      time.Time        `json:"analyzed_at"`
}

// DelegationScore — строка «худших» делегаций в отчете.
type DelegationScore struct {
	DelegationID string       `json:"delegation_id"`
	AgentID      string       `json:"agent_id"`
	Bureau       string       `json:"bureau"`
	HealthScore  int          `json:"health_score"`
	Status       HealthStatus `json:"status"`
}

type SystemHealthReport struct {
	TotalDelegations    int                  `json:"total_delegations"`
	ActiveDelegations   int                  `json:"active_delegations"`
	Analyzed            int                  `json:"analyzed"`
	AverageScore        float64              `json:"average_score"`
	StatusDistribution  map[HealthStatus]int `json:"status_distribution"`
	AlertsBySeverity    map[Severity]int     `json:"alerts_by_severity"`
	ConflictsByType     map[ConflictType]int `json:"conflicts_by_type"`
	ConflictsBySeverity map[Severity]int     `json:"conflicts_by_severity"`
	WithoutBackup       []string             `json:"without_backup"`
	ExpiringSoon        []string             `json:"expiring_soon"`
	LowestScores        []DelegationScore    `json:"lowest_scores"`
	Recommendations     []Recommendation     `json:"recommendations"`
	Partial             bool                 `json:"partial"`
	GeneratedAt         time.Time            `json:"generated_at"`
}

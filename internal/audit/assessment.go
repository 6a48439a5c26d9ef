package audit

import "time"

const (
	AssessmentDelegation = "delegation"
	AssessmentSystem     = "system"
)

// Assessment — запись журнала оценок оркестратора. Производные данные: их можно пересчитать.
type Assessment struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`                    // "delegation" или "system"
	DelegationID string    `json:"delegation_id,omitempty"` // пусто для system
	HealthScore  float64   `json:"health_score"`
	Status       string    `json:"status,omitempty"`
	Alerts       int       `json:"alerts"`
	Conflicts    int       `json:"conflicts"`
	Partial      bool      `json:"partial,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"`

	Payload map[string]any `json:"payload,omitempty"`
}

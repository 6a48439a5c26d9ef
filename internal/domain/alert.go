package domain

import "time"

type AlertType string

const (
	AlertExpiration  AlertType = "expiration"
	AlertConflict    AlertType = "conflict"
	AlertAnomaly     AlertType = "anomaly"
	AlertCompliance  AlertType = "compliance"
	AlertRisk        AlertType = "risk"
	AlertOpportunity AlertType = "opportunity"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank — чем меньше, тем серьезнее. Используется для сортировки.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

type ActionKind string

const (
	ActionExtend   ActionKind = "extend"
	ActionTransfer ActionKind = "transfer"
	ActionSuspend  ActionKind = "suspend"
	ActionNotify   ActionKind = "notify"
	ActionEscalate ActionKind = "escalate"
	ActionCustom   ActionKind = "custom"
)

// AlertAction — предложенное исправление с привязанной командой.
type AlertAction struct {
	ID                string        `json:"id"`
	Label             string        `json:"label"`
	Kind              ActionKind    `json:"kind"`
	Automatable       bool          `json:"automatable"`
	RequiresApproval  bool          `json:"requires_approval"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Command           Command       `json:"command"`
}

// Alert — обнаруженный риск. Не мутируется: при следующем проходе набор алертов пересобирается целиком.
type Alert struct {
	ID             string        `json:"id"`
	RuleID         string        `json:"rule_id"`
	Type           AlertType     `json:"type"`
	Severity       Severity      `json:"severity"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	DelegationIDs  []string      `json:"delegation_ids"`
	Actions        []AlertAction `json:"actions"`
	DetectedAt     time.Time     `json:"detected_at"`
	AutoResolvable bool          `json:"auto_resolvable"`
	BusinessImpact string        `json:"business_impact,omitempty"`
}

// Affects проверяет, относится ли алерт к делегации.
func (a Alert) Affects(delegationID string) bool {
	return containsID(a.DelegationIDs, delegationID)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

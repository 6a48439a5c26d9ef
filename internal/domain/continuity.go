package domain

import "time"

type ReplacementStatus string

const (
	ReplacementActive    ReplacementStatus = "active"
	ReplacementScheduled ReplacementStatus = "scheduled"
	ReplacementCompleted ReplacementStatus = "completed"
	ReplacementCancelled ReplacementStatus = "cancelled"
)

// CanTransitionTo: scheduled -> active -> completed; cancel допустим из scheduled и active.
func (s ReplacementStatus) CanTransitionTo(next ReplacementStatus) error {
	switch {
	case s == ReplacementScheduled && (next == ReplacementActive || next == ReplacementCancelled):
		return nil
	case s == ReplacementActive && (next == ReplacementCompleted || next == ReplacementCancelled):
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Replacement — временная замена агента на конкретной делегации.
type Replacement struct {
	ID                 string            `json:"id"`
	DelegationID       string            `json:"delegation_id"`
	OriginalAgentID    string            `json:"original_agent_id"`
	ReplacementAgentID string            `json:"replacement_agent_id"`
	StartDate          time.Time         `json:"start_date"`
	EndDate            time.Time         `json:"end_date"`
	Reason             string            `json:"reason"`
	Status             ReplacementStatus `json:"status"`
	AutoActivation     bool              `json:"auto_activation"`

	// Ограничения на время замены
	MaxAmount         *float64 `json:"max_amount,omitempty"`
	AllowedOperations []string `json:"allowed_operations,omitempty"`

	SuccessorID string    `json:"successor_id,omitempty"` // ID Successor, из которого создана замена
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SuccessorActivation string

const (
	ActivationAutomatic        SuccessorActivation = "automatic"
	ActivationRequiresApproval SuccessorActivation = "requires_approval"
)

type SuccessorStatus string

const (
	SuccessorDesignated SuccessorStatus = "designated"
	SuccessorActive     SuccessorStatus = "active"
	SuccessorDeclined   SuccessorStatus = "declined"
)

// Successor — постоянное назначение преемника. Priority: 1 — наивысший.
type Successor struct {
	ID              string              `json:"id"`
	DelegationID    string              `json:"delegation_id"`
	CurrentHolderID string              `json:"current_holder_id"`
	SuccessorID     string              `json:"successor_id"`
	SuccessorName   string              `json:"successor_name,omitempty"`
	Priority        int                 `json:"priority"`
	Activation      SuccessorActivation `json:"activation"`
	Status          SuccessorStatus     `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
}

// AbsenceNotification группирует заявленное отсутствие агента и созданные замены.
type AbsenceNotification struct {
	ID            string        `json:"id"`
	AgentID       string        `json:"agent_id"`
	StartDate     time.Time     `json:"start_date"`
	EndDate       time.Time     `json:"end_date"`
	Reason        string        `json:"reason"`
	DelegationIDs []string      `json:"delegation_ids"`
	Replacements  []Replacement `json:"replacements"`
	Unassigned    []string      `json:"unassigned"` // делегации без преемника: нужна ручная замена
	CreatedAt     time.Time     `json:"created_at"`
}

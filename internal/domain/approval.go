package domain

import (
	"slices"
	"time"
)

// Статусы State Machine запроса
type ApprovalStatus string

const (
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusRejected  ApprovalStatus = "rejected"
	StatusDelegated ApprovalStatus = "delegated"
	StatusCancelled ApprovalStatus = "cancelled"
)

// DecisionStatus — статус одного решения на уровне.
type DecisionStatus string

const (
	DecisionApproved  DecisionStatus = "approved"
	DecisionRejected  DecisionStatus = "rejected"
	DecisionDelegated DecisionStatus = "delegated"
	DecisionEscalated DecisionStatus = "escalated" // Запись sweep-а по таймауту, не считается одобрением
)

// Applicability — предикат применимости шаблона. Пустые списки означают «любой».
type Applicability struct {
	MinAmount *float64 `json:"min_amount,omitempty" mapstructure:"min_amount" yaml:"min_amount,omitempty"`
	MaxAmount *float64 `json:"max_amount,omitempty" mapstructure:"max_amount" yaml:"max_amount,omitempty"`
	// RequireCap — шаблон применим только к делегациям с лимитом
	RequireCap bool     `json:"require_cap,omitempty" mapstructure:"require_cap" yaml:"require_cap,omitempty"`
	Types      []string `json:"types,omitempty" mapstructure:"types" yaml:"types,omitempty"`
	Bureaus    []string `json:"bureaus,omitempty" mapstructure:"bureaus" yaml:"bureaus,omitempty"`
}

// Matches проверяет делегацию. Делегация без лимита проходит MaxAmount только если он не задан.
func (a Applicability) Matches(d Delegation) bool {
	if len(a.Types) > 0 && !slices.Contains(a.Types, d.Type) {
		return false
	}
	if len(a.Bureaus) > 0 && !slices.Contains(a.Bureaus, d.Bureau) {
		return false
	}
	if a.RequireCap && !d.HasCap() {
		return false
	}
	if a.MaxAmount != nil && (!d.HasCap() || d.Amount() > *a.MaxAmount) {
		return false
	}
	if a.MinAmount != nil && d.HasCap() && d.Amount() <= *a.MinAmount {
		return false
	}
	return true
}

type ApprovalLevel struct {
	Level             int      `json:"level" mapstructure:"level" yaml:"level"`
	Role              string   `json:"role" mapstructure:"role" yaml:"role"`
	ApproverIDs       []string `json:"approver_ids,omitempty" mapstructure:"approver_ids" yaml:"approver_ids,omitempty"` // пусто — любой
	RequiredApprovals int      `json:"required_approvals" mapstructure:"required_approvals" yaml:"required_approvals"`
	TimeoutHours      int      `json:"timeout_hours" mapstructure:"timeout_hours" yaml:"timeout_hours"`
	DelegationAllowed bool     `json:"delegation_allowed" mapstructure:"delegation_allowed" yaml:"delegation_allowed"`
	AutoEscalate      bool     `json:"auto_escalate" mapstructure:"auto_escalate" yaml:"auto_escalate"`
}

// Required — порог одобрений уровня (минимум 1).
func (l ApprovalLevel) Required() int {
	if l.RequiredApprovals < 1 {
		return 1
	}
	return l.RequiredApprovals
}

func (l ApprovalLevel) Timeout() time.Duration {
	return time.Duration(l.TimeoutHours) * time.Hour
}

// ApprovalWorkflow — шаблон, а не экземпляр. Engine его не мутирует.
type ApprovalWorkflow struct {
	ID            string          `json:"id" mapstructure:"id" yaml:"id"`
	Name          string          `json:"name" mapstructure:"name" yaml:"name"`
	Levels        []ApprovalLevel `json:"levels" mapstructure:"levels" yaml:"levels"`
	Applicability Applicability   `json:"applicability" mapstructure:"applicability" yaml:"applicability"`
	Parallel      bool            `json:"parallel" mapstructure:"parallel" yaml:"parallel"`
}

// LevelAt возвращает описание уровня по номеру (уровни нумеруются с 1).
func (w ApprovalWorkflow) LevelAt(level int) (ApprovalLevel, bool) {
	for _, l := range w.Levels {
		if l.Level == level {
			return l, true
		}
	}
	return ApprovalLevel{}, false
}

func (w ApprovalWorkflow) LastLevel() int {
	last := 0
	for _, l := range w.Levels {
		if l.Level > last {
			last = l.Level
		}
	}
	return last
}

// Approval — одно решение на одном уровне.
type Approval struct {
	ID          string         `json:"id"`
	Level       int            `json:"level"`
	ApproverID  string         `json:"approver_id"`
	Status      DecisionStatus `json:"status"`
	Comments    string         `json:"comments,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	DelegatedTo string         `json:"delegated_to,omitempty"`
}

type ApprovalRequest struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	DelegationID string         `json:"delegation_id"`
	RequesterID  string         `json:"requester_id"`
	CurrentLevel int            `json:"current_level"`
	Status       ApprovalStatus `json:"status"`
	Approvals    []Approval     `json:"approvals"`

	// Делегаты, добавленные к уровню именно этого запроса (шаблон не трогаем)
	ExtraApprovers map[int][]string `json:"extra_approvers,omitempty"`

	// Версия для optimistic locking в репозитории
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата: переходы возможны только из pending.
func (r *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if r.Status != StatusPending {
		return ErrInvalidTransition
	}
	if next == StatusPending || next == StatusDelegated {
		// delegated на уровне запроса не используется: делегирование оставляет запрос в pending
		return ErrInvalidTransition
	}
	return nil
}

func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status != StatusPending
}

// ApprovedCount — количество одобрений на уровне.
func (r *ApprovalRequest) ApprovedCount(level int) int {
	n := 0
	for _, a := range r.Approvals {
		if a.Level == level && a.Status == DecisionApproved {
			n++
		}
	}
	return n
}

// HasDecided — принимал ли approver решение (approve/reject) на уровне.
func (r *ApprovalRequest) HasDecided(level int, approverID string) bool {
	for _, a := range r.Approvals {
		if a.Level == level && a.ApproverID == approverID &&
			(a.Status == DecisionApproved || a.Status == DecisionRejected) {
			return true
		}
	}
	return false
}

// DecidedOtherLevel — принимал ли approver решение на любом другом уровне запроса.
// Одна подпись закрывает не больше одного уровня.
func (r *ApprovalRequest) DecidedOtherLevel(level int, approverID string) bool {
	for _, a := range r.Approvals {
		if a.Level != level && a.ApproverID == approverID &&
			(a.Status == DecisionApproved || a.Status == DecisionRejected) {
			return true
		}
	}
	return false
}

// IsEligible — допущен ли актор к уровню: делегаты запроса, явный список ApproverIDs,
// иначе роль уровня. Уровень без списка и без роли открыт любому.
func (r *ApprovalRequest) IsEligible(l ApprovalLevel, actor Actor) bool {
	if actor.ID == "" {
		return false
	}
	if slices.Contains(r.ExtraApprovers[l.Level], actor.ID) {
		return true
	}
	if len(l.ApproverIDs) > 0 {
		return slices.Contains(l.ApproverIDs, actor.ID)
	}
	return l.Role == "" || actor.Role == l.Role
}

// Clone — глубокая копия, чтобы репозитории не делили слайсы с вызывающим кодом.
func (r ApprovalRequest) Clone() ApprovalRequest {
	out := r
	out.Approvals = slices.Clone(r.Approvals)
	if r.ExtraApprovers != nil {
		out.ExtraApprovers = make(map[int][]string, len(r.ExtraApprovers))
		for k, v := range r.ExtraApprovers {
			out.ExtraApprovers[k] = slices.Clone(v)
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

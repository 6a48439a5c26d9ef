package approval

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

const (
	WorkflowExpress  = "express"
	WorkflowStandard = "standard"
	WorkflowEnhanced = "enhanced"
)

// BaselineWorkflows — встроенные шаблоны. Порядок важен: побеждает первый подходящий.
func BaselineWorkflows() []domain.ApprovalWorkflow {
	return []domain.ApprovalWorkflow{
		{
			ID:   WorkflowExpress,
			Name: "Express approval",
			Levels: []domain.ApprovalLevel{
				{Level: 1, Role: "bureau_chief", RequiredApprovals: 1, TimeoutHours: 12, DelegationAllowed: true, AutoEscalate: true},
			},
			Applicability: domain.Applicability{
				MaxAmount: domain.Float(10000),
				Types:     []string{"urgent", "interim"},
			},
		},
		{
			ID:   WorkflowStandard,
			Name: "Standard approval",
			Levels: []domain.ApprovalLevel{
				{Level: 1, Role: "bureau_chief", RequiredApprovals: 1, TimeoutHours: 48, DelegationAllowed: true, AutoEscalate: true},
				{Level: 2, Role: "director", RequiredApprovals: 1, TimeoutHours: 72, DelegationAllowed: true},
			},
			Applicability: domain.Applicability{MaxAmount: domain.Float(50000)},
		},
		{
			ID:   WorkflowEnhanced,
			Name: "Enhanced approval",
			Levels: []domain.ApprovalLevel{
				{Level: 1, Role: "bureau_chief", RequiredApprovals: 1, TimeoutHours: 48, DelegationAllowed: true, AutoEscalate: true},
				{Level: 2, Role: "director", RequiredApprovals: 1, TimeoutHours: 72, AutoEscalate: true},
				{Level: 3, Role: "director_general", RequiredApprovals: 1, TimeoutHours: 96},
			},
			// Лимит выше 50k или без лимита вовсе
			Applicability: domain.Applicability{MinAmount: domain.Float(50000)},
		},
	}
}

// Registry — упорядоченный набор шаблонов. Читается на каждом переходе, заменяется целиком.
type Registry struct {
	mu        sync.RWMutex
	workflows []domain.ApprovalWorkflow
}

// NewRegistry: пустой список — встроенные шаблоны.
func NewRegistry(workflows []domain.ApprovalWorkflow) (*Registry, error) {
	r := &Registry{}
	if len(workflows) == 0 {
		workflows = BaselineWorkflows()
	}
	if err := r.Replace(workflows); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace валидирует и атомарно подменяет набор шаблонов.
func (r *Registry) Replace(workflows []domain.ApprovalWorkflow) error {
	next := make([]domain.ApprovalWorkflow, 0, len(workflows))
	seen := make(map[string]bool)
	for _, w := range workflows {
		if err := validate(w); err != nil {
			return err
		}
		if seen[w.ID] {
			return fmt.Errorf("approval: duplicate workflow id %s", w.ID)
		}
		seen[w.ID] = true

		w.Levels = append([]domain.ApprovalLevel(nil), w.Levels...)
		sort.Slice(w.Levels, func(i, j int) bool { return w.Levels[i].Level < w.Levels[j].Level })
		next = append(next, w)
	}

	r.mu.Lock()
	r.workflows = next
	r.mu.Unlock()
	return nil
}

func validate(w domain.ApprovalWorkflow) error {
	if w.ID == "" {
		return fmt.Errorf("approval: workflow without id")
	}
	if len(w.Levels) == 0 {
		return fmt.Errorf("approval: workflow %s has no levels", w.ID)
	}
	levels := make(map[int]bool)
	for _, l := range w.Levels {
		if l.Level < 1 {
			return fmt.Errorf("approval: workflow %s: level numbers start at 1", w.ID)
		}
		if levels[l.Level] {
			return fmt.Errorf("approval: workflow %s: duplicate level %d", w.ID, l.Level)
		}
		levels[l.Level] = true
	}
	return nil
}

// Select — первый шаблон, чей предикат подходит делегации.
func (r *Registry) Select(d domain.Delegation) (domain.ApprovalWorkflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workflows {
		if w.Applicability.Matches(d) {
			return w, nil
		}
	}
	return domain.ApprovalWorkflow{}, fmt.Errorf("delegation %s: %w", d.ID, domain.ErrWorkflowNotApplicable)
}

func (r *Registry) Get(id string) (domain.ApprovalWorkflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workflows {
		if w.ID == id {
			return w, nil
		}
	}
	return domain.ApprovalWorkflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
}

func (r *Registry) All() []domain.ApprovalWorkflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ApprovalWorkflow, len(r.workflows))
	copy(out, r.workflows)
	return out
}

package continuity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// Manager — Replacement/Continuity Manager: преемники, отсутствия, временные замены.
type Manager struct {
	store    Store
	timeline Recorder

	locks   *infra.KeyedMutex // по ID замены: sweep и ручные переходы не пересекаются
	locker  infra.Locker
	lockTTL time.Duration

	clock   infra.Clock
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewManager(store Store, timeline Recorder, locker infra.Locker, clock infra.Clock, metrics *infra.Metrics, logger *zap.Logger) *Manager {
	if locker == nil {
		locker = infra.NewLocalLocker()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Manager{
		store:    store,
		timeline: timeline,
		locks:    infra.NewKeyedMutex(),
		locker:   locker,
		lockTTL:  30 * time.Second,
		clock:    infra.OrSystem(clock),
		metrics:  metrics,
		logger:   infra.OrNop(logger).Named("continuity"),
	}
}

func (m *Manager) SetSweepLockTTL(ttl time.Duration) {
	if ttl > 0 {
		m.lockTTL = ttl
	}
}

type SuccessorInput struct {
	DelegationID    string                     `json:"delegation_id"`
	CurrentHolderID string                     `json:"current_holder_id"`
	SuccessorID     string                     `json:"successor_id"`
	SuccessorName   string                     `json:"successor_name,omitempty"`
	Priority        int                        `json:"priority"`
	Activation      domain.SuccessorActivation `json:"activation,omitempty"`
}

// DesignateSuccessor назначает преемника. Priority 0 трактуется как 1 (наивысший).
func (m *Manager) DesignateSuccessor(ctx context.Context, in SuccessorInput, actor domain.Actor) (domain.Successor, error) {
	if in.DelegationID == "" || in.SuccessorID == "" {
		return domain.Successor{}, fmt.Errorf("continuity: delegation and successor are required: %w", domain.ErrInvalidDelegation)
	}
	if in.SuccessorID == in.CurrentHolderID {
		return domain.Successor{}, fmt.Errorf("continuity: holder cannot succeed themselves: %w", domain.ErrInvalidDelegation)
	}
	if in.Priority < 1 {
		in.Priority = 1
	}
	if in.Activation == "" {
		in.Activation = domain.ActivationAutomatic
	}

	s := domain.Successor{
		ID:              uuid.New().String(),
		DelegationID:    in.DelegationID,
		CurrentHolderID: in.CurrentHolderID,
		SuccessorID:     in.SuccessorID,
		SuccessorName:   in.SuccessorName,
		Priority:        in.Priority,
		Activation:      in.Activation,
		Status:          domain.SuccessorDesignated,
		CreatedAt:       m.clock.Now(),
	}
	if err := m.store.SaveSuccessor(ctx, s); err != nil {
		return domain.Successor{}, fmt.Errorf("continuity: save successor: %w", err)
	}

	m.logger.Info("successor designated",
		zap.String("delegation_id", s.DelegationID),
		zap.String("successor_id", s.SuccessorID),
		zap.Int("priority", s.Priority),
	)
	m.record(ctx, s.DelegationID, domain.EventSuccessorDesignated, actor, "Successor designated", map[string]any{
		"successor_id": s.SuccessorID,
		"priority":     s.Priority,
		"activation":   string(s.Activation),
	})
	return s, nil
}

func (m *Manager) DeclineSuccessor(ctx context.Context, successorID string, actor domain.Actor) (domain.Successor, error) {
	s, err := m.store.Successor(ctx, successorID)
	if err != nil {
		return domain.Successor{}, err
	}
	if s.Status == domain.SuccessorDeclined {
		return s, fmt.Errorf("successor %s already declined: %w", successorID, domain.ErrInvalidTransition)
	}
	s.Status = domain.SuccessorDeclined
	if err := m.store.SaveSuccessor(ctx, s); err != nil {
		return domain.Successor{}, fmt.Errorf("continuity: save successor: %w", err)
	}
	m.record(ctx, s.DelegationID, domain.EventCommentAdded, actor, "Successor declined", map[string]any{
		"successor_id": s.SuccessorID,
	})
	return s, nil
}

// Successors — все преемники делегации в порядке приоритета.
func (m *Manager) Successors(ctx context.Context, delegationID string) ([]domain.Successor, error) {
	return m.store.SuccessorsFor(ctx, delegationID)
}

// FindBestReplacement — назначенный преемник с наивысшим приоритетом.
// Если такого нет, автоматической замены нет: нужна ручная AssignReplacement.
func (m *Manager) FindBestReplacement(ctx context.Context, delegationID string) (*domain.Successor, error) {
	return m.bestExcluding(ctx, delegationID, "")
}

func (m *Manager) bestExcluding(ctx context.Context, delegationID, excludeAgent string) (*domain.Successor, error) {
	list, err := m.store.SuccessorsFor(ctx, delegationID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s := list[i]
		if s.Status == domain.SuccessorDesignated && s.SuccessorID != excludeAgent {
			return &s, nil
		}
	}
	return nil, nil
}

// HasBackup — флаг HasBackup или хотя бы один назначенный преемник.
func (m *Manager) HasBackup(ctx context.Context, d domain.Delegation) (bool, error) {
	if d.HasBackup {
		return true, nil
	}
	best, err := m.FindBestReplacement(ctx, d.ID)
	if err != nil {
		return false, err
	}
	return best != nil, nil
}

// Coverage — делегации набора, у которых есть назначенный преемник. Используется как контекст Alert Engine.
func (m *Manager) Coverage(ctx context.Context, ds []domain.Delegation) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, d := range ds {
		best, err := m.FindBestReplacement(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("continuity: coverage of %s: %w", d.ID, err)
		}
		if best != nil {
			out[d.ID] = true
		}
	}
	return out, nil
}

// GetDelegationsWithoutBackup — критичные активные делегации без резерва.
func (m *Manager) GetDelegationsWithoutBackup(ctx context.Context, ds []domain.Delegation) ([]domain.Delegation, error) {
	var out []domain.Delegation
	for _, d := range ds {
		if !d.IsCritical || !d.IsActive() {
			continue
		}
		ok, err := m.HasBackup(ctx, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type AbsenceInput struct {
	AgentID       string    `json:"agent_id"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	Reason        string    `json:"reason"`
	DelegationIDs []string  `json:"delegation_ids"`
}

// DeclareAbsence создаёт уведомление и, где есть преемник, замену на окно отсутствия.
func (m *Manager) DeclareAbsence(ctx context.Context, in AbsenceInput, actor domain.Actor) (domain.AbsenceNotification, error) {
	if in.AgentID == "" {
		return domain.AbsenceNotification{}, fmt.Errorf("continuity: absent agent is required: %w", domain.ErrInvalidDelegation)
	}
	if in.EndDate.Before(in.StartDate) {
		return domain.AbsenceNotification{}, fmt.Errorf("continuity: absence ends before it starts: %w", domain.ErrInvalidDelegation)
	}

	now := m.clock.Now()
	n := domain.AbsenceNotification{
		ID:            uuid.New().String(),
		AgentID:       in.AgentID,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		Reason:        in.Reason,
		DelegationIDs: append([]string(nil), in.DelegationIDs...),
		Replacements:  []domain.Replacement{},
		Unassigned:    []string{},
		CreatedAt:     now,
	}

	for _, delegationID := range in.DelegationIDs {
		best, err := m.bestExcluding(ctx, delegationID, in.AgentID)
		if err != nil {
			return domain.AbsenceNotification{}, fmt.Errorf("continuity: successors of %s: %w", delegationID, err)
		}
		if best == nil {
			n.Unassigned = append(n.Unassigned, delegationID)
			continue
		}

		r := domain.Replacement{
			ID:                 uuid.New().String(),
			DelegationID:       delegationID,
			OriginalAgentID:    in.AgentID,
			ReplacementAgentID: best.SuccessorID,
			StartDate:          in.StartDate,
			EndDate:            in.EndDate,
			Reason:             in.Reason,
			SuccessorID:        best.ID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		switch {
		case best.Activation == domain.ActivationRequiresApproval:
			r.Status = domain.ReplacementScheduled
			r.AutoActivation = false
		case in.StartDate.After(now):
			r.Status = domain.ReplacementScheduled
			r.AutoActivation = true
		default:
			r.Status = domain.ReplacementActive
			r.AutoActivation = true
		}

		if err := m.store.SaveReplacement(ctx, r); err != nil {
			return domain.AbsenceNotification{}, fmt.Errorf("continuity: save replacement: %w", err)
		}
		n.Replacements = append(n.Replacements, r)
		m.recordReplacement(ctx, r, domain.EventReplacementAssigned, actor)
		if r.Status == domain.ReplacementActive {
			m.recordReplacement(ctx, r, domain.EventReplacementActivated, actor)
		}
	}

	if err := m.store.SaveAbsence(ctx, n); err != nil {
		return domain.AbsenceNotification{}, fmt.Errorf("continuity: save absence: %w", err)
	}

	m.logger.Info("absence declared",
		zap.String("agent_id", n.AgentID),
		zap.Int("delegations", len(n.DelegationIDs)),
		zap.Int("replacements", len(n.Replacements)),
		zap.Int("unassigned", len(n.Unassigned)),
	)
	return n, nil
}

type ReplacementInput struct {
	DelegationID       string    `json:"delegation_id"`
	OriginalAgentID    string    `json:"original_agent_id"`
	ReplacementAgentID string    `json:"replacement_agent_id"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	Reason             string    `json:"reason"`
	AutoActivation     bool      `json:"auto_activation"`
	MaxAmount          *float64  `json:"max_amount,omitempty"`
	AllowedOperations  []string  `json:"allowed_operations,omitempty"`
}

// AssignReplacement — ручное назначение замены (делегации без преемника).
func (m *Manager) AssignReplacement(ctx context.Context, in ReplacementInput, actor domain.Actor) (domain.Replacement, error) {
	if in.DelegationID == "" || in.ReplacementAgentID == "" {
		return domain.Replacement{}, fmt.Errorf("continuity: delegation and replacement agent are required: %w", domain.ErrInvalidDelegation)
	}
	if in.EndDate.Before(in.StartDate) {
		return domain.Replacement{}, fmt.Errorf("continuity: replacement ends before it starts: %w", domain.ErrInvalidDelegation)
	}

	now := m.clock.Now()
	r := domain.Replacement{
		ID:                 uuid.New().String(),
		DelegationID:       in.DelegationID,
		OriginalAgentID:    in.OriginalAgentID,
		ReplacementAgentID: in.ReplacementAgentID,
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		Reason:             in.Reason,
		Status:             domain.ReplacementScheduled,
		AutoActivation:     in.AutoActivation,
		MaxAmount:          in.MaxAmount,
		AllowedOperations:  in.AllowedOperations,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.AutoActivation && !in.StartDate.After(now) {
		r.Status = domain.ReplacementActive
	}

	if err := m.store.SaveReplacement(ctx, r); err != nil {
		return domain.Replacement{}, fmt.Errorf("continuity: save replacement: %w", err)
	}
	m.recordReplacement(ctx, r, domain.EventReplacementAssigned, actor)
	if r.Status == domain.ReplacementActive {
		m.recordReplacement(ctx, r, domain.EventReplacementActivated, actor)
	}
	return r, nil
}

func (m *Manager) ActivateReplacement(ctx context.Context, id string, actor domain.Actor) (domain.Replacement, error) {
	return m.transition(ctx, id, domain.ReplacementActive, actor)
}

func (m *Manager) CompleteReplacement(ctx context.Context, id string, actor domain.Actor) (domain.Replacement, error) {
	return m.transition(ctx, id, domain.ReplacementCompleted, actor)
}

func (m *Manager) CancelReplacement(ctx context.Context, id string, actor domain.Actor) (domain.Replacement, error) {
	return m.transition(ctx, id, domain.ReplacementCancelled, actor)
}

func (m *Manager) transition(ctx context.Context, id string, next domain.ReplacementStatus, actor domain.Actor) (domain.Replacement, error) {
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.transitionLocked(ctx, id, next, actor)
}

func (m *Manager) transitionLocked(ctx context.Context, id string, next domain.ReplacementStatus, actor domain.Actor) (domain.Replacement, error) {
	r, err := m.store.Replacement(ctx, id)
	if err != nil {
		return domain.Replacement{}, err
	}
	if err := r.Status.CanTransitionTo(next); err != nil {
		return r, fmt.Errorf("replacement %s %s -> %s: %w", id, r.Status, next, err)
	}
	r.Status = next
	r.UpdatedAt = m.clock.Now()
	if err := m.store.SaveReplacement(ctx, r); err != nil {
		return domain.Replacement{}, fmt.Errorf("continuity: save replacement: %w", err)
	}

	switch next {
	case domain.ReplacementActive:
		m.recordReplacement(ctx, r, domain.EventReplacementActivated, actor)
	case domain.ReplacementCompleted:
		m.recordReplacement(ctx, r, domain.EventReplacementCompleted, actor)
	case domain.ReplacementCancelled:
		m.recordReplacement(ctx, r, domain.EventCommentAdded, actor)
	}
	return r, nil
}

// ActiveReplacementFor — действующая замена по делегации, nil если нет.
func (m *Manager) ActiveReplacementFor(ctx context.Context, delegationID string) (*domain.Replacement, error) {
	list, err := m.store.ReplacementsFor(ctx, delegationID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Status == domain.ReplacementActive {
			r := list[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Manager) Replacements(ctx context.Context, delegationID string) ([]domain.Replacement, error) {
	return m.store.ReplacementsFor(ctx, delegationID)
}

func (m *Manager) Absences(ctx context.Context, agentID string) ([]domain.AbsenceNotification, error) {
	return m.store.AbsencesFor(ctx, agentID)
}

func (m *Manager) recordReplacement(ctx context.Context, r domain.Replacement, t domain.EventType, actor domain.Actor) {
	m.record(ctx, r.DelegationID, t, actor, "Replacement "+string(r.Status), map[string]any{
		"replacement_id":       r.ID,
		"original_agent_id":    r.OriginalAgentID,
		"replacement_agent_id": r.ReplacementAgentID,
		"status":               string(r.Status),
	})
}

func (m *Manager) record(ctx context.Context, delegationID string, t domain.EventType, actor domain.Actor, action string, details map[string]any) {
	if m.timeline == nil {
		return
	}
	_, err := m.timeline.RecordEvent(ctx, domain.TimelineEvent{
		DelegationID: delegationID,
		Type:         t,
		Actor:        actor,
		Action:       action,
		Details:      details,
		Tags:         []string{"continuity"},
	})
	if err != nil {
		m.logger.Error("failed to record continuity event",
			zap.String("delegation_id", delegationID),
			zap.String("event", string(t)),
			zap.Error(err),
		)
	}
}

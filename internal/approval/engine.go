package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// Engine — Approval Workflow Engine. Переходы одного запроса сериализуются локальным мьютексом
// и дополнительно защищены версией в репозитории (несколько инстансов сервиса).
type Engine struct {
	repo      Repository
	workflows *Registry
	timeline  Recorder

	locks   *infra.KeyedMutex
	locker  infra.Locker
	lockTTL time.Duration

	clock   infra.Clock
	metrics *infra.Metrics
	logger  *zap.Logger
}

// NewEngine: timeline может быть nil, locker nil — блокировка в пределах процесса.
func NewEngine(repo Repository, workflows *Registry, timeline Recorder, locker infra.Locker, clock infra.Clock, metrics *infra.Metrics, logger *zap.Logger) *Engine {
	if locker == nil {
		locker = infra.NewLocalLocker()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Engine{
		repo:      repo,
		workflows: workflows,
		timeline:  timeline,
		locks:     infra.NewKeyedMutex(),
		locker:    locker,
		lockTTL:   30 * time.Second,
		clock:     infra.OrSystem(clock),
		metrics:   metrics,
		logger:    infra.OrNop(logger).Named("approval"),
	}
}

// SetSweepLockTTL задаёт TTL распределенной блокировки sweep-а.
func (e *Engine) SetSweepLockTTL(ttl time.Duration) {
	if ttl > 0 {
		e.lockTTL = ttl
	}
}

func (e *Engine) Workflows() *Registry {
	return e.workflows
}

func (e *Engine) SelectWorkflow(d domain.Delegation) (domain.ApprovalWorkflow, error) {
	return e.workflows.Select(d)
}

// CreateRequest запускает согласование по первому подходящему шаблону.
func (e *Engine) CreateRequest(ctx context.Context, d domain.Delegation, requesterID string) (domain.ApprovalRequest, error) {
	wf, err := e.workflows.Select(d)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}

	now := e.clock.Now()
	req := domain.ApprovalRequest{
		ID:           uuid.New().String(),
		WorkflowID:   wf.ID,
		DelegationID: d.ID,
		RequesterID:  requesterID,
		CurrentLevel: wf.Levels[0].Level,
		Status:       domain.StatusPending,
		Approvals:    []domain.Approval{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.repo.Create(ctx, req); err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("approval: create request: %w", err)
	}

	e.metrics.ApprovalTransitions.WithLabelValues(wf.ID, "created").Inc()
	e.logger.Info("approval request created",
		zap.String("request_id", req.ID),
		zap.String("delegation_id", d.ID),
		zap.String("workflow_id", wf.ID),
	)
	e.record(ctx, req, domain.EventApprovalRequested, domain.Actor{ID: requesterID}, "Approval requested", map[string]any{
		"request_id":  req.ID,
		"workflow_id": wf.ID,
	})
	return req, nil
}

func (e *Engine) Get(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	return e.repo.Get(ctx, id)
}

func (e *Engine) ListPending(ctx context.Context) ([]domain.ApprovalRequest, error) {
	return e.repo.ListPending(ctx)
}

// PendingFor — открытый запрос по делегации (если есть).
func (e *Engine) PendingFor(ctx context.Context, delegationID string) (*domain.ApprovalRequest, error) {
	reqs, err := e.repo.ListByDelegation(ctx, delegationID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if reqs[i].Status == domain.StatusPending {
			return &reqs[i], nil
		}
	}
	return nil, nil
}

// Approve фиксирует одобрение. Уровень продвигается, когда набран порог RequiredApprovals.
func (e *Engine) Approve(ctx context.Context, id string, approver domain.Actor, comments string) (domain.ApprovalRequest, error) {
	return e.transition(ctx, id, "approved", approver, func(req *domain.ApprovalRequest, wf domain.ApprovalWorkflow, now time.Time) (domain.EventType, map[string]any, error) {
		level, err := decisionLevel(req, wf, approver)
		if err != nil {
			return "", nil, err
		}
		req.Approvals = append(req.Approvals, domain.Approval{
			ID:         uuid.New().String(),
			Level:      level,
			ApproverID: approver.ID,
			Status:     domain.DecisionApproved,
			Comments:   comments,
			Timestamp:  now,
		})
		advance(req, wf, now)
		return domain.EventApproved, map[string]any{
			"level":  level,
			"status": string(req.Status),
		}, nil
	})
}

// Reject — терминальный переход с любого уровня.
func (e *Engine) Reject(ctx context.Context, id string, approver domain.Actor, comments string) (domain.ApprovalRequest, error) {
	return e.transition(ctx, id, "rejected", approver, func(req *domain.ApprovalRequest, wf domain.ApprovalWorkflow, now time.Time) (domain.EventType, map[string]any, error) {
		if err := req.CanTransitionTo(domain.StatusRejected); err != nil {
			return "", nil, err
		}
		level, err := decisionLevel(req, wf, approver)
		if err != nil {
			return "", nil, err
		}
		req.Approvals = append(req.Approvals, domain.Approval{
			ID:         uuid.New().String(),
			Level:      level,
			ApproverID: approver.ID,
			Status:     domain.DecisionRejected,
			Comments:   comments,
			Timestamp:  now,
		})
		req.Status = domain.StatusRejected
		req.CompletedAt = &now
		return domain.EventRejected, map[string]any{"level": level, "comments": comments}, nil
	})
}

// Delegate передаёт право решения на текущем уровне. Запрос остаётся pending,
// делегат добавляется к approver-ам уровня только этого запроса.
func (e *Engine) Delegate(ctx context.Context, id string, from domain.Actor, toApproverID, comments string) (domain.ApprovalRequest, error) {
	return e.transition(ctx, id, "delegated", from, func(req *domain.ApprovalRequest, wf domain.ApprovalWorkflow, now time.Time) (domain.EventType, map[string]any, error) {
		if toApproverID == "" || toApproverID == from.ID {
			return "", nil, fmt.Errorf("delegate to %q: %w", toApproverID, domain.ErrInvalidTransition)
		}
		if toApproverID == req.RequesterID {
			return "", nil, fmt.Errorf("delegate to %s: %w", toApproverID, domain.ErrSelfApproval)
		}
		level, err := decisionLevel(req, wf, from)
		if err != nil {
			return "", nil, err
		}
		l, _ := wf.LevelAt(level)
		if !l.DelegationAllowed {
			return "", nil, fmt.Errorf("level %d does not allow delegation: %w", level, domain.ErrInvalidTransition)
		}

		if req.ExtraApprovers == nil {
			req.ExtraApprovers = make(map[int][]string)
		}
		req.ExtraApprovers[level] = append(req.ExtraApprovers[level], toApproverID)
		req.Approvals = append(req.Approvals, domain.Approval{
			ID:          uuid.New().String(),
			Level:       level,
			ApproverID:  from.ID,
			Status:      domain.DecisionDelegated,
			Comments:    comments,
			Timestamp:   now,
			DelegatedTo: toApproverID,
		})
		return domain.EventApprovalDelegated, map[string]any{"level": level, "delegated_to": toApproverID}, nil
	})
}

// Cancel отзывает запрос (инициатор передумал или делегация удалена).
func (e *Engine) Cancel(ctx context.Context, id string, actor domain.Actor) (domain.ApprovalRequest, error) {
	return e.transition(ctx, id, "cancelled", actor, func(req *domain.ApprovalRequest, _ domain.ApprovalWorkflow, now time.Time) (domain.EventType, map[string]any, error) {
		if err := req.CanTransitionTo(domain.StatusCancelled); err != nil {
			return "", nil, err
		}
		req.Status = domain.StatusCancelled
		req.CompletedAt = &now
		return domain.EventCommentAdded, map[string]any{"cancelled_by": actor.ID}, nil
	})
}

type mutation func(req *domain.ApprovalRequest, wf domain.ApprovalWorkflow, now time.Time) (domain.EventType, map[string]any, error)

// transition — общий каркас: блокировка запроса, чтение, проверка, мутация, CAS-запись, журнал.
func (e *Engine) transition(ctx context.Context, id, name string, actor domain.Actor, mutate mutation) (domain.ApprovalRequest, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if req.IsTerminal() {
		return req, fmt.Errorf("request %s is %s: %w", id, req.Status, domain.ErrInvalidTransition)
	}
	wf, err := e.workflows.Get(req.WorkflowID)
	if err != nil {
		return req, err
	}

	before := req.Clone()
	now := e.clock.Now()
	eventType, details, err := mutate(&req, wf, now)
	if err != nil {
		e.logger.Debug("approval transition rejected",
			zap.String("request_id", id),
			zap.String("transition", name),
			zap.Error(err),
		)
		return before, err
	}
	req.UpdatedAt = now

	saved, err := e.repo.Update(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			e.logger.Warn("approval update lost a race", zap.String("request_id", id))
		}
		return before, err
	}

	e.metrics.ApprovalTransitions.WithLabelValues(wf.ID, name).Inc()
	if saved.Status == domain.StatusApproved {
		e.metrics.ApprovalTransitions.WithLabelValues(wf.ID, "completed").Inc()
	}

	details["request_id"] = saved.ID
	details["current_level"] = saved.CurrentLevel

	e.logger.Info("approval transition",
		zap.String("request_id", saved.ID),
		zap.String("transition", name),
		zap.String("status", string(saved.Status)),
		zap.Int("current_level", saved.CurrentLevel),
	)
	e.record(ctx, saved, eventType, actor, "Approval "+name, details)
	return saved, nil
}

func (e *Engine) record(ctx context.Context, req domain.ApprovalRequest, t domain.EventType, actor domain.Actor, action string, details map[string]any) {
	if e.timeline == nil {
		return
	}
	_, err := e.timeline.RecordEvent(ctx, domain.TimelineEvent{
		DelegationID: req.DelegationID,
		Type:         t,
		Actor:        actor,
		Action:       action,
		Details:      details,
		Tags:         []string{"approval", req.WorkflowID},
	})
	if err != nil {
		e.logger.Error("failed to record approval event",
			zap.String("request_id", req.ID),
			zap.String("event", string(t)),
			zap.Error(err),
		)
	}
}

// decisionLevel — уровень, на котором approver может принять решение.
// Последовательный шаблон: только текущий уровень. Параллельный: первый неудовлетворённый уровень, где approver допущен.
// Инициатор не решает по своему запросу, один approver не закрывает два уровня.
func decisionLevel(req *domain.ApprovalRequest, wf domain.ApprovalWorkflow, approver domain.Actor) (int, error) {
	if approver.ID != "" && approver.ID == req.RequesterID {
		return 0, fmt.Errorf("%s on request %s: %w", approver.ID, req.ID, domain.ErrSelfApproval)
	}
	if !wf.Parallel {
		l, ok := wf.LevelAt(req.CurrentLevel)
		if !ok {
			return 0, fmt.Errorf("level %d of workflow %s: %w", req.CurrentLevel, wf.ID, domain.ErrNotFound)
		}
		if !req.IsEligible(l, approver) {
			return 0, fmt.Errorf("%s (role %q) at level %d: %w", approver.ID, approver.Role, l.Level, domain.ErrUnauthorizedApprover)
		}
		if req.HasDecided(l.Level, approver.ID) || req.DecidedOtherLevel(l.Level, approver.ID) {
			return 0, fmt.Errorf("%s at level %d: %w", approver.ID, l.Level, domain.ErrDuplicateApproval)
		}
		return l.Level, nil
	}

	decided := false
	for _, l := range wf.Levels {
		if levelSatisfied(req, l) || !req.IsEligible(l, approver) {
			continue
		}
		if req.HasDecided(l.Level, approver.ID) || req.DecidedOtherLevel(l.Level, approver.ID) {
			decided = true
			continue
		}
		return l.Level, nil
	}
	if decided {
		return 0, fmt.Errorf("%s: %w", approver.ID, domain.ErrDuplicateApproval)
	}
	return 0, fmt.Errorf("%s (role %q): %w", approver.ID, approver.Role, domain.ErrUnauthorizedApprover)
}

// levelSatisfied: набран порог одобрений или уровень пройден эскалацией.
func levelSatisfied(req *domain.ApprovalRequest, l domain.ApprovalLevel) bool {
	if req.ApprovedCount(l.Level) >= l.Required() {
		return true
	}
	for _, a := range req.Approvals {
		if a.Level == l.Level && a.Status == domain.DecisionEscalated {
			return true
		}
	}
	return false
}

// advance пересчитывает CurrentLevel и статус. CurrentLevel только растёт.
func advance(req *domain.ApprovalRequest, wf domain.ApprovalWorkflow, now time.Time) {
	if wf.Parallel {
		for _, l := range wf.Levels {
			if !levelSatisfied(req, l) {
				if l.Level > req.CurrentLevel {
					req.CurrentLevel = l.Level
				}
				return
			}
		}
		req.CurrentLevel = wf.LastLevel()
		req.Status = domain.StatusApproved
		req.CompletedAt = &now
		return
	}

	l, ok := wf.LevelAt(req.CurrentLevel)
	if !ok || !levelSatisfied(req, l) {
		return
	}
	if next, ok := nextLevel(wf, req.CurrentLevel); ok {
		req.CurrentLevel = next
		return
	}
	req.Status = domain.StatusApproved
	req.CompletedAt = &now
}

func nextLevel(wf domain.ApprovalWorkflow, current int) (int, bool) {
	for _, l := range wf.Levels {
		if l.Level > current {
			return l.Level, true
		}
	}
	return 0, false
}

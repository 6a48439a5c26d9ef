package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/engine"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// DelegationRepository описывает требования к хранилищу делегаций
type DelegationRepository interface {
	List(ctx context.Context) ([]domain.Delegation, error)
	Get(ctx context.Context, id string) (domain.Delegation, error)
	Save(ctx context.Context, d domain.Delegation) error
}

// ConflictSource — проход детектора и удерживаемый им набор (conflict.Detector).
type ConflictSource interface {
	Detect(ds []domain.Delegation) []domain.Conflict
	Unresolved() []domain.Conflict
}

// GovernanceService связывает хранилище делегаций с движками: каждая операция консоли
// читает актуальный набор и передаёт его в GovernanceEngine.
type GovernanceService struct {
	repo      DelegationRepository
	engine    *engine.GovernanceEngine
	conflicts ConflictSource
	timeline  *audit.Timeline
	executor  domain.CommandExecutor
	clock     infra.Clock
	logger    *zap.Logger
}

func NewGovernanceService(
	repo DelegationRepository,
	gov *engine.GovernanceEngine,
	conflicts ConflictSource,
	timeline *audit.Timeline,
	executor domain.CommandExecutor,
	clock infra.Clock,
	logger *zap.Logger,
) *GovernanceService {
	return &GovernanceService{
		repo:      repo,
		engine:    gov,
		conflicts: conflicts,
		timeline:  timeline,
		executor:  executor,
		clock:     infra.OrSystem(clock),
		logger:    infra.OrNop(logger).Named("governance-service"),
	}
}

func (s *GovernanceService) ListDelegations(ctx context.Context) ([]domain.Delegation, error) {
	return s.repo.List(ctx)
}

func (s *GovernanceService) GetDelegation(ctx context.Context, id string) (domain.Delegation, error) {
	return s.repo.Get(ctx, id)
}

// CreateDelegation регистрирует новую делегацию и пишет событие created.
func (s *GovernanceService) CreateDelegation(ctx context.Context, d domain.Delegation, actor domain.Actor) (domain.Delegation, error) {
	if d.ID == "" || d.AgentID == "" {
		return d, fmt.Errorf("delegation id and agent are required: %w", domain.ErrInvalidDelegation)
	}
	if d.EndDate.Before(d.StartDate) {
		return d, fmt.Errorf("delegation %s ends before it starts: %w", d.ID, domain.ErrInvalidDelegation)
	}
	if _, err := s.repo.Get(ctx, d.ID); err == nil {
		return d, fmt.Errorf("delegation %s already exists: %w", d.ID, domain.ErrInvalidTransition)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return d, err
	}

	now := s.clock.Now()
	if d.Status == "" {
		d.Status = domain.DelegationActive
	}
	d.CreatedAt, d.UpdatedAt = now, now
	if err := s.repo.Save(ctx, d); err != nil {
		return d, err
	}
	if _, err := s.timeline.RecordEvent(ctx, domain.TimelineEvent{
		DelegationID: d.ID,
		Type:         domain.EventCreated,
		Actor:        actor,
		Action:       "Delegation created",
		Details:      d.Snapshot(),
	}); err != nil {
		s.logger.Error("failed to record delegation creation", zap.String("delegation_id", d.ID), zap.Error(err))
	}
	return d, nil
}

func (s *GovernanceService) Analyze(ctx context.Context, id string) (domain.HealthAnalysis, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return domain.HealthAnalysis{}, err
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.HealthAnalysis{}, err
	}
	return s.engine.AnalyzeComprehensive(ctx, d, all)
}

func (s *GovernanceService) Report(ctx context.Context) (domain.SystemHealthReport, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}
	return s.engine.GenerateSystemHealthReport(ctx, all)
}

// DetectConflicts — свежий проход детектора по текущему набору.
func (s *GovernanceService) DetectConflicts(ctx context.Context) ([]domain.Conflict, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.conflicts.Detect(all), nil
}

func (s *GovernanceService) ResolveConflict(ctx context.Context, conflictID, resolutionID string, actor domain.Actor) (domain.Conflict, error) {
	return s.engine.ResolveConflict(ctx, conflictID, resolutionID, actor)
}

// ExecuteCommand исполняет рекомендацию оператора и фиксирует, кто её применил.
func (s *GovernanceService) ExecuteCommand(ctx context.Context, cmd domain.Command, actor domain.Actor) error {
	if s.executor == nil {
		return domain.ErrNoExecutor
	}
	ctx = domain.ContextWithActor(ctx, actor)
	if err := s.executor.Execute(ctx, cmd); err != nil {
		return err
	}
	ids := cmd.DelegationIDs
	if len(ids) == 0 && cmd.Target() != "" {
		ids = []string{cmd.Target()}
	}
	for _, id := range ids {
		_, err := s.timeline.RecordEvent(ctx, domain.TimelineEvent{
			DelegationID: id,
			Type:         domain.EventRemediationApplied,
			Actor:        actor,
			Action:       "Remediation applied",
			Details:      map[string]any{"command": string(cmd.Kind)},
			Tags:         []string{"remediation"},
		})
		if err != nil {
			s.logger.Error("failed to record remediation", zap.String("delegation_id", id), zap.Error(err))
		}
	}
	return nil
}

// RestoreVersion возвращает делегацию к состоянию до выбранного снимка и сохраняет её.
func (s *GovernanceService) RestoreVersion(ctx context.Context, delegationID, snapshotID string, actor domain.Actor) (domain.Delegation, error) {
	state, err := s.timeline.RestoreVersion(ctx, delegationID, snapshotID, actor)
	if err != nil {
		return domain.Delegation{}, err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("encode restored state: %w", err)
	}
	var d domain.Delegation
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.Delegation{}, fmt.Errorf("decode restored state: %w", err)
	}
	if d.ID == "" {
		// снимок содержал не делегацию целиком: в хранилище ничего не меняем
		return s.repo.Get(ctx, delegationID)
	}
	d.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, d); err != nil {
		return domain.Delegation{}, err
	}
	return d, nil
}

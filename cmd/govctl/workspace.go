package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xela07ax/delegation-governance/internal/approval"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/conflict"
	"github.com/xela07ax/delegation-governance/internal/continuity"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/engine"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"github.com/xela07ax/delegation-governance/internal/remediation"
	"github.com/xela07ax/delegation-governance/internal/repository/memory"
	"github.com/xela07ax/delegation-governance/internal/risk"
)

// delegationDoc — делегация в YAML-файле набора.
type delegationDoc struct {
	ID          string    `yaml:"id"`
	DelegatorID string    `yaml:"delegator_id"`
	AgentID     string    `yaml:"agent_id"`
	AgentName   string    `yaml:"agent_name"`
	Bureau      string    `yaml:"bureau"`
	Type        string    `yaml:"type"`
	Scope       string    `yaml:"scope"`
	MaxAmount   *float64  `yaml:"max_amount"`
	StartDate   time.Time `yaml:"start_date"`
	EndDate     time.Time `yaml:"end_date"`
	Status      string    `yaml:"status"`
	HasBackup   bool      `yaml:"has_backup"`
	IsCritical  bool      `yaml:"is_critical"`
	UsageCount  int       `yaml:"usage_count"`
	CreatedAt   time.Time `yaml:"created_at"`
}

type successorDoc struct {
	DelegationID string `yaml:"delegation_id"`
	HolderID     string `yaml:"current_holder_id"`
	SuccessorID  string `yaml:"successor_id"`
	Name         string `yaml:"successor_name"`
	Priority     int    `yaml:"priority"`
}

// DelegationSet — содержимое файла, который анализирует govctl.
type DelegationSet struct {
	Delegations []delegationDoc `yaml:"delegations"`
	Successors  []successorDoc  `yaml:"successors"`
}

func (d delegationDoc) toDomain() domain.Delegation {
	status := domain.DelegationStatus(d.Status)
	if status == "" {
		status = domain.DelegationActive
	}
	return domain.Delegation{
		ID:          d.ID,
		DelegatorID: d.DelegatorID,
		AgentID:     d.AgentID,
		AgentName:   d.AgentName,
		Bureau:      d.Bureau,
		Type:        d.Type,
		Scope:       d.Scope,
		MaxAmount:   d.MaxAmount,
		StartDate:   d.StartDate,
		EndDate:     d.EndDate,
		Status:      status,
		HasBackup:   d.HasBackup,
		IsCritical:  d.IsCritical,
		UsageCount:  d.UsageCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.CreatedAt,
	}
}

func loadSet(path string) (DelegationSet, error) {
	var set DelegationSet
	raw, err := os.ReadFile(path)
	if err != nil {
		return set, err
	}
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return set, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, d := range set.Delegations {
		if d.ID == "" || d.AgentID == "" {
			return set, fmt.Errorf("%s: delegation #%d: id and agent_id are required", path, i+1)
		}
	}
	return set, nil
}

// workspace — движки в памяти процесса поверх загруженного набора.
type workspace struct {
	delegations []domain.Delegation
	gov         *engine.GovernanceEngine
	detector    *conflict.Detector
}

func newWorkspace(ctx context.Context, set DelegationSet, rules infra.RuleThresholds, clock infra.Clock, logger *zap.Logger) (*workspace, error) {
	ds := make([]domain.Delegation, 0, len(set.Delegations))
	for _, d := range set.Delegations {
		ds = append(ds, d.toDomain())
	}
	metrics := infra.NewMetrics(nil)
	repo := memory.NewDelegationRepo(ds...)
	timeline := audit.NewTimeline(memory.NewTimelineStore(), clock, logger)

	registry, err := approval.NewRegistry(nil)
	if err != nil {
		return nil, err
	}
	approvals := approval.NewEngine(memory.NewApprovalRepo(), registry, timeline, nil, clock, metrics, logger)
	backups := continuity.NewManager(memory.NewContinuityStore(), timeline, nil, clock, metrics, logger)
	for _, s := range set.Successors {
		if _, err := backups.DesignateSuccessor(ctx, continuity.SuccessorInput{
			DelegationID:    s.DelegationID,
			CurrentHolderID: s.HolderID,
			SuccessorID:     s.SuccessorID,
			SuccessorName:   s.Name,
			Priority:        s.Priority,
		}, domain.SystemActor); err != nil {
			return nil, fmt.Errorf("successor for %s: %w", s.DelegationID, err)
		}
	}

	// Команды исполняются только над копией набора в памяти; файл не меняется
	dispatcher := remediation.NewDispatcher(repo, timeline, remediation.NewLogNotifier(logger), clock, metrics, logger)
	detector := conflict.NewDetector(dispatcher, clock, metrics, logger)
	gov := engine.NewGovernanceEngine(engine.Deps{
		Alerts:    risk.NewEngine(rules, clock, metrics, logger),
		Conflicts: detector,
		Approvals: approvals,
		Backups:   backups,
		Timeline:  timeline,
	}, engine.Options{}, clock, metrics, logger)

	return &workspace{delegations: ds, gov: gov, detector: detector}, nil
}

func (w *workspace) analyzeAll(ctx context.Context) ([]domain.HealthAnalysis, error) {
	out := make([]domain.HealthAnalysis, 0, len(w.delegations))
	for _, d := range w.delegations {
		a, err := w.gov.AnalyzeComprehensive(ctx, d, w.delegations)
		if err != nil {
			return out, fmt.Errorf("analyze %s: %w", d.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

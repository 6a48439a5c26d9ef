package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"github.com/xela07ax/delegation-governance/internal/risk"
	"go.uber.org/zap"
)

// AlertEvaluator — Alert Engine (risk.Engine).
type AlertEvaluator interface {
	Snapshot(ds []domain.Delegation, covered map[string]bool) *risk.EvalContext
	Evaluate(d domain.Delegation, ec *risk.EvalContext) []domain.Alert
}

// ConflictDetector — Conflict Detector (conflict.Detector).
type ConflictDetector interface {
	Detect(ds []domain.Delegation) []domain.Conflict
	Resolve(ctx context.Context, conflictID, resolutionID string) (domain.Conflict, error)
}

// ApprovalSource — шаблоны и открытые запросы (approval.Engine).
type ApprovalSource interface {
	SelectWorkflow(d domain.Delegation) (domain.ApprovalWorkflow, error)
	PendingFor(ctx context.Context, delegationID string) (*domain.ApprovalRequest, error)
}

// BackupSource — покрытие преемниками (continuity.Manager).
type BackupSource interface {
	Coverage(ctx context.Context, ds []domain.Delegation) (map[string]bool, error)
}

// ActivitySource — журнал (audit.Timeline).
type ActivitySource interface {
	RecentActivity(delegationID string, since time.Time) domain.ActivityStats
	RecordEvent(ctx context.Context, e domain.TimelineEvent) (domain.TimelineEvent, error)
}

type Options struct {
	ActivityWindow   time.Duration
	ExpiringSoonDays int
	ReportLowestN    int
}

func OptionsFromConfig(cfg infra.GovernanceConfig) Options {
	return Options{
		ActivityWindow:   cfg.ActivityWindow,
		ExpiringSoonDays: cfg.ExpiringSoonDays,
		ReportLowestN:    cfg.ReportLowestN,
	}
}

func (o Options) withDefaults() Options {
	if o.ActivityWindow <= 0 {
		o.ActivityWindow = 30 * 24 * time.Hour
	}
	if o.ExpiringSoonDays <= 0 {
		o.ExpiringSoonDays = 7
	}
	if o.ReportLowestN <= 0 {
		o.ReportLowestN = 10
	}
	return o
}

// GovernanceEngine складывает сигналы всех движков в оценку здоровья.
// Собственного изменяемого состояния нет: всё держат вложенные менеджеры.
type GovernanceEngine struct {
	alerts    AlertEvaluator
	conflicts ConflictDetector
	approvals ApprovalSource
	backups   BackupSource
	timeline  ActivitySource
	journal   audit.AssessmentLogger

	opts    Options
	clock   infra.Clock
	metrics *infra.Metrics
	logger  *zap.Logger
}

type Deps struct {
	Alerts    AlertEvaluator
	Conflicts ConflictDetector
	Approvals ApprovalSource
	Backups   BackupSource
	Timeline  ActivitySource
	Journal   audit.AssessmentLogger // может быть nil
}

func NewGovernanceEngine(deps Deps, opts Options, clock infra.Clock, metrics *infra.Metrics, logger *zap.Logger) *GovernanceEngine {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &GovernanceEngine{
		alerts:    deps.Alerts,
		conflicts: deps.Conflicts,
		approvals: deps.Approvals,
		backups:   deps.Backups,
		timeline:  deps.Timeline,
		journal:   deps.Journal,
		opts:      opts.withDefaults(),
		clock:     infra.OrSystem(clock),
		metrics:   metrics,
		logger:    infra.OrNop(logger).Named("governance"),
	}
}

// AnalyzeComprehensive — оценка одной делегации на фоне всего набора.
func (g *GovernanceEngine) AnalyzeComprehensive(ctx context.Context, d domain.Delegation, all []domain.Delegation) (domain.HealthAnalysis, error) {
	start := time.Now()

	covered, err := g.backups.Coverage(ctx, []domain.Delegation{d})
	if err != nil {
		return domain.HealthAnalysis{}, fmt.Errorf("governance: backup coverage: %w", err)
	}
	ec := g.alerts.Snapshot(withSubject(all, d), covered)
	conflicts := g.conflicts.Detect(withSubject(all, d))

	a, err := g.analyze(ctx, d, ec, affecting(conflicts, d.ID))
	if err != nil {
		return domain.HealthAnalysis{}, err
	}
	g.logAssessment(a, time.Since(start))
	return a, nil
}

// analyze — общая часть для одиночной оценки и отчёта: контекст и конфликты уже посчитаны.
func (g *GovernanceEngine) analyze(ctx context.Context, d domain.Delegation, ec *risk.EvalContext, conflicts []domain.Conflict) (domain.HealthAnalysis, error) {
	now := ec.Now
	a := domain.HealthAnalysis{
		DelegationID: d.ID,
		Alerts:       g.alerts.Evaluate(d, ec),
		Conflicts:    conflicts,
		HasBackup:    ec.IsCovered(d),
		AnalyzedAt:   now,
	}

	if wf, err := g.approvals.SelectWorkflow(d); err == nil {
		a.WorkflowID = wf.ID
	} else if !errors.Is(err, domain.ErrWorkflowNotApplicable) {
		return domain.HealthAnalysis{}, fmt.Errorf("governance: select workflow: %w", err)
	}
	pending, err := g.approvals.PendingFor(ctx, d.ID)
	if err != nil {
		return domain.HealthAnalysis{}, fmt.Errorf("governance: pending approvals: %w", err)
	}
	a.PendingApproval = pending

	a.RecentActivity = g.timeline.RecentActivity(d.ID, now.Add(-g.opts.ActivityWindow))

	a.HealthScore = HealthScore(a.Alerts, a.Conflicts, needsBackup(d, a.HasBackup))
	a.Status = StatusFor(a.HealthScore)
	a.Recommendations = recommendations(d, a)

	g.metrics.HealthScore.Observe(float64(a.HealthScore))
	return a, nil
}

// ResolveConflict применяет решение и фиксирует его на всех затронутых делегациях.
func (g *GovernanceEngine) ResolveConflict(ctx context.Context, conflictID, resolutionID string, actor domain.Actor) (domain.Conflict, error) {
	c, err := g.conflicts.Resolve(domain.ContextWithActor(ctx, actor), conflictID, resolutionID)
	if err != nil {
		return c, err
	}
	for _, id := range c.DelegationIDs {
		_, err := g.timeline.RecordEvent(ctx, domain.TimelineEvent{
			DelegationID: id,
			Type:         domain.EventConflictResolved,
			Actor:        actor,
			Action:       "Conflict resolved",
			Description:  c.Title,
			Details: map[string]any{
				"conflict_id":   c.ID,
				"conflict_type": string(c.Type),
				"resolution_id": resolutionID,
			},
			Tags: []string{"conflict", string(c.Type)},
		})
		if err != nil {
			g.logger.Error("failed to record conflict resolution",
				zap.String("conflict_id", c.ID),
				zap.String("delegation_id", id),
				zap.Error(err),
			)
		}
	}
	g.logger.Info("conflict resolved",
		zap.String("conflict_id", c.ID),
		zap.String("resolution_id", resolutionID),
		zap.String("actor", actor.ID),
	)
	return c, nil
}

func (g *GovernanceEngine) logAssessment(a domain.HealthAnalysis, took time.Duration) {
	if g.journal == nil {
		return
	}
	g.journal.Log(audit.Assessment{
		ID:           uuid.NewString(),
		Kind:         audit.AssessmentDelegation,
		DelegationID: a.DelegationID,
		HealthScore:  float64(a.HealthScore),
		Status:       string(a.Status),
		Alerts:       len(a.Alerts),
		Conflicts:    len(a.Conflicts),
		Timestamp:    a.AnalyzedAt,
		DurationMs:   took.Milliseconds(),
	})
}

// withSubject гарантирует, что оцениваемая делегация есть в наборе (и в актуальной версии).
func withSubject(all []domain.Delegation, d domain.Delegation) []domain.Delegation {
	out := make([]domain.Delegation, 0, len(all)+1)
	found := false
	for _, x := range all {
		if x.ID == d.ID {
			x = d
			found = true
		}
		out = append(out, x)
	}
	if !found {
		out = append(out, d)
	}
	return out
}

func affecting(cs []domain.Conflict, delegationID string) []domain.Conflict {
	out := make([]domain.Conflict, 0)
	for _, c := range cs {
		if !c.Resolved && c.Affects(delegationID) {
			out = append(out, c)
		}
	}
	return out
}

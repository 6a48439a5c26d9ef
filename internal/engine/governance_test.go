package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xela07ax/delegation-governance/internal/approval"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/conflict"
	"github.com/xela07ax/delegation-governance/internal/continuity"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"github.com/xela07ax/delegation-governance/internal/remediation"
	"github.com/xela07ax/delegation-governance/internal/repository/memory"
	"github.com/xela07ax/delegation-governance/internal/risk"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stack struct {
	gov        *GovernanceEngine
	approvals  *approval.Engine
	continuity *continuity.Manager
	timeline   *audit.Timeline
	repo       *memory.DelegationRepo
	journal    *memory.AssessmentLog
}

func newStack(t *testing.T, approvalsOverride ApprovalSource, ds ...domain.Delegation) stack {
	t.Helper()
	clock := infra.ClockFunc(func() time.Time { return testNow })
	metrics := infra.NewMetrics(prometheus.NewRegistry())
	log := zap.NewNop()

	repo := memory.NewDelegationRepo(ds...)
	tl := audit.NewTimeline(memory.NewTimelineStore(), clock, log)
	disp := remediation.NewDispatcher(repo, tl, nil, clock, metrics, log)

	reg, err := approval.NewRegistry(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	appr := approval.NewEngine(memory.NewApprovalRepo(), reg, tl, nil, clock, metrics, log)
	cont := continuity.NewManager(memory.NewContinuityStore(), tl, nil, clock, metrics, log)

	var approvals ApprovalSource = appr
	if approvalsOverride != nil {
		approvals = approvalsOverride
	}
	journal := memory.NewAssessmentLog()
	gov := NewGovernanceEngine(Deps{
		Alerts:    risk.NewEngine(infra.DefaultRuleThresholds(), clock, metrics, log),
		Conflicts: conflict.NewDetector(disp, clock, metrics, log),
		Approvals: approvals,
		Backups:   cont,
		Timeline:  tl,
		Journal:   syncJournal{journal},
	}, Options{}, clock, metrics, log)

	return stack{gov: gov, approvals: appr, continuity: cont, timeline: tl, repo: repo, journal: journal}
}

// syncJournal пишет оценки сразу, без фонового воркера.
type syncJournal struct{ sink *memory.AssessmentLog }

func (j syncJournal) Log(a audit.Assessment) {
	_ = j.sink.WriteBatch(context.Background(), []audit.Assessment{a})
}

func delegation(id, agent string) domain.Delegation {
	return domain.Delegation{
		ID:          id,
		DelegatorID: "boss",
		AgentID:     agent,
		Bureau:      "BF",
		Type:        "signature",
		MaxAmount:   domain.Float(20000),
		StartDate:   testNow.AddDate(0, -1, 0),
		EndDate:     testNow.AddDate(0, 6, 0),
		Status:      domain.DelegationActive,
		HasBackup:   true,
		UsageCount:  10,
		CreatedAt:   testNow.AddDate(0, 0, -1),
	}
}

func exampleD1() domain.Delegation {
	d1 := delegation("D1", "A")
	d1.EndDate = testNow.AddDate(0, 0, 3)
	d1.IsCritical = true
	d1.HasBackup = false
	return d1
}

func TestAnalyzeExampleScenario(t *testing.T) {
	d1 := exampleD1()
	s := newStack(t, nil, d1)

	a, err := s.gov.AnalyzeComprehensive(context.Background(), d1, []domain.Delegation{d1})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.HealthScore != 65 || a.Status != domain.HealthWarning {
		t.Fatalf("expected 65/warning, got %d/%s", a.HealthScore, a.Status)
	}
	if len(a.Alerts) != 2 || len(a.Conflicts) != 0 || a.HasBackup {
		t.Fatalf("unexpected analysis %+v", a)
	}
	if a.WorkflowID != approval.WorkflowStandard {
		t.Fatalf("workflow %q", a.WorkflowID)
	}
	if len(a.Recommendations) == 0 || a.Recommendations[0].Priority != domain.SeverityHigh {
		t.Fatalf("recommendations must start with high priority: %+v", a.Recommendations)
	}
	designates := 0
	for _, r := range a.Recommendations {
		if r.Command != nil && r.Command.Kind == domain.CommandDesignateSuccessor {
			designates++
		}
	}
	if designates != 1 {
		t.Fatalf("expected a single designate-successor recommendation, got %d", designates)
	}
	if items := s.journal.Items(); len(items) != 1 || items[0].HealthScore != 65 {
		t.Fatalf("assessment not journaled: %+v", items)
	}
}

func TestSuccessorRestoresScore(t *testing.T) {
	d1 := exampleD1()
	s := newStack(t, nil, d1)
	ctx := context.Background()
	if _, err := s.continuity.DesignateSuccessor(ctx, continuity.SuccessorInput{
		DelegationID: "D1", CurrentHolderID: "A", SuccessorID: "B",
	}, domain.Actor{ID: "hr"}); err != nil {
		t.Fatalf("designate: %v", err)
	}

	a, err := s.gov.AnalyzeComprehensive(ctx, d1, []domain.Delegation{d1})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	// остаётся только high-алерт истечения
	if a.HealthScore != 90 || !a.HasBackup || a.Status != domain.HealthHealthy {
		t.Fatalf("expected 90/healthy with backup, got %d/%s", a.HealthScore, a.Status)
	}
}

func TestPendingApprovalRecommended(t *testing.T) {
	d := delegation("D7", "G")
	s := newStack(t, nil, d)
	ctx := context.Background()
	req, err := s.approvals.CreateRequest(ctx, d, "boss")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := s.gov.AnalyzeComprehensive(ctx, d, []domain.Delegation{d})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.PendingApproval == nil || a.PendingApproval.ID != req.ID {
		t.Fatalf("pending approval missing: %+v", a.PendingApproval)
	}
	found := false
	for _, r := range a.Recommendations {
		found = found || (r.Source == domain.SourceApproval && r.SourceID == req.ID)
	}
	if !found {
		t.Fatal("pending approval must be recommended")
	}
	if a.RecentActivity.ByType[domain.EventApprovalRequested] != 1 {
		t.Fatalf("recent activity %+v", a.RecentActivity)
	}
}

func TestScoreMonotonicity(t *testing.T) {
	d1 := exampleD1()
	base := newStack(t, nil, d1)
	a, _ := base.gov.AnalyzeComprehensive(context.Background(), d1, []domain.Delegation{d1})

	// второй экземпляр того же агента: duplicate-алерт и duplicate-конфликт
	dup := delegation("D2", "A")
	all := []domain.Delegation{d1, dup}
	worse := newStack(t, nil, all...)
	b, err := worse.gov.AnalyzeComprehensive(context.Background(), d1, all)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(b.Conflicts) == 0 {
		t.Fatal("expected a duplicate conflict")
	}
	if b.HealthScore >= a.HealthScore {
		t.Fatalf("more signals must not raise the score: %d -> %d", a.HealthScore, b.HealthScore)
	}

	alerts := []domain.Alert{}
	prev := HealthScore(alerts, nil, false)
	for _, sev := range []domain.Severity{domain.SeverityInfo, domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		alerts = append(alerts, domain.Alert{Severity: sev})
		next := HealthScore(alerts, nil, false)
		if next > prev {
			t.Fatalf("adding a %s alert raised the score %d -> %d", sev, prev, next)
		}
		prev = next
	}
}

func TestScoreClampAndStatus(t *testing.T) {
	var alerts []domain.Alert
	for i := 0; i < 10; i++ {
		alerts = append(alerts, domain.Alert{Severity: domain.SeverityCritical})
	}
	conflicts := []domain.Conflict{{Severity: domain.SeverityCritical}}
	if got := HealthScore(alerts, conflicts, true); got != 0 {
		t.Fatalf("score must be floored at 0, got %d", got)
	}

	cases := []struct {
		score int
		want  domain.HealthStatus
	}{
		{100, domain.HealthHealthy},
		{80, domain.HealthHealthy},
		{79, domain.HealthWarning},
		{50, domain.HealthWarning},
		{49, domain.HealthCritical},
		{0, domain.HealthCritical},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.score); got != tc.want {
			t.Fatalf("StatusFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestSystemHealthReport(t *testing.T) {
	d1 := exampleD1()
	healthy := delegation("D3", "C")
	healthy.Bureau = "RH"
	revoked := delegation("D4", "D")
	revoked.Status = domain.DelegationRevoked
	all := []domain.Delegation{d1, healthy, revoked}
	s := newStack(t, nil, all...)

	r, err := s.gov.GenerateSystemHealthReport(context.Background(), all)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if r.TotalDelegations != 3 || r.ActiveDelegations != 2 || r.Analyzed != 2 || r.Partial {
		t.Fatalf("unexpected totals %+v", r)
	}
	if r.AverageScore != 82.5 {
		t.Fatalf("average = %v", r.AverageScore)
	}
	if len(r.WithoutBackup) != 1 || r.WithoutBackup[0] != "D1" {
		t.Fatalf("without backup %v", r.WithoutBackup)
	}
	if len(r.ExpiringSoon) != 1 || r.ExpiringSoon[0] != "D1" {
		t.Fatalf("expiring soon %v", r.ExpiringSoon)
	}
	if r.LowestScores[0].DelegationID != "D1" || r.AlertsBySeverity[domain.SeverityHigh] != 2 {
		t.Fatalf("unexpected ranking %+v / %v", r.LowestScores, r.AlertsBySeverity)
	}
	if r.StatusDistribution[domain.HealthHealthy] != 1 || r.StatusDistribution[domain.HealthWarning] != 1 {
		t.Fatalf("distribution %v", r.StatusDistribution)
	}
}

// cancellingApprovals отменяет контекст после первой оценки.
type cancellingApprovals struct {
	cancel context.CancelFunc
}

func (c cancellingApprovals) SelectWorkflow(domain.Delegation) (domain.ApprovalWorkflow, error) {
	return domain.ApprovalWorkflow{}, domain.ErrWorkflowNotApplicable
}

func (c cancellingApprovals) PendingFor(context.Context, string) (*domain.ApprovalRequest, error) {
	c.cancel()
	return nil, nil
}

func TestSystemHealthReportPartialOnCancel(t *testing.T) {
	all := []domain.Delegation{delegation("D1", "A"), delegation("D2", "B"), delegation("D3", "C")}
	all[1].Bureau, all[2].Bureau = "X", "Y"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStack(t, cancellingApprovals{cancel: cancel}, all...)

	r, err := s.gov.GenerateSystemHealthReport(ctx, all)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !r.Partial || r.Analyzed != 1 {
		t.Fatalf("expected a partial report with one delegation, got %+v", r)
	}
}

func TestResolveConflictRecordsEvents(t *testing.T) {
	parent := delegation("P", "boss")
	parent.DelegatorID = "ceo"
	parent.MaxAmount = domain.Float(10000)
	child := delegation("C", "agent")
	child.MaxAmount = domain.Float(50000)
	all := []domain.Delegation{parent, child}
	s := newStack(t, nil, all...)
	ctx := context.Background()

	a, err := s.gov.AnalyzeComprehensive(ctx, child, all)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var amount *domain.Conflict
	for i := range a.Conflicts {
		if a.Conflicts[i].Type == domain.ConflictAmount {
			amount = &a.Conflicts[i]
		}
	}
	if amount == nil {
		t.Fatalf("expected an amount conflict, got %+v", a.Conflicts)
	}

	resolved, err := s.gov.ResolveConflict(ctx, amount.ID, amount.Resolutions[0].ID, domain.Actor{ID: "auditor"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Resolved {
		t.Fatal("conflict must be resolved")
	}
	got, _ := s.repo.Get(ctx, "C")
	if got.Amount() != 10000 {
		t.Fatalf("cap = %v, want 10000", got.Amount())
	}
	ev := s.timeline.Events("C", audit.Filter{Types: []domain.EventType{domain.EventConflictResolved}})
	if len(ev) != 1 || ev[0].Actor.ID != "auditor" {
		t.Fatalf("conflict_resolved event missing: %+v", ev)
	}
}

package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"github.com/xela07ax/delegation-governance/internal/repository/memory"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine   *Engine
	clock    *manualClock
	timeline *audit.Timeline
	metrics  *infra.Metrics
}

func newFixture(t *testing.T, workflows ...domain.ApprovalWorkflow) fixture {
	t.Helper()
	reg, err := NewRegistry(workflows)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	clock := &manualClock{now: t0}
	metrics := infra.NewMetrics(prometheus.NewRegistry())
	tl := audit.NewTimeline(nil, clock, zap.NewNop())
	e := NewEngine(memory.NewApprovalRepo(), reg, tl, nil, clock, metrics, zap.NewNop())
	return fixture{engine: e, clock: clock, timeline: tl, metrics: metrics}
}

func capped(id string, amount float64) domain.Delegation {
	return domain.Delegation{
		ID: id, AgentID: "agent", Bureau: "BF", Type: "signature",
		MaxAmount: domain.Float(amount), Status: domain.DelegationActive,
	}
}

func person(id, role string) domain.Actor {
	return domain.Actor{ID: id, Role: role}
}

func TestSelectWorkflow(t *testing.T) {
	f := newFixture(t)
	urgent := capped("D1", 5000)
	urgent.Type = "urgent"
	uncapped := capped("D5", 0)
	uncapped.MaxAmount = nil

	cases := []struct {
		d    domain.Delegation
		want string
	}{
		{urgent, WorkflowExpress},
		{capped("D2", 5000), WorkflowStandard},
		{capped("D3", 50000), WorkflowStandard},
		{capped("D4", 50001), WorkflowEnhanced},
		{uncapped, WorkflowEnhanced},
	}
	for _, tc := range cases {
		wf, err := f.engine.SelectWorkflow(tc.d)
		if err != nil {
			t.Fatalf("%s: %v", tc.d.ID, err)
		}
		if wf.ID != tc.want {
			t.Fatalf("%s: workflow %s, want %s", tc.d.ID, wf.ID, tc.want)
		}
	}
}

func TestNoApplicableWorkflow(t *testing.T) {
	only := domain.ApprovalWorkflow{
		ID:            "bf-only",
		Levels:        []domain.ApprovalLevel{{Level: 1, RequiredApprovals: 1}},
		Applicability: domain.Applicability{Bureaus: []string{"BF"}},
	}
	f := newFixture(t, only)
	d := capped("D1", 100)
	d.Bureau = "RH"
	if _, err := f.engine.CreateRequest(context.Background(), d, "req"); !errors.Is(err, domain.ErrWorkflowNotApplicable) {
		t.Fatalf("expected ErrWorkflowNotApplicable, got %v", err)
	}
}

func TestSequentialApprovalOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.CreateRequest(ctx, capped("D1", 100000), "requester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.WorkflowID != WorkflowEnhanced || req.CurrentLevel != 1 || req.Version != 1 {
		t.Fatalf("unexpected request %+v", req)
	}

	chain := []domain.Actor{
		person("chief", "bureau_chief"),
		person("director", "director"),
		person("dg", "director_general"),
	}
	for i, approver := range chain {
		req, err = f.engine.Approve(ctx, req.ID, approver, "ok")
		if err != nil {
			t.Fatalf("approve %d: %v", i+1, err)
		}
		if i < 2 {
			if req.Status != domain.StatusPending || req.CurrentLevel != i+2 {
				t.Fatalf("after level %d: status %s level %d", i+1, req.Status, req.CurrentLevel)
			}
		}
	}
	if req.Status != domain.StatusApproved || req.CompletedAt == nil {
		t.Fatalf("expected approved with completion time, got %+v", req)
	}
	if len(req.Approvals) != 3 || req.Approvals[0].Level != 1 || req.Approvals[2].Level != 3 {
		t.Fatalf("approvals out of order: %+v", req.Approvals)
	}

	if _, err := f.engine.Approve(ctx, req.ID, person("late", ""), ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("approved request must reject transitions, got %v", err)
	}

	events := f.timeline.Events("D1", audit.Filter{Types: []domain.EventType{domain.EventApproved}})
	if len(events) != 3 {
		t.Fatalf("expected 3 approved events, got %d", len(events))
	}
}

func TestDuplicateApprovalAtSameLevel(t *testing.T) {
	wf := domain.ApprovalWorkflow{
		ID:     "two-of-three",
		Levels: []domain.ApprovalLevel{{Level: 1, ApproverIDs: []string{"a", "b", "c"}, RequiredApprovals: 2}},
	}
	f := newFixture(t, wf)
	ctx := context.Background()
	req, err := f.engine.CreateRequest(ctx, capped("D1", 100), "r")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Approve(ctx, req.ID, person("a", ""), ""); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	if _, err := f.engine.Approve(ctx, req.ID, person("a", ""), ""); !errors.Is(err, domain.ErrDuplicateApproval) {
		t.Fatalf("expected ErrDuplicateApproval, got %v", err)
	}
	if _, err := f.engine.Approve(ctx, req.ID, person("mallory", ""), ""); !errors.Is(err, domain.ErrUnauthorizedApprover) {
		t.Fatalf("expected ErrUnauthorizedApprover, got %v", err)
	}
	req, err = f.engine.Approve(ctx, req.ID, person("b", ""), "")
	if err != nil {
		t.Fatalf("approve b: %v", err)
	}
	if req.Status != domain.StatusApproved {
		t.Fatalf("two approvals must complete the request, got %s", req.Status)
	}
}

func TestRejectionIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.engine.CreateRequest(ctx, capped("D1", 20000), "r")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Approve(ctx, req.ID, person("chief", "bureau_chief"), ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	req, err = f.engine.Reject(ctx, req.ID, person("director", "director"), "no budget")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if req.Status != domain.StatusRejected || req.CompletedAt == nil {
		t.Fatalf("unexpected %+v", req)
	}

	for name, op := range map[string]func() error{
		"approve":  func() error { _, err := f.engine.Approve(ctx, req.ID, person("x", ""), ""); return err },
		"reject":   func() error { _, err := f.engine.Reject(ctx, req.ID, person("x", ""), ""); return err },
		"delegate": func() error { _, err := f.engine.Delegate(ctx, req.ID, person("x", ""), "y", ""); return err },
		"cancel":   func() error { _, err := f.engine.Cancel(ctx, req.ID, person("x", "")); return err },
	} {
		if err := op(); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s after rejection: expected ErrInvalidTransition, got %v", name, err)
		}
	}
	pending, _ := f.engine.ListPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("rejected request still listed as pending")
	}
}

func TestDelegateAddsApproverForRequestOnly(t *testing.T) {
	wf := domain.ApprovalWorkflow{
		ID: "named",
		Levels: []domain.ApprovalLevel{
			{Level: 1, ApproverIDs: []string{"chief"}, RequiredApprovals: 1, DelegationAllowed: true},
			{Level: 2, ApproverIDs: []string{"director"}, RequiredApprovals: 1},
		},
	}
	f := newFixture(t, wf)
	ctx := context.Background()

	req, _ := f.engine.CreateRequest(ctx, capped("D1", 100), "r")
	other, _ := f.engine.CreateRequest(ctx, capped("D2", 100), "r")

	req, err := f.engine.Delegate(ctx, req.ID, person("chief", ""), "deputy", "on leave")
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("delegation must keep the request pending, got %s", req.Status)
	}
	req, err = f.engine.Approve(ctx, req.ID, person("deputy", ""), "")
	if err != nil {
		t.Fatalf("deputy approve: %v", err)
	}
	if req.CurrentLevel != 2 {
		t.Fatalf("expected level 2, got %d", req.CurrentLevel)
	}
	if _, err := f.engine.Approve(ctx, other.ID, person("deputy", ""), ""); !errors.Is(err, domain.ErrUnauthorizedApprover) {
		t.Fatalf("deputy must not be eligible on other requests, got %v", err)
	}
	if _, err := f.engine.Delegate(ctx, req.ID, person("director", ""), "someone", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("level 2 forbids delegation, got %v", err)
	}
}

func TestParallelWorkflow(t *testing.T) {
	wf := domain.ApprovalWorkflow{
		ID:       "parallel",
		Parallel: true,
		Levels: []domain.ApprovalLevel{
			{Level: 1, ApproverIDs: []string{"a"}, RequiredApprovals: 1},
			{Level: 2, ApproverIDs: []string{"b"}, RequiredApprovals: 1},
		},
	}
	f := newFixture(t, wf)
	ctx := context.Background()
	req, _ := f.engine.CreateRequest(ctx, capped("D1", 100), "r")

	req, err := f.engine.Approve(ctx, req.ID, person("b", ""), "")
	if err != nil {
		t.Fatalf("approve b: %v", err)
	}
	if req.Status != domain.StatusPending || req.CurrentLevel != 1 {
		t.Fatalf("level 1 is still open: %+v", req)
	}
	req, err = f.engine.Approve(ctx, req.ID, person("a", ""), "")
	if err != nil {
		t.Fatalf("approve a: %v", err)
	}
	if req.Status != domain.StatusApproved {
		t.Fatalf("all levels satisfied, got %s", req.Status)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.engine.CreateRequest(ctx, capped("D1", 100), "r")
	req, err := f.engine.Cancel(ctx, req.ID, person("r", ""))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if req.Status != domain.StatusCancelled {
		t.Fatalf("status %s", req.Status)
	}
	if p, _ := f.engine.PendingFor(ctx, "D1"); p != nil {
		t.Fatal("cancelled request must not be pending")
	}
}

func TestEscalationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.engine.CreateRequest(ctx, capped("D1", 20000), "r")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := f.engine.CheckTimeouts(ctx)
	if err != nil || len(res.Escalated) != 0 {
		t.Fatalf("nothing is due yet: %+v %v", res, err)
	}

	f.clock.Advance(49 * time.Hour)
	res, err = f.engine.CheckTimeouts(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Escalated) != 1 || res.Escalated[0] != req.ID {
		t.Fatalf("expected escalation of %s, got %+v", req.ID, res)
	}

	res, err = f.engine.CheckTimeouts(ctx)
	if err != nil || len(res.Escalated) != 0 {
		t.Fatalf("second sweep must be a no-op: %+v %v", res, err)
	}

	got, _ := f.engine.Get(ctx, req.ID)
	if got.CurrentLevel != 2 || got.Status != domain.StatusPending {
		t.Fatalf("unexpected state %+v", got)
	}
	if len(got.Approvals) != 1 || got.Approvals[0].Status != domain.DecisionEscalated || got.Approvals[0].ApproverID != domain.SystemActor.ID {
		t.Fatalf("expected one escalated entry, got %+v", got.Approvals)
	}
	if got.ApprovedCount(1) != 0 {
		t.Fatal("escalation must not count as approval")
	}
	if n := testutil.ToFloat64(f.metrics.Escalations.WithLabelValues(WorkflowStandard, "escalated")); n != 1 {
		t.Fatalf("escalation metric = %v", n)
	}
	if ev := f.timeline.Events("D1", audit.Filter{Types: []domain.EventType{domain.EventEscalated}}); len(ev) != 1 {
		t.Fatalf("expected one escalated event, got %d", len(ev))
	}

	// уровень 2 стандартного шаблона без auto-escalate
	f.clock.Advance(100 * time.Hour)
	res, _ = f.engine.CheckTimeouts(ctx)
	if len(res.Escalated) != 0 || len(res.Exhausted) != 0 {
		t.Fatalf("level without auto-escalate must be left alone: %+v", res)
	}
}

func TestEscalationExhaustedAtLastLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := capped("D1", 5000)
	d.Type = "urgent"
	req, _ := f.engine.CreateRequest(ctx, d, "r")

	f.clock.Advance(13 * time.Hour)
	res, err := f.engine.CheckTimeouts(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Exhausted) != 1 || len(res.Escalated) != 0 {
		t.Fatalf("expected exhausted, got %+v", res)
	}
	got, _ := f.engine.Get(ctx, req.ID)
	if got.Status != domain.StatusPending || got.CurrentLevel != 1 {
		t.Fatalf("request must stay pending at level 1, got %+v", got)
	}
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestSweepSkippedWhenLockHeld(t *testing.T) {
	reg, _ := NewRegistry(nil)
	e := NewEngine(memory.NewApprovalRepo(), reg, nil, busyLocker{}, nil, nil, nil)
	res, err := e.CheckTimeouts(context.Background())
	if err != nil || !res.Skipped {
		t.Fatalf("expected skipped sweep, got %+v %v", res, err)
	}
}

func TestRegistryRejectsInvalidWorkflows(t *testing.T) {
	bad := []domain.ApprovalWorkflow{
		{ID: "", Levels: []domain.ApprovalLevel{{Level: 1}}},
		{ID: "empty"},
		{ID: "zero", Levels: []domain.ApprovalLevel{{Level: 0}}},
		{ID: "dup", Levels: []domain.ApprovalLevel{{Level: 1}, {Level: 1}}},
	}
	for _, w := range bad {
		if _, err := NewRegistry([]domain.ApprovalWorkflow{w}); err == nil {
			t.Fatalf("workflow %q must be rejected", w.ID)
		}
	}
}

func TestSeparationOfDuties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requester := person("requester", "bureau_chief")

	req, err := f.engine.CreateRequest(ctx, capped("D1", 90000), requester.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.WorkflowID != WorkflowEnhanced {
		t.Fatalf("expected enhanced workflow, got %s", req.WorkflowID)
	}

	if _, err := f.engine.Approve(ctx, req.ID, requester, ""); !errors.Is(err, domain.ErrSelfApproval) {
		t.Fatalf("requester approve: expected ErrSelfApproval, got %v", err)
	}
	if _, err := f.engine.Reject(ctx, req.ID, requester, ""); !errors.Is(err, domain.ErrSelfApproval) {
		t.Fatalf("requester reject: expected ErrSelfApproval, got %v", err)
	}
	if _, err := f.engine.Delegate(ctx, req.ID, person("chief", "bureau_chief"), requester.ID, ""); !errors.Is(err, domain.ErrSelfApproval) {
		t.Fatalf("delegate to requester: expected ErrSelfApproval, got %v", err)
	}
	if _, err := f.engine.Approve(ctx, req.ID, person("clerk", "operator"), ""); !errors.Is(err, domain.ErrUnauthorizedApprover) {
		t.Fatalf("wrong role: expected ErrUnauthorizedApprover, got %v", err)
	}
	if _, err := f.engine.Approve(ctx, req.ID, person("director", "director"), ""); !errors.Is(err, domain.ErrUnauthorizedApprover) {
		t.Fatalf("level 2 role at level 1: expected ErrUnauthorizedApprover, got %v", err)
	}

	req, err = f.engine.Approve(ctx, req.ID, person("chief", "bureau_chief"), "")
	if err != nil || req.CurrentLevel != 2 {
		t.Fatalf("chief approve: level %d, %v", req.CurrentLevel, err)
	}
	// та же подпись с другой ролью не закрывает второй уровень
	if _, err := f.engine.Approve(ctx, req.ID, person("chief", "director"), ""); !errors.Is(err, domain.ErrDuplicateApproval) {
		t.Fatalf("second level by the same approver: expected ErrDuplicateApproval, got %v", err)
	}

	req, err = f.engine.Approve(ctx, req.ID, person("director", "director"), "")
	if err != nil {
		t.Fatalf("director approve: %v", err)
	}
	req, err = f.engine.Approve(ctx, req.ID, person("dg", "director_general"), "")
	if err != nil {
		t.Fatalf("dg approve: %v", err)
	}
	if req.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", req.Status)
	}
	signers := make(map[string]bool)
	for _, a := range req.Approvals {
		signers[a.ApproverID] = true
	}
	if len(req.Approvals) != 3 || len(signers) != 3 {
		t.Fatalf("expected three distinct signatures, got %+v", req.Approvals)
	}
}

func TestConcurrentApprovalsOneDecisionPerLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.engine.CreateRequest(ctx, capped("D1", 90000), "requester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const perLevel = 10
	var ok atomic.Int32
	for _, role := range []string{"bureau_chief", "director", "director_general"} {
		var wg sync.WaitGroup
		errs := make(chan error, perLevel)
		for i := 0; i < perLevel; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.engine.Approve(ctx, req.ID, person(fmt.Sprintf("%s-%d", role, i), role), "")
				if err == nil {
					ok.Add(1)
					return
				}
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if !errors.Is(err, domain.ErrUnauthorizedApprover) && !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("%s: unexpected error %v", role, err)
			}
		}
	}

	got, _ := f.engine.Get(ctx, req.ID)
	if ok.Load() != 3 || got.Status != domain.StatusApproved || len(got.Approvals) != 3 {
		t.Fatalf("ok=%d status=%s approvals=%d", ok.Load(), got.Status, len(got.Approvals))
	}
	for i, a := range got.Approvals {
		if a.Level != i+1 {
			t.Fatalf("approval %d recorded at level %d", i, a.Level)
		}
	}
	// 1 создание + 3 успешных перехода
	if got.Version != 4 {
		t.Fatalf("expected version 4, got %d", got.Version)
	}
}

func TestTimeoutSweepRacesApprove(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()
		req, err := f.engine.CreateRequest(ctx, capped("D1", 20000), "requester")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		f.clock.Advance(49 * time.Hour)

		var wg sync.WaitGroup
		var approveErr, sweepErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = f.engine.Approve(ctx, req.ID, person("chief", "bureau_chief"), "")
		}()
		go func() {
			defer wg.Done()
			_, sweepErr = f.engine.CheckTimeouts(ctx)
		}()
		wg.Wait()

		if sweepErr != nil {
			t.Fatalf("sweep: %v", sweepErr)
		}
		got, _ := f.engine.Get(ctx, req.ID)
		if got.CurrentLevel != 2 || got.Status != domain.StatusPending {
			t.Fatalf("expected pending at level 2, got %s/%d", got.Status, got.CurrentLevel)
		}
		// уровень 1 закрыт ровно одной записью: либо одобрением, либо эскалацией
		if len(got.Approvals) != 1 {
			t.Fatalf("expected a single level-1 entry, got %+v", got.Approvals)
		}
		switch got.Approvals[0].Status {
		case domain.DecisionApproved:
			if approveErr != nil {
				t.Fatalf("approval recorded but call failed: %v", approveErr)
			}
		case domain.DecisionEscalated:
			if !errors.Is(approveErr, domain.ErrUnauthorizedApprover) {
				t.Fatalf("approve after escalation: expected ErrUnauthorizedApprover, got %v", approveErr)
			}
		default:
			t.Fatalf("unexpected entry %+v", got.Approvals[0])
		}
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xela07ax/delegation-governance/internal/approval"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/conflict"
	"github.com/xela07ax/delegation-governance/internal/console/handler"
	"github.com/xela07ax/delegation-governance/internal/console/service"
	"github.com/xela07ax/delegation-governance/internal/continuity"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/engine"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
	"github.com/xela07ax/delegation-governance/internal/remediation"
	"github.com/xela07ax/delegation-governance/internal/repository/memory"
	"github.com/xela07ax/delegation-governance/internal/risk"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// readOnly — валидатор с единственным scope чтения.
type readOnly struct{}

func (readOnly) VerifyToken(string) (*domain.ActorClaims, error) {
	return &domain.ActorClaims{ActorID: "viewer", Scopes: map[string]bool{auth.ScopeRead: true}}, nil
}

func newHandlers(t *testing.T) Handlers {
	t.Helper()
	clock := infra.ClockFunc(func() time.Time { return testNow })
	metrics := infra.NewMetrics(prometheus.NewRegistry())
	log := zap.NewNop()

	repo := memory.NewDelegationRepo()
	tl := audit.NewTimeline(memory.NewTimelineStore(), clock, log)
	disp := remediation.NewDispatcher(repo, tl, nil, clock, metrics, log)
	reg, err := approval.NewRegistry(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	appr := approval.NewEngine(memory.NewApprovalRepo(), reg, tl, nil, clock, metrics, log)
	cont := continuity.NewManager(memory.NewContinuityStore(), tl, nil, clock, metrics, log)
	detector := conflict.NewDetector(disp, clock, metrics, log)

	gov := engine.NewGovernanceEngine(engine.Deps{
		Alerts:    risk.NewEngine(infra.DefaultRuleThresholds(), clock, metrics, log),
		Conflicts: detector,
		Approvals: appr,
		Backups:   cont,
		Timeline:  tl,
	}, engine.Options{}, clock, metrics, log)
	svc := service.NewGovernanceService(repo, gov, detector, tl, disp, clock, log)

	return Handlers{
		Delegations: handler.NewDelegationHandler(svc),
		Approvals:   handler.NewApprovalHandler(appr, svc, reg),
		Audit:       handler.NewAuditHandler(tl),
		Continuity:  handler.NewContinuityHandler(cont, svc),
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return rec.Code
}

func criticalDelegation() domain.Delegation {
	return domain.Delegation{
		ID:          "D1",
		DelegatorID: "boss",
		AgentID:     "A",
		Bureau:      "BF",
		Type:        "signature",
		MaxAmount:   domain.Float(20000),
		StartDate:   testNow.AddDate(0, -1, 0),
		EndDate:     testNow.AddDate(0, 0, 3),
		IsCritical:  true,
		UsageCount:  10,
	}
}

func TestDelegationLifecycleOverHTTP(t *testing.T) {
	h := newHandlers(t)
	srv := NewConsoleServer(zap.NewNop(), auth.AllowAll{Actor: domain.Actor{ID: "chief", Role: "bureau_chief"}}, h)

	var created domain.Delegation
	if code := do(t, srv, http.MethodPost, "/v1/delegations", criticalDelegation(), &created); code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	if created.Status != domain.DelegationActive || !created.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected created delegation %+v", created)
	}
	if code := do(t, srv, http.MethodPost, "/v1/delegations", criticalDelegation(), nil); code != http.StatusConflict {
		t.Fatalf("duplicate create: %d", code)
	}

	var health domain.HealthAnalysis
	if code := do(t, srv, http.MethodGet, "/v1/delegations/D1/health", nil, &health); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if health.HealthScore != 65 || health.Status != domain.HealthWarning {
		t.Fatalf("expected 65/warning, got %d/%s", health.HealthScore, health.Status)
	}

	var uncovered []domain.Delegation
	do(t, srv, http.MethodGet, "/v1/continuity/uncovered", nil, &uncovered)
	if len(uncovered) != 1 || uncovered[0].ID != "D1" {
		t.Fatalf("uncovered = %+v", uncovered)
	}

	succ := continuity.SuccessorInput{CurrentHolderID: "A", SuccessorID: "B"}
	if code := do(t, srv, http.MethodPost, "/v1/delegations/D1/successors", succ, nil); code != http.StatusCreated {
		t.Fatalf("designate successor: %d", code)
	}
	do(t, srv, http.MethodGet, "/v1/delegations/D1/health", nil, &health)
	if health.HealthScore != 90 || health.Status != domain.HealthHealthy {
		t.Fatalf("expected 90/healthy after successor, got %d/%s", health.HealthScore, health.Status)
	}

	var events []domain.TimelineEvent
	do(t, srv, http.MethodGet, "/v1/delegations/D1/events?type=created", nil, &events)
	if len(events) != 1 || events[0].Actor.ID != "chief" {
		t.Fatalf("created event = %+v", events)
	}

	suspend := domain.Command{Kind: domain.CommandSuspend, DelegationIDs: []string{"D1"}}
	if code := do(t, srv, http.MethodPost, "/v1/commands", suspend, nil); code != http.StatusNoContent {
		t.Fatalf("suspend command: %d", code)
	}
	do(t, srv, http.MethodGet, "/v1/delegations/D1/events?type=suspended", nil, &events)
	if len(events) != 1 || events[0].Actor.ID != "chief" {
		t.Fatalf("suspension must be attributed to the operator, got %+v", events)
	}
	var trail audit.Trail
	do(t, srv, http.MethodGet, "/v1/delegations/D1/trail", nil, &trail)
	for _, a := range trail.Summary.Actors {
		if a == domain.SystemActor.ID {
			t.Fatalf("operator actions attributed to %s: %v", a, trail.Summary.Actors)
		}
	}
}

func TestApprovalOverHTTP(t *testing.T) {
	h := newHandlers(t)
	srv := NewConsoleServer(zap.NewNop(), auth.AllowAll{Actor: domain.Actor{ID: "clerk", Role: "operator"}}, h)
	chief := NewConsoleServer(zap.NewNop(), auth.AllowAll{Actor: domain.Actor{ID: "chief", Role: "bureau_chief"}}, h)
	do(t, srv, http.MethodPost, "/v1/delegations", criticalDelegation(), nil)

	var req domain.ApprovalRequest
	if code := do(t, srv, http.MethodPost, "/v1/approvals", map[string]string{"delegation_id": "D1"}, &req); code != http.StatusCreated {
		t.Fatalf("create approval: %d", code)
	}
	if req.WorkflowID != approval.WorkflowStandard || req.CurrentLevel != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	if code := do(t, srv, http.MethodPost, "/v1/approvals", map[string]string{"delegation_id": "nope"}, nil); code != http.StatusNotFound {
		t.Fatalf("approval for unknown delegation: %d", code)
	}

	var decided domain.ApprovalRequest
	path := "/v1/approvals/" + req.ID + "/decide"
	if code := do(t, srv, http.MethodPost, path, handler.DecideRequest{Approved: true}, nil); code != http.StatusForbidden {
		t.Fatalf("requester approving own request: %d", code)
	}
	if code := do(t, chief, http.MethodPost, path, handler.DecideRequest{Approved: true}, &decided); code != http.StatusOK {
		t.Fatalf("approve: %d", code)
	}
	if decided.Status != domain.StatusPending || decided.CurrentLevel != 2 {
		t.Fatalf("expected pending at level 2, got %s/%d", decided.Status, decided.CurrentLevel)
	}

	var pending []domain.ApprovalRequest
	do(t, srv, http.MethodGet, "/v1/approvals", nil, &pending)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}

	var workflows []domain.ApprovalWorkflow
	do(t, srv, http.MethodGet, "/v1/approvals/workflows", nil, &workflows)
	if len(workflows) != 3 {
		t.Fatalf("expected baseline workflows, got %d", len(workflows))
	}
}

func TestScopesAndErrors(t *testing.T) {
	srv := NewConsoleServer(zap.NewNop(), readOnly{}, newHandlers(t))

	if code := do(t, srv, http.MethodGet, "/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/v1/delegations", nil, nil); code != http.StatusOK {
		t.Fatalf("read with read scope: %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/v1/delegations", criticalDelegation(), nil); code != http.StatusForbidden {
		t.Fatalf("write with read scope: %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/v1/delegations/ghost", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown delegation: %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/v1/delegations/D1/events?limit=-1", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad filter: %d", code)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/delegations/D1/export?format=csv", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv export: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const setYAML = `
delegations:
  - id: D1
    delegator_id: boss
    agent_id: A
    bureau: BF
    type: signature
    max_amount: 20000
    start_date: 2026-02-10T00:00:00Z
    end_date: 2026-03-13T09:00:00Z
    is_critical: true
    usage_count: 10
    created_at: 2026-03-09T09:00:00Z
  - id: D2
    delegator_id: boss
    agent_id: C
    bureau: BF
    type: payment
    start_date: 2026-01-01
    end_date: 2026-12-31
    status: revoked
`

func writeSet(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "set.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadSet(t *testing.T) {
	set, err := loadSet(writeSet(t, setYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(set.Delegations) != 2 {
		t.Fatalf("expected 2 delegations, got %d", len(set.Delegations))
	}
	d1 := set.Delegations[0].toDomain()
	if d1.Status != domain.DelegationActive || !d1.HasCap() || d1.Amount() != 20000 {
		t.Fatalf("unexpected D1 %+v", d1)
	}
	d2 := set.Delegations[1].toDomain()
	if d2.Status != domain.DelegationRevoked || d2.HasCap() {
		t.Fatalf("unexpected D2 %+v", d2)
	}
	if !d2.StartDate.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date-only value parsed as %v", d2.StartDate)
	}

	if _, err := loadSet(writeSet(t, "delegations:\n  - id: X\n")); err == nil {
		t.Fatal("delegation without agent must be rejected")
	}
}

func TestWorkspaceScoresSet(t *testing.T) {
	ctx := context.Background()
	clock := infra.ClockFunc(func() time.Time { return testNow })

	set, err := loadSet(writeSet(t, setYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w, err := newWorkspace(ctx, set, infra.DefaultRuleThresholds(), clock, zap.NewNop())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	analyses, err := w.analyzeAll(ctx)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a := analyses[0]; a.DelegationID != "D1" || a.HealthScore != 65 || a.Status != domain.HealthWarning {
		t.Fatalf("expected D1 65/warning, got %s %d/%s", a.DelegationID, a.HealthScore, a.Status)
	}

	// тот же набор с назначенным преемником
	set.Successors = []successorDoc{{DelegationID: "D1", HolderID: "A", SuccessorID: "B"}}
	w, err = newWorkspace(ctx, set, infra.DefaultRuleThresholds(), clock, zap.NewNop())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	report, err := w.gov.GenerateSystemHealthReport(ctx, w.delegations)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TotalDelegations != 2 || report.Analyzed != 1 || len(report.WithoutBackup) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTimelineSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal", "governance.db")
	clock := infra.ClockFunc(func() time.Time { return now })

	s := openStore(t, path)
	tl := audit.NewTimeline(s, clock, zap.NewNop())
	if _, err := tl.RecordEvent(ctx, domain.TimelineEvent{
		DelegationID: "D1",
		Type:         domain.EventSuspended,
		Actor:        domain.Actor{ID: "auditor", Role: "compliance"},
		Action:       "Suspended",
		Details:      map[string]any{"reason": "audit"},
		Tags:         []string{"manual"},
	}); err != nil {
		t.Fatalf("record event: %v", err)
	}
	_, snap, err := tl.RecordChange(ctx, "D1",
		map[string]any{"max_amount": 20000.0, "status": "active"},
		map[string]any{"max_amount": 10000.0, "status": "active"},
		domain.Actor{ID: "auditor"}, "cap lowered")
	if err != nil {
		t.Fatalf("record change: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openStore(t, path)
	restored := audit.NewTimeline(reopened, clock, zap.NewNop())
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	events := restored.Events("D1", audit.Filter{})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// новые первыми
	if events[0].Type != domain.EventModified || events[1].Type != domain.EventSuspended {
		t.Fatalf("unexpected order %s, %s", events[0].Type, events[1].Type)
	}
	if events[1].Details["reason"] != "audit" || events[1].Actor.Role != "compliance" || events[1].Tags[0] != "manual" {
		t.Fatalf("event fields lost: %+v", events[1])
	}
	if !events[1].Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v", events[1].Timestamp)
	}

	history := restored.ChangeHistory("D1")
	if len(history) != 1 || history[0].ID != snap.ID {
		t.Fatalf("snapshot lost: %+v", history)
	}
	if len(history[0].ChangedFields) != 1 || history[0].ChangedFields[0] != "max_amount" {
		t.Fatalf("changed fields = %v", history[0].ChangedFields)
	}
	if history[0].After["max_amount"] != 10000.0 {
		t.Fatalf("after state = %v", history[0].After)
	}
}

func TestAssessmentSink(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "governance.db"))

	batch := []audit.Assessment{
		{ID: "a1", Kind: audit.AssessmentDelegation, DelegationID: "D1", HealthScore: 65, Status: "warning", Alerts: 2, Timestamp: now},
		{ID: "a2", Kind: audit.AssessmentSystem, HealthScore: 82.5, Partial: true, Timestamp: now.Add(time.Minute),
			Payload: map[string]any{"analyzed": 2.0}},
	}
	if err := s.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	// повтор того же батча не дублирует записи
	if err := s.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	got, err := s.Assessments(ctx, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(got))
	}
	if got[0].ID != "a2" || !got[0].Partial || got[0].Payload["analyzed"] != 2.0 {
		t.Fatalf("unexpected system assessment %+v", got[0])
	}
	if got[1].HealthScore != 65 || got[1].Status != "warning" || got[1].Alerts != 2 {
		t.Fatalf("unexpected delegation assessment %+v", got[1])
	}
}

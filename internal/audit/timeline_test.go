package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// stepClock — каждая отметка на минуту позже предыдущей.
type stepClock struct {
	mu sync.Mutex
	n  int
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return base.Add(time.Duration(c.n) * time.Minute)
}

type fakeStore struct {
	events    []domain.TimelineEvent
	snapshots []domain.ChangeSnapshot
	err       error
}

func (s *fakeStore) Append(_ context.Context, events []domain.TimelineEvent, snapshots []domain.ChangeSnapshot) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

func (s *fakeStore) Load(_ context.Context) ([]domain.TimelineEvent, []domain.ChangeSnapshot, error) {
	return s.events, s.snapshots, nil
}

var alice = domain.Actor{ID: "alice", Name: "Alice", Role: "director"}

func newTestTimeline(store EventStore) *Timeline {
	return NewTimeline(store, &stepClock{}, zap.NewNop())
}

func TestChangedFieldsExactness(t *testing.T) {
	before := map[string]any{"max_amount": 5000.0, "scope": "all", "status": "active", "note": nil}
	after := map[string]any{"max_amount": 8000.0, "scope": "all", "status": "active", "bureau": "BF"}

	got := ChangedFields(before, after)
	want := []string{"bureau", "max_amount", "note"}
	if !slices.Equal(got, want) {
		t.Fatalf("changed fields = %v, want %v", got, want)
	}

	if got := ChangedFields(before, before); len(got) != 0 {
		t.Fatalf("identical maps must have no changes, got %v", got)
	}
}

func TestRecordChangeStoresSnapshot(t *testing.T) {
	store := &fakeStore{}
	tl := newTestTimeline(store)
	ctx := context.Background()

	before := domain.Delegation{ID: "D1", AgentID: "a1", MaxAmount: domain.Float(5000), Status: domain.DelegationActive}
	after := before
	after.MaxAmount = domain.Float(8000)

	e, snap, err := tl.RecordDelegationChange(ctx, before, after, alice, "cap raised")
	if err != nil {
		t.Fatalf("record change: %v", err)
	}
	if e.Type != domain.EventModified || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
	if snap.EventID != e.ID {
		t.Fatalf("snapshot must reference event %s, got %s", e.ID, snap.EventID)
	}
	if !slices.Equal(snap.ChangedFields, []string{"max_amount"}) {
		t.Fatalf("changed fields = %v", snap.ChangedFields)
	}
	if len(store.events) != 1 || len(store.snapshots) != 1 {
		t.Fatalf("store has %d events / %d snapshots", len(store.events), len(store.snapshots))
	}
}

func TestRecordEventNotIndexedWhenStoreFails(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	tl := newTestTimeline(store)

	_, err := tl.RecordEvent(context.Background(), domain.TimelineEvent{DelegationID: "D1", Type: domain.EventUsed})
	if err == nil {
		t.Fatal("expected store error")
	}
	if got := tl.Events("D1", Filter{}); len(got) != 0 {
		t.Fatalf("failed event must not be visible, got %d", len(got))
	}
}

func TestRecordEventValidation(t *testing.T) {
	tl := newTestTimeline(nil)
	_, err := tl.RecordEvent(context.Background(), domain.TimelineEvent{Type: domain.EventUsed})
	if !errors.Is(err, domain.ErrInvalidDelegation) {
		t.Fatalf("expected ErrInvalidDelegation, got %v", err)
	}
}

func TestEventsNewestFirstWithFilter(t *testing.T) {
	tl := newTestTimeline(nil)
	ctx := context.Background()
	record := func(typ domain.EventType, actor string, tags ...string) {
		t.Helper()
		if _, err := tl.RecordEvent(ctx, domain.TimelineEvent{
			DelegationID: "D1", Type: typ, Actor: domain.Actor{ID: actor}, Action: string(typ) + " action", Tags: tags,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	record(domain.EventCreated, "alice")
	record(domain.EventUsed, "bob", "ops")
	record(domain.EventExtended, "alice", "renewal")
	record(domain.EventUsed, "bob")

	all := tl.Events("D1", Filter{})
	if len(all) != 4 || all[0].Type != domain.EventUsed || all[3].Type != domain.EventCreated {
		t.Fatalf("unexpected order: %v", types(all))
	}

	cases := []struct {
		name string
		f    Filter
		want []domain.EventType
	}{
		{"types", Filter{Types: []domain.EventType{domain.EventUsed}}, []domain.EventType{domain.EventUsed, domain.EventUsed}},
		{"actor", Filter{ActorID: "alice"}, []domain.EventType{domain.EventExtended, domain.EventCreated}},
		{"tags", Filter{Tags: []string{"renewal", "ops"}}, []domain.EventType{domain.EventExtended, domain.EventUsed}},
		{"text", Filter{Text: "EXTENDED"}, []domain.EventType{domain.EventExtended}},
		{"limit", Filter{Limit: 1}, []domain.EventType{domain.EventUsed}},
		{"from", Filter{From: base.Add(3 * time.Minute)}, []domain.EventType{domain.EventUsed, domain.EventExtended}},
		{"to", Filter{To: base.Add(time.Minute)}, []domain.EventType{domain.EventCreated}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := types(tl.Events("D1", tc.f)); !slices.Equal(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func types(es []domain.TimelineEvent) []domain.EventType {
	out := make([]domain.EventType, 0, len(es))
	for _, e := range es {
		out = append(out, e.Type)
	}
	return out
}

func TestAuditTrailComplianceIssues(t *testing.T) {
	tl := newTestTimeline(nil)
	ctx := context.Background()
	events := []domain.TimelineEvent{
		{DelegationID: "D1", Type: domain.EventCreated, Actor: alice},
		{DelegationID: "D1", Type: domain.EventSuspended, Actor: domain.Actor{ID: "bob"}},
		{DelegationID: "D1", Type: domain.EventRevoked, Actor: alice, Details: map[string]any{"reason": "fraud"}},
	}
	for _, e := range events {
		if _, err := tl.RecordEvent(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	trail := tl.AuditTrail("D1")
	if trail.Summary.TotalEvents != 3 || trail.Summary.MajorChanges != 2 {
		t.Fatalf("unexpected summary %+v", trail.Summary)
	}
	if !slices.Equal(trail.Summary.Actors, []string{"alice", "bob"}) {
		t.Fatalf("actors = %v", trail.Summary.Actors)
	}
	if !trail.Summary.FirstEventAt.Before(*trail.Summary.LastEventAt) {
		t.Fatal("first event must precede last event")
	}
	if len(trail.ComplianceIssues) != 1 || trail.ComplianceIssues[0].Type != domain.EventSuspended {
		t.Fatalf("expected one issue for the suspension, got %+v", trail.ComplianceIssues)
	}
}

func TestCompareAndRestoreVersions(t *testing.T) {
	tl := newTestTimeline(&fakeStore{})
	ctx := context.Background()

	v1 := map[string]any{"max_amount": 5000.0, "scope": "all"}
	v2 := map[string]any{"max_amount": 8000.0, "scope": "all"}
	v3 := map[string]any{"max_amount": 8000.0, "scope": "procurement"}

	_, s1, err := tl.RecordChange(ctx, "D1", v1, v2, alice, "")
	if err != nil {
		t.Fatalf("change 1: %v", err)
	}
	_, s2, err := tl.RecordChange(ctx, "D1", v2, v3, alice, "")
	if err != nil {
		t.Fatalf("change 2: %v", err)
	}

	diffs, err := tl.CompareVersions("D1", s1.ID, s2.ID)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(diffs) != 1 || diffs[0].Field != "scope" || diffs[0].After != "procurement" {
		t.Fatalf("unexpected diffs %+v", diffs)
	}

	if _, err := tl.CompareVersions("D2", s1.ID, s2.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign delegation must be ErrNotFound, got %v", err)
	}

	restored, err := tl.RestoreVersion(ctx, "D1", s1.ID, alice)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored["max_amount"] != 5000.0 || restored["scope"] != "all" {
		t.Fatalf("restored state %v", restored)
	}

	history := tl.ChangeHistory("D1")
	if len(history) != 3 {
		t.Fatalf("restore must append a snapshot, history has %d", len(history))
	}
	if !slices.Equal(history[0].ChangedFields, []string{"max_amount", "scope"}) {
		t.Fatalf("restore snapshot fields = %v", history[0].ChangedFields)
	}
	latest := tl.Events("D1", Filter{Limit: 1})[0]
	if latest.Type != domain.EventRestored || !slices.Contains(latest.Tags, TagRestore) {
		t.Fatalf("expected restored event tagged restore, got %+v", latest)
	}
	// старые снимки не тронуты
	if history[2].After["max_amount"] != 8000.0 {
		t.Fatal("history was rewritten")
	}
}

func TestLoadReplaysStore(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()
	first := newTestTimeline(store)
	if _, _, err := first.RecordChange(ctx, "D1", map[string]any{"a": 1}, map[string]any{"a": 2}, alice, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	second := newTestTimeline(store)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(second.Events("D1", Filter{})) != 1 || len(second.ChangeHistory("D1")) != 1 {
		t.Fatal("replayed timeline is incomplete")
	}
}

func TestRecentActivity(t *testing.T) {
	tl := newTestTimeline(nil)
	ctx := context.Background()
	for _, typ := range []domain.EventType{domain.EventCreated, domain.EventUsed, domain.EventUsed} {
		if _, err := tl.RecordEvent(ctx, domain.TimelineEvent{DelegationID: "D1", Type: typ}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	stats := tl.RecentActivity("D1", base.Add(2*time.Minute))
	if stats.TotalEvents != 2 || stats.ByType[domain.EventUsed] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.LastEventAt == nil || !stats.LastEventAt.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("last event at %v", stats.LastEventAt)
	}
}

func TestExports(t *testing.T) {
	tl := newTestTimeline(nil)
	ctx := context.Background()
	if _, err := tl.RecordEvent(ctx, domain.TimelineEvent{
		DelegationID: "D1", Type: domain.EventSuspended, Actor: alice, Action: "Suspend",
		Details: map[string]any{"reason": "audit, pending"}, Tags: []string{"a", "b"},
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	var js bytes.Buffer
	if err := tl.ExportJSON(&js, "D1"); err != nil {
		t.Fatalf("export json: %v", err)
	}
	var trail Trail
	if err := json.Unmarshal(js.Bytes(), &trail); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if trail.DelegationID != "D1" || len(trail.Events) != 1 {
		t.Fatalf("unexpected trail %+v", trail)
	}

	var buf bytes.Buffer
	if err := tl.ExportCSV(&buf, "D1"); err != nil {
		t.Fatalf("export csv: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 || rows[1][3] != "suspended" || rows[1][8] != "a;b" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][9] != `{"reason":"audit, pending"}` {
		t.Fatalf("details column %q", rows[1][9])
	}
}

type countingSink struct {
	mu    sync.Mutex
	items []Assessment
}

func (s *countingSink) WriteBatch(_ context.Context, batch []Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, batch...)
	return nil
}

func TestJournalDrainsOnStop(t *testing.T) {
	sink := &countingSink{}
	j := NewJournal(sink, JournalOptions{BatchSize: 7, FlushInterval: time.Hour}, infra.NewMetrics(nil), zap.NewNop())
	j.Start()
	for i := 0; i < 20; i++ {
		j.Log(Assessment{Kind: AssessmentDelegation, DelegationID: "D1"})
	}
	j.Stop()
	j.Stop()

	if len(sink.items) != 20 {
		t.Fatalf("expected 20 flushed assessments, got %d", len(sink.items))
	}
	j.Log(Assessment{Kind: AssessmentSystem})
	if len(sink.items) != 20 {
		t.Fatal("log after stop must be dropped")
	}
}

func TestJournalLogRacesStop(t *testing.T) {
	const writers, perWriter = 8, 200
	core, logs := observer.New(zap.WarnLevel)
	sink := &countingSink{}
	j := NewJournal(sink, JournalOptions{BufferSize: writers * perWriter, BatchSize: 16, FlushInterval: time.Millisecond},
		infra.NewMetrics(nil), zap.New(core))
	j.Start()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				j.Log(Assessment{Kind: AssessmentDelegation, DelegationID: "D1"})
			}
		}()
	}
	j.Stop()
	wg.Wait()

	sink.mu.Lock()
	written := len(sink.items)
	sink.mu.Unlock()
	dropped := logs.FilterMessage("assessment dropped: journal is stopping").Len()
	if written+dropped != writers*perWriter {
		t.Fatalf("written %d + dropped %d != %d", written, dropped, writers*perWriter)
	}
	if n := logs.FilterMessage("journal_buffer_overflow").Len(); n != 0 {
		t.Fatalf("unexpected overflow: %d", n)
	}
}

package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// capStore — исполнитель, применяющий adjust_amount к карте лимитов.
type capStore struct {
	caps     map[string]float64
	executed []domain.Command
	fail     error
}

func (s *capStore) Execute(_ context.Context, cmd domain.Command) error {
	if s.fail != nil {
		return s.fail
	}
	s.executed = append(s.executed, cmd)
	if cmd.Kind == domain.CommandAdjustAmount {
		v, ok := cmd.Float(domain.PayloadMaxAmount)
		if !ok {
			return errors.New("missing max_amount")
		}
		s.caps[cmd.Target()] = v
	}
	return nil
}

func newTestDetector(exec domain.CommandExecutor) *Detector {
	clock := infra.ClockFunc(func() time.Time { return testNow })
	return NewDetector(exec, clock, nil, zap.NewNop())
}

func delegation(id, delegator, agent string, amount float64) domain.Delegation {
	return domain.Delegation{
		ID:          id,
		DelegatorID: delegator,
		AgentID:     agent,
		Bureau:      "BF",
		Type:        "signature",
		MaxAmount:   domain.Float(amount),
		StartDate:   testNow.AddDate(0, -1, 0),
		EndDate:     testNow.AddDate(0, 2, 0),
		Status:      domain.DelegationActive,
	}
}

func ofType(cs []domain.Conflict, t domain.ConflictType) []domain.Conflict {
	var out []domain.Conflict
	for _, c := range cs {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func TestSingleDuplicateConflictForGroup(t *testing.T) {
	d := newTestDetector(nil)
	ds := []domain.Delegation{
		delegation("D3", "boss", "A", 1000),
		delegation("D1", "boss", "A", 1000),
		delegation("D2", "boss", "A", 1000),
	}
	dups := ofType(d.Detect(ds), domain.ConflictDuplicate)
	if len(dups) != 1 {
		t.Fatalf("expected exactly one duplicate conflict, got %d", len(dups))
	}
	c := dups[0]
	if len(c.DelegationIDs) != 3 || c.DelegationIDs[0] != "D1" || c.DelegationIDs[2] != "D3" {
		t.Fatalf("conflict must reference all ids sorted, got %v", c.DelegationIDs)
	}
	if c.Severity != domain.SeverityHigh {
		t.Fatalf("duplicate must be high, got %s", c.Severity)
	}
	if len(ofType(d.Detect(ds), domain.ConflictOverlap)) != 0 {
		t.Fatal("same-agent records must not be reported as overlap")
	}
}

func TestTemporalConflicts(t *testing.T) {
	d := newTestDetector(nil)

	inverted := delegation("INV", "boss", "A", 1000)
	inverted.Type = "payment"
	inverted.StartDate = testNow.AddDate(0, 1, 0)
	inverted.EndDate = testNow.AddDate(0, 0, -3)

	stale := delegation("STALE", "boss", "B", 1000)
	stale.Type = "contract"
	stale.EndDate = testNow.Add(-time.Hour)

	expired := delegation("OLD", "boss", "C", 1000)
	expired.Type = "travel"
	expired.EndDate = testNow.AddDate(0, 0, -10)
	expired.Status = domain.DelegationExpired

	temporal := ofType(d.Detect([]domain.Delegation{inverted, stale, expired}), domain.ConflictTemporal)

	sev := map[string][]domain.Severity{}
	for _, c := range temporal {
		sev[c.DelegationIDs[0]] = append(sev[c.DelegationIDs[0]], c.Severity)
	}
	// инвертированная и при этом активная с прошедшим концом — оба конфликта
	if got := sev["INV"]; len(got) != 2 || got[0] != domain.SeverityCritical {
		t.Fatalf("inverted dates must yield critical (and stale high), got %v", got)
	}
	if got := sev["STALE"]; len(got) != 1 || got[0] != domain.SeverityHigh {
		t.Fatalf("stale active must yield high, got %v", got)
	}
	if _, ok := sev["OLD"]; ok {
		t.Fatal("expired status must not be reported as stale")
	}
}

func TestOverlapAndHierarchy(t *testing.T) {
	d := newTestDetector(nil)

	a := delegation("A1", "boss", "A", 1000)
	a.Scope = "Procurement "
	b := delegation("B1", "boss", "B", 1000)
	b.Scope = "procurement"
	c := delegation("C1", "boss", "C", 1000)

	x := delegation("X1", "X", "Y", 500)
	x.Type = "payment"
	y := delegation("Y1", "Y", "X", 500)
	y.Type = "payment"

	cs := d.Detect([]domain.Delegation{a, b, c, x, y})

	overlaps := ofType(cs, domain.ConflictOverlap)
	if len(overlaps) != 1 || overlaps[0].ID != "overlap:A1,B1" {
		t.Fatalf("expected one overlap A1/B1, got %+v", overlaps)
	}
	circular := ofType(cs, domain.ConflictHierarchy)
	if len(circular) != 1 || circular[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected one critical circular conflict, got %+v", circular)
	}
	if cs[0].Severity != domain.SeverityCritical {
		t.Fatal("conflicts must be ordered by severity")
	}
}

func TestAmountResolutionSetsDelegatorCap(t *testing.T) {
	store := &capStore{caps: map[string]float64{}}
	d := newTestDetector(store)

	parent := delegation("P", "director", "boss", 10000)
	child := delegation("C", "boss", "A", 25000)
	child.Bureau = "HR"

	amount := ofType(d.Detect([]domain.Delegation{parent, child}), domain.ConflictAmount)
	if len(amount) != 1 {
		t.Fatalf("expected one amount conflict, got %d", len(amount))
	}
	c := amount[0]

	var resID string
	for _, r := range c.Resolutions {
		if r.Command.Kind == domain.CommandAdjustAmount {
			resID = r.ID
			if !r.AutoApplicable {
				t.Fatal("adjust amount must be auto applicable")
			}
		}
	}

	resolved, err := d.Resolve(context.Background(), c.ID, resID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if store.caps["C"] != 10000 {
		t.Fatalf("expected cap 10000, got %v", store.caps["C"])
	}
	if !resolved.Resolved || resolved.ResolvedAt == nil || resolved.ResolvedBy != resID {
		t.Fatalf("conflict must be marked resolved, got %+v", resolved)
	}

	_, err = d.Resolve(context.Background(), c.ID, resID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second resolve must fail with invalid transition, got %v", err)
	}
	if len(store.executed) != 1 {
		t.Fatalf("command must run once, ran %d", len(store.executed))
	}
	if len(d.Unresolved()) != 0 {
		t.Fatal("no unresolved conflicts expected")
	}
}

func TestResolveErrors(t *testing.T) {
	d := newTestDetector(nil)
	stale := delegation("S", "boss", "A", 1000)
	stale.EndDate = testNow.Add(-time.Hour)
	cs := d.Detect([]domain.Delegation{stale})

	if _, err := d.Resolve(context.Background(), "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := d.Resolve(context.Background(), cs[0].ID, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found resolution, got %v", err)
	}
	if _, err := d.Resolve(context.Background(), cs[0].ID, cs[0].Resolutions[0].ID); !errors.Is(err, domain.ErrNoExecutor) {
		t.Fatalf("expected no executor, got %v", err)
	}

	failing := newTestDetector(&capStore{fail: errors.New("db down")})
	cs = failing.Detect([]domain.Delegation{stale})
	if _, err := failing.Resolve(context.Background(), cs[0].ID, cs[0].Resolutions[0].ID); err == nil {
		t.Fatal("executor error must be returned")
	}
	if c, _ := failing.Get(cs[0].ID); c.Resolved {
		t.Fatal("failed resolution must not flip resolved")
	}
}

func TestPanickingCheckIsSkipped(t *testing.T) {
	d := newTestDetector(nil)
	if err := d.Register(Check{ID: "broken", Detect: func([]domain.Delegation, time.Time) []domain.Conflict {
		panic("boom")
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	stale := delegation("S", "boss", "A", 1000)
	stale.EndDate = testNow.Add(-time.Hour)
	if len(d.Detect([]domain.Delegation{stale})) != 1 {
		t.Fatal("remaining checks must still report")
	}
}

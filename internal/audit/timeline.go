package audit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

const TagRestore = "restore"

// Filter — условия выборки событий. Пустые поля не ограничивают.
type Filter struct {
	Types   []domain.EventType
	ActorID string
	From    time.Time
	To      time.Time
	Tags    []string // достаточно одного совпадения
	Text    string   // подстрока в action/description, без учёта регистра
	Limit   int
}

func (f Filter) matches(e domain.TimelineEvent) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(t string) bool { return slices.Contains(e.Tags, t) }) {
		return false
	}
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(e.Action), needle) &&
			!strings.Contains(strings.ToLower(e.Description), needle) {
			return false
		}
	}
	return true
}

// Timeline — append-only журнал по делегациям с индексом в памяти.
// Событие попадает в индекс только после успешной записи в EventStore.
type Timeline struct {
	store  EventStore
	clock  infra.Clock
	logger *zap.Logger

	writeMu sync.Mutex // сериализует Append, чтобы порядок в store и в индексе совпадал

	mu        sync.RWMutex
	events    map[string][]domain.TimelineEvent  // в порядке записи
	snapshots map[string][]domain.ChangeSnapshot // в порядке записи
	byID      map[string]domain.ChangeSnapshot
}

// NewTimeline: store == nil означает журнал только в памяти.
func NewTimeline(store EventStore, clock infra.Clock, logger *zap.Logger) *Timeline {
	return &Timeline{
		store:     store,
		clock:     infra.OrSystem(clock),
		logger:    infra.OrNop(logger).Named("timeline"),
		events:    make(map[string][]domain.TimelineEvent),
		snapshots: make(map[string][]domain.ChangeSnapshot),
		byID:      make(map[string]domain.ChangeSnapshot),
	}
}

// Load заново строит индекс из EventStore.
func (t *Timeline) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	events, snapshots, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("audit: load timeline: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = make(map[string][]domain.TimelineEvent)
	t.snapshots = make(map[string][]domain.ChangeSnapshot)
	t.byID = make(map[string]domain.ChangeSnapshot)
	for _, e := range events {
		t.events[e.DelegationID] = append(t.events[e.DelegationID], e)
	}
	for _, s := range snapshots {
		t.snapshots[s.DelegationID] = append(t.snapshots[s.DelegationID], s)
		t.byID[s.ID] = s
	}
	t.logger.Info("timeline loaded", zap.Int("events", len(events)), zap.Int("snapshots", len(snapshots)))
	return nil
}

// RecordEvent назначает id и время и сохраняет событие.
func (t *Timeline) RecordEvent(ctx context.Context, e domain.TimelineEvent) (domain.TimelineEvent, error) {
	if err := validateEvent(e); err != nil {
		return domain.TimelineEvent{}, err
	}
	e = t.stamp(e)
	if err := t.append(ctx, []domain.TimelineEvent{e}, nil); err != nil {
		return domain.TimelineEvent{}, err
	}
	return e, nil
}

// RecordChange пишет событие modified вместе со снимком before/after.
func (t *Timeline) RecordChange(ctx context.Context, delegationID string, before, after map[string]any, actor domain.Actor, description string) (domain.TimelineEvent, domain.ChangeSnapshot, error) {
	fields := ChangedFields(before, after)
	e := domain.TimelineEvent{
		DelegationID: delegationID,
		Type:         domain.EventModified,
		Actor:        actor,
		Action:       "Delegation modified",
		Description:  description,
		Details:      map[string]any{"changed_fields": fields},
	}
	return t.recordWithSnapshot(ctx, e, before, after, fields)
}

// RecordEventWithChange пишет событие произвольного типа (extended, suspended...) вместе со снимком.
// В details события добавляется changed_fields.
func (t *Timeline) RecordEventWithChange(ctx context.Context, e domain.TimelineEvent, before, after map[string]any) (domain.TimelineEvent, domain.ChangeSnapshot, error) {
	fields := ChangedFields(before, after)
	details := cloneMap(e.Details)
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["changed_fields"] = fields
	e.Details = details
	return t.recordWithSnapshot(ctx, e, before, after, fields)
}

// RecordDelegationChange — RecordChange для двух версий делегации.
func (t *Timeline) RecordDelegationChange(ctx context.Context, before, after domain.Delegation, actor domain.Actor, description string) (domain.TimelineEvent, domain.ChangeSnapshot, error) {
	return t.RecordChange(ctx, after.ID, before.Snapshot(), after.Snapshot(), actor, description)
}

func (t *Timeline) recordWithSnapshot(ctx context.Context, e domain.TimelineEvent, before, after map[string]any, fields []string) (domain.TimelineEvent, domain.ChangeSnapshot, error) {
	if err := validateEvent(e); err != nil {
		return domain.TimelineEvent{}, domain.ChangeSnapshot{}, err
	}
	e = t.stamp(e)
	snap := domain.ChangeSnapshot{
		ID:            uuid.NewString(),
		DelegationID:  e.DelegationID,
		EventID:       e.ID,
		Before:        cloneMap(before),
		After:         cloneMap(after),
		ChangedFields: fields,
		Actor:         e.Actor,
		Timestamp:     e.Timestamp,
	}
	if err := t.append(ctx, []domain.TimelineEvent{e}, []domain.ChangeSnapshot{snap}); err != nil {
		return domain.TimelineEvent{}, domain.ChangeSnapshot{}, err
	}
	return e, snap, nil
}

func (t *Timeline) stamp(e domain.TimelineEvent) domain.TimelineEvent {
	e.ID = uuid.NewString()
	e.Timestamp = t.clock.Now()
	e.Details = cloneMap(e.Details)
	e.Tags = slices.Clone(e.Tags)
	e.Attachments = slices.Clone(e.Attachments)
	return e
}

func (t *Timeline) append(ctx context.Context, events []domain.TimelineEvent, snapshots []domain.ChangeSnapshot) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.store != nil {
		if err := t.store.Append(ctx, events, snapshots); err != nil {
			return fmt.Errorf("audit: append to event store: %w", err)
		}
	}

	t.mu.Lock()
	for _, e := range events {
		t.events[e.DelegationID] = append(t.events[e.DelegationID], e)
	}
	for _, s := range snapshots {
		t.snapshots[s.DelegationID] = append(t.snapshots[s.DelegationID], s)
		t.byID[s.ID] = s
	}
	t.mu.Unlock()

	for _, e := range events {
		t.logger.Debug("event recorded",
			zap.String("delegation_id", e.DelegationID),
			zap.String("type", string(e.Type)),
			zap.String("actor", e.Actor.ID),
		)
	}
	return nil
}

func validateEvent(e domain.TimelineEvent) error {
	if e.DelegationID == "" {
		return fmt.Errorf("audit: event without delegation id: %w", domain.ErrInvalidDelegation)
	}
	if e.Type == "" {
		return fmt.Errorf("audit: event without type for %s: %w", e.DelegationID, domain.ErrInvalidDelegation)
	}
	return nil
}

// Events — события делегации, новые первыми.
func (t *Timeline) Events(delegationID string, f Filter) []domain.TimelineEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := t.events[delegationID]
	out := make([]domain.TimelineEvent, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if !f.matches(all[i]) {
			continue
		}
		out = append(out, all[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// ChangeHistory — снимки делегации, новые первыми.
func (t *Timeline) ChangeHistory(delegationID string) []domain.ChangeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := t.snapshots[delegationID]
	out := make([]domain.ChangeSnapshot, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	return out
}

func (t *Timeline) snapshot(delegationID, snapshotID string) (domain.ChangeSnapshot, error) {
	t.mu.RLock()
	s, ok := t.byID[snapshotID]
	t.mu.RUnlock()
	if !ok || s.DelegationID != delegationID {
		return domain.ChangeSnapshot{}, fmt.Errorf("snapshot %s of %s: %w", snapshotID, delegationID, domain.ErrNotFound)
	}
	return s, nil
}

// CompareVersions сравнивает состояния после двух снимков.
func (t *Timeline) CompareVersions(delegationID, fromSnapshotID, toSnapshotID string) ([]domain.FieldDiff, error) {
	from, err := t.snapshot(delegationID, fromSnapshotID)
	if err != nil {
		return nil, err
	}
	to, err := t.snapshot(delegationID, toSnapshotID)
	if err != nil {
		return nil, err
	}
	return Diff(from.After, to.After), nil
}

// RestoreVersion возвращает состояние до указанного снимка и фиксирует откат новым событием.
// Историю не переписывает: появляется restored-событие и снимок текущее → восстановленное.
func (t *Timeline) RestoreVersion(ctx context.Context, delegationID, snapshotID string, actor domain.Actor) (map[string]any, error) {
	target, err := t.snapshot(delegationID, snapshotID)
	if err != nil {
		return nil, err
	}

	current := target.After
	if history := t.ChangeHistory(delegationID); len(history) > 0 {
		current = history[0].After
	}
	restored := cloneMap(target.Before)
	fields := ChangedFields(current, restored)

	e := domain.TimelineEvent{
		DelegationID: delegationID,
		Type:         domain.EventRestored,
		Actor:        actor,
		Action:       "Version restored",
		Description:  fmt.Sprintf("state before snapshot %s restored", snapshotID),
		Details: map[string]any{
			"snapshot_id":    snapshotID,
			"changed_fields": fields,
		},
		Tags: []string{TagRestore},
	}
	if _, _, err := t.recordWithSnapshot(ctx, e, current, restored, fields); err != nil {
		return nil, err
	}
	t.logger.Info("version restored",
		zap.String("delegation_id", delegationID),
		zap.String("snapshot_id", snapshotID),
		zap.String("actor", actor.ID),
	)
	return restored, nil
}

// RecentActivity — счётчики событий начиная с since.
func (t *Timeline) RecentActivity(delegationID string, since time.Time) domain.ActivityStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := domain.ActivityStats{Since: since, ByType: make(map[domain.EventType]int)}
	for _, e := range t.events[delegationID] {
		if e.Timestamp.Before(since) {
			continue
		}
		stats.TotalEvents++
		stats.ByType[e.Type]++
		if stats.LastEventAt == nil || e.Timestamp.After(*stats.LastEventAt) {
			ts := e.Timestamp
			stats.LastEventAt = &ts
		}
	}
	return stats
}

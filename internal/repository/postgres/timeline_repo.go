package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/delegation-governance/internal/domain"
)

// Timeline реализует audit.EventStore. События и снимки пишутся одной транзакцией:
// журнал не должен видеть событие modified без его снимка.
type Timeline struct{ s *Store }

func (s *Store) Timeline() Timeline { return Timeline{s: s} }

func (t Timeline) Append(ctx context.Context, events []domain.TimelineEvent, snapshots []domain.ChangeSnapshot) error {
	if len(events) == 0 && len(snapshots) == 0 {
		return nil
	}

	tx, err := t.s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin timeline tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		details, err := marshalNullable(e.Details)
		if err != nil {
			return fmt.Errorf("postgres: encode details of %s: %w", e.ID, err)
		}
		batch.Queue(`
			INSERT INTO timeline_events
				(id, delegation_id, type, timestamp, actor_id, actor_name, actor_role, action, description, details, tags, attachments)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ID, e.DelegationID, e.Type, e.Timestamp, e.Actor.ID, e.Actor.Name, e.Actor.Role,
			e.Action, e.Description, details, nonNil(e.Tags), nonNil(e.Attachments),
		)
	}
	for _, sn := range snapshots {
		before, err := json.Marshal(sn.Before)
		if err != nil {
			return fmt.Errorf("postgres: encode snapshot %s: %w", sn.ID, err)
		}
		after, err := json.Marshal(sn.After)
		if err != nil {
			return fmt.Errorf("postgres: encode snapshot %s: %w", sn.ID, err)
		}
		batch.Queue(`
			INSERT INTO change_snapshots
				(id, delegation_id, event_id, before_state, after_state, changed_fields, actor_id, actor_name, actor_role, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			sn.ID, sn.DelegationID, sn.EventID, before, after, nonNil(sn.ChangedFields),
			sn.Actor.ID, sn.Actor.Name, sn.Actor.Role, sn.Timestamp,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: append timeline: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit timeline: %w", err)
	}
	return nil
}

// Load — холодная загрузка журнала при старте, в порядке записи.
func (t Timeline) Load(ctx context.Context) ([]domain.TimelineEvent, []domain.ChangeSnapshot, error) {
	events, err := t.loadEvents(ctx)
	if err != nil {
		return nil, nil, err
	}
	snapshots, err := t.loadSnapshots(ctx)
	if err != nil {
		return nil, nil, err
	}
	return events, snapshots, nil
}

func (t Timeline) loadEvents(ctx context.Context) ([]domain.TimelineEvent, error) {
	rows, err := t.s.pool.Query(ctx, `
		SELECT id, delegation_id, type, timestamp, actor_id, actor_name, actor_role, action, description, details, tags, attachments
		FROM timeline_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query timeline: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var e domain.TimelineEvent
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.DelegationID, &e.Type, &e.Timestamp, &e.Actor.ID, &e.Actor.Name, &e.Actor.Role,
			&e.Action, &e.Description, &details, &e.Tags, &e.Attachments,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan timeline event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("postgres: decode details of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (t Timeline) loadSnapshots(ctx context.Context) ([]domain.ChangeSnapshot, error) {
	rows, err := t.s.pool.Query(ctx, `
		SELECT id, delegation_id, event_id, before_state, after_state, changed_fields, actor_id, actor_name, actor_role, timestamp
		FROM change_snapshots ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChangeSnapshot, 0)
	for rows.Next() {
		var sn domain.ChangeSnapshot
		var before, after []byte
		if err := rows.Scan(
			&sn.ID, &sn.DelegationID, &sn.EventID, &before, &after, &sn.ChangedFields,
			&sn.Actor.ID, &sn.Actor.Name, &sn.Actor.Role, &sn.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		if err := json.Unmarshal(before, &sn.Before); err != nil {
			return nil, fmt.Errorf("postgres: decode snapshot %s: %w", sn.ID, err)
		}
		if err := json.Unmarshal(after, &sn.After); err != nil {
			return nil, fmt.Errorf("postgres: decode snapshot %s: %w", sn.ID, err)
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

// marshalNullable: пустой map пишется как NULL.
func marshalNullable(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

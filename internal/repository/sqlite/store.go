// Package sqlite — локальный журнал для запуска без PostgreSQL: события, снимки и оценки в одном файле.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS timeline_events (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	delegation_id TEXT NOT NULL,
	type          TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	actor         TEXT NOT NULL,
	action        TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	details       TEXT,
	tags          TEXT,
	attachments   TEXT
);
CREATE INDEX IF NOT EXISTS idx_timeline_events_delegation ON timeline_events (delegation_id, seq);

CREATE TABLE IF NOT EXISTS change_snapshots (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	delegation_id  TEXT NOT NULL,
	event_id       TEXT NOT NULL,
	before_state   TEXT NOT NULL,
	after_state    TEXT NOT NULL,
	changed_fields TEXT NOT NULL,
	actor          TEXT NOT NULL,
	timestamp      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assessments (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	delegation_id TEXT NOT NULL DEFAULT '',
	health_score  REAL NOT NULL,
	status        TEXT NOT NULL DEFAULT '',
	alerts        INTEGER NOT NULL DEFAULT 0,
	conflicts     INTEGER NOT NULL DEFAULT 0,
	partial       INTEGER NOT NULL DEFAULT 0,
	payload       TEXT,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	timestamp     TEXT NOT NULL
);`

// Store — один файл sqlite. Реализует audit.EventStore и audit.AssessmentSink.
type Store struct {
	db *sql.DB
}

// Open создаёт каталог, открывает базу и применяет схему.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// один писатель: sqlite сериализует запись на уровне файла
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, events []domain.TimelineEvent, snapshots []domain.ChangeSnapshot) error {
	if len(events) == 0 && len(snapshots) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO timeline_events (id, delegation_id, type, timestamp, actor, action, description, details, tags, attachments)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.DelegationID, string(e.Type), formatTime(e.Timestamp), mustJSON(e.Actor),
			e.Action, e.Description, nullableJSON(e.Details), nullableJSON(e.Tags), nullableJSON(e.Attachments),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert event %s: %w", e.ID, err)
		}
	}
	for _, sn := range snapshots {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO change_snapshots (id, delegation_id, event_id, before_state, after_state, changed_fields, actor, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sn.ID, sn.DelegationID, sn.EventID, mustJSON(sn.Before), mustJSON(sn.After),
			mustJSON(sn.ChangedFields), mustJSON(sn.Actor), formatTime(sn.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert snapshot %s: %w", sn.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Load(ctx context.Context) ([]domain.TimelineEvent, []domain.ChangeSnapshot, error) {
	events, err := s.loadEvents(ctx)
	if err != nil {
		return nil, nil, err
	}
	snapshots, err := s.loadSnapshots(ctx)
	if err != nil {
		return nil, nil, err
	}
	return events, snapshots, nil
}

func (s *Store) loadEvents(ctx context.Context) ([]domain.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, delegation_id, type, timestamp, actor, action, description, details, tags, attachments
		FROM timeline_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var e domain.TimelineEvent
		var typ, ts, actor string
		var details, tags, attachments sql.NullString
		if err := rows.Scan(&e.ID, &e.DelegationID, &typ, &ts, &actor, &e.Action, &e.Description, &details, &tags, &attachments); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := decode(actor, &e.Actor); err != nil {
			return nil, err
		}
		if err := decodeNullable(details, &e.Details); err != nil {
			return nil, err
		}
		if err := decodeNullable(tags, &e.Tags); err != nil {
			return nil, err
		}
		if err := decodeNullable(attachments, &e.Attachments); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) loadSnapshots(ctx context.Context) ([]domain.ChangeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, delegation_id, event_id, before_state, after_state, changed_fields, actor, timestamp
		FROM change_snapshots ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChangeSnapshot, 0)
	for rows.Next() {
		var sn domain.ChangeSnapshot
		var before, after, fields, actor, ts string
		if err := rows.Scan(&sn.ID, &sn.DelegationID, &sn.EventID, &before, &after, &fields, &actor, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan snapshot: %w", err)
		}
		for _, f := range []struct {
			raw string
			dst any
		}{{before, &sn.Before}, {after, &sn.After}, {fields, &sn.ChangedFields}, {actor, &sn.Actor}} {
			if err := decode(f.raw, f.dst); err != nil {
				return nil, err
			}
		}
		if sn.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// WriteBatch — приёмник журнала оценок.
func (s *Store) WriteBatch(ctx context.Context, batch []audit.Assessment) error {
	if len(batch) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(batch))
	vals := make([]any, 0, len(batch)*11)
	for _, a := range batch {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		vals = append(vals,
			a.ID, a.Kind, a.DelegationID, a.HealthScore, a.Status,
			a.Alerts, a.Conflicts, a.Partial, nullableJSON(a.Payload), a.DurationMs, formatTime(a.Timestamp),
		)
	}
	query := `INSERT OR IGNORE INTO assessments
		(id, kind, delegation_id, health_score, status, alerts, conflicts, partial, payload, duration_ms, timestamp)
		VALUES ` + strings.Join(placeholders, ",")
	if _, err := s.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("sqlite: write assessments: %w", err)
	}
	return nil
}

// Assessments — последние оценки, новые первыми. Используется CLI.
func (s *Store) Assessments(ctx context.Context, limit int) ([]audit.Assessment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, delegation_id, health_score, status, alerts, conflicts, partial, payload, duration_ms, timestamp
		FROM assessments ORDER BY timestamp DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query assessments: %w", err)
	}
	defer rows.Close()

	out := make([]audit.Assessment, 0)
	for rows.Next() {
		var a audit.Assessment
		var payload sql.NullString
		var ts string
		if err := rows.Scan(&a.ID, &a.Kind, &a.DelegationID, &a.HealthScore, &a.Status,
			&a.Alerts, &a.Conflicts, &a.Partial, &payload, &a.DurationMs, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan assessment: %w", err)
		}
		if err := decodeNullable(payload, &a.Payload); err != nil {
			return nil, err
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(raw)
}

// nullableJSON: пустые значения пишутся как NULL.
func nullableJSON[T any](v T) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	switch string(raw) {
	case "null", "{}", "[]":
		return nil
	}
	return string(raw)
}

func decode(raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("sqlite: decode column: %w", err)
	}
	return nil
}

func decodeNullable(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return decode(raw.String, dst)
}

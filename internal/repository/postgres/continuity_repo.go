package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

// Continuity реализует continuity.Store. Записи хранятся документами JSONB,
// в колонках только ключи выборок.
type Continuity struct{ s *Store }

func (s *Store) Continuity() Continuity { return Continuity{s: s} }

func (c Continuity) SaveSuccessor(ctx context.Context, v domain.Successor) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("postgres: encode successor: %w", err)
	}
	_, err = c.s.pool.Exec(ctx, `
		INSERT INTO successors (id, delegation_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		v.ID, v.DelegationID, doc)
	if err != nil {
		return fmt.Errorf("postgres: failed to save successor %s: %w", v.ID, err)
	}
	return nil
}

func (c Continuity) Successor(ctx context.Context, id string) (domain.Successor, error) {
	var v domain.Successor
	if err := c.one(ctx, `SELECT doc FROM successors WHERE id = $1`, id, "successor", &v); err != nil {
		return domain.Successor{}, err
	}
	return v, nil
}

// SuccessorsFor — по приоритету (1 — первым), затем по времени назначения.
func (c Continuity) SuccessorsFor(ctx context.Context, delegationID string) ([]domain.Successor, error) {
	out, err := queryDocs[domain.Successor](ctx, c.s, `SELECT doc FROM successors WHERE delegation_id = $1`, delegationID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c Continuity) SaveReplacement(ctx context.Context, r domain.Replacement) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: encode replacement: %w", err)
	}
	_, err = c.s.pool.Exec(ctx, `
		INSERT INTO replacements (id, delegation_id, status, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc`,
		r.ID, r.DelegationID, r.Status, doc)
	if err != nil {
		return fmt.Errorf("postgres: failed to save replacement %s: %w", r.ID, err)
	}
	return nil
}

func (c Continuity) Replacement(ctx context.Context, id string) (domain.Replacement, error) {
	var r domain.Replacement
	if err := c.one(ctx, `SELECT doc FROM replacements WHERE id = $1`, id, "replacement", &r); err != nil {
		return domain.Replacement{}, err
	}
	return r, nil
}

func (c Continuity) ReplacementsFor(ctx context.Context, delegationID string) ([]domain.Replacement, error) {
	out, err := queryDocs[domain.Replacement](ctx, c.s, `SELECT doc FROM replacements WHERE delegation_id = $1`, delegationID)
	if err != nil {
		return nil, err
	}
	sortReplacements(out)
	return out, nil
}

func (c Continuity) ReplacementsByStatus(ctx context.Context, statuses ...domain.ReplacementStatus) ([]domain.Replacement, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	out, err := queryDocs[domain.Replacement](ctx, c.s, `SELECT doc FROM replacements WHERE status = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	sortReplacements(out)
	return out, nil
}

func (c Continuity) SaveAbsence(ctx context.Context, n domain.AbsenceNotification) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("postgres: encode absence: %w", err)
	}
	_, err = c.s.pool.Exec(ctx, `
		INSERT INTO absences (id, agent_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		n.ID, n.AgentID, doc)
	if err != nil {
		return fmt.Errorf("postgres: failed to save absence %s: %w", n.ID, err)
	}
	return nil
}

func (c Continuity) AbsencesFor(ctx context.Context, agentID string) ([]domain.AbsenceNotification, error) {
	out, err := queryDocs[domain.AbsenceNotification](ctx, c.s, `SELECT doc FROM absences WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c Continuity) one(ctx context.Context, query, id, what string, dst any) error {
	var doc []byte
	if err := c.s.pool.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		return notFound(err, what, id)
	}
	if err := json.Unmarshal(doc, dst); err != nil {
		return fmt.Errorf("postgres: decode %s %s: %w", what, id, err)
	}
	return nil
}

func queryDocs[T any](ctx context.Context, s *Store, query string, args ...any) ([]T, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query documents: %w", err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan document: %w", err)
		}
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("postgres: decode document: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func sortReplacements(rs []domain.Replacement) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].StartDate.Equal(rs[j].StartDate) {
			return rs[i].StartDate.Before(rs[j].StartDate)
		}
		return rs[i].ID < rs[j].ID
	})
}

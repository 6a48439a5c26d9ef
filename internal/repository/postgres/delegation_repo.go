package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/delegation-governance/internal/domain"
)

const delegationColumns = `id, delegator_id, agent_id, agent_name, bureau, type, scope, max_amount,
	start_date, end_date, status, has_backup, is_critical, usage_count, created_at, updated_at`

func scanDelegation(row pgx.Row) (domain.Delegation, error) {
	var d domain.Delegation
	err := row.Scan(
		&d.ID, &d.DelegatorID, &d.AgentID, &d.AgentName, &d.Bureau, &d.Type, &d.Scope, &d.MaxAmount,
		&d.StartDate, &d.EndDate, &d.Status, &d.HasBackup, &d.IsCritical, &d.UsageCount, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// ListDelegations — полный набор для проходов движков, по ID.
func (s *Store) ListDelegations(ctx context.Context) ([]domain.Delegation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+delegationColumns+` FROM delegations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query delegations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Delegation, 0)
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan delegation: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (s *Store) GetDelegation(ctx context.Context, id string) (domain.Delegation, error) {
	d, err := scanDelegation(s.pool.QueryRow(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id = $1`, id))
	if err != nil {
		return domain.Delegation{}, notFound(err, "delegation", id)
	}
	return d, nil
}

// SaveDelegation — upsert целой записи.
func (s *Store) SaveDelegation(ctx context.Context, d domain.Delegation) error {
	if d.ID == "" {
		return fmt.Errorf("delegation without id: %w", domain.ErrInvalidDelegation)
	}
	query := `
		INSERT INTO delegations (` + delegationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			delegator_id = EXCLUDED.delegator_id,
			agent_id     = EXCLUDED.agent_id,
			agent_name   = EXCLUDED.agent_name,
			bureau       = EXCLUDED.bureau,
			type         = EXCLUDED.type,
			scope        = EXCLUDED.scope,
			max_amount   = EXCLUDED.max_amount,
			start_date   = EXCLUDED.start_date,
			end_date     = EXCLUDED.end_date,
			status       = EXCLUDED.status,
			has_backup   = EXCLUDED.has_backup,
			is_critical  = EXCLUDED.is_critical,
			usage_count  = EXCLUDED.usage_count,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.DelegatorID, d.AgentID, d.AgentName, d.Bureau, d.Type, d.Scope, d.MaxAmount,
		d.StartDate, d.EndDate, d.Status, d.HasBackup, d.IsCritical, d.UsageCount, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save delegation %s: %w", d.ID, err)
	}
	return nil
}

// Delegations — адаптер к интерфейсу List/Get/Save (remediation.DelegationStore, консоль).
type Delegations struct{ s *Store }

func (s *Store) Delegations() Delegations { return Delegations{s: s} }

func (d Delegations) List(ctx context.Context) ([]domain.Delegation, error) {
	return d.s.ListDelegations(ctx)
}

func (d Delegations) Get(ctx context.Context, id string) (domain.Delegation, error) {
	return d.s.GetDelegation(ctx, id)
}

func (d Delegations) Save(ctx context.Context, del domain.Delegation) error {
	return d.s.SaveDelegation(ctx, del)
}

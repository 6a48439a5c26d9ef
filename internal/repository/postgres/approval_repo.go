package postgres

/*
Файл approval_repo.go хранит запросы на согласование.
Решения и делегаты уровня лежат в JSONB: запрос читается и пишется целиком,
а конкурентные переходы отсекаются по колонке version.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/delegation-governance/internal/domain"
)

const approvalColumns = `id, workflow_id, delegation_id, requester_id, current_level, status,
	approvals, extra_approvers, version, created_at, updated_at, completed_at`

func scanApproval(row pgx.Row) (domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	var approvals, extra []byte
	err := row.Scan(
		&req.ID, &req.WorkflowID, &req.DelegationID, &req.RequesterID, &req.CurrentLevel, &req.Status,
		&approvals, &extra, &req.Version, &req.CreatedAt, &req.UpdatedAt, &req.CompletedAt,
	)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(approvals, &req.Approvals); err != nil {
		return req, fmt.Errorf("decode approvals of %s: %w", req.ID, err)
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &req.ExtraApprovers); err != nil {
			return req, fmt.Errorf("decode extra approvers of %s: %w", req.ID, err)
		}
	}
	return req, nil
}

func encodeApproval(req domain.ApprovalRequest) (approvals, extra []byte, err error) {
	list := req.Approvals
	if list == nil {
		list = []domain.Approval{}
	}
	if approvals, err = json.Marshal(list); err != nil {
		return nil, nil, err
	}
	ex := req.ExtraApprovers
	if ex == nil {
		ex = map[int][]string{}
	}
	if extra, err = json.Marshal(ex); err != nil {
		return nil, nil, err
	}
	return approvals, extra, nil
}

// Approvals реализует approval.Repository поверх Store.
type Approvals struct{ s *Store }

func (s *Store) Approvals() Approvals { return Approvals{s: s} }

func (a Approvals) Create(ctx context.Context, req domain.ApprovalRequest) error {
	approvals, extra, err := encodeApproval(req)
	if err != nil {
		return fmt.Errorf("postgres: encode approval request: %w", err)
	}
	if req.Version == 0 {
		req.Version = 1
	}
	query := `INSERT INTO approval_requests (` + approvalColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = a.s.pool.Exec(ctx, query,
		req.ID, req.WorkflowID, req.DelegationID, req.RequesterID, req.CurrentLevel, req.Status,
		approvals, extra, req.Version, req.CreatedAt, req.UpdatedAt, req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

func (a Approvals) Get(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	req, err := scanApproval(a.s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		return domain.ApprovalRequest{}, notFound(err, "approval request", id)
	}
	return req, nil
}

// Update — compare-and-swap: условие WHERE version = $n отсекает параллельное решение,
// RETURNING отдаёт новую версию за один проход.
func (a Approvals) Update(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalRequest, error) {
	approvals, extra, err := encodeApproval(req)
	if err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("postgres: encode approval request: %w", err)
	}
	query := `
		UPDATE approval_requests
		SET current_level   = $1,
		    status          = $2,
		    approvals       = $3,
		    extra_approvers = $4,
		    updated_at      = $5,
		    completed_at    = $6,
		    version         = version + 1
		WHERE id = $7 AND version = $8
		RETURNING version`

	var next int64
	err = a.s.pool.QueryRow(ctx, query,
		req.CurrentLevel, req.Status, approvals, extra, req.UpdatedAt, req.CompletedAt, req.ID, req.Version,
	).Scan(&next)
	if err == nil {
		out := req.Clone()
		out.Version = next
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ApprovalRequest{}, fmt.Errorf("postgres: failed to update approval request: %w", err)
	}

	// строк нет: либо ID неверный, либо версию уже сдвинул другой инстанс
	if _, getErr := a.Get(ctx, req.ID); getErr != nil {
		return domain.ApprovalRequest{}, getErr
	}
	return domain.ApprovalRequest{}, fmt.Errorf("approval request %s (have v%d): %w", req.ID, req.Version, domain.ErrVersionConflict)
}

func (a Approvals) ListPending(ctx context.Context) ([]domain.ApprovalRequest, error) {
	return a.list(ctx, `WHERE status = $1`, domain.StatusPending)
}

func (a Approvals) ListByDelegation(ctx context.Context, delegationID string) ([]domain.ApprovalRequest, error) {
	return a.list(ctx, `WHERE delegation_id = $1`, delegationID)
}

func (a Approvals) list(ctx context.Context, where string, args ...any) ([]domain.ApprovalRequest, error) {
	rows, err := a.s.pool.Query(ctx, `SELECT `+approvalColumns+` FROM approval_requests `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// пустой слайс, чтобы в JSON был [] вместо null
	out := make([]domain.ApprovalRequest, 0)
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

// ApprovalRepo хранит копии запросов: наружу никогда не отдаются общие слайсы.
type ApprovalRepo struct {
	mu    sync.RWMutex
	items map[string]domain.ApprovalRequest
}

func NewApprovalRepo() *ApprovalRepo {
	return &ApprovalRepo{items: make(map[string]domain.ApprovalRequest)}
}

func (r *ApprovalRepo) Create(_ context.Context, req domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[req.ID]; exists {
		return fmt.Errorf("approval request %s already exists", req.ID)
	}
	if req.Version == 0 {
		req.Version = 1
	}
	r.items[req.ID] = req.Clone()
	return nil
}

func (r *ApprovalRepo) Get(_ context.Context, id string) (domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.items[id]
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("approval request %s: %w", id, domain.ErrNotFound)
	}
	return req.Clone(), nil
}

// Update — compare-and-swap по Version.
func (r *ApprovalRepo) Update(_ context.Context, req domain.ApprovalRequest) (domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[req.ID]
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("approval request %s: %w", req.ID, domain.ErrNotFound)
	}
	if cur.Version != req.Version {
		return domain.ApprovalRequest{}, fmt.Errorf("approval request %s (have v%d, stored v%d): %w",
			req.ID, req.Version, cur.Version, domain.ErrVersionConflict)
	}
	next := req.Clone()
	next.Version = cur.Version + 1
	r.items[req.ID] = next
	return next.Clone(), nil
}

func (r *ApprovalRepo) ListPending(_ context.Context) ([]domain.ApprovalRequest, error) {
	return r.list(func(req domain.ApprovalRequest) bool { return req.Status == domain.StatusPending }), nil
}

func (r *ApprovalRepo) ListByDelegation(_ context.Context, delegationID string) ([]domain.ApprovalRequest, error) {
	return r.list(func(req domain.ApprovalRequest) bool { return req.DelegationID == delegationID }), nil
}

func (r *ApprovalRepo) list(keep func(domain.ApprovalRequest) bool) []domain.ApprovalRequest {
	r.mu.RLock()
	out := make([]domain.ApprovalRequest, 0)
	for _, req := range r.items {
		if keep(req) {
			out = append(out, req.Clone())
		}
	}
	r.mu.RUnlock()
	// старые сначала
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

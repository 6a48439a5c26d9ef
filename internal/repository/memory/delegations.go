// Package memory — потокобезопасные in-memory репозитории для тестов, CLI и локального запуска.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

type DelegationRepo struct {
	mu    sync.RWMutex
	items map[string]domain.Delegation
}

func NewDelegationRepo(seed ...domain.Delegation) *DelegationRepo {
	r := &DelegationRepo{items: make(map[string]domain.Delegation, len(seed))}
	for _, d := range seed {
		r.items[d.ID] = d
	}
	return r
}

// List возвращает снимок, отсортированный по ID.
func (r *DelegationRepo) List(_ context.Context) ([]domain.Delegation, error) {
	r.mu.RLock()
	out := make([]domain.Delegation, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *DelegationRepo) Get(_ context.Context, id string) (domain.Delegation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	if !ok {
		return domain.Delegation{}, fmt.Errorf("delegation %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

func (r *DelegationRepo) Save(_ context.Context, d domain.Delegation) error {
	if d.ID == "" {
		return fmt.Errorf("delegation without id: %w", domain.ErrInvalidDelegation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.MaxAmount != nil {
		v := *d.MaxAmount
		d.MaxAmount = &v
	}
	r.items[d.ID] = d
	return nil
}

package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

type ContinuityStore struct {
	mu           sync.RWMutex
	successors   map[string]domain.Successor
	replacements map[string]domain.Replacement
	absences     map[string]domain.AbsenceNotification
}

func NewContinuityStore() *ContinuityStore {
	return &ContinuityStore{
		successors:   make(map[string]domain.Successor),
		replacements: make(map[string]domain.Replacement),
		absences:     make(map[string]domain.AbsenceNotification),
	}
}

func (s *ContinuityStore) SaveSuccessor(_ context.Context, v domain.Successor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successors[v.ID] = v
	return nil
}

func (s *ContinuityStore) Successor(_ context.Context, id string) (domain.Successor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.successors[id]
	if !ok {
		return domain.Successor{}, fmt.Errorf("successor %s: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

// SuccessorsFor — по приоритету (1 — первым), затем по дате назначения.
func (s *ContinuityStore) SuccessorsFor(_ context.Context, delegationID string) ([]domain.Successor, error) {
	s.mu.RLock()
	var out []domain.Successor
	for _, v := range s.successors {
		if v.DelegationID == delegationID {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ContinuityStore) SaveReplacement(_ context.Context, r domain.Replacement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.AllowedOperations = slices.Clone(r.AllowedOperations)
	s.replacements[r.ID] = r
	return nil
}

func (s *ContinuityStore) Replacement(_ context.Context, id string) (domain.Replacement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replacements[id]
	if !ok {
		return domain.Replacement{}, fmt.Errorf("replacement %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (s *ContinuityStore) ReplacementsFor(_ context.Context, delegationID string) ([]domain.Replacement, error) {
	return s.replacementsWhere(func(r domain.Replacement) bool { return r.DelegationID == delegationID }), nil
}

func (s *ContinuityStore) ReplacementsByStatus(_ context.Context, statuses ...domain.ReplacementStatus) ([]domain.Replacement, error) {
	return s.replacementsWhere(func(r domain.Replacement) bool { return slices.Contains(statuses, r.Status) }), nil
}

func (s *ContinuityStore) replacementsWhere(keep func(domain.Replacement) bool) []domain.Replacement {
	s.mu.RLock()
	var out []domain.Replacement
	for _, r := range s.replacements {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}

func (s *ContinuityStore) SaveAbsence(_ context.Context, n domain.AbsenceNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.absences[n.ID] = n
	return nil
}

func (s *ContinuityStore) AbsencesFor(_ context.Context, agentID string) ([]domain.AbsenceNotification, error) {
	s.mu.RLock()
	var out []domain.AbsenceNotification
	for _, n := range s.absences {
		if n.AgentID == agentID {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
)

// TimelineStore — EventStore в памяти. FailNext позволяет тестам сымитировать отказ хранилища.
type TimelineStore struct {
	mu        sync.Mutex
	events    []domain.TimelineEvent
	snapshots []domain.ChangeSnapshot
	failNext  error
}

func NewTimelineStore() *TimelineStore {
	return &TimelineStore{}
}

func (s *TimelineStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *TimelineStore) Append(_ context.Context, events []domain.TimelineEvent, snapshots []domain.ChangeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.events = append(s.events, events...)
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

func (s *TimelineStore) Load(_ context.Context) ([]domain.TimelineEvent, []domain.ChangeSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events), slices.Clone(s.snapshots), nil
}

// AssessmentLog — AssessmentSink в памяти.
type AssessmentLog struct {
	mu      sync.Mutex
	items   []audit.Assessment
	batches int
}

func NewAssessmentLog() *AssessmentLog {
	return &AssessmentLog{}
}

func (l *AssessmentLog) WriteBatch(_ context.Context, batch []audit.Assessment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, batch...)
	l.batches++
	return nil
}

func (l *AssessmentLog) Items() []audit.Assessment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

func (l *AssessmentLog) Batches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batches
}

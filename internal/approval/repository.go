package approval

import (
	"context"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

// Repository — хранилище запросов на согласование.
type Repository interface {
	Create(ctx context.Context, req domain.ApprovalRequest) error
	// Get возвращает domain.ErrNotFound для неизвестного ID.
	Get(ctx context.Context, id string) (domain.ApprovalRequest, error)
	// Update сохраняет req только если версия в хранилище равна req.Version (иначе domain.ErrVersionConflict)
	// и возвращает запись с увеличенной версией.
	Update(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]domain.ApprovalRequest, error)
	ListByDelegation(ctx context.Context, delegationID string) ([]domain.ApprovalRequest, error)
}

// Recorder — журнал, в который пишутся переходы (audit.Timeline).
type Recorder interface {
	RecordEvent(ctx context.Context, e domain.TimelineEvent) (domain.TimelineEvent, error)
}

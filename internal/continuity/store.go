package continuity

import (
	"context"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

// Store — хранилище преемников, замен и уведомлений об отсутствии.
type Store interface {
	SaveSuccessor(ctx context.Context, s domain.Successor) error
	// Successor возвращает domain.ErrNotFound для неизвестного ID.
	Successor(ctx context.Context, id string) (domain.Successor, error)
	SuccessorsFor(ctx context.Context, delegationID string) ([]domain.Successor, error)

	SaveReplacement(ctx context.Context, r domain.Replacement) error
	Replacement(ctx context.Context, id string) (domain.Replacement, error)
	ReplacementsFor(ctx context.Context, delegationID string) ([]domain.Replacement, error)
	ReplacementsByStatus(ctx context.Context, statuses ...domain.ReplacementStatus) ([]domain.Replacement, error)

	SaveAbsence(ctx context.Context, n domain.AbsenceNotification) error
	AbsencesFor(ctx context.Context, agentID string) ([]domain.AbsenceNotification, error)
}

// Recorder — журнал, в который пишутся события замен (audit.Timeline).
type Recorder interface {
	RecordEvent(ctx context.Context, e domain.TimelineEvent) (domain.TimelineEvent, error)
}

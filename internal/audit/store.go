package audit

import (
	"context"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

// EventStore — долговременное append-only хранилище журнала. Журнал — источник истины,
// поэтому Timeline пишет в него синхронно и только потом индексирует событие в памяти.
type EventStore interface {
	// Append атомарно сохраняет события и связанные снимки.
	Append(ctx context.Context, events []domain.TimelineEvent, snapshots []domain.ChangeSnapshot) error
	// Load возвращает всё содержимое в порядке записи (для восстановления индекса при старте).
	Load(ctx context.Context) ([]domain.TimelineEvent, []domain.ChangeSnapshot, error)
}

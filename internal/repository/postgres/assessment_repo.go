package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/delegation-governance/internal/audit"
)

// Assessments — приёмник журнала оценок (audit.AssessmentSink).
type Assessments struct{ s *Store }

func (s *Store) Assessments() Assessments { return Assessments{s: s} }

func (a Assessments) WriteBatch(ctx context.Context, batch []audit.Assessment) error {
	if len(batch) == 0 {
		return nil
	}

	// Количество колонок в таблице assessments
	const numFields = 11
	var placeholders strings.Builder
	vals := make([]any, 0, len(batch)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range batch {
		if i > 0 {
			placeholders.WriteByte(',')
		}
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		payload, err := marshalNullable(e.Payload)
		if err != nil {
			return fmt.Errorf("postgres: encode assessment %s: %w", e.ID, err)
		}
		vals = append(vals,
			e.ID, e.Kind, e.DelegationID, e.HealthScore, e.Status,
			e.Alerts, e.Conflicts, e.Partial, payload, e.DurationMs, e.Timestamp,
		)
	}

	query := `INSERT INTO assessments
		(id, kind, delegation_id, health_score, status, alerts, conflicts, partial, payload, duration_ms, timestamp)
		VALUES ` + placeholders.String() + ` ON CONFLICT (id) DO NOTHING`

	if _, err := a.s.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write assessments: %w", err)
	}
	return nil
}

package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportJSON пишет аудит делегации одним JSON-документом.
func (t *Timeline) ExportJSON(w io.Writer, delegationID string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t.AuditTrail(delegationID)); err != nil {
		return fmt.Errorf("audit: export json: %w", err)
	}
	return nil
}

var csvHeader = []string{"id", "delegation_id", "timestamp", "type", "actor_id", "actor_name", "action", "description", "tags", "details"}

// ExportCSV — по строке на событие, новые первыми.
func (t *Timeline) ExportCSV(w io.Writer, delegationID string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit: export csv: %w", err)
	}
	for _, e := range t.Events(delegationID, Filter{}) {
		details := ""
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("audit: export csv details of %s: %w", e.ID, err)
			}
			details = string(raw)
		}
		row := []string{
			e.ID,
			e.DelegationID,
			e.Timestamp.Format(time.RFC3339),
			string(e.Type),
			e.Actor.ID,
			e.Actor.Name,
			e.Action,
			e.Description,
			strings.Join(e.Tags, ";"),
			details,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("audit: export csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("audit: export csv: %w", err)
	}
	return nil
}

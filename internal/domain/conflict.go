package domain

import "time"

type ConflictType string

const (
	ConflictDuplicate     ConflictType = "duplicate"
	ConflictOverlap       ConflictType = "overlap"
	ConflictHierarchy     ConflictType = "hierarchy"
	ConflictTemporal      ConflictType = "temporal"
	ConflictAmount        ConflictType = "amount"
	ConflictScope         ConflictType = "scope"
	ConflictAuthorization ConflictType = "authorization"
)

// ConflictResolution — вариант разрешения конфликта, исполняемый через CommandExecutor.
type ConflictResolution struct {
	ID             string  `json:"id"`
	Label          string  `json:"label"`
	Description    string  `json:"description,omitempty"`
	AutoApplicable bool    `json:"auto_applicable"`
	Command        Command `json:"command"`
}

// Conflict — несогласованность между несколькими записями (или нарушение инварианта одной записи).
// Единственное изменяемое поле — Resolved (и метки времени разрешения).
type Conflict struct {
	ID            string               `json:"id"`
	CheckID       string               `json:"check_id"`
	Type          ConflictType         `json:"type"`
	Severity      Severity             `json:"severity"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	DelegationIDs []string             `json:"delegation_ids"`
	DetectedAt    time.Time            `json:"detected_at"`
	Resolved      bool                 `json:"resolved"`
	ResolvedAt    *time.Time           `json:"resolved_at,omitempty"`
	ResolvedBy    string               `json:"resolved_by,omitempty"` // ID примененного ConflictResolution
	Resolutions   []ConflictResolution `json:"resolutions"`
}

func (c Conflict) Affects(delegationID string) bool {
	return containsID(c.DelegationIDs, delegationID)
}

// Resolution ищет вариант разрешения по ID.
func (c Conflict) Resolution(id string) (ConflictResolution, bool) {
	for _, r := range c.Resolutions {
		if r.ID == id {
			return r, true
		}
	}
	return ConflictResolution{}, false
}

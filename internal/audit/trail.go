package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

type TrailSummary struct {
	TotalEvents  int                      `json:"total_events"`
	FirstEventAt *time.Time               `json:"first_event_at,omitempty"`
	LastEventAt  *time.Time               `json:"last_event_at,omitempty"`
	Actors       []string                 `json:"actors"`
	MajorChanges int                      `json:"major_changes"`
	ByType       map[domain.EventType]int `json:"by_type"`
}

type ComplianceIssue struct {
	EventID   string           `json:"event_id"`
	Type      domain.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Issue     string           `json:"issue"`
}

// Trail — полный аудит делегации.
type Trail struct {
	DelegationID     string                  `json:"delegation_id"`
	Events           []domain.TimelineEvent  `json:"events"`
	Snapshots        []domain.ChangeSnapshot `json:"snapshots"`
	Summary          TrailSummary            `json:"summary"`
	ComplianceIssues []ComplianceIssue       `json:"compliance_issues"`
}

func (t *Timeline) AuditTrail(delegationID string) Trail {
	events := t.Events(delegationID, Filter{})
	trail := Trail{
		DelegationID:     delegationID,
		Events:           events,
		Snapshots:        t.ChangeHistory(delegationID),
		ComplianceIssues: make([]ComplianceIssue, 0),
		Summary: TrailSummary{
			TotalEvents: len(events),
			Actors:      make([]string, 0),
			ByType:      make(map[domain.EventType]int),
		},
	}

	actors := make(map[string]struct{})
	for _, e := range events {
		ts := e.Timestamp
		if trail.Summary.FirstEventAt == nil || ts.Before(*trail.Summary.FirstEventAt) {
			trail.Summary.FirstEventAt = &ts
		}
		if trail.Summary.LastEventAt == nil || ts.After(*trail.Summary.LastEventAt) {
			trail.Summary.LastEventAt = &ts
		}
		if e.Actor.ID != "" {
			actors[e.Actor.ID] = struct{}{}
		}
		trail.Summary.ByType[e.Type]++
		if e.Type.IsMajor() {
			trail.Summary.MajorChanges++
		}
		if e.Type.RequiresDetails() && len(e.Details) == 0 {
			trail.ComplianceIssues = append(trail.ComplianceIssues, ComplianceIssue{
				EventID:   e.ID,
				Type:      e.Type,
				Timestamp: e.Timestamp,
				Issue:     fmt.Sprintf("%s event recorded without details", e.Type),
			})
		}
	}
	for id := range actors {
		trail.Summary.Actors = append(trail.Summary.Actors, id)
	}
	sort.Strings(trail.Summary.Actors)
	return trail
}

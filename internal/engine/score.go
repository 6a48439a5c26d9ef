package engine

import (
	"fmt"
	"sort"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

// Веса штрафов оценки здоровья.
const (
	penaltyCriticalAlert    = 20
	penaltyHighAlert        = 10
	penaltyMediumAlert      = 5
	penaltyCriticalConflict = 15
	penaltyHighConflict     = 10
	penaltyNoBackup         = 15

	healthyThreshold = 80
	warningThreshold = 50
)

// HealthScore: 100 минус штрафы, не ниже 0.
func HealthScore(alerts []domain.Alert, conflicts []domain.Conflict, missingBackup bool) int {
	score := 100
	for _, a := range alerts {
		switch a.Severity {
		case domain.SeverityCritical:
			score -= penaltyCriticalAlert
		case domain.SeverityHigh:
			score -= penaltyHighAlert
		case domain.SeverityMedium:
			score -= penaltyMediumAlert
		}
	}
	for _, c := range conflicts {
		switch c.Severity {
		case domain.SeverityCritical:
			score -= penaltyCriticalConflict
		case domain.SeverityHigh:
			score -= penaltyHighConflict
		}
	}
	if missingBackup {
		score -= penaltyNoBackup
	}
	return max(score, 0)
}

func StatusFor(score int) domain.HealthStatus {
	switch {
	case score >= healthyThreshold:
		return domain.HealthHealthy
	case score >= warningThreshold:
		return domain.HealthWarning
	default:
		return domain.HealthCritical
	}
}

// needsBackup — штраф за отсутствие резерва получают только критичные активные делегации.
func needsBackup(d domain.Delegation, covered bool) bool {
	return d.IsCritical && d.IsActive() && !covered
}

func recommendations(d domain.Delegation, a domain.HealthAnalysis) []domain.Recommendation {
	out := make([]domain.Recommendation, 0)
	designates := false

	for _, al := range a.Alerts {
		for _, act := range al.Actions {
			cmd := act.Command
			if cmd.Kind == domain.CommandDesignateSuccessor {
				designates = true
			}
			out = append(out, domain.Recommendation{
				Source:       domain.SourceAlert,
				SourceID:     act.ID,
				DelegationID: d.ID,
				Priority:     al.Severity,
				Label:        act.Label,
				Command:      &cmd,
			})
		}
	}

	for _, c := range a.Conflicts {
		for _, r := range c.Resolutions {
			cmd := r.Command
			out = append(out, domain.Recommendation{
				Source:       domain.SourceConflict,
				SourceID:     r.ID,
				DelegationID: d.ID,
				Priority:     c.Severity,
				Label:        r.Label,
				Command:      &cmd,
			})
		}
	}

	if needsBackup(d, a.HasBackup) && !designates {
		out = append(out, domain.Recommendation{
			Source:       domain.SourceContinuity,
			SourceID:     d.ID,
			DelegationID: d.ID,
			Priority:     domain.SeverityHigh,
			Label:        "Designate a successor",
			Command: &domain.Command{
				Kind:          domain.CommandDesignateSuccessor,
				DelegationIDs: []string{d.ID},
				Payload:       map[string]any{domain.PayloadDelegationID: d.ID},
			},
		})
	}

	if p := a.PendingApproval; p != nil {
		out = append(out, domain.Recommendation{
			Source:       domain.SourceApproval,
			SourceID:     p.ID,
			DelegationID: d.ID,
			Priority:     domain.SeverityMedium,
			Label:        fmt.Sprintf("Decide the pending %s approval at level %d", p.WorkflowID, p.CurrentLevel),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"go.uber.org/zap"
)

// GenerateSystemHealthReport — отчёт по всему набору: один общий контекст и один проход конфликтов.
// Оцениваются активные делегации. При отмене ctx возвращается частичный отчёт вместе с ctx.Err().
func (g *GovernanceEngine) GenerateSystemHealthReport(ctx context.Context, all []domain.Delegation) (domain.SystemHealthReport, error) {
	start := time.Now()
	report := domain.SystemHealthReport{
		TotalDelegations:    len(all),
		StatusDistribution:  make(map[domain.HealthStatus]int),
		AlertsBySeverity:    make(map[domain.Severity]int),
		ConflictsByType:     make(map[domain.ConflictType]int),
		ConflictsBySeverity: make(map[domain.Severity]int),
		WithoutBackup:       make([]string, 0),
		ExpiringSoon:        make([]string, 0),
		LowestScores:        make([]domain.DelegationScore, 0),
		Recommendations:     make([]domain.Recommendation, 0),
	}

	covered, err := g.backups.Coverage(ctx, all)
	if err != nil {
		return report, fmt.Errorf("governance: backup coverage: %w", err)
	}
	ec := g.alerts.Snapshot(all, covered)
	report.GeneratedAt = ec.Now

	conflicts := g.conflicts.Detect(all)
	byDelegation := make(map[string][]domain.Conflict)
	for _, c := range conflicts {
		report.ConflictsByType[c.Type]++
		report.ConflictsBySeverity[c.Severity]++
		for _, id := range c.DelegationIDs {
			byDelegation[id] = append(byDelegation[id], c)
		}
	}

	scores := make([]domain.DelegationScore, 0, len(all))
	total := 0
	var runErr error
	for _, d := range all {
		if err := ctx.Err(); err != nil {
			report.Partial = true
			runErr = err
			break
		}
		if !d.IsActive() {
			continue
		}
		report.ActiveDelegations++

		a, err := g.analyze(ctx, d, ec, affecting(byDelegation[d.ID], d.ID))
		if err != nil {
			report.Partial = true
			runErr = err
			break
		}
		report.Analyzed++
		total += a.HealthScore
		report.StatusDistribution[a.Status]++
		for _, al := range a.Alerts {
			report.AlertsBySeverity[al.Severity]++
		}
		if needsBackup(d, a.HasBackup) {
			report.WithoutBackup = append(report.WithoutBackup, d.ID)
		}
		if !d.EndDate.Before(ec.Now) && d.ExpiresWithin(ec.Now, g.opts.ExpiringSoonDays) {
			report.ExpiringSoon = append(report.ExpiringSoon, d.ID)
		}
		for _, r := range a.Recommendations {
			if r.Priority.Rank() <= domain.SeverityHigh.Rank() {
				report.Recommendations = append(report.Recommendations, r)
			}
		}
		scores = append(scores, domain.DelegationScore{
			DelegationID: d.ID,
			AgentID:      d.AgentID,
			Bureau:       d.Bureau,
			HealthScore:  a.HealthScore,
			Status:       a.Status,
		})
		g.logAssessment(a, 0)
	}

	if report.Analyzed > 0 {
		report.AverageScore = float64(total) / float64(report.Analyzed)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].HealthScore != scores[j].HealthScore {
			return scores[i].HealthScore < scores[j].HealthScore
		}
		return scores[i].DelegationID < scores[j].DelegationID
	})
	if len(scores) > g.opts.ReportLowestN {
		scores = scores[:g.opts.ReportLowestN]
	}
	report.LowestScores = scores
	sort.SliceStable(report.Recommendations, func(i, j int) bool {
		return report.Recommendations[i].Priority.Rank() < report.Recommendations[j].Priority.Rank()
	})

	took := time.Since(start)
	if g.journal != nil {
		g.journal.Log(audit.Assessment{
			ID:          uuid.NewString(),
			Kind:        audit.AssessmentSystem,
			HealthScore: report.AverageScore,
			Alerts:      sumCounts(report.AlertsBySeverity),
			Conflicts:   len(conflicts),
			Partial:     report.Partial,
			Timestamp:   report.GeneratedAt,
			DurationMs:  took.Milliseconds(),
			Payload: map[string]any{
				"total":          report.TotalDelegations,
				"analyzed":       report.Analyzed,
				"without_backup": len(report.WithoutBackup),
				"expiring_soon":  len(report.ExpiringSoon),
			},
		})
	}

	g.logger.Info("system health report generated",
		zap.Int("total", report.TotalDelegations),
		zap.Int("analyzed", report.Analyzed),
		zap.Float64("average_score", report.AverageScore),
		zap.Int("conflicts", len(conflicts)),
		zap.Bool("partial", report.Partial),
		zap.Duration("took", took),
	)
	return report, runErr
}

func sumCounts[K comparable](m map[K]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

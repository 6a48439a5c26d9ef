package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

const (
	RuleExpirationImminent       = "expiration-imminent"
	RuleConflictingDuplicate     = "conflicting-duplicate"
	RuleAmountAnomaly            = "amount-anomaly"
	RuleCriticalWithoutBackup    = "critical-without-backup"
	RuleConsolidationOpportunity = "consolidation-opportunity"
	RuleLowUsage                 = "low-usage"
)

// Rule — чистое правило: Condition решает, срабатывает ли оно, Build собирает алерт.
type Rule struct {
	ID        string
	Name      string
	Enabled   bool
	Condition func(d domain.Delegation, ec *EvalContext) bool
	Build     func(d domain.Delegation, ec *EvalContext) domain.Alert
}

// BaselineRules — шесть базовых правил. Пороги читаются из ec.Thresholds в момент оценки.
func BaselineRules() []Rule {
	return []Rule{
		expirationRule(),
		duplicateRule(),
		amountAnomalyRule(),
		criticalWithoutBackupRule(),
		consolidationRule(),
		lowUsageRule(),
	}
}

func newAlert(ruleID string, d domain.Delegation, ec *EvalContext) domain.Alert {
	return domain.Alert{
		ID:            ruleID + ":" + d.ID,
		RuleID:        ruleID,
		DelegationIDs: []string{d.ID},
		DetectedAt:    ec.Now,
	}
}

func action(alertID string, kind domain.ActionKind, label string, cmd domain.Command) domain.AlertAction {
	return domain.AlertAction{
		ID:      alertID + ":" + string(kind),
		Label:   label,
		Kind:    kind,
		Command: cmd,
	}
}

func expirationRule() Rule {
	return Rule{
		ID:      RuleExpirationImminent,
		Name:    "Delegation expires soon",
		Enabled: true,
		Condition: func(d domain.Delegation, ec *EvalContext) bool {
			if !d.IsActive() || d.EndDate.Before(ec.Now) {
				return false
			}
			return d.ExpiresWithin(ec.Now, ec.Thresholds.ExpirationWarningDays)
		},
		Build: func(d domain.Delegation, ec *EvalContext) domain.Alert {
			days := d.DaysUntilEnd(ec.Now)
			a := newAlert(RuleExpirationImminent, d, ec)
			a.Type = domain.AlertExpiration
			a.Severity = domain.SeverityHigh
			if d.ExpiresWithin(ec.Now, ec.Thresholds.ExpirationCriticalDays) {
				a.Severity = domain.SeverityCritical
			}
			a.Title = "Delegation expires soon"
			a.Description = fmt.Sprintf("Delegation %s for agent %s expires in %d day(s)", d.ID, d.AgentID, days)
			a.BusinessImpact = "Signing authority lapses; pending operations in " + d.Bureau + " may be blocked"
			a.AutoResolvable = true

			extend := action(a.ID, domain.ActionExtend, "Extend by 30 days", domain.Command{
				Kind:          domain.CommandExtend,
				DelegationIDs: []string{d.ID},
				Payload: map[string]any{
					domain.PayloadDelegationID: d.ID,
					domain.PayloadEndDate:      d.EndDate.AddDate(0, 0, 30).Format(time.RFC3339),
					domain.PayloadExtendDays:   30,
				},
			})
			extend.Automatable = true
			extend.RequiresApproval = true
			extend.EstimatedDuration = 5 * time.Minute

			notify := action(a.ID, domain.ActionNotify, "Notify delegator", domain.Command{
				Kind:          domain.CommandNotify,
				DelegationIDs: []string{d.ID},
				Payload: map[string]any{
					domain.PayloadTargetAgent: d.DelegatorID,
					domain.PayloadMessage:     a.Description,
					domain.PayloadSeverity:    string(a.Severity),
				},
			})
			notify.Automatable = true
			notify.EstimatedDuration = time.Minute

			a.Actions = []domain.AlertAction{extend, notify}
			return a
		},
	}
}

func duplicateRule() Rule {
	return Rule{
		ID:      RuleConflictingDuplicate,
		Name:    "Duplicate delegation for the same agent",
		Enabled: true,
		Condition: func(d domain.Delegation, ec *EvalContext) bool {
			return d.IsActive() && len(ec.Duplicates(d)) > 0
		},
		Build: func(d domain.Delegation, ec *EvalContext) domain.Alert {
			dups := ec.Duplicates(d)
			ids := []string{d.ID}
			for _, p := range dups {
				ids = append(ids, p.ID)
			}
			sort.Strings(ids[1:])

			a := newAlert(RuleConflictingDuplicate, d, ec)
			a.Type = domain.AlertConflict
			a.Severity = domain.SeverityHigh
			a.DelegationIDs = ids
			a.Title = "Duplicate delegation"
			a.Description = fmt.Sprintf("Agent %s holds %d active %s delegations in bureau %s", d.AgentID, len(ids), d.Type, d.Bureau)
			a.BusinessImpact = "Ambiguous authority: limits and revocations may be applied to the wrong record"

			merge := action(a.ID, domain.ActionTransfer, "Merge into one delegation", domain.Command{
				Kind:          domain.CommandMerge,
				DelegationIDs: ids,
				Payload:       map[string]any{domain.PayloadKeepID: d.ID},
			})
			merge.RequiresApproval = true
			merge.EstimatedDuration = 15 * time.Minute

			suspend := action(a.ID, domain.ActionSuspend, "Suspend this delegation", domain.Command{
				Kind:          domain.CommandSuspend,
				DelegationIDs: []string{d.ID},
				Payload:       map[string]any{domain.PayloadDelegationID: d.ID},
			})
			suspend.Automatable = true
			suspend.RequiresApproval = true
			suspend.EstimatedDuration = time.Minute

			a.Actions = []domain.AlertAction{merge, suspend}
			return a
		},
	}
}

func amountAnomalyRule() Rule {
	return Rule{
		ID:      RuleAmountAnomaly,
		Name:    "Amount cap far above average",
		Enabled: true,
		Condition: func(d domain.Delegation, ec *EvalContext) bool {
			if !d.IsActive() || !d.HasCap() || ec.AverageCap <= 0 {
				return false
			}
			return d.Amount() > ec.Thresholds.AmountAnomalyFactor*ec.AverageCap
		},
		Build: func(d domain.Delegation, ec *EvalContext) domain.Alert {
			a := newAlert(RuleAmountAnomaly, d, ec)
			a.Type = domain.AlertAnomaly
			a.Severity = domain.SeverityMedium
			a.Title = "Unusual amount cap"
			a.Description = fmt.Sprintf("Cap %.2f exceeds %.1fx the average of active delegations (%.2f)",
				d.Amount(), ec.Thresholds.AmountAnomalyFactor, ec.AverageCap)
			a.BusinessImpact = "Financial exposure above the organisational norm"

			escalate := action(a.ID, domain.ActionEscalate, "Escalate for review", domain.Command{
				Kind:          domain.CommandEscalate,
				DelegationIDs: []string{d.ID},
				Payload: map[string]any{
					domain.PayloadDelegationID: d.ID,
					domain.PayloadMessage:      a.Description,
					domain.PayloadSeverity:     string(a.Severity),
				},
			})
			escalate.Automatable = true
			escalate.EstimatedDuration = time.Minute

			adjust := action(a.ID, domain.ActionCustom, "Cap at the average", domain.Command{
				Kind:          domain.CommandAdjustAmount,
				DelegationIDs: []string{d.ID},
				Payload: map[string]any{
					domain.PayloadDelegationID: d.ID,
					domain.PayloadMaxAmount:    ec.AverageCap,
				},
			})
			adjust.RequiresApproval = true
			adjust.EstimatedDuration = 10 * time.Minute

			a.Actions = []domain.AlertAction{escalate, adjust}
			return a
		},
	}
}

func criticalWithoutBackupRule() Rule {
	return Rule{
		ID:      RuleCriticalWithoutBackup,
		Name:    "Critical delegation without backup",
		Enabled: true,
		Condition: func(d domain.Delegation, ec *EvalContext) bool {
			return d.IsCritical && d.IsActive() && !ec.IsCovered(d)
		},
		Build: func(d domain.Delegation, ec *EvalContext) domain.Alert {
			a := newAlert(RuleCriticalWithoutBackup, d, ec)
			a.Type = domain.AlertCompliance
			a.Severity = domain.SeverityHigh
			a.Title = "Critical delegation without backup"
			a.Description = fmt.Sprintf("Delegation %s is critical and has no designated successor", d.ID)
			a.BusinessImpact = "Continuity risk: an absence of agent " + d.AgentID + " leaves the authority unassigned"

			designate := action(a.ID, domain.ActionCustom, "Designate a successor", domain.Command{
				Kind:          domain.CommandDesignateSuccessor,
				DelegationIDs: []string{d.ID},
				Payload:       map[string]any{domain.PayloadDelegationID: d.ID},
			})
			designate.RequiresApproval = true
			designate.EstimatedDuration = 30 * time.Minute

			notify := action(a.ID, domain.ActionNotify, "Notify delegator", domain.Command{
				Kind:          domain.CommandNotify,
				DelegationIDs: []string{d.ID},
				Payload: map[string]any{
					domain.PayloadTargetAgent: d.DelegatorID,
					domain.PayloadMessage:     a.Description,
					domain.PayloadSeverity:    string(a.Severity),
				},
			})
			notify.Automatable = true
			notify.EstimatedDuration = time.Minute

			a.Actions = []domain.AlertAction{designate, notify}
			return a
		},
	}
}

func consolidationRule() Rule {
	return Rule{
		ID:      RuleConsolidationOpportunity,
		Name:    "Similar delegations can be consolidated",
		Enabled: true,
		Condition: func(d domain.Delegation, ec *EvalContext) bool {
			return d.IsActive() && len(ec.Similar(d)) >= ec.Thresholds.ConsolidationMinPeers
		},
		Build: func(d domain.Delegation, ec *EvalContext) domain.Alert {
			similar := ec.Similar(d)
			ids := []string{d.ID}
			for _, p := range similar {
				ids = append(ids, p.ID)
			}
			sort.Strings(ids[1:])

			a := newAlert(RuleConsolidationOpportunity, d, ec)
			a.Type = domain.AlertOpportunity
			a.Severity = domain.SeverityInfo
			a.DelegationIDs = ids
			a.Title = "Consolidation opportunity"
			a.Description = fmt.Sprintf("%d other agents hold %s delegations in bureau %s", len(similar), d.Type, d.Bureau)

			review := action(a.ID, domain.ActionCustom, "Review for consolidation", domain.Command{
				Kind:          domain.CommandCustom,
				DelegationIDs: ids,
				Payload:       map[string]any{domain.PayloadMessage: a.Description},
			})
			review.RequiresApproval = true
			review.EstimatedDuration = time.Hour

			a.Actions = []domain.AlertAction{review}
			return a
		},
	}
}

func lowUsageRule() Rule {
	return Rule{
		ID:      RuleLowUsage,
		Name:    "Delegation is rarely used",
		Enabled: true,
		Condition: func(d domain.Delegation, ec *EvalContext) bool {
			if !d.IsActive() || d.CreatedAt.IsZero() {
				return false
			}
			minAge := time.Duration(ec.Thresholds.LowUsageMinAgeDays) * 24 * time.Hour
			return ec.Now.Sub(d.CreatedAt) > minAge && d.UsageCount < ec.Thresholds.LowUsageMaxUses
		},
		Build: func(d domain.Delegation, ec *EvalContext) domain.Alert {
			a := newAlert(RuleLowUsage, d, ec)
			a.Type = domain.AlertRisk
			a.Severity = domain.SeverityLow
			a.Title = "Rarely used delegation"
			a.Description = fmt.Sprintf("Delegation %s was used %d time(s) since %s",
				d.ID, d.UsageCount, d.CreatedAt.Format(time.DateOnly))
			a.BusinessImpact = "Dormant authority widens the attack surface"

			suspend := action(a.ID, domain.ActionSuspend, "Suspend delegation", domain.Command{
				Kind:          domain.CommandSuspend,
				DelegationIDs: []string{d.ID},
				Payload:       map[string]any{domain.PayloadDelegationID: d.ID},
			})
			suspend.Automatable = true
			suspend.RequiresApproval = true
			suspend.EstimatedDuration = time.Minute

			notify := action(a.ID, domain.ActionNotify, "Ask the delegator to confirm", domain.Command{
				Kind:          domain.CommandNotify,
				DelegationIDs: []string{d.ID},
				Payload: map[string]any{
					domain.PayloadTargetAgent: d.DelegatorID,
					domain.PayloadMessage:     a.Description,
					domain.PayloadSeverity:    string(a.Severity),
				},
			})
			notify.Automatable = true
			notify.EstimatedDuration = time.Minute

			a.Actions = []domain.AlertAction{suspend, notify}
			return a
		},
	}
}

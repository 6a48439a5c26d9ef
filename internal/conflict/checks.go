package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

const (
	CheckDuplicate = "duplicate"
	CheckOverlap   = "overlap"
	CheckHierarchy = "hierarchy"
	CheckTemporal  = "temporal"
	CheckAmount    = "amount"
)

// Check — независимая проверка инварианта над всем набором. Не мутирует вход.
type Check struct {
	ID     string
	Detect func(ds []domain.Delegation, now time.Time) []domain.Conflict
}

func BaselineChecks() []Check {
	return []Check{
		{ID: CheckDuplicate, Detect: detectDuplicates},
		{ID: CheckOverlap, Detect: detectOverlaps},
		{ID: CheckHierarchy, Detect: detectCircular},
		{ID: CheckTemporal, Detect: detectTemporal},
		{ID: CheckAmount, Detect: detectAmount},
	}
}

// conflictID: type:отсортированные id[:qualifier]. Один и тот же набор даёт один и тот же ID.
func conflictID(t domain.ConflictType, ids []string, qualifier string) string {
	sorted := sortedCopy(ids)
	id := string(t) + ":" + strings.Join(sorted, ",")
	if qualifier != "" {
		id += ":" + qualifier
	}
	return id
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func resolution(conflictID, suffix, label string, auto bool, cmd domain.Command) domain.ConflictResolution {
	return domain.ConflictResolution{
		ID:             conflictID + "/" + suffix,
		Label:          label,
		AutoApplicable: auto,
		Command:        cmd,
	}
}

func activeOnly(ds []domain.Delegation) []domain.Delegation {
	out := make([]domain.Delegation, 0, len(ds))
	for _, d := range ds {
		if d.IsActive() {
			out = append(out, d)
		}
	}
	return out
}

// mostRecent — делегация с самым поздним началом (при равенстве — с большим ID).
func mostRecent(group []domain.Delegation) domain.Delegation {
	best := group[0]
	for _, d := range group[1:] {
		if d.StartDate.After(best.StartDate) || (d.StartDate.Equal(best.StartDate) && d.ID > best.ID) {
			best = d
		}
	}
	return best
}

func detectDuplicates(ds []domain.Delegation, now time.Time) []domain.Conflict {
	groups := make(map[string][]domain.Delegation)
	var keys []string
	for _, d := range activeOnly(ds) {
		key := d.AgentID + "|" + d.Type + "|" + d.Bureau
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], d)
	}

	var out []domain.Conflict
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		ids := make([]string, 0, len(group))
		for _, d := range group {
			ids = append(ids, d.ID)
		}
		ids = sortedCopy(ids)
		id := conflictID(domain.ConflictDuplicate, ids, "")
		keep := mostRecent(group)
		first := group[0]

		out = append(out, domain.Conflict{
			ID:            id,
			CheckID:       CheckDuplicate,
			Type:          domain.ConflictDuplicate,
			Severity:      domain.SeverityHigh,
			Title:         "Duplicate delegations",
			Description:   fmt.Sprintf("Agent %s holds %d active %s delegations in bureau %s", first.AgentID, len(group), first.Type, first.Bureau),
			DelegationIDs: ids,
			DetectedAt:    now,
			Resolutions: []domain.ConflictResolution{
				resolution(id, "merge", "Merge into a single delegation", false, domain.Command{
					Kind:          domain.CommandMerge,
					DelegationIDs: ids,
					Payload:       map[string]any{domain.PayloadKeepID: keep.ID},
				}),
				resolution(id, "keep-most-recent", "Keep the most recent, revoke the others", false, domain.Command{
					Kind:          domain.CommandKeepMostRecent,
					DelegationIDs: ids,
					Payload:       map[string]any{domain.PayloadKeepID: keep.ID},
				}),
			},
		})
	}
	return out
}

func detectOverlaps(ds []domain.Delegation, now time.Time) []domain.Conflict {
	byPeer := make(map[string][]domain.Delegation)
	var keys []string
	for _, d := range activeOnly(ds) {
		if d.NormalizedScope() == "" {
			continue
		}
		k := d.PeerKey()
		if _, ok := byPeer[k]; !ok {
			keys = append(keys, k)
		}
		byPeer[k] = append(byPeer[k], d)
	}

	var out []domain.Conflict
	for _, k := range keys {
		bucket := byPeer[k]
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				// один и тот же агент — это уже duplicate
				if a.AgentID == b.AgentID || a.NormalizedScope() != b.NormalizedScope() {
					continue
				}
				ids := sortedCopy([]string{a.ID, b.ID})
				id := conflictID(domain.ConflictOverlap, ids, "")
				out = append(out, domain.Conflict{
					ID:            id,
					CheckID:       CheckOverlap,
					Type:          domain.ConflictOverlap,
					Severity:      domain.SeverityMedium,
					Title:         "Overlapping scope",
					Description:   fmt.Sprintf("Agents %s and %s share scope %q for %s in bureau %s", a.AgentID, b.AgentID, a.Scope, a.Type, a.Bureau),
					DelegationIDs: ids,
					DetectedAt:    now,
					Resolutions: []domain.ConflictResolution{
						resolution(id, "clarify-scope", "Clarify the scope of each delegation", false, domain.Command{
							Kind:          domain.CommandClarifyScope,
							DelegationIDs: ids,
						}),
						resolution(id, "merge", "Merge into a single delegation", false, domain.Command{
							Kind:          domain.CommandMerge,
							DelegationIDs: ids,
							Payload:       map[string]any{domain.PayloadKeepID: mostRecent([]domain.Delegation{a, b}).ID},
						}),
					},
				})
			}
		}
	}
	return out
}

func detectCircular(ds []domain.Delegation, now time.Time) []domain.Conflict {
	edges := make(map[string]domain.Delegation)
	active := activeOnly(ds)
	for _, d := range active {
		edges[d.DelegatorID+"->"+d.AgentID+"|"+d.Type] = d
	}

	var out []domain.Conflict
	seen := make(map[string]bool)
	for _, d := range active {
		if d.DelegatorID == d.AgentID {
			continue
		}
		back, ok := edges[d.AgentID+"->"+d.DelegatorID+"|"+d.Type]
		if !ok {
			continue
		}
		ids := sortedCopy([]string{d.ID, back.ID})
		id := conflictID(domain.ConflictHierarchy, ids, "")
		if seen[id] {
			continue
		}
		seen[id] = true

		// Отзываем более позднюю из двух, первая остаётся
		newer := mostRecent([]domain.Delegation{d, back})
		keep := d
		if newer.ID == d.ID {
			keep = back
		}

		out = append(out, domain.Conflict{
			ID:            id,
			CheckID:       CheckHierarchy,
			Type:          domain.ConflictHierarchy,
			Severity:      domain.SeverityCritical,
			Title:         "Circular delegation",
			Description:   fmt.Sprintf("%s and %s delegate %s authority to each other", d.DelegatorID, d.AgentID, d.Type),
			DelegationIDs: ids,
			DetectedAt:    now,
			Resolutions: []domain.ConflictResolution{
				resolution(id, "resolve-circularity", "Revoke the newer delegation", false, domain.Command{
					Kind:          domain.CommandResolveCircularity,
					DelegationIDs: ids,
					Payload:       map[string]any{domain.PayloadKeepID: keep.ID},
				}),
				resolution(id, "suspend", "Suspend the newer delegation", false, domain.Command{
					Kind:          domain.CommandSuspend,
					DelegationIDs: []string{newer.ID},
					Payload:       map[string]any{domain.PayloadDelegationID: newer.ID},
				}),
			},
		})
	}
	return out
}

func detectTemporal(ds []domain.Delegation, now time.Time) []domain.Conflict {
	var out []domain.Conflict
	for _, d := range ds {
		if d.EndDate.Before(d.StartDate) {
			id := conflictID(domain.ConflictTemporal, []string{d.ID}, "inverted")
			out = append(out, domain.Conflict{
				ID:            id,
				CheckID:       CheckTemporal,
				Type:          domain.ConflictTemporal,
				Severity:      domain.SeverityCritical,
				Title:         "End date before start date",
				Description:   fmt.Sprintf("Delegation %s ends %s before it starts %s", d.ID, d.EndDate.Format(time.DateOnly), d.StartDate.Format(time.DateOnly)),
				DelegationIDs: []string{d.ID},
				DetectedAt:    now,
				Resolutions: []domain.ConflictResolution{
					resolution(id, "fix-dates", "Swap start and end dates", false, domain.Command{
						Kind:          domain.CommandFixDates,
						DelegationIDs: []string{d.ID},
						Payload: map[string]any{
							domain.PayloadDelegationID: d.ID,
							domain.PayloadStartDate:    d.EndDate.Format(time.RFC3339),
							domain.PayloadEndDate:      d.StartDate.Format(time.RFC3339),
						},
					}),
				},
			})
		}

		if d.IsActive() && d.EndDate.Before(now) {
			id := conflictID(domain.ConflictTemporal, []string{d.ID}, "stale")
			out = append(out, domain.Conflict{
				ID:            id,
				CheckID:       CheckTemporal,
				Type:          domain.ConflictTemporal,
				Severity:      domain.SeverityHigh,
				Title:         "Active delegation past its end date",
				Description:   fmt.Sprintf("Delegation %s ended %s but is still active", d.ID, d.EndDate.Format(time.DateOnly)),
				DelegationIDs: []string{d.ID},
				DetectedAt:    now,
				Resolutions: []domain.ConflictResolution{
					resolution(id, "auto-expire", "Mark as expired", true, domain.Command{
						Kind:          domain.CommandAutoExpire,
						DelegationIDs: []string{d.ID},
						Payload:       map[string]any{domain.PayloadDelegationID: d.ID},
					}),
					resolution(id, "extend", "Extend by 30 days", false, domain.Command{
						Kind:          domain.CommandExtend,
						DelegationIDs: []string{d.ID},
						Payload: map[string]any{
							domain.PayloadDelegationID: d.ID,
							domain.PayloadEndDate:      now.AddDate(0, 0, 30).Format(time.RFC3339),
							domain.PayloadExtendDays:   30,
						},
					}),
				},
			})
		}
	}
	return out
}

func detectAmount(ds []domain.Delegation, now time.Time) []domain.Conflict {
	// Собственные лимиты делегирующих: agent|type -> активные делегации с лимитом
	held := make(map[string][]domain.Delegation)
	active := activeOnly(ds)
	for _, d := range active {
		if d.HasCap() {
			key := d.AgentID + "|" + d.Type
			held[key] = append(held[key], d)
		}
	}

	var out []domain.Conflict
	for _, d := range active {
		if !d.HasCap() {
			continue
		}
		parents := held[d.DelegatorID+"|"+d.Type]
		if len(parents) == 0 {
			continue
		}
		parent := parents[0]
		for _, p := range parents[1:] {
			if p.Amount() < parent.Amount() {
				parent = p
			}
		}
		if d.Amount() <= parent.Amount() {
			continue
		}

		ids := sortedCopy([]string{d.ID, parent.ID})
		id := conflictID(domain.ConflictAmount, ids, d.ID)
		out = append(out, domain.Conflict{
			ID:            id,
			CheckID:       CheckAmount,
			Type:          domain.ConflictAmount,
			Severity:      domain.SeverityHigh,
			Title:         "Cap exceeds the delegator's own cap",
			Description:   fmt.Sprintf("Delegation %s allows %.2f while delegator %s is capped at %.2f", d.ID, d.Amount(), d.DelegatorID, parent.Amount()),
			DelegationIDs: ids,
			DetectedAt:    now,
			Resolutions: []domain.ConflictResolution{
				resolution(id, "adjust-amount", "Cap at the delegator's amount", true, domain.Command{
					Kind:          domain.CommandAdjustAmount,
					DelegationIDs: []string{d.ID},
					Payload: map[string]any{
						domain.PayloadDelegationID: d.ID,
						domain.PayloadMaxAmount:    parent.Amount(),
					},
				}),
			},
		})
	}
	return out
}

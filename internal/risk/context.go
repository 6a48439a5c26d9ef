package risk

import (
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
)

// EvalContext — общий контекст прохода. Строится один раз на весь набор и только читается правилами.
type EvalContext struct {
	Now        time.Time
	Thresholds infra.RuleThresholds

	// Активные делегации, сгруппированные по (bureau,type)
	byPeer map[string][]domain.Delegation

	ActiveCount int
	AverageCap  float64

	// Делегации, покрытые назначенным преемником (флаг HasBackup проверяется отдельно)
	covered map[string]bool
}

// NewEvalContext индексирует активные делегации. covered может быть nil.
func NewEvalContext(now time.Time, ds []domain.Delegation, covered map[string]bool, th infra.RuleThresholds) *EvalContext {
	ec := &EvalContext{
		Now:        now,
		Thresholds: th,
		byPeer:     make(map[string][]domain.Delegation),
		covered:    covered,
	}

	var sum float64
	var capped int
	for _, d := range ds {
		if !d.IsActive() {
			continue
		}
		ec.ActiveCount++
		key := d.PeerKey()
		ec.byPeer[key] = append(ec.byPeer[key], d)
		if d.HasCap() {
			sum += d.Amount()
			capped++
		}
	}
	if capped > 0 {
		ec.AverageCap = sum / float64(capped)
	}
	return ec
}

// Peers — активные делегации с тем же (bureau,type), кроме самой d.
func (ec *EvalContext) Peers(d domain.Delegation) []domain.Delegation {
	bucket := ec.byPeer[d.PeerKey()]
	out := make([]domain.Delegation, 0, len(bucket))
	for _, p := range bucket {
		if p.ID != d.ID {
			out = append(out, p)
		}
	}
	return out
}

// Duplicates — соседи с тем же агентом.
func (ec *EvalContext) Duplicates(d domain.Delegation) []domain.Delegation {
	var out []domain.Delegation
	for _, p := range ec.Peers(d) {
		if p.AgentID == d.AgentID {
			out = append(out, p)
		}
	}
	return out
}

// Similar — соседи с другими агентами (кандидаты на консолидацию).
func (ec *EvalContext) Similar(d domain.Delegation) []domain.Delegation {
	var out []domain.Delegation
	for _, p := range ec.Peers(d) {
		if p.AgentID != d.AgentID {
			out = append(out, p)
		}
	}
	return out
}

// IsCovered — есть ли у делегации резерв: флаг HasBackup или назначенный преемник.
func (ec *EvalContext) IsCovered(d domain.Delegation) bool {
	return d.HasBackup || ec.covered[d.ID]
}

package continuity

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

type SweepResult struct {
	Activated []string `json:"activated"`
	Completed []string `json:"completed"`
	Failed    int      `json:"failed"`
	Skipped   bool     `json:"skipped"`
}

// CheckScheduledReplacements активирует наступившие auto-замены и завершает истёкшие.
// Повторный запуск ничего не меняет: переходы проверяются под тем же мьютексом, что и ручные.
func (m *Manager) CheckScheduledReplacements(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	unlock, ok, err := m.locker.TryLock(ctx, infra.RedisKeyLockReplacementSweep, m.lockTTL)
	if err != nil {
		return res, fmt.Errorf("continuity: replacement sweep lock: %w", err)
	}
	if !ok {
		res.Skipped = true
		return res, nil
	}
	defer unlock()

	start := time.Now()
	defer func() {
		m.metrics.SweepDuration.WithLabelValues("replacements").Observe(time.Since(start).Seconds())
	}()

	list, err := m.store.ReplacementsByStatus(ctx, domain.ReplacementScheduled, domain.ReplacementActive)
	if err != nil {
		return res, fmt.Errorf("continuity: list replacements: %w", err)
	}

	for _, r := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		activated, completed, err := m.sweepOne(ctx, r.ID)
		if err != nil {
			res.Failed++
			m.logger.Error("replacement sweep failed, continuing", zap.String("replacement_id", r.ID), zap.Error(err))
			continue
		}
		if activated {
			res.Activated = append(res.Activated, r.ID)
		}
		if completed {
			res.Completed = append(res.Completed, r.ID)
		}
	}

	if len(res.Activated) > 0 || len(res.Completed) > 0 {
		m.logger.Info("replacement sweep finished",
			zap.Int("activated", len(res.Activated)),
			zap.Int("completed", len(res.Completed)),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func (m *Manager) sweepOne(ctx context.Context, id string) (activated, completed bool, err error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	r, err := m.store.Replacement(ctx, id)
	if err != nil {
		return false, false, err
	}
	now := m.clock.Now()

	if r.Status == domain.ReplacementScheduled {
		if !r.AutoActivation || r.StartDate.After(now) {
			return false, false, nil
		}
		if r, err = m.transitionLocked(ctx, id, domain.ReplacementActive, domain.SystemActor); err != nil {
			return false, false, err
		}
		activated = true
		m.metrics.ReplacementTransitions.WithLabelValues(string(domain.ReplacementActive)).Inc()
	}

	if r.Status == domain.ReplacementActive && r.EndDate.Before(now) {
		if _, err = m.transitionLocked(ctx, id, domain.ReplacementCompleted, domain.SystemActor); err != nil {
			return activated, false, err
		}
		completed = true
		m.metrics.ReplacementTransitions.WithLabelValues(string(domain.ReplacementCompleted)).Inc()
	}
	return activated, completed, nil
}

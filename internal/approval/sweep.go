package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// SweepResult — итог одного прохода CheckTimeouts.
type SweepResult struct {
	Checked   int      `json:"checked"`
	Escalated []string `json:"escalated"`
	// Exhausted — просрочен последний уровень: эскалировать некуда, запрос остаётся pending
	Exhausted []string `json:"exhausted"`
	Failed    int      `json:"failed"`
	// Skipped — sweep уже выполняет другой процесс
	Skipped bool `json:"skipped"`
}

// CheckTimeouts — периодический sweep эскалаций. Идемпотентен: эскалация сбрасывает UpdatedAt,
// поэтому повторный проход не продвинет уровень ещё раз.
func (e *Engine) CheckTimeouts(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	unlock, ok, err := e.locker.TryLock(ctx, infra.RedisKeyLockTimeoutSweep, e.lockTTL)
	if err != nil {
		return res, fmt.Errorf("approval: timeout sweep lock: %w", err)
	}
	if !ok {
		res.Skipped = true
		return res, nil
	}
	defer unlock()

	start := time.Now()
	defer func() {
		e.metrics.SweepDuration.WithLabelValues("approval_timeouts").Observe(time.Since(start).Seconds())
	}()

	pending, err := e.repo.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("approval: list pending: %w", err)
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		outcome, err := e.escalateIfDue(ctx, p.ID)
		if err != nil {
			res.Failed++
			e.logger.Error("timeout check failed, continuing", zap.String("request_id", p.ID), zap.Error(err))
			continue
		}
		switch outcome {
		case outcomeEscalated:
			res.Escalated = append(res.Escalated, p.ID)
		case outcomeExhausted:
			res.Exhausted = append(res.Exhausted, p.ID)
		}
	}

	if len(res.Escalated) > 0 || len(res.Exhausted) > 0 || res.Failed > 0 {
		e.logger.Info("timeout sweep finished",
			zap.Int("checked", res.Checked),
			zap.Int("escalated", len(res.Escalated)),
			zap.Int("exhausted", len(res.Exhausted)),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

type escalationOutcome int

const (
	outcomeNone escalationOutcome = iota
	outcomeEscalated
	outcomeExhausted
)

// escalateIfDue берёт тот же мьютекс, что и живые переходы, и перечитывает запрос под ним.
func (e *Engine) escalateIfDue(ctx context.Context, id string) (escalationOutcome, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return outcomeNone, err
	}
	if req.IsTerminal() {
		return outcomeNone, nil
	}
	wf, err := e.workflows.Get(req.WorkflowID)
	if err != nil {
		return outcomeNone, err
	}
	level, ok := wf.LevelAt(req.CurrentLevel)
	if !ok || !level.AutoEscalate || level.TimeoutHours <= 0 {
		return outcomeNone, nil
	}

	now := e.clock.Now()
	if now.Sub(req.UpdatedAt) <= level.Timeout() {
		return outcomeNone, nil
	}

	next, hasNext := nextLevel(wf, req.CurrentLevel)
	if !hasNext {
		e.metrics.Escalations.WithLabelValues(wf.ID, "exhausted").Inc()
		e.logger.Warn("approval timed out at the last level, nowhere to escalate",
			zap.String("request_id", req.ID),
			zap.String("delegation_id", req.DelegationID),
			zap.Int("level", req.CurrentLevel),
		)
		return outcomeExhausted, nil
	}

	from := req.CurrentLevel
	req.Approvals = append(req.Approvals, domain.Approval{
		ID:         uuid.New().String(),
		Level:      from,
		ApproverID: domain.SystemActor.ID,
		Status:     domain.DecisionEscalated,
		Comments:   fmt.Sprintf("timeout of %dh exceeded", level.TimeoutHours),
		Timestamp:  now,
	})
	req.CurrentLevel = next
	req.UpdatedAt = now

	saved, err := e.repo.Update(ctx, req)
	if err != nil {
		return outcomeNone, err
	}

	e.metrics.Escalations.WithLabelValues(wf.ID, "escalated").Inc()
	e.logger.Warn("approval escalated on timeout",
		zap.String("request_id", saved.ID),
		zap.String("delegation_id", saved.DelegationID),
		zap.Int("from_level", from),
		zap.Int("to_level", saved.CurrentLevel),
	)
	e.record(ctx, saved, domain.EventEscalated, domain.SystemActor, "Approval escalated", map[string]any{
		"request_id":    saved.ID,
		"from_level":    from,
		"to_level":      saved.CurrentLevel,
		"timeout_hours": level.TimeoutHours,
	})
	return outcomeEscalated, nil
}

package conflict

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// Detector — Conflict Detector. Хранит последний набор конфликтов по ID, чтобы Resolve мог их найти.
type Detector struct {
	mu        sync.RWMutex
	checks    []Check
	conflicts map[string]domain.Conflict

	resolving *infra.KeyedMutex
	executor  domain.CommandExecutor
	clock     infra.Clock
	metrics   *infra.Metrics
	logger    *zap.Logger
}

func NewDetector(executor domain.CommandExecutor, clock infra.Clock, metrics *infra.Metrics, logger *zap.Logger) *Detector {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Detector{
		checks:    BaselineChecks(),
		conflicts: make(map[string]domain.Conflict),
		resolving: infra.NewKeyedMutex(),
		executor:  executor,
		clock:     infra.OrSystem(clock),
		metrics:   metrics,
		logger:    infra.OrNop(logger).Named("conflicts"),
	}
}

// Register добавляет проверку или заменяет существующую с тем же ID.
func (d *Detector) Register(c Check) error {
	if c.ID == "" || c.Detect == nil {
		return fmt.Errorf("conflicts: check must have id and detect func")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.checks {
		if d.checks[i].ID == c.ID {
			d.checks[i] = c
			return nil
		}
	}
	d.checks = append(d.checks, c)
	return nil
}

// Detect прогоняет все проверки и заменяет удерживаемый набор.
// Результат отсортирован по серьёзности, затем по ID.
func (d *Detector) Detect(ds []domain.Delegation) []domain.Conflict {
	now := d.clock.Now()

	d.mu.RLock()
	checks := make([]Check, len(d.checks))
	copy(checks, d.checks)
	d.mu.RUnlock()

	var found []domain.Conflict
	for _, c := range checks {
		res, err := d.runCheck(c, ds, now)
		if err != nil {
			d.metrics.RuleErrors.WithLabelValues(c.ID).Inc()
			d.logger.Error("conflict check failed, skipping", zap.String("check_id", c.ID), zap.Error(err))
			continue
		}
		found = append(found, res...)
	}

	sortConflicts(found)

	next := make(map[string]domain.Conflict, len(found))
	for _, c := range found {
		next[c.ID] = c
		d.metrics.ConflictsDetected.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
	}

	d.mu.Lock()
	d.conflicts = next
	d.mu.Unlock()

	d.logger.Debug("conflict pass finished", zap.Int("delegations", len(ds)), zap.Int("conflicts", len(found)))
	return found
}

func (d *Detector) runCheck(c Check, ds []domain.Delegation, now time.Time) (out []domain.Conflict, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.RecoverRule(c.ID, "", rec)
			out = nil
		}
	}()
	return c.Detect(ds, now), nil
}

func (d *Detector) Get(id string) (domain.Conflict, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conflicts[id]
	if !ok {
		return domain.Conflict{}, fmt.Errorf("conflict %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// Conflicts — весь удерживаемый набор.
func (d *Detector) Conflicts() []domain.Conflict {
	return d.filter(func(domain.Conflict) bool { return true })
}

func (d *Detector) Unresolved() []domain.Conflict {
	return d.filter(func(c domain.Conflict) bool { return !c.Resolved })
}

// For — конфликты, затрагивающие делегацию.
func (d *Detector) For(delegationID string) []domain.Conflict {
	return d.filter(func(c domain.Conflict) bool { return c.Affects(delegationID) })
}

func (d *Detector) filter(keep func(domain.Conflict) bool) []domain.Conflict {
	d.mu.RLock()
	out := make([]domain.Conflict, 0, len(d.conflicts))
	for _, c := range d.conflicts {
		if keep(c) {
			out = append(out, c)
		}
	}
	d.mu.RUnlock()
	sortConflicts(out)
	return out
}

// Resolve исполняет привязанную команду и помечает конфликт разрешённым.
// Resolve одного конфликта сериализуется, чтобы команда не выполнилась дважды.
func (d *Detector) Resolve(ctx context.Context, conflictID, resolutionID string) (domain.Conflict, error) {
	unlock := d.resolving.Lock(conflictID)
	defer unlock()

	c, err := d.Get(conflictID)
	if err != nil {
		return domain.Conflict{}, err
	}
	if c.Resolved {
		return c, fmt.Errorf("conflict %s already resolved: %w", conflictID, domain.ErrInvalidTransition)
	}
	res, ok := c.Resolution(resolutionID)
	if !ok {
		return c, fmt.Errorf("resolution %s of conflict %s: %w", resolutionID, conflictID, domain.ErrNotFound)
	}
	if d.executor == nil {
		return c, domain.ErrNoExecutor
	}

	if err := d.executor.Execute(ctx, res.Command); err != nil {
		d.logger.Warn("conflict resolution failed",
			zap.String("conflict_id", conflictID),
			zap.String("resolution_id", resolutionID),
			zap.Error(err),
		)
		return c, fmt.Errorf("execute resolution %s: %w", resolutionID, err)
	}

	now := d.clock.Now()
	c.Resolved = true
	c.ResolvedAt = &now
	c.ResolvedBy = resolutionID

	d.mu.Lock()
	// Набор мог быть пересобран параллельным Detect: сохраняем отметку только если конфликт ещё удерживается
	if _, still := d.conflicts[conflictID]; still {
		d.conflicts[conflictID] = c
	}
	d.mu.Unlock()

	d.logger.Info("conflict resolved",
		zap.String("conflict_id", conflictID),
		zap.String("resolution_id", resolutionID),
		zap.String("command", string(res.Command.Kind)),
	)
	return c, nil
}

func sortConflicts(cs []domain.Conflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := cs[i].Severity.Rank(), cs[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return cs[i].ID < cs[j].ID
	})
}

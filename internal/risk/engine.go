package risk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// Engine — Alert Engine: реестр правил и их оценка над снимком делегаций.
// Оценка не имеет побочных эффектов, кроме логов и метрик.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule

	thresholds infra.RuleThresholds
	clock      infra.Clock
	metrics    *infra.Metrics
	logger     *zap.Logger
}

func NewEngine(th infra.RuleThresholds, clock infra.Clock, metrics *infra.Metrics, logger *zap.Logger) *Engine {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Engine{
		rules:      BaselineRules(),
		thresholds: th,
		clock:      infra.OrSystem(clock),
		metrics:    metrics,
		logger:     infra.OrNop(logger).Named("alerts"),
	}
}

// Register добавляет правило или заменяет правило с тем же ID.
func (e *Engine) Register(r Rule) error {
	if r.ID == "" || r.Condition == nil || r.Build == nil {
		return fmt.Errorf("alerts: rule must have id, condition and build")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == r.ID {
			e.rules[i] = r
			return nil
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

func (e *Engine) SetEnabled(ruleID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == ruleID {
			e.rules[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("alerts: rule %s: %w", ruleID, domain.ErrNotFound)
}

// Rules возвращает копию реестра.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Snapshot строит общий контекст. covered — делегации с назначенным преемником.
func (e *Engine) Snapshot(ds []domain.Delegation, covered map[string]bool) *EvalContext {
	return NewEvalContext(e.clock.Now(), ds, covered, e.thresholds)
}

// Evaluate прогоняет все включённые правила по одной делегации.
// nil контекст означает «делегация без соседей».
func (e *Engine) Evaluate(d domain.Delegation, ec *EvalContext) []domain.Alert {
	if ec == nil {
		ec = e.Snapshot([]domain.Delegation{d}, nil)
	}

	var alerts []domain.Alert
	for _, r := range e.Rules() {
		if !r.Enabled {
			continue
		}
		alert, fired, err := e.evalRule(r, d, ec)
		if err != nil {
			var ruleErr *domain.RuleEvaluationError
			if errors.As(err, &ruleErr) {
				e.metrics.RuleErrors.WithLabelValues(ruleErr.RuleID).Inc()
			}
			e.logger.Error("rule evaluation failed, skipping",
				zap.String("rule_id", r.ID),
				zap.String("delegation_id", d.ID),
				zap.Error(err),
			)
			continue
		}
		if fired {
			e.metrics.AlertsRaised.WithLabelValues(alert.RuleID, string(alert.Severity)).Inc()
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// EvaluateAll строит контекст один раз и оценивает каждую делегацию набора.
func (e *Engine) EvaluateAll(ds []domain.Delegation, covered map[string]bool) []domain.Alert {
	ec := e.Snapshot(ds, covered)

	var all []domain.Alert
	for _, d := range ds {
		all = append(all, e.Evaluate(d, ec)...)
	}

	e.logger.Debug("alert pass finished",
		zap.Int("delegations", len(ds)),
		zap.Int("alerts", len(all)),
	)
	return all
}

// evalRule изолирует panic правила, чтобы одно сломанное правило не ослепило весь проход.
func (e *Engine) evalRule(r Rule, d domain.Delegation, ec *EvalContext) (alert domain.Alert, fired bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.RecoverRule(r.ID, d.ID, rec)
			fired = false
		}
	}()

	if !r.Condition(d, ec) {
		return domain.Alert{}, false, nil
	}
	alert = r.Build(d, ec)
	if alert.RuleID == "" {
		alert.RuleID = r.ID
	}
	return alert, true, nil
}

package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityWrapper оборачивает исполнителя команд: rate limit, circuit breaker, ретраи с back-off.
// Ошибки валидации (ErrInvalidDelegation, ErrInvalidTransition, ErrNotFound) не ретраятся и не выбивают предохранитель.
type ReliabilityWrapper struct {
	next    domain.CommandExecutor
	name    string
	cfg     infra.RemediationConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *infra.Metrics
	logger  *zap.Logger
}

func DefaultReliabilityConfig() infra.RemediationConfig {
	return infra.RemediationConfig{
		RatePerSecond: 100,
		Burst:         20,
		Attempts:      3,
		CallTimeout:   10 * time.Second,
		CBMaxRequests: 3,
		CBInterval:    5 * time.Second,
		CBTimeout:     30 * time.Second,
		CBMaxFailures: 5,
	}
}

func NewReliabilityWrapper(name string, next domain.CommandExecutor, cfg infra.RemediationConfig, metrics *infra.Metrics, logger *zap.Logger) *ReliabilityWrapper {
	def := DefaultReliabilityConfig()
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.CBMaxRequests == 0 {
		cfg.CBMaxRequests = def.CBMaxRequests
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = def.CBTimeout
	}
	if cfg.CBMaxFailures == 0 {
		cfg.CBMaxFailures = def.CBMaxFailures
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	logger = infra.OrNop(logger).Named("reliability")

	w := &ReliabilityWrapper{
		next:    next,
		name:    name,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		metrics: metrics,
		logger:  logger,
	}

	maxFailures := cfg.CBMaxFailures
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // через сколько CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
			logger.Warn("circuit breaker state changed",
				zap.String("executor", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return w
}

// isPermanent — ошибки, которые повтор не исправит.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidDelegation) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrNoExecutor)
}

func (w *ReliabilityWrapper) Execute(ctx context.Context, cmd domain.Command) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.Attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool { return !isPermanent(err) }),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// исполнитель сам сказал, когда приходить
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()
			return w.next.Execute(tCtx, cmd)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.metrics.RemediationCommands.WithLabelValues(string(cmd.Kind), "rejected").Inc()
		w.logger.Warn("command rejected by circuit breaker", zap.String("kind", string(cmd.Kind)))
	}
	return err
}

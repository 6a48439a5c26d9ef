package remediation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

const defaultExtendDays = 30

// DelegationStore — источник и приёмник делегаций (Postgres или память).
type DelegationStore interface {
	Get(ctx context.Context, id string) (domain.Delegation, error)
	Save(ctx context.Context, d domain.Delegation) error
}

// ChangeRecorder — журнал изменений (audit.Timeline).
type ChangeRecorder interface {
	RecordEventWithChange(ctx context.Context, e domain.TimelineEvent, before, after map[string]any) (domain.TimelineEvent, domain.ChangeSnapshot, error)
}

// Dispatcher — CommandExecutor, который применяет команды к хранилищу делегаций.
// Команды, требующие решения человека, уходят в Notifier.
type Dispatcher struct {
	store    DelegationStore
	timeline ChangeRecorder
	notifier Notifier
	actor    domain.Actor

	clock   infra.Clock
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewDispatcher(store DelegationStore, timeline ChangeRecorder, notifier Notifier, clock infra.Clock, metrics *infra.Metrics, logger *zap.Logger) *Dispatcher {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	logger = infra.OrNop(logger).Named("dispatcher")
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Dispatcher{
		store:    store,
		timeline: timeline,
		notifier: notifier,
		actor:    domain.SystemActor,
		clock:    infra.OrSystem(clock),
		metrics:  metrics,
		logger:   logger,
	}
}

// WithActor — копия диспетчера, которая подписывает изменения указанным актором,
// если в контексте команды инициатор не задан.
func (d *Dispatcher) WithActor(actor domain.Actor) *Dispatcher {
	cp := *d
	cp.actor = actor
	return &cp
}

func (d *Dispatcher) actorFor(ctx context.Context) domain.Actor {
	if a, ok := domain.ActorFromContext(ctx); ok {
		return a
	}
	return d.actor
}

func (d *Dispatcher) Execute(ctx context.Context, cmd domain.Command) error {
	err := d.execute(ctx, cmd)
	status := "success"
	if err != nil {
		status = "failed"
	}
	d.metrics.RemediationCommands.WithLabelValues(string(cmd.Kind), status).Inc()
	if err != nil {
		d.logger.Warn("command failed",
			zap.String("kind", string(cmd.Kind)),
			zap.Strings("delegation_ids", cmd.DelegationIDs),
			zap.Error(err),
		)
		return err
	}
	d.logger.Info("command applied",
		zap.String("kind", string(cmd.Kind)),
		zap.Strings("delegation_ids", cmd.DelegationIDs),
		zap.String("actor", d.actorFor(ctx).ID),
	)
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, cmd domain.Command) error {
	switch cmd.Kind {
	case domain.CommandExtend:
		return d.apply(ctx, cmd.Target(), domain.EventExtended, "Delegation extended", func(del *domain.Delegation) error {
			end, err := cmd.Time(domain.PayloadEndDate)
			if err != nil {
				days, ok := cmd.Float(domain.PayloadExtendDays)
				if !ok || days <= 0 {
					days = defaultExtendDays
				}
				end = del.EndDate.AddDate(0, 0, int(days))
			}
			if end.Before(del.StartDate) {
				return fmt.Errorf("extend %s to %s: %w", del.ID, end, domain.ErrInvalidDelegation)
			}
			del.EndDate = end
			if del.Status == domain.DelegationExpired {
				del.Status = domain.DelegationActive
			}
			return nil
		})

	case domain.CommandTransfer:
		target, ok := cmd.String(domain.PayloadTargetAgent)
		if !ok || target == "" {
			return fmt.Errorf("transfer without %s: %w", domain.PayloadTargetAgent, domain.ErrInvalidDelegation)
		}
		return d.apply(ctx, cmd.Target(), domain.EventTransferred, "Delegation transferred", func(del *domain.Delegation) error {
			del.AgentID = target
			return nil
		}, withDetail("target_agent_id", target))

	case domain.CommandSuspend:
		return d.apply(ctx, cmd.Target(), domain.EventSuspended, "Delegation suspended", func(del *domain.Delegation) error {
			return setStatus(del, domain.DelegationSuspended)
		}, withDetail("reason", reason(cmd, "suspended by remediation")))

	case domain.CommandAutoExpire:
		return d.apply(ctx, cmd.Target(), domain.EventExpired, "Delegation expired", func(del *domain.Delegation) error {
			return setStatus(del, domain.DelegationExpired)
		})

	case domain.CommandFixDates:
		start, err := cmd.Time(domain.PayloadStartDate)
		if err != nil {
			return fmt.Errorf("fix dates: %w: %w", err, domain.ErrInvalidDelegation)
		}
		end, err := cmd.Time(domain.PayloadEndDate)
		if err != nil {
			return fmt.Errorf("fix dates: %w: %w", err, domain.ErrInvalidDelegation)
		}
		if end.Before(start) {
			return fmt.Errorf("fix dates: end before start: %w", domain.ErrInvalidDelegation)
		}
		return d.apply(ctx, cmd.Target(), domain.EventModified, "Delegation dates fixed", func(del *domain.Delegation) error {
			del.StartDate, del.EndDate = start, end
			return nil
		})

	case domain.CommandAdjustAmount:
		amount, ok := cmd.Float(domain.PayloadMaxAmount)
		if !ok || amount < 0 {
			return fmt.Errorf("adjust amount without a valid %s: %w", domain.PayloadMaxAmount, domain.ErrInvalidDelegation)
		}
		return d.apply(ctx, cmd.Target(), domain.EventAmountChanged, "Delegation amount adjusted", func(del *domain.Delegation) error {
			del.MaxAmount = domain.Float(amount)
			return nil
		})

	case domain.CommandMerge, domain.CommandKeepMostRecent, domain.CommandResolveCircularity:
		return d.keepOne(ctx, cmd)

	case domain.CommandNotify, domain.CommandEscalate, domain.CommandClarifyScope,
		domain.CommandDesignateSuccessor, domain.CommandCustom:
		return d.notify(ctx, cmd)

	default:
		return fmt.Errorf("unsupported command %q: %w", cmd.Kind, domain.ErrNoExecutor)
	}
}

// keepOne оставляет keep_id, остальные делегации команды отзываются.
func (d *Dispatcher) keepOne(ctx context.Context, cmd domain.Command) error {
	keep, ok := cmd.String(domain.PayloadKeepID)
	if !ok || !slices.Contains(cmd.DelegationIDs, keep) {
		return fmt.Errorf("%s: %s must be one of the delegations: %w", cmd.Kind, domain.PayloadKeepID, domain.ErrInvalidDelegation)
	}

	var errs []error
	for _, id := range cmd.DelegationIDs {
		if id == keep {
			continue
		}
		err := d.apply(ctx, id, domain.EventRevoked, "Delegation revoked", func(del *domain.Delegation) error {
			return setStatus(del, domain.DelegationRevoked)
		}, withDetail("reason", string(cmd.Kind)), withDetail("kept_delegation_id", keep))
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) notify(ctx context.Context, cmd domain.Command) error {
	msg, _ := cmd.String(domain.PayloadMessage)
	if msg == "" {
		msg = fmt.Sprintf("%s requested for %v", cmd.Kind, cmd.DelegationIDs)
	}
	recipient, _ := cmd.String(domain.PayloadTargetAgent)
	severity, _ := cmd.String(domain.PayloadSeverity)

	if err := d.notifier.Notify(ctx, Notification{
		Kind:          cmd.Kind,
		DelegationIDs: cmd.DelegationIDs,
		Recipient:     recipient,
		Severity:      severity,
		Message:       msg,
		Timestamp:     d.clock.Now(),
	}); err != nil {
		return fmt.Errorf("notify %v: %w", cmd.DelegationIDs, err)
	}
	return nil
}

type applyOption func(e *domain.TimelineEvent)

func withDetail(key string, value any) applyOption {
	return func(e *domain.TimelineEvent) {
		if e.Details == nil {
			e.Details = make(map[string]any)
		}
		e.Details[key] = value
	}
}

// apply: чтение, изменение, запись, событие со снимком before/after.
func (d *Dispatcher) apply(ctx context.Context, id string, t domain.EventType, action string, mutate func(*domain.Delegation) error, opts ...applyOption) error {
	if id == "" {
		return fmt.Errorf("command without target delegation: %w", domain.ErrInvalidDelegation)
	}
	before, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	after := before
	if before.MaxAmount != nil {
		after.MaxAmount = domain.Float(*before.MaxAmount)
	}
	if err := mutate(&after); err != nil {
		return err
	}
	after.UpdatedAt = d.clock.Now()

	if err := d.store.Save(ctx, after); err != nil {
		return fmt.Errorf("save delegation %s: %w", id, err)
	}

	if d.timeline == nil {
		return nil
	}
	e := domain.TimelineEvent{
		DelegationID: id,
		Type:         t,
		Actor:        d.actorFor(ctx),
		Action:       action,
		Tags:         []string{"remediation"},
	}
	for _, opt := range opts {
		opt(&e)
	}
	if _, _, err := d.timeline.RecordEventWithChange(ctx, e, before.Snapshot(), after.Snapshot()); err != nil {
		// изменение уже сохранено, а событие потеряно
		d.logger.Error("delegation changed but event was not recorded",
			zap.String("delegation_id", id),
			zap.String("event", string(t)),
			zap.Error(err),
		)
		return fmt.Errorf("record %s for %s: %w", t, id, err)
	}
	return nil
}

func setStatus(del *domain.Delegation, status domain.DelegationStatus) error {
	if del.Status == status {
		return fmt.Errorf("delegation %s is already %s: %w", del.ID, status, domain.ErrInvalidTransition)
	}
	if del.Status == domain.DelegationRevoked {
		return fmt.Errorf("delegation %s is revoked: %w", del.ID, domain.ErrInvalidTransition)
	}
	del.Status = status
	return nil
}

func reason(cmd domain.Command, fallback string) string {
	if msg, ok := cmd.String(domain.PayloadMessage); ok && msg != "" {
		return msg
	}
	return fallback
}

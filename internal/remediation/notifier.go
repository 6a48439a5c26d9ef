package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// Notification — сообщение людям: notify, escalate и команды, которые требуют ручной работы.
type Notification struct {
	Kind          domain.CommandKind `json:"kind"`
	DelegationIDs []string           `json:"delegation_ids"`
	Recipient     string             `json:"recipient,omitempty"`
	Severity      string             `json:"severity,omitempty"`
	Message       string             `json:"message"`
	Timestamp     time.Time          `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier пишет уведомления в лог. Используется, когда Redis не настроен.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: infra.OrNop(logger).Named("notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.logger.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.Strings("delegation_ids", msg.DelegationIDs),
		zap.String("recipient", msg.Recipient),
		zap.String("severity", msg.Severity),
		zap.String("message", msg.Message),
	)
	return nil
}

// RedisNotifier публикует уведомления в Pub/Sub: эскалации в отдельный канал, остальное в канал алертов.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: infra.OrNop(logger).Named("notifier")}
}

func channelFor(kind domain.CommandKind) string {
	if kind == domain.CommandEscalate {
		return infra.RedisChanEscalations
	}
	return infra.RedisChanAlerts
}

func (n *RedisNotifier) Notify(ctx context.Context, msg Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notifier: marshal: %w", err)
	}
	if err := n.rdb.Publish(ctx, channelFor(msg.Kind), payload).Err(); err != nil {
		return fmt.Errorf("notifier: publish: %w", err)
	}
	return nil
}

// Listen подписывается на оба канала и отдаёт уведомления в handler до отмены ctx.
func (n *RedisNotifier) Listen(ctx context.Context, handler func(Notification)) error {
	pubsub := n.rdb.Subscribe(ctx, infra.RedisChanAlerts, infra.RedisChanEscalations)
	defer pubsub.Close()

	// Дожидаемся подтверждения подписки, иначе ошибки соединения всплывут только в канале
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("notifier: subscribe: %w", err)
	}

	ch := pubsub.Channel()
	n.logger.Info("notification listener started")
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				n.logger.Info("notification channel closed")
				return nil
			}
			var note Notification
			if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
				n.logger.Warn("malformed notification", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			handler(note)
		case <-ctx.Done():
			n.logger.Info("notification listener stopping by context...")
			return nil
		}
	}
}

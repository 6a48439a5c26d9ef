package domain

import (
	"context"
	"fmt"
	"time"
)

// CommandKind — что именно должен сделать внешний исполнитель.
type CommandKind string

const (
	CommandExtend             CommandKind = "extend"
	CommandTransfer           CommandKind = "transfer"
	CommandSuspend            CommandKind = "suspend"
	CommandNotify             CommandKind = "notify"
	CommandEscalate           CommandKind = "escalate"
	CommandMerge              CommandKind = "merge"
	CommandKeepMostRecent     CommandKind = "keep_most_recent"
	CommandClarifyScope       CommandKind = "clarify_scope"
	CommandResolveCircularity CommandKind = "resolve_circularity"
	CommandFixDates           CommandKind = "fix_dates"
	CommandAutoExpire         CommandKind = "auto_expire"
	CommandAdjustAmount       CommandKind = "adjust_amount"
	CommandDesignateSuccessor CommandKind = "designate_successor"
	CommandCustom             CommandKind = "custom"
)

// Ключи Payload, которые понимают исполнители.
const (
	PayloadDelegationID = "delegation_id"
	PayloadMaxAmount    = "max_amount"
	PayloadEndDate      = "end_date"
	PayloadStartDate    = "start_date"
	PayloadKeepID       = "keep_id"
	PayloadTargetAgent  = "target_agent_id"
	PayloadMessage      = "message"
	PayloadSeverity     = "severity"
	PayloadExtendDays   = "extend_days"
)

// Command — описание побочного эффекта (продлить, перенести, скорректировать лимит...).
// Движки только формируют команды; выполнение — забота CommandExecutor на границе системы.
type Command struct {
	Kind          CommandKind    `json:"kind"`
	DelegationIDs []string       `json:"delegation_ids"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// CommandExecutor — capability, через которую команды доходят до хранилища/уведомлений.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd Command) error
}

// ExecutorFunc позволяет передать функцию как CommandExecutor.
type ExecutorFunc func(ctx context.Context, cmd Command) error

func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

func (c Command) String(key string) (string, bool) {
	v, ok := c.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float читает числовое поле payload. Учитываем, что после JSON все числа — float64.
func (c Command) Float(key string) (float64, bool) {
	switch v := c.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Time читает дату из payload (time.Time или RFC3339-строка).
func (c Command) Time(key string) (time.Time, error) {
	switch v := c.Payload[key].(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("payload %s: %w", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("payload %s: missing or not a time", key)
	}
}

// Target — делегация, к которой применяется команда: явный delegation_id или первая из списка.
func (c Command) Target() string {
	if id, ok := c.String(PayloadDelegationID); ok && id != "" {
		return id
	}
	if len(c.DelegationIDs) > 0 {
		return c.DelegationIDs[0]
	}
	return ""
}

type actorKey struct{}

// ContextWithActor — инициатор команды. Исполнитель подписывает им изменения вместо своего актора по умолчанию.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != ""
}

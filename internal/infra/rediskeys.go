package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "governance"
)

// Ключи распределенных блокировок sweep-ов
const (
	RedisKeyLockTimeoutSweep     = RedisNamespace + ":lock:sweep:approval-timeouts"
	RedisKeyLockReplacementSweep = RedisNamespace + ":lock:sweep:replacements"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAlerts — уведомления об алертах и исполненных командах notify/escalate.
	RedisChanAlerts = RedisNamespace + ":alerts"
	// RedisChanEscalations — эскалации запросов на согласование.
	RedisChanEscalations = RedisNamespace + ":approvals:escalations"
)

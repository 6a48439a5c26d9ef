package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/delegation-governance/internal/domain"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
}

// ServerConfig описывает настройки HTTP-сервера консоли и эндпоинта метрик.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
// Если URL пуст, сервис поднимается на sqlite (журнал) и in-memory репозиториях.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RedisConfig описывает подключение к Redis (блокировки sweep-ов и Pub/Sub алертов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу, которым подписаны токены консоли.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Disabled      bool   `mapstructure:"disabled"` // только для локальной разработки
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// RuleThresholds — пороги базовых правил Alert Engine.
type RuleThresholds struct {
	ExpirationWarningDays  int     `mapstructure:"expiration_warning_days"`
	ExpirationCriticalDays int     `mapstructure:"expiration_critical_days"`
	AmountAnomalyFactor    float64 `mapstructure:"amount_anomaly_factor"`
	LowUsageMinAgeDays     int     `mapstructure:"low_usage_min_age_days"`
	LowUsageMaxUses        int     `mapstructure:"low_usage_max_uses"`
	ConsolidationMinPeers  int     `mapstructure:"consolidation_min_peers"`
}

// DefaultRuleThresholds — значения по умолчанию, совпадают с setDefaults.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		ExpirationWarningDays:  7,
		ExpirationCriticalDays: 1,
		AmountAnomalyFactor:    3,
		LowUsageMinAgeDays:     30,
		LowUsageMaxUses:        3,
		ConsolidationMinPeers:  2,
	}
}

// GovernanceConfig — настройки движков и фоновых sweep-ов.
type GovernanceConfig struct {
	Rules RuleThresholds `mapstructure:"rules"`

	TimeoutSweepInterval     time.Duration `mapstructure:"timeout_sweep_interval"`
	ReplacementSweepInterval time.Duration `mapstructure:"replacement_sweep_interval"`
	SweepLockTTL             time.Duration `mapstructure:"sweep_lock_ttl"`

	ActivityWindow   time.Duration `mapstructure:"activity_window"`
	ExpiringSoonDays int           `mapstructure:"expiring_soon_days"`
	ReportLowestN    int           `mapstructure:"report_lowest_n"`

	JournalBufferSize    int           `mapstructure:"journal_buffer_size"`
	JournalBatchSize     int           `mapstructure:"journal_batch_size"`
	JournalFlushInterval time.Duration `mapstructure:"journal_flush_interval"`

	Remediation RemediationConfig `mapstructure:"remediation"`
}

// RemediationConfig — надёжность вызовов внешнего исполнителя команд.
type RemediationConfig struct {
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Attempts      uint          `mapstructure:"attempts"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`
}

// ApprovalConfig позволяет перекрыть базовые шаблоны согласования.
// Пустой список — используются встроенные express/standard/enhanced.
type ApprovalConfig struct {
	Workflows []domain.ApprovalWorkflow `mapstructure:"workflows"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: GOVERNANCE_RULES_AMOUNT_ANOMALY_FACTOR=5
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. PEM-ключ либо прямо в ENV (Docker/K8s), либо файлом
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.sqlite_path", "governance.db")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	d := DefaultRuleThresholds()
	v.SetDefault("governance.rules.expiration_warning_days", d.ExpirationWarningDays)
	v.SetDefault("governance.rules.expiration_critical_days", d.ExpirationCriticalDays)
	v.SetDefault("governance.rules.amount_anomaly_factor", d.AmountAnomalyFactor)
	v.SetDefault("governance.rules.low_usage_min_age_days", d.LowUsageMinAgeDays)
	v.SetDefault("governance.rules.low_usage_max_uses", d.LowUsageMaxUses)
	v.SetDefault("governance.rules.consolidation_min_peers", d.ConsolidationMinPeers)

	v.SetDefault("governance.timeout_sweep_interval", 5*time.Minute)
	v.SetDefault("governance.replacement_sweep_interval", time.Minute)
	v.SetDefault("governance.sweep_lock_ttl", 30*time.Second)
	v.SetDefault("governance.activity_window", 30*24*time.Hour)
	v.SetDefault("governance.expiring_soon_days", 7)
	v.SetDefault("governance.report_lowest_n", 10)
	v.SetDefault("governance.journal_buffer_size", 1000)
	v.SetDefault("governance.journal_batch_size", 100)
	v.SetDefault("governance.journal_flush_interval", 500*time.Millisecond)

	v.SetDefault("governance.remediation.rate_per_second", 20)
	v.SetDefault("governance.remediation.burst", 5)
	v.SetDefault("governance.remediation.attempts", 3)
	v.SetDefault("governance.remediation.call_timeout", 10*time.Second)
	v.SetDefault("governance.remediation.cb_max_requests", 3)
	v.SetDefault("governance.remediation.cb_interval", 5*time.Second)
	v.SetDefault("governance.remediation.cb_timeout", 30*time.Second)
	v.SetDefault("governance.remediation.cb_max_failures", 5)
}

// loadKeyResource — ключ из ENV имеет приоритет над файлом
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}

package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

type DelegationStatus string

const (
	DelegationActive    DelegationStatus = "active"    // Полномочия действуют
	DelegationExpired   DelegationStatus = "expired"   // Срок истёк (проставляется sweep-ом)
	DelegationRevoked   DelegationStatus = "revoked"   // Отозвана делегирующим
	DelegationSuspended DelegationStatus = "suspended" // Временно приостановлена
)

// Delegation — передача полномочий подписи/решения от делегирующего (Delegator) агенту (Agent).
// Ограничивается бюро (Bureau), типом полномочий (Type) и, опционально, лимитом суммы.
type Delegation struct {
	ID          string `json:"id"`
	DelegatorID string `json:"delegator_id"`
	AgentID     string `json:"agent_id"`
	AgentName   string `json:"agent_name,omitempty"`
	Bureau      string `json:"bureau"` // Код организационного подразделения, например "BF"
	Type        string `json:"type"`   // Категория полномочий: signature, payment, ...
	Scope       string `json:"scope,omitempty"`

	// nil — лимит не задан (без ограничения суммы)
	MaxAmount *float64 `json:"max_amount,omitempty"`

	StartDate time.Time        `json:"start_date"`
	EndDate   time.Time        `json:"end_date"`
	Status    DelegationStatus `json:"status"`

	HasBackup  bool `json:"has_backup"`
	IsCritical bool `json:"is_critical"`
	UsageCount int  `json:"usage_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d Delegation) IsActive() bool {
	return d.Status == DelegationActive
}

// Amount возвращает лимит или 0, если лимит не задан.
func (d Delegation) Amount() float64 {
	if d.MaxAmount == nil {
		return 0
	}
	return *d.MaxAmount
}

func (d Delegation) HasCap() bool {
	return d.MaxAmount != nil
}

// DaysUntilEnd — сколько суток осталось до окончания, неполные сутки считаются целыми.
// Только для отображения: пороги сравниваются через ExpiresWithin.
func (d Delegation) DaysUntilEnd(now time.Time) int {
	return int(math.Ceil(d.EndDate.Sub(now).Hours() / 24))
}

// ExpiresWithin — срок истекает не позже чем через days суток от now (уже истёкший тоже подходит).
func (d Delegation) ExpiresWithin(now time.Time, days int) bool {
	return d.EndDate.Sub(now) <= time.Duration(days)*24*time.Hour
}

// PeerKey — ключ группировки (bureau,type), по нему индексируются «соседи» в движках правил.
func (d Delegation) PeerKey() string {
	return d.Bureau + "|" + d.Type
}

// NormalizedScope приводит периметр к сравнимому виду.
func (d Delegation) NormalizedScope() string {
	return strings.ToLower(strings.TrimSpace(d.Scope))
}

// Snapshot превращает делегацию в map для ChangeSnapshot (ключи совпадают с JSON-тегами).
func (d Delegation) Snapshot() map[string]any {
	raw, err := json.Marshal(d)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// Float — хелпер для литералов лимита в конфигурации и тестах.
func Float(v float64) *float64 {
	return &v
}

// Actor — кто выполняет действие. Источник идентичности внешний (токен консоли или CLI-флаг).
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// SystemActor используется sweep-ами и автоматическими переходами.
var SystemActor = Actor{ID: "system", Name: "Governance Engine", Role: "system"}

package domain

import "time"

type EventType string

const (
	EventCreated              EventType = "created"
	EventModified             EventType = "modified"
	EventExtended             EventType = "extended"
	EventRenewed              EventType = "renewed"
	EventSuspended            EventType = "suspended"
	EventReactivated          EventType = "reactivated"
	EventRevoked              EventType = "revoked"
	EventExpired              EventType = "expired"
	EventTransferred          EventType = "transferred"
	EventUsed                 EventType = "used"
	EventAmountChanged        EventType = "amount_changed"
	EventScopeChanged         EventType = "scope_changed"
	EventApprovalRequested    EventType = "approval_requested"
	EventApproved             EventType = "approved"
	EventRejected             EventType = "rejected"
	EventApprovalDelegated    EventType = "approval_delegated"
	EventEscalated            EventType = "escalated"
	EventReplacementAssigned  EventType = "replacement_assigned"
	EventReplacementActivated EventType = "replacement_activated"
	EventReplacementCompleted EventType = "replacement_completed"
	EventSuccessorDesignated  EventType = "successor_designated"
	EventConflictResolved     EventType = "conflict_resolved"
	EventRemediationApplied   EventType = "remediation_applied"
	EventDocumentAttached     EventType = "document_attached"
	EventCommentAdded         EventType = "comment_added"
	EventRestored             EventType = "restored"
)

// IsMajor — изменения, которые попадают в счетчик major changes аудита.
func (t EventType) IsMajor() bool {
	switch t {
	case EventRevoked, EventSuspended, EventTransferred, EventExtended, EventRenewed, EventRestored:
		return true
	}
	return false
}

// RequiresDetails — high-impact события обязаны нести details, иначе это compliance issue.
func (t EventType) RequiresDetails() bool {
	return t == EventSuspended || t == EventRevoked || t == EventTransferred
}

// TimelineEvent — запись журнала. Никогда не изменяется и не удаляется.
type TimelineEvent struct {
	ID           string         `json:"id"`
	DelegationID string         `json:"delegation_id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        Actor          `json:"actor"`
	Action       string         `json:"action"`
	Description  string         `json:"description,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Attachments  []string       `json:"attachments,omitempty"`
}

// ChangeSnapshot — пара before/after для события modified (или restored).
type ChangeSnapshot struct {
	ID            string         `json:"id"`
	DelegationID  string         `json:"delegation_id"`
	EventID       string         `json:"event_id"`
	Before        map[string]any `json:"before"`
	After         map[string]any `json:"after"`
	ChangedFields []string       `json:"changed_fields"`
	Actor         Actor          `json:"actor"`
	Timestamp     time.Time      `json:"timestamp"`
}

// FieldDiff — различие одного поля между версиями.
type FieldDiff struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

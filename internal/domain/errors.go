package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrWorkflowNotApplicable = errors.New("no approval workflow applicable to delegation")
	ErrUnauthorizedApprover  = errors.New("approver is not eligible for the current level")
	ErrDuplicateApproval     = errors.New("approver already decided at this level")
	ErrSelfApproval          = errors.New("requester cannot decide on own approval request")
	ErrVersionConflict       = errors.New("record was modified concurrently")
	ErrNoExecutor            = errors.New("no command executor configured")
	ErrInvalidDelegation     = errors.New("invalid delegation")
)

// RuleEvaluationError — правило (или проверка конфликтов) упало во время прохода.
// Ошибка логируется и правило пропускается, остальной батч продолжает работу.
type RuleEvaluationError struct {
	RuleID       string
	DelegationID string
	Cause        error
}

func (e *RuleEvaluationError) Error() string {
	if e.DelegationID == "" {
		return fmt.Sprintf("rule %s failed: %v", e.RuleID, e.Cause)
	}
	return fmt.Sprintf("rule %s failed on delegation %s: %v", e.RuleID, e.DelegationID, e.Cause)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Cause
}

// RecoverRule превращает panic внутри правила в RuleEvaluationError.
func RecoverRule(ruleID, delegationID string, recovered any) *RuleEvaluationError {
	cause, ok := recovered.(error)
	if !ok {
		cause = fmt.Errorf("%v", recovered)
	}
	return &RuleEvaluationError{RuleID: ruleID, DelegationID: delegationID, Cause: cause}
}

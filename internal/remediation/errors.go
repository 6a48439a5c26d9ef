package remediation

import (
	"fmt"
	"time"
)

// ThrottleError — исполнитель просит повторить не раньше RetryAfter (например, по заголовку Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

package lifecycle

import (
	"fmt"

	"github.com/sells-group/lead-alerts/internal/model"
)

// NotFoundError reports a command against an unknown alert id.
type NotFoundError struct {
	AlertID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lifecycle: alert %s not found", e.AlertID)
}

// InvalidStateError reports an illegal lifecycle transition. State is
// unchanged.
type InvalidStateError struct {
	AlertID string
	State   model.AlertState
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("lifecycle: cannot %s alert %s in state %s", e.Op, e.AlertID, e.State)
}

// ConflictError reports a compare-and-set that lost a race with a
// concurrent mutation. Callers may re-read and retry.
type ConflictError struct {
	AlertID  string
	Expected model.AlertState
	Actual   model.AlertState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lifecycle: alert %s changed concurrently: expected %s, found %s",
		e.AlertID, e.Expected, e.Actual)
}

// InvalidArgumentError reports a malformed command argument, e.g. a
// snooze deadline in the past.
type InvalidArgumentError struct {
	AlertID string
	Reason  string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("lifecycle: invalid argument for alert %s: %s", e.AlertID, e.Reason)
}

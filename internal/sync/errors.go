package sync

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a manual sync hits the
// single-flight guard. The periodic timer treats the same condition as
// a logged no-op instead.
var ErrSyncInProgress = errors.New("a sync is already in progress")

// ErrProductNotFound is returned by TrackChange for an unknown product id
var ErrProductNotFound = errors.New("product not found")

// ValidationError marks malformed input to an orchestrator entry
// point. Never retried, fails fast.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Msg)
}

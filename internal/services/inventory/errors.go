package inventory

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError means the external inventory store was unreachable.
// Always worth retrying later.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("inventory store unreachable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError means a statement against the external schema failed even
// after the adapter fell back to its narrow query. Usually a schema
// drift on the other side, not something a retry fixes.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("inventory query %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NotFoundError means a referenced external item or warehouse does not
// exist on the other side.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("inventory %s %s not found", e.Kind, e.ID)
}

// InsufficientStockError means applying the delta would drive the
// external quantity negative. Retrying blindly cannot help; an
// operator has to reconcile the two sides.
type InsufficientStockError struct {
	ItemID      int64
	WarehouseID string
	Available   float64
	Requested   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d in warehouse %s: have %.2f, need %.2f",
		e.ItemID, e.WarehouseID, e.Available, e.Requested)
}

// Retryable reports whether an automatic retry with backoff has a
// chance of succeeding. Connectivity problems and timeouts qualify;
// missing rows, negative stock and schema drift need an operator.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var nfErr *NotFoundError
	var stockErr *InsufficientStockError
	var queryErr *QueryError
	if errors.As(err, &nfErr) || errors.As(err, &stockErr) || errors.As(err, &queryErr) {
		return false
	}

	// Unknown failures get the benefit of the doubt; the retry cap
	// bounds the damage.
	return true
}

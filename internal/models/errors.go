package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a code or id did not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation marks configuration or sale requests that would
	// break a data invariant. They are rejected, never clamped.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInsufficientStock is returned when a sale would push sold count
	// past total stock.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrInvariantViolation)

	// ErrTransientConflict means a compare-and-swap lost a race. It is
	// retried internally and only escapes when retries are exhausted.
	ErrTransientConflict = errors.New("transient conflict")

	ErrEventCancelled        = errors.New("event is cancelled")
	ErrEventAlreadyCancelled = errors.New("event is already cancelled")
	ErrSalesClosed           = errors.New("sales are closed for this event")
	ErrInvalidInput          = errors.New("invalid input")
)

// Package errs defines the error kinds shared across the booking core.
// Services wrap these sentinels with fmt.Errorf("...: %w", ...) so callers
// can branch with errors.Is without depending on message text.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed amount or state input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an absent booking, payment, wallet or group booking.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds indicates a wallet debit exceeding its balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidStateTransition indicates a booking status change the state
	// machine rejects.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrNotRefundable indicates a payment that is already refunded or not in
	// a refundable status.
	ErrNotRefundable = errors.New("payment not refundable")

	// ErrForbidden indicates an actor not authorized for the target resource.
	ErrForbidden = errors.New("forbidden")

	// ErrImmutable indicates an attempted mutation of an append-only record.
	ErrImmutable = errors.New("record is immutable")

	// ErrConcurrencyConflict indicates a lock wait or serialization failure.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// NotFoundf wraps ErrNotFound with a formatted resource description.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Validationf wraps ErrValidation with a formatted description.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Forbiddenf wraps ErrForbidden with a formatted description.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

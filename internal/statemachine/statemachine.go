// Package statemachine validates booking status transitions. It is pure
// logic: no storage, no side effects, so every other component can reject an
// invalid status change before touching a row.
package statemachine

import (
	"fmt"

	"github.com/venuetap/venuetap/pkg/errs"
	"github.com/venuetap/venuetap/pkg/models"
)

// validTransitions is the full transition table. A missing key means the
// state is terminal.
var validTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingInitiated: {
		models.BookingPendingPayment,
		models.BookingPendingGroupPayment,
		models.BookingCancelled,
	},
	models.BookingPendingPayment: {
		models.BookingConfirmed,
		models.BookingCancelled,
		models.BookingExpired,
	},
	models.BookingPendingGroupPayment: {
		models.BookingConfirmed,
		models.BookingCancelled,
		models.BookingExpired,
	},
	models.BookingConfirmed: {
		models.BookingCheckedIn,
		models.BookingActive,
		models.BookingCancelled,
	},
	models.BookingCheckedIn: {
		models.BookingCompleted,
		models.BookingCancelled,
	},
	models.BookingActive: {
		models.BookingCompleted,
		models.BookingCancelled,
	},
	models.BookingCompleted: {},
	models.BookingCancelled: {},
	models.BookingExpired:   {},
}

// CanTransition reports whether the table allows moving from one status to
// another.
func CanTransition(from, to models.BookingStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(s models.BookingStatus) bool {
	return len(validTransitions[s]) == 0 && s != ""
}

// Transition moves the booking to the target status after validating the
// transition. On rejection the booking is left untouched.
func Transition(b *models.Booking, to models.BookingStatus) error {
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("cannot transition from %s to %s: %w", b.Status, to, errs.ErrInvalidStateTransition)
	}
	b.Status = to
	return nil
}

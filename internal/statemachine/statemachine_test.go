package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/venuetap/venuetap/pkg/errs"
	"github.com/venuetap/venuetap/pkg/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    models.BookingStatus
		to      models.BookingStatus
		allowed bool
	}{
		{"initiated to pending payment", models.BookingInitiated, models.BookingPendingPayment, true},
		{"initiated to pending group payment", models.BookingInitiated, models.BookingPendingGroupPayment, true},
		{"initiated to cancelled", models.BookingInitiated, models.BookingCancelled, true},
		{"initiated to confirmed", models.BookingInitiated, models.BookingConfirmed, false},
		{"initiated to completed", models.BookingInitiated, models.BookingCompleted, false},
		{"pending payment to confirmed", models.BookingPendingPayment, models.BookingConfirmed, true},
		{"pending payment to cancelled", models.BookingPendingPayment, models.BookingCancelled, true},
		{"pending payment to expired", models.BookingPendingPayment, models.BookingExpired, true},
		{"pending payment to checked in", models.BookingPendingPayment, models.BookingCheckedIn, false},
		{"pending group payment to confirmed", models.BookingPendingGroupPayment, models.BookingConfirmed, true},
		{"pending group payment to expired", models.BookingPendingGroupPayment, models.BookingExpired, true},
		{"pending group payment to cancelled", models.BookingPendingGroupPayment, models.BookingCancelled, true},
		{"confirmed to checked in", models.BookingConfirmed, models.BookingCheckedIn, true},
		{"confirmed to active", models.BookingConfirmed, models.BookingActive, true},
		{"confirmed to cancelled", models.BookingConfirmed, models.BookingCancelled, true},
		{"confirmed to expired", models.BookingConfirmed, models.BookingExpired, false},
		{"confirmed to completed", models.BookingConfirmed, models.BookingCompleted, false},
		{"checked in to completed", models.BookingCheckedIn, models.BookingCompleted, true},
		{"checked in to cancelled", models.BookingCheckedIn, models.BookingCancelled, true},
		{"active to completed", models.BookingActive, models.BookingCompleted, true},
		{"active to cancelled", models.BookingActive, models.BookingCancelled, true},
		{"completed is terminal", models.BookingCompleted, models.BookingCancelled, false},
		{"cancelled is terminal", models.BookingCancelled, models.BookingPendingPayment, false},
		{"expired is terminal", models.BookingExpired, models.BookingConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(models.BookingCompleted))
	assert.True(t, IsTerminal(models.BookingCancelled))
	assert.True(t, IsTerminal(models.BookingExpired))
	assert.False(t, IsTerminal(models.BookingInitiated))
	assert.False(t, IsTerminal(models.BookingConfirmed))
}

func TestTransitionMutatesOnlyWhenAllowed(t *testing.T) {
	b := &models.Booking{Status: models.BookingPendingPayment}

	err := Transition(b, models.BookingConfirmed)
	assert.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)

	err = Transition(b, models.BookingExpired)
	assert.ErrorIs(t, err, errs.ErrInvalidStateTransition)
	assert.Equal(t, models.BookingConfirmed, b.Status, "rejected transition must leave status untouched")
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/venuetap/venuetap/internal/audit"
	"github.com/venuetap/venuetap/internal/database"
	"github.com/venuetap/venuetap/internal/groupbooking"
	"github.com/venuetap/venuetap/internal/notification"
	"github.com/venuetap/venuetap/pkg/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestScheduler(t *testing.T) (*Scheduler, *gorm.DB, *notification.Recorder) {
	t.Helper()
	db := setupTestDB(t)
	auditSvc, err := audit.NewService(db, zap.NewNop(), 200)
	require.NoError(t, err)
	recorder := &notification.Recorder{}
	groupSvc, err := groupbooking.NewService(zap.NewNop(), db, auditSvc, recorder, 8*time.Minute)
	require.NoError(t, err)
	sched, err := New(zap.NewNop(), db, groupSvc, auditSvc, recorder, Config{
		LateArrivalInterval:  5 * time.Minute,
		LateArrivalThreshold: 15 * time.Minute,
		MaxLatePrompts:       3,
		GroupExpiryInterval:  time.Minute,
	})
	require.NoError(t, err)
	return sched, db, recorder
}

func confirmedBookingCreatedAgo(t *testing.T, db *gorm.DB, age time.Duration) *models.Booking {
	t.Helper()
	booking := &models.Booking{
		ID:            uuid.New(),
		BookingType:   models.BookingTypeTable,
		OwnerID:       uuid.New(),
		ResourceID:    uuid.New(),
		Status:        models.BookingConfirmed,
		PaymentStatus: models.PaymentFullyPaid,
		BasePrice:     dec("10000"),
		ServiceCharge: dec("400"),
		TotalAmount:   dec("10400"),
		CreatedAt:     time.Now().Add(-age),
	}
	require.NoError(t, db.Create(booking).Error)
	return booking
}

func TestLateArrivalSweepCancelsAfterMaxPrompts(t *testing.T) {
	sched, db, recorder := newTestScheduler(t)
	ctx := context.Background()

	booking := confirmedBookingCreatedAgo(t, db, 16*time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, sched.RunLateArrivalSweep(ctx))
	}

	var reloaded models.Booking
	require.NoError(t, db.First(&reloaded, "id = ?", booking.ID).Error)
	assert.Equal(t, models.BookingCancelled, reloaded.Status)
	require.NotNil(t, reloaded.CancelledAt)
	assert.Equal(t, true, reloaded.Metadata["autoCancelled"])
	assert.Equal(t, 3, reloaded.Metadata.Int("latePromptCount"))

	prompts, cancels := 0, 0
	for _, msg := range recorder.Messages() {
		switch msg.Kind {
		case notification.KindLateArrivalPrompt:
			prompts++
		case notification.KindBookingCancelled:
			cancels++
		}
	}
	assert.Equal(t, 2, prompts)
	assert.Equal(t, 1, cancels)

	// a cancelled booking drops out of the scan
	require.NoError(t, sched.RunLateArrivalSweep(ctx))
	assert.Len(t, recorder.Messages(), 3)
}

func TestLateArrivalSweepSkipsRecentAndCheckedIn(t *testing.T) {
	sched, db, recorder := newTestScheduler(t)
	ctx := context.Background()

	recent := confirmedBookingCreatedAgo(t, db, 5*time.Minute)

	checkedIn := confirmedBookingCreatedAgo(t, db, 20*time.Minute)
	now := time.Now()
	require.NoError(t, db.Model(&models.Booking{}).Where("id = ?", checkedIn.ID).
		Update("check_in_time", &now).Error)

	require.NoError(t, sched.RunLateArrivalSweep(ctx))

	var reloadedRecent models.Booking
	require.NoError(t, db.First(&reloadedRecent, "id = ?", recent.ID).Error)
	assert.Equal(t, models.BookingConfirmed, reloadedRecent.Status)

	var reloadedCheckedIn models.Booking
	require.NoError(t, db.First(&reloadedCheckedIn, "id = ?", checkedIn.ID).Error)
	assert.Equal(t, models.BookingConfirmed, reloadedCheckedIn.Status)
	assert.Empty(t, recorder.Messages())
}

func TestGroupExpirySweepSettlesLapsedGroups(t *testing.T) {
	sched, db, recorder := newTestScheduler(t)
	ctx := context.Background()

	initiator := uuid.New()
	booking := &models.Booking{
		ID:            uuid.New(),
		BookingType:   models.BookingTypeTicket,
		OwnerID:       initiator,
		ResourceID:    uuid.New(),
		Status:        models.BookingPendingGroupPayment,
		PaymentStatus: models.PaymentUnpaid,
		TotalAmount:   dec("10400"),
	}
	require.NoError(t, db.Create(booking).Error)

	group := &models.GroupBooking{
		ID:                  uuid.New(),
		BookingID:           booking.ID,
		InitiatorID:         initiator,
		ParticipantIDs:      models.StringArray{initiator.String()},
		ContributionTracker: models.ContributionMap{initiator.String(): dec("9000")},
		TotalRequired:       dec("10400"),
		TotalPaid:           dec("9000"),
		CountdownExpiresAt:  time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(group).Error)

	require.NoError(t, sched.RunGroupExpirySweep(ctx))

	var reloadedBooking models.Booking
	require.NoError(t, db.First(&reloadedBooking, "id = ?", booking.ID).Error)
	assert.Equal(t, models.BookingExpired, reloadedBooking.Status)
	assert.Equal(t, models.PaymentUnpaid, reloadedBooking.PaymentStatus)

	var reloadedGroup models.GroupBooking
	require.NoError(t, db.First(&reloadedGroup, "id = ?", group.ID).Error)
	require.NotNil(t, reloadedGroup.SettledAt)

	notices := len(recorder.Messages())
	assert.Equal(t, 1, notices)

	// a second sweep is a no-op and must not re-notify
	require.NoError(t, sched.RunGroupExpirySweep(ctx))
	assert.Len(t, recorder.Messages(), notices)
}

func TestStartStop(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	sched.Stop()
}

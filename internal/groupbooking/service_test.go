package groupbooking

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
	"github.com/venuetap/venuetap/internal/notification"
	"github.com/venuetap/venuetap/pkg/errs"
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

func newTestService(t *testing.T, window time.Duration) (GroupBookingService, *gorm.DB, *notification.Recorder) {
	t.Helper()
	db := setupTestDB(t)
	auditSvc, err := audit.NewService(db, zap.NewNop(), 200)
	require.NoError(t, err)
	recorder := &notification.Recorder{}
	svc, err := NewService(zap.NewNop(), db, auditSvc, recorder, window)
	require.NoError(t, err)
	return svc, db, recorder
}

func draftBooking(owner uuid.UUID) *models.Booking {
	return &models.Booking{
		ID:            uuid.New(),
		BookingType:   models.BookingTypeTable,
		OwnerID:       owner,
		ResourceID:    uuid.New(),
		Status:        models.BookingPendingGroupPayment,
		PaymentStatus: models.PaymentUnpaid,
		BasePrice:     dec("10000"),
		ServiceCharge: dec("400"),
		TotalAmount:   dec("10400"),
	}
}

func TestCreateGroupBooking(t *testing.T) {
	svc, db, _ := newTestService(t, 8*time.Minute)
	ctx := context.Background()

	initiator := uuid.New()
	p2, p3 := uuid.New(), uuid.New()
	booking := draftBooking(initiator)

	group, err := svc.CreateGroupBooking(ctx, booking, initiator, []uuid.UUID{p2, p3, initiator})
	require.NoError(t, err)

	assert.Equal(t, booking.ID, group.BookingID)
	assert.Equal(t, initiator, group.InitiatorID)
	require.Len(t, group.ParticipantIDs, 3, "initiator listed once")
	assert.Equal(t, initiator.String(), group.ParticipantIDs[0])
	assert.True(t, group.TotalRequired.Equal(dec("10400")))
	assert.True(t, group.CountdownExpiresAt.After(time.Now().Add(7*time.Minute)))

	var storedBooking models.Booking
	require.NoError(t, db.First(&storedBooking, "id = ?", booking.ID).Error)
	assert.Equal(t, models.BookingPendingGroupPayment, storedBooking.Status)
	require.NotNil(t, storedBooking.GroupID)
	assert.Equal(t, group.ID, *storedBooking.GroupID)
}

func TestContributeLastWriteWins(t *testing.T) {
	svc, _, _ := newTestService(t, 8*time.Minute)
	ctx := context.Background()

	initiator, p2 := uuid.New(), uuid.New()
	group, err := svc.CreateGroupBooking(ctx, draftBooking(initiator), initiator, []uuid.UUID{p2})
	require.NoError(t, err)

	_, err = svc.Contribute(ctx, group.ID, p2, dec("3000"))
	require.NoError(t, err)

	// a repeat replaces the first figure instead of adding to it
	updated, err := svc.Contribute(ctx, group.ID, p2, dec("2000"))
	require.NoError(t, err)
	assert.True(t, updated.TotalPaid.Equal(dec("2000")), "total paid = %s", updated.TotalPaid)
	assert.True(t, updated.ContributionTracker[p2.String()].Equal(dec("2000")))
}

func TestContributeRejectsNonParticipant(t *testing.T) {
	svc, _, _ := newTestService(t, 8*time.Minute)
	ctx := context.Background()

	initiator := uuid.New()
	group, err := svc.CreateGroupBooking(ctx, draftBooking(initiator), initiator, nil)
	require.NoError(t, err)

	_, err = svc.Contribute(ctx, group.ID, uuid.New(), dec("1000"))
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestContributeValidation(t *testing.T) {
	svc, _, _ := newTestService(t, 8*time.Minute)
	_, err := svc.Contribute(context.Background(), uuid.New(), uuid.New(), dec("0"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestContributeSettlesEarlyWhenFunded(t *testing.T) {
	svc, db, recorder := newTestService(t, 8*time.Minute)
	ctx := context.Background()

	initiator, p2 := uuid.New(), uuid.New()
	booking := draftBooking(initiator)
	group, err := svc.CreateGroupBooking(ctx, booking, initiator, []uuid.UUID{p2})
	require.NoError(t, err)

	_, err = svc.Contribute(ctx, group.ID, initiator, dec("6000"))
	require.NoError(t, err)
	_, err = svc.Contribute(ctx, group.ID, p2, dec("4400"))
	require.NoError(t, err)

	var storedBooking models.Booking
	require.NoError(t, db.First(&storedBooking, "id = ?", booking.ID).Error)
	assert.Equal(t, models.BookingConfirmed, storedBooking.Status)
	assert.Equal(t, models.PaymentFullyPaid, storedBooking.PaymentStatus)

	var storedGroup models.GroupBooking
	require.NoError(t, db.First(&storedGroup, "id = ?", group.ID).Error)
	assert.NotNil(t, storedGroup.SettledAt)

	kinds := map[string]int{}
	for _, msg := range recorder.Messages() {
		kinds[msg.Kind]++
	}
	assert.Equal(t, 2, kinds[notification.KindGroupConfirmed], "both participants notified once")
}

func TestSettleUnderfundedExpires(t *testing.T) {
	svc, db, recorder := newTestService(t, time.Millisecond)
	ctx := context.Background()

	initiator, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	booking := draftBooking(initiator)
	group, err := svc.CreateGroupBooking(ctx, booking, initiator, []uuid.UUID{p2, p3})
	require.NoError(t, err)

	_, err = svc.Contribute(ctx, group.ID, initiator, dec("3000"))
	require.NoError(t, err)
	_, err = svc.Contribute(ctx, group.ID, p2, dec("3000"))
	require.NoError(t, err)
	_, err = svc.Contribute(ctx, group.ID, p3, dec("3000"))
	require.NoError(t, err)

	require.NoError(t, svc.Settle(ctx, group.ID))

	var storedBooking models.Booking
	require.NoError(t, db.First(&storedBooking, "id = ?", booking.ID).Error)
	assert.Equal(t, models.BookingExpired, storedBooking.Status)
	assert.Equal(t, models.PaymentUnpaid, storedBooking.PaymentStatus)

	expiredNotices := 0
	for _, msg := range recorder.Messages() {
		if msg.Kind == notification.KindGroupExpired {
			expiredNotices++
		}
	}
	assert.Equal(t, 3, expiredNotices)

	// settling again is a no-op and must not re-notify
	require.NoError(t, svc.Settle(ctx, group.ID))
	repeat := 0
	for _, msg := range recorder.Messages() {
		if msg.Kind == notification.KindGroupExpired {
			repeat++
		}
	}
	assert.Equal(t, 3, repeat)
}

func TestContributeAfterSettlementRejected(t *testing.T) {
	svc, _, _ := newTestService(t, time.Millisecond)
	ctx := context.Background()

	initiator := uuid.New()
	group, err := svc.CreateGroupBooking(ctx, draftBooking(initiator), initiator, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Settle(ctx, group.ID))

	_, err = svc.Contribute(ctx, group.ID, initiator, dec("100"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestGetStatus(t *testing.T) {
	svc, _, _ := newTestService(t, 8*time.Minute)
	ctx := context.Background()

	initiator, p2 := uuid.New(), uuid.New()
	group, err := svc.CreateGroupBooking(ctx, draftBooking(initiator), initiator, []uuid.UUID{p2})
	require.NoError(t, err)

	_, err = svc.Contribute(ctx, group.ID, p2, dec("5200"))
	require.NoError(t, err)

	status, err := svc.GetStatus(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, status.TotalPaid.Equal(dec("5200")))
	assert.True(t, status.PercentageFunded.Equal(dec("50")), "percentage = %s", status.PercentageFunded)
	assert.False(t, status.Expired)
	assert.False(t, status.Settled)
	assert.Equal(t, "5200.00", status.Contributions[p2.String()])
	assert.Greater(t, status.MinutesRemaining, int64(5))
}

func TestListExpired(t *testing.T) {
	svc, _, _ := newTestService(t, time.Millisecond)
	ctx := context.Background()

	initiator := uuid.New()
	group, err := svc.CreateGroupBooking(ctx, draftBooking(initiator), initiator, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	ids, err := svc.ListExpired(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, group.ID)

	require.NoError(t, svc.Settle(ctx, group.ID))

	ids, err = svc.ListExpired(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, group.ID)
}

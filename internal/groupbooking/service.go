// Package groupbooking tracks per-participant contributions toward a shared
// booking and settles the group when its countdown lapses or the target is
// reached early.
package groupbooking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuetap/venuetap/internal/audit"
	"github.com/venuetap/venuetap/internal/database"
	"github.com/venuetap/venuetap/internal/notification"
	"github.com/venuetap/venuetap/internal/statemachine"
	"github.com/venuetap/venuetap/pkg/errs"
	"github.com/venuetap/venuetap/pkg/models"
)

// Status is the live progress view of one group booking.
type Status struct {
	GroupBookingID   uuid.UUID         `json:"groupBookingId"`
	BookingID        uuid.UUID         `json:"bookingId"`
	RequiredAmount   decimal.Decimal   `json:"requiredAmount"`
	TotalPaid        decimal.Decimal   `json:"totalPaid"`
	PercentageFunded decimal.Decimal   `json:"percentageFunded"`
	MinutesRemaining int64             `json:"minutesRemaining"`
	Expired          bool              `json:"expired"`
	Settled          bool              `json:"settled"`
	Contributions    map[string]string `json:"contributions"`
}

// GroupBookingService defines group funding operations.
type GroupBookingService interface {
	CreateGroupBooking(ctx context.Context, booking *models.Booking, initiatorID uuid.UUID, participantIDs []uuid.UUID) (*models.GroupBooking, error)
	Contribute(ctx context.Context, groupBookingID, participantID uuid.UUID, amount decimal.Decimal) (*models.GroupBooking, error)
	Settle(ctx context.Context, groupBookingID uuid.UUID) error
	GetStatus(ctx context.Context, groupBookingID uuid.UUID) (*Status, error)
	ListExpired(ctx context.Context) ([]uuid.UUID, error)
}

// Service implements GroupBookingService.
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	auditor  audit.Sink
	notifier notification.Notifier
	window   time.Duration
}

// NewService creates a new GroupBookingService. window is the funding
// countdown applied to every new group.
func NewService(logger *zap.Logger, db *gorm.DB, auditor audit.Sink, notifier notification.Notifier, window time.Duration) (GroupBookingService, error) {
	if logger == nil || db == nil {
		return nil, fmt.Errorf("logger and database are required")
	}
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &Service{logger: logger, db: db, auditor: auditor, notifier: notifier, window: window}, nil
}

// CreateGroupBooking persists the booking together with its group tracker in
// one transaction. The initiator is always the first participant.
func (s *Service) CreateGroupBooking(ctx context.Context, booking *models.Booking, initiatorID uuid.UUID, participantIDs []uuid.UUID) (*models.GroupBooking, error) {
	if booking == nil {
		return nil, errs.Validationf("booking is required")
	}

	participants := models.StringArray{initiatorID.String()}
	for _, id := range participantIDs {
		if id == initiatorID || participants.Contains(id.String()) {
			continue
		}
		participants = append(participants, id.String())
	}

	group := &models.GroupBooking{
		ID:                  uuid.New(),
		BookingID:           booking.ID,
		InitiatorID:         initiatorID,
		ParticipantIDs:      participants,
		ContributionTracker: models.ContributionMap{},
		TotalPaid:           decimal.Zero,
		TotalRequired:       booking.TotalAmount,
		CountdownExpiresAt:  time.Now().Add(s.window),
	}

	booking.GroupID = &group.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(booking).Error; err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}
		if err := tx.Create(group).Error; err != nil {
			return fmt.Errorf("failed to create group booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group booking created",
		zap.String("group_booking_id", group.ID.String()),
		zap.String("booking_id", booking.ID.String()),
		zap.Int("participants", len(participants)),
		zap.Time("countdown_expires_at", group.CountdownExpiresAt))

	return group, nil
}

// Contribute records a participant's contribution. A repeat contribution by
// the same participant replaces the earlier figure rather than adding to it;
// the tracker holds each participant's latest declared amount.
func (s *Service) Contribute(ctx context.Context, groupBookingID, participantID uuid.UUID, amount decimal.Decimal) (*models.GroupBooking, error) {
	if !amount.IsPositive() {
		return nil, errs.Validationf("contribution amount must be greater than 0")
	}

	var group models.GroupBooking
	settleEarly := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("id = ?", groupBookingID).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("group booking %s", groupBookingID)
			}
			return fmt.Errorf("failed to load group booking: %w", err)
		}

		if group.SettledAt != nil {
			return errs.Validationf("group booking %s is already settled", group.ID)
		}
		if !group.ParticipantIDs.Contains(participantID.String()) {
			return errs.Forbiddenf("user %s is not a participant of group booking %s", participantID, group.ID)
		}

		if group.ContributionTracker == nil {
			group.ContributionTracker = models.ContributionMap{}
		}
		group.ContributionTracker[participantID.String()] = amount
		group.TotalPaid = group.ContributionTracker.Total()

		if err := tx.Save(&group).Error; err != nil {
			return fmt.Errorf("failed to save group booking: %w", err)
		}

		settleEarly = group.TotalPaid.GreaterThanOrEqual(group.TotalRequired)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditGroupContribution,
		ActorID:      participantID.String(),
		ResourceType: "group_booking",
		ResourceID:   group.ID.String(),
		Changes: map[string]interface{}{
			"amount":     amount.StringFixed(2),
			"total_paid": group.TotalPaid.StringFixed(2),
		},
	})

	s.notifier.Notify(ctx, notification.Message{
		RecipientID: group.InitiatorID.String(),
		Kind:        notification.KindGroupContribution,
		Title:       "Contribution received",
		Body:        fmt.Sprintf("%s contributed %s", participantID, amount.StringFixed(2)),
		Data: map[string]interface{}{
			"groupBookingId": group.ID.String(),
			"totalPaid":      group.TotalPaid.StringFixed(2),
		},
	})

	// The target can be reached before the countdown lapses; settle now
	// instead of waiting for the sweep.
	if settleEarly {
		if err := s.Settle(ctx, group.ID); err != nil {
			s.logger.Error("early settlement failed",
				zap.String("group_booking_id", group.ID.String()),
				zap.Error(err))
		}
	}

	return &group, nil
}

// Settle finalizes a group booking exactly once: fully funded groups confirm
// the underlying booking, underfunded groups expire it. Calling Settle on an
// already settled group is a no-op.
func (s *Service) Settle(ctx context.Context, groupBookingID uuid.UUID) error {
	var (
		group    models.GroupBooking
		booking  models.Booking
		outcome  models.BookingStatus
		notified bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("id = ?", groupBookingID).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("group booking %s", groupBookingID)
			}
			return fmt.Errorf("failed to load group booking: %w", err)
		}
		if group.SettledAt != nil {
			return nil
		}

		if err := database.LockForUpdate(tx).Where("id = ?", group.BookingID).First(&booking).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("booking %s", group.BookingID)
			}
			return fmt.Errorf("failed to load booking: %w", err)
		}

		now := time.Now()
		group.SettledAt = &now

		funded := group.TotalPaid.GreaterThanOrEqual(group.TotalRequired)
		if funded {
			outcome = models.BookingConfirmed
		} else {
			outcome = models.BookingExpired
		}

		if err := statemachine.Transition(&booking, outcome); err != nil {
			// The booking moved on since the countdown started, e.g. it was
			// cancelled. The group is still marked settled so the sweep does
			// not retry it forever, but the booking is left alone.
			s.logger.Warn("group settlement skipped, booking no longer settleable",
				zap.String("group_booking_id", group.ID.String()),
				zap.String("booking_id", booking.ID.String()),
				zap.String("booking_status", string(booking.Status)),
				zap.Error(err))
			return tx.Save(&group).Error
		}

		if funded {
			booking.PaymentStatus = models.PaymentFullyPaid
		} else {
			booking.PaymentStatus = models.PaymentUnpaid
			booking.ExpiresAt = &now
		}

		if err := tx.Save(&booking).Error; err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}
		if err := tx.Save(&group).Error; err != nil {
			return fmt.Errorf("failed to save group booking: %w", err)
		}
		notified = true
		return nil
	})
	if err != nil {
		return err
	}
	if !notified {
		return nil
	}

	kind := notification.KindGroupExpired
	title := "Group booking expired"
	if outcome == models.BookingConfirmed {
		kind = notification.KindGroupConfirmed
		title = "Group booking confirmed"
	}
	for _, participant := range group.ParticipantIDs {
		s.notifier.Notify(ctx, notification.Message{
			RecipientID: participant,
			Kind:        kind,
			Title:       title,
			Body:        fmt.Sprintf("Group booking %s settled at %s of %s", group.ID, group.TotalPaid.StringFixed(2), group.TotalRequired.StringFixed(2)),
			Data: map[string]interface{}{
				"groupBookingId": group.ID.String(),
				"bookingId":      group.BookingID.String(),
				"outcome":        string(outcome),
			},
		})
	}

	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditBookingUpdated,
		ActorID:      models.SystemActor,
		ResourceType: "group_booking",
		ResourceID:   group.ID.String(),
		Changes: map[string]interface{}{
			"outcome":    string(outcome),
			"total_paid": group.TotalPaid.StringFixed(2),
			"required":   group.TotalRequired.StringFixed(2),
		},
	})

	return nil
}

// GetStatus returns the live funding progress of a group booking.
func (s *Service) GetStatus(ctx context.Context, groupBookingID uuid.UUID) (*Status, error) {
	var group models.GroupBooking
	err := s.db.WithContext(ctx).Where("id = ?", groupBookingID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("group booking %s", groupBookingID)
		}
		return nil, fmt.Errorf("failed to load group booking: %w", err)
	}

	now := time.Now()
	remaining := int64(0)
	if group.CountdownExpiresAt.After(now) {
		remaining = int64(group.CountdownExpiresAt.Sub(now).Minutes())
	}

	percentage := decimal.Zero
	if group.TotalRequired.IsPositive() {
		percentage = group.TotalPaid.Div(group.TotalRequired).Mul(decimal.NewFromInt(100)).Round(2)
	}

	contributions := make(map[string]string, len(group.ContributionTracker))
	for participant, amount := range group.ContributionTracker {
		contributions[participant] = amount.StringFixed(2)
	}

	return &Status{
		GroupBookingID:   group.ID,
		BookingID:        group.BookingID,
		RequiredAmount:   group.TotalRequired,
		TotalPaid:        group.TotalPaid,
		PercentageFunded: percentage,
		MinutesRemaining: remaining,
		Expired:          !group.CountdownExpiresAt.After(now),
		Settled:          group.SettledAt != nil,
		Contributions:    contributions,
	}, nil
}

// ListExpired returns the ids of unsettled groups whose countdown has lapsed.
func (s *Service) ListExpired(ctx context.Context) ([]uuid.UUID, error) {
	var groups []models.GroupBooking
	err := s.db.WithContext(ctx).
		Where("settled_at IS NULL AND countdown_expires_at <= ?", time.Now()).
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired group bookings: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (s *Service) appendAudit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String("action_type", entry.ActionType),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err))
	}
}

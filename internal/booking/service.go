// Package booking orchestrates the booking lifecycle: creation with pricing,
// state transitions, check-in and group booking initiation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuetap/venuetap/internal/audit"
	"github.com/venuetap/venuetap/internal/database"
	"github.com/venuetap/venuetap/internal/groupbooking"
	"github.com/venuetap/venuetap/internal/statemachine"
	"github.com/venuetap/venuetap/pkg/errs"
	"github.com/venuetap/venuetap/pkg/models"
)

// CreateBookingInput carries everything needed to open a booking.
type CreateBookingInput struct {
	BookingType models.BookingType     `validate:"required,oneof=ticket table apartment car"`
	OwnerID     uuid.UUID              `validate:"required"`
	ResourceID  uuid.UUID              `validate:"required"`
	GuestCount  int                    `validate:"min=0"`
	BasePrice   decimal.Decimal        `validate:"required"`
	Metadata    map[string]interface{} `validate:"-"`
}

// BookingService defines the booking lifecycle operations.
type BookingService interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*models.Booking, error)
	CreateGroupBooking(ctx context.Context, input CreateBookingInput, participantIDs []uuid.UUID) (*models.Booking, *models.GroupBooking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListUserBookings(ctx context.Context, ownerID uuid.UUID) ([]models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, to models.BookingStatus, actorID string) (*models.Booking, error)
	CheckIn(ctx context.Context, id uuid.UUID, actorID string) (*models.Booking, error)
}

// Service implements BookingService.
type Service struct {
	logger         *zap.Logger
	db             *gorm.DB
	auditor        audit.Sink
	groups         groupbooking.GroupBookingService
	validate       *validator.Validate
	commissionRate decimal.Decimal
	serviceCharge  decimal.Decimal
	currency       string
}

// NewService creates a new BookingService.
func NewService(logger *zap.Logger, db *gorm.DB, auditor audit.Sink, groups groupbooking.GroupBookingService, commissionRate, serviceCharge decimal.Decimal, currency string) (BookingService, error) {
	if logger == nil || db == nil {
		return nil, fmt.Errorf("logger and database are required")
	}
	return &Service{
		logger:         logger,
		db:             db,
		auditor:        auditor,
		groups:         groups,
		validate:       validator.New(),
		commissionRate: commissionRate,
		serviceCharge:  serviceCharge,
		currency:       currency,
	}, nil
}

func (s *Service) buildBooking(input CreateBookingInput) (*models.Booking, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, errs.Validationf("invalid booking input: %v", err)
	}
	if !input.BasePrice.IsPositive() {
		return nil, errs.Validationf("base price must be greater than 0")
	}

	pricing := ComputePricing(input.BasePrice, s.commissionRate, s.serviceCharge)
	return &models.Booking{
		ID:                 uuid.New(),
		BookingType:        input.BookingType,
		OwnerID:            input.OwnerID,
		ResourceID:         input.ResourceID,
		GuestCount:         input.GuestCount,
		Status:             models.BookingInitiated,
		PaymentStatus:      models.PaymentUnpaid,
		BasePrice:          pricing.BasePrice,
		PlatformCommission: pricing.PlatformCommission,
		ServiceCharge:      pricing.ServiceCharge,
		TotalAmount:        pricing.TotalAmount,
		Metadata:           models.JSONMap(input.Metadata),
	}, nil
}

// CreateBooking opens a new single-payer booking in INITIATED/UNPAID.
func (s *Service) CreateBooking(ctx context.Context, input CreateBookingInput) (*models.Booking, error) {
	booking, err := s.buildBooking(input)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(booking).Error; err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.logger.Info("booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("booking_type", string(booking.BookingType)),
		zap.String("total_amount", booking.TotalAmount.StringFixed(2)))

	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditBookingCreated,
		ActorID:      input.OwnerID.String(),
		ResourceType: "booking",
		ResourceID:   booking.ID.String(),
		Changes: map[string]interface{}{
			"booking_type": string(booking.BookingType),
			"status":       string(booking.Status),
			"total_amount": booking.TotalAmount.StringFixed(2),
		},
	})

	return booking, nil
}

// CreateGroupBooking opens a booking funded by multiple participants. The
// booking starts in PENDING_GROUP_PAYMENT and its funding countdown begins
// immediately.
func (s *Service) CreateGroupBooking(ctx context.Context, input CreateBookingInput, participantIDs []uuid.UUID) (*models.Booking, *models.GroupBooking, error) {
	if s.groups == nil {
		return nil, nil, fmt.Errorf("group booking service not configured")
	}

	booking, err := s.buildBooking(input)
	if err != nil {
		return nil, nil, err
	}
	booking.Status = models.BookingPendingGroupPayment

	group, err := s.groups.CreateGroupBooking(ctx, booking, input.OwnerID, participantIDs)
	if err != nil {
		return nil, nil, err
	}

	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditBookingCreated,
		ActorID:      input.OwnerID.String(),
		ResourceType: "booking",
		ResourceID:   booking.ID.String(),
		Changes: map[string]interface{}{
			"booking_type":     string(booking.BookingType),
			"status":           string(booking.Status),
			"total_amount":     booking.TotalAmount.StringFixed(2),
			"group_booking_id": group.ID.String(),
		},
	})

	return booking, group, nil
}

// GetBooking loads one booking by id.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("booking %s", id)
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	return &booking, nil
}

// ListUserBookings returns the owner's bookings, newest first.
func (s *Service) ListUserBookings(ctx context.Context, ownerID uuid.UUID) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// UpdateBookingStatus moves a booking through the lifecycle. Illegal
// transitions are rejected and leave the row untouched.
func (s *Service) UpdateBookingStatus(ctx context.Context, id uuid.UUID, to models.BookingStatus, actorID string) (*models.Booking, error) {
	var booking models.Booking
	var from models.BookingStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("id = ?", id).First(&booking).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("booking %s", id)
			}
			return fmt.Errorf("failed to load booking: %w", err)
		}
		from = booking.Status

		if err := statemachine.Transition(&booking, to); err != nil {
			return err
		}

		now := time.Now()
		switch to {
		case models.BookingCancelled:
			booking.CancelledAt = &now
		case models.BookingCompleted:
			booking.CompletedAt = &now
		case models.BookingExpired:
			booking.ExpiresAt = &now
		}

		return tx.Save(&booking).Error
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditBookingUpdated,
		ActorID:      actorID,
		ResourceType: "booking",
		ResourceID:   booking.ID.String(),
		Changes: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
	})

	return &booking, nil
}

// CheckIn marks a confirmed booking as checked in and stamps the arrival
// time, which takes the booking out of late-arrival scanning.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID, actorID string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("id = ?", id).First(&booking).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("booking %s", id)
			}
			return fmt.Errorf("failed to load booking: %w", err)
		}

		if err := statemachine.Transition(&booking, models.BookingCheckedIn); err != nil {
			return err
		}
		now := time.Now()
		booking.CheckInTime = &now

		return tx.Save(&booking).Error
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditBookingUpdated,
		ActorID:      actorID,
		ResourceType: "booking",
		ResourceID:   booking.ID.String(),
		Changes: map[string]interface{}{
			"from": string(models.BookingConfirmed),
			"to":   string(models.BookingCheckedIn),
		},
	})

	return &booking, nil
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

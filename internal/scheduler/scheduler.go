// Package scheduler runs the background reconciliation loops: late-arrival
// scanning of confirmed bookings and expiry settlement of group bookings.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuetap/venuetap/internal/audit"
	"github.com/venuetap/venuetap/internal/database"
	"github.com/venuetap/venuetap/internal/groupbooking"
	"github.com/venuetap/venuetap/internal/notification"
	"github.com/venuetap/venuetap/internal/statemachine"
	"github.com/venuetap/venuetap/pkg/metrics"
	"github.com/venuetap/venuetap/pkg/models"
)

const (
	latePromptCountKey = "latePromptCount"
	autoCancelledKey   = "autoCancelled"

	lateArrivalSweep = "late_arrival"
	groupExpirySweep = "group_expiry"
)

// Config holds the scheduler's tuning knobs.
type Config struct {
	LateArrivalInterval  time.Duration
	LateArrivalThreshold time.Duration
	MaxLatePrompts       int
	GroupExpiryInterval  time.Duration
}

// Scheduler owns the reconciliation tickers.
type Scheduler struct {
	logger   *zap.Logger
	db       *gorm.DB
	groups   groupbooking.GroupBookingService
	auditor  audit.Sink
	notifier notification.Notifier
	cfg      Config

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Scheduler.
func New(logger *zap.Logger, db *gorm.DB, groups groupbooking.GroupBookingService, auditor audit.Sink, notifier notification.Notifier, cfg Config) (*Scheduler, error) {
	if logger == nil || db == nil {
		return nil, fmt.Errorf("logger and database are required")
	}
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &Scheduler{
		logger:   logger,
		db:       db,
		groups:   groups,
		auditor:  auditor,
		notifier: notifier,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches both reconciliation loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.loop(ctx, s.cfg.LateArrivalInterval, lateArrivalSweep, s.RunLateArrivalSweep)
	go s.loop(ctx, s.cfg.GroupExpiryInterval, groupExpirySweep, s.RunGroupExpirySweep)
	s.logger.Info("scheduler started",
		zap.Duration("late_arrival_interval", s.cfg.LateArrivalInterval),
		zap.Duration("group_expiry_interval", s.cfg.GroupExpiryInterval))
}

// Stop shuts both loops down and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, sweep func(context.Context) error) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
			}
		}
	}
}

// RunLateArrivalSweep scans confirmed bookings whose holder has not checked
// in within the arrival threshold. Each hit gets a prompt; after the
// configured number of prompts the booking is cancelled. One failing booking
// never aborts the rest of the sweep.
func (s *Scheduler) RunLateArrivalSweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.LateArrivalThreshold)

	var candidates []models.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND check_in_time IS NULL AND created_at < ?", models.BookingConfirmed, cutoff).
		Find(&candidates).Error
	if err != nil {
		return fmt.Errorf("failed to scan late arrivals: %w", err)
	}

	for _, candidate := range candidates {
		if err := s.processLateArrival(ctx, candidate.ID); err != nil {
			metrics.SweepItems.WithLabelValues(lateArrivalSweep, "error").Inc()
			s.logger.Error("late arrival handling failed",
				zap.String("booking_id", candidate.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) processLateArrival(ctx context.Context, id uuid.UUID) error {
	var (
		booking   models.Booking
		cancelled bool
		prompted  bool
		prompts   int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("id = ?", id).First(&booking).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		// Re-check under the lock; the holder may have checked in or the
		// booking may have moved on between scan and lock.
		if booking.Status != models.BookingConfirmed || booking.CheckInTime != nil {
			return nil
		}

		if booking.Metadata == nil {
			booking.Metadata = models.JSONMap{}
		}
		prompts = booking.Metadata.Int(latePromptCountKey) + 1
		booking.Metadata[latePromptCountKey] = prompts

		if prompts >= s.cfg.MaxLatePrompts {
			if err := statemachine.Transition(&booking, models.BookingCancelled); err != nil {
				return err
			}
			now := time.Now()
			booking.CancelledAt = &now
			booking.Metadata[autoCancelledKey] = true
			cancelled = true
		} else {
			prompted = true
		}

		return tx.Save(&booking).Error
	})
	if err != nil {
		return err
	}
	if !cancelled && !prompted {
		return nil
	}

	if cancelled {
		metrics.SweepItems.WithLabelValues(lateArrivalSweep, "cancelled").Inc()
		s.notifier.Notify(ctx, notification.Message{
			RecipientID: booking.OwnerID.String(),
			Kind:        notification.KindBookingCancelled,
			Title:       "Booking cancelled",
			Body:        fmt.Sprintf("Booking %s was cancelled after %d missed arrival prompts", booking.ID, prompts),
			Data:        map[string]interface{}{"bookingId": booking.ID.String()},
		})
		s.appendAudit(ctx, audit.Entry{
			ActionType:   models.AuditBookingUpdated,
			ActorID:      models.SystemActor,
			ResourceType: "booking",
			ResourceID:   booking.ID.String(),
			Changes: map[string]interface{}{
				"to":             string(models.BookingCancelled),
				autoCancelledKey: true,
				"prompts":        prompts,
			},
		})
		return nil
	}

	metrics.SweepItems.WithLabelValues(lateArrivalSweep, "prompted").Inc()
	s.notifier.Notify(ctx, notification.Message{
		RecipientID: booking.OwnerID.String(),
		Kind:        notification.KindLateArrivalPrompt,
		Title:       "Are you still coming?",
		Body:        fmt.Sprintf("Arrival prompt %d/%d for booking %s", prompts, s.cfg.MaxLatePrompts, booking.ID),
		Data:        map[string]interface{}{"bookingId": booking.ID.String(), "prompt": prompts},
	})
	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditBookingUpdated,
		ActorID:      models.SystemActor,
		ResourceType: "booking",
		ResourceID:   booking.ID.String(),
		Changes: map[string]interface{}{
			"late_prompt": prompts,
			"max_prompts": s.cfg.MaxLatePrompts,
		},
	})
	return nil
}

// RunGroupExpirySweep settles every group booking whose funding countdown
// has lapsed.
func (s *Scheduler) RunGroupExpirySweep(ctx context.Context) error {
	if s.groups == nil {
		return nil
	}
	ids, err := s.groups.ListExpired(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.groups.Settle(ctx, id); err != nil {
			metrics.SweepItems.WithLabelValues(groupExpirySweep, "error").Inc()
			s.logger.Error("group settlement failed",
				zap.String("group_booking_id", id.String()),
				zap.Error(err))
			continue
		}
		metrics.SweepItems.WithLabelValues(groupExpirySweep, "settled").Inc()
	}
	return nil
}

func (s *Scheduler) appendAudit(ctx context.Context, entry audit.Entry) {
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

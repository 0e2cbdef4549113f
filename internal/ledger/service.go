// Package ledger implements the payment and wallet engine. Every operation
// runs in one database transaction: wallet mutation, payment row, booking
// status and the matching financial ledger entry commit together or not at
// all.
package ledger

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
	"github.com/venuetap/venuetap/pkg/metrics"
	"github.com/venuetap/venuetap/pkg/models"
)

// MethodWallet is the payment method funded from the payer's wallet balance.
const MethodWallet = "wallet"

// LedgerService defines the money-moving operations.
type LedgerService interface {
	ProcessPayment(ctx context.Context, bookingID, payerID uuid.UUID, amount decimal.Decimal, method string) (*models.PaymentTransaction, error)
	RefundPayment(ctx context.Context, paymentID uuid.UUID, actorID string) (*models.PaymentTransaction, error)
	GetBalance(ctx context.Context, ownerID uuid.UUID) (decimal.Decimal, error)
	GetWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
}

// Service implements LedgerService.
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	auditor  audit.Sink
	notifier notification.Notifier
	currency string
}

// NewService creates a new LedgerService.
func NewService(logger *zap.Logger, db *gorm.DB, auditor audit.Sink, notifier notification.Notifier, currency string) (LedgerService, error) {
	if logger == nil || db == nil {
		return nil, fmt.Errorf("logger and database are required")
	}
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &Service{logger: logger, db: db, auditor: auditor, notifier: notifier, currency: currency}, nil
}

// getOrCreateWalletTx loads the owner's wallet under an exclusive lock,
// creating a zero-balance wallet on first access.
func (s *Service) getOrCreateWalletTx(tx *gorm.DB, ownerID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := database.LockForUpdate(tx).Where("owner_id = ?", ownerID).First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	wallet = models.Wallet{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Balance:  decimal.Zero,
		Currency: s.currency,
	}
	if err := tx.Create(&wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &wallet, nil
}

// totalPaidTx sums the non-refunded payments for a booking with decimal
// arithmetic in the application; the stored column must never be accumulated
// through a floating-point path.
func totalPaidTx(tx *gorm.DB, bookingID uuid.UUID) (decimal.Decimal, error) {
	var payments []models.PaymentTransaction
	err := tx.Where("booking_id = ? AND status IN ?", bookingID,
		[]models.PaymentStatus{models.PaymentPartiallyPaid, models.PaymentFullyPaid}).
		Find(&payments).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}

	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// ProcessPayment records a payment against a booking. Wallet-funded payments
// debit the payer's wallet under an exclusive lock; the booking row is locked
// for the whole operation so concurrent payments against the same booking
// serialize and the paid aggregate never goes stale.
func (s *Service) ProcessPayment(ctx context.Context, bookingID, payerID uuid.UUID, amount decimal.Decimal, method string) (*models.PaymentTransaction, error) {
	start := time.Now()
	if !amount.IsPositive() {
		return nil, errs.Validationf("payment amount must be greater than 0")
	}
	if method == "" {
		return nil, errs.Validationf("payment method is required")
	}

	var (
		payment *models.PaymentTransaction
		booking models.Booking
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("id = ?", bookingID).First(&booking).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("booking %s", bookingID)
			}
			return fmt.Errorf("failed to load booking: %w", err)
		}

		alreadyPaid, err := totalPaidTx(tx, booking.ID)
		if err != nil {
			return err
		}
		currentPaid := alreadyPaid.Add(amount)
		// Paid totals must never exceed what the booking costs.
		if currentPaid.GreaterThan(booking.TotalAmount) {
			return errs.Validationf("payment of %s exceeds outstanding balance %s",
				amount.StringFixed(2), booking.TotalAmount.Sub(alreadyPaid).StringFixed(2))
		}

		currency := s.currency
		if method == MethodWallet {
			wallet, err := s.getOrCreateWalletTx(tx, payerID)
			if err != nil {
				return err
			}
			if wallet.Balance.LessThan(amount) {
				return fmt.Errorf("wallet balance %s below %s: %w",
					wallet.Balance.StringFixed(2), amount.StringFixed(2), errs.ErrInsufficientFunds)
			}
			now := time.Now()
			wallet.Balance = wallet.Balance.Sub(amount)
			wallet.LastTransactionAt = &now
			if err := tx.Save(wallet).Error; err != nil {
				return fmt.Errorf("failed to debit wallet: %w", err)
			}
			currency = wallet.Currency
		}

		now := time.Now()
		payment = &models.PaymentTransaction{
			ID:          uuid.New(),
			BookingID:   booking.ID,
			PayerID:     payerID,
			Amount:      amount,
			Status:      models.PaymentPartiallyPaid,
			Method:      method,
			CompletedAt: &now,
		}

		if currentPaid.GreaterThanOrEqual(booking.TotalAmount) {
			payment.Status = models.PaymentFullyPaid
			booking.PaymentStatus = models.PaymentFullyPaid
			if booking.Status != models.BookingConfirmed {
				// A fresh booking has no direct edge to CONFIRMED; it passes
				// through PENDING_PAYMENT first.
				if booking.Status == models.BookingInitiated {
					if err := statemachine.Transition(&booking, models.BookingPendingPayment); err != nil {
						return err
					}
				}
				if err := statemachine.Transition(&booking, models.BookingConfirmed); err != nil {
					return err
				}
			}
		} else {
			booking.PaymentStatus = models.PaymentPartiallyPaid
		}
		booking.PaymentMethod = method

		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		if err := tx.Save(&booking).Error; err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}

		entry := models.FinancialLedgerEntry{
			ID:            uuid.New(),
			BookingID:     &booking.ID,
			Type:          models.LedgerDebit,
			Amount:        amount,
			Currency:      currency,
			Description:   fmt.Sprintf("Payment for booking %s via %s", booking.ID, method),
			RelatedUserID: payerID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to create ledger entry: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentsProcessed.WithLabelValues(method).Inc()
	metrics.PaymentLatency.Observe(time.Since(start).Seconds())

	// Audit after the financial commit is best-effort: a failed append must
	// not unwind money that already moved, but it leaves a verification gap,
	// so it is surfaced loudly.
	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditPaymentProcessed,
		ActorID:      payerID.String(),
		ResourceType: "booking",
		ResourceID:   bookingID.String(),
		Changes: map[string]interface{}{
			"amount_paid": amount.StringFixed(2),
			"method":      method,
			"status":      string(payment.Status),
		},
	})

	s.notifier.Notify(ctx, notification.Message{
		RecipientID: booking.OwnerID.String(),
		Kind:        notification.KindPaymentReceived,
		Title:       "Payment received",
		Body:        fmt.Sprintf("Payment of %s received for booking %s", amount.StringFixed(2), booking.ID),
		Data: map[string]interface{}{
			"bookingId":     booking.ID.String(),
			"paymentStatus": string(booking.PaymentStatus),
		},
	})

	return payment, nil
}

// RefundPayment reverses a payment: the payer's wallet is credited, a CREDIT
// ledger entry is written, and the booking's payment state is recomputed
// from the remaining non-refunded payments.
func (s *Service) RefundPayment(ctx context.Context, paymentID uuid.UUID, actorID string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The payment row is locked for the whole refund so a concurrent
		// refund of the same payment blocks here and then sees REFUNDED,
		// instead of crediting the wallet a second time.
		if err := database.LockForUpdate(tx).Where("id = ?", paymentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("payment %s", paymentID)
			}
			return fmt.Errorf("failed to load payment: %w", err)
		}

		if payment.Status == models.PaymentRefunded {
			return fmt.Errorf("payment %s already refunded: %w", payment.ID, errs.ErrNotRefundable)
		}
		if payment.Status != models.PaymentFullyPaid && payment.Status != models.PaymentPartiallyPaid {
			return fmt.Errorf("payment %s in status %s: %w", payment.ID, payment.Status, errs.ErrNotRefundable)
		}

		// Booking before wallet, same order as ProcessPayment, so two
		// concurrent money movers can never deadlock on each other.
		var booking models.Booking
		bookingFound := true
		if err := database.LockForUpdate(tx).Where("id = ?", payment.BookingID).First(&booking).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to load booking: %w", err)
			}
			bookingFound = false
		}

		wallet, err := s.getOrCreateWalletTx(tx, payment.PayerID)
		if err != nil {
			return err
		}
		now := time.Now()
		wallet.Balance = wallet.Balance.Add(payment.Amount)
		wallet.LastTransactionAt = &now
		if err := tx.Save(wallet).Error; err != nil {
			return fmt.Errorf("failed to credit wallet: %w", err)
		}

		entry := models.FinancialLedgerEntry{
			ID:            uuid.New(),
			BookingID:     &payment.BookingID,
			Type:          models.LedgerCredit,
			Amount:        payment.Amount,
			Currency:      wallet.Currency,
			Description:   fmt.Sprintf("Refund for payment %s", payment.ID),
			RelatedUserID: payment.PayerID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to create ledger entry: %w", err)
		}

		payment.Status = models.PaymentRefunded
		if err := tx.Save(&payment).Error; err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}

		if !bookingFound {
			s.logger.Warn("refunded payment has no booking", zap.String("payment_id", payment.ID.String()))
			return nil
		}

		totalPaid, err := totalPaidTx(tx, booking.ID)
		if err != nil {
			return err
		}

		var targetPayment models.PaymentStatus
		var targetStatus models.BookingStatus
		switch {
		case totalPaid.IsZero() || totalPaid.IsNegative():
			targetPayment = models.PaymentUnpaid
			targetStatus = models.BookingPendingPayment
		case totalPaid.LessThan(booking.TotalAmount):
			targetPayment = models.PaymentPartiallyPaid
			targetStatus = models.BookingPendingPayment
		default:
			targetPayment = models.PaymentFullyPaid
			targetStatus = models.BookingConfirmed
		}

		booking.PaymentStatus = targetPayment
		if booking.Status != targetStatus && !statemachine.IsTerminal(booking.Status) {
			// A refund may re-open a confirmed booking; the forward table
			// carries no CONFIRMED -> PENDING_PAYMENT edge, so the reversal
			// is applied directly and recorded on the trail.
			booking.Status = targetStatus
		}
		if err := tx.Save(&booking).Error; err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RefundsProcessed.Inc()

	s.appendAudit(ctx, audit.Entry{
		ActionType:   models.AuditPaymentRefunded,
		ActorID:      actorID,
		ResourceType: "payment",
		ResourceID:   payment.ID.String(),
		Changes: map[string]interface{}{
			"status": string(models.PaymentRefunded),
			"amount": payment.Amount.StringFixed(2),
		},
	})

	return &payment, nil
}

// GetWallet returns the owner's wallet, creating a zero-balance wallet on
// first access.
func (s *Service) GetWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		wallet, err = s.getOrCreateWalletTx(tx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// GetBalance returns the owner's wallet balance.
func (s *Service) GetBalance(ctx context.Context, ownerID uuid.UUID) (decimal.Decimal, error) {
	wallet, err := s.GetWallet(ctx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

func (s *Service) appendAudit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed after committed ledger operation",
			zap.String("action_type", entry.ActionType),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err))
	}
}

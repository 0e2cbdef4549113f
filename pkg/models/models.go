package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingInitiated           BookingStatus = "INITIATED"
	BookingPendingPayment      BookingStatus = "PENDING_PAYMENT"
	BookingPendingGroupPayment BookingStatus = "PENDING_GROUP_PAYMENT"
	BookingConfirmed           BookingStatus = "CONFIRMED"
	BookingCheckedIn           BookingStatus = "CHECKED_IN"
	BookingActive              BookingStatus = "ACTIVE"
	BookingCompleted           BookingStatus = "COMPLETED"
	BookingCancelled           BookingStatus = "CANCELLED"
	BookingExpired             BookingStatus = "EXPIRED"
)

// PaymentStatus tracks how much of a booking (or a single payment) has been
// settled. The same enum is reused at payment level.
type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "UNPAID"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentFullyPaid     PaymentStatus = "FULLY_PAID"
	PaymentRefunded      PaymentStatus = "REFUNDED"
)

// BookingType enumerates the bookable resource kinds.
type BookingType string

const (
	BookingTypeTicket    BookingType = "ticket"
	BookingTypeTable     BookingType = "table"
	BookingTypeApartment BookingType = "apartment"
	BookingTypeCar       BookingType = "car"
)

// LedgerEntryType is the direction of a financial ledger entry.
type LedgerEntryType string

const (
	LedgerDebit  LedgerEntryType = "DEBIT"
	LedgerCredit LedgerEntryType = "CREDIT"
)

// Audit action types recorded on the chain.
const (
	AuditBookingCreated    = "BOOKING_CREATED"
	AuditBookingUpdated    = "BOOKING_UPDATED"
	AuditPaymentProcessed  = "PAYMENT_PROCESSED"
	AuditPaymentRefunded   = "PAYMENT_REFUNDED"
	AuditWalletDebit       = "WALLET_DEBIT"
	AuditWalletCredit      = "WALLET_CREDIT"
	AuditGroupContribution = "GROUP_CONTRIBUTION"
)

// SystemActor is the sentinel recorded for scheduler-initiated audit entries.
const SystemActor = "system"

// Booking represents a reservation of a ticket, table, apartment or car.
// Created once, mutated only through state-machine-validated transitions,
// never deleted.
type Booking struct {
	ID                 uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	BookingType        BookingType     `json:"booking_type" gorm:"type:varchar(20);index" validate:"required,oneof=ticket table apartment car"`
	OwnerID            uuid.UUID       `json:"owner_id" gorm:"type:uuid;index" validate:"required"`
	GroupID            *uuid.UUID      `json:"group_id" gorm:"type:uuid;index"`
	ResourceID         uuid.UUID       `json:"resource_id" gorm:"type:uuid" validate:"required"`
	Status             BookingStatus   `json:"status" gorm:"type:varchar(32);index"`
	GuestCount         int             `json:"guest_count" validate:"min=0"`
	BasePrice          decimal.Decimal `json:"base_price" gorm:"type:decimal(20,2)"`
	PlatformCommission decimal.Decimal `json:"platform_commission" gorm:"type:decimal(20,2)"`
	ServiceCharge      decimal.Decimal `json:"service_charge" gorm:"type:decimal(20,2)"`
	TotalAmount        decimal.Decimal `json:"total_amount" gorm:"type:decimal(20,2)"`
	PaymentStatus      PaymentStatus   `json:"payment_status" gorm:"type:varchar(20)"`
	PaymentMethod      string          `json:"payment_method" gorm:"type:varchar(50)"`
	CheckInTime        *time.Time      `json:"check_in_time"`
	CompletedAt        *time.Time      `json:"completed_at"`
	CancelledAt        *time.Time      `json:"cancelled_at"`
	ExpiresAt          *time.Time      `json:"expires_at"`
	Metadata           JSONMap         `json:"metadata" gorm:"type:text"`
	CreatedAt          time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PaymentTransaction is a single payment made against a booking. Immutable
// once refunded except for that terminal status change.
type PaymentTransaction struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	BookingID   uuid.UUID       `json:"booking_id" gorm:"type:uuid;index"`
	PayerID     uuid.UUID       `json:"payer_id" gorm:"type:uuid;index"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	Status      PaymentStatus   `json:"status" gorm:"type:varchar(20)"`
	Method      string          `json:"method" gorm:"type:varchar(50)"`
	ExternalRef string          `json:"external_ref" gorm:"type:varchar(255)"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
}

// Wallet holds a user's spendable balance. One wallet per owner; created
// lazily on first access.
type Wallet struct {
	ID                uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID           uuid.UUID       `json:"owner_id" gorm:"type:uuid;uniqueIndex"`
	Balance           decimal.Decimal `json:"balance" gorm:"type:decimal(20,2)"`
	Currency          string          `json:"currency" gorm:"type:varchar(10)"`
	LastTransactionAt *time.Time      `json:"last_transaction_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// FinancialLedgerEntry is the append-only record of a single wallet debit or
// credit, kept for reconciliation independent of the wallet's running
// balance. Never updated or deleted.
type FinancialLedgerEntry struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	BookingID     *uuid.UUID      `json:"booking_id" gorm:"type:uuid;index"`
	Type          LedgerEntryType `json:"type" gorm:"type:varchar(10)"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	Currency      string          `json:"currency" gorm:"type:varchar(10)"`
	Description   string          `json:"description" gorm:"type:varchar(500)"`
	RelatedUserID uuid.UUID       `json:"related_user_id" gorm:"type:uuid;index"`
	CreatedAt     time.Time       `json:"created_at" gorm:"index"`
}

// GroupBooking tracks multi-party contributions toward one booking, settled
// exactly once when its countdown elapses.
type GroupBooking struct {
	ID                  uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	BookingID           uuid.UUID       `json:"booking_id" gorm:"type:uuid;uniqueIndex"`
	InitiatorID         uuid.UUID       `json:"initiator_id" gorm:"type:uuid;index"`
	ParticipantIDs      StringArray     `json:"participant_ids" gorm:"type:text"`
	ContributionTracker ContributionMap `json:"contribution_tracker" gorm:"type:text"`
	TotalRequired       decimal.Decimal `json:"total_required" gorm:"type:decimal(20,2)"`
	TotalPaid           decimal.Decimal `json:"total_paid" gorm:"type:decimal(20,2)"`
	CountdownExpiresAt  time.Time       `json:"countdown_expires_at" gorm:"index"`
	SettledAt           *time.Time      `json:"settled_at" gorm:"index"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

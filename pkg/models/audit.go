package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/venuetap/venuetap/pkg/errs"
)

// AuditLog is one entry of the hash-chained audit trail. Entries form a
// singly linked chain ordered by ChainPosition: each Hash covers the entry's
// own fields plus PreviousHash, so retroactive tampering with any stored
// entry is detectable by re-walking the chain.
type AuditLog struct {
	ID           uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	ActionType   string    `json:"action_type" gorm:"type:varchar(100);index"`
	ActorID      string    `json:"actor_id" gorm:"type:varchar(64);index"`
	ActorRole    string    `json:"actor_role" gorm:"type:varchar(50)"`
	ResourceType string    `json:"resource_type" gorm:"type:varchar(100)"`
	ResourceID   string    `json:"resource_id" gorm:"type:varchar(64);index"`
	Changes      JSONMap   `json:"changes" gorm:"type:text"`
	IPAddress    string    `json:"ip_address" gorm:"type:varchar(50)"`
	PreviousHash string    `json:"previous_hash" gorm:"type:varchar(64)"`
	Hash         string    `json:"hash" gorm:"type:varchar(64);uniqueIndex"`
	// ChainPosition is assigned by the single serialized writer; it is the
	// insertion order the chain is verified in, independent of wall clock.
	ChainPosition int64     `json:"chain_position" gorm:"uniqueIndex"`
	Timestamp     time.Time `json:"timestamp" gorm:"index"`
}

// TableName returns the table name for GORM
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeUpdate rejects any update. The trail is append-only.
func (AuditLog) BeforeUpdate(*gorm.DB) error {
	return errs.ErrImmutable
}

// BeforeDelete rejects any delete. The trail is append-only.
func (AuditLog) BeforeDelete(*gorm.DB) error {
	return errs.ErrImmutable
}

// BeforeUpdate rejects updates to ledger entries; they are append-only.
func (FinancialLedgerEntry) BeforeUpdate(*gorm.DB) error {
	return errs.ErrImmutable
}

// BeforeDelete rejects deletes of ledger entries; they are append-only.
func (FinancialLedgerEntry) BeforeDelete(*gorm.DB) error {
	return errs.ErrImmutable
}

// Package database provides database utilities shared by the core services.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/venuetap/venuetap/pkg/models"
)

// NewPostgresDB connects to PostgreSQL and configures the connection pool.
func NewPostgresDB(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}

// Migrate creates or updates the schema for all core entities and installs
// the storage-level immutability guards.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Booking{},
		&models.PaymentTransaction{},
		&models.Wallet{},
		&models.FinancialLedgerEntry{},
		&models.GroupBooking{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return enforceAppendOnly(db)
}

// enforceAppendOnly installs triggers that reject UPDATE and DELETE on the
// audit and ledger tables so immutability holds even for writers that bypass
// the application layer. Postgres only; sqlite test databases rely on the
// application-level hooks.
func enforceAppendOnly(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}

	stmts := []string{
		`CREATE OR REPLACE FUNCTION reject_mutation() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION '% rows are immutable', TG_TABLE_NAME;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS audit_logs_immutable ON audit_logs`,
		`CREATE TRIGGER audit_logs_immutable
			BEFORE UPDATE OR DELETE ON audit_logs
			FOR EACH ROW EXECUTE FUNCTION reject_mutation()`,
		`DROP TRIGGER IF EXISTS financial_ledger_immutable ON financial_ledger_entries`,
		`CREATE TRIGGER financial_ledger_immutable
			BEFORE UPDATE OR DELETE ON financial_ledger_entries
			FOR EACH ROW EXECUTE FUNCTION reject_mutation()`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to install immutability trigger: %w", err)
		}
	}

	return nil
}

// LockForUpdate applies a row-level exclusive lock on dialects that support
// it. SQLite serializes writers at the database level, so the clause is
// omitted there.
func LockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

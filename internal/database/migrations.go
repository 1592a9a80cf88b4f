package database

import (
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	// Create tables if they don't exist
	err := db.AutoMigrate(
		&models.User{},
		&models.Car{},
		&models.Booking{},
		&models.Payment{},
		&models.DepositCase{},
		&models.ScheduledAction{},
	)
	if err != nil {
		return err
	}

	// Update users table
	if db.Migrator().HasTable(&models.User{}) {
		columns := []string{
			"ADD COLUMN IF NOT EXISTS processor_customer_id text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS processor_account_id text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS charges_enabled boolean DEFAULT false",
			"ADD COLUMN IF NOT EXISTS payouts_enabled boolean DEFAULT false",
			"ADD COLUMN IF NOT EXISTS details_submitted boolean DEFAULT false",
			"ADD COLUMN IF NOT EXISTS fcm_token text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS user_type text DEFAULT 'renter'",
		}

		for _, column := range columns {
			if err := db.Exec("ALTER TABLE users " + column).Error; err != nil {
				return err
			}
		}

		// Update constraint
		db.Exec(`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_user_type_check`)
		db.Exec(`ALTER TABLE users ADD CONSTRAINT users_user_type_check CHECK (user_type IN ('renter', 'host', 'support'))`)
	}

	// The scheduler claims due rows by (status, run_at); keep that path indexed.
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_actions_due ON scheduled_actions (status, run_at)`)

	// The sweep and webhook lookups resolve payments by processor references.
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_payments_session ON payments (processor_session_id)`)
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_payments_intent ON payments (processor_intent_id)`)

	return nil
}

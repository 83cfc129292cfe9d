package main

import (
	"gorm.io/gorm"

	"github.com/vmforge/engine/internal/models"
)

// registerModels returns every model that needs migration, in dependency order.
func registerModels() []interface{} {
	return []interface{}{
		// identity
		&models.Team{},
		&models.User{},

		// provider credentials
		&models.ProviderAccount{},

		// machine assets
		&models.SSHKey{},
		&models.FirewallProfile{},
		&models.BootstrapTemplate{},

		// fleet
		&models.Machine{},
		&models.Deployment{},
	}
}

func runMigrations(db *gorm.DB) error {
	if err := runCustomMigrations(db); err != nil {
		return err
	}
	return db.AutoMigrate(registerModels()...)
}

// runCustomMigrations handles schema changes AutoMigrate can't express.
// Extensions run first because column defaults depend on them.
func runCustomMigrations(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		enablePgcryptoExtension,
		addMachineAccountIndex,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

// enablePgcryptoExtension makes gen_random_uuid available for primary keys.
func enablePgcryptoExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addMachineAccountIndex speeds up the reconciliation sweep's account grouping.
func addMachineAccountIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_machines_account_status
		ON machines(provider_account_id, actual_status)
		WHERE deleted_at IS NULL
	`).Error
}

package database

import (
	"fmt"

	"immobilier/server/internal/models"
)

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(
		&models.Transaction{},
		&models.Commune{},
		&models.MarketAnalysis{},
		&models.User{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Lookup index for the department statistics and the INSEE join
	err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dvf_departement_commune
		ON dvf_transactions(code_departement, code_commune);
	`).Error
	if err != nil {
		return err
	}

	err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_market_group
		ON market_analysis(code_departement, code_commune, period, type_local);
	`).Error
	if err != nil {
		return err
	}

	return nil
}

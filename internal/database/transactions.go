package database

import (
	"context"

	"gorm.io/gorm"

	"immobilier/server/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// InsertTransactions appends rows inside tx.
func InsertTransactions(tx *gorm.DB, rows []models.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, 250).Error
}

// ExistingRowHashes returns which of hashes are already stored.
func ExistingRowHashes(tx *gorm.DB, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(hashes) == 0 {
		return existing, nil
	}

	// stays under the SQLite bound parameter limit
	const chunk = 500
	for start := 0; start < len(hashes); start += chunk {
		end := min(start+chunk, len(hashes))

		var found []string
		err := tx.Model(&models.Transaction{}).
			Where("row_hash IN ?", hashes[start:end]).
			Distinct().
			Pluck("row_hash", &found).Error
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			existing[h] = struct{}{}
		}
	}
	return existing, nil
}

// ListTransactions returns priced transactions, most recent first.
func (d *Database) ListTransactions(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	q := d.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("valeur_fonciere IS NOT NULL AND valeur_fonciere > 0")

	if f.CodeDepartement != "" {
		q = q.Where("code_departement = ?", f.CodeDepartement)
	}
	if f.CodeCommune != "" {
		q = q.Where("code_commune = ?", f.CodeCommune)
	}
	if f.CodePostal != "" {
		q = q.Where("code_postal = ?", f.CodePostal)
	}
	if f.TypeLocal != "" {
		q = q.Where("type_local = ?", f.TypeLocal)
	}
	if f.StartDate != "" {
		q = q.Where("date(date_mutation) >= date(?)", f.StartDate)
	}
	if f.EndDate != "" {
		q = q.Where("date(date_mutation) <= date(?)", f.EndDate)
	}
	if f.MinPrice != nil {
		q = q.Where("valeur_fonciere >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("valeur_fonciere <= ?", *f.MaxPrice)
	}
	if f.MinSurface != nil {
		q = q.Where("surface_reelle_bati >= ?", *f.MinSurface)
	}
	if f.MaxSurface != nil {
		q = q.Where("surface_reelle_bati <= ?", *f.MaxSurface)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var rows []models.Transaction
	err := q.Order("date_mutation DESC").Order("id DESC").
		Limit(limit).Offset(f.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, MapError("list transactions", err)
	}
	return rows, nil
}

// DepartmentStats groups the priced transactions of a department by property
// type, busiest type first.
func (d *Database) DepartmentStats(ctx context.Context, codeDepartement string) ([]models.DepartmentStats, error) {
	query := `
        SELECT
            COALESCE(type_local, '') as type_local,
            COUNT(*) as transaction_count,
            ROUND(AVG(valeur_fonciere), 2) as avg_price,
            ROUND(AVG(valeur_fonciere / NULLIF(surface_reelle_bati, 0)), 2) as avg_price_m2,
            ROUND(SUM(valeur_fonciere), 2) as total_volume
        FROM dvf_transactions
        WHERE code_departement = ?
          AND valeur_fonciere > 0
          AND surface_reelle_bati > 0
        GROUP BY type_local
        ORDER BY transaction_count DESC, type_local
    `

	var stats []models.DepartmentStats
	if err := d.db.WithContext(ctx).Raw(query, codeDepartement).Scan(&stats).Error; err != nil {
		return nil, MapError("department stats", err)
	}
	return stats, nil
}

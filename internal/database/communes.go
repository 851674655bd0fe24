package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"immobilier/server/internal/models"
)

// UpsertCommunes inserts communes or overwrites the reference attributes of
// those whose code already exists.
func UpsertCommunes(tx *gorm.DB, communes []models.Commune) error {
	if len(communes) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"nom",
			"code_departement",
			"code_region",
			"population",
			"surface",
			"longitude",
			"latitude",
			"updated_at",
		}),
	}).CreateInBatches(communes, 500).Error
}

// ListCommunes returns communes ordered by code.
func (d *Database) ListCommunes(ctx context.Context, f models.CommuneFilter) ([]models.Commune, error) {
	q := d.db.WithContext(ctx).Model(&models.Commune{})
	if f.CodeDepartement != "" {
		q = q.Where("code_departement = ?", f.CodeDepartement)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var communes []models.Commune
	if err := q.Order("code").Limit(limit).Find(&communes).Error; err != nil {
		return nil, MapError("list communes", err)
	}
	return communes, nil
}

// GetCommune returns the commune with the given INSEE code, nil when unknown.
func (d *Database) GetCommune(ctx context.Context, code string) (*models.Commune, error) {
	var communes []models.Commune
	if err := d.db.WithContext(ctx).Where("code = ?", code).Limit(1).Find(&communes).Error; err != nil {
		return nil, MapError("get commune", err)
	}
	if len(communes) == 0 {
		return nil, nil
	}
	return &communes[0], nil
}

// CommunesByCode loads the given communes keyed by code.
func (d *Database) CommunesByCode(ctx context.Context, codes []string) (map[string]models.Commune, error) {
	byCode := make(map[string]models.Commune, len(codes))
	if len(codes) == 0 {
		return byCode, nil
	}

	var communes []models.Commune
	if err := d.db.WithContext(ctx).Where("code IN ?", codes).Find(&communes).Error; err != nil {
		return nil, MapError("load communes", err)
	}
	for _, c := range communes {
		byCode[c.Code] = c
	}
	return byCode, nil
}

package database

import (
	"context"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"immobilier/server/internal/dvf"
	"immobilier/server/internal/models"
	"immobilier/server/internal/stats"
)

// AnalysisInput is the part of a transaction the market aggregator reads.
type AnalysisInput struct {
	CodeDepartement   string
	CodeCommune       string
	TypeLocal         string
	DateMutation      *time.Time
	ValeurFonciere    float64
	SurfaceReelleBati float64
}

// AnalysisScope restricts the aggregated transactions. Empty fields match
// everything.
type AnalysisScope struct {
	CodeDepartement string
	CodeCommune     string
}

// ScanAnalysisInputs calls fn for every transaction with a value and a
// strictly positive built surface. The rows are fully read before returning,
// fn must not use the database.
func (d *Database) ScanAnalysisInputs(ctx context.Context, scope AnalysisScope, fn func(AnalysisInput)) error {
	q := d.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("code_departement, code_commune, type_local, date_mutation, valeur_fonciere, surface_reelle_bati").
		Where("valeur_fonciere IS NOT NULL AND surface_reelle_bati IS NOT NULL AND surface_reelle_bati > 0")
	if scope.CodeDepartement != "" {
		q = q.Where("code_departement = ?", scope.CodeDepartement)
	}
	if scope.CodeCommune != "" {
		q = q.Where("code_commune = ?", scope.CodeCommune)
	}

	rows, err := q.Rows()
	if err != nil {
		return MapError("scan transactions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in AnalysisInput
		if err := d.db.ScanRows(rows, &in); err != nil {
			return MapError("scan transactions", err)
		}
		fn(in)
	}
	return MapError("scan transactions", rows.Err())
}

// ReplaceAnalysis deletes the stored rows of every group present in rows and
// inserts rows, all inside tx.
func ReplaceAnalysis(tx *gorm.DB, rows []models.MarketAnalysis) error {
	seen := make(map[models.GroupKey]struct{}, len(rows))
	for _, row := range rows {
		key := row.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		err := tx.Where(
			"code_departement = ? AND code_commune = ? AND period = ? AND type_local = ?",
			key.CodeDepartement, key.CodeCommune, key.Period, key.TypeLocal,
		).Delete(&models.MarketAnalysis{}).Error
		if err != nil {
			return err
		}
	}

	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, 250).Error
}

// ListMarketAnalysis returns analysis rows joined with their commune, most
// recent period first.
func (d *Database) ListMarketAnalysis(ctx context.Context, f models.MarketFilter) ([]models.MarketAnalysisView, error) {
	query := `
        SELECT
            ma.*,
            c.nom as commune_nom,
            c.longitude as commune_longitude,
            c.latitude as commune_latitude
        FROM market_analysis ma
        LEFT JOIN communes c ON c.code = ma.code_insee
        WHERE (? = '' OR ma.code_commune = ?)
        AND (? = '' OR ma.code_departement = ?)
        AND (? = '' OR ma.type_local = ?)
        AND (? = '' OR ma.period >= ?)
        AND (? = '' OR ma.period <= ?)
        ORDER BY ma.period DESC, ma.type_local
    `
	var args []interface{}
	args = append(args,
		f.CodeCommune, f.CodeCommune,
		f.CodeDepartement, f.CodeDepartement,
		f.TypeLocal, f.TypeLocal,
		f.PeriodStart, f.PeriodStart,
		f.PeriodEnd, f.PeriodEnd,
	)

	var rows []models.MarketAnalysisView
	if err := d.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, MapError("list market analysis", err)
	}
	return rows, nil
}

// LatestMarketByCommune returns, for each commune, the analysis row of its
// latest period for the given property type.
func (d *Database) LatestMarketByCommune(ctx context.Context, typeLocal, codeDepartement string) ([]models.MarketAnalysisView, error) {
	query := `
        SELECT
            ma.*,
            c.nom as commune_nom,
            c.longitude as commune_longitude,
            c.latitude as commune_latitude
        FROM market_analysis ma
        JOIN communes c ON c.code = ma.code_insee
        WHERE ma.type_local = ?
        AND (? = '' OR ma.code_departement = ?)
        AND ma.period = (
            SELECT MAX(m2.period)
            FROM market_analysis m2
            WHERE m2.code_insee = ma.code_insee
            AND m2.type_local = ma.type_local
        )
        ORDER BY ma.code_insee
    `

	var rows []models.MarketAnalysisView
	err := d.db.WithContext(ctx).Raw(query, typeLocal, codeDepartement, codeDepartement).Scan(&rows).Error
	if err != nil {
		return nil, MapError("latest market analysis", err)
	}
	return rows, nil
}

// OpportunityQuery parameterises InvestmentOpportunities.
type OpportunityQuery struct {
	TypeLocal  string
	BudgetMax  float64
	PriceM2Max float64
	MinSales   int
	Limit      int
}

type opportunityRow struct {
	CodeDepartement string
	CodeCommune     string
	Commune         string
	ValeurFonciere  float64
	PrixM2          float64 `gorm:"column:prix_m2"`
}

type communeSample struct {
	name   string
	prices []float64
	perSqm []float64
}

// InvestmentOpportunities ranks the communes with at least MinSales affordable
// sales by ascending average price per m2, keeping those under PriceM2Max and
// above the 5th percentile of the candidates.
func (d *Database) InvestmentOpportunities(ctx context.Context, q OpportunityQuery) ([]models.InvestmentOpportunity, error) {
	if q.MinSales <= 0 {
		q.MinSales = 5
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}

	rows, err := d.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("code_departement, code_commune, commune, valeur_fonciere, prix_m2").
		Where("type_local = ?", q.TypeLocal).
		Where("valeur_fonciere > 0 AND valeur_fonciere <= ?", q.BudgetMax).
		Where("surface_reelle_bati > 0 AND prix_m2 IS NOT NULL").
		Rows()
	if err != nil {
		return nil, MapError("investment opportunities", err)
	}

	samples := make(map[string]*communeSample)
	for rows.Next() {
		var r opportunityRow
		if err := d.db.ScanRows(rows, &r); err != nil {
			rows.Close()
			return nil, MapError("investment opportunities", err)
		}
		code := dvf.InseeCode(r.CodeDepartement, r.CodeCommune)
		s, ok := samples[code]
		if !ok {
			s = &communeSample{name: r.Commune}
			samples[code] = s
		}
		s.prices = append(s.prices, r.ValeurFonciere)
		s.perSqm = append(s.perSqm, r.PrixM2)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, MapError("investment opportunities", err)
	}
	rows.Close()

	type candidate struct {
		models.InvestmentOpportunity
		mean float64
	}

	var candidates []candidate
	var averages []float64
	for code, s := range samples {
		if len(s.perSqm) < q.MinSales {
			continue
		}
		m2, _ := stats.Summarize(s.perSqm)
		price, _ := stats.Summarize(s.prices)
		candidates = append(candidates, candidate{
			InvestmentOpportunity: models.InvestmentOpportunity{
				Code:             code,
				Name:             s.name,
				AvgPriceM2:       round2(m2.Mean),
				TransactionCount: m2.Count,
				MedianPrice:      round2(price.Median),
				MedianPriceM2:    round2(m2.Median),
			},
			mean: m2.Mean,
		})
		averages = append(averages, m2.Mean)
	}
	if len(candidates) == 0 {
		return []models.InvestmentOpportunity{}, nil
	}

	sort.Float64s(averages)
	floor := stats.Quantile(averages, 0.05)

	var kept []candidate
	for _, c := range candidates {
		if c.mean <= q.PriceM2Max && c.mean >= floor {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].mean != kept[j].mean {
			return kept[i].mean < kept[j].mean
		}
		return kept[i].Code < kept[j].Code
	})
	if len(kept) > q.Limit {
		kept = kept[:q.Limit]
	}

	selected := make([]models.InvestmentOpportunity, len(kept))
	for i, c := range kept {
		selected[i] = c.InvestmentOpportunity
	}

	codes := make([]string, len(selected))
	for i, s := range selected {
		codes[i] = s.Code
	}
	communes, err := d.CommunesByCode(ctx, codes)
	if err != nil {
		return nil, err
	}

	for i := range selected {
		o := &selected[i]
		if c, ok := communes[o.Code]; ok {
			o.Name = c.Nom
			if c.Population != nil {
				o.Population = *c.Population
			}
			o.Latitude = c.Latitude
			o.Longitude = c.Longitude
		}
		o.BudgetRatio = round2(o.MedianPrice / q.BudgetMax * 100)
		if q.PriceM2Max > 0 {
			o.PriceM2Ratio = round2(o.MedianPriceM2 / q.PriceM2Max * 100)
		}
	}
	return selected, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

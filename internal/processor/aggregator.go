package processor

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"immobilier/server/internal/database"
	"immobilier/server/internal/dvf"
	"immobilier/server/internal/models"
	"immobilier/server/internal/stats"
)

// Aggregator derives market statistics from stored transactions.
type Aggregator struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewAggregator(db *database.Database, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Aggregator{db: db, logger: logger}
}

type group struct {
	prices []float64
	volume float64
}

// GenerateAnalysis groups the priced transactions in scope by commune, month
// and property type and replaces the stored rows of every produced group in
// one transaction. It returns the number of groups written.
func (a *Aggregator) GenerateAnalysis(ctx context.Context, scope database.AnalysisScope) (int, error) {
	groups := make(map[models.GroupKey]*group)
	undated := 0

	err := a.db.ScanAnalysisInputs(ctx, scope, func(in database.AnalysisInput) {
		if in.DateMutation == nil {
			undated++
			return
		}
		key := models.GroupKey{
			CodeDepartement: in.CodeDepartement,
			CodeCommune:     in.CodeCommune,
			Period:          dvf.Period(*in.DateMutation),
			TypeLocal:       in.TypeLocal,
		}
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		price := in.ValeurFonciere / in.SurfaceReelleBati
		if !stats.Finite(price) {
			return
		}
		g.prices = append(g.prices, price)
		g.volume += in.ValeurFonciere
	})
	if err != nil {
		return 0, err
	}

	rows := buildAnalysisRows(groups)

	err = a.db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.ReplaceAnalysis(tx, rows); err != nil {
			return fmt.Errorf("failed to replace market analysis: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, database.MapError("commit market analysis", err)
	}

	a.logger.WithFields(logrus.Fields{
		"groups":           len(rows),
		"undated":          undated,
		"code_commune":     scope.CodeCommune,
		"code_departement": scope.CodeDepartement,
	}).Info("Generated market analysis")
	return len(rows), nil
}

func buildAnalysisRows(groups map[models.GroupKey]*group) []models.MarketAnalysis {
	rows := make([]models.MarketAnalysis, 0, len(groups))
	for key, g := range groups {
		s, ok := stats.Summarize(g.prices)
		if !ok {
			continue
		}
		rows = append(rows, models.MarketAnalysis{
			CodeCommune:      key.CodeCommune,
			CodeDepartement:  key.CodeDepartement,
			CodeInsee:        dvf.InseeCode(key.CodeDepartement, key.CodeCommune),
			Period:           key.Period,
			TypeLocal:        key.TypeLocal,
			AvgPriceM2:       s.Mean,
			MedianPriceM2:    s.Median,
			MinPriceM2:       s.Min,
			MaxPriceM2:       s.Max,
			TransactionCount: s.Count,
			TotalVolume:      g.volume,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.CodeDepartement != b.CodeDepartement {
			return a.CodeDepartement < b.CodeDepartement
		}
		if a.CodeCommune != b.CodeCommune {
			return a.CodeCommune < b.CodeCommune
		}
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		return a.TypeLocal < b.TypeLocal
	})
	return rows
}

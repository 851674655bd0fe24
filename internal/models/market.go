package models

import "time"

// MarketAnalysis holds the price statistics of one
// (commune, month, property type) group.
type MarketAnalysis struct {
	ID               int64     `json:"id" gorm:"primaryKey"`
	CodeCommune      string    `json:"code_commune" gorm:"size:5;index:idx_market_commune_period,priority:1"`
	CodeDepartement  string    `json:"code_departement" gorm:"size:5"`
	CodeInsee        string    `json:"code_insee" gorm:"size:5;index:idx_market_insee"`
	Period           string    `json:"period" gorm:"size:20;index:idx_market_commune_period,priority:2"`
	TypeLocal        string    `json:"type_local" gorm:"size:50"`
	AvgPriceM2       float64   `json:"avg_price_m2" gorm:"column:avg_price_m2"`
	MedianPriceM2    float64   `json:"median_price_m2" gorm:"column:median_price_m2"`
	MinPriceM2       float64   `json:"min_price_m2" gorm:"column:min_price_m2"`
	MaxPriceM2       float64   `json:"max_price_m2" gorm:"column:max_price_m2"`
	TransactionCount int       `json:"transaction_count"`
	TotalVolume      float64   `json:"total_volume"`
	PriceEvolution   *float64  `json:"price_evolution"`
	CreatedAt        time.Time `json:"created_at"`
}

func (MarketAnalysis) TableName() string {
	return "market_analysis"
}

// GroupKey identifies the aggregation bucket of a row.
type GroupKey struct {
	CodeDepartement string
	CodeCommune     string
	Period          string
	TypeLocal       string
}

// Key returns the aggregation bucket of the row.
func (m MarketAnalysis) Key() GroupKey {
	return GroupKey{
		CodeDepartement: m.CodeDepartement,
		CodeCommune:     m.CodeCommune,
		Period:          m.Period,
		TypeLocal:       m.TypeLocal,
	}
}

// MarketAnalysisView is an analysis row joined with its commune.
type MarketAnalysisView struct {
	MarketAnalysis
	CommuneNom       *string  `json:"commune_nom"`
	CommuneLongitude *float64 `json:"commune_longitude"`
	CommuneLatitude  *float64 `json:"commune_latitude"`
}

// MarketFilter narrows analysis listings.
type MarketFilter struct {
	CodeCommune     string
	CodeDepartement string
	TypeLocal       string
	PeriodStart     string
	PeriodEnd       string
}

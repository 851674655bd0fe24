package models

import (
	"time"

	"immobilier/server/internal/dvf"
)

// Transaction is one stored DVF mutation line. Numeric columns are nullable.
type Transaction struct {
	ID                  int64      `json:"id" gorm:"primaryKey"`
	RowHash             string     `json:"-" gorm:"size:64;index:idx_dvf_row_hash"`
	IdentifiantDocument string     `json:"identifiant_document,omitempty" gorm:"size:50"`
	ReferenceDocument   string     `json:"reference_document,omitempty" gorm:"size:50"`
	ArticleCGI1         string     `json:"article_cgi_1,omitempty" gorm:"column:article_cgi_1;size:20"`
	ArticleCGI2         string     `json:"article_cgi_2,omitempty" gorm:"column:article_cgi_2;size:20"`
	ArticleCGI3         string     `json:"article_cgi_3,omitempty" gorm:"column:article_cgi_3;size:20"`
	ArticleCGI4         string     `json:"article_cgi_4,omitempty" gorm:"column:article_cgi_4;size:20"`
	ArticleCGI5         string     `json:"article_cgi_5,omitempty" gorm:"column:article_cgi_5;size:20"`
	NoDisposition       string     `json:"no_disposition,omitempty" gorm:"size:20"`
	DateMutation        *time.Time `json:"date_mutation" gorm:"type:date;index:idx_dvf_date_mutation"`
	NatureMutation      string     `json:"nature_mutation" gorm:"size:100"`
	ValeurFonciere      *float64   `json:"valeur_fonciere" validate:"omitempty,gte=0"`
	PrixM2              *float64   `json:"prix_m2" gorm:"column:prix_m2"`
	NoVoie              string     `json:"no_voie,omitempty" gorm:"size:10"`
	BTQ                 string     `json:"btq,omitempty" gorm:"column:btq;size:10"`
	TypeDeVoie          string     `json:"type_de_voie,omitempty" gorm:"size:50"`
	CodeVoie            string     `json:"code_voie,omitempty" gorm:"size:10"`
	Voie                string     `json:"voie,omitempty" gorm:"size:255"`
	CodePostal          string     `json:"code_postal" gorm:"size:5;index:idx_dvf_code_postal" validate:"omitempty,max=5"`
	Commune             string     `json:"commune" gorm:"size:100"`
	CodeDepartement     string     `json:"code_departement" gorm:"size:3" validate:"required,max=3"`
	CodeCommune         string     `json:"code_commune" gorm:"size:5;index:idx_dvf_code_commune" validate:"required,max=5"`
	PrefixeDeSection    string     `json:"prefixe_de_section,omitempty" gorm:"size:5"`
	Section             string     `json:"section,omitempty" gorm:"size:5"`
	NoPlan              string     `json:"no_plan,omitempty" gorm:"size:10"`
	NoVolume            string     `json:"no_volume,omitempty" gorm:"size:10"`
	Lot1Numero          string     `json:"lot1_numero,omitempty" gorm:"column:lot1_numero;size:10"`
	Lot1SurfaceCarrez   *float64   `json:"lot1_surface_carrez,omitempty" gorm:"column:lot1_surface_carrez"`
	Lot2Numero          string     `json:"lot2_numero,omitempty" gorm:"column:lot2_numero;size:10"`
	Lot2SurfaceCarrez   *float64   `json:"lot2_surface_carrez,omitempty" gorm:"column:lot2_surface_carrez"`
	Lot3Numero          string     `json:"lot3_numero,omitempty" gorm:"column:lot3_numero;size:10"`
	Lot3SurfaceCarrez   *float64   `json:"lot3_surface_carrez,omitempty" gorm:"column:lot3_surface_carrez"`
	Lot4Numero          string     `json:"lot4_numero,omitempty" gorm:"column:lot4_numero;size:10"`
	Lot4SurfaceCarrez   *float64   `json:"lot4_surface_carrez,omitempty" gorm:"column:lot4_surface_carrez"`
	Lot5Numero          string     `json:"lot5_numero,omitempty" gorm:"column:lot5_numero;size:10"`
	Lot5SurfaceCarrez   *float64   `json:"lot5_surface_carrez,omitempty" gorm:"column:lot5_surface_carrez"`
	NombreLots          *int       `json:"nombre_lots,omitempty" validate:"omitempty,gte=0"`
	CodeTypeLocal       string     `json:"code_type_local,omitempty" gorm:"size:10"`
	TypeLocal           string     `json:"type_local" gorm:"size:50;index:idx_dvf_type_local"`
	IdentifiantLocal    string     `json:"identifiant_local,omitempty" gorm:"size:50"`
	SurfaceReelleBati   *float64   `json:"surface_reelle_bati" validate:"omitempty,gte=0"`
	NombrePieces        *int       `json:"nombre_pieces_principales" gorm:"column:nombre_pieces_principales" validate:"omitempty,gte=0"`
	NatureCulture       string     `json:"nature_culture,omitempty" gorm:"size:50"`
	NatureCultureSpec   string     `json:"nature_culture_speciale,omitempty" gorm:"column:nature_culture_speciale;size:50"`
	SurfaceTerrain      *float64   `json:"surface_terrain" validate:"omitempty,gte=0"`
	Longitude           *float64   `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Latitude            *float64   `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	CreatedAt           time.Time  `json:"created_at"`
}

func (Transaction) TableName() string {
	return "dvf_transactions"
}

// NewTransaction maps a cleaned record to its storage row.
func NewTransaction(r dvf.Record) Transaction {
	return Transaction{
		RowHash:             r.RowHash,
		IdentifiantDocument: r.IdentifiantDocument,
		ReferenceDocument:   r.ReferenceDocument,
		ArticleCGI1:         r.ArticlesCGI[0],
		ArticleCGI2:         r.ArticlesCGI[1],
		ArticleCGI3:         r.ArticlesCGI[2],
		ArticleCGI4:         r.ArticlesCGI[3],
		ArticleCGI5:         r.ArticlesCGI[4],
		NoDisposition:       r.NoDisposition,
		DateMutation:        r.Date,
		NatureMutation:      r.NatureMutation,
		ValeurFonciere:      r.ValeurFonciere,
		PrixM2:              r.PricePerSqm,
		NoVoie:              r.NoVoie,
		BTQ:                 r.BTQ,
		TypeDeVoie:          r.TypeDeVoie,
		CodeVoie:            r.CodeVoie,
		Voie:                r.Voie,
		CodePostal:          r.CodePostal,
		Commune:             r.Commune,
		CodeDepartement:     r.CodeDepartement,
		CodeCommune:         r.CodeCommune,
		PrefixeDeSection:    r.PrefixeDeSection,
		Section:             r.Section,
		NoPlan:              r.NoPlan,
		NoVolume:            r.NoVolume,
		Lot1Numero:          r.Lots[0].Numero,
		Lot1SurfaceCarrez:   r.Lots[0].SurfaceCarrez,
		Lot2Numero:          r.Lots[1].Numero,
		Lot2SurfaceCarrez:   r.Lots[1].SurfaceCarrez,
		Lot3Numero:          r.Lots[2].Numero,
		Lot3SurfaceCarrez:   r.Lots[2].SurfaceCarrez,
		Lot4Numero:          r.Lots[3].Numero,
		Lot4SurfaceCarrez:   r.Lots[3].SurfaceCarrez,
		Lot5Numero:          r.Lots[4].Numero,
		Lot5SurfaceCarrez:   r.Lots[4].SurfaceCarrez,
		NombreLots:          r.NombreLots,
		CodeTypeLocal:       r.CodeTypeLocal,
		TypeLocal:           r.TypeLocal,
		IdentifiantLocal:    r.IdentifiantLocal,
		SurfaceReelleBati:   r.SurfaceReelleBati,
		NombrePieces:        r.NombrePiecesPrincipales,
		NatureCulture:       r.NatureCulture,
		NatureCultureSpec:   r.NatureCultureSpeciale,
		SurfaceTerrain:      r.SurfaceTerrain,
		Longitude:           r.Longitude,
		Latitude:            r.Latitude,
	}
}

// TransactionFilter narrows transaction listings. Zero values disable a
// criterion.
type TransactionFilter struct {
	CodeDepartement string
	CodeCommune     string
	CodePostal      string
	TypeLocal       string
	MinPrice        *float64
	MaxPrice        *float64
	MinSurface      *float64
	MaxSurface      *float64
	StartDate       string
	EndDate         string
	Limit           int
	Offset          int
}

// DepartmentStats is one property type line of a department summary.
type DepartmentStats struct {
	TypeLocal        string   `json:"type_local"`
	TransactionCount int64    `json:"transaction_count"`
	AvgPrice         *float64 `json:"avg_price"`
	AvgPriceM2       *float64 `json:"avg_price_m2" gorm:"column:avg_price_m2"`
	TotalVolume      *float64 `json:"total_volume"`
}

// InvestmentOpportunity is a commune whose average price per m2 fits a
// budget while staying above the cheapest 5% of candidate communes.
type InvestmentOpportunity struct {
	Code             string   `json:"code_commune"`
	Name             string   `json:"nom_commune"`
	AvgPriceM2       float64  `json:"prix_m2_moyen"`
	TransactionCount int      `json:"nb_transactions"`
	MedianPrice      float64  `json:"prix_median"`
	MedianPriceM2    float64  `json:"prix_m2_median"`
	Population       int      `json:"population"`
	Latitude         *float64 `json:"lat"`
	Longitude        *float64 `json:"lon"`
	BudgetRatio      float64  `json:"ratio_prix_budget"`
	PriceM2Ratio     float64  `json:"ratio_prix_m2_budget"`
}

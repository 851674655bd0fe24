// Package dvf holds the typed representation of a "Demandes de valeurs
// foncières" row and the parsing rules of the published text files.
package dvf

import (
	"time"
)

// DateLayout is the day/month/year format of the mutation date column.
const DateLayout = "02/01/2006"

// Lot is one of the five lot slots of a mutation line.
type Lot struct {
	Numero        string
	SurfaceCarrez *float64
}

// Record is one parsed line of the DVF file. Optional numeric values are nil
// when the column is empty or malformed.
type Record struct {
	IdentifiantDocument string
	ReferenceDocument   string
	ArticlesCGI         [5]string
	NoDisposition       string

	// RawDate is the untouched mutation date, Date is set once parsed.
	RawDate        string
	Date           *time.Time
	NatureMutation string
	ValeurFonciere *float64

	NoVoie     string
	BTQ        string
	TypeDeVoie string
	CodeVoie   string
	Voie       string
	CodePostal string
	Commune    string

	CodeDepartement  string
	CodeCommune      string
	PrefixeDeSection string
	Section          string
	NoPlan           string
	NoVolume         string

	Lots       [5]Lot
	NombreLots *int

	CodeTypeLocal           string
	TypeLocal               string
	IdentifiantLocal        string
	SurfaceReelleBati       *float64
	NombrePiecesPrincipales *int
	NatureCulture           string
	NatureCultureSpeciale   string
	SurfaceTerrain          *float64

	Longitude *float64
	Latitude  *float64

	// PricePerSqm is derived by the cleaner: value / built surface.
	PricePerSqm *float64

	// RowHash identifies the raw source line.
	RowHash string

	// Line is the 1-based line number in the source file.
	Line int
}

// InseeCode returns the five character commune code used by the reference
// dataset for this record.
func (r *Record) InseeCode() string {
	return InseeCode(r.CodeDepartement, r.CodeCommune)
}

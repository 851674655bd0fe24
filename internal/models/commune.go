package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Commune is the reference row of a municipality, keyed by its INSEE code.
type Commune struct {
	Code            string    `json:"code" gorm:"primaryKey;size:5"`
	Nom             string    `json:"nom" gorm:"size:100"`
	CodeDepartement string    `json:"code_departement" gorm:"size:3;index:idx_communes_departement"`
	CodeRegion      string    `json:"code_region" gorm:"size:3"`
	Population      *int      `json:"population"`
	Surface         *float64  `json:"surface"`
	Longitude       *float64  `json:"longitude"`
	Latitude        *float64  `json:"latitude"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Centroid returns the commune centre, false when coordinates are unknown.
func (c Commune) Centroid() (orb.Point, bool) {
	if c.Longitude == nil || c.Latitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*c.Longitude, *c.Latitude}, true
}

// CommuneFilter narrows commune listings.
type CommuneFilter struct {
	CodeDepartement string
	Limit           int
}

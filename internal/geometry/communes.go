package geometry

import (
	"immobilier/server/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CommuneCollection turns the latest analysis row of each commune into a
// point feature placed on the commune centre. Rows whose commune has no
// coordinates are skipped. The collection carries the bounding box of
// the emitted points when there is at least one.
func CommuneCollection(rows []models.MarketAnalysisView) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	var bound orb.Bound
	for _, row := range rows {
		point, ok := centroid(row)
		if !ok {
			continue
		}

		feature := geojson.NewFeature(point)
		feature.ID = row.CodeInsee
		feature.Properties = properties(row)
		fc.Append(feature)

		if len(fc.Features) == 1 {
			bound = point.Bound()
		} else {
			bound = bound.Extend(point)
		}
	}

	if len(fc.Features) > 0 {
		fc.BBox = geojson.NewBBox(bound)
	}
	return fc
}

// CommuneFeature places a reference commune on its centre. The geometry is
// nil when the commune has no coordinates.
func CommuneFeature(c models.Commune) *geojson.Feature {
	var feature *geojson.Feature
	if point, ok := c.Centroid(); ok {
		feature = geojson.NewFeature(point)
	} else {
		feature = &geojson.Feature{Type: "Feature", Properties: geojson.Properties{}}
	}
	feature.ID = c.Code
	feature.Properties["nom"] = c.Nom
	feature.Properties["code_departement"] = c.CodeDepartement
	feature.Properties["code_region"] = c.CodeRegion
	if c.Population != nil {
		feature.Properties["population"] = *c.Population
	}
	if c.Surface != nil {
		feature.Properties["surface"] = *c.Surface
	}
	return feature
}

func centroid(row models.MarketAnalysisView) (orb.Point, bool) {
	if row.CommuneLongitude == nil || row.CommuneLatitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*row.CommuneLongitude, *row.CommuneLatitude}, true
}

func properties(row models.MarketAnalysisView) geojson.Properties {
	props := geojson.Properties{
		"code_insee":        row.CodeInsee,
		"code_departement":  row.CodeDepartement,
		"period":            row.Period,
		"type_local":        row.TypeLocal,
		"avg_price_m2":      row.AvgPriceM2,
		"median_price_m2":   row.MedianPriceM2,
		"min_price_m2":      row.MinPriceM2,
		"max_price_m2":      row.MaxPriceM2,
		"transaction_count": row.TransactionCount,
		"total_volume":      row.TotalVolume,
	}
	if row.CommuneNom != nil {
		props["nom"] = *row.CommuneNom
	}
	return props
}

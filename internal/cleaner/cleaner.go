// Package cleaner derives the price per square metre of DVF records, drops
// price outliers with an interquartile range filter and normalises dates.
package cleaner

import (
	"sort"

	"immobilier/server/internal/dvf"
	"immobilier/server/internal/stats"
)

// DefaultMultiplier is the IQR fence factor.
const DefaultMultiplier = 1.5

// Options configures a Cleaner.
type Options struct {
	// StrictDates drops records whose mutation date does not parse instead of
	// keeping them with a nil date.
	StrictDates bool
	Multiplier  float64
}

// Bounds are the inclusive acceptance limits of the price per square metre.
// A zero Bounds (Valid false) accepts every price.
type Bounds struct {
	Lower float64
	Upper float64
	Valid bool
}

// Contains reports whether p is inside the bounds.
func (b Bounds) Contains(p float64) bool {
	if !b.Valid {
		return true
	}
	return p >= b.Lower && p <= b.Upper
}

// Result is the outcome of cleaning one batch.
type Result struct {
	Records      []dvf.Record
	Input        int
	Outliers     int
	InvalidDates int
	DroppedDates int
	Bounds       Bounds
}

// Cleaner is stateless apart from optional fixed bounds and is safe for
// concurrent use.
type Cleaner struct {
	opts  Options
	fixed *Bounds
}

// New returns a cleaner computing bounds per batch.
func New(opts Options) *Cleaner {
	if opts.Multiplier <= 0 {
		opts.Multiplier = DefaultMultiplier
	}
	return &Cleaner{opts: opts}
}

// WithBounds returns a copy of the cleaner that applies b to every batch
// instead of computing bounds from the batch itself.
func (c *Cleaner) WithBounds(b Bounds) *Cleaner {
	cp := *c
	cp.fixed = &b
	return &cp
}

// Multiplier returns the IQR fence factor in use.
func (c *Cleaner) Multiplier() float64 {
	return c.opts.Multiplier
}

// Clean derives prices, filters outliers and parses dates. The input slice is
// not modified; records are copied into the result.
func (c *Cleaner) Clean(batch []dvf.Record) Result {
	res := Result{Input: len(batch)}
	if len(batch) == 0 {
		return res
	}

	priced := make([]dvf.Record, len(batch))
	prices := make([]float64, 0, len(batch))
	for i, rec := range batch {
		sanitize(&rec)
		rec.PricePerSqm = PricePerSqm(rec)
		if rec.PricePerSqm != nil {
			prices = append(prices, *rec.PricePerSqm)
		}
		priced[i] = rec
	}

	if c.fixed != nil {
		res.Bounds = *c.fixed
	} else {
		res.Bounds = ComputeBounds(prices, c.opts.Multiplier)
	}

	res.Records = make([]dvf.Record, 0, len(priced))
	for _, rec := range priced {
		if rec.PricePerSqm != nil && !res.Bounds.Contains(*rec.PricePerSqm) {
			res.Outliers++
			continue
		}

		rec.Date = nil
		t, err := dvf.ParseDate(rec.RawDate)
		if err != nil {
			res.InvalidDates++
			if c.opts.StrictDates {
				res.DroppedDates++
				continue
			}
		} else {
			rec.Date = &t
		}

		res.Records = append(res.Records, rec)
	}

	return res
}

// PricePerSqm returns value / built surface, or nil when either side is
// missing, the surface is zero or the ratio is not finite.
func PricePerSqm(rec dvf.Record) *float64 {
	if rec.ValeurFonciere == nil || rec.SurfaceReelleBati == nil || *rec.SurfaceReelleBati == 0 {
		return nil
	}
	p := *rec.ValeurFonciere / *rec.SurfaceReelleBati
	if !stats.Finite(p) {
		return nil
	}
	return &p
}

// ComputeBounds returns Q1 - k*IQR and Q3 + k*IQR over prices. Fewer than two
// prices yield invalid bounds, which keep everything.
func ComputeBounds(prices []float64, multiplier float64) Bounds {
	if len(prices) < 2 {
		return Bounds{}
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	q1 := stats.Quantile(sorted, 0.25)
	q3 := stats.Quantile(sorted, 0.75)
	iqr := q3 - q1
	return Bounds{
		Lower: q1 - multiplier*iqr,
		Upper: q3 + multiplier*iqr,
		Valid: true,
	}
}

// sanitize clears numeric fields holding NaN or infinity.
func sanitize(rec *dvf.Record) {
	for _, f := range []**float64{
		&rec.ValeurFonciere,
		&rec.SurfaceReelleBati,
		&rec.SurfaceTerrain,
		&rec.Longitude,
		&rec.Latitude,
		&rec.Lots[0].SurfaceCarrez,
		&rec.Lots[1].SurfaceCarrez,
		&rec.Lots[2].SurfaceCarrez,
		&rec.Lots[3].SurfaceCarrez,
		&rec.Lots[4].SurfaceCarrez,
	} {
		if *f != nil && !stats.Finite(**f) {
			*f = nil
		}
	}
}

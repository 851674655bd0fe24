package cleaner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immobilier/server/internal/dvf"
)

func ptr(v float64) *float64 { return &v }

func record(value, surface *float64, date string) dvf.Record {
	return dvf.Record{
		CodeDepartement:   "75",
		CodeCommune:       "101",
		TypeLocal:         "Appartement",
		RawDate:           date,
		ValeurFonciere:    value,
		SurfaceReelleBati: surface,
	}
}

func TestCleanDropsPriceOutlier(t *testing.T) {
	var batch []dvf.Record
	for _, v := range []float64{100000, 150000, 200000, 50000000, 120000} {
		batch = append(batch, record(ptr(v), ptr(50), "15/03/2023"))
	}

	res := New(Options{}).Clean(batch)

	require.Len(t, res.Records, 4)
	assert.Equal(t, 5, res.Input)
	assert.Equal(t, 1, res.Outliers)
	for _, rec := range res.Records {
		require.NotNil(t, rec.PricePerSqm)
		assert.Less(t, *rec.PricePerSqm, 1000000.0)
		require.NotNil(t, rec.Date)
		assert.Equal(t, "2023-03", dvf.Period(*rec.Date))
	}

	// quartiles of 2000, 2400, 3000, 4000, 1e6 are 2400 and 4000
	assert.True(t, res.Bounds.Valid)
	assert.InDelta(t, 0, res.Bounds.Lower, 1e-9)
	assert.InDelta(t, 6400, res.Bounds.Upper, 1e-9)
}

func TestCleanKeepsRecordsWithoutPrice(t *testing.T) {
	batch := []dvf.Record{
		record(ptr(100000), ptr(50), "01/01/2023"),
		record(ptr(100000), ptr(0), "01/01/2023"),
		record(nil, ptr(40), "01/01/2023"),
		record(ptr(90000), nil, "01/01/2023"),
	}

	res := New(Options{}).Clean(batch)

	require.Len(t, res.Records, 4)
	assert.NotNil(t, res.Records[0].PricePerSqm)
	assert.Nil(t, res.Records[1].PricePerSqm)
	assert.Nil(t, res.Records[2].PricePerSqm)
	assert.Nil(t, res.Records[3].PricePerSqm)
	assert.False(t, res.Bounds.Valid)
}

func TestCleanDates(t *testing.T) {
	batch := []dvf.Record{
		record(ptr(100000), ptr(50), "31/12/2022"),
		record(ptr(100000), ptr(50), "2022-12-31"),
		record(ptr(100000), ptr(50), ""),
	}

	t.Run("lenient", func(t *testing.T) {
		res := New(Options{}).Clean(batch)
		require.Len(t, res.Records, 3)
		assert.NotNil(t, res.Records[0].Date)
		assert.Nil(t, res.Records[1].Date)
		assert.Nil(t, res.Records[2].Date)
		assert.Equal(t, 2, res.InvalidDates)
		assert.Equal(t, 0, res.DroppedDates)
	})

	t.Run("strict", func(t *testing.T) {
		res := New(Options{StrictDates: true}).Clean(batch)
		require.Len(t, res.Records, 1)
		assert.Equal(t, 2, res.InvalidDates)
		assert.Equal(t, 2, res.DroppedDates)
	})
}

func TestCleanDoesNotModifyInput(t *testing.T) {
	batch := []dvf.Record{record(ptr(100000), ptr(50), "01/01/2023")}
	New(Options{}).Clean(batch)
	assert.Nil(t, batch[0].PricePerSqm)
	assert.Nil(t, batch[0].Date)
}

func TestCleanSanitizesNonFiniteValues(t *testing.T) {
	rec := record(ptr(math.Inf(1)), ptr(50), "01/01/2023")
	rec.Longitude = ptr(math.NaN())
	rec.Latitude = ptr(48.85)

	res := New(Options{}).Clean([]dvf.Record{rec})

	require.Len(t, res.Records, 1)
	assert.Nil(t, res.Records[0].ValeurFonciere)
	assert.Nil(t, res.Records[0].PricePerSqm)
	assert.Nil(t, res.Records[0].Longitude)
	assert.Equal(t, 48.85, *res.Records[0].Latitude)
}

func TestCleanWithFixedBounds(t *testing.T) {
	batch := []dvf.Record{
		record(ptr(100000), ptr(50), "01/01/2023"),
		record(ptr(500000), ptr(50), "01/01/2023"),
	}

	c := New(Options{}).WithBounds(Bounds{Lower: 1000, Upper: 5000, Valid: true})
	res := c.Clean(batch)

	require.Len(t, res.Records, 1)
	assert.Equal(t, 2000.0, *res.Records[0].PricePerSqm)
	assert.Equal(t, 1, res.Outliers)
}

func TestComputeBounds(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   Bounds
	}{
		{"empty", nil, Bounds{}},
		{"single", []float64{3000}, Bounds{}},
		{"identical", []float64{3000, 3000, 3000}, Bounds{Lower: 3000, Upper: 3000, Valid: true}},
		{"unsorted", []float64{4, 1, 3, 2}, Bounds{Lower: -0.5, Upper: 5.5, Valid: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBounds(tt.prices, DefaultMultiplier)
			assert.Equal(t, tt.want.Valid, got.Valid)
			assert.InDelta(t, tt.want.Lower, got.Lower, 1e-9)
			assert.InDelta(t, tt.want.Upper, got.Upper, 1e-9)
		})
	}
}

func TestPricePerSqm(t *testing.T) {
	assert.Equal(t, 2500.0, *PricePerSqm(record(ptr(125000), ptr(50), "")))
	assert.Nil(t, PricePerSqm(record(ptr(125000), ptr(0), "")))
	assert.Nil(t, PricePerSqm(record(nil, ptr(50), "")))
}

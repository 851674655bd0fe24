package dvf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInseeCode(t *testing.T) {
	tests := []struct {
		dept, commune, want string
	}{
		{"1", "53", "01053"},
		{"01", "053", "01053"},
		{"75", "101", "75101"},
		{"2A", "4", "2A004"},
		{"971", "101", "97101"},
		{"", "101", ""},
		{"75", "", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, InseeCode(tt.dept, tt.commune), tt.dept+"/"+tt.commune)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("05/06/2023")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, time.June, 5, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2023-06", Period(d))

	_, err = ParseDate("2023-06-05")
	assert.Error(t, err)

	_, err = ParseDate("31/02/2023")
	assert.Error(t, err)
}

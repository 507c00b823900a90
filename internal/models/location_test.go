package models

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRosterValidation(t *testing.T) {
	tests := []struct {
		name      string
		locations []Location
		wantErr   error
	}{
		{"empty", nil, ErrEmptyRoster},
		{"zero capacity", []Location{{ID: "A", Capacity: 0}}, ErrInvalidCapacity},
		{"negative capacity", []Location{{ID: "A", Capacity: -5}}, ErrInvalidCapacity},
		{"missing id", []Location{{ID: " ", Capacity: 10}}, ErrMissingLocationID},
		{"duplicate id", []Location{{ID: "A", Capacity: 10}, {ID: "A", Capacity: 20}}, ErrDuplicateLocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoster(tt.locations)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestRosterLookups(t *testing.T) {
	roster, err := NewRoster(CairoLocations())
	require.NoError(t, err)

	assert.Equal(t, 7, roster.Len())
	assert.Equal(t, "Tahrir Square", roster.At(0).Name)

	loc, ok := roster.Get("LOC006")
	require.True(t, ok)
	assert.Equal(t, "Maadi Corniche", loc.Name)
	assert.Equal(t, 60, loc.Capacity)

	_, ok = roster.Get("LOC999")
	assert.False(t, ok)
}

func TestRosterCopiesInput(t *testing.T) {
	locations := CairoLocations()
	roster, err := NewRoster(locations)
	require.NoError(t, err)

	locations[0].Name = "changed"
	assert.Equal(t, "Tahrir Square", roster.At(0).Name)

	all := roster.All()
	all[1].Capacity = 1
	assert.Equal(t, 150, roster.At(1).Capacity)
}

func TestRosterNearest(t *testing.T) {
	roster, err := NewRoster(CairoLocations())
	require.NoError(t, err)

	tests := []struct {
		lat, lon float64
		want     string
	}{
		{30.0444, 31.2357, "LOC001"},
		{30.0630, 31.2500, "LOC002"},
		{30.0800, 31.3200, "LOC005"},
		{29.9000, 31.2600, "LOC006"},
		{30.0620, 31.1990, "LOC007"},
	}
	for _, tt := range tests {
		loc, ok := roster.Nearest(tt.lat, tt.lon)
		require.True(t, ok)
		assert.Equal(t, tt.want, loc.ID)
	}
}

func TestReadLocationsCSV(t *testing.T) {
	input := `id,name,lat,lon,capacity
A1, Giza Square, 30.0131, 31.2089, 95
A2,"Salah Salem, North",30.0600,31.2800,140
`
	locations, err := ReadLocationsCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, Location{ID: "A1", Name: "Giza Square", Lat: 30.0131, Lon: 31.2089, Capacity: 95}, locations[0])
	assert.Equal(t, "Salah Salem, North", locations[1].Name)
	assert.Equal(t, 140, locations[1].Capacity)
}

func TestReadLocationsCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bad latitude", "id,name,lat,lon,capacity\nA,Name,north,31.2,10\n"},
		{"bad capacity", "id,name,lat,lon,capacity\nA,Name,30.0,31.2,lots\n"},
		{"missing column", "id,name,lat,lon,capacity\nA,Name,30.0,31.2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadLocationsCSV(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoadLocationsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name,lat,lon,capacity\nX,Zamalek,30.0609,31.2197,70\n"), 0o644))

	locations, err := LoadLocationsCSV(path)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "Zamalek", locations[0].Name)

	_, err = LoadLocationsCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

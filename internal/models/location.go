package models

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dhconnelly/rtreego"
)

var (
	ErrEmptyRoster        = errors.New("location roster is empty")
	ErrInvalidCapacity    = errors.New("location capacity must be positive")
	ErrDuplicateLocation  = errors.New("duplicate location id")
	ErrMissingLocationID  = errors.New("location id is required")
	errMalformedRosterRow = errors.New("malformed roster row")
)

// Location is a monitored site with a fixed design capacity.
type Location struct {
	ID       string  `json:"id" mapstructure:"id"`
	Name     string  `json:"name" mapstructure:"name"`
	Lat      float64 `json:"lat" mapstructure:"lat"`
	Lon      float64 `json:"lon" mapstructure:"lon"`
	Capacity int     `json:"capacity" mapstructure:"capacity"`
}

// CairoLocations is the default roster of monitored sites.
func CairoLocations() []Location {
	return []Location{
		{ID: "LOC001", Name: "Tahrir Square", Lat: 30.0444, Lon: 31.2357, Capacity: 120},
		{ID: "LOC002", Name: "Ramses Square", Lat: 30.0626, Lon: 31.2497, Capacity: 150},
		{ID: "LOC003", Name: "6th October Bridge", Lat: 30.0626, Lon: 31.2444, Capacity: 100},
		{ID: "LOC004", Name: "Nasr City - Abbas El Akkad", Lat: 30.0515, Lon: 31.3381, Capacity: 80},
		{ID: "LOC005", Name: "Heliopolis - Uruba Street", Lat: 30.0808, Lon: 31.3239, Capacity: 90},
		{ID: "LOC006", Name: "Maadi Corniche", Lat: 29.9594, Lon: 31.2584, Capacity: 60},
		{ID: "LOC007", Name: "Ahmed Orabi Square", Lat: 30.0618, Lon: 31.2001, Capacity: 110},
	}
}

// Roster is an immutable, validated set of locations.
type Roster struct {
	locations []Location
	byID      map[string]int
	index     *rtreego.Rtree
}

type indexedLocation struct {
	pos      int
	envelope rtreego.Rect
}

func (il *indexedLocation) Bounds() rtreego.Rect {
	return il.envelope
}

// NewRoster validates locations and builds the roster. The input slice is copied.
func NewRoster(locations []Location) (*Roster, error) {
	if len(locations) == 0 {
		return nil, ErrEmptyRoster
	}

	r := &Roster{
		locations: make([]Location, len(locations)),
		byID:      make(map[string]int, len(locations)),
		index:     rtreego.NewTree(2, 25, 50),
	}
	copy(r.locations, locations)

	for i, loc := range r.locations {
		if strings.TrimSpace(loc.ID) == "" {
			return nil, fmt.Errorf("location at position %d: %w", i, ErrMissingLocationID)
		}
		if loc.Capacity <= 0 {
			return nil, fmt.Errorf("location %s has capacity %d: %w", loc.ID, loc.Capacity, ErrInvalidCapacity)
		}
		if _, exists := r.byID[loc.ID]; exists {
			return nil, fmt.Errorf("location %s: %w", loc.ID, ErrDuplicateLocation)
		}
		r.byID[loc.ID] = i
		r.index.Insert(&indexedLocation{
			pos:      i,
			envelope: rtreego.Point{loc.Lat, loc.Lon}.ToRect(0.00001),
		})
	}

	return r, nil
}

func (r *Roster) Len() int {
	return len(r.locations)
}

func (r *Roster) At(i int) Location {
	return r.locations[i]
}

// All returns a copy of the roster entries in their original order.
func (r *Roster) All() []Location {
	out := make([]Location, len(r.locations))
	copy(out, r.locations)
	return out
}

func (r *Roster) Get(id string) (Location, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Location{}, false
	}
	return r.locations[i], true
}

// Nearest returns the monitored location closest to the given coordinate.
func (r *Roster) Nearest(lat, lon float64) (Location, bool) {
	nearest := r.index.NearestNeighbor(rtreego.Point{lat, lon})
	if nearest == nil {
		return Location{}, false
	}
	return r.locations[nearest.(*indexedLocation).pos], true
}

// LoadLocationsCSV reads id,name,lat,lon,capacity rows. The first row is a header.
func LoadLocationsCSV(filePath string) ([]Location, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadLocationsCSV(file)
}

func ReadLocationsCSV(r io.Reader) ([]Location, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 5
	reader.TrimLeadingSpace = true
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, ErrEmptyRoster
		}
		return nil, err
	}

	var locations []Location
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		lat, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d latitude %q: %w", line, fields[2], errMalformedRosterRow)
		}
		lon, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d longitude %q: %w", line, fields[3], errMalformedRosterRow)
		}
		capacity, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("line %d capacity %q: %w", line, fields[4], errMalformedRosterRow)
		}

		locations = append(locations, Location{
			ID:       fields[0],
			Name:     fields[1],
			Lat:      lat,
			Lon:      lon,
			Capacity: capacity,
		})
	}

	return locations, nil
}

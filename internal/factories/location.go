package factories

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/jaswdr/faker"
)

const kmPerDegreeLat = 111.0

// LocationFactory invents extra monitored sites scattered around the city centre.
type LocationFactory struct {
	fake      faker.Faker
	rng       *rand.Rand
	nameCache sync.Map
}

// NewLocationFactory seeds both faker and the coordinate source. A zero seed uses the
// current time.
func NewLocationFactory(seed int64) *LocationFactory {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LocationFactory{
		fake: faker.NewWithSeed(rand.NewSource(seed)),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// CreateLocation returns a site within config.UrbanRadius km of the city centre with a
// capacity between MinCapacity and MaxCapacity.
func (lf *LocationFactory) CreateLocation(config *models.Config, id string) models.Location {
	latRange := config.UrbanRadius / kmPerDegreeLat
	lonRange := latRange / math.Cos(config.CityLat*math.Pi/180.0)

	latOffset := (lf.rng.Float64()*2 - 1) * latRange
	lonOffset := (lf.rng.Float64()*2 - 1) * lonRange

	return models.Location{
		ID:       id,
		Name:     lf.createUniqueName(lf.fake.Address().StreetName()),
		Lat:      roundCoordinate(config.CityLat + latOffset),
		Lon:      roundCoordinate(config.CityLon + lonOffset),
		Capacity: lf.fake.IntBetween(config.MinCapacity, config.MaxCapacity),
	}
}

// Extend appends count generated locations to existing, numbering them after the
// existing entries (LOC008, LOC009, ...).
func (lf *LocationFactory) Extend(config *models.Config, existing []models.Location, count int) []models.Location {
	out := make([]models.Location, len(existing), len(existing)+count)
	copy(out, existing)
	for _, loc := range existing {
		lf.nameCache.Store(loc.Name, true)
	}

	taken := make(map[string]bool, len(existing))
	for _, loc := range existing {
		taken[loc.ID] = true
	}

	next := len(existing) + 1
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("LOC%03d", next)
		for taken[id] {
			next++
			id = fmt.Sprintf("LOC%03d", next)
		}
		taken[id] = true
		next++
		out = append(out, lf.CreateLocation(config, id))
	}
	return out
}

func (lf *LocationFactory) createUniqueName(base string) string {
	name := base
	for counter := 2; ; counter++ {
		if _, exists := lf.nameCache.LoadOrStore(name, true); !exists {
			return name
		}
		name = fmt.Sprintf("%s %d", base, counter)
	}
}

func roundCoordinate(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

package simulator

import (
	"math"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/models"
)

const (
	minSpeed         = 5.0
	severeSpeedLow   = 5.0
	severeSpeedHigh  = 15.0
	highwaySpeedLow  = 85.0
	highwaySpeedHigh = 110.0
	baseSpeedLow     = 20.0
	baseSpeedHigh    = 80.0
	peakSpeedPenalty = 0.8
	offPeakSpeedLift = 1.2
)

// Generator produces one TrafficEvent per call. It holds no per-tick state.
type Generator struct {
	roster  *models.Roster
	params  models.GeneratorConfig
	rng     RandomSource
	tz      *time.Location
	weather []string
}

func NewGenerator(roster *models.Roster, params models.GeneratorConfig, rng RandomSource, tz *time.Location) *Generator {
	if tz == nil {
		tz = time.Local
	}
	weather := models.WeatherConditions
	if params.ReducedWeather {
		weather = models.ReducedWeatherConditions
	}
	if params.MaxNormalSpeed < minSpeed {
		params.MaxNormalSpeed = highwaySpeedHigh
	}
	return &Generator{
		roster:  roster,
		params:  params,
		rng:     rng,
		tz:      tz,
		weather: weather,
	}
}

// Generate samples an observation at a randomly chosen location for time now.
func (g *Generator) Generate(now time.Time) models.TrafficEvent {
	location := g.roster.At(g.rng.UniformInt(0, g.roster.Len()-1))
	local := now.In(g.tz)
	rushFactor := IntensityFactor(now, g.tz)

	minVehicles, maxVehicles := VehicleBounds(location.Capacity, rushFactor)
	vehicleCount := g.rng.UniformInt(minVehicles, maxVehicles)
	if g.chance(g.params.CongestionProbability) {
		vehicleCount = surgeVehicles(vehicleCount, location.Capacity)
	}

	vehicleType := g.rng.Choice(models.VehicleTypes)
	speed := g.sampleSpeed(rushFactor)
	congestion := CongestionPercentage(vehicleCount, location.Capacity)

	incident := models.IncidentNone
	if g.chance(g.params.IncidentProbability) {
		incident = g.rng.Choice(models.ActiveIncidents)
	}

	return models.TrafficEvent{
		Timestamp:            local.Truncate(time.Second),
		LocationID:           location.ID,
		LocationName:         location.Name,
		Latitude:             location.Lat,
		Longitude:            location.Lon,
		VehicleCount:         vehicleCount,
		AverageSpeedKMH:      roundTo(speed, 2),
		DominantVehicleType:  vehicleType,
		WeatherCondition:     g.rng.Choice(g.weather),
		TrafficIncident:      incident,
		CongestionPercentage: congestion,
		IsRushHour:           rushFactor > 1.0,
		RushFactor:           roundTo(rushFactor, 2),
	}
}

func (g *Generator) sampleSpeed(rushFactor float64) float64 {
	if g.chance(g.params.SpeedAnomalyProbability) {
		if g.chance(g.params.LowSpeedShare) {
			return g.rng.UniformFloat(severeSpeedLow, severeSpeedHigh)
		}
		return g.rng.UniformFloat(highwaySpeedLow, highwaySpeedHigh)
	}

	base := g.rng.UniformFloat(baseSpeedLow, baseSpeedHigh)
	multiplier := offPeakSpeedLift
	if rushFactor > 1.0 {
		multiplier = peakSpeedPenalty
	}
	return math.Max(minSpeed, math.Min(g.params.MaxNormalSpeed, roundTo(base*multiplier, 1)))
}

func (g *Generator) chance(p float64) bool {
	return g.rng.UniformFloat(0, 1) < p
}

package simulator

import (
	"math"
	"time"
)

const (
	morningPeakFactor = 1.5
	eveningPeakFactor = 1.4
	overnightFactor   = 0.4
	baselineFactor    = 1.0
)

// RushHourFactor maps a civil clock hour to a traffic intensity multiplier.
func RushHourFactor(hour int) float64 {
	switch {
	case hour >= 7 && hour <= 10:
		return morningPeakFactor
	case hour >= 18 && hour <= 21:
		return eveningPeakFactor
	case hour <= 6 || hour >= 22:
		return overnightFactor
	default:
		return baselineFactor
	}
}

// IntensityFactor evaluates RushHourFactor on the wall-clock hour of t in loc.
func IntensityFactor(t time.Time, loc *time.Location) float64 {
	if loc == nil {
		loc = time.Local
	}
	return RushHourFactor(t.In(loc).Hour())
}

// VehicleBounds returns the inclusive vehicle count range for a location of the given
// capacity under rushFactor.
func VehicleBounds(capacity int, rushFactor float64) (int, int) {
	c := float64(capacity)
	minVehicles := max(5, int(math.Floor(c*0.3*rushFactor)))
	maxVehicles := min(capacity, int(math.Floor(c*1.2*rushFactor)))
	if minVehicles > maxVehicles {
		minVehicles = maxVehicles
	}
	return minVehicles, maxVehicles
}

// surgeVehicles applies a sudden congestion surge, capped at 150% of capacity.
func surgeVehicles(count, capacity int) int {
	ceiling := math.Floor(float64(capacity) * 1.5)
	return int(math.Min(ceiling, math.Round(float64(count)*1.8)))
}

func CongestionPercentage(vehicleCount, capacity int) float64 {
	return roundTo(float64(vehicleCount)/float64(capacity)*100, 2)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/models"
)

// Overview summarises the events of a recent window.
type Overview struct {
	TotalEvents      int                  `json:"totalEvents"`
	RecentEvents     int                  `json:"recentEvents"`
	Window           string               `json:"window"`
	AvgSpeedKMH      float64              `json:"avgSpeedKmh"`
	AvgCongestionPct float64              `json:"avgCongestionPct"`
	Latest           *models.TrafficEvent `json:"latest,omitempty"`
}

type LocationCongestion struct {
	LocationID       string  `json:"locationId"`
	LocationName     string  `json:"locationName"`
	AvgCongestionPct float64 `json:"avgCongestionPct"`
	Events           int     `json:"events"`
}

// Window returns the events at or after now-d. A non-positive d keeps everything.
func Window(events []models.TrafficEvent, now time.Time, d time.Duration) []models.TrafficEvent {
	if d <= 0 {
		return events
	}
	cutoff := now.Add(-d)
	var out []models.TrafficEvent
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Summarize averages speed and congestion over the window. When the window holds no
// events the latest event's values are reported instead.
func Summarize(events []models.TrafficEvent, now time.Time, window time.Duration) Overview {
	overview := Overview{TotalEvents: len(events), Window: window.String()}
	if len(events) == 0 {
		return overview
	}

	latest := events[len(events)-1]
	overview.Latest = &latest

	recent := Window(events, now, window)
	overview.RecentEvents = len(recent)
	if len(recent) == 0 {
		overview.AvgSpeedKMH = latest.AverageSpeedKMH
		overview.AvgCongestionPct = latest.CongestionPercentage
		return overview
	}

	var speed, congestion float64
	for _, e := range recent {
		speed += e.AverageSpeedKMH
		congestion += e.CongestionPercentage
	}
	overview.AvgSpeedKMH = round2(speed / float64(len(recent)))
	overview.AvgCongestionPct = round2(congestion / float64(len(recent)))
	return overview
}

// LatestPerLocation returns the newest event of each location, ordered by location id.
func LatestPerLocation(events []models.TrafficEvent) []models.TrafficEvent {
	latest := make(map[string]models.TrafficEvent)
	for _, e := range events {
		if prev, ok := latest[e.LocationID]; !ok || !e.Timestamp.Before(prev.Timestamp) {
			latest[e.LocationID] = e
		}
	}

	out := make([]models.TrafficEvent, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

func VehicleTypeCounts(events []models.TrafficEvent) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		counts[e.DominantVehicleType]++
	}
	return counts
}

// TopCongested ranks locations by mean congestion, highest first. n <= 0 returns all.
func TopCongested(events []models.TrafficEvent, n int) []LocationCongestion {
	byLocation := make(map[string]*LocationCongestion)
	sums := make(map[string]float64)
	for _, e := range events {
		lc, ok := byLocation[e.LocationID]
		if !ok {
			lc = &LocationCongestion{LocationID: e.LocationID, LocationName: e.LocationName}
			byLocation[e.LocationID] = lc
		}
		lc.Events++
		sums[e.LocationID] += e.CongestionPercentage
	}

	out := make([]LocationCongestion, 0, len(byLocation))
	for id, lc := range byLocation {
		lc.AvgCongestionPct = round2(sums[id] / float64(lc.Events))
		out = append(out, *lc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgCongestionPct == out[j].AvgCongestionPct {
			return out[i].LocationID < out[j].LocationID
		}
		return out[i].AvgCongestionPct > out[j].AvgCongestionPct
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// AlertTypeCounts tallies alerts by their first label.
func AlertTypeCounts(alerts []models.AlertRecord) map[string]int {
	counts := make(map[string]int)
	for _, a := range alerts {
		if len(a.AlertLabels) == 0 {
			continue
		}
		counts[a.AlertLabels[0]]++
	}
	return counts
}

// ParseWindow accepts the dashboard window names as well as Go durations.
func ParseWindow(s string) (time.Duration, error) {
	switch s {
	case "", "5m", "last_5_minutes":
		return 5 * time.Minute, nil
	case "1h", "last_1_hour":
		return time.Hour, nil
	case "24h", "last_24_hours":
		return 24 * time.Hour, nil
	case "all":
		return 0, nil
	}
	return time.ParseDuration(s)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

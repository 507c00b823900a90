package models

import "time"

// TrafficEvent is a single observation at a monitored location. The JSON field names
// are the wire contract consumed by the analytics pipeline.
type TrafficEvent struct {
	Timestamp            time.Time `json:"Timestamp"`
	LocationID           string    `json:"LocationID"`
	LocationName         string    `json:"LocationName"`
	Latitude             float64   `json:"Latitude"`
	Longitude            float64   `json:"Longitude"`
	VehicleCount         int       `json:"VehicleCount"`
	AverageSpeedKMH      float64   `json:"AverageSpeedKMH"`
	DominantVehicleType  string    `json:"DominantVehicleType"`
	WeatherCondition     string    `json:"WeatherCondition"`
	TrafficIncident      string    `json:"TrafficIncident"`
	CongestionPercentage float64   `json:"CongestionPercentage"`
	IsRushHour           bool      `json:"IsRushHour"`
	RushFactor           float64   `json:"RushFactor"`
}

func (e TrafficEvent) HasIncident() bool {
	return e.TrafficIncident != "" && e.TrafficIncident != IncidentNone
}

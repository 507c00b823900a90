package simulator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chrisdamba/trafficdatasim/internal/models"
)

// TrafficEventRecord is the flattened Parquet row of a traffic event.
type TrafficEventRecord struct {
	Timestamp            int64   `json:"timestamp" parquet:"name=timestamp,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	LocationID           string  `json:"locationId" parquet:"name=locationId,type=BYTE_ARRAY,convertedtype=UTF8"`
	LocationName         string  `json:"locationName" parquet:"name=locationName,type=BYTE_ARRAY,convertedtype=UTF8"`
	Latitude             float64 `json:"latitude" parquet:"name=latitude,type=DOUBLE"`
	Longitude            float64 `json:"longitude" parquet:"name=longitude,type=DOUBLE"`
	VehicleCount         int32   `json:"vehicleCount" parquet:"name=vehicleCount,type=INT32"`
	AverageSpeedKMH      float64 `json:"averageSpeedKmh" parquet:"name=averageSpeedKmh,type=DOUBLE"`
	DominantVehicleType  string  `json:"dominantVehicleType" parquet:"name=dominantVehicleType,type=BYTE_ARRAY,convertedtype=UTF8"`
	WeatherCondition     string  `json:"weatherCondition" parquet:"name=weatherCondition,type=BYTE_ARRAY,convertedtype=UTF8"`
	TrafficIncident      string  `json:"trafficIncident" parquet:"name=trafficIncident,type=BYTE_ARRAY,convertedtype=UTF8"`
	CongestionPercentage float64 `json:"congestionPercentage" parquet:"name=congestionPercentage,type=DOUBLE"`
	IsRushHour           bool    `json:"isRushHour" parquet:"name=isRushHour,type=BOOLEAN"`
	RushFactor           float64 `json:"rushFactor" parquet:"name=rushFactor,type=DOUBLE"`
}

// TrafficAlertRecord is the flattened Parquet row of an alert. Labels are joined with " | ".
type TrafficAlertRecord struct {
	ID                   string  `json:"id" parquet:"name=id,type=BYTE_ARRAY,convertedtype=UTF8"`
	Timestamp            int64   `json:"timestamp" parquet:"name=timestamp,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	LocationID           string  `json:"locationId" parquet:"name=locationId,type=BYTE_ARRAY,convertedtype=UTF8"`
	LocationName         string  `json:"locationName" parquet:"name=locationName,type=BYTE_ARRAY,convertedtype=UTF8"`
	AlertType            string  `json:"alertType" parquet:"name=alertType,type=BYTE_ARRAY,convertedtype=UTF8"`
	Severity             string  `json:"severity" parquet:"name=severity,type=BYTE_ARRAY,convertedtype=UTF8"`
	AverageSpeedKMH      float64 `json:"averageSpeedKmh" parquet:"name=averageSpeedKmh,type=DOUBLE"`
	CongestionPercentage float64 `json:"congestionPercentage" parquet:"name=congestionPercentage,type=DOUBLE"`
	VehicleCount         int32   `json:"vehicleCount" parquet:"name=vehicleCount,type=INT32"`
}

func NewTrafficEventRecord(e models.TrafficEvent) *TrafficEventRecord {
	return &TrafficEventRecord{
		Timestamp:            e.Timestamp.UnixMilli(),
		LocationID:           e.LocationID,
		LocationName:         e.LocationName,
		Latitude:             e.Latitude,
		Longitude:            e.Longitude,
		VehicleCount:         int32(e.VehicleCount),
		AverageSpeedKMH:      e.AverageSpeedKMH,
		DominantVehicleType:  e.DominantVehicleType,
		WeatherCondition:     e.WeatherCondition,
		TrafficIncident:      e.TrafficIncident,
		CongestionPercentage: e.CongestionPercentage,
		IsRushHour:           e.IsRushHour,
		RushFactor:           e.RushFactor,
	}
}

func NewTrafficAlertRecord(a models.AlertRecord) *TrafficAlertRecord {
	return &TrafficAlertRecord{
		ID:                   a.ID,
		Timestamp:            a.Timestamp.UnixMilli(),
		LocationID:           a.SourceEvent.LocationID,
		LocationName:         a.LocationName,
		AlertType:            strings.Join(a.AlertLabels, " | "),
		Severity:             a.Severity,
		AverageSpeedKMH:      a.SourceEvent.AverageSpeedKMH,
		CongestionPercentage: a.SourceEvent.CongestionPercentage,
		VehicleCount:         int32(a.SourceEvent.VehicleCount),
	}
}

// recordPrototype returns the row type the Parquet writer derives its schema from.
func recordPrototype(alerts bool) interface{} {
	if alerts {
		return new(TrafficAlertRecord)
	}
	return new(TrafficEventRecord)
}

// decodeRecord turns a published JSON message into an alert row when alerts is set,
// otherwise into an event row.
func decodeRecord(alerts bool, topic string, msg []byte) (interface{}, error) {
	if alerts {
		var alert models.AlertRecord
		if err := json.Unmarshal(msg, &alert); err != nil {
			return nil, fmt.Errorf("invalid alert message on %s: %w", topic, err)
		}
		return *NewTrafficAlertRecord(alert), nil
	}

	var event models.TrafficEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return nil, fmt.Errorf("invalid event message on %s: %w", topic, err)
	}
	return *NewTrafficEventRecord(event), nil
}

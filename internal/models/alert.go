package models

import (
	"strings"
	"time"

	"github.com/lucsky/cuid"
)

// AlertRecord is raised when an event trips at least one anomaly rule.
type AlertRecord struct {
	ID           string       `json:"ID"`
	Timestamp    time.Time    `json:"Timestamp"`
	LocationName string       `json:"LocationName"`
	AlertLabels  []string     `json:"AlertLabels"`
	AlertType    string       `json:"AlertType"`
	Severity     string       `json:"Severity"`
	SourceEvent  TrafficEvent `json:"SourceEvent"`
}

// StoredAlert is an alert row as persisted by an AlertRepository.
type StoredAlert struct {
	ID             int64     `json:"id"`
	AlertTimestamp time.Time `json:"alertTimestamp"`
	LocationName   string    `json:"locationName"`
	AlertType      string    `json:"alertType"`
	Severity       string    `json:"severity"`
	DetailsJSON    string    `json:"detailsJson"`
}

func NewAlertRecord(event TrafficEvent, labels []string, severity string) AlertRecord {
	copied := make([]string, len(labels))
	copy(copied, labels)
	return AlertRecord{
		ID:           cuid.New(),
		Timestamp:    event.Timestamp,
		LocationName: event.LocationName,
		AlertLabels:  copied,
		AlertType:    strings.Join(copied, " | "),
		Severity:     severity,
		SourceEvent:  event,
	}
}

func (a AlertRecord) IsCritical() bool {
	return a.Severity == SeverityCritical
}

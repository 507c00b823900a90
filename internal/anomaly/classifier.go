// Package anomaly flags traffic observations that cross fixed alerting thresholds.
package anomaly

import (
	"strings"

	"github.com/chrisdamba/trafficdatasim/internal/models"
)

const (
	LabelSevereCongestion   = "Severe Congestion"
	LabelUnusualHighSpeed   = "Unusual High Speed"
	LabelOverCapacity       = "Over Capacity"
	LabelCriticalCongestion = "Critical Congestion"
	IncidentLabelPrefix     = "Incident: "
)

// DefaultThresholds are used by Classify.
var DefaultThresholds = models.AlertThresholds{
	LowSpeedKMH:           10,
	HighSpeedKMH:          100,
	OverCapacityPct:       120,
	CriticalCongestionPct: 90,
}

var defaultClassifier = NewClassifier(DefaultThresholds)

type Classifier struct {
	thresholds models.AlertThresholds
}

func NewClassifier(thresholds models.AlertThresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Classify applies the default thresholds.
func Classify(event models.TrafficEvent) []string {
	return defaultClassifier.Classify(event)
}

// Classify returns the alert labels for event in a fixed order. The result is empty
// when nothing is anomalous.
func (c *Classifier) Classify(event models.TrafficEvent) []string {
	var labels []string

	if event.AverageSpeedKMH < c.thresholds.LowSpeedKMH {
		labels = append(labels, LabelSevereCongestion)
	}
	if event.AverageSpeedKMH > c.thresholds.HighSpeedKMH {
		labels = append(labels, LabelUnusualHighSpeed)
	}

	if event.CongestionPercentage > c.thresholds.OverCapacityPct {
		labels = append(labels, LabelOverCapacity)
	} else if event.CongestionPercentage > c.thresholds.CriticalCongestionPct {
		labels = append(labels, LabelCriticalCongestion)
	}

	if event.HasIncident() {
		labels = append(labels, IncidentLabelPrefix+event.TrafficIncident)
	}

	return labels
}

// Severity is critical when any label reports gridlock, an overloaded junction or a
// major accident, and warning otherwise.
func Severity(labels []string) string {
	for _, label := range labels {
		switch {
		case label == LabelSevereCongestion, label == LabelOverCapacity:
			return models.SeverityCritical
		case strings.HasPrefix(label, IncidentLabelPrefix) &&
			strings.TrimPrefix(label, IncidentLabelPrefix) == models.IncidentMajorAccident:
			return models.SeverityCritical
		}
	}
	return models.SeverityWarning
}

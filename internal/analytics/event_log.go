package analytics

import (
	"sync"

	"github.com/chrisdamba/trafficdatasim/internal/models"
)

// EventLog keeps the most recent events up to a fixed size, evicting the oldest first.
type EventLog struct {
	mu     sync.RWMutex
	events []models.TrafficEvent
	max    int
}

func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = 1
	}
	return &EventLog{
		events: make([]models.TrafficEvent, 0, min(size, 1024)),
		max:    size,
	}
}

func (l *EventLog) Append(event models.TrafficEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == l.max {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
}

// Snapshot returns a copy of the retained events, oldest first.
func (l *EventLog) Snapshot() []models.TrafficEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.TrafficEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *EventLog) Latest() (models.TrafficEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		return models.TrafficEvent{}, false
	}
	return l.events[len(l.events)-1], true
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *EventLog) Cap() int {
	return l.max
}

func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = l.events[:0]
}

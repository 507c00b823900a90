package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/chrisdamba/trafficdatasim/internal/repositories"
)

// Sink receives every alert raised by the classifier.
type Sink interface {
	Save(ctx context.Context, alert models.AlertRecord) error
}

// Publisher is the subset of an output destination used to fan alerts out on a topic.
type Publisher interface {
	WriteMessage(topic string, msg []byte) error
}

// AlertLog is the in-memory alert history, capped at a fixed size.
type AlertLog struct {
	mu     sync.RWMutex
	alerts []models.AlertRecord
	max    int
}

func NewAlertLog(size int) *AlertLog {
	if size <= 0 {
		size = 1
	}
	return &AlertLog{max: size}
}

func (l *AlertLog) Save(_ context.Context, alert models.AlertRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.alerts) == l.max {
		copy(l.alerts, l.alerts[1:])
		l.alerts = l.alerts[:len(l.alerts)-1]
	}
	l.alerts = append(l.alerts, alert)
	return nil
}

// Snapshot returns the retained alerts, oldest first.
func (l *AlertLog) Snapshot() []models.AlertRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.AlertRecord, len(l.alerts))
	copy(out, l.alerts)
	return out
}

// Recent returns up to limit alerts, newest first.
func (l *AlertLog) Recent(limit int) []models.AlertRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.alerts) {
		limit = len(l.alerts)
	}
	out := make([]models.AlertRecord, 0, limit)
	for i := len(l.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.alerts[i])
	}
	return out
}

func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.alerts)
}

func (l *AlertLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = nil
}

// RepositorySink persists alerts through an AlertRepository. The source event is
// stored as JSON in the details column.
type RepositorySink struct {
	repo repositories.AlertRepository
}

func NewRepositorySink(repo repositories.AlertRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Save(ctx context.Context, alert models.AlertRecord) error {
	details, err := json.Marshal(alert.SourceEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal alert details: %w", err)
	}

	stored := &models.StoredAlert{
		AlertTimestamp: alert.Timestamp,
		LocationName:   alert.LocationName,
		AlertType:      alert.AlertType,
		Severity:       alert.Severity,
		DetailsJSON:    string(details),
	}
	if _, err := s.repo.Create(ctx, stored); err != nil {
		return fmt.Errorf("failed to store alert for %s: %w", alert.LocationName, err)
	}
	return nil
}

// PublisherSink writes alerts as JSON to a topic on an output destination.
type PublisherSink struct {
	publisher Publisher
	topic     string
}

func NewPublisherSink(publisher Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

func (s *PublisherSink) Save(_ context.Context, alert models.AlertRecord) error {
	msg, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.publisher.WriteMessage(s.topic, msg); err != nil {
		return fmt.Errorf("failed to publish alert on %s: %w", s.topic, err)
	}
	return nil
}

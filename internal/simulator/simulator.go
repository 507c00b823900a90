package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/alerting"
	"github.com/chrisdamba/trafficdatasim/internal/analytics"
	"github.com/chrisdamba/trafficdatasim/internal/anomaly"
	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/chrisdamba/trafficdatasim/internal/repositories"
	"github.com/chrisdamba/trafficdatasim/internal/repositories/postgres"
	"github.com/chrisdamba/trafficdatasim/internal/simulator/producers"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// State is everything a running simulator accumulates. It is owned by one Simulator and
// shared read-only with the HTTP server.
type State struct {
	Events *analytics.EventLog
	Alerts *alerting.AlertLog

	eventsGenerated atomic.Int64
	alertsRaised    atomic.Int64
}

func NewState(maxEvents, maxAlerts int) *State {
	return &State{
		Events: analytics.NewEventLog(maxEvents),
		Alerts: alerting.NewAlertLog(maxAlerts),
	}
}

// Counters returns the totals since start or the last Reset, including evicted entries.
func (s *State) Counters() (events, alerts int64) {
	return s.eventsGenerated.Load(), s.alertsRaised.Load()
}

func (s *State) Reset() {
	s.Events.Reset()
	s.Alerts.Reset()
	s.eventsGenerated.Store(0)
	s.alertsRaised.Store(0)
}

type Option func(*Simulator)

// WithRandomSource replaces the seeded source, e.g. with a scripted one in tests.
func WithRandomSource(rng RandomSource) Option {
	return func(s *Simulator) { s.rng = rng }
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

func WithOutput(output OutputDestination) Option {
	return func(s *Simulator) { s.output.Add(output) }
}

func WithNotifier(notifier alerting.Notifier) Option {
	return func(s *Simulator) { s.notifier = notifier }
}

type Simulator struct {
	Config     *models.Config
	Roster     *models.Roster
	State      *State
	Repository repositories.AlertRepository

	rng        RandomSource
	now        func() time.Time
	generator  *Generator
	classifier *anomaly.Classifier
	output     *MultiOutput
	notifier   alerting.Notifier
	dispatcher *alerting.Dispatcher
	closers    []func()
	logger     *zap.Logger
}

func NewSimulator(config *models.Config, roster *models.Roster, logger *zap.Logger, opts ...Option) (*Simulator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tz, err := config.TimeLocation()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}

	s := &Simulator{
		Config:     config,
		Roster:     roster,
		State:      NewState(config.MaxEventsKeep, config.MaxAlertsKeep),
		now:        time.Now,
		classifier: anomaly.NewClassifier(config.Alerts),
		output:     NewMultiOutput(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = NewRandomSource(config.Seed)
	}

	s.generator = NewGenerator(roster, config.Generator, s.rng, tz)
	s.dispatcher = alerting.NewDispatcher(logger, s.notifier,
		s.State.Alerts,
		alerting.NewPublisherSink(s.output, config.Topics.Alerts),
	)
	return s, nil
}

// Connect opens every configured output and collaborator. A broker, database or bucket
// that cannot be reached is logged and skipped; the simulator then runs local-only with
// console output and in-memory alerts.
func (s *Simulator) Connect(ctx context.Context) error {
	local, err := s.localOutput()
	if err != nil {
		return err
	}
	if local != nil {
		s.output.Add(local)
	}

	if s.Config.Kafka.Enabled {
		producer, err := producers.NewSaramaProducer(s.Config.Kafka, s.logger)
		if err != nil {
			s.logger.Warn("kafka unavailable, continuing without it", zap.Error(err))
		} else {
			s.output.Add(producer)
		}
	}

	if s.Config.MQTT.Enabled {
		producer, err := producers.NewMQTTProducer(s.Config.MQTT, s.logger)
		if err != nil {
			s.logger.Warn("mqtt unavailable, continuing without it", zap.Error(err))
		} else {
			s.output.Add(producer)
		}
	}

	if s.output.Len() == 0 {
		s.logger.Info("running in local mode, writing to console")
		s.output.Add(NewConsoleOutput(nil))
	}

	if s.Config.Database.URL != "" {
		if err := s.connectDatabase(ctx); err != nil {
			s.logger.Warn("alert database unavailable, keeping alerts in memory", zap.Error(err))
		}
	}

	if s.notifier == nil {
		s.dispatcher.SetNotifier(alerting.NewEmailNotifier(s.Config.SMTP, s.logger))
	}
	return nil
}

func (s *Simulator) localOutput() (OutputDestination, error) {
	switch s.Config.OutputFormat {
	case models.OutputFormatJSON:
		return NewJSONOutput(s.Config.OutputPath, s.Config.OutputFolder), nil
	case models.OutputFormatCSV:
		return NewCSVOutput(s.Config.OutputPath, s.Config.OutputFolder), nil
	case models.OutputFormatParquet:
		output, err := NewParquetOutput(s.Config, s.logger)
		if err != nil {
			if s.Config.OutputDestination == models.OutputDestinationS3 {
				s.logger.Warn("cloud output unavailable, continuing without it", zap.Error(err))
				return nil, nil
			}
			return nil, fmt.Errorf("failed to create Parquet output: %w", err)
		}
		return output, nil
	case models.OutputFormatConsole, "":
		// console is the fallback when nothing else is configured
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", s.Config.OutputFormat)
	}
}

func (s *Simulator) connectDatabase(ctx context.Context) error {
	pool, err := postgres.NewPool(ctx, s.Config.Database)
	if err != nil {
		return err
	}
	repo := postgres.NewAlertRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to create alert table: %w", err)
	}

	s.Repository = repo
	s.dispatcher.AddSink(alerting.NewRepositorySink(repo))
	s.closers = append(s.closers, pool.Close)
	s.logger.Info("alert database connected")
	return nil
}

// AddOutput attaches another destination, e.g. the WebSocket hub.
func (s *Simulator) AddOutput(output OutputDestination) {
	s.output.Add(output)
}

// UseRepository persists alerts through repo in addition to the in-memory log.
func (s *Simulator) UseRepository(repo repositories.AlertRepository) {
	s.Repository = repo
	s.dispatcher.AddSink(alerting.NewRepositorySink(repo))
}

// Step generates one event for now, publishes it and raises an alert when the event is
// anomalous. Sink failures are logged and never stop the step.
func (s *Simulator) Step(ctx context.Context, now time.Time) (models.TrafficEvent, *models.AlertRecord) {
	event := s.generator.Generate(now)
	s.State.Events.Append(event)
	s.State.eventsGenerated.Add(1)

	s.logger.Debug("traffic event",
		zap.String("location", event.LocationName),
		zap.Int("vehicles", event.VehicleCount),
		zap.Float64("speedKmh", event.AverageSpeedKMH),
		zap.Float64("congestionPct", event.CongestionPercentage),
		zap.String("incident", event.TrafficIncident),
	)
	s.publish(s.Config.Topics.Events, event)

	labels := s.classifier.Classify(event)
	if len(labels) == 0 {
		return event, nil
	}

	alert := models.NewAlertRecord(event, labels, anomaly.Severity(labels))
	s.State.alertsRaised.Add(1)
	s.logger.Info("traffic alert",
		zap.String("location", alert.LocationName),
		zap.Strings("labels", alert.AlertLabels),
		zap.String("severity", alert.Severity),
	)
	s.dispatcher.Dispatch(ctx, alert)
	return event, &alert
}

func (s *Simulator) publish(topic string, payload interface{}) {
	msg, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to serialize message", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := s.output.WriteMessage(topic, msg); err != nil {
		s.logger.Warn("failed to publish message", zap.String("topic", topic), zap.Error(err))
	}
}

// Run ticks every TickInterval, starting immediately, until ctx is done or MaxTicks
// steps have run. MaxTicks of 0 runs until cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	interval := s.Config.TickInterval
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", interval)
	}

	s.logger.Info("simulation started",
		zap.Int("locations", s.Roster.Len()),
		zap.Duration("tickInterval", interval),
		zap.Int("maxTicks", s.Config.MaxTicks),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for ticks := 0; ; {
		if ctx.Err() != nil {
			break
		}
		s.Step(ctx, s.now())
		ticks++
		if s.Config.MaxTicks > 0 && ticks >= s.Config.MaxTicks {
			break
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	events, alerts := s.State.Counters()
	s.logger.Info("simulation stopped", zap.Int64("events", events), zap.Int64("alerts", alerts))
	return nil
}

// Backfill runs one step per simulated instant in [start, end) and reports progress to
// progress. It returns the number of events and alerts produced.
func (s *Simulator) Backfill(ctx context.Context, start, end time.Time, step time.Duration, progress io.Writer) (int, int, error) {
	if step <= 0 {
		return 0, 0, fmt.Errorf("backfill step must be positive, got %s", step)
	}
	if !end.After(start) {
		return 0, 0, fmt.Errorf("backfill end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	total := int64((end.Sub(start) + step - 1) / step)
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("backfill"),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(progress) }),
	)

	s.logger.Info("backfill started",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Duration("step", step),
	)

	var events, alerts int
	for current := start; current.Before(end); current = current.Add(step) {
		if err := ctx.Err(); err != nil {
			return events, alerts, err
		}
		if _, alert := s.Step(ctx, current); alert != nil {
			alerts++
		}
		events++
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	s.logger.Info("backfill completed", zap.Int("events", events), zap.Int("alerts", alerts))
	return events, alerts, nil
}

func (s *Simulator) Close() error {
	err := s.output.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	return err
}

package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/anomaly"
	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *models.Config {
	return &models.Config{
		TickInterval:  time.Millisecond,
		Timezone:      "UTC",
		MaxEventsKeep: 100,
		MaxAlertsKeep: 100,
		Generator:     defaultParams,
		Alerts:        anomaly.DefaultThresholds,
		Topics: models.TopicsConfig{
			Events: models.TopicTrafficEvents,
			Alerts: models.TopicTrafficAlerts,
		},
		OutputFormat:      models.OutputFormatConsole,
		OutputDestination: models.OutputDestinationLocal,
	}
}

type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Notify(_ context.Context, subject, _ string) error {
	n.subjects = append(n.subjects, subject)
	return nil
}

func newTestSimulator(t *testing.T, cfg *models.Config, opts ...Option) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg, singleRoster(t, 100), zap.NewNop(), opts...)
	require.NoError(t, err)
	return sim
}

func TestStepRaisesCriticalAlert(t *testing.T) {
	out := newRecordingOutput()
	notifier := &recordingNotifier{}
	rng := &scriptedSource{ints: []int{0, 130}, floats: []float64{0.99, 0.0, 0.0, 0.0, 0.99}}
	sim := newTestSimulator(t, testConfig(), WithRandomSource(rng), WithOutput(out), WithNotifier(notifier))

	event, alert := sim.Step(context.Background(), at(8, 0))

	assert.Equal(t, 5.0, event.AverageSpeedKMH)
	require.NotNil(t, alert)
	assert.Equal(t, []string{anomaly.LabelSevereCongestion, anomaly.LabelOverCapacity}, alert.AlertLabels)
	assert.Equal(t, models.SeverityCritical, alert.Severity)

	assert.Equal(t, 1, sim.State.Events.Len())
	assert.Equal(t, 1, sim.State.Alerts.Len())
	events, alerts := sim.State.Counters()
	assert.Equal(t, int64(1), events)
	assert.Equal(t, int64(1), alerts)

	assert.Equal(t, 1, out.count(models.TopicTrafficEvents))
	require.Equal(t, 1, out.count(models.TopicTrafficAlerts))
	var published models.AlertRecord
	require.NoError(t, json.Unmarshal(out.messages[models.TopicTrafficAlerts][0], &published))
	assert.Equal(t, alert.ID, published.ID)

	assert.Equal(t, []string{"CAIRO TRAFFIC ALERT - Tahrir Square"}, notifier.subjects)
}

func TestStepWithoutAnomaly(t *testing.T) {
	out := newRecordingOutput()
	notifier := &recordingNotifier{}
	rng := &scriptedSource{ints: []int{0, 50}, floats: []float64{0.99, 0.99, 0.5, 0.99}}
	sim := newTestSimulator(t, testConfig(), WithRandomSource(rng), WithOutput(out), WithNotifier(notifier))

	_, alert := sim.Step(context.Background(), at(12, 0))

	assert.Nil(t, alert)
	assert.Equal(t, 1, out.count(models.TopicTrafficEvents))
	assert.Zero(t, out.count(models.TopicTrafficAlerts))
	assert.Zero(t, sim.State.Alerts.Len())
	assert.Empty(t, notifier.subjects)
}

func TestStepSurvivesFailingOutput(t *testing.T) {
	out := newRecordingOutput()
	out.err = errors.New("broker down")
	rng := &scriptedSource{ints: []int{0, 130}, floats: []float64{0.99, 0.0, 0.0, 0.0, 0.99}}
	sim := newTestSimulator(t, testConfig(), WithRandomSource(rng), WithOutput(out), WithNotifier(&recordingNotifier{}))

	_, alert := sim.Step(context.Background(), at(8, 0))

	require.NotNil(t, alert)
	assert.Equal(t, 1, sim.State.Events.Len())
	assert.Equal(t, 1, sim.State.Alerts.Len())

	sim.Step(context.Background(), at(8, 5))
	assert.Equal(t, 2, sim.State.Events.Len())
}

func TestRunStopsAfterMaxTicks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTicks = 3
	out := newRecordingOutput()
	sim := newTestSimulator(t, cfg, WithRandomSource(NewRandomSource(5)), WithOutput(out), WithNotifier(&recordingNotifier{}))

	require.NoError(t, sim.Run(context.Background()))

	assert.Equal(t, 3, sim.State.Events.Len())
	assert.Equal(t, 3, out.count(models.TopicTrafficEvents))
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	sim := newTestSimulator(t, cfg, WithOutput(newRecordingOutput()), WithNotifier(&recordingNotifier{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	require.Eventually(t, func() bool { return sim.State.Events.Len() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.Equal(t, 1, sim.State.Events.Len())
}

func TestRunUsesClock(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTicks = 1
	fixed := at(19, 0)
	sim := newTestSimulator(t, cfg, WithClock(func() time.Time { return fixed }), WithOutput(newRecordingOutput()), WithNotifier(&recordingNotifier{}))

	require.NoError(t, sim.Run(context.Background()))

	latest, ok := sim.State.Events.Latest()
	require.True(t, ok)
	assert.Equal(t, 1.4, latest.RushFactor)
}

func TestBackfill(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEventsKeep = 5
	out := newRecordingOutput()
	sim := newTestSimulator(t, cfg, WithRandomSource(NewRandomSource(9)), WithOutput(out), WithNotifier(&recordingNotifier{}))
	start := at(7, 0)

	var progress bytes.Buffer
	events, alerts, err := sim.Backfill(context.Background(), start, start.Add(time.Hour), 5*time.Minute, &progress)

	require.NoError(t, err)
	assert.Equal(t, 12, events)
	assert.Equal(t, alerts, out.count(models.TopicTrafficAlerts))
	assert.Equal(t, 12, out.count(models.TopicTrafficEvents))
	assert.Equal(t, 5, sim.State.Events.Len())
	total, _ := sim.State.Counters()
	assert.Equal(t, int64(12), total)
	assert.Contains(t, progress.String(), "backfill")
}

func TestBackfillRejectsBadRange(t *testing.T) {
	sim := newTestSimulator(t, testConfig(), WithOutput(newRecordingOutput()))
	start := at(7, 0)

	_, _, err := sim.Backfill(context.Background(), start, start, time.Minute, nil)
	assert.Error(t, err)
	_, _, err = sim.Backfill(context.Background(), start, start.Add(time.Hour), 0, nil)
	assert.Error(t, err)
}

func TestBackfillHonoursCancellation(t *testing.T) {
	sim := newTestSimulator(t, testConfig(), WithOutput(newRecordingOutput()), WithNotifier(&recordingNotifier{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, _, err := sim.Backfill(ctx, at(0, 0), at(23, 0), time.Minute, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, events)
}

func TestConnectFallsBackToConsole(t *testing.T) {
	sim := newTestSimulator(t, testConfig())

	require.NoError(t, sim.Connect(context.Background()))
	defer sim.Close()

	assert.Equal(t, 1, sim.output.Len())
	assert.IsType(t, &ConsoleOutput{}, sim.output.outputs[0])
	assert.Nil(t, sim.Repository)
}

func TestConnectBuildsFileOutput(t *testing.T) {
	cfg := testConfig()
	cfg.OutputFormat = models.OutputFormatJSON
	cfg.OutputPath = t.TempDir()
	cfg.OutputFolder = "traffic"
	sim := newTestSimulator(t, cfg)

	require.NoError(t, sim.Connect(context.Background()))

	require.Equal(t, 1, sim.output.Len())
	assert.IsType(t, &JSONOutput{}, sim.output.outputs[0])
	require.NoError(t, sim.Close())
}

func TestConnectRejectsUnknownFormat(t *testing.T) {
	cfg := testConfig()
	cfg.OutputFormat = "xml"
	sim := newTestSimulator(t, cfg)

	assert.Error(t, sim.Connect(context.Background()))
}

func TestNewSimulatorRejectsUnknownTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus_Mons"

	_, err := NewSimulator(cfg, singleRoster(t, 100), nil)
	assert.Error(t, err)
}

func TestStateReset(t *testing.T) {
	sim := newTestSimulator(t, testConfig(), WithOutput(newRecordingOutput()), WithNotifier(&recordingNotifier{}))
	sim.Step(context.Background(), at(8, 0))

	sim.State.Reset()

	events, alerts := sim.State.Counters()
	assert.Zero(t, events)
	assert.Zero(t, alerts)
	assert.Zero(t, sim.State.Events.Len())
}

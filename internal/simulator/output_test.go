package simulator

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/cloudwriter"
	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func sampleEvent() models.TrafficEvent {
	return models.TrafficEvent{
		Timestamp:            time.Date(2026, 10, 15, 8, 30, 0, 0, time.FixedZone("EET", 2*60*60)),
		LocationID:           "LOC002",
		LocationName:         "Ramses Square",
		Latitude:             30.0626,
		Longitude:            31.2497,
		VehicleCount:         120,
		AverageSpeedKMH:      8.5,
		DominantVehicleType:  models.VehicleMicrobus,
		WeatherCondition:     models.WeatherClear,
		TrafficIncident:      models.IncidentNone,
		CongestionPercentage: 80,
		IsRushHour:           true,
		RushFactor:           1.5,
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	msg, err := json.Marshal(v)
	require.NoError(t, err)
	return msg
}

const partition = "year=2026/month=10/day=15/hour=08"

func TestPartitionPathUsesEventClock(t *testing.T) {
	p, err := partitionPath(mustJSON(t, sampleEvent()))
	require.NoError(t, err)
	assert.Equal(t, partition, p)

	_, err = partitionPath([]byte(`{"LocationID":"LOC001"}`))
	assert.Error(t, err)
	_, err = partitionPath([]byte(`not json`))
	assert.Error(t, err)
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(&buf)

	require.NoError(t, out.WriteMessage("traffic_events", []byte(`{"a":1}`)))
	require.NoError(t, out.Close())

	assert.Equal(t, "[traffic_events] {\"a\":1}\n", buf.String())
}

func TestJSONOutputAppendsLines(t *testing.T) {
	dir := t.TempDir()
	out := NewJSONOutput(dir, "traffic")

	msg := mustJSON(t, sampleEvent())
	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, msg))
	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, msg))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(filepath.Join(dir, "traffic", models.TopicTrafficEvents, filepath.FromSlash(partition), "data.json"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var decoded models.TrafficEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "LOC002", decoded.LocationID)
}

func TestCSVOutputWritesSortedHeader(t *testing.T) {
	dir := t.TempDir()
	out := NewCSVOutput(dir, "traffic")

	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, sampleEvent())))
	require.NoError(t, out.Close())

	file, err := os.Open(filepath.Join(dir, "traffic", models.TopicTrafficEvents, filepath.FromSlash(partition), "data.csv"))
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	header, row := rows[0], rows[1]
	assert.Equal(t, "AverageSpeedKMH", header[0])
	values := make(map[string]string, len(header))
	for i, h := range header {
		values[h] = row[i]
	}
	assert.Equal(t, "120", values["VehicleCount"])
	assert.Equal(t, "8.5", values["AverageSpeedKMH"])
	assert.Equal(t, "true", values["IsRushHour"])
	assert.Equal(t, "Ramses Square", values["LocationName"])
}

func TestCSVOutputEncodesNestedValues(t *testing.T) {
	dir := t.TempDir()
	out := NewCSVOutput(dir, "traffic")
	alert := models.NewAlertRecord(sampleEvent(), []string{"Severe Congestion"}, models.SeverityCritical)

	require.NoError(t, out.WriteMessage(models.TopicTrafficAlerts, mustJSON(t, alert)))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(filepath.Join(dir, "traffic", models.TopicTrafficAlerts, filepath.FromSlash(partition), "data.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"[""Severe Congestion""]"`)
}

func TestParquetOutputWritesLocalFiles(t *testing.T) {
	dir := t.TempDir()
	out, err := NewParquetOutput(&models.Config{
		OutputPath:        dir,
		OutputFolder:      "traffic",
		OutputDestination: models.OutputDestinationLocal,
		Topics:            models.TopicsConfig{Events: models.TopicTrafficEvents, Alerts: models.TopicTrafficAlerts},
	}, nil)
	require.NoError(t, err)

	event := sampleEvent()
	alert := models.NewAlertRecord(event, []string{"Severe Congestion"}, models.SeverityCritical)
	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, event)))
	require.NoError(t, out.WriteMessage(models.TopicTrafficAlerts, mustJSON(t, alert)))
	require.NoError(t, out.Close())

	for _, topic := range []string{models.TopicTrafficEvents, models.TopicTrafficAlerts} {
		info, err := os.Stat(filepath.Join(dir, "traffic", topic, filepath.FromSlash(partition), "data.parquet"))
		require.NoError(t, err, topic)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestParquetOutputRejectsMalformedMessage(t *testing.T) {
	out, err := NewParquetOutput(&models.Config{OutputPath: t.TempDir(), OutputFolder: "traffic"}, nil)
	require.NoError(t, err)
	defer out.Close()

	assert.Error(t, out.WriteMessage(models.TopicTrafficEvents, []byte(`{"Timestamp":"bad"}`)))
}

type memoryCloudWriter struct {
	buf    bytes.Buffer
	closed bool
}

func (w *memoryCloudWriter) Write(data []byte) (int, error) { return w.buf.Write(data) }

func (w *memoryCloudWriter) Close() error {
	w.closed = true
	return nil
}

type memoryCloudFactory struct {
	mu      sync.Mutex
	objects map[string]*memoryCloudWriter
}

func (f *memoryCloudFactory) NewWriter(bucket, objectPath string) (cloudwriter.CloudWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &memoryCloudWriter{}
	f.objects[bucket+":"+objectPath] = w
	return w, nil
}

func TestParquetOutputUploadsToBucket(t *testing.T) {
	factory := &memoryCloudFactory{objects: make(map[string]*memoryCloudWriter)}
	out := NewCloudParquetOutput(factory, "traffic-bucket", "traffic", models.TopicTrafficAlerts, nil)

	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, sampleEvent())))
	require.NoError(t, out.Close())

	object, ok := factory.objects["traffic-bucket:traffic/traffic_events/"+partition+"/data.parquet"]
	require.True(t, ok)
	assert.True(t, object.closed)
	assert.True(t, bytes.HasPrefix(object.buf.Bytes(), []byte("PAR1")))
}

// eventAtHour returns the sample event moved h hours past its own timestamp.
func eventAtHour(h int) models.TrafficEvent {
	e := sampleEvent()
	e.Timestamp = e.Timestamp.Add(time.Duration(h) * time.Hour)
	return e
}

func partitionDir(dir, topic string, e models.TrafficEvent) string {
	t := e.Timestamp
	return filepath.Join(dir, "traffic", topic,
		fmt.Sprintf("year=%d", t.Year()),
		fmt.Sprintf("month=%02d", t.Month()),
		fmt.Sprintf("day=%02d", t.Day()),
		fmt.Sprintf("hour=%02d", t.Hour()))
}

func TestJSONOutputKeepsOnlyCurrentPartitionOpen(t *testing.T) {
	dir := t.TempDir()
	out := NewJSONOutput(dir, "traffic")

	const hours = 72
	for h := 0; h < hours; h++ {
		event := eventAtHour(h)
		alert := models.NewAlertRecord(event, []string{"Over Capacity"}, models.SeverityCritical)
		require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, event)))
		require.NoError(t, out.WriteMessage(models.TopicTrafficAlerts, mustJSON(t, alert)))
		assert.Len(t, out.files, 2, "hour %d", h)
	}
	require.NoError(t, out.Close())
	assert.Empty(t, out.files)

	for h := 0; h < hours; h++ {
		data, err := os.ReadFile(filepath.Join(partitionDir(dir, models.TopicTrafficEvents, eventAtHour(h)), "data.json"))
		require.NoError(t, err, "hour %d", h)
		assert.Equal(t, 1, strings.Count(string(data), "\n"))
	}
}

func TestJSONOutputReopensEarlierPartition(t *testing.T) {
	dir := t.TempDir()
	out := NewJSONOutput(dir, "traffic")

	for _, h := range []int{0, 1, 0} {
		require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, eventAtHour(h))))
	}
	require.NoError(t, out.Close())

	data, err := os.ReadFile(filepath.Join(partitionDir(dir, models.TopicTrafficEvents, eventAtHour(0)), "data.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVOutputRotatesPartitions(t *testing.T) {
	dir := t.TempDir()
	out := NewCSVOutput(dir, "traffic")

	for h := 0; h < 3; h++ {
		require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, eventAtHour(h))))
		assert.Len(t, out.files, 1)
	}
	require.NoError(t, out.Close())

	for h := 0; h < 3; h++ {
		rows := readCSV(t, filepath.Join(partitionDir(dir, models.TopicTrafficEvents, eventAtHour(h)), "data.csv"))
		require.Len(t, rows, 2, "hour %d", h)
		assert.Equal(t, "AverageSpeedKMH", rows[0][0])
	}
}

func TestCSVOutputAppendsAfterRestart(t *testing.T) {
	dir := t.TempDir()
	msg := mustJSON(t, sampleEvent())

	first := NewCSVOutput(dir, "traffic")
	require.NoError(t, first.WriteMessage(models.TopicTrafficEvents, msg))
	require.NoError(t, first.Close())

	second := NewCSVOutput(dir, "traffic")
	require.NoError(t, second.WriteMessage(models.TopicTrafficEvents, msg))
	require.NoError(t, second.Close())

	rows := readCSV(t, filepath.Join(dir, "traffic", models.TopicTrafficEvents, filepath.FromSlash(partition), "data.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "AverageSpeedKMH", rows[0][0])
	assert.Equal(t, rows[1], rows[2])
}

func TestParquetOutputFinishesPreviousHour(t *testing.T) {
	factory := &memoryCloudFactory{objects: make(map[string]*memoryCloudWriter)}
	out := NewCloudParquetOutput(factory, "traffic-bucket", "traffic", models.TopicTrafficAlerts, nil)
	key := func(h int, name string) string {
		p, err := partitionPath(mustJSON(t, eventAtHour(h)))
		require.NoError(t, err)
		return "traffic-bucket:traffic/" + models.TopicTrafficEvents + "/" + p + "/" + name
	}

	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, eventAtHour(0))))
	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, eventAtHour(1))))

	assert.Len(t, out.partitions, 1)
	first, ok := factory.objects[key(0, "data.parquet")]
	require.True(t, ok)
	assert.True(t, first.closed)
	assert.True(t, bytes.HasSuffix(first.buf.Bytes(), []byte("PAR1")))
	assert.False(t, factory.objects[key(1, "data.parquet")].closed)

	// returning to a finished hour starts a new object instead of replacing it
	require.NoError(t, out.WriteMessage(models.TopicTrafficEvents, mustJSON(t, eventAtHour(0))))
	require.NoError(t, out.Close())

	assert.Len(t, factory.objects, 3)
	for name, object := range factory.objects {
		assert.True(t, object.closed, name)
	}
	_, ok = factory.objects[key(0, "data-1.parquet")]
	assert.True(t, ok)
}

func TestParquetOutputStoresAlertsOnConfiguredTopic(t *testing.T) {
	const alertTopic = "traffic_alert_stream"
	dir := t.TempDir()
	out, err := NewParquetOutput(&models.Config{
		OutputPath:        dir,
		OutputFolder:      "traffic",
		OutputDestination: models.OutputDestinationLocal,
		Topics:            models.TopicsConfig{Events: models.TopicTrafficEvents, Alerts: alertTopic},
	}, nil)
	require.NoError(t, err)

	event := sampleEvent()
	alert := models.NewAlertRecord(event, []string{"Severe Congestion", "Incident: Major Accident"}, models.SeverityCritical)
	require.NoError(t, out.WriteMessage(alertTopic, mustJSON(t, alert)))
	require.NoError(t, out.Close())

	fr, err := local.NewLocalFileReader(filepath.Join(dir, "traffic", alertTopic, filepath.FromSlash(partition), "data.parquet"))
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(TrafficAlertRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	rows := make([]TrafficAlertRecord, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, alert.ID, rows[0].ID)
	assert.Equal(t, "LOC002", rows[0].LocationID)
	assert.Equal(t, "Ramses Square", rows[0].LocationName)
	assert.Equal(t, "Severe Congestion | Incident: Major Accident", rows[0].AlertType)
	assert.Equal(t, int32(120), rows[0].VehicleCount)
}

func TestDecodeRecord(t *testing.T) {
	event := sampleEvent()
	alert := models.NewAlertRecord(event, []string{"Severe Congestion"}, models.SeverityCritical)

	record, err := decodeRecord(true, "traffic_alert_stream", mustJSON(t, alert))
	require.NoError(t, err)
	row, ok := record.(TrafficAlertRecord)
	require.True(t, ok)
	assert.Equal(t, "Ramses Square", row.LocationName)
	assert.Equal(t, 8.5, row.AverageSpeedKMH)

	record, err = decodeRecord(false, models.TopicTrafficEvents, mustJSON(t, event))
	require.NoError(t, err)
	eventRow, ok := record.(TrafficEventRecord)
	require.True(t, ok)
	assert.Equal(t, int32(120), eventRow.VehicleCount)
	assert.Equal(t, event.Timestamp.UnixMilli(), eventRow.Timestamp)

	_, err = decodeRecord(true, "traffic_alert_stream", []byte("not json"))
	assert.Error(t, err)
}

type recordingOutput struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
	closed   bool
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{messages: make(map[string][][]byte)}
}

func (r *recordingOutput) WriteMessage(topic string, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages[topic] = append(r.messages[topic], msg)
	return nil
}

func (r *recordingOutput) Close() error {
	r.closed = true
	return nil
}

func (r *recordingOutput) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[topic])
}

func TestMultiOutputTriesEveryDestination(t *testing.T) {
	broken := newRecordingOutput()
	broken.err = errors.New("broker down")
	healthy := newRecordingOutput()
	multi := NewMultiOutput(broken, healthy)

	err := multi.WriteMessage("t", []byte("{}"))

	assert.ErrorIs(t, err, broken.err)
	assert.Equal(t, 1, healthy.count("t"))
	require.NoError(t, multi.Close())
	assert.True(t, broken.closed)
	assert.True(t, healthy.closed)
}

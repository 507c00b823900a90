package simulator

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/cloudwriter"
	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OutputDestination receives every published event and alert as JSON.
type OutputDestination interface {
	WriteMessage(topic string, msg []byte) error
	Close() error
}

type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleOutput{w: w}
}

func (c *ConsoleOutput) WriteMessage(topic string, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.w, "[%s] %s\n", topic, msg); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

func (c *ConsoleOutput) Close() error {
	return nil
}

// MultiOutput fans a message out to several destinations. Every destination is tried
// even when an earlier one fails.
type MultiOutput struct {
	outputs []OutputDestination
}

func NewMultiOutput(outputs ...OutputDestination) *MultiOutput {
	return &MultiOutput{outputs: outputs}
}

func (m *MultiOutput) Add(output OutputDestination) {
	m.outputs = append(m.outputs, output)
}

func (m *MultiOutput) Len() int {
	return len(m.outputs)
}

func (m *MultiOutput) WriteMessage(topic string, msg []byte) error {
	var err error
	for _, output := range m.outputs {
		err = multierr.Append(err, output.WriteMessage(topic, msg))
	}
	return err
}

func (m *MultiOutput) Close() error {
	var err error
	for _, output := range m.outputs {
		err = multierr.Append(err, output.Close())
	}
	return err
}

// partitionPath derives year=/month=/day=/hour= from the message's Timestamp field.
func partitionPath(msg []byte) (string, error) {
	var stamped struct {
		Timestamp time.Time `json:"Timestamp"`
	}
	if err := json.Unmarshal(msg, &stamped); err != nil {
		return "", fmt.Errorf("invalid message: %w", err)
	}
	if stamped.Timestamp.IsZero() {
		return "", fmt.Errorf("invalid timestamp")
	}

	t := stamped.Timestamp
	year, month, day := t.Date()
	return fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d", year, month, day, t.Hour()), nil
}

type jsonPartition struct {
	partition string
	file      *os.File
}

// JSONOutput appends messages to data.json in the topic's hourly partition. Only the
// current partition of each topic is kept open.
type JSONOutput struct {
	basePath string
	folder   string
	mu       sync.Mutex
	files    map[string]*jsonPartition
}

func NewJSONOutput(basePath, folder string) *JSONOutput {
	return &JSONOutput{
		basePath: basePath,
		folder:   folder,
		files:    make(map[string]*jsonPartition),
	}
}

// WriteMessage appends msg as one line. A message for a new partition closes the
// topic's previous file first.
func (j *JSONOutput) WriteMessage(topic string, msg []byte) error {
	partition, err := partitionPath(msg)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var rotateErr error
	current, ok := j.files[topic]
	if ok && current.partition != partition {
		rotateErr = current.file.Close()
		delete(j.files, topic)
		ok = false
	}
	if !ok {
		file, err := openPartitionFile(j.basePath, j.folder, topic, partition, "data.json")
		if err != nil {
			return multierr.Append(rotateErr, err)
		}
		current = &jsonPartition{partition: partition, file: file}
		j.files[topic] = current
	}

	if _, err := current.file.Write(msg); err != nil {
		return multierr.Append(rotateErr, err)
	}
	_, err = current.file.WriteString("\n")
	return multierr.Append(rotateErr, err)
}

func (j *JSONOutput) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var err error
	for topic, current := range j.files {
		err = multierr.Append(err, current.file.Close())
		delete(j.files, topic)
	}
	return err
}

// openPartitionFile opens name under folder/topic/partition for appending.
func openPartitionFile(basePath, folder, topic, partition, name string) (*os.File, error) {
	fullPath := filepath.Join(basePath, folder, topic, filepath.FromSlash(partition))
	if err := os.MkdirAll(fullPath, os.ModePerm); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(fullPath, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

type csvFile struct {
	partition string
	file      *os.File
	writer    *csv.Writer
	headers   []string
}

func (f *csvFile) close() error {
	f.writer.Flush()
	return multierr.Append(f.writer.Error(), f.file.Close())
}

// CSVOutput appends rows to data.csv in the topic's hourly partition. Only the current
// partition of each topic is kept open.
type CSVOutput struct {
	basePath string
	folder   string
	mu       sync.Mutex
	files    map[string]*csvFile
}

func NewCSVOutput(basePath, folder string) *CSVOutput {
	return &CSVOutput{
		basePath: basePath,
		folder:   folder,
		files:    make(map[string]*csvFile),
	}
}

// WriteMessage writes msg as a CSV row. The header is the sorted key set of the message
// and is written only when the file is empty; nested values are written as JSON.
func (c *CSVOutput) WriteMessage(topic string, msg []byte) error {
	var event map[string]interface{}
	if err := json.Unmarshal(msg, &event); err != nil {
		return err
	}
	partition, err := partitionPath(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var rotateErr error
	f, ok := c.files[topic]
	if ok && f.partition != partition {
		rotateErr = f.close()
		delete(c.files, topic)
		ok = false
	}
	if !ok {
		f, err = c.openPartition(topic, partition, event)
		if err != nil {
			return multierr.Append(rotateErr, err)
		}
		c.files[topic] = f
	}

	row := make([]string, len(f.headers))
	for i, header := range f.headers {
		row[i] = csvValue(event[header])
	}
	if err := f.writer.Write(row); err != nil {
		return multierr.Append(rotateErr, err)
	}

	f.writer.Flush()
	return multierr.Append(rotateErr, f.writer.Error())
}

func (c *CSVOutput) openPartition(topic, partition string, event map[string]interface{}) (*csvFile, error) {
	file, err := openPartitionFile(c.basePath, c.folder, topic, partition, "data.csv")
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	f := &csvFile{partition: partition, file: file, writer: csv.NewWriter(file), headers: csvHeaders(event)}
	if info.Size() == 0 {
		if err := f.writer.Write(f.headers); err != nil {
			file.Close()
			return nil, err
		}
	}
	return f, nil
}

func csvHeaders(event map[string]interface{}) []string {
	headers := make([]string, 0, len(event))
	for key := range event {
		headers = append(headers, key)
	}
	sort.Strings(headers)
	return headers
}

func csvValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func (c *CSVOutput) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for topic, f := range c.files {
		err = multierr.Append(err, f.close())
		delete(c.files, topic)
	}
	return err
}

// CloudParquetFile adapts a CloudWriter to the write half of source.ParquetFile.
type CloudParquetFile struct {
	cloudWriter cloudwriter.CloudWriter
	offset      int64
}

func NewCloudParquetFile(cloudWriter cloudwriter.CloudWriter) *CloudParquetFile {
	return &CloudParquetFile{cloudWriter: cloudWriter}
}

func (c *CloudParquetFile) Open(string) (source.ParquetFile, error) {
	return c, nil
}

func (c *CloudParquetFile) Create(string) (source.ParquetFile, error) {
	return c, nil
}

func (c *CloudParquetFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		c.offset = offset
	case io.SeekCurrent:
		c.offset += offset
	default:
		return 0, fmt.Errorf("seek from end not supported for cloud storage")
	}
	return c.offset, nil
}

func (c *CloudParquetFile) Read([]byte) (int, error) {
	return 0, fmt.Errorf("read not supported for cloud storage")
}

func (c *CloudParquetFile) Write(p []byte) (int, error) {
	n, err := c.cloudWriter.Write(p)
	c.offset += int64(n)
	return n, err
}

func (c *CloudParquetFile) Close() error {
	return c.cloudWriter.Close()
}

type parquetPartition struct {
	partition string
	writer    *writer.ParquetWriter
	file      source.ParquetFile
}

// close flushes the footer and closes the file, which uploads cloud objects.
func (pp *parquetPartition) close() error {
	if err := pp.writer.WriteStop(); err != nil {
		_ = pp.file.Close()
		return fmt.Errorf("error closing parquet writer: %w", err)
	}
	if err := pp.file.Close(); err != nil {
		return fmt.Errorf("error closing parquet file: %w", err)
	}
	return nil
}

// ParquetOutput writes one Parquet file per topic and hourly partition, either on local
// disk or uploaded to a bucket. Only the current partition of each topic is open; it is
// finished as soon as the topic moves on to another hour. Messages on alertTopic are
// stored as alert rows, everything else as event rows.
type ParquetOutput struct {
	basePath           string
	folder             string
	alertTopic         string
	mu                 sync.Mutex
	partitions         map[string]*parquetPartition
	segments           map[string]int
	cloudWriterFactory cloudwriter.CloudWriterFactory
	cloudBucketName    string
	logger             *zap.Logger
}

func NewParquetOutput(config *models.Config, logger *zap.Logger) (*ParquetOutput, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &ParquetOutput{
		basePath:   config.OutputPath,
		folder:     config.OutputFolder,
		alertTopic: config.Topics.Alerts,
		partitions: make(map[string]*parquetPartition),
		segments:   make(map[string]int),
		logger:     logger,
	}

	if config.OutputDestination == models.OutputDestinationS3 {
		switch config.CloudStorage.Provider {
		case "s3":
			factory, err := cloudwriter.NewS3WriterFactory(config.CloudStorage.Region)
			if err != nil {
				return nil, fmt.Errorf("failed to create cloud writer factory: %w", err)
			}
			p.cloudWriterFactory = factory
		default:
			return nil, fmt.Errorf("unsupported cloud storage provider: %s", config.CloudStorage.Provider)
		}
		p.cloudBucketName = config.CloudStorage.BucketName
		return p, nil
	}

	p.cleanup()
	return p, nil
}

// NewCloudParquetOutput writes through factory instead of the local filesystem.
func NewCloudParquetOutput(factory cloudwriter.CloudWriterFactory, bucket, folder, alertTopic string, logger *zap.Logger) *ParquetOutput {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParquetOutput{
		folder:             folder,
		alertTopic:         alertTopic,
		partitions:         make(map[string]*parquetPartition),
		segments:           make(map[string]int),
		cloudWriterFactory: factory,
		cloudBucketName:    bucket,
		logger:             logger,
	}
}

func (p *ParquetOutput) WriteMessage(topic string, msg []byte) error {
	partition, err := partitionPath(msg)
	if err != nil {
		return err
	}
	alerts := topic == p.alertTopic
	record, err := decodeRecord(alerts, topic, msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var rotateErr error
	pp, ok := p.partitions[topic]
	if ok && pp.partition != partition {
		if rotateErr = pp.close(); rotateErr != nil {
			p.logger.Error("failed to finish parquet partition",
				zap.String("topic", topic), zap.String("partition", pp.partition), zap.Error(rotateErr))
		}
		delete(p.partitions, topic)
		ok = false
	}
	if !ok {
		pp, err = p.createPartition(topic, partition, alerts)
		if err != nil {
			return multierr.Append(rotateErr, fmt.Errorf("failed to create new writer: %w", err))
		}
		p.partitions[topic] = pp
	}

	if err := pp.writer.Write(record); err != nil {
		return multierr.Append(rotateErr, fmt.Errorf("failed to write record: %w", err))
	}
	return rotateErr
}

// partitionFileName is data.parquet, or data-N.parquet when a topic returns to a
// partition it already finished during this run.
func (p *ParquetOutput) partitionFileName(topic, partition string) string {
	key := topic + "/" + partition
	n := p.segments[key]
	p.segments[key] = n + 1
	if n == 0 {
		return "data.parquet"
	}
	return fmt.Sprintf("data-%d.parquet", n)
}

func (p *ParquetOutput) createPartition(topic, partition string, alerts bool) (*parquetPartition, error) {
	name := p.partitionFileName(topic, partition)

	var fw source.ParquetFile
	if p.cloudWriterFactory != nil {
		objectPath := path.Join(p.folder, topic, partition, name)
		cw, err := p.cloudWriterFactory.NewWriter(p.cloudBucketName, objectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud file writer: %w", err)
		}
		fw = NewCloudParquetFile(cw)
	} else {
		fullPath := filepath.Join(p.basePath, p.folder, topic, filepath.FromSlash(partition))
		if err := os.MkdirAll(fullPath, os.ModePerm); err != nil {
			return nil, err
		}
		var err error
		fw, err = local.NewLocalFileWriter(filepath.Join(fullPath, name))
		if err != nil {
			return nil, fmt.Errorf("failed to create local file writer: %w", err)
		}
	}

	pw, err := writer.NewParquetWriter(fw, recordPrototype(alerts), 4)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to create ParquetWriter: %w", err)
	}
	return &parquetPartition{partition: partition, writer: pw, file: fw}, nil
}

// cleanup removes Parquet files left by a previous run so partitions start empty.
func (p *ParquetOutput) cleanup() {
	root := filepath.Join(p.basePath, p.folder)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return
	}
	err := filepath.Walk(root, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(name) == ".parquet" {
			return os.Remove(name)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("error cleaning up parquet files", zap.String("path", root), zap.Error(err))
	}
}

func (p *ParquetOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for topic, pp := range p.partitions {
		if closeErr := pp.close(); closeErr != nil {
			p.logger.Error("failed to finish parquet partition",
				zap.String("topic", topic), zap.String("partition", pp.partition), zap.Error(closeErr))
			err = multierr.Append(err, closeErr)
		}
		delete(p.partitions, topic)
	}
	return err
}

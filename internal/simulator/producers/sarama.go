// Package producers publishes simulator messages to external brokers.
package producers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/chrisdamba/trafficdatasim/internal/models"
	"go.uber.org/zap"
)

// SaramaProducer publishes to Kafka with a synchronous producer. Messages that carry a
// LocationID are keyed by it so one location stays on one partition.
type SaramaProducer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func NewSaramaConfig(cfg models.KafkaConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = true // required by SyncProducer
	saramaConfig.Net.DialTimeout = 30 * time.Second
	saramaConfig.Net.ReadTimeout = 30 * time.Second
	saramaConfig.Net.WriteTimeout = 30 * time.Second

	if cfg.SessionTimeoutMs > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(cfg.SessionTimeoutMs) * time.Millisecond
	} else {
		saramaConfig.Consumer.Group.Session.Timeout = 45 * time.Second
	}
	return saramaConfig
}

func BrokerList(brokers string) []string {
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}

func NewSaramaProducer(cfg models.KafkaConfig, logger *zap.Logger) (*SaramaProducer, error) {
	brokerList := BrokerList(cfg.BrokerList)
	producer, err := sarama.NewSyncProducer(brokerList, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}

	p := NewSaramaProducerFromSync(producer, logger)
	p.logger.Info("kafka producer connected", zap.Strings("brokers", brokerList))
	return p, nil
}

// NewSaramaProducerFromSync wraps an existing producer, e.g. a sarama mock.
func NewSaramaProducerFromSync(producer sarama.SyncProducer, logger *zap.Logger) *SaramaProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaramaProducer{producer: producer, logger: logger}
}

func (s *SaramaProducer) WriteMessage(topic string, msg []byte) error {
	if s.producer == nil {
		return fmt.Errorf("sarama producer is not initialized")
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(msg),
	}
	if key := messageKey(msg); key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := s.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}
	s.logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (s *SaramaProducer) Close() error {
	if s.producer == nil {
		return nil
	}
	err := s.producer.Close()
	s.producer = nil
	return err
}

// messageKey extracts the location id from an event or from an alert's source event.
func messageKey(msg []byte) string {
	var keyed struct {
		LocationID  string `json:"LocationID"`
		SourceEvent struct {
			LocationID string `json:"LocationID"`
		} `json:"SourceEvent"`
	}
	if err := json.Unmarshal(msg, &keyed); err != nil {
		return ""
	}
	if keyed.LocationID != "" {
		return keyed.LocationID
	}
	return keyed.SourceEvent.LocationID
}

package producers

import (
	"fmt"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/models"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const disconnectQuiesceMs = 250

// MQTTProducer publishes each message to <topic_prefix>/<topic>.
type MQTTProducer struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
	timeout     time.Duration
	logger      *zap.Logger
}

func NewMQTTClientOptions(cfg models.MQTTConfig, logger *zap.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})
	return opts
}

// NewMQTTProducer connects to the broker and fails if it cannot within cfg.Timeout.
func NewMQTTProducer(cfg models.MQTTConfig, logger *zap.Logger) (*MQTTProducer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := mqtt.NewClient(NewMQTTClientOptions(cfg, logger))
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	return NewMQTTProducerFromClient(client, cfg, logger), nil
}

func NewMQTTProducerFromClient(client mqtt.Client, cfg models.MQTTConfig, logger *zap.Logger) *MQTTProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTTProducer{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		qos:         cfg.QoS,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

func (m *MQTTProducer) Topic(topic string) string {
	if m.topicPrefix == "" {
		return topic
	}
	return m.topicPrefix + "/" + topic
}

func (m *MQTTProducer) WriteMessage(topic string, msg []byte) error {
	fullTopic := m.Topic(topic)
	token := m.client.Publish(fullTopic, m.qos, false, msg)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("timed out publishing to %s", fullTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", fullTopic, err)
	}
	return nil
}

func (m *MQTTProducer) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

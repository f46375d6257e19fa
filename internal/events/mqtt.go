package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig configures an MQTTPublisher.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes each event to <prefix>/<role>.
type MQTTPublisher struct {
	client  mqttClient
	prefix  string
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after the initial connection succeeded.
func NewMQTTPublisher(cfg MQTTConfig, logger zerolog.Logger) (*MQTTPublisher, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logger.With().Str("component", "mqtt-publisher").Str("broker", cfg.Broker).Logger()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out after %s", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	log.Info().Msg("Connected to MQTT broker")

	return newMQTTPublisher(client, cfg, log), nil
}

func newMQTTPublisher(client mqttClient, cfg MQTTConfig, logger zerolog.Logger) *MQTTPublisher {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     cfg.QoS,
		timeout: timeout,
		logger:  logger,
	}
}

// Topic returns the topic an event for role is published to.
func (p *MQTTPublisher) Topic(role string) string {
	if role == "" {
		role = "_"
	}
	return p.prefix + "/" + topicReplacer.Replace(role)
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	topic := p.Topic(ev.Role)
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publish to %s timed out after %s", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	p.logger.Info().Msg("Disconnected from MQTT broker")
	return nil
}

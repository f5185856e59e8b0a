package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig holds broker settings for network-provided fixes
type MQTTConfig struct {
	Broker   string `yaml:"broker" json:"broker"`
	Topic    string `yaml:"topic" json:"topic"`
	ClientID string `yaml:"client_id" json:"clientId"`
}

// fixMessage is the JSON payload published on the fix topic
type fixMessage struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Altitude  *float64 `json:"alt,omitempty"`
	Accuracy  *float64 `json:"acc,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	Timestamp int64    `json:"ts,omitempty"`
}

// MQTT subscribes to a broker topic carrying JSON fixes, typically
// relayed from Wi-Fi or cell positioning, and reports them under the
// NETWORK provider name.
type MQTT struct {
	cfg       MQTTConfig
	client    mqtt.Client
	hub       *hub
	connected atomic.Bool
	logger    zerolog.Logger
}

// NewMQTT creates a network provider. Call Connect to start receiving.
func NewMQTT(cfg MQTTConfig, logger zerolog.Logger) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "campusnav/fix"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "campus-nav"
	}
	return &MQTT{
		cfg:    cfg,
		hub:    newHub(),
		logger: logger.With().Str("provider", ProviderNetwork).Str("topic", cfg.Topic).Logger(),
	}
}

func (m *MQTT) Name() string { return ProviderNetwork }

// Enabled reports whether the broker connection and subscription are live
func (m *MQTT) Enabled() bool { return m.connected.Load() }

func (m *MQTT) LastKnown() (Fix, bool) { return m.hub.lastKnown() }

func (m *MQTT) Updates(ctx context.Context) (<-chan Fix, error) {
	if !m.Enabled() {
		return nil, ErrNoProvider
	}
	return m.hub.subscribe(ctx), nil
}

// Connect dials the broker. The subscription is (re)established on every
// successful connect, so broker restarts are survived automatically.
func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.connected.Store(false)
			m.logger.Warn().Err(err).Msg("MQTT connection lost")
		})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", m.cfg.Broker, token.Error())
	}
	return nil
}

func (m *MQTT) onConnect(c mqtt.Client) {
	token := c.Subscribe(m.cfg.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := m.ingest(msg.Payload()); err != nil {
			m.logger.Warn().Err(err).Msg("Dropping network fix")
		}
	})
	token.Wait()
	if token.Error() != nil {
		m.logger.Error().Err(token.Error()).Msg("MQTT subscribe failed")
		return
	}
	m.connected.Store(true)
	m.logger.Info().Str("broker", m.cfg.Broker).Msg("Subscribed to network fixes")
}

func (m *MQTT) ingest(payload []byte) error {
	var msg fixMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode fix: %w", err)
	}

	fix := Fix{
		Latitude:  msg.Lat,
		Longitude: msg.Lng,
		Altitude:  msg.Altitude,
		Accuracy:  msg.Accuracy,
		Provider:  msg.Provider,
		Time:      time.Now().UTC(),
	}
	if fix.Provider == "" {
		fix.Provider = ProviderNetwork
	}
	if msg.Timestamp > 0 {
		fix.Time = time.UnixMilli(msg.Timestamp).UTC()
	}
	return m.hub.publish(fix)
}

// Close disconnects from the broker
func (m *MQTT) Close() {
	m.connected.Store(false)
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

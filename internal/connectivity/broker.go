// Package connectivity wraps the MQTT client used for both broker sides and
// dispatches inbound traffic onto the side's command buffer.
package connectivity

import (
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	defaultQoS = 1
	wait       = 250 // waiting time for client disconnect in ms

	defaultConnectTimeout = 10 * time.Second
)

// Will is a broker-stored last-will publication.
type Will struct {
	Channel string
	Payload []byte
}

// Config configures one broker connection.
type Config struct {
	URI            string
	ClientID       string
	Username       string
	Password       string
	TrustStorePath string // PEM CA bundle; empty means plain TCP
	Will           *Will
	ConnectTimeout time.Duration
}

func (c *Config) validate() error {
	if c.URI == "" {
		return fmt.Errorf("broker config: missing URI")
	}
	if c.ClientID == "" {
		return fmt.Errorf("broker config: missing client ID")
	}
	return nil
}

// MessageHandler consumes raw inbound traffic.
type MessageHandler func(channel string, payload []byte)

// Service is one broker connection. Reconnection is owned by the caller (the
// coordinator runs one supervisor loop per side), so auto-reconnect is off
// and connection loss is surfaced through the lost handler.
type Service struct {
	lg      *logrus.Entry
	cfg     Config
	client  MQTT.Client
	handler MessageHandler
	onLost  func(error)
}

// New builds the broker connection. It does not connect.
func New(lg *logrus.Entry, cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	s := &Service{lg: lg, cfg: cfg}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.URI)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetDefaultPublishHandler(s.receive)
	opts.SetConnectionLostHandler(s.lost)
	if cfg.Will != nil {
		opts.SetBinaryWill(cfg.Will.Channel, cfg.Will.Payload, defaultQoS, false)
	}
	if cfg.TrustStorePath != "" {
		tlsCfg, err := newTLSConfig(cfg.TrustStorePath)
		if err != nil {
			return nil, fmt.Errorf("broker config: %w", err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	s.client = MQTT.NewClient(opts)
	return s, nil
}

// SetMessageHandler registers the inbound handler. Must be called before
// Connect.
func (s *Service) SetMessageHandler(handler MessageHandler) { s.handler = handler }

// SetConnectionLostHandler registers the loss callback. Must be called before
// Connect.
func (s *Service) SetConnectionLostHandler(fn func(error)) { s.onLost = fn }

// Connect establishes the broker session.
func (s *Service) Connect() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	s.lg.WithField("uri", s.cfg.URI).Info("connected to broker")
	return nil
}

// Disconnect closes the broker session.
func (s *Service) Disconnect() {
	s.client.Disconnect(wait)
	s.lg.WithField("uri", s.cfg.URI).Info("disconnected from broker")
}

// IsConnected reports whether the broker session is up.
func (s *Service) IsConnected() bool { return s.client.IsConnectionOpen() }

// Publish sends one message at QoS 1 and waits for the broker handshake.
func (s *Service) Publish(channel string, payload []byte) error {
	if token := s.client.Publish(channel, defaultQoS, false, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Subscribe registers the channel filters with the broker. Must be repeated
// after every connect: sessions are clean.
func (s *Service) Subscribe(channels ...string) error {
	for _, channel := range channels {
		if token := s.client.Subscribe(channel, defaultQoS, nil); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", channel, token.Error())
		}
	}
	return nil
}

func (s *Service) receive(_ MQTT.Client, msg MQTT.Message) {
	if s.handler == nil {
		return
	}
	s.handler(msg.Topic(), msg.Payload())
}

func (s *Service) lost(_ MQTT.Client, err error) {
	s.lg.WithField("uri", s.cfg.URI).WithError(err).Warn("connection lost")
	if s.onLost != nil {
		s.onLost(err)
	}
}

// BridgePahoLogging routes the MQTT client's internal error and warning logs
// into the process logger.
func BridgePahoLogging(lg *logrus.Entry) {
	MQTT.CRITICAL = lg.WithField("mqtt", "critical")
	MQTT.ERROR = lg.WithField("mqtt", "error")
	MQTT.WARN = lg.WithField("mqtt", "warn")
}

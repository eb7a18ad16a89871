package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

// MQTTSource listens on <prefix>/new-order and <prefix>/order-items-added.
type MQTTSource struct {
	cfg    config.MQTT
	logger *zap.Logger

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTSource(cfg config.MQTT, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{cfg: cfg, logger: logger.Named("notify.mqtt")}
}

func (s *MQTTSource) topic(kind Kind) string {
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/" + string(kind)
}

func (s *MQTTSource) Subscribe(ctx context.Context, out chan<- Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return errors.New("mqtt source already subscribed")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		// Subscriptions are renewed on every (re)connect.
		SetOnConnectHandler(func(c mqtt.Client) {
			for _, kind := range []Kind{KindNewOrder, KindItemsAdded} {
				kind := kind
				topic := s.topic(kind)
				token := c.Subscribe(topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
					s.handle(ctx, out, kind, msg.Payload())
				})
				if token.WaitTimeout(10*time.Second) && token.Error() != nil {
					s.logger.Error("mqtt subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
					continue
				}
				s.logger.Info("subscribed to push notifications", zap.String("topic", topic))
			}
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username).SetPassword(s.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	// With connect retry enabled the token only completes once connected;
	// keep retrying in the background instead of blocking start-up.
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return token.Error()
	}
	s.client = client
	return nil
}

func (s *MQTTSource) handle(ctx context.Context, out chan<- Event, kind Kind, payload []byte) {
	evt, err := DecodePayload(kind, payload)
	if err != nil {
		s.logger.Warn("dropping malformed push event", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	evt.Source = "mqtt"
	deliver(ctx, out, evt)
}

func (s *MQTTSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

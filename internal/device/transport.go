package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"easybox-network/internal/config"
	"easybox-network/internal/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QoS 1: lockers and backend must cope with duplicates.
const qos = 1

// MQTTTransport is a Transport backed by a paho client.
type MQTTTransport struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]MessageHandler

	logger *slog.Logger
}

// NewMQTTTransport connects to the configured broker. The connection is
// re-established automatically and subscriptions are renewed on every
// reconnect.
func NewMQTTTransport(cfg config.MQTT) (*MQTTTransport, error) {
	if cfg.Broker == "" {
		return nil, &utils.ConfigurationError{Err: errors.New("mqtt.broker is not set")}
	}
	t := &MQTTTransport{
		subs:   make(map[string]MessageHandler),
		logger: slog.With("component", "mqtt"),
	}

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(utils.MQTTClientID(cfg.ClientID)).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.logger.Warn("Connection to broker lost", "error", err)
		})

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return t, nil
}

func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	token := t.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MQTTTransport) Subscribe(topic string, handler MessageHandler) error {
	t.mu.Lock()
	t.subs[topic] = handler
	t.mu.Unlock()
	return t.subscribe(topic, handler)
}

func (t *MQTTTransport) subscribe(topic string, handler MessageHandler) error {
	token := t.client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	return token.Error()
}

func (t *MQTTTransport) resubscribe(_ mqtt.Client) {
	t.mu.Lock()
	subs := make(map[string]MessageHandler, len(t.subs))
	for k, v := range t.subs {
		subs[k] = v
	}
	t.mu.Unlock()

	t.logger.Info("Connected to broker", "subscriptions", len(subs))
	for topic, h := range subs {
		// the client callback must not block on its own tokens
		go func(topic string, h MessageHandler) {
			if err := t.subscribe(topic, h); err != nil {
				t.logger.Error("Resubscribe failed", "topic", topic, "error", err)
			}
		}(topic, h)
	}
}

func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}

package transport

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// qos 1: at-least-once. Ingest is idempotent, so duplicates are safe.
	qosAtLeastOnce = 1

	connectTimeout = 10 * time.Second
	reconnectMax   = 30 * time.Second
)

// MQTT is the production Transport over a single long-lived broker
// connection multiplexed across all devices. Subscriptions are replayed
// on every (re)connect, so a broker restart does not silently drop them.
type MQTT struct {
	client mqtt.Client
	logger *log.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

type MQTTConfig struct {
	BrokerURL string // e.g. "tcp://localhost:1883"
	ClientID  string
	Username  string
	Password  string
}

func NewMQTT(cfg MQTTConfig, logger *log.Logger) (*MQTT, error) {
	t := &MQTT{
		logger: logger,
		subs:   make(map[string]Handler),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(reconnectMax).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Printf("mqtt connection lost: %v", err)
		})

	t.client = mqtt.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}

	return t, nil
}

// onConnect re-establishes every registered subscription. Runs on first
// connect and after every reconnect.
func (t *MQTT) onConnect(c mqtt.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for pattern, h := range t.subs {
		if err := t.subscribeLocked(c, pattern, h); err != nil {
			t.logger.Printf("mqtt resubscribe %s: %v", pattern, err)
		}
	}
}

func (t *MQTT) subscribeLocked(c mqtt.Client, pattern string, h Handler) error {
	token := c.Subscribe(pattern, qosAtLeastOnce, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe %s: timeout", pattern)
	}
	return token.Error()
}

func (t *MQTT) Subscribe(topicPattern string, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.subscribeLocked(t.client, topicPattern, h); err != nil {
		return err
	}
	t.subs[topicPattern] = h
	return nil
}

// Publish waits for broker acceptance, bounded by ctx. Broker backpressure
// surfaces here as a timeout error rather than unbounded blocking. State
// snapshots are retained so a late subscriber gets the last one immediately.
func (t *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	retained := strings.HasPrefix(topic, stateTopicPrefix)
	token := t.client.Publish(topic, qosAtLeastOnce, retained, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

func (t *MQTT) Close() {
	t.client.Disconnect(250)
}

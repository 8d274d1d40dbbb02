package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/events"
)

// Bridge forwards safety events to a district MQTT broker so a
// district-wide moderation dashboard can aggregate across schools. It
// maintains an availability topic with a retained offline will.
type Bridge struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewBridge creates a bridge but does not connect. Call
// [Bridge.Start] to begin the connection and forwarding loop.
func NewBridge(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and forwards safety events until ctx
// is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := b.availabilityTopic()

	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = "satchel"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.publish(ctx, cm, availTopic, []byte("online"), true)
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" || brokerURL.Scheme == "tls" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	b.runLoop(ctx)
	return nil
}

// Stop publishes an offline availability message and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publish(ctx, b.cm, b.availabilityTopic(), []byte("offline"), true)
	return b.cm.Disconnect(ctx)
}

func (b *Bridge) runLoop(ctx context.Context) {
	ch := b.bus.Subscribe(64)
	defer b.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Source != events.SourceSafety {
				continue
			}
			b.forward(ctx, e)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("failed to encode event", "kind", e.Kind, "error", err)
		return
	}
	topic := b.baseTopic() + "/" + e.Kind
	b.publish(ctx, b.cm, topic, payload, false)
}

func (b *Bridge) publish(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte, retain bool) {
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  retain,
	})
	if err != nil {
		b.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) baseTopic() string {
	prefix := b.cfg.TopicPrefix
	if prefix == "" {
		prefix = "satchel"
	}
	return prefix + "/moderation"
}

func (b *Bridge) availabilityTopic() string {
	prefix := b.cfg.TopicPrefix
	if prefix == "" {
		prefix = "satchel"
	}
	return prefix + "/availability"
}

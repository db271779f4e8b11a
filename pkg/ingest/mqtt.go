package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
)

// HeartbeatRecorder checks ingestion credentials and stores a heartbeat for
// a parent/child pair
type HeartbeatRecorder interface {
	Authorize(key string) error
	Heartbeat(ctx context.Context, parent, child string) error
}

// Subscriber turns MQTT messages on <prefix>/<parent>/<child> into heartbeats.
// Arrival is the signal; the payload only carries the ingestion key when
// keys are configured.
type Subscriber struct {
	cfg      *config.MQTTConfig
	recorder HeartbeatRecorder
	client   mqtt.Client
	timeout  time.Duration
}

// NewSubscriber creates a subscriber; Start connects it
func NewSubscriber(cfg *config.MQTTConfig, recorder HeartbeatRecorder) *Subscriber {
	return &Subscriber{
		cfg:      cfg,
		recorder: recorder,
		timeout:  5 * time.Second,
	}
}

// Topic returns the subscription filter
func (s *Subscriber) Topic() string {
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/+/+"
}

// Start connects to the broker and subscribes. The subscription is restored
// on every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logrus.Warnf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(s.Topic(), s.cfg.QoS, s.handle); token.Wait() && token.Error() != nil {
			logrus.Errorf("Failed to subscribe to %s: %v", s.Topic(), token.Error())
			return
		}
		logrus.Infof("Subscribed to MQTT heartbeats on %s", s.Topic())
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// handle records one heartbeat message
func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	parent, child, err := ParseTopic(s.cfg.TopicPrefix, msg.Topic())
	if err != nil {
		logrus.Warnf("Ignoring MQTT message: %v", err)
		return
	}

	if err := s.recorder.Authorize(strings.TrimSpace(string(msg.Payload()))); err != nil {
		logrus.Warnf("Rejected MQTT heartbeat for %s/%s: %v", parent, child, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.recorder.Heartbeat(ctx, parent, child); err != nil {
		logrus.Errorf("Failed to record MQTT heartbeat for %s/%s: %v", parent, child, err)
	}
}

// Shutdown disconnects from the broker
func (s *Subscriber) Shutdown() {
	if s.client == nil {
		return
	}
	logrus.Info("Disconnecting MQTT subscriber")
	s.client.Unsubscribe(s.Topic()).WaitTimeout(time.Second)
	s.client.Disconnect(250)
}

// ParseTopic extracts parent and child from <prefix>/<parent>/<child>
func ParseTopic(prefix, topic string) (parent, child string, err error) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", fmt.Errorf("topic %q is outside %q", topic, prefix)
	}

	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("topic %q must be %s<parent>/<child>", topic, prefix)
	}
	return parts[0], parts[1], nil
}

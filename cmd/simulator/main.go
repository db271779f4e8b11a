package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

const (
	defaultSiteCount      = 3
	defaultComponentCount = 4
	defaultIntervalSec    = 30
)

// component is one simulated reporter. A silent component skips heartbeats
// until silentUntil.
type component struct {
	site, name  string
	silentUntil time.Time
}

type sender func(ctx context.Context, c *component) error

func main() {
	// Get configuration from environment variables
	watchdogURL := getEnv("WATCHDOG_URL", "http://localhost:5000")
	broker := getEnv("MQTT_BROKER", "")
	topicPrefix := getEnv("MQTT_TOPIC_PREFIX", "watchdog/heartbeat")
	siteCount, _ := strconv.Atoi(getEnv("SITE_COUNT", fmt.Sprintf("%d", defaultSiteCount)))
	componentCount, _ := strconv.Atoi(getEnv("COMPONENT_COUNT", fmt.Sprintf("%d", defaultComponentCount)))
	intervalSec, _ := strconv.Atoi(getEnv("INTERVAL_SEC", fmt.Sprintf("%d", defaultIntervalSec)))
	outageSec, _ := strconv.Atoi(getEnv("OUTAGE_SEC", "600"))

	if intervalSec <= 0 {
		intervalSec = defaultIntervalSec
	}

	var components []*component
	for s := 1; s <= siteCount; s++ {
		for c := 1; c <= componentCount; c++ {
			components = append(components, &component{
				site: fmt.Sprintf("Site%d", s),
				name: fmt.Sprintf("PLC%d", c),
			})
		}
	}

	var send sender
	if broker != "" {
		client := connectToBroker(broker)
		defer client.Disconnect(250)
		send = mqttSender(client, topicPrefix, getEnv("WATCHDOG_API_KEY", ""))
		logrus.Infof("Publishing heartbeats to %s under %s", broker, topicPrefix)
	} else {
		send = httpSender(watchdogURL, getEnv("WATCHDOG_API_KEY", ""))
		logrus.Infof("Posting heartbeats to %s", watchdogURL)
	}

	logrus.Infof("Simulating %d sites with %d components each, heartbeat every %ds",
		siteCount, componentCount, intervalSec)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	for {
		now := time.Now()
		for _, c := range components {
			if now.Before(c.silentUntil) {
				continue
			}

			// Occasionally take a component offline long enough to raise an alert
			if rand.Intn(100) == 0 {
				c.silentUntil = now.Add(time.Duration(outageSec) * time.Second)
				logrus.Warnf("🔇 %s/%s goes silent until %s", c.site, c.name, c.silentUntil.Format(time.Kitchen))
				continue
			}

			if err := send(ctx, c); err != nil {
				logrus.Errorf("Error sending heartbeat for %s/%s: %v", c.site, c.name, err)
			}
		}

		select {
		case <-ctx.Done():
			logrus.Info("Simulator stopped")
			return
		case <-ticker.C:
		}
	}
}

// httpSender posts heartbeats to the watchdog API
func httpSender(baseURL, apiKey string) sender {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}

	return func(ctx context.Context, c *component) error {
		resp, err := client.R().
			SetContext(ctx).
			SetBody(models.HeartbeatRequest{ObjectName: c.site, SubObjectName: c.name}).
			Post("/api/heartbeat")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("server returned %s", resp.Status())
		}
		return nil
	}
}

// mqttSender publishes the API key (empty when none is set) on <prefix>/<site>/<component>
func mqttSender(client mqtt.Client, prefix, apiKey string) sender {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(ctx context.Context, c *component) error {
		token := client.Publish(fmt.Sprintf("%s/%s/%s", prefix, c.site, c.name), 1, false, apiKey)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("publish timed out")
		}
		return token.Error()
	}
}

// connectToBroker connects an MQTT publisher
func connectToBroker(broker string) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("tp-watchdog-simulator-%d", os.Getpid())).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatalf("Failed to connect to MQTT broker: %v", token.Error())
	}
	return client
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

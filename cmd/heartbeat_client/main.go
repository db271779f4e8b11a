package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/timeplus-io/tp-watchdog/pkg/api"
	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// heartbeat_client reports a component as alive by posting a heartbeat
// every interval until interrupted, or once with --once.
func main() {
	// Setup logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetOutput(os.Stdout)

	server := pflag.String("server", "http://localhost:5000", "watchdog base URL")
	object := pflag.String("object", "", "parent name (site or program)")
	subObject := pflag.String("sub-object", "", "component name")
	apiKey := pflag.String("api-key", "", "ingestion API key, if the server requires one")
	interval := pflag.Duration("interval", 60*time.Second, "time between heartbeats")
	once := pflag.Bool("once", false, "send a single heartbeat and exit")
	pflag.Parse()

	if *object == "" || *subObject == "" {
		fmt.Fprintln(os.Stderr, "--object and --sub-object are required")
		pflag.Usage()
		os.Exit(2)
	}

	client := resty.New().
		SetBaseURL(*server).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if *apiKey != "" {
		client.SetHeader(api.APIKeyHeader, *apiKey)
	}

	req := models.HeartbeatRequest{ObjectName: *object, SubObjectName: *subObject}
	send := func(ctx context.Context) error {
		resp, err := client.R().
			SetContext(ctx).
			SetBody(req).
			Post("/api/heartbeat")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("server returned %s: %s", resp.Status(), resp.String())
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := send(ctx); err != nil {
			logrus.Fatalf("Failed to send heartbeat: %v", err)
		}
		fmt.Println("✅ Heartbeat sent")
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := send(ctx); err != nil {
			logrus.Errorf("Failed to send heartbeat for %s/%s: %v", *object, *subObject, err)
		} else {
			logrus.Debugf("Heartbeat sent for %s/%s", *object, *subObject)
		}

		select {
		case <-ctx.Done():
			logrus.Info("Stopping heartbeat client")
			return
		case <-ticker.C:
		}
	}
}

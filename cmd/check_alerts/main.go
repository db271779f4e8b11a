package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
	"github.com/timeplus-io/tp-watchdog/pkg/timeplus"
)

// check_alerts prints the most recent entries of the alert journal
func main() {
	configPath := pflag.String("config", "", "path to config file")
	limit := pflag.Int("limit", 10, "number of alerts to show")
	pflag.Parse()

	logrus.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig(*configPath, nil)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	client, err := timeplus.NewClient(&cfg.Timeplus)
	if err != nil {
		logrus.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	journal, err := timeplus.NewJournal(ctx, client, cfg.Timeplus.Stream)
	if err != nil {
		logrus.Fatalf("Failed to open alert journal: %v", err)
	}

	fmt.Printf("Checking %s for alerts...\n", cfg.Timeplus.Stream)
	alerts, err := journal.Recent(ctx, *limit)
	if err != nil {
		logrus.Fatalf("Failed to query alerts: %v", err)
	}

	for _, alert := range alerts {
		fmt.Printf("%s  %-9s  %s", alert.TriggeredAt.Format(time.RFC3339), alert.Kind, alert.Message)
		if !alert.Delivered {
			fmt.Printf("  (not delivered: %s)", alert.LastError)
		}
		fmt.Println()
	}

	if len(alerts) == 0 {
		fmt.Println("No alerts found")
	} else {
		fmt.Printf("Found %d alerts\n", len(alerts))
	}
}

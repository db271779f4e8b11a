package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/timeplus-io/tp-watchdog/pkg/api"
	"github.com/timeplus-io/tp-watchdog/pkg/config"
	"github.com/timeplus-io/tp-watchdog/pkg/ingest"
	"github.com/timeplus-io/tp-watchdog/pkg/lease"
	"github.com/timeplus-io/tp-watchdog/pkg/notifier"
	"github.com/timeplus-io/tp-watchdog/pkg/services"
	"github.com/timeplus-io/tp-watchdog/pkg/store"
	"github.com/timeplus-io/tp-watchdog/pkg/timeplus"
)

// @title Timeplus Watchdog API
// @version 1.0
// @description Heartbeat monitoring for sites and their components
// @BasePath /api

// setLogLevel configures logrus from the LOG_LEVEL environment variable,
// falling back to the configured level
func setLogLevel(cfg *config.LogConfig) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = cfg.Level
	}

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel) // Default to Info
	}

	if strings.ToLower(cfg.Format) == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.Infof("Log level set to: %s", logrus.GetLevel().String())
}

func main() {
	// Parse command line flags
	flags := pflag.NewFlagSet("tp-watchdog", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	flags.String("port", "", "HTTP listen port")
	flags.Int("check-interval", 0, "seconds between status checks")
	flags.Int("allowed-delay", 0, "seconds a component may stay silent before it is inactive")
	flags.String("store-driver", "", "heartbeat store driver (sqlite or postgres)")
	flags.String("db", "", "path of the SQLite database")
	flags.String("log-level", "", "log level")
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadConfig(*configPath, flags)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	setLogLevel(&cfg.Log)

	if cfg.Monitor.CheckInterval <= 0 || cfg.Monitor.AllowedDelay <= 0 {
		logrus.Fatalf("checkInterval and allowedDelay must be positive (got %d and %d)",
			cfg.Monitor.CheckInterval, cfg.Monitor.AllowedDelay)
	}

	st, err := store.Open(&cfg.Store)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}

	ctx := context.Background()
	n := notifier.New(&cfg.Telegram)

	var (
		monitorOpts []services.MonitorOption
		serviceOpts = []services.ServiceOption{services.WithAPIKeys(cfg.Security.APIKeys)}
		tpClient    *timeplus.Client
	)

	// Alert journal in a Timeplus stream
	if cfg.Timeplus.Enabled {
		tpClient, err = timeplus.NewClient(&cfg.Timeplus)
		if err != nil {
			logrus.Fatalf("Failed to create Timeplus client: %v", err)
		}
		journal, err := timeplus.NewJournal(ctx, tpClient, cfg.Timeplus.Stream)
		if err != nil {
			logrus.Fatalf("Failed to set up alert journal: %v", err)
		}
		monitorOpts = append(monitorOpts, services.WithJournal(journal))
		serviceOpts = append(serviceOpts, services.WithAlertHistory(journal))
		logrus.Infof("Alert journal enabled (stream: %s)", cfg.Timeplus.Stream)
	}

	// Scheduler lease so only one replica evaluates per tick
	if cfg.Redis.Enabled {
		rdb, err := lease.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		l := lease.NewRedisLease(rdb, cfg.Redis.LeaseKey, time.Duration(cfg.Redis.LeaseTTL)*time.Second)
		monitorOpts = append(monitorOpts, services.WithLease(l))
		logrus.Infof("Scheduler lease enabled (key: %s, owner: %s)", cfg.Redis.LeaseKey, l.Owner())
	}

	watchdog := services.NewWatchdogService(st, cfg.Monitor.AllowedDelayDuration(), serviceOpts...)

	monitor := services.NewMonitor(st, n,
		cfg.Monitor.CheckIntervalDuration(), cfg.Monitor.AllowedDelayDuration(), monitorOpts...)
	monitor.Start(ctx)
	logrus.Infof("Monitor started (interval: %ds, allowed delay: %ds)",
		cfg.Monitor.CheckInterval, cfg.Monitor.AllowedDelay)

	var subscriber *ingest.Subscriber
	if cfg.MQTT.Enabled {
		subscriber = ingest.NewSubscriber(&cfg.MQTT, watchdog)
		if err := subscriber.Start(ctx); err != nil {
			logrus.Fatalf("Failed to start MQTT subscriber: %v", err)
		}
	}

	// Set up the Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// API routes
	apiHandler := api.NewAPIHandler(watchdog)
	apiHandler.SetupRoutes(e)

	// Swagger documentation
	e.GET("/swagger/*", echo.WrapHandler(httpSwagger.Handler()))

	origins := strings.Split(cfg.Server.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", api.APIKeyHeader},
	}).Handler(e)

	// Use PORT environment variable if available, otherwise use config
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logrus.Infof("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	if subscriber != nil {
		subscriber.Shutdown()
	}

	monitor.Shutdown()
	logrus.Info("Monitor shutdown complete")

	// Create a deadline for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	if err := st.Close(); err != nil {
		logrus.Errorf("Failed to close store: %v", err)
	}
	if tpClient != nil {
		if err := tpClient.Close(); err != nil {
			logrus.Errorf("Failed to close Timeplus client: %v", err)
		}
	}

	logrus.Info("Server exited properly")
}

package config

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Store    StoreConfig    `mapstructure:"store"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Timeplus TimeplusConfig `mapstructure:"timeplus"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	AllowedOrigins  string `mapstructure:"allowedOrigins"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
}

// MonitorConfig holds the freshness threshold and poll interval, both in seconds.
// They are fixed for the lifetime of the process.
type MonitorConfig struct {
	CheckInterval int `mapstructure:"checkInterval"`
	AllowedDelay  int `mapstructure:"allowedDelay"`
}

// CheckIntervalDuration returns the scheduler period
func (m MonitorConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(m.CheckInterval) * time.Second
}

// AllowedDelayDuration returns the freshness threshold
func (m MonitorConfig) AllowedDelayDuration() time.Duration {
	return time.Duration(m.AllowedDelay) * time.Second
}

// StoreConfig selects and configures the heartbeat store
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"` // sqlite or postgres
	Path     string         `mapstructure:"path"`
	PoolSize int            `mapstructure:"poolSize"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds the Postgres connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MaxIdle  int    `mapstructure:"maxIdle"`
}

// TelegramConfig holds the Telegram Bot API settings
type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	ChatID  string `mapstructure:"chatId"`
	BaseURL string `mapstructure:"baseUrl"`
	Timeout int    `mapstructure:"timeout"`
}

// TimeplusConfig holds the Timeplus connection configuration for the alert journal
type TimeplusConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	Username  string `mapstructure:"username"`
	Workspace string `mapstructure:"workspace"`
	Stream    string `mapstructure:"stream"`
}

// MQTTConfig holds the MQTT heartbeat ingestion settings
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"clientId"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topicPrefix"`
	QoS         byte   `mapstructure:"qos"`
}

// RedisConfig holds the scheduler lease settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LeaseKey string `mapstructure:"leaseKey"`
	LeaseTTL int    `mapstructure:"leaseTTL"` // seconds
}

// SecurityConfig holds the optional ingestion API keys
type SecurityConfig struct {
	APIKeys []string `mapstructure:"apiKeys"`
}

// LogConfig controls the logrus formatter
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps config keys onto the environment variables used by earlier deployments
var legacyEnv = map[string]string{
	"telegram.token":        "TELEGRAM_BOT_TOKEN",
	"telegram.chatId":       "TELEGRAM_CHAT_ID",
	"monitor.checkInterval": "CHECK_INTERVAL",
	"monitor.allowedDelay":  "ALLOWED_DELAY",
}

// flagKeys maps command line flag names onto config keys
var flagKeys = map[string]string{
	"port":           "server.port",
	"check-interval": "monitor.checkInterval",
	"allowed-delay":  "monitor.allowedDelay",
	"store-driver":   "store.driver",
	"db":             "store.path",
	"log-level":      "log.level",
}

// LoadConfig loads the application configuration from file, flags or environment variables
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	var config Config
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.shutdownTimeout", 10)
	v.SetDefault("monitor.checkInterval", 30)
	v.SetDefault("monitor.allowedDelay", 300)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "monitoring.db")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.sslMode", "disable")
	v.SetDefault("telegram.baseUrl", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", 10)
	v.SetDefault("timeplus.address", "localhost:8464")
	v.SetDefault("timeplus.workspace", "default")
	v.SetDefault("timeplus.stream", "watchdog_alerts")
	v.SetDefault("mqtt.clientId", "tp-watchdog")
	v.SetDefault("mqtt.topicPrefix", "watchdog/heartbeat")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.leaseKey", "tp-watchdog:scheduler")
	v.SetDefault("redis.leaseTTL", 90)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Allow environment variables to override config file
	v.SetEnvPrefix("WATCHDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "WATCHDOG_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, err
				}
			}
		}
	}

	// If config file is provided, read it
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			logrus.Warnf("Error reading config file: %v", err)
		}
	}

	// Unmarshal config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
